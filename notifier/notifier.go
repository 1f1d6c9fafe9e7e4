package notifier

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	gresty "github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/common/tasks"
	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/database"
)

// Dispatcher delivers settlement events to merchant webhook endpoints
// with HMAC authentication and bounded exponential-backoff retries.
// Delivery is fire-and-forget from the caller's perspective; outcomes
// land in the webhooks table, never back in the settlement path.
type Dispatcher struct {
	webhooks  database.WebhooksDB
	merchants database.MerchantsView
	cfg       config.WebhookConfig
	client    *gresty.Client

	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
}

func NewDispatcher(webhooks database.WebhooksDB, merchants database.MerchantsView, cfg config.WebhookConfig, shutdown context.CancelCauseFunc) *Dispatcher {
	client := gresty.New()
	client.SetTimeout(cfg.Timeout)

	resCtx, resCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		webhooks:       webhooks,
		merchants:      merchants,
		cfg:            cfg,
		client:         client,
		resourceCtx:    resCtx,
		resourceCancel: resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			shutdown(fmt.Errorf("critical error in notifier: %w", err))
		}},
	}
}

func (d *Dispatcher) Close() error {
	d.resourceCancel()
	return d.tasks.Wait()
}

// Deliver dispatches one settlement event asynchronously. A merchant
// without a configured endpoint is a no-op.
func (d *Dispatcher) Deliver(merchantId uuid.UUID, eventType string, event PaymentEvent) {
	d.tasks.Go(func() error {
		d.deliver(merchantId, eventType, event)
		return nil
	})
}

func (d *Dispatcher) deliver(merchantId uuid.UUID, eventType string, event PaymentEvent) {
	merchant, err := d.merchants.QueryMerchantByGuid(merchantId)
	if err != nil {
		log.Error("query merchant fail", "merchant", merchantId, "err", err)
		return
	}
	if merchant == nil || merchant.WebhookUrl == "" {
		log.Debug("merchant has no webhook endpoint", "merchant", merchantId)
		return
	}
	secret := merchant.WebhookSecret
	if secret == "" {
		secret = d.cfg.Secret
	}

	deliveryId := uuid.New()
	body, err := json.Marshal(webhookBody{
		Event:     eventType,
		Data:      event,
		Timestamp: time.Now().Unix(),
		WebhookId: deliveryId.String(),
	})
	if err != nil {
		log.Error("marshal webhook body fail", "err", err)
		return
	}

	attempt := &database.Webhooks{
		GUID:       deliveryId,
		MerchantID: merchantId,
		EventType:  eventType,
		Payload:    body,
		Status:     database.WebhookStatusPending,
		Timestamp:  uint64(time.Now().Unix()),
	}
	if err := d.webhooks.StoreWebhook(attempt); err != nil {
		// Without a durable attempt record we still try to deliver; the
		// settlement itself is already recorded either way.
		log.Error("store webhook attempt fail", "delivery", deliveryId, "err", err)
	}

	d.attemptLoop(merchant.WebhookUrl, secret, eventType, deliveryId, body)
}

// attemptLoop runs the bounded retry sequence. Each network try
// persists its attempt count and timestamp before any backoff sleep,
// so partial progress survives a crash mid-retry.
func (d *Dispatcher) attemptLoop(url, secret, eventType string, deliveryId uuid.UUID, body []byte) {
	signature := Sign(secret, body)
	for attempt := 1; attempt <= d.cfg.MaxRetries; attempt++ {
		err := d.post(url, signature, eventType, deliveryId, body)
		now := uint64(time.Now().Unix())
		if err == nil {
			if dbErr := d.webhooks.UpdateWebhookStatus(deliveryId, database.WebhookStatusDelivered, uint8(attempt), now); dbErr != nil {
				log.Error("record webhook delivery fail", "delivery", deliveryId, "err", dbErr)
			}
			log.Info("webhook delivered", "delivery", deliveryId, "event", eventType, "attempts", attempt)
			return
		}
		log.Warn("webhook attempt fail", "delivery", deliveryId, "attempt", attempt, "err", err)

		if attempt == d.cfg.MaxRetries {
			if dbErr := d.webhooks.UpdateWebhookStatus(deliveryId, database.WebhookStatusFailed, uint8(attempt), now); dbErr != nil {
				log.Error("record webhook failure fail", "delivery", deliveryId, "err", dbErr)
			}
			log.Error("webhook delivery exhausted", "delivery", deliveryId, "event", eventType, "attempts", attempt)
			return
		}
		if dbErr := d.webhooks.UpdateWebhookAttempt(deliveryId, uint8(attempt), now); dbErr != nil {
			log.Error("record webhook attempt fail", "delivery", deliveryId, "err", dbErr)
		}

		backoff := d.cfg.RetryDelay << (attempt - 1)
		select {
		case <-d.resourceCtx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (d *Dispatcher) post(url, signature, eventType string, deliveryId uuid.UUID, body []byte) error {
	res, err := d.client.R().
		SetContext(d.resourceCtx).
		SetHeader("Content-Type", "application/json").
		SetHeader(HeaderSignature, signature).
		SetHeader(HeaderEvent, eventType).
		SetHeader(HeaderDelivery, deliveryId.String()).
		SetBody(body).
		Post(url)
	if err != nil {
		return err
	}
	if !res.IsSuccess() {
		return fmt.Errorf("endpoint returned %d", res.StatusCode())
	}
	return nil
}

// Sign computes the signature header value over the exact serialized
// body bytes.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
