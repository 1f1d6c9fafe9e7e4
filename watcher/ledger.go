package watcher

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/database"
	"github.com/openpay-labs/payment-monitor/notifier"
)

// EventSink receives settlement events for webhook delivery. Delivery
// outcomes never feed back into the ledger: a payment is settled even
// if every notification attempt fails.
type EventSink interface {
	Deliver(merchantId uuid.UUID, eventType string, event notifier.PaymentEvent)
}

// RateSource provides a best-effort USD rate stamped onto new
// settlement records.
type RateSource interface {
	USDRate(ctx context.Context) (decimal.Decimal, error)
}

// Ledger records transfers exactly once and decides their settlement
// status. The unique index on tx_hash is the real synchronization
// point: duplicate observations from the push and poll paths, or from
// concurrent instances, collapse onto one row and then merge
// monotonically.
type Ledger struct {
	settlements database.SettlementsDB
	links       database.PaymentLinksDB
	registry    *Registry
	events      EventSink
	rates       RateSource

	zeroConfThreshold int64
}

func NewLedger(settlements database.SettlementsDB, links database.PaymentLinksDB, registry *Registry, events EventSink, rates RateSource, cfg config.SettlementConfig) *Ledger {
	return &Ledger{
		settlements:       settlements,
		links:             links,
		registry:          registry,
		events:            events,
		rates:             rates,
		zeroConfThreshold: cfg.ZeroConfThreshold,
	}
}

// Record merges or inserts the observation described by the receipt.
// Re-applying the same observation in any order never regresses state:
// confirmations only move forward and status only strengthens from
// Pending toward Confirmed.
func (l *Ledger) Record(ctx context.Context, watch WatchedAddress, receipt Receipt) error {
	existing, err := l.settlements.QuerySettlementByTxHash(receipt.TxHash)
	if err != nil {
		log.Error("query settlement fail", "txHash", receipt.TxHash, "err", err)
		return err
	}
	if existing != nil {
		return l.merge(existing, receipt)
	}

	status := l.initialStatus(receipt.Amount, receipt.Confirmations)
	settlement := &database.Settlements{
		GUID:          uuid.New(),
		TxHash:        receipt.TxHash,
		OwnerID:       watch.OwnerID,
		MerchantID:    watch.MerchantID,
		FromAddress:   receipt.FromTxId,
		ToAddress:     watch.Address,
		Amount:        receipt.Amount,
		Confirmations: receipt.Confirmations,
		Status:        status,
		UsdRate:       l.usdRate(ctx),
		Timestamp:     uint64(time.Now().Unix()),
	}
	inserted, err := l.settlements.StoreSettlement(settlement)
	if err != nil {
		return err
	}
	if !inserted {
		// Lost the insert race against a concurrent observer; fall back
		// to the merge path on the winning row.
		winner, err := l.settlements.QuerySettlementByTxHash(receipt.TxHash)
		if err != nil || winner == nil {
			return err
		}
		return l.merge(winner, receipt)
	}

	log.Info("settlement recorded",
		"txHash", receipt.TxHash, "address", watch.Address,
		"amount", receipt.Amount, "confirmations", receipt.Confirmations, "status", status)

	if err := l.applyOwnerEffects(watch); err != nil {
		log.Error("apply owner side effects fail", "owner", watch.OwnerID, "err", err)
	}

	l.dispatch(watch, settlement, status)
	return nil
}

// merge updates an existing row with a fresher observation. Stale or
// duplicate observations are no-ops. Crossing the one-confirmation
// boundary on a previously pending row dispatches a single
// payment.confirmed event; this re-notification is deliberate, so the
// merchant learns when a large zero-conf payment becomes spendable.
func (l *Ledger) merge(existing *database.Settlements, receipt Receipt) error {
	if receipt.Confirmations <= existing.Confirmations {
		return nil
	}
	status := existing.Status
	if receipt.Confirmations >= 1 {
		status = database.SettlementStatusConfirmed
	}
	if err := l.settlements.UpdateSettlementConfirms(existing.TxHash, receipt.Confirmations, status); err != nil {
		log.Error("update settlement confirms fail", "txHash", existing.TxHash, "err", err)
		return err
	}
	if existing.Status == database.SettlementStatusPending && status == database.SettlementStatusConfirmed {
		watch, ok := l.registry.Lookup(existing.ToAddress)
		if !ok {
			watch = WatchedAddress{
				Address:    existing.ToAddress,
				OwnerID:    existing.OwnerID,
				MerchantID: existing.MerchantID,
			}
		}
		updated := *existing
		updated.Confirmations = receipt.Confirmations
		updated.Status = status
		l.dispatch(watch, &updated, status)
	}
	return nil
}

// initialStatus applies the zero-conf policy: small transfers are
// accepted immediately at the merchant's risk tolerance, larger ones
// wait for inclusion in a block.
func (l *Ledger) initialStatus(amount int64, confirmations uint64) uint8 {
	if confirmations >= 1 {
		return database.SettlementStatusConfirmed
	}
	if amount <= l.zeroConfThreshold {
		return database.SettlementStatusConfirmed
	}
	return database.SettlementStatusPending
}

func (l *Ledger) applyOwnerEffects(watch WatchedAddress) error {
	switch watch.UseMode {
	case database.UseModeSingle:
		if err := l.links.DeactivateLink(watch.OwnerID); err != nil {
			return err
		}
		l.registry.Unwatch(watch.Address)
		log.Info("single-use link deactivated", "owner", watch.OwnerID, "address", watch.Address)
	case database.UseModeRecurring:
		if err := l.links.IncrementPayCount(watch.OwnerID, uint64(time.Now().Unix())); err != nil {
			return err
		}
	}
	return nil
}

func (l *Ledger) dispatch(watch WatchedAddress, settlement *database.Settlements, status uint8) {
	eventType := notifier.EventPaymentReceived
	statusName := "pending"
	if status == database.SettlementStatusConfirmed {
		eventType = notifier.EventPaymentConfirmed
		statusName = "confirmed"
	}
	l.events.Deliver(watch.MerchantID, eventType, notifier.PaymentEvent{
		TxHash:        settlement.TxHash,
		Address:       settlement.ToAddress,
		OwnerID:       settlement.OwnerID.String(),
		MerchantID:    settlement.MerchantID.String(),
		Amount:        settlement.Amount,
		Confirmations: settlement.Confirmations,
		Status:        statusName,
		UsdRate:       settlement.UsdRate.String(),
	})
}

func (l *Ledger) usdRate(ctx context.Context) decimal.Decimal {
	if l.rates == nil {
		return decimal.Zero
	}
	rate, err := l.rates.USDRate(ctx)
	if err != nil {
		return decimal.Zero
	}
	return rate
}
