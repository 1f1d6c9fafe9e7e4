package payment_monitor

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/database"
	"github.com/openpay-labs/payment-monitor/electrum"
	"github.com/openpay-labs/payment-monitor/notifier"
	"github.com/openpay-labs/payment-monitor/rates"
	"github.com/openpay-labs/payment-monitor/watcher"
)

// PaymentMonitor is the process-wide service instance: one database,
// one dispatcher, one watcher actor. Constructed once at startup and
// injected where needed; no package-level mutable state.
type PaymentMonitor struct {
	db         *database.DB
	dispatcher *notifier.Dispatcher
	watcher    *watcher.Watcher

	shutdown context.CancelCauseFunc
	stopped  atomic.Bool
}

func NewPaymentMonitor(ctx context.Context, cfg *config.Config, shutdown context.CancelCauseFunc) (*PaymentMonitor, error) {
	db, err := database.NewDB(ctx, cfg.MasterDB)
	if err != nil {
		log.Error("init database fail", "err", err)
		return nil, err
	}

	rateSource, err := rates.NewSource(cfg.Rates)
	if err != nil {
		return nil, err
	}

	dispatcher := notifier.NewDispatcher(db.Webhooks, db.Merchants, cfg.Webhook, shutdown)

	registry := watcher.NewRegistry()
	if err := registry.LoadFundable(db.PaymentLinks); err != nil {
		return nil, err
	}

	dial := func(ctx context.Context, onError func(err error)) (watcher.ChainClient, error) {
		return electrum.Dial(ctx, cfg.Indexer.Endpoint, cfg.Indexer.EnableTLS, onError)
	}
	session := watcher.NewSession(cfg.Indexer, dial, registry)
	resolver := watcher.NewResolver(session)
	ledger := watcher.NewLedger(db.Settlements, db.PaymentLinks, registry, dispatcher, rateSource, cfg.Settlement)

	return &PaymentMonitor{
		db:         db,
		dispatcher: dispatcher,
		watcher:    watcher.NewWatcher(cfg.Indexer, session, registry, resolver, ledger, shutdown),
		shutdown:   shutdown,
	}, nil
}

func (pm *PaymentMonitor) Start(ctx context.Context) error {
	return pm.watcher.Start(ctx)
}

func (pm *PaymentMonitor) Stop(ctx context.Context) error {
	var result error
	if err := pm.watcher.Close(); err != nil {
		result = errors.Join(result, err)
	}
	if err := pm.dispatcher.Close(); err != nil {
		result = errors.Join(result, err)
	}
	if err := pm.db.Close(); err != nil {
		result = errors.Join(result, err)
	}
	pm.stopped.Store(true)
	return result
}

func (pm *PaymentMonitor) Stopped() bool {
	return pm.stopped.Load()
}
