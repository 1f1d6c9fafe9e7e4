package watcher

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/common/clock"
	"github.com/openpay-labs/payment-monitor/common/tasks"
	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/electrum"
)

// Watcher is the single in-process actor of the monitor. Inbound
// pushes, poll ticks and manual triggers all funnel into one dispatch
// loop, so observations for different addresses are processed strictly
// one at a time.
type Watcher struct {
	session  *Session
	registry *Registry
	resolver *Resolver
	ledger   *Ledger
	params   *chaincfg.Params

	pollTrigger chan struct{}
	pollLoop    *clock.LoopFn
	cfg         config.IndexerConfig

	resourceCtx    context.Context
	resourceCancel context.CancelFunc
	tasks          tasks.Group
}

func NewWatcher(cfg config.IndexerConfig, session *Session, registry *Registry, resolver *Resolver, ledger *Ledger, shutdown context.CancelCauseFunc) *Watcher {
	resCtx, resCancel := context.WithCancel(context.Background())
	return &Watcher{
		session:        session,
		registry:       registry,
		resolver:       resolver,
		ledger:         ledger,
		params:         cfg.ChainParams(),
		pollTrigger:    make(chan struct{}, 1),
		cfg:            cfg,
		resourceCtx:    resCtx,
		resourceCancel: resCancel,
		tasks: tasks.Group{HandleCrit: func(err error) {
			shutdown(fmt.Errorf("critical error in watcher: %w", err))
		}},
	}
}

func (w *Watcher) Start(ctx context.Context) error {
	log.Info("starting watcher...", "pollInterval", w.cfg.PollInterval)
	w.session.Connect(ctx)

	w.tasks.Go(func() error {
		w.dispatchLoop()
		return nil
	})

	w.pollLoop = clock.NewLoopFn(clock.SystemClock, func(ctx context.Context) {
		w.TriggerSweep()
	}, nil, w.cfg.PollInterval)
	return nil
}

func (w *Watcher) Close() error {
	if w.pollLoop != nil {
		if err := w.pollLoop.Close(); err != nil {
			log.Error("close poll loop fail", "err", err)
		}
	}
	w.session.Disconnect()
	w.resourceCancel()
	return w.tasks.Wait()
}

// WatchAddress validates and registers an address for a payment link,
// then subscribes it on the live session.
func (w *Watcher) WatchAddress(ctx context.Context, address string, meta WatchedAddress) error {
	if _, err := btcutil.DecodeAddress(address, w.params); err != nil {
		return fmt.Errorf("invalid %s address %q: %w", w.params.Name, address, err)
	}
	w.registry.Watch(address, meta)
	w.session.Subscribe(ctx, address)
	return nil
}

// WatchContract is WatchAddress for deployed contract instances.
func (w *Watcher) WatchContract(ctx context.Context, address string, meta WatchedAddress) error {
	if _, err := btcutil.DecodeAddress(address, w.params); err != nil {
		return fmt.Errorf("invalid %s address %q: %w", w.params.Name, address, err)
	}
	w.registry.WatchContract(address, meta)
	w.session.Subscribe(ctx, address)
	return nil
}

func (w *Watcher) Unwatch(address string) {
	w.registry.Unwatch(address)
}

// TriggerSweep requests one fallback poll sweep. Coalesces with an
// already-pending trigger.
func (w *Watcher) TriggerSweep() {
	select {
	case w.pollTrigger <- struct{}{}:
	default:
	}
}

// dispatchLoop is the single-threaded heart of the monitor: push
// notifications and poll sweeps interleave here, never run in
// parallel.
func (w *Watcher) dispatchLoop() {
	for {
		select {
		case notification, ok := <-w.session.Notifications():
			if !ok {
				return
			}
			w.handleNotification(notification)
		case <-w.pollTrigger:
			w.sweep()
		case <-w.resourceCtx.Done():
			return
		}
	}
}

func (w *Watcher) handleNotification(notification electrum.AddressNotification) {
	meta, ok := w.registry.Lookup(notification.Address)
	if !ok {
		log.Debug("push for unwatched address", "address", notification.Address)
		return
	}
	w.observe(meta)
}

// sweep drives the same resolve-then-record path as the push handler
// over a snapshot of the registry. The ledger's idempotent merge makes
// the two paths safe to interleave in any order.
func (w *Watcher) sweep() {
	snapshot := w.registry.Snapshot()
	for _, meta := range snapshot {
		select {
		case <-w.resourceCtx.Done():
			return
		default:
		}
		w.observe(meta)
	}
	log.Debug("poll sweep complete", "addresses", len(snapshot))
}

func (w *Watcher) observe(meta WatchedAddress) {
	receipt := w.resolver.Resolve(w.resourceCtx, meta.Address)
	if !receipt.Received {
		return
	}
	if err := w.ledger.Record(w.resourceCtx, meta, receipt); err != nil {
		log.Error("record settlement fail", "address", meta.Address, "txHash", receipt.TxHash, "err", err)
	}
}
