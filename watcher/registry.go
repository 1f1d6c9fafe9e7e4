package watcher

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/database"
)

// WatchedAddress is the subscriber metadata of one monitored address.
// Never persisted; the registry is rebuilt from payment links at
// startup.
type WatchedAddress struct {
	Address        string
	OwnerKind      string
	OwnerID        uuid.UUID
	MerchantID     uuid.UUID
	ExpectedAmount int64
	UseMode        uint8
}

// Registry is the in-memory map of addresses currently being
// monitored. Reads during reconnect re-subscription and poll sweeps go
// through Snapshot, so mutation during iteration cannot happen.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]WatchedAddress
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]WatchedAddress)}
}

func (r *Registry) Watch(address string, meta WatchedAddress) {
	meta.Address = address
	if meta.OwnerKind == "" {
		meta.OwnerKind = database.OwnerKindPaymentLink
	}
	r.mu.Lock()
	r.entries[address] = meta
	r.mu.Unlock()
}

// WatchContract registers a deployed contract instance address instead
// of a plain payment link.
func (r *Registry) WatchContract(address string, meta WatchedAddress) {
	meta.OwnerKind = database.OwnerKindContractInstance
	r.Watch(address, meta)
}

func (r *Registry) Unwatch(address string) {
	r.mu.Lock()
	delete(r.entries, address)
	r.mu.Unlock()
}

func (r *Registry) Lookup(address string) (WatchedAddress, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	meta, ok := r.entries[address]
	return meta, ok
}

// Snapshot returns a point-in-time copy of all entries.
func (r *Registry) Snapshot() []WatchedAddress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snapshot := make([]WatchedAddress, 0, len(r.entries))
	for _, meta := range r.entries {
		snapshot = append(snapshot, meta)
	}
	return snapshot
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// LoadFundable rebuilds watch coverage from every active payment link.
func (r *Registry) LoadFundable(links database.PaymentLinksView) error {
	fundable, err := links.QueryFundableLinks()
	if err != nil {
		log.Error("query fundable links fail", "err", err)
		return err
	}
	for _, link := range fundable {
		r.Watch(link.Address, WatchedAddress{
			OwnerKind:      link.OwnerKind,
			OwnerID:        link.GUID,
			MerchantID:     link.MerchantID,
			ExpectedAmount: link.ExpectedAmount,
			UseMode:        link.UseMode,
		})
	}
	log.Info("watch registry bootstrapped", "addresses", len(fundable))
	return nil
}
