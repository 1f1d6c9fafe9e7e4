package watcher

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/openpay-labs/payment-monitor/database"
	"github.com/openpay-labs/payment-monitor/electrum"
	"github.com/openpay-labs/payment-monitor/notifier"
)

type fakeSettlements struct {
	mu   sync.Mutex
	rows map[string]*database.Settlements
}

func newFakeSettlements() *fakeSettlements {
	return &fakeSettlements{rows: make(map[string]*database.Settlements)}
}

func (f *fakeSettlements) QuerySettlementByTxHash(txHash string) (*database.Settlements, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[txHash]
	if !ok {
		return nil, nil
	}
	copied := *row
	return &copied, nil
}

func (f *fakeSettlements) QuerySettlementsByMerchant(merchantId uuid.UUID) ([]database.Settlements, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.Settlements
	for _, row := range f.rows {
		if row.MerchantID == merchantId {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (f *fakeSettlements) StoreSettlement(settlement *database.Settlements) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.rows[settlement.TxHash]; exists {
		return false, nil
	}
	copied := *settlement
	f.rows[settlement.TxHash] = &copied
	return true, nil
}

func (f *fakeSettlements) UpdateSettlementConfirms(txHash string, confirmations uint64, status uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	row, ok := f.rows[txHash]
	if !ok || row.Confirmations >= confirmations {
		return nil
	}
	row.Confirmations = confirmations
	row.Status = status
	return nil
}

func (f *fakeSettlements) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

type fakeLinks struct {
	mu          sync.Mutex
	links       map[uuid.UUID]*database.PaymentLinks
	deactivated map[uuid.UUID]int
}

func newFakeLinks(links ...*database.PaymentLinks) *fakeLinks {
	f := &fakeLinks{
		links:       make(map[uuid.UUID]*database.PaymentLinks),
		deactivated: make(map[uuid.UUID]int),
	}
	for _, link := range links {
		f.links[link.GUID] = link
	}
	return f
}

func (f *fakeLinks) QueryPaymentLinkByGuid(guid uuid.UUID) (*database.PaymentLinks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[guid], nil
}

func (f *fakeLinks) QueryFundableLinks() ([]database.PaymentLinks, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.PaymentLinks
	for _, link := range f.links {
		if link.Active {
			out = append(out, *link)
		}
	}
	return out, nil
}

func (f *fakeLinks) StorePaymentLink(link *database.PaymentLinks) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.links[link.GUID] = link
	return nil
}

func (f *fakeLinks) DeactivateLink(guid uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deactivated[guid]++
	if link, ok := f.links[guid]; ok {
		link.Active = false
	}
	return nil
}

func (f *fakeLinks) IncrementPayCount(guid uuid.UUID, paidAt uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if link, ok := f.links[guid]; ok {
		link.PayCount++
		link.LastPaidAt = paidAt
	}
	return nil
}

type delivered struct {
	merchantId uuid.UUID
	eventType  string
	event      notifier.PaymentEvent
}

type fakeSink struct {
	mu     sync.Mutex
	events []delivered
}

func (f *fakeSink) Deliver(merchantId uuid.UUID, eventType string, event notifier.PaymentEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, delivered{merchantId: merchantId, eventType: eventType, event: event})
}

func (f *fakeSink) all() []delivered {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]delivered(nil), f.events...)
}

type fakeRates struct {
	rate decimal.Decimal
}

func (f *fakeRates) USDRate(ctx context.Context) (decimal.Decimal, error) {
	return f.rate, nil
}

// fakeChain implements ChainReader with canned responses.
type fakeChain struct {
	mu      sync.Mutex
	history map[string][]electrum.HistoryItem
	txs     map[string]*electrum.Transaction
	tip     int64

	historyErr error
	txErr      error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		history: make(map[string][]electrum.HistoryItem),
		txs:     make(map[string]*electrum.Transaction),
	}
}

func (f *fakeChain) GetHistory(ctx context.Context, address string) ([]electrum.HistoryItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.history[address], nil
}

func (f *fakeChain) GetTransaction(ctx context.Context, txHash string) (*electrum.Transaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.txErr != nil {
		return nil, f.txErr
	}
	return f.txs[txHash], nil
}

func (f *fakeChain) TipHeight() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip
}

// fakeClient implements ChainClient for session tests. When chain is
// set, reads are served from its canned data.
type fakeClient struct {
	mu         sync.Mutex
	subscribed []string
	subErr     error
	notifs     chan electrum.AddressNotification
	closeOnce  sync.Once
	chain      *fakeChain
}

func newFakeClient() *fakeClient {
	return &fakeClient{notifs: make(chan electrum.AddressNotification, 16)}
}

func (f *fakeClient) SubscribeAddress(ctx context.Context, address string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return "", f.subErr
	}
	f.subscribed = append(f.subscribed, address)
	return "", nil
}

func (f *fakeClient) GetHistory(ctx context.Context, address string) ([]electrum.HistoryItem, error) {
	if f.chain == nil {
		return nil, nil
	}
	return f.chain.GetHistory(ctx, address)
}

func (f *fakeClient) GetTransaction(ctx context.Context, txHash string) (*electrum.Transaction, error) {
	if f.chain == nil {
		return nil, nil
	}
	return f.chain.GetTransaction(ctx, txHash)
}

func (f *fakeClient) TipHeight() int64 {
	if f.chain == nil {
		return 0
	}
	return f.chain.TipHeight()
}

func (f *fakeClient) Notifications() <-chan electrum.AddressNotification {
	return f.notifs
}

func (f *fakeClient) Close() error {
	f.closeOnce.Do(func() {
		close(f.notifs)
	})
	return nil
}

func (f *fakeClient) subscribedAddresses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.subscribed...)
}
