package watcher

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpay-labs/payment-monitor/config"
	"github.com/openpay-labs/payment-monitor/database"
	"github.com/openpay-labs/payment-monitor/notifier"
)

const testThreshold = 5_000_000

type ledgerFixture struct {
	ledger      *Ledger
	settlements *fakeSettlements
	links       *fakeLinks
	registry    *Registry
	sink        *fakeSink
	meta        WatchedAddress
}

func setupLedger(t *testing.T, link *database.PaymentLinks) *ledgerFixture {
	settlements := newFakeSettlements()
	links := newFakeLinks(link)
	registry := NewRegistry()
	sink := &fakeSink{}

	meta := WatchedAddress{
		Address:        link.Address,
		OwnerID:        link.GUID,
		MerchantID:     link.MerchantID,
		ExpectedAmount: link.ExpectedAmount,
		UseMode:        link.UseMode,
	}
	registry.Watch(link.Address, meta)

	ledger := NewLedger(settlements, links, registry, sink, &fakeRates{rate: decimal.NewFromInt(60000)}, config.SettlementConfig{
		ZeroConfThreshold: testThreshold,
	})
	return &ledgerFixture{ledger: ledger, settlements: settlements, links: links, registry: registry, sink: sink, meta: meta}
}

func singleUseLink() *database.PaymentLinks {
	return &database.PaymentLinks{
		GUID:       uuid.New(),
		MerchantID: uuid.New(),
		Address:    "bc1qwatched",
		OwnerKind:  database.OwnerKindPaymentLink,
		UseMode:    database.UseModeSingle,
		Active:     true,
	}
}

// record replays an observation with the original watch metadata, the
// way a duplicate push or poll would carry it even after unwatching.
func (fx *ledgerFixture) record(t *testing.T, txHash string, amount int64, confirmations uint64) {
	err := fx.ledger.Record(context.Background(), fx.meta, Receipt{
		Received:      true,
		TxHash:        txHash,
		Amount:        amount,
		Confirmations: confirmations,
	})
	require.NoError(t, err)
}

func TestLedger_ZeroConfPolicy(t *testing.T) {
	tests := []struct {
		name       string
		amount     int64
		wantStatus uint8
	}{
		{"below threshold", testThreshold - 1, database.SettlementStatusConfirmed},
		{"at threshold", testThreshold, database.SettlementStatusConfirmed},
		{"above threshold", testThreshold + 1, database.SettlementStatusPending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := setupLedger(t, singleUseLink())
			fx.record(t, "tx-"+tt.name, tt.amount, 0)

			row, err := fx.settlements.QuerySettlementByTxHash("tx-" + tt.name)
			require.NoError(t, err)
			require.NotNil(t, row)
			assert.Equal(t, tt.wantStatus, row.Status)
		})
	}
}

func TestLedger_ConfirmedOnFirstConfirmation(t *testing.T) {
	fx := setupLedger(t, singleUseLink())
	fx.record(t, "tx1", testThreshold*10, 3)

	row, err := fx.settlements.QuerySettlementByTxHash("tx1")
	require.NoError(t, err)
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)
	assert.Equal(t, uint64(3), row.Confirmations)
}

func TestLedger_IdempotentDuplicates(t *testing.T) {
	fx := setupLedger(t, singleUseLink())

	// Push and poll paths observing the same transfer in assorted
	// orders, including stale confirmation counts.
	observations := []uint64{0, 2, 1, 2, 0, 5, 3}
	for _, confirmations := range observations {
		fx.record(t, "tx1", 2_000_000, confirmations)
	}

	assert.Equal(t, 1, fx.settlements.count())
	row, err := fx.settlements.QuerySettlementByTxHash("tx1")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), row.Confirmations, "confirmations must equal the maximum ever observed")
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)
}

func TestLedger_StatusNeverRegresses(t *testing.T) {
	fx := setupLedger(t, singleUseLink())
	fx.record(t, "tx1", testThreshold*2, 4)

	// A late zero-confirmation observation must not pull the row back.
	fx.record(t, "tx1", testThreshold*2, 0)

	row, err := fx.settlements.QuerySettlementByTxHash("tx1")
	require.NoError(t, err)
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)
	assert.Equal(t, uint64(4), row.Confirmations)
}

func TestLedger_SingleUseDeactivatedOnce(t *testing.T) {
	link := singleUseLink()
	fx := setupLedger(t, link)

	for i := 0; i < 4; i++ {
		fx.record(t, "tx1", 2_000_000, uint64(i))
	}

	assert.Equal(t, 1, fx.links.deactivated[link.GUID], "deactivation must happen exactly once")
	_, watched := fx.registry.Lookup(link.Address)
	assert.False(t, watched, "address must be unwatched after the first settlement")
}

func TestLedger_RecurringIncrementsCounter(t *testing.T) {
	link := singleUseLink()
	link.UseMode = database.UseModeRecurring
	fx := setupLedger(t, link)

	fx.record(t, "tx1", 2_000_000, 0)

	stored, err := fx.links.QueryPaymentLinkByGuid(link.GUID)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stored.PayCount)
	assert.NotZero(t, stored.LastPaidAt)
	_, watched := fx.registry.Lookup(link.Address)
	assert.True(t, watched, "recurring links stay watched")
}

// Scenario from the acceptance checklist: a small zero-conf payment to
// a single-use link settles immediately and dispatches one
// payment.confirmed event.
func TestLedger_ZeroConfSingleUseScenario(t *testing.T) {
	link := singleUseLink()
	fx := setupLedger(t, link)

	fx.record(t, "T1", 2_000_000, 0)

	row, err := fx.settlements.QuerySettlementByTxHash("T1")
	require.NoError(t, err)
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)

	stored, _ := fx.links.QueryPaymentLinkByGuid(link.GUID)
	assert.False(t, stored.Active)

	events := fx.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, notifier.EventPaymentConfirmed, events[0].eventType)
	assert.Equal(t, link.MerchantID, events[0].merchantId)
	assert.Equal(t, "T1", events[0].event.TxHash)
}

// A large payment is Pending at zero confirmations; its first
// confirmation upgrades the same row and dispatches exactly one
// boundary-crossing payment.confirmed, with no duplicate
// payment.received.
func TestLedger_PendingThenConfirmedScenario(t *testing.T) {
	link := singleUseLink()
	link.UseMode = database.UseModeMulti
	fx := setupLedger(t, link)

	fx.record(t, "T2", 10_000_000, 0)

	events := fx.sink.all()
	require.Len(t, events, 1)
	assert.Equal(t, notifier.EventPaymentReceived, events[0].eventType)

	fx.record(t, "T2", 10_000_000, 1)

	assert.Equal(t, 1, fx.settlements.count(), "no duplicate row")
	row, _ := fx.settlements.QuerySettlementByTxHash("T2")
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)

	events = fx.sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, notifier.EventPaymentConfirmed, events[1].eventType)

	// Further confirmations are not boundary crossings and stay silent.
	fx.record(t, "T2", 10_000_000, 6)
	assert.Len(t, fx.sink.all(), 2)
}

func TestLedger_InsertRaceFallsBackToMerge(t *testing.T) {
	fx := setupLedger(t, singleUseLink())
	meta, _ := fx.registry.Lookup("bc1qwatched")

	// Seed the row as if a concurrent instance inserted between our
	// lookup and store.
	_, err := fx.settlements.StoreSettlement(&database.Settlements{
		GUID:       uuid.New(),
		TxHash:     "tx1",
		OwnerID:    meta.OwnerID,
		MerchantID: meta.MerchantID,
		ToAddress:  meta.Address,
		Amount:     10_000_000,
		Status:     database.SettlementStatusPending,
	})
	require.NoError(t, err)

	fx.record(t, "tx1", 10_000_000, 2)

	assert.Equal(t, 1, fx.settlements.count())
	row, _ := fx.settlements.QuerySettlementByTxHash("tx1")
	assert.Equal(t, uint64(2), row.Confirmations)
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)
}
