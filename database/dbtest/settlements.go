// Package dbtest holds store contract checks shared between the real
// postgres-backed stores and the in-memory fakes used by unit tests,
// so the fakes cannot drift from the SQL they stand in for.
package dbtest

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpay-labs/payment-monitor/database"
)

// RunSettlementsContract exercises the invariants every settlements
// store must uphold: duplicate inserts for one tx hash collapse onto
// the first row, and confirmation updates only ever move forward.
func RunSettlementsContract(t *testing.T, store database.SettlementsDB) {
	txHash := "tx-" + uuid.NewString()
	first := &database.Settlements{
		GUID:       uuid.New(),
		TxHash:     txHash,
		OwnerID:    uuid.New(),
		MerchantID: uuid.New(),
		ToAddress:  "addr-contract",
		Amount:     10_000_000,
		Status:     database.SettlementStatusPending,
		Timestamp:  uint64(time.Now().Unix()),
	}
	inserted, err := store.StoreSettlement(first)
	require.NoError(t, err)
	require.True(t, inserted)

	duplicate := *first
	duplicate.GUID = uuid.New()
	duplicate.Confirmations = 9
	inserted, err = store.StoreSettlement(&duplicate)
	require.NoError(t, err)
	assert.False(t, inserted, "duplicate tx hash must not create a second row")

	row, err := store.QuerySettlementByTxHash(txHash)
	require.NoError(t, err)
	require.NotNil(t, row)
	assert.Equal(t, first.GUID, row.GUID, "the first insert owns the row")
	assert.Equal(t, uint64(0), row.Confirmations)

	// Fresher observation moves confirmations and status forward.
	require.NoError(t, store.UpdateSettlementConfirms(txHash, 3, database.SettlementStatusConfirmed))
	row, err = store.QuerySettlementByTxHash(txHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), row.Confirmations)
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status)

	// Stale and equal observations are no-ops.
	require.NoError(t, store.UpdateSettlementConfirms(txHash, 1, database.SettlementStatusPending))
	require.NoError(t, store.UpdateSettlementConfirms(txHash, 3, database.SettlementStatusPending))
	row, err = store.QuerySettlementByTxHash(txHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), row.Confirmations, "confirmations never decrease")
	assert.Equal(t, database.SettlementStatusConfirmed, row.Status, "status never regresses")
}
