package watcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/openpay-labs/payment-monitor/electrum"
)

const resolverAddr = "bc1qresolver"

func payingTx(txid string, value float64, addresses ...string) *electrum.Transaction {
	var outs []electrum.TxOut
	for _, addr := range addresses {
		outs = append(outs, electrum.TxOut{
			Value:        value,
			ScriptPubKey: electrum.ScriptPubKey{Address: addr},
		})
	}
	return &electrum.Transaction{TxId: txid, Vout: outs}
}

func TestResolver_EmptyHistory(t *testing.T) {
	chain := newFakeChain()
	resolver := NewResolver(chain)

	receipt := resolver.Resolve(context.Background(), resolverAddr)
	assert.False(t, receipt.Received)
}

func TestResolver_MostRecentEntryWins(t *testing.T) {
	chain := newFakeChain()
	chain.tip = 110
	chain.history[resolverAddr] = []electrum.HistoryItem{
		{TxHash: "old", Height: 90},
		{TxHash: "new", Height: 101},
	}
	chain.txs["new"] = payingTx("new", 0.05, resolverAddr)

	receipt := NewResolver(chain).Resolve(context.Background(), resolverAddr)
	assert.True(t, receipt.Received)
	assert.Equal(t, "new", receipt.TxHash)
	assert.Equal(t, int64(5_000_000), receipt.Amount)
	assert.Equal(t, uint64(10), receipt.Confirmations)
}

func TestResolver_ConfirmationsFromHeight(t *testing.T) {
	tests := []struct {
		name   string
		height int64
		tip    int64
		want   uint64
	}{
		{"in relay pool", 0, 100, 0},
		{"unconfirmed ancestor", -1, 100, 0},
		{"at tip", 100, 100, 1},
		{"buried", 90, 100, 11},
		{"tip unknown", 100, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := newFakeChain()
			chain.tip = tt.tip
			chain.history[resolverAddr] = []electrum.HistoryItem{{TxHash: "tx", Height: tt.height}}
			chain.txs["tx"] = payingTx("tx", 0.01, resolverAddr)

			receipt := NewResolver(chain).Resolve(context.Background(), resolverAddr)
			assert.True(t, receipt.Received)
			assert.Equal(t, tt.want, receipt.Confirmations)
		})
	}
}

func TestResolver_SumsOnlyMatchingOutputs(t *testing.T) {
	chain := newFakeChain()
	chain.tip = 10
	chain.history[resolverAddr] = []electrum.HistoryItem{{TxHash: "tx", Height: 5}}
	chain.txs["tx"] = &electrum.Transaction{
		TxId: "tx",
		Vout: []electrum.TxOut{
			{Value: 0.3, ScriptPubKey: electrum.ScriptPubKey{Address: resolverAddr}},
			{Value: 0.5, ScriptPubKey: electrum.ScriptPubKey{Address: "bc1qchange"}},
			{Value: 0.2, ScriptPubKey: electrum.ScriptPubKey{Addresses: []string{resolverAddr}}},
		},
	}

	receipt := NewResolver(chain).Resolve(context.Background(), resolverAddr)
	assert.True(t, receipt.Received)
	assert.Equal(t, int64(50_000_000), receipt.Amount)
}

func TestResolver_RoundsToNearestUnit(t *testing.T) {
	chain := newFakeChain()
	chain.tip = 10
	chain.history[resolverAddr] = []electrum.HistoryItem{{TxHash: "tx", Height: 5}}
	// 0.123456789 BTC is sub-satoshi precision; rounds to 12345679.
	chain.txs["tx"] = payingTx("tx", 0.123456789, resolverAddr)

	receipt := NewResolver(chain).Resolve(context.Background(), resolverAddr)
	assert.Equal(t, int64(12_345_679), receipt.Amount)
}

func TestResolver_QueryFailuresSwallowed(t *testing.T) {
	chain := newFakeChain()
	chain.historyErr = errors.New("indexer unavailable")

	receipt := NewResolver(chain).Resolve(context.Background(), resolverAddr)
	assert.False(t, receipt.Received)

	chain = newFakeChain()
	chain.history[resolverAddr] = []electrum.HistoryItem{{TxHash: "tx", Height: 1}}
	chain.txErr = errors.New("indexer unavailable")

	receipt = NewResolver(chain).Resolve(context.Background(), resolverAddr)
	assert.False(t, receipt.Received)
}

func TestResolver_NoMatchingOutputsNotReceived(t *testing.T) {
	chain := newFakeChain()
	chain.tip = 10
	chain.history[resolverAddr] = []electrum.HistoryItem{{TxHash: "tx", Height: 5}}
	chain.txs["tx"] = payingTx("tx", 1.0, "bc1qother")

	receipt := NewResolver(chain).Resolve(context.Background(), resolverAddr)
	assert.False(t, receipt.Received, "partial or foreign outputs count as nothing received")
}
