package watcher

import (
	"context"

	"github.com/btcsuite/btcd/btcutil"

	"github.com/ethereum/go-ethereum/log"

	"github.com/openpay-labs/payment-monitor/electrum"
)

// ChainReader is the read-only slice of the indexer session the
// resolver needs.
type ChainReader interface {
	GetHistory(ctx context.Context, address string) ([]electrum.HistoryItem, error)
	GetTransaction(ctx context.Context, txHash string) (*electrum.Transaction, error)
	TipHeight() int64
}

// Receipt is the reconstructed most-recent payment to an address.
// Received false means "nothing new to report", which covers empty
// history, query failures and malformed responses alike.
type Receipt struct {
	Received      bool
	TxHash        string
	FromTxId      string
	Amount        int64
	Confirmations uint64
}

// Resolver reconstructs receipts from indexer history and verbose
// transaction queries.
type Resolver struct {
	chain ChainReader
}

func NewResolver(chain ChainReader) *Resolver {
	return &Resolver{chain: chain}
}

// Resolve fetches the most recent transfer to the address. Query
// failures are swallowed: both the push path and the poll path retry
// later, so a failed resolution is just "no new information".
func (r *Resolver) Resolve(ctx context.Context, address string) Receipt {
	history, err := r.chain.GetHistory(ctx, address)
	if err != nil {
		log.Warn("address history query fail", "address", address, "err", err)
		return Receipt{}
	}
	if len(history) == 0 {
		return Receipt{}
	}

	// The history list reports confirmed entries first, unconfirmed
	// last; the final entry is the most recent observation.
	latest := history[len(history)-1]
	confirmations := r.confirmations(latest.Height)

	tx, err := r.chain.GetTransaction(ctx, latest.TxHash)
	if err != nil || tx == nil {
		log.Warn("transaction query fail", "txHash", latest.TxHash, "err", err)
		return Receipt{}
	}

	amount := receivedAmount(tx, address)
	if amount == 0 {
		return Receipt{}
	}

	receipt := Receipt{
		Received:      true,
		TxHash:        latest.TxHash,
		Amount:        amount,
		Confirmations: confirmations,
	}
	if len(tx.Vin) > 0 {
		receipt.FromTxId = tx.Vin[0].TxId
	}
	return receipt
}

// confirmations maps an indexer height field onto a confirmation
// count. Height 0 is unconfirmed in the relay pool; negative height is
// unconfirmed with an unconfirmed ancestor; both count as 0.
func (r *Resolver) confirmations(height int64) uint64 {
	if height <= 0 {
		return 0
	}
	tip := r.chain.TipHeight()
	if tip < height {
		// Tip unknown or stale; the entry is in a block, so at least 1.
		return 1
	}
	return uint64(tip - height + 1)
}

// receivedAmount sums every output paying the address, converting the
// indexer's BTC float values to satoshis with round-to-nearest.
// Malformed or partial outputs contribute nothing.
func receivedAmount(tx *electrum.Transaction, address string) int64 {
	var total int64
	for _, out := range tx.Vout {
		if !out.ScriptPubKey.Matches(address) {
			continue
		}
		amount, err := btcutil.NewAmount(out.Value)
		if err != nil {
			log.Warn("unparseable output value", "txHash", tx.TxId, "value", out.Value, "err", err)
			continue
		}
		total += int64(amount)
	}
	return total
}
