package electrum

import (
	"encoding/json"
	"fmt"
)

// Electrum protocol method names used by the monitor.
const (
	MethodServerVersion    = "server.version"
	MethodHeadersSubscribe = "blockchain.headers.subscribe"
	MethodAddressSubscribe = "blockchain.address.subscribe"
	MethodGetHistory       = "blockchain.address.get_history"
	MethodGetTransaction   = "blockchain.transaction.get"
)

type request struct {
	JsonRpc string        `json:"jsonrpc"`
	Id      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("electrum rpc error %d: %s", e.Code, e.Message)
}

// response covers both call replies (Id set) and server-initiated
// notifications (Method and Params set, no Id).
type response struct {
	Id     *uint64         `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// HistoryItem is one entry of blockchain.address.get_history. Height 0
// means the transaction sits unconfirmed in the relay pool; a negative
// height means unconfirmed with an unconfirmed ancestor.
type HistoryItem struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
}

// Header is the tip header carried by blockchain.headers.subscribe.
type Header struct {
	Height int64 `json:"height"`
}

// ScriptPubKey of a verbose transaction output. Servers report either
// a single address or a list depending on version.
type ScriptPubKey struct {
	Address   string   `json:"address"`
	Addresses []string `json:"addresses"`
}

// TxOut is one output of a verbose transaction, value in BTC.
type TxOut struct {
	Value        float64      `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

type TxIn struct {
	TxId string `json:"txid"`
	Vout uint32 `json:"vout"`
}

// Transaction is the verbose form of blockchain.transaction.get.
type Transaction struct {
	TxId          string  `json:"txid"`
	Vin           []TxIn  `json:"vin"`
	Vout          []TxOut `json:"vout"`
	Confirmations uint64  `json:"confirmations"`
}

// PaysTo reports whether any output of the transaction pays the given
// address.
func (tx *Transaction) PaysTo(address string) bool {
	for _, out := range tx.Vout {
		if out.ScriptPubKey.Matches(address) {
			return true
		}
	}
	return false
}

func (spk ScriptPubKey) Matches(address string) bool {
	if spk.Address == address {
		return true
	}
	for _, addr := range spk.Addresses {
		if addr == address {
			return true
		}
	}
	return false
}

// AddressNotification is one blockchain.address.subscribe push: the
// status hash of the address changed, meaning its history changed.
type AddressNotification struct {
	Address string
	Status  string
}
