package notifier

// Settlement event types delivered to merchant endpoints.
const (
	EventPaymentReceived  = "payment.received"
	EventPaymentConfirmed = "payment.confirmed"
)

// Webhook request headers.
const (
	HeaderSignature = "X-Signature"
	HeaderEvent     = "X-Event"
	HeaderDelivery  = "X-Delivery"
)

// PaymentEvent is the data section of a settlement webhook.
type PaymentEvent struct {
	TxHash        string `json:"tx_hash"`
	Address       string `json:"address"`
	OwnerID       string `json:"owner_id"`
	MerchantID    string `json:"merchant_id"`
	Amount        int64  `json:"amount"`
	Confirmations uint64 `json:"confirmations"`
	Status        string `json:"status"`
	UsdRate       string `json:"usd_rate,omitempty"`
}

// webhookBody is the canonical wire body. It is marshalled exactly
// once per delivery; every retry resends and re-signs the same bytes.
type webhookBody struct {
	Event     string       `json:"event"`
	Data      PaymentEvent `json:"data"`
	Timestamp int64        `json:"timestamp"`
	WebhookId string       `json:"webhook_id"`
}
