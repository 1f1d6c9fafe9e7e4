package database

// Settlement status values.
const (
	SettlementStatusPending   uint8 = 0
	SettlementStatusConfirmed uint8 = 1
	SettlementStatusFailed    uint8 = 2
)

// Webhook delivery status values.
const (
	WebhookStatusPending   uint8 = 0
	WebhookStatusDelivered uint8 = 1
	WebhookStatusFailed    uint8 = 2
)

// Payment link use modes.
const (
	UseModeSingle    uint8 = 0
	UseModeMulti     uint8 = 1
	UseModeRecurring uint8 = 2
)

// Watched-address owner kinds.
const (
	OwnerKindPaymentLink      = "payment_link"
	OwnerKindContractInstance = "contract_instance"
)
