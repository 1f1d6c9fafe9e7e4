package database

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ethereum/go-ethereum/log"
)

// Webhooks tracks the delivery attempts of a single outbound
// notification. Payload holds the exact serialized body the signature
// was computed over, so a replay can resend identical bytes.
type Webhooks struct {
	GUID          uuid.UUID `gorm:"primaryKey" json:"guid"`
	MerchantID    uuid.UUID `gorm:"column:merchant_id" json:"merchant_id"`
	EventType     string    `gorm:"column:event_type" json:"event_type"`
	Payload       []byte    `gorm:"column:payload" json:"payload"`
	Status        uint8     `gorm:"column:status" json:"status"`
	Attempts      uint8     `gorm:"column:attempts" json:"attempts"`
	LastAttemptAt uint64    `gorm:"column:last_attempt_at" json:"last_attempt_at"`
	Timestamp     uint64    `json:"timestamp"`
}

func (Webhooks) TableName() string {
	return "webhooks"
}

type WebhooksView interface {
	QueryWebhookByGuid(guid uuid.UUID) (*Webhooks, error)
	QueryWebhooksByStatus(merchantId uuid.UUID, status uint8) ([]Webhooks, error)
}

type WebhooksDB interface {
	WebhooksView

	StoreWebhook(*Webhooks) error
	UpdateWebhookAttempt(guid uuid.UUID, attempts uint8, lastAttemptAt uint64) error
	UpdateWebhookStatus(guid uuid.UUID, status uint8, attempts uint8, lastAttemptAt uint64) error
}

type webhooksDB struct {
	gorm *gorm.DB
}

func NewWebhooksDB(db *gorm.DB) WebhooksDB {
	return &webhooksDB{gorm: db}
}

func (db *webhooksDB) StoreWebhook(webhook *Webhooks) error {
	result := db.gorm.Create(webhook)
	if result.Error != nil {
		log.Error("store webhook fail", "merchant", webhook.MerchantID, "err", result.Error)
	}
	return result.Error
}

func (db *webhooksDB) QueryWebhookByGuid(guid uuid.UUID) (*Webhooks, error) {
	var webhook Webhooks
	err := db.gorm.Table("webhooks").Where("guid", guid).Take(&webhook).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &webhook, nil
}

func (db *webhooksDB) QueryWebhooksByStatus(merchantId uuid.UUID, status uint8) ([]Webhooks, error) {
	var webhooks []Webhooks
	result := db.gorm.Table("webhooks").
		Where("merchant_id = ? and status = ?", merchantId, status).
		Order("timestamp desc").Find(&webhooks)
	if result.Error != nil {
		return nil, result.Error
	}
	return webhooks, nil
}

func (db *webhooksDB) UpdateWebhookAttempt(guid uuid.UUID, attempts uint8, lastAttemptAt uint64) error {
	result := db.gorm.Table("webhooks").Where("guid", guid).
		Updates(map[string]interface{}{"attempts": attempts, "last_attempt_at": lastAttemptAt})
	return result.Error
}

// UpdateWebhookStatus records the terminal outcome of a delivery. Rows
// already in a terminal state are left alone.
func (db *webhooksDB) UpdateWebhookStatus(guid uuid.UUID, status uint8, attempts uint8, lastAttemptAt uint64) error {
	result := db.gorm.Table("webhooks").
		Where("guid = ? and status = ?", guid, WebhookStatusPending).
		Updates(map[string]interface{}{"status": status, "attempts": attempts, "last_attempt_at": lastAttemptAt})
	return result.Error
}
