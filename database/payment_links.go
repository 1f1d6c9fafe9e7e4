package database

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentLinks is the owning-entity table for watched addresses: a
// payment link (or deployed contract instance) a merchant expects to be
// funded at a fixed address.
type PaymentLinks struct {
	GUID           uuid.UUID `gorm:"primaryKey" json:"guid"`
	MerchantID     uuid.UUID `gorm:"column:merchant_id" json:"merchant_id"`
	Address        string    `gorm:"column:address;index" json:"address"`
	OwnerKind      string    `gorm:"column:owner_kind" json:"owner_kind"`
	UseMode        uint8     `gorm:"column:use_mode" json:"use_mode"`
	ExpectedAmount int64     `gorm:"column:expected_amount" json:"expected_amount"`
	Active         bool      `gorm:"column:active" json:"active"`
	PayCount       uint64    `gorm:"column:pay_count" json:"pay_count"`
	LastPaidAt     uint64    `gorm:"column:last_paid_at" json:"last_paid_at"`
	Timestamp      uint64    `json:"timestamp"`
}

func (PaymentLinks) TableName() string {
	return "payment_links"
}

type PaymentLinksView interface {
	QueryPaymentLinkByGuid(guid uuid.UUID) (*PaymentLinks, error)
	QueryFundableLinks() ([]PaymentLinks, error)
}

type PaymentLinksDB interface {
	PaymentLinksView

	StorePaymentLink(*PaymentLinks) error
	DeactivateLink(guid uuid.UUID) error
	IncrementPayCount(guid uuid.UUID, paidAt uint64) error
}

type paymentLinksDB struct {
	gorm *gorm.DB
}

func NewPaymentLinksDB(db *gorm.DB) PaymentLinksDB {
	return &paymentLinksDB{gorm: db}
}

func (db *paymentLinksDB) StorePaymentLink(link *PaymentLinks) error {
	result := db.gorm.Create(link)
	return result.Error
}

func (db *paymentLinksDB) QueryPaymentLinkByGuid(guid uuid.UUID) (*PaymentLinks, error) {
	var link PaymentLinks
	err := db.gorm.Table("payment_links").Where("guid", guid).Take(&link).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &link, nil
}

// QueryFundableLinks returns every active link, used to rebuild the
// watch registry at startup.
func (db *paymentLinksDB) QueryFundableLinks() ([]PaymentLinks, error) {
	var links []PaymentLinks
	result := db.gorm.Table("payment_links").Where("active", true).Find(&links)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return links, nil
}

func (db *paymentLinksDB) DeactivateLink(guid uuid.UUID) error {
	result := db.gorm.Table("payment_links").Where("guid", guid).
		Update("active", false)
	return result.Error
}

func (db *paymentLinksDB) IncrementPayCount(guid uuid.UUID, paidAt uint64) error {
	result := db.gorm.Table("payment_links").Where("guid", guid).
		Updates(map[string]interface{}{
			"pay_count":    gorm.Expr("pay_count + 1"),
			"last_paid_at": paidAt,
		})
	return result.Error
}
