package database

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Merchants struct {
	GUID          uuid.UUID `gorm:"primaryKey" json:"guid"`
	Name          string    `gorm:"column:name" json:"name"`
	WebhookUrl    string    `gorm:"column:webhook_url" json:"webhook_url"`
	WebhookSecret string    `gorm:"column:webhook_secret" json:"webhook_secret"`
	Timestamp     uint64    `json:"timestamp"`
}

func (Merchants) TableName() string {
	return "merchants"
}

type MerchantsView interface {
	QueryMerchantByGuid(guid uuid.UUID) (*Merchants, error)
}

type MerchantsDB interface {
	MerchantsView

	StoreMerchant(*Merchants) error
}

type merchantsDB struct {
	gorm *gorm.DB
}

func NewMerchantsDB(db *gorm.DB) MerchantsDB {
	return &merchantsDB{gorm: db}
}

func (db *merchantsDB) StoreMerchant(merchant *Merchants) error {
	result := db.gorm.Create(merchant)
	return result.Error
}

func (db *merchantsDB) QueryMerchantByGuid(guid uuid.UUID) (*Merchants, error) {
	var merchant Merchants
	err := db.gorm.Table("merchants").Where("guid", guid).Take(&merchant).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &merchant, nil
}
