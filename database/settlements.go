package database

import (
	"errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ethereum/go-ethereum/log"
)

// Settlements is the durable, deduplicated record of one on-chain
// transfer. A settlement row is created once per tx hash; afterwards
// only confirmations and status move, and only forward.
type Settlements struct {
	GUID          uuid.UUID       `gorm:"primaryKey" json:"guid"`
	TxHash        string          `gorm:"column:tx_hash;uniqueIndex" json:"tx_hash"`
	OwnerID       uuid.UUID       `gorm:"column:owner_id" json:"owner_id"`
	MerchantID    uuid.UUID       `gorm:"column:merchant_id" json:"merchant_id"`
	FromAddress   string          `gorm:"column:from_address" json:"from_address"`
	ToAddress     string          `gorm:"column:to_address" json:"to_address"`
	Amount        int64           `gorm:"column:amount" json:"amount"`
	Confirmations uint64          `gorm:"column:confirmations" json:"confirmations"`
	Status        uint8           `gorm:"column:status" json:"status"`
	UsdRate       decimal.Decimal `gorm:"column:usd_rate;type:decimal(18,8)" json:"usd_rate"`
	Timestamp     uint64          `json:"timestamp"`
}

func (Settlements) TableName() string {
	return "settlements"
}

type SettlementsView interface {
	QuerySettlementByTxHash(txHash string) (*Settlements, error)
	QuerySettlementsByMerchant(merchantId uuid.UUID) ([]Settlements, error)
}

type SettlementsDB interface {
	SettlementsView

	StoreSettlement(*Settlements) (bool, error)
	UpdateSettlementConfirms(txHash string, confirmations uint64, status uint8) error
}

type settlementsDB struct {
	gorm *gorm.DB
}

func NewSettlementsDB(db *gorm.DB) SettlementsDB {
	return &settlementsDB{gorm: db}
}

func (db *settlementsDB) QuerySettlementByTxHash(txHash string) (*Settlements, error) {
	var settlement Settlements
	err := db.gorm.Table("settlements").Where("tx_hash", txHash).Take(&settlement).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &settlement, nil
}

func (db *settlementsDB) QuerySettlementsByMerchant(merchantId uuid.UUID) ([]Settlements, error) {
	var settlements []Settlements
	result := db.gorm.Table("settlements").Where("merchant_id", merchantId).Order("timestamp desc").Find(&settlements)
	if result.Error != nil {
		return nil, result.Error
	}
	return settlements, nil
}

// StoreSettlement inserts the row unless a settlement with the same tx
// hash already exists. The unique index on tx_hash is what collapses
// concurrent recordings; the returned bool reports whether this call
// created the row.
func (db *settlementsDB) StoreSettlement(settlement *Settlements) (bool, error) {
	result := db.gorm.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tx_hash"}},
		DoNothing: true,
	}).Create(settlement)
	if result.Error != nil {
		log.Error("store settlement fail", "txHash", settlement.TxHash, "err", result.Error)
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateSettlementConfirms moves confirmations and status forward. The
// guard in the where clause keeps the write monotone even if callers
// race with a fresher observation.
func (db *settlementsDB) UpdateSettlementConfirms(txHash string, confirmations uint64, status uint8) error {
	result := db.gorm.Table("settlements").
		Where("tx_hash = ? and confirmations < ?", txHash, confirmations).
		Updates(map[string]interface{}{"confirmations": confirmations, "status": status})
	return result.Error
}
