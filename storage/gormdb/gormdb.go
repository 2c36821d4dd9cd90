// Package gormdb backs the merchant stores with a relational database
// through GORM. The sqlite driver is the default deployment target but
// anything gorm.Dialector-shaped works.
package gormdb

import (
	"time"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/turnstilepay/turnstile/storage"
)

type paymentChannel struct {
	ID                uint   `gorm:"primaryKey"`
	DepositTxID       string `gorm:"column:deposit_txid;uniqueIndex;size:64"`
	State             string `gorm:"column:state"`
	DepositTx         string `gorm:"column:deposit_tx"`
	RefundTx          string `gorm:"column:refund_tx"`
	PaymentTx         string `gorm:"column:payment_tx"`
	MerchantPubKey    string `gorm:"column:merchant_pubkey"`
	Amount            int64  `gorm:"column:amount"`
	LastPaymentAmount int64  `gorm:"column:last_payment_amount"`
	ExpiresAt         int64  `gorm:"column:expires_at"`
	CreatedAt         int64  `gorm:"column:created_at"`
}

func (paymentChannel) TableName() string { return "payment_channel" }

type paymentChannelSpend struct {
	ID          uint   `gorm:"primaryKey"`
	PaymentTxID string `gorm:"column:payment_txid;uniqueIndex;size:64"`
	PaymentTx   string `gorm:"column:payment_tx"`
	Amount      int64  `gorm:"column:amount"`
	IsRedeemed  bool   `gorm:"column:is_redeemed"`
	DepositTxID string `gorm:"column:deposit_txid;index;size:64"`
}

func (paymentChannelSpend) TableName() string { return "payment_channel_spend" }

type paymentOnChain struct {
	ID        uint   `gorm:"primaryKey"`
	TxID      string `gorm:"column:txid;uniqueIndex;size:64"`
	Amount    int64  `gorm:"column:amount"`
	CreatedAt int64  `gorm:"column:created_at"`
}

func (paymentOnChain) TableName() string { return "payment_onchain" }

// Store implements storage.MerchantStore and storage.OnChainStore over
// one database handle.
type Store struct {
	db *gorm.DB
}

// Open opens (and migrates) a sqlite database at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	return New(db)
}

// New wraps an existing gorm handle and runs migrations.
func New(db *gorm.DB) (*Store, error) {
	err := db.AutoMigrate(&paymentChannel{}, &paymentChannelSpend{}, &paymentOnChain{})
	if err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateChannel(rec *storage.ChannelRecord) error {
	var count int64
	err := s.db.Model(&paymentChannel{}).
		Where("deposit_txid = ?", rec.DepositTxID).Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "create channel")
	}
	if count > 0 {
		return storage.ErrDuplicate
	}
	err = s.db.Create(&paymentChannel{
		DepositTxID:       rec.DepositTxID,
		State:             rec.State,
		DepositTx:         rec.DepositTx,
		RefundTx:          rec.RefundTx,
		PaymentTx:         rec.PaymentTx,
		MerchantPubKey:    rec.MerchantPubKey,
		Amount:            rec.Amount,
		LastPaymentAmount: rec.LastPaymentAmount,
		ExpiresAt:         rec.ExpiresAt,
		CreatedAt:         rec.CreatedAt,
	}).Error
	return errors.Wrap(err, "create channel")
}

func (s *Store) GetChannel(depositTxID string) (*storage.ChannelRecord, error) {
	var row paymentChannel
	err := s.db.Where("deposit_txid = ?", depositTxID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get channel")
	}
	return channelRecord(&row), nil
}

func (s *Store) ListChannels() ([]storage.ChannelRecord, error) {
	var rows []paymentChannel
	if err := s.db.Order("id").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list channels")
	}
	recs := make([]storage.ChannelRecord, 0, len(rows))
	for i := range rows {
		recs = append(recs, *channelRecord(&rows[i]))
	}
	return recs, nil
}

func (s *Store) UpdateChannel(rec *storage.ChannelRecord) error {
	res := s.db.Model(&paymentChannel{}).
		Where("deposit_txid = ?", rec.DepositTxID).
		Updates(map[string]interface{}{
			"state":               rec.State,
			"deposit_tx":          rec.DepositTx,
			"payment_tx":          rec.PaymentTx,
			"amount":              rec.Amount,
			"last_payment_amount": rec.LastPaymentAmount,
			"expires_at":          rec.ExpiresAt,
		})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update channel")
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) CreateSpend(rec *storage.SpendRecord) error {
	var count int64
	err := s.db.Model(&paymentChannelSpend{}).
		Where("payment_txid = ?", rec.PaymentTxID).Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "create spend")
	}
	if count > 0 {
		return storage.ErrDuplicate
	}
	err = s.db.Create(&paymentChannelSpend{
		PaymentTxID: rec.PaymentTxID,
		PaymentTx:   rec.PaymentTx,
		Amount:      rec.Amount,
		IsRedeemed:  rec.IsRedeemed,
		DepositTxID: rec.DepositTxID,
	}).Error
	return errors.Wrap(err, "create spend")
}

func (s *Store) GetSpend(paymentTxID string) (*storage.SpendRecord, error) {
	var row paymentChannelSpend
	err := s.db.Where("payment_txid = ?", paymentTxID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get spend")
	}
	return &storage.SpendRecord{
		PaymentTxID: row.PaymentTxID,
		PaymentTx:   row.PaymentTx,
		Amount:      row.Amount,
		IsRedeemed:  row.IsRedeemed,
		DepositTxID: row.DepositTxID,
	}, nil
}

func (s *Store) MarkRedeemed(paymentTxID string) error {
	res := s.db.Model(&paymentChannelSpend{}).
		Where("payment_txid = ?", paymentTxID).
		Update("is_redeemed", true)
	if res.Error != nil {
		return errors.Wrap(res.Error, "mark redeemed")
	}
	if res.RowsAffected == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) Get(txid string) (*storage.OnChainRecord, error) {
	var row paymentOnChain
	err := s.db.Where("txid = ?", txid).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get onchain payment")
	}
	return &storage.OnChainRecord{TxID: row.TxID, Amount: row.Amount}, nil
}

func (s *Store) Create(txid string, amount int64) error {
	var count int64
	err := s.db.Model(&paymentOnChain{}).
		Where("txid = ?", txid).Count(&count).Error
	if err != nil {
		return errors.Wrap(err, "create onchain payment")
	}
	if count > 0 {
		return storage.ErrDuplicate
	}
	err = s.db.Create(&paymentOnChain{
		TxID:      txid,
		Amount:    amount,
		CreatedAt: time.Now().Unix(),
	}).Error
	return errors.Wrap(err, "create onchain payment")
}

func (s *Store) Delete(txid string) error {
	err := s.db.Where("txid = ?", txid).Delete(&paymentOnChain{}).Error
	return errors.Wrap(err, "delete onchain payment")
}

func channelRecord(row *paymentChannel) *storage.ChannelRecord {
	return &storage.ChannelRecord{
		DepositTxID:       row.DepositTxID,
		State:             row.State,
		DepositTx:         row.DepositTx,
		RefundTx:          row.RefundTx,
		PaymentTx:         row.PaymentTx,
		MerchantPubKey:    row.MerchantPubKey,
		Amount:            row.Amount,
		LastPaymentAmount: row.LastPaymentAmount,
		ExpiresAt:         row.ExpiresAt,
		CreatedAt:         row.CreatedAt,
	}
}

var (
	_ storage.MerchantStore = (*Store)(nil)
	_ storage.OnChainStore  = (*Store)(nil)
)
