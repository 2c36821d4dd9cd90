// Package storage defines the persistent stores used on both sides of a
// channel: the customer's channel collection keyed by URL, and the
// merchant's channel, spend and on-chain payment tables.
package storage

import (
	"errors"

	"github.com/turnstilepay/turnstile/channels"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")
)

// ChannelStore holds the customer's channels. Every With call is a scoped
// transaction: the record is locked, mutated by fn, persisted on success
// and released on every exit path.
type ChannelStore interface {
	// Create persists a new channel. A second channel with the same URL
	// or the same deposit txid fails with ErrDuplicate.
	Create(m *channels.Model) error

	// Get returns a read-only copy of the channel.
	Get(url string) (*channels.Model, error)

	// List enumerates all channel URLs.
	List() ([]string, error)

	// With runs fn over the channel under the store lock and persists
	// the mutated model if fn returns nil.
	With(url string, fn func(*channels.Model) error) error
}

// Merchant-side channel states.
const (
	ChannelCreated    = "created"
	ChannelConfirming = "confirming"
	ChannelReady      = "ready"
	ChannelClosed     = "closed"
)

// ChannelRecord is the merchant's view of one payment channel, keyed by
// the deposit transaction id. Records are never deleted, only
// state-transitioned to closed.
type ChannelRecord struct {
	DepositTxID       string
	State             string
	DepositTx         string
	RefundTx          string
	PaymentTx         string
	MerchantPubKey    string
	Amount            int64
	LastPaymentAmount int64
	ExpiresAt         int64
	CreatedAt         int64
}

// SpendRecord is one redeemable payment increment.
type SpendRecord struct {
	PaymentTxID string
	PaymentTx   string
	Amount      int64
	IsRedeemed  bool
	DepositTxID string
}

// MerchantStore persists the merchant's channels and payment increments.
type MerchantStore interface {
	CreateChannel(rec *ChannelRecord) error
	GetChannel(depositTxID string) (*ChannelRecord, error)
	ListChannels() ([]ChannelRecord, error)
	UpdateChannel(rec *ChannelRecord) error

	CreateSpend(rec *SpendRecord) error
	GetSpend(paymentTxID string) (*SpendRecord, error)
	MarkRedeemed(paymentTxID string) error
}

// OnChainRecord marks a raw transaction accepted as a single-shot
// on-chain payment.
type OnChainRecord struct {
	TxID   string
	Amount int64
}

// OnChainStore is the duplicate-payment table for single-shot on-chain
// payments. Callers serialize check-insert-broadcast themselves.
type OnChainStore interface {
	Get(txid string) (*OnChainRecord, error)
	Create(txid string, amount int64) error
	Delete(txid string) error
}

// CloneModel deep-copies a channel model so read-only projections can't
// alias the stored transactions.
func CloneModel(m *channels.Model) *channels.Model {
	c := *m
	if m.DepositTx != nil {
		c.DepositTx = m.DepositTx.Copy()
	}
	if m.RefundTx != nil {
		c.RefundTx = m.RefundTx.Copy()
	}
	if m.PaymentTx != nil {
		c.PaymentTx = m.PaymentTx.Copy()
	}
	if m.SpendTx != nil {
		c.SpendTx = m.SpendTx.Copy()
	}
	return &c
}
