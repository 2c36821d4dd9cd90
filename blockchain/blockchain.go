// Package blockchain abstracts the chain data provider the channel
// machinery polls for confirmations, spends and broadcasts.
package blockchain

import "errors"

var (
	ErrTxNotFound = errors.New("transaction not found")

	// ErrSpendLookupUnsupported is returned by providers that can tell
	// whether an output is spent but not by which transaction.
	ErrSpendLookupUnsupported = errors.New("spend lookup not supported")
)

type Blockchain interface {
	// Confirmed reports whether txid has at least one confirmation.
	Confirmed(txid string) (bool, error)

	// SpendOf returns the txid of the transaction spending the given
	// output, or "" if it is unspent.
	SpendOf(txid string, vout uint32) (string, error)

	// RawTx returns the serialized transaction hex for txid.
	RawTx(txid string) (string, error)

	// Broadcast submits a raw transaction and returns its txid.
	// Rebroadcasting an already-known transaction is not an error.
	Broadcast(rawTx string) (string, error)
}
