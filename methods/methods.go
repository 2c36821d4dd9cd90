// Package methods implements single-shot HTTP 402 payment validators:
// on-chain transactions, channel tokens and off-chain signed transfers.
// Each method inspects the payment headers of a request and decides
// whether the priced resource has been paid for.
package methods

import (
	"errors"
	"net/http"
)

var (
	ErrDuplicatePayment    = errors.New("transaction already used for payment")
	ErrInvalidParameter    = errors.New("invalid payment parameter")
	ErrInsufficientPayment = errors.New("payment amount insufficient")
	ErrBelowDustLimit      = errors.New("payment below dust limit")
	ErrBroadcast           = errors.New("transaction broadcast failed")

	// Transfer verification failure kinds, kept distinct so callers
	// can tell an unreachable verifier from an actual rejection.
	ErrVerifierUnreachable = errors.New("transfer verification service unreachable")
	ErrVerifierMalformed   = errors.New("transfer verification response malformed")
	ErrTransferRejected    = errors.New("transfer rejected by verification service")
)

// Method validates one kind of payment presented in request headers.
type Method interface {
	// ShouldRedeem reports whether the request carries this method's
	// payment headers.
	ShouldRedeem(h http.Header) bool

	// Redeem validates the payment against price in satoshi. It only
	// returns nil after the payment is irrevocably accepted.
	Redeem(price int64, h http.Header) error

	// Challenge returns the 402 response headers advertising this
	// method for the given price.
	Challenge(price int64) map[string]string
}
