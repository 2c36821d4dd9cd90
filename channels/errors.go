package channels

import "errors"

var (
	// ErrStateTransition is returned when a transition is attempted from a
	// state that doesn't permit it.
	ErrStateTransition = errors.New("illegal state transition")

	// ErrInsufficientBalance is returned when a payment exceeds the
	// remaining channel balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransaction is returned when a received transaction fails
	// signature, output, locktime or amount validation.
	ErrInvalidTransaction = errors.New("invalid transaction")

	ErrInvalidNet     = errors.New("invalid net")
	ErrAmountTooSmall = errors.New("amount is too small")
)
