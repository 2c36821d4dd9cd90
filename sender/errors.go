package sender

import "errors"

var (
	// ErrClosed is returned for operations on a closed channel, and by
	// Pay when the merchant reports the channel gone.
	ErrClosed = errors.New("channel closed")

	// ErrNotReady is returned by Pay and Close outside the ready state.
	ErrNotReady = errors.New("channel not ready")

	// ErrNoPayment is returned by Close when nothing was ever paid;
	// letting the channel expire and refund is cheaper.
	ErrNoPayment = errors.New("no payments made on channel")

	// ErrPayment wraps remote payment failures after the local state
	// has been rolled back.
	ErrPayment = errors.New("payment failed")
)
