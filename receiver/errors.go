package receiver

import "errors"

var (
	ErrNotFound         = errors.New("payment channel not found")
	ErrDuplicateRequest = errors.New("duplicate channel request")
	ErrBadTransaction   = errors.New("bad transaction")
	ErrBadSignature     = errors.New("bad signature")
	ErrChannelState     = errors.New("channel in wrong state")
	ErrAmountTooLow     = errors.New("payment amount not increasing")
	ErrInsufficientFee  = errors.New("insufficient transaction fee")
	ErrExpirationTooSoon = errors.New("refund lock time too soon")
	ErrNoPayments       = errors.New("channel has no payments")
	ErrRedeemed         = errors.New("payment already redeemed")
)

var exposable = []error{
	ErrNotFound,
	ErrDuplicateRequest,
	ErrBadTransaction,
	ErrBadSignature,
	ErrChannelState,
	ErrAmountTooLow,
	ErrInsufficientFee,
	ErrExpirationTooSoon,
	ErrNoPayments,
	ErrRedeemed,
}

// Exposable reports whether err carries a message safe to return to the
// remote customer. Anything else gets a generic server error at the HTTP
// boundary.
func Exposable(err error) bool {
	for _, e := range exposable {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
