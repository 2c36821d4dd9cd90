package methods

import (
	"net/http"

	"github.com/pkg/errors"
)

// Required wraps a priced resource handler. Requests carrying a valid
// payment pass through; everything else gets a 402 with the challenge
// headers of all accepted methods.
func Required(price int64, ms []Method, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, m := range ms {
			if !m.ShouldRedeem(r.Header) {
				continue
			}
			err := m.Redeem(price, r.Header)
			if err == nil {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, err.Error(), statusFor(err))
			return
		}

		for _, m := range ms {
			for k, v := range m.Challenge(price) {
				w.Header().Set(k, v)
			}
		}
		http.Error(w, "payment required", http.StatusPaymentRequired)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidParameter),
		errors.Is(err, ErrBelowDustLimit):
		return http.StatusBadRequest
	case errors.Is(err, ErrInsufficientPayment),
		errors.Is(err, ErrDuplicatePayment),
		errors.Is(err, ErrTransferRejected):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
