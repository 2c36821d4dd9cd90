package methods

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turnstilepay/turnstile/models"
)

// stubMethod redeems when its header is present, failing with err.
type stubMethod struct {
	header string
	err    error
}

func (m *stubMethod) ShouldRedeem(h http.Header) bool {
	return h.Get(m.header) != ""
}

func (m *stubMethod) Redeem(price int64, h http.Header) error {
	return m.err
}

func (m *stubMethod) Challenge(price int64) map[string]string {
	return map[string]string{m.header: "challenge"}
}

func serveRequired(ms []Method, h http.Header) *httptest.ResponseRecorder {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("paid content"))
	})
	req := httptest.NewRequest(http.MethodGet, "/doc", nil)
	for k, vs := range h {
		req.Header[k] = vs
	}
	w := httptest.NewRecorder()
	Required(5000, ms, next).ServeHTTP(w, req)
	return w
}

func TestRequiredChallenge(t *testing.T) {
	ms := []Method{
		&stubMethod{header: models.HeaderTransaction},
		&stubMethod{header: models.HeaderChannelToken},
	}

	w := serveRequired(ms, make(http.Header))
	require.Equal(t, http.StatusPaymentRequired, w.Code)
	require.Equal(t, "challenge", w.Header().Get(models.HeaderTransaction))
	require.Equal(t, "challenge", w.Header().Get(models.HeaderChannelToken))
}

func TestRequiredPassesThrough(t *testing.T) {
	ms := []Method{
		&stubMethod{header: models.HeaderTransaction, err: ErrInvalidParameter},
		&stubMethod{header: models.HeaderChannelToken},
	}

	h := make(http.Header)
	h.Set(models.HeaderChannelToken, "tok1")
	w := serveRequired(ms, h)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "paid content", w.Body.String())
}

func TestRequiredStatusCodes(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{ErrInvalidParameter, http.StatusBadRequest},
		{ErrBelowDustLimit, http.StatusBadRequest},
		{ErrInsufficientPayment, http.StatusPaymentRequired},
		{ErrDuplicatePayment, http.StatusPaymentRequired},
		{ErrTransferRejected, http.StatusPaymentRequired},
		{ErrBroadcast, http.StatusInternalServerError},
	}
	for _, tc := range tests {
		ms := []Method{&stubMethod{header: models.HeaderTransaction, err: tc.err}}
		h := make(http.Header)
		h.Set(models.HeaderTransaction, "deadbeef")
		w := serveRequired(ms, h)
		require.Equal(t, tc.code, w.Code, "error %v", tc.err)
	}
}
