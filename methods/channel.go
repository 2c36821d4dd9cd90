package methods

import (
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/receiver"
)

// Redeemer consumes one recorded channel payment increment. Satisfied
// by *receiver.Receiver.
type Redeemer interface {
	Redeem(paymentTxID string) (int64, error)
}

// Channel accepts payment-channel tokens: the txid of a counter-signed
// payment transaction, redeemed at most once against the local receiver.
type Channel struct {
	server    Redeemer
	serverURL string
}

// NewChannel builds a channel method backed by the given receiver.
// serverURL is advertised to customers in the 402 challenge.
func NewChannel(server Redeemer, serverURL string) *Channel {
	return &Channel{server: server, serverURL: serverURL}
}

func (m *Channel) ShouldRedeem(h http.Header) bool {
	return h.Get(models.HeaderChannelToken) != ""
}

func (m *Channel) Challenge(price int64) map[string]string {
	return map[string]string{
		models.HeaderPrice:         strconv.FormatInt(price, 10),
		models.HeaderChannelServer: m.serverURL,
	}
}

func (m *Channel) Redeem(price int64, h http.Header) error {
	token := h.Get(models.HeaderChannelToken)
	if token == "" {
		return errors.Wrap(ErrInvalidParameter, "missing channel token header")
	}

	amount, err := m.server.Redeem(token)
	if errors.Is(err, receiver.ErrNotFound) {
		return errors.Wrap(ErrInvalidParameter, "unknown channel token")
	} else if err != nil {
		return err
	}
	if amount < price {
		return ErrInsufficientPayment
	}
	return nil
}

var _ Method = (*Channel)(nil)
