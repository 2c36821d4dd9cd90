package methods

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/receiver"
)

// fakeRedeemer hands out each recorded amount once, like the receiver.
type fakeRedeemer struct {
	amounts  map[string]int64
	redeemed map[string]bool
}

func newFakeRedeemer(amounts map[string]int64) *fakeRedeemer {
	return &fakeRedeemer{amounts: amounts, redeemed: make(map[string]bool)}
}

func (r *fakeRedeemer) Redeem(paymentTxID string) (int64, error) {
	amount, ok := r.amounts[paymentTxID]
	if !ok {
		return 0, receiver.ErrNotFound
	}
	if r.redeemed[paymentTxID] {
		return 0, receiver.ErrRedeemed
	}
	r.redeemed[paymentTxID] = true
	return amount, nil
}

func channelHeader(token string) http.Header {
	h := make(http.Header)
	h.Set(models.HeaderChannelToken, token)
	return h
}

func TestChannelRedeem(t *testing.T) {
	m := NewChannel(newFakeRedeemer(map[string]int64{"tok1": 5000}),
		"https://merchant.example/payment")

	require.True(t, m.ShouldRedeem(channelHeader("tok1")))
	require.False(t, m.ShouldRedeem(make(http.Header)))

	require.NoError(t, m.Redeem(5000, channelHeader("tok1")))

	// Replays surface the receiver's at-most-once error untouched.
	require.ErrorIs(t, m.Redeem(5000, channelHeader("tok1")), receiver.ErrRedeemed)
}

func TestChannelRedeemUnknownToken(t *testing.T) {
	m := NewChannel(newFakeRedeemer(nil), "https://merchant.example/payment")
	require.ErrorIs(t, m.Redeem(5000, channelHeader("nope")), ErrInvalidParameter)
	require.ErrorIs(t, m.Redeem(5000, make(http.Header)), ErrInvalidParameter)
}

func TestChannelRedeemInsufficient(t *testing.T) {
	m := NewChannel(newFakeRedeemer(map[string]int64{"tok1": 100}),
		"https://merchant.example/payment")
	require.ErrorIs(t, m.Redeem(5000, channelHeader("tok1")), ErrInsufficientPayment)
}

func TestChannelChallenge(t *testing.T) {
	m := NewChannel(newFakeRedeemer(nil), "https://merchant.example/payment")
	ch := m.Challenge(5000)
	require.Equal(t, "5000", ch[models.HeaderPrice])
	require.Equal(t, "https://merchant.example/payment", ch[models.HeaderChannelServer])
}
