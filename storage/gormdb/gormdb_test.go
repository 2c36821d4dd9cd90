package gormdb

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/turnstilepay/turnstile/storage"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "payments.db"))
	require.NoError(t, err)
	return s
}

func TestChannels(t *testing.T) {
	s := testStore(t)

	rec := &storage.ChannelRecord{
		DepositTxID:    "d1",
		State:          storage.ChannelCreated,
		RefundTx:       "aabb",
		MerchantPubKey: "02ff",
		ExpiresAt:      1700000000,
		CreatedAt:      1690000000,
	}
	require.NoError(t, s.CreateChannel(rec))
	require.ErrorIs(t, s.CreateChannel(rec), storage.ErrDuplicate)

	got, err := s.GetChannel("d1")
	require.NoError(t, err)
	require.Equal(t, rec, got)

	_, err = s.GetChannel("missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	got.State = storage.ChannelReady
	got.PaymentTx = "ccdd"
	got.LastPaymentAmount = 1500
	require.NoError(t, s.UpdateChannel(got))

	got, err = s.GetChannel("d1")
	require.NoError(t, err)
	require.Equal(t, storage.ChannelReady, got.State)
	require.Equal(t, "ccdd", got.PaymentTx)
	require.Equal(t, int64(1500), got.LastPaymentAmount)

	require.ErrorIs(t, s.UpdateChannel(&storage.ChannelRecord{
		DepositTxID: "missing",
	}), storage.ErrNotFound)

	require.NoError(t, s.CreateChannel(&storage.ChannelRecord{
		DepositTxID: "d2",
		State:       storage.ChannelCreated,
	}))
	recs, err := s.ListChannels()
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "d1", recs[0].DepositTxID)
	require.Equal(t, "d2", recs[1].DepositTxID)
}

func TestUpdateChannelDeposit(t *testing.T) {
	s := testStore(t)

	require.NoError(t, s.CreateChannel(&storage.ChannelRecord{
		DepositTxID:    "d1",
		State:          storage.ChannelCreated,
		RefundTx:       "aabb",
		MerchantPubKey: "02ff",
		ExpiresAt:      1700000000,
	}))

	// The handshake records the deposit after the channel row exists.
	rec, err := s.GetChannel("d1")
	require.NoError(t, err)
	rec.State = storage.ChannelConfirming
	rec.DepositTx = "deadbeef"
	rec.Amount = 110000
	require.NoError(t, s.UpdateChannel(rec))

	got, err := s.GetChannel("d1")
	require.NoError(t, err)
	require.Equal(t, storage.ChannelConfirming, got.State)
	require.Equal(t, "deadbeef", got.DepositTx)
	require.Equal(t, int64(110000), got.Amount)

	// Immutable creation-time fields survive the update.
	require.Equal(t, "aabb", got.RefundTx)
	require.Equal(t, "02ff", got.MerchantPubKey)
}

func TestSpends(t *testing.T) {
	s := testStore(t)

	spend := &storage.SpendRecord{
		PaymentTxID: "p1",
		PaymentTx:   "eeff",
		Amount:      1500,
		DepositTxID: "d1",
	}
	require.NoError(t, s.CreateSpend(spend))
	require.ErrorIs(t, s.CreateSpend(spend), storage.ErrDuplicate)

	got, err := s.GetSpend("p1")
	require.NoError(t, err)
	require.Equal(t, spend, got)
	require.False(t, got.IsRedeemed)

	require.NoError(t, s.MarkRedeemed("p1"))
	got, err = s.GetSpend("p1")
	require.NoError(t, err)
	require.True(t, got.IsRedeemed)

	_, err = s.GetSpend("missing")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, s.MarkRedeemed("missing"), storage.ErrNotFound)
}

func TestOnChainPayments(t *testing.T) {
	s := testStore(t)

	_, err := s.Get("t1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.Create("t1", 8888))
	require.ErrorIs(t, s.Create("t1", 8888), storage.ErrDuplicate)

	rec, err := s.Get("t1")
	require.NoError(t, err)
	require.Equal(t, int64(8888), rec.Amount)

	require.NoError(t, s.Delete("t1"))
	_, err = s.Get("t1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payments.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.CreateChannel(&storage.ChannelRecord{
		DepositTxID: "d1",
		State:       storage.ChannelConfirming,
	}))

	// Reopening migrates idempotently and sees existing rows.
	s, err = Open(path)
	require.NoError(t, err)
	got, err := s.GetChannel("d1")
	require.NoError(t, err)
	require.Equal(t, storage.ChannelConfirming, got.State)
}
