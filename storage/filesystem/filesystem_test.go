package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/storage"
)

func testTx(lockTime uint32) *wire.MsgTx {
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{}, 0), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(100000, []byte{0x51}))
	tx.LockTime = lockTime
	return tx
}

func TestRoundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	s := NewChannelStore(path)

	m := &channels.Model{
		URL:          "http://merchant.example/payment/abc",
		Net:          channels.NetTestnet3,
		Protocol:     channels.ProtocolHTTP,
		Status:       channels.StatusReady,
		CreationTime: time.Now().Unix(),
		DepositTx:    testTx(0),
		RefundTx:     testTx(86400),
		SpendTxID:    "deadbeef",
	}
	require.NoError(t, s.Create(m))

	got, err := s.Get(m.URL)
	require.NoError(t, err)
	require.Equal(t, m.URL, got.URL)
	require.Equal(t, channels.StatusReady, got.Status)
	require.Equal(t, channels.ProtocolHTTP, got.Protocol)
	require.Equal(t, m.CreationTime, got.CreationTime)
	require.Equal(t, "deadbeef", got.SpendTxID)
	require.Equal(t, m.DepositTx.TxHash(), got.DepositTx.TxHash())
	require.Equal(t, m.RefundTx.TxHash(), got.RefundTx.TxHash())
	require.Nil(t, got.PaymentTx)

	// A fresh store reading the same file sees the same channel.
	got, err = NewChannelStore(path).Get(m.URL)
	require.NoError(t, err)
	require.Equal(t, m.URL, got.URL)
}

func TestCreateDuplicate(t *testing.T) {
	s := NewChannelStore(filepath.Join(t.TempDir(), "channels.json"))

	m := &channels.Model{
		URL:      "http://merchant.example/payment/abc",
		Net:      channels.NetTestnet3,
		Protocol: channels.ProtocolHTTP,
		Status:   channels.StatusOpening,
	}
	require.NoError(t, s.Create(m))
	require.ErrorIs(t, s.Create(m), storage.ErrDuplicate)
}

func TestWithPersistsOnSuccess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	s := NewChannelStore(path)

	m := &channels.Model{
		URL:      "http://merchant.example/payment/abc",
		Net:      channels.NetTestnet3,
		Protocol: channels.ProtocolHTTP,
		Status:   channels.StatusReady,
	}
	require.NoError(t, s.Create(m))

	err := s.With(m.URL, func(m *channels.Model) error {
		m.Status = channels.StatusClosed
		m.PaymentTx = testTx(0)
		return nil
	})
	require.NoError(t, err)

	got, err := s.Get(m.URL)
	require.NoError(t, err)
	require.Equal(t, channels.StatusClosed, got.Status)
	require.NotNil(t, got.PaymentTx)
}

func TestWithDiscardsOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "channels.json")
	s := NewChannelStore(path)

	m := &channels.Model{
		URL:      "http://merchant.example/payment/abc",
		Net:      channels.NetTestnet3,
		Protocol: channels.ProtocolHTTP,
		Status:   channels.StatusReady,
	}
	require.NoError(t, s.Create(m))

	boom := errors.New("boom")
	err := s.With(m.URL, func(m *channels.Model) error {
		m.Status = channels.StatusClosed
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.Get(m.URL)
	require.NoError(t, err)
	require.Equal(t, channels.StatusReady, got.Status)
}

func TestMissing(t *testing.T) {
	s := NewChannelStore(filepath.Join(t.TempDir(), "channels.json"))

	_, err := s.Get("http://merchant.example/payment/missing")
	require.ErrorIs(t, err, storage.ErrNotFound)

	urls, err := s.List()
	require.NoError(t, err)
	require.Empty(t, urls)

	// The store file is only created on first write.
	_, err = os.Stat(s.path)
	require.True(t, os.IsNotExist(err))
}
