package blockchain

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func rawTx(t *testing.T, prevTxID string, prevVout uint32) (string, string) {
	t.Helper()

	hash, err := chainhash.NewHashFromStr(prevTxID)
	require.NoError(t, err)

	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, prevVout), []byte{0x51}, nil))
	tx.AddTxOut(wire.NewTxOut(1000, []byte{0x51}))

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return hex.EncodeToString(buf.Bytes()), tx.TxHash().String()
}

func TestSim(t *testing.T) {
	s := NewSim()

	prev := "5b2c6c349612986a3e012bbc79e5e04d5ba965f0e8f968cf28c91681acbbeb34"
	raw, wantTxID := rawTx(t, prev, 1)

	txid, err := s.Broadcast(raw)
	require.NoError(t, err)
	require.Equal(t, wantTxID, txid)
	require.Equal(t, 1, s.BroadcastCount())

	got, err := s.RawTx(txid)
	require.NoError(t, err)
	require.Equal(t, raw, got)

	confirmed, err := s.Confirmed(txid)
	require.NoError(t, err)
	require.False(t, confirmed)
	s.Confirm(txid)
	confirmed, err = s.Confirmed(txid)
	require.NoError(t, err)
	require.True(t, confirmed)

	spend, err := s.SpendOf(prev, 1)
	require.NoError(t, err)
	require.Equal(t, txid, spend)
	spend, err = s.SpendOf(prev, 0)
	require.NoError(t, err)
	require.Empty(t, spend)

	// Rebroadcasting is idempotent.
	_, err = s.Broadcast(raw)
	require.NoError(t, err)
	require.Equal(t, 1, s.BroadcastCount())
}

func TestSimRejectsGarbage(t *testing.T) {
	s := NewSim()
	_, err := s.Broadcast("zz")
	require.Error(t, err)
	_, err = s.Broadcast("00")
	require.Error(t, err)

	_, err = s.RawTx("unknown")
	require.ErrorIs(t, err, ErrTxNotFound)
}
