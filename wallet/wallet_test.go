package wallet

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/stretchr/testify/require"

	"github.com/turnstilepay/turnstile/channels"
)

const (
	testWIF     = "cRTgZtoTP8ueH4w7nob5reYTKpFLHvDV9UfUfa67f3SMCaZkGB6L"
	fundingTxID = "5b2c6c349612986a3e012bbc79e5e04d5ba965f0e8f968cf28c91681acbbeb34"
)

func newTestWallet(t *testing.T) *KeyWallet {
	t.Helper()
	wif, err := btcutil.DecodeWIF(testWIF)
	require.NoError(t, err)
	return NewKeyWallet(wif.PrivKey, &chaincfg.TestNet3Params)
}

func fund(t *testing.T, w *KeyWallet, value int64, confirmed bool) {
	t.Helper()
	pkScript, err := w.PayoutScript()
	require.NoError(t, err)
	w.AddUTXO(UTXO{
		TxID:      fundingTxID,
		Vout:      uint32(len(w.UTXOs())),
		Value:     value,
		PkScript:  pkScript,
		Confirmed: confirmed,
	})
}

func scriptAddr(t *testing.T, w *KeyWallet) btcutil.Address {
	t.Helper()
	pk, err := w.PublicKey()
	require.NoError(t, err)
	// Any P2SH address works as a deposit target.
	script, err := channels.RedeemScript(pk, pk)
	require.NoError(t, err)
	addr, err := channels.ScriptAddress(script, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	return addr
}

func TestBalance(t *testing.T) {
	w := newTestWallet(t)
	fund(t, w, 100000, true)
	fund(t, w, 50000, false)

	confirmed, total := w.Balance()
	require.Equal(t, int64(100000), confirmed)
	require.Equal(t, int64(150000), total)
}

func TestCreateDepositTx(t *testing.T) {
	w := newTestWallet(t)
	fund(t, w, 200000, true)

	tx, err := w.CreateDepositTx(scriptAddr(t, w), 100000, 10000, false)
	require.NoError(t, err)

	require.Len(t, tx.TxIn, 1)
	require.NotEmpty(t, tx.TxIn[0].SignatureScript)
	require.Equal(t, int64(110000), tx.TxOut[0].Value)

	// Change of 200000-110000-fundingFee comes back to the wallet.
	require.Len(t, tx.TxOut, 2)
	require.Equal(t, int64(200000-110000-DefaultFundingFee), tx.TxOut[1].Value)

	// The funding output is consumed and replaced by the change.
	_, total := w.Balance()
	require.Equal(t, tx.TxOut[1].Value, total)
}

func TestCreateDepositTxInsufficient(t *testing.T) {
	w := newTestWallet(t)
	fund(t, w, 50000, true)

	_, err := w.CreateDepositTx(scriptAddr(t, w), 100000, 10000, false)
	require.ErrorIs(t, err, channels.ErrInsufficientBalance)

	// The failed attempt must not consume anything.
	_, total := w.Balance()
	require.Equal(t, int64(50000), total)
}

func TestCreateDepositTxUnconfirmed(t *testing.T) {
	w := newTestWallet(t)
	fund(t, w, 200000, false)

	_, err := w.CreateDepositTx(scriptAddr(t, w), 100000, 10000, false)
	require.ErrorIs(t, err, channels.ErrInsufficientBalance)

	_, err = w.CreateDepositTx(scriptAddr(t, w), 100000, 10000, true)
	require.NoError(t, err)
}

func TestFromExtendedKey(t *testing.T) {
	const xpriv = "tprv8ZgxMBicQKsPe4s4h67jp6E3zhvfLRU6gnfrHRiwdfL3dR6AWJCw8sCiiGDVM4Nvw3muHfsdfbWVZwDi5TdiwiHrfYDXxGrfRFoYtdF2vnb"

	w1, err := FromExtendedKey(xpriv, 0, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	w2, err := FromExtendedKey(xpriv, 1, &chaincfg.TestNet3Params)
	require.NoError(t, err)

	a1, err := w1.PayoutAddress()
	require.NoError(t, err)
	a2, err := w2.PayoutAddress()
	require.NoError(t, err)
	require.NotEqual(t, a1, a2)

	// Wrong network is rejected.
	_, err = FromExtendedKey(xpriv, 0, &chaincfg.MainNetParams)
	require.Error(t, err)
}

func TestSignMessage(t *testing.T) {
	w := newTestWallet(t)

	sig, err := w.SignMessage([]byte(fundingTxID))
	require.NoError(t, err)
	require.NoError(t, channels.VerifyMessage(
		[]byte(fundingTxID), sig, w.PrivateKey().PubKey()))
}
