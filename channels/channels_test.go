package channels

import (
	"encoding/hex"
	"testing"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/stretchr/testify/require"
)

const (
	customerWIF = "cRTgZtoTP8ueH4w7nob5reYTKpFLHvDV9UfUfa67f3SMCaZkGB6L"
	merchantWIF = "cUkJhR6V9Gjrw1enLJ7AHk37Bhtmfk3AyWkRLVhvHGYXSPj3mDLq"

	fundingTxID = "5b2c6c349612986a3e012bbc79e5e04d5ba965f0e8f968cf28c91681acbbeb34"
)

func setUpKeys(t *testing.T) (*chaincfg.Params, *btcec.PrivateKey, *btcec.PrivateKey) {
	t.Helper()
	net := &chaincfg.TestNet3Params

	cw, err := btcutil.DecodeWIF(customerWIF)
	require.NoError(t, err)
	mw, err := btcutil.DecodeWIF(merchantWIF)
	require.NoError(t, err)

	return net, cw.PrivKey, mw.PrivKey
}

func addressPubKey(t *testing.T, privKey *btcec.PrivateKey, net *chaincfg.Params) *btcutil.AddressPubKey {
	t.Helper()
	pk, err := btcutil.NewAddressPubKey(privKey.PubKey().SerializeCompressed(), net)
	require.NoError(t, err)
	return pk
}

func merchantPubKeyHex(t *testing.T, privKey *btcec.PrivateKey) string {
	t.Helper()
	return hex.EncodeToString(privKey.PubKey().SerializeCompressed())
}

// testWallet is a minimal Wallet over a single key. Funding inputs are
// fabricated; only channel spend signatures need to verify.
type testWallet struct {
	privKey *btcec.PrivateKey
	net     *chaincfg.Params
}

func (w *testWallet) PublicKey() (*btcutil.AddressPubKey, error) {
	return btcutil.NewAddressPubKey(w.privKey.PubKey().SerializeCompressed(), w.net)
}

func (w *testWallet) CreateDepositTx(addr btcutil.Address, amount, fee int64, useUnconfirmed bool) (*wire.MsgTx, error) {
	hash, err := chainhash.NewHashFromStr(fundingTxID)
	if err != nil {
		return nil, err
	}
	tx := wire.NewMsgTx(wire.TxVersion)
	tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, 0), nil, nil))

	// Change first so the channel output isn't at index zero.
	pk, err := w.PublicKey()
	if err != nil {
		return nil, err
	}
	changeScript, err := p2pkhScript(pk)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(50000, changeScript))

	depositScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount+fee, depositScript))
	return tx, nil
}

func (w *testWallet) SignSpendTx(tx *wire.MsgTx, redeemScript []byte) ([]byte, error) {
	return SpendSignature(tx, redeemScript, w.privKey)
}

func (w *testWallet) SignMessage(msg []byte) ([]byte, error) {
	return SignMessage(msg, w.privKey)
}

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	require.NoError(t, err)
	return b
}

// counterSign plays the merchant's half of the handshake: verify is the
// receiver's job, here we just add the second signature.
func counterSign(t *testing.T, txHex string, merchantKey *btcec.PrivateKey) string {
	t.Helper()

	tx, err := TxFromHex(txHex)
	require.NoError(t, err)
	sigs, script, err := SpendSigScriptParts(tx.TxIn[0].SignatureScript)
	require.NoError(t, err)
	require.Len(t, sigs, 1)

	msig, err := SpendSignature(tx, script, merchantKey)
	require.NoError(t, err)
	full, err := FullSigScript(sigs[0], msig, script)
	require.NoError(t, err)
	tx.TxIn[0].SignatureScript = full

	out, err := TxToHex(tx)
	require.NoError(t, err)
	return out
}
