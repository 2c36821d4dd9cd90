package channels

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// Typical channel spend tx size: ~340 bytes

// DustThreshold is the minimum output value the network will relay.
const DustThreshold = 546

// maxStandardTxSize mirrors btcd's standardness policy limit on
// serialized transaction size.
const maxStandardTxSize = 100000

// RedeemScript builds the channel redeem script: a plain 2-of-2 multisig
// over the customer and merchant keys, in that order. The refund's
// nLockTime is the only time lock in this design; there is no script-level
// locktime opcode.
func RedeemScript(customerPubKey, merchantPubKey *btcutil.AddressPubKey) ([]byte, error) {
	return txscript.MultiSigScript([]*btcutil.AddressPubKey{customerPubKey, merchantPubKey}, 2)
}

// ParseRedeemScript extracts the customer and merchant public keys from a
// channel redeem script.
func ParseRedeemScript(script []byte, net *chaincfg.Params) (customer, merchant *btcutil.AddressPubKey, err error) {
	class, addrs, nrequired, err := txscript.ExtractPkScriptAddrs(script, net)
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "unparseable redeem script")
	}
	if class != txscript.MultiSigTy || nrequired != 2 || len(addrs) != 2 {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "redeem script is not a 2-of-2 multisig")
	}
	c, ok := addrs[0].(*btcutil.AddressPubKey)
	if !ok {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "invalid customer public key")
	}
	m, ok := addrs[1].(*btcutil.AddressPubKey)
	if !ok {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "invalid merchant public key")
	}
	return c, m, nil
}

// ScriptAddress returns the P2SH address of a redeem script.
func ScriptAddress(script []byte, net *chaincfg.Params) (*btcutil.AddressScriptHash, error) {
	return btcutil.NewAddressScriptHash(script, net)
}

// DepositOutputIndex locates the deposit transaction output paying to the
// redeem script's P2SH address.
func DepositOutputIndex(depositTx *wire.MsgTx, redeemScript []byte, net *chaincfg.Params) (int, error) {
	addr, err := ScriptAddress(redeemScript, net)
	if err != nil {
		return 0, err
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return 0, err
	}
	for i, txout := range depositTx.TxOut {
		if bytes.Equal(txout.PkScript, pkScript) {
			return i, nil
		}
	}
	return 0, errors.Wrap(ErrInvalidTransaction, "deposit does not pay to the channel script hash")
}

// RedeemScriptFromSigScript extracts the redeem script from the final data
// push of a channel spend's signature script.
func RedeemScriptFromSigScript(sigScript []byte) ([]byte, error) {
	pushes, err := txscript.PushedData(sigScript)
	if err != nil || len(pushes) == 0 {
		return nil, errors.Wrap(ErrInvalidTransaction, "no redeem script in signature script")
	}
	return pushes[len(pushes)-1], nil
}

// SpendSignature produces a DER signature (with the SIGHASH_ALL byte
// appended) for input 0 of a channel spend.
func SpendSignature(tx *wire.MsgTx, redeemScript []byte, privKey *btcec.PrivateKey) ([]byte, error) {
	return txscript.RawTxInSignature(tx, 0, redeemScript, txscript.SigHashAll, privKey)
}

// VerifySpendSignature checks a single DER signature (with appended
// SIGHASH_ALL byte) for input 0 of a channel spend against the given key.
func VerifySpendSignature(tx *wire.MsgTx, redeemScript, sig []byte, pubKey *btcutil.AddressPubKey) error {
	if len(sig) < 2 || sig[len(sig)-1] != byte(txscript.SigHashAll) {
		return errors.Wrap(ErrInvalidTransaction, "unsupported sighash type")
	}
	hash, err := txscript.CalcSignatureHash(redeemScript, txscript.SigHashAll, tx, 0)
	if err != nil {
		return err
	}
	parsed, err := btcec.ParseDERSignature(sig[:len(sig)-1], btcec.S256())
	if err != nil {
		return errors.Wrap(ErrInvalidTransaction, "malformed signature")
	}
	if !parsed.Verify(hash, pubKey.PubKey()) {
		return errors.Wrap(ErrInvalidTransaction, "signature verification failed")
	}
	return nil
}

// HalfSignedSigScript assembles the customer's half of a channel spend
// signature script. The merchant's signature slot is left empty.
func HalfSignedSigScript(customerSig, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_FALSE)
	b.AddData(customerSig)
	b.AddData(redeemScript)
	return b.Script()
}

// FullSigScript assembles the fully-signed channel spend signature script.
// Signature order follows key order in the redeem script: customer first.
func FullSigScript(customerSig, merchantSig, redeemScript []byte) ([]byte, error) {
	b := txscript.NewScriptBuilder()
	b.AddOp(txscript.OP_FALSE)
	b.AddData(customerSig)
	b.AddData(merchantSig)
	b.AddData(redeemScript)
	return b.Script()
}

// SpendSigScriptParts splits a channel spend signature script into its
// signature pushes and redeem script. Accepts both the half-signed
// (customer only) and fully-signed forms.
func SpendSigScriptParts(sigScript []byte) (sigs [][]byte, redeemScript []byte, err error) {
	pushes, err := txscript.PushedData(sigScript)
	if err != nil {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "unparseable signature script")
	}
	// OP_FALSE push, one or two signatures, redeem script.
	if len(pushes) < 3 || len(pushes) > 4 {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "unexpected signature script structure")
	}
	if len(pushes[0]) != 0 {
		return nil, nil, errors.Wrap(ErrInvalidTransaction, "missing leading OP_FALSE")
	}
	return pushes[1 : len(pushes)-1], pushes[len(pushes)-1], nil
}

// VerifySpend runs the script engine over input 0 of a fully-signed
// channel spend against the deposit output it claims to spend.
func VerifySpend(tx *wire.MsgTx, depositPkScript []byte, inputValue int64) error {
	engine, err := txscript.NewEngine(depositPkScript, tx, 0, txscript.StandardVerifyFlags, nil, nil, inputValue)
	if err != nil {
		return errors.Wrap(ErrInvalidTransaction, err.Error())
	}
	if err := engine.Execute(); err != nil {
		return errors.Wrap(ErrInvalidTransaction, err.Error())
	}
	if tx.SerializeSize() >= maxStandardTxSize {
		return errors.Wrap(ErrInvalidTransaction, "tx too big")
	}
	return nil
}

// MessageDigest is the digest signed by SignMessage: a double-SHA256 over
// the raw message bytes.
func MessageDigest(msg []byte) []byte {
	return chainhash.DoubleHashB(msg)
}

// SignMessage signs an arbitrary message (typically the ASCII deposit
// txid) with the given key, returning a DER signature.
func SignMessage(msg []byte, privKey *btcec.PrivateKey) ([]byte, error) {
	sig, err := privKey.Sign(MessageDigest(msg))
	if err != nil {
		return nil, err
	}
	return sig.Serialize(), nil
}

// VerifyMessage verifies a DER message signature against a public key.
func VerifyMessage(msg, sig []byte, pubKey *btcec.PublicKey) error {
	parsed, err := btcec.ParseDERSignature(sig, btcec.S256())
	if err != nil {
		return errors.Wrap(ErrInvalidTransaction, "malformed signature")
	}
	if !parsed.Verify(MessageDigest(msg), pubKey) {
		return errors.Wrap(ErrInvalidTransaction, "signature verification failed")
	}
	return nil
}

// TxToHex serializes a transaction to hex.
func TxToHex(tx *wire.MsgTx) (string, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// TxFromHex deserializes a hex-encoded transaction.
func TxFromHex(s string) (*wire.MsgTx, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrap(ErrInvalidTransaction, "invalid transaction hex")
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, errors.Wrap(ErrInvalidTransaction, "unparseable transaction")
	}
	return &tx, nil
}

// TxID returns the transaction id in RPC byte order.
func TxID(tx *wire.MsgTx) string {
	return tx.TxHash().String()
}
