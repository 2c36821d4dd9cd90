package channels

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// All values are integer satoshis. The fee is always subtracted from the
// deposit output, never added on top:
//
//	depositOutput == refundOutput + fee == paymentOutputsTotal + fee

const (
	refundSequence  = 0
	paymentSequence = wire.MaxTxInSequenceNum
)

func p2pkhScript(pubKey *btcutil.AddressPubKey) ([]byte, error) {
	return txscript.PayToAddrScript(pubKey.AddressPubKeyHash())
}

// OutputIndexForPubKey finds the output paying P2PKH to the given key, or
// -1 if there is none.
func OutputIndexForPubKey(tx *wire.MsgTx, pubKey *btcutil.AddressPubKey) int {
	script, err := p2pkhScript(pubKey)
	if err != nil {
		return -1
	}
	for i, txout := range tx.TxOut {
		if bytes.Equal(txout.PkScript, script) {
			return i
		}
	}
	return -1
}

func spendDepositTx(depositTx *wire.MsgTx, redeemScript []byte, net *chaincfg.Params, sequence uint32) (*wire.MsgTx, int, error) {
	index, err := DepositOutputIndex(depositTx, redeemScript, net)
	if err != nil {
		return nil, 0, err
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	hash := depositTx.TxHash()
	txin := wire.NewTxIn(wire.NewOutPoint(&hash, uint32(index)), nil, nil)
	txin.Sequence = sequence
	tx.AddTxIn(txin)
	return tx, index, nil
}

// CreateRefundTx builds the unsigned, time-locked refund: a single input
// spending the deposit's script output and a single output returning
// depositOutput-fee to the customer key taken from the redeem script.
// The lock time is fixed to the expiration time and never mutated.
func CreateRefundTx(depositTx *wire.MsgTx, redeemScript []byte, net *chaincfg.Params, expirationTime int64, fee int64) (*wire.MsgTx, error) {
	customerPubKey, _, err := ParseRedeemScript(redeemScript, net)
	if err != nil {
		return nil, err
	}

	tx, index, err := spendDepositTx(depositTx, redeemScript, net, refundSequence)
	if err != nil {
		return nil, err
	}

	amount := depositTx.TxOut[index].Value - fee
	if amount < DustThreshold {
		return nil, errors.Wrap(ErrAmountTooSmall, "refund output below dust")
	}
	script, err := p2pkhScript(customerPubKey)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount, script))
	tx.LockTime = uint32(expirationTime)
	return tx, nil
}

// CreatePaymentTx builds the unsigned payment transaction: a single final
// input spending the deposit's script output and two outputs, the
// cumulative amount to the merchant and the remainder (after fee) back to
// the customer.
func CreatePaymentTx(depositTx *wire.MsgTx, redeemScript []byte, net *chaincfg.Params, amount int64, fee int64) (*wire.MsgTx, error) {
	customerPubKey, merchantPubKey, err := ParseRedeemScript(redeemScript, net)
	if err != nil {
		return nil, err
	}

	tx, index, err := spendDepositTx(depositTx, redeemScript, net, paymentSequence)
	if err != nil {
		return nil, err
	}

	depositOutput := depositTx.TxOut[index].Value
	change := depositOutput - fee - amount
	if amount <= 0 {
		return nil, ErrAmountTooSmall
	}
	if change < 0 {
		return nil, ErrInsufficientBalance
	}

	merchantScript, err := p2pkhScript(merchantPubKey)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount, merchantScript))

	customerScript, err := p2pkhScript(customerPubKey)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(change, customerScript))

	return tx, nil
}
