package channels

import (
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

func buildDeposit(t *testing.T) (*wire.MsgTx, []byte) {
	t.Helper()
	net, customerKey, merchantKey := setUpKeys(t)

	customer := addressPubKey(t, customerKey, net)
	merchant := addressPubKey(t, merchantKey, net)
	script, err := RedeemScript(customer, merchant)
	require.NoError(t, err)
	addr, err := ScriptAddress(script, net)
	require.NoError(t, err)

	w := &testWallet{privKey: customerKey, net: net}
	depositTx, err := w.CreateDepositTx(addr, testDeposit, testFee, false)
	require.NoError(t, err)
	return depositTx, script
}

func TestCreateRefundTx(t *testing.T) {
	net, _, _ := setUpKeys(t)
	depositTx, script := buildDeposit(t)

	refund, err := CreateRefundTx(depositTx, script, net, testExpiration, testFee)
	require.NoError(t, err)

	require.Len(t, refund.TxIn, 1)
	require.Len(t, refund.TxOut, 1)
	require.Equal(t, int64(testDeposit), refund.TxOut[0].Value)
	require.Equal(t, uint32(testExpiration), refund.LockTime)
	require.Equal(t, uint32(0), refund.TxIn[0].Sequence)
	require.Equal(t, depositTx.TxHash(), refund.TxIn[0].PreviousOutPoint.Hash)
}

func TestCreateRefundTxRejectsDust(t *testing.T) {
	net, _, _ := setUpKeys(t)
	depositTx, script := buildDeposit(t)

	// Fee eats nearly the whole deposit output.
	_, err := CreateRefundTx(depositTx, script, net, testExpiration,
		testDeposit+testFee-100)
	require.ErrorIs(t, err, ErrAmountTooSmall)
}

func TestCreatePaymentTx(t *testing.T) {
	net, customerKey, merchantKey := setUpKeys(t)
	depositTx, script := buildDeposit(t)

	tx, err := CreatePaymentTx(depositTx, script, net, 1500, testFee)
	require.NoError(t, err)
	require.Len(t, tx.TxOut, 2)

	merchant := addressPubKey(t, merchantKey, net)
	customer := addressPubKey(t, customerKey, net)
	require.Equal(t, 0, OutputIndexForPubKey(tx, merchant))
	require.Equal(t, int64(1500), tx.TxOut[0].Value)
	require.Equal(t, 1, OutputIndexForPubKey(tx, customer))
	require.Equal(t, int64(testDeposit-1500), tx.TxOut[1].Value)
	require.Equal(t, uint32(wire.MaxTxInSequenceNum), tx.TxIn[0].Sequence)
	require.Equal(t, uint32(0), tx.LockTime)
}

func TestCreatePaymentTxBounds(t *testing.T) {
	net, _, _ := setUpKeys(t)
	depositTx, script := buildDeposit(t)

	_, err := CreatePaymentTx(depositTx, script, net, 0, testFee)
	require.ErrorIs(t, err, ErrAmountTooSmall)

	_, err = CreatePaymentTx(depositTx, script, net, testDeposit+1, testFee)
	require.ErrorIs(t, err, ErrInsufficientBalance)
}
