package channels

import (
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
)

// Wallet is the key and funding capability the state machine consumes.
// Implementations live outside this package.
type Wallet interface {
	// PublicKey returns the customer public key used in the channel
	// redeem script.
	PublicKey() (*btcutil.AddressPubKey, error)

	// CreateDepositTx builds and signs a transaction funding
	// amount+fee to the given script address from the wallet's UTXOs.
	// Returns ErrInsufficientBalance if funds are short.
	CreateDepositTx(addr btcutil.Address, amount, fee int64, useUnconfirmed bool) (*wire.MsgTx, error)

	// SignSpendTx produces the customer signature (DER with SIGHASH_ALL
	// byte) over input 0 of a channel spend.
	SignSpendTx(tx *wire.MsgTx, redeemScript []byte) ([]byte, error)

	// SignMessage signs an arbitrary message with the channel key,
	// returning a DER signature.
	SignMessage(msg []byte) ([]byte, error)
}

// StateMachine drives a single channel Model through its lifecycle. It is
// pure transition logic: no network and no persistence. Transitions
// mutate the model in place; callers persist it afterwards.
type StateMachine struct {
	model  *Model
	wallet Wallet
	net    *chaincfg.Params

	// Temporary state between READY and OUTSTANDING.
	pendingPaymentTx *wire.MsgTx
}

func NewStateMachine(model *Model, wallet Wallet) (*StateMachine, error) {
	net, err := GetParams(model.Net)
	if err != nil {
		return nil, err
	}
	return &StateMachine{
		model:  model,
		wallet: wallet,
		net:    net,
	}, nil
}

// Create opens a new channel: it builds the deposit and the half-signed
// refund and returns the refund hex to send to the merchant along with a
// finish callback. The callback verifies the merchant's fully-signed
// refund and transitions to CONFIRMING_DEPOSIT, or directly to READY when
// zeroconf is set.
func (sm *StateMachine) Create(merchantPubKey string, deposit, expirationTime, fee int64, zeroconf, useUnconfirmed bool) (string, func(string) error, error) {
	if sm.model.Status != StatusOpening {
		return "", nil, errors.Wrap(ErrStateTransition, "channel is not opening")
	}
	if deposit <= 0 {
		return "", nil, errors.New("deposit must be positive")
	}
	if fee <= 0 {
		return "", nil, errors.New("fee must be positive")
	}
	if expirationTime <= 0 {
		return "", nil, errors.New("expiration time must be positive")
	}

	customerPubKey, err := sm.wallet.PublicKey()
	if err != nil {
		return "", nil, err
	}
	merchantKeyBytes, err := hex.DecodeString(merchantPubKey)
	if err != nil {
		return "", nil, errors.New("invalid merchant public key")
	}
	merchantAddrPubKey, err := btcutil.NewAddressPubKey(merchantKeyBytes, sm.net)
	if err != nil {
		return "", nil, errors.New("invalid merchant public key")
	}

	redeemScript, err := RedeemScript(customerPubKey, merchantAddrPubKey)
	if err != nil {
		return "", nil, err
	}
	scriptAddr, err := ScriptAddress(redeemScript, sm.net)
	if err != nil {
		return "", nil, err
	}

	depositTx, err := sm.wallet.CreateDepositTx(scriptAddr, deposit, fee, useUnconfirmed)
	if err != nil {
		return "", nil, err
	}

	refundTx, err := CreateRefundTx(depositTx, redeemScript, sm.net, expirationTime, fee)
	if err != nil {
		return "", nil, err
	}
	customerSig, err := sm.wallet.SignSpendTx(refundTx, redeemScript)
	if err != nil {
		return "", nil, err
	}
	refundTx.TxIn[0].SignatureScript, err = HalfSignedSigScript(customerSig, redeemScript)
	if err != nil {
		return "", nil, err
	}

	sm.model.CreationTime = time.Now().Unix()
	sm.model.DepositTx = depositTx
	sm.model.RefundTx = refundTx

	refundHex, err := TxToHex(refundTx)
	if err != nil {
		return "", nil, err
	}

	finish := func(signedRefundHex string) error {
		signed, err := TxFromHex(signedRefundHex)
		if err != nil {
			return err
		}
		if err := sm.verifySignedRefund(signed, depositTx, redeemScript, expirationTime, fee, customerPubKey, merchantAddrPubKey); err != nil {
			return err
		}

		sm.model.RefundTx = signed
		if zeroconf {
			sm.model.Status = StatusReady
		} else {
			sm.model.Status = StatusConfirmingDeposit
		}
		return nil
	}

	return refundHex, finish, nil
}

func (sm *StateMachine) verifySignedRefund(signed, depositTx *wire.MsgTx, redeemScript []byte, expirationTime, fee int64, customerPubKey, merchantPubKey *btcutil.AddressPubKey) error {
	index, err := DepositOutputIndex(depositTx, redeemScript, sm.net)
	if err != nil {
		return err
	}

	if len(signed.TxIn) != 1 {
		return errors.Wrap(ErrInvalidTransaction, "wrong number of refund inputs")
	}
	outpoint := signed.TxIn[0].PreviousOutPoint
	if outpoint.Hash != depositTx.TxHash() || outpoint.Index != uint32(index) {
		return errors.Wrap(ErrInvalidTransaction, "refund does not spend the deposit")
	}
	if len(signed.TxOut) != 1 {
		return errors.Wrap(ErrInvalidTransaction, "wrong number of refund outputs")
	}
	if OutputIndexForPubKey(signed, customerPubKey) != 0 {
		return errors.Wrap(ErrInvalidTransaction, "refund does not pay the customer")
	}
	if expected := depositTx.TxOut[index].Value - fee; signed.TxOut[0].Value != expected {
		return errors.Wrap(ErrInvalidTransaction, "wrong refund output value")
	}
	if signed.LockTime != uint32(expirationTime) {
		return errors.Wrap(ErrInvalidTransaction, "refund lock time mismatch")
	}

	sigs, script, err := SpendSigScriptParts(signed.TxIn[0].SignatureScript)
	if err != nil {
		return err
	}
	if string(script) != string(redeemScript) {
		return errors.Wrap(ErrInvalidTransaction, "refund redeem script mismatch")
	}
	if len(sigs) != 2 {
		return errors.Wrap(ErrInvalidTransaction, "refund is not fully signed")
	}
	if err := VerifySpendSignature(signed, redeemScript, sigs[0], customerPubKey); err != nil {
		return err
	}
	return VerifySpendSignature(signed, redeemScript, sigs[1], merchantPubKey)
}

// Confirm records confirmation of the deposit on-chain.
func (sm *StateMachine) Confirm() error {
	if sm.model.Status != StatusConfirmingDeposit {
		return errors.Wrap(ErrStateTransition, "channel is not confirming deposit")
	}
	sm.model.Status = StatusReady
	return nil
}

// Pay builds the half-signed payment transaction reflecting the cumulative
// spend to date plus amount. The model is not mutated beyond the state
// flag until PayAck commits the pending payment.
func (sm *StateMachine) Pay(amount int64) (string, error) {
	if sm.model.Status != StatusReady {
		return "", errors.Wrap(ErrStateTransition, "channel not ready")
	}
	if amount <= 0 {
		return "", ErrAmountTooSmall
	}
	if amount > sm.BalanceAmount() {
		return "", errors.Wrapf(ErrInsufficientBalance,
			"requested %d, remaining balance %d", amount, sm.BalanceAmount())
	}

	redeemScript, err := sm.RedeemScript()
	if err != nil {
		return "", err
	}

	cumulative := sm.DepositAmount() - sm.BalanceAmount() + amount
	paymentTx, err := CreatePaymentTx(sm.model.DepositTx, redeemScript, sm.net, cumulative, sm.FeeAmount())
	if err != nil {
		return "", err
	}
	customerSig, err := sm.wallet.SignSpendTx(paymentTx, redeemScript)
	if err != nil {
		return "", err
	}
	paymentTx.TxIn[0].SignatureScript, err = HalfSignedSigScript(customerSig, redeemScript)
	if err != nil {
		return "", err
	}

	sm.pendingPaymentTx = paymentTx
	sm.model.Status = StatusOutstanding

	return TxToHex(paymentTx)
}

// PayAck commits the pending payment as the channel's latest payment
// transaction; the balance decreases accordingly.
func (sm *StateMachine) PayAck() error {
	if sm.model.Status != StatusOutstanding {
		return errors.Wrap(ErrStateTransition, "no payment outstanding")
	}
	sm.model.PaymentTx = sm.pendingPaymentTx
	sm.pendingPaymentTx = nil
	sm.model.Status = StatusReady
	return nil
}

// PayNack discards the pending payment, leaving the balance unchanged.
func (sm *StateMachine) PayNack() error {
	if sm.model.Status != StatusOutstanding {
		return errors.Wrap(ErrStateTransition, "no payment outstanding")
	}
	sm.pendingPaymentTx = nil
	sm.model.Status = StatusReady
	return nil
}

// Close records the candidate spend txid (may be empty if unknown) and
// moves to CONFIRMING_SPEND. From OPENING, where nothing was ever
// broadcast, the channel goes straight to CLOSED. Closing an
// already-closed channel is a no-op.
func (sm *StateMachine) Close(spendTxID string) error {
	switch sm.model.Status {
	case StatusClosed:
		return nil
	case StatusOpening:
		sm.model.Status = StatusClosed
		return nil
	}
	sm.model.SpendTxID = spendTxID
	sm.model.Status = StatusConfirmingSpend
	return nil
}

// Finalize validates the given spend of this channel's deposit output,
// records it, and closes the channel. Calling Finalize on an already
// closed channel overwrites the spend idempotently.
func (sm *StateMachine) Finalize(spendTxHex string) error {
	if sm.model.Status == StatusOpening {
		return errors.Wrap(ErrStateTransition, "channel not open")
	}

	spendTx, err := TxFromHex(spendTxHex)
	if err != nil {
		return err
	}
	redeemScript, err := sm.RedeemScript()
	if err != nil {
		return err
	}
	index, err := DepositOutputIndex(sm.model.DepositTx, redeemScript, sm.net)
	if err != nil {
		return err
	}

	if len(spendTx.TxIn) != 1 {
		return errors.Wrap(ErrInvalidTransaction, "wrong number of spend inputs")
	}
	outpoint := spendTx.TxIn[0].PreviousOutPoint
	if outpoint.Hash != sm.model.DepositTx.TxHash() || outpoint.Index != uint32(index) {
		return errors.Wrap(ErrInvalidTransaction, "spend does not use the deposit")
	}

	customerPubKey, _, err := ParseRedeemScript(redeemScript, sm.net)
	if err != nil {
		return err
	}
	if OutputIndexForPubKey(spendTx, customerPubKey) < 0 {
		return errors.Wrap(ErrInvalidTransaction, "spend does not pay the customer")
	}

	depositPkScript := sm.model.DepositTx.TxOut[index].PkScript
	if err := VerifySpend(spendTx, depositPkScript, sm.model.DepositTx.TxOut[index].Value); err != nil {
		return err
	}

	sm.model.SpendTx = spendTx
	sm.model.SpendTxID = TxID(spendTx)
	sm.model.Status = StatusClosed
	return nil
}

// Accessors

func (sm *StateMachine) Status() Status { return sm.model.Status }

// DepositAmount is the channel's usable deposit: the refund output value.
func (sm *StateMachine) DepositAmount() int64 {
	if sm.model.RefundTx == nil {
		return 0
	}
	return sm.model.RefundTx.TxOut[0].Value
}

// FeeAmount is the fee reserved for the channel spend.
func (sm *StateMachine) FeeAmount() int64 {
	if sm.model.RefundTx == nil || sm.model.DepositTx == nil {
		return 0
	}
	redeemScript, err := sm.RedeemScript()
	if err != nil {
		return 0
	}
	index, err := DepositOutputIndex(sm.model.DepositTx, redeemScript, sm.net)
	if err != nil {
		return 0
	}
	return sm.model.DepositTx.TxOut[index].Value - sm.model.RefundTx.TxOut[0].Value
}

// BalanceAmount is the channel balance still spendable by the customer.
func (sm *StateMachine) BalanceAmount() int64 {
	if sm.model.SpendTx != nil {
		customerPubKey, err := sm.customerPubKey()
		if err != nil {
			return 0
		}
		index := OutputIndexForPubKey(sm.model.SpendTx, customerPubKey)
		if index < 0 {
			return 0
		}
		return sm.model.SpendTx.TxOut[index].Value
	}
	if sm.model.PaymentTx != nil {
		merchantPubKey, err := sm.merchantPubKey()
		if err != nil {
			return 0
		}
		index := OutputIndexForPubKey(sm.model.PaymentTx, merchantPubKey)
		if index < 0 {
			return 0
		}
		return sm.DepositAmount() - sm.model.PaymentTx.TxOut[index].Value
	}
	return sm.DepositAmount()
}

// ExpirationTime is the refund lock time, fixed at creation.
func (sm *StateMachine) ExpirationTime() int64 {
	if sm.model.RefundTx == nil {
		return 0
	}
	return int64(sm.model.RefundTx.LockTime)
}

func (sm *StateMachine) CreationTime() int64 { return sm.model.CreationTime }

// RedeemScript extracts the channel redeem script from the refund's
// signature script.
func (sm *StateMachine) RedeemScript() ([]byte, error) {
	if sm.model.RefundTx == nil {
		return nil, errors.Wrap(ErrInvalidTransaction, "no refund transaction")
	}
	return RedeemScriptFromSigScript(sm.model.RefundTx.TxIn[0].SignatureScript)
}

func (sm *StateMachine) customerPubKey() (*btcutil.AddressPubKey, error) {
	script, err := sm.RedeemScript()
	if err != nil {
		return nil, err
	}
	customer, _, err := ParseRedeemScript(script, sm.net)
	return customer, err
}

func (sm *StateMachine) merchantPubKey() (*btcutil.AddressPubKey, error) {
	script, err := sm.RedeemScript()
	if err != nil {
		return nil, err
	}
	_, merchant, err := ParseRedeemScript(script, sm.net)
	return merchant, err
}

// DepositOutputIndex is the deposit transaction's channel script output.
func (sm *StateMachine) DepositOutputIndex() (int, error) {
	script, err := sm.RedeemScript()
	if err != nil {
		return 0, err
	}
	return DepositOutputIndex(sm.model.DepositTx, script, sm.net)
}

func (sm *StateMachine) DepositTxID() string {
	if sm.model.DepositTx == nil {
		return ""
	}
	return TxID(sm.model.DepositTx)
}

func (sm *StateMachine) RefundTxID() string {
	if sm.model.RefundTx == nil {
		return ""
	}
	return TxID(sm.model.RefundTx)
}

func (sm *StateMachine) PaymentTxID() string {
	if sm.model.PaymentTx == nil {
		return ""
	}
	return TxID(sm.model.PaymentTx)
}

func (sm *StateMachine) SpendTxID() string {
	if sm.model.SpendTx != nil {
		return TxID(sm.model.SpendTx)
	}
	return sm.model.SpendTxID
}

func (sm *StateMachine) DepositTxHex() (string, error) {
	if sm.model.DepositTx == nil {
		return "", nil
	}
	return TxToHex(sm.model.DepositTx)
}

func (sm *StateMachine) RefundTxHex() (string, error) {
	if sm.model.RefundTx == nil {
		return "", nil
	}
	return TxToHex(sm.model.RefundTx)
}

func (sm *StateMachine) PaymentTxHex() (string, error) {
	if sm.model.PaymentTx == nil {
		return "", nil
	}
	return TxToHex(sm.model.PaymentTx)
}

// DepositTxIDSignature signs the ASCII deposit txid with the channel key.
// It authenticates close requests to the merchant.
func (sm *StateMachine) DepositTxIDSignature() (string, error) {
	if sm.model.DepositTx == nil {
		return "", errors.Wrap(ErrInvalidTransaction, "no deposit transaction")
	}
	sig, err := sm.wallet.SignMessage([]byte(sm.DepositTxID()))
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sig), nil
}
