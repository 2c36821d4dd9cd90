// Package receiver implements the merchant side of the payment channel
// protocol: the handshake that countersigns refunds, acceptance of
// half-signed payment transactions, channel close and payment redemption.
package receiver

import (
	"bytes"
	"encoding/hex"
	"time"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/turnstilepay/turnstile/blockchain"
	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/storage"
)

// Default merchant policy values.
const (
	DefaultMinTxFee = 5000

	DefaultMinExpTime    = 4 * time.Hour
	DefaultExpTimeBuffer = 4 * time.Hour
)

// Config is the merchant acceptance policy.
type Config struct {
	Net string

	// MinTxFee is the minimum implied network fee a payment tx must
	// leave (deposit output value minus the sum of its outputs).
	MinTxFee int64

	// MinExpTime is the minimum distance between now and the refund
	// lock time accepted at handshake.
	MinExpTime time.Duration

	// ExpTimeBuffer is how long before expiry Sync force-closes open
	// channels by broadcasting the latest payment tx.
	ExpTimeBuffer time.Duration
}

func DefaultConfig(net string) Config {
	return Config{
		Net:           net,
		MinTxFee:      DefaultMinTxFee,
		MinExpTime:    DefaultMinExpTime,
		ExpTimeBuffer: DefaultExpTimeBuffer,
	}
}

// Receiver is the merchant payment server core. It is transport-agnostic:
// cmd/tsserver maps it onto HTTP, client.Direct calls it in-process.
type Receiver struct {
	net     *chaincfg.Params
	privKey *btcec.PrivateKey
	bc      blockchain.Blockchain
	db      storage.MerchantStore
	config  Config
	log     zerolog.Logger
}

func NewReceiver(config Config, privKey *btcec.PrivateKey,
	bc blockchain.Blockchain, db storage.MerchantStore,
	log zerolog.Logger) (*Receiver, error) {

	net, err := channels.GetParams(config.Net)
	if err != nil {
		return nil, err
	}
	return &Receiver{
		net:     net,
		privKey: privKey,
		bc:      bc,
		db:      db,
		config:  config,
		log:     log,
	}, nil
}

func (r *Receiver) pubKey() (*btcutil.AddressPubKey, error) {
	return btcutil.NewAddressPubKey(
		r.privKey.PubKey().SerializeCompressed(), r.net)
}

// Discovery returns the protocol version and the merchant public key the
// customer builds the redeem script with.
func (r *Receiver) Discovery() (*models.DiscoveryResponse, error) {
	pk, err := r.pubKey()
	if err != nil {
		return nil, err
	}
	return &models.DiscoveryResponse{
		Version:   channels.Version,
		PublicKey: hex.EncodeToString(pk.PubKey().SerializeCompressed()),
	}, nil
}

// splitKeys identifies which of the redeem script keys is the merchant's
// own and returns (customer, merchant).
func (r *Receiver) splitKeys(redeemScript []byte) (*btcutil.AddressPubKey, *btcutil.AddressPubKey, error) {
	k1, k2, err := channels.ParseRedeemScript(redeemScript, r.net)
	if err != nil {
		return nil, nil, err
	}
	own := r.privKey.PubKey().SerializeCompressed()
	if bytes.Equal(k2.PubKey().SerializeCompressed(), own) {
		return k1, k2, nil
	}
	if bytes.Equal(k1.PubKey().SerializeCompressed(), own) {
		return k2, k1, nil
	}
	return nil, nil, errors.Wrap(ErrBadTransaction,
		"redeem script does not include the merchant key")
}

// InitializeHandshake verifies and countersigns the customer's
// half-signed refund transaction, creating the channel record.
func (r *Receiver) InitializeHandshake(req *models.OpenRequest) (*models.OpenResponse, error) {
	refundTx, err := channels.TxFromHex(req.RefundTx)
	if err != nil {
		return nil, errors.Wrap(ErrBadTransaction, err.Error())
	}
	if len(refundTx.TxIn) != 1 {
		return nil, errors.Wrap(ErrBadTransaction, "refund must have one input")
	}

	sigs, redeemScript, err := channels.SpendSigScriptParts(
		refundTx.TxIn[0].SignatureScript)
	if err != nil {
		return nil, errors.Wrap(ErrBadTransaction, err.Error())
	}
	if len(sigs) != 1 {
		return nil, errors.Wrap(ErrBadTransaction, "refund must be half-signed")
	}

	customerKey, _, err := r.splitKeys(redeemScript)
	if err != nil {
		return nil, err
	}
	err = channels.VerifySpendSignature(refundTx, redeemScript, sigs[0], customerKey)
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, err.Error())
	}

	minLockTime := time.Now().Add(r.config.MinExpTime).Unix()
	if int64(refundTx.LockTime) < minLockTime {
		return nil, ErrExpirationTooSoon
	}

	merchantSig, err := channels.SpendSignature(refundTx, redeemScript, r.privKey)
	if err != nil {
		return nil, err
	}
	fullScript, err := channels.FullSigScript(sigs[0], merchantSig, redeemScript)
	if err != nil {
		return nil, err
	}
	refundTx.TxIn[0].SignatureScript = fullScript

	fullHex, err := channels.TxToHex(refundTx)
	if err != nil {
		return nil, err
	}

	depositTxID := refundTx.TxIn[0].PreviousOutPoint.Hash.String()
	pk, err := r.pubKey()
	if err != nil {
		return nil, err
	}

	rec := &storage.ChannelRecord{
		DepositTxID:    depositTxID,
		State:          storage.ChannelCreated,
		RefundTx:       fullHex,
		MerchantPubKey: hex.EncodeToString(pk.PubKey().SerializeCompressed()),
		ExpiresAt:      int64(refundTx.LockTime),
		CreatedAt:      time.Now().Unix(),
	}
	if err := r.db.CreateChannel(rec); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, ErrDuplicateRequest
		}
		return nil, err
	}

	r.log.Info().
		Str("deposit_txid", depositTxID).
		Int64("expires_at", rec.ExpiresAt).
		Msg("channel handshake initialized")

	return &models.OpenResponse{RefundTx: fullHex}, nil
}

// redeemScriptFor recovers the channel redeem script from the stored
// countersigned refund.
func redeemScriptFor(rec *storage.ChannelRecord) ([]byte, error) {
	refundTx, err := channels.TxFromHex(rec.RefundTx)
	if err != nil {
		return nil, err
	}
	return channels.RedeemScriptFromSigScript(refundTx.TxIn[0].SignatureScript)
}

// CompleteHandshake records the broadcast deposit transaction and moves
// the channel to confirming.
func (r *Receiver) CompleteHandshake(depositTxID string, req *models.FinishRequest) error {
	rec, err := r.db.GetChannel(depositTxID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	if rec.DepositTx != "" {
		return errors.Wrap(ErrDuplicateRequest, "deposit already recorded")
	}

	depositTx, err := channels.TxFromHex(req.DepositTx)
	if err != nil {
		return errors.Wrap(ErrBadTransaction, err.Error())
	}
	if channels.TxID(depositTx) != depositTxID {
		return errors.Wrap(ErrBadTransaction, "deposit txid mismatch")
	}

	redeemScript, err := redeemScriptFor(rec)
	if err != nil {
		return err
	}
	index, err := channels.DepositOutputIndex(depositTx, redeemScript, r.net)
	if err != nil {
		return errors.Wrap(ErrBadTransaction, "deposit pays no channel output")
	}

	rec.DepositTx = req.DepositTx
	rec.Amount = depositTx.TxOut[index].Value
	rec.State = storage.ChannelConfirming
	if err := r.db.UpdateChannel(rec); err != nil {
		return err
	}

	r.log.Info().
		Str("deposit_txid", depositTxID).
		Int64("amount", rec.Amount).
		Msg("channel deposit recorded")
	return nil
}

// ReceivePayment validates and countersigns a half-signed payment
// transaction, recording the incremental spend.
func (r *Receiver) ReceivePayment(depositTxID string, req *models.PayRequest) (*models.PayResponse, error) {
	rec, err := r.db.GetChannel(depositTxID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if rec.State != storage.ChannelConfirming && rec.State != storage.ChannelReady {
		return nil, errors.Wrap(ErrChannelState, "channel not open for payments")
	}

	paymentTx, err := channels.TxFromHex(req.PaymentTx)
	if err != nil {
		return nil, errors.Wrap(ErrBadTransaction, err.Error())
	}
	if len(paymentTx.TxIn) != 1 {
		return nil, errors.Wrap(ErrBadTransaction, "payment must have one input")
	}
	if paymentTx.TxIn[0].PreviousOutPoint.Hash.String() != depositTxID {
		return nil, errors.Wrap(ErrBadTransaction, "payment does not spend the channel deposit")
	}

	sigs, redeemScript, err := channels.SpendSigScriptParts(
		paymentTx.TxIn[0].SignatureScript)
	if err != nil {
		return nil, errors.Wrap(ErrBadTransaction, err.Error())
	}
	if len(sigs) != 1 {
		return nil, errors.Wrap(ErrBadTransaction, "payment must be half-signed")
	}

	channelScript, err := redeemScriptFor(rec)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(redeemScript, channelScript) {
		return nil, errors.Wrap(ErrBadTransaction, "redeem script mismatch")
	}

	customerKey, merchantKey, err := r.splitKeys(redeemScript)
	if err != nil {
		return nil, err
	}
	err = channels.VerifySpendSignature(paymentTx, redeemScript, sigs[0], customerKey)
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, err.Error())
	}

	index := channels.OutputIndexForPubKey(paymentTx, merchantKey)
	if index < 0 {
		return nil, errors.Wrap(ErrBadTransaction, "no merchant output")
	}
	amount := paymentTx.TxOut[index].Value

	if amount <= rec.LastPaymentAmount {
		return nil, ErrAmountTooLow
	}

	var outputsTotal int64
	for _, out := range paymentTx.TxOut {
		outputsTotal += out.Value
	}
	if rec.Amount < outputsTotal+r.config.MinTxFee {
		return nil, ErrInsufficientFee
	}

	merchantSig, err := channels.SpendSignature(paymentTx, redeemScript, r.privKey)
	if err != nil {
		return nil, err
	}
	fullScript, err := channels.FullSigScript(sigs[0], merchantSig, redeemScript)
	if err != nil {
		return nil, err
	}
	paymentTx.TxIn[0].SignatureScript = fullScript

	fullHex, err := channels.TxToHex(paymentTx)
	if err != nil {
		return nil, err
	}
	paymentTxID := channels.TxID(paymentTx)
	increment := amount - rec.LastPaymentAmount

	spend := &storage.SpendRecord{
		PaymentTxID: paymentTxID,
		PaymentTx:   fullHex,
		Amount:      increment,
		DepositTxID: depositTxID,
	}
	if err := r.db.CreateSpend(spend); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, errors.Wrap(ErrDuplicateRequest, "payment already seen")
		}
		return nil, err
	}

	rec.PaymentTx = fullHex
	rec.LastPaymentAmount = amount
	rec.State = storage.ChannelReady
	if err := r.db.UpdateChannel(rec); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("deposit_txid", depositTxID).
		Str("payment_txid", paymentTxID).
		Int64("amount", increment).
		Msg("payment received")

	return &models.PayResponse{PaymentTxID: paymentTxID}, nil
}

// Status reports the channel state as seen by the merchant.
func (r *Receiver) Status(depositTxID string) (*models.StatusResponse, error) {
	rec, err := r.db.GetChannel(depositTxID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}

	timeLeft := rec.ExpiresAt - time.Now().Unix()
	if timeLeft < 0 {
		timeLeft = 0
	}
	return &models.StatusResponse{
		Status:   rec.State,
		Balance:  rec.Amount - rec.LastPaymentAmount,
		TimeLeft: timeLeft,
	}, nil
}

// Close verifies the customer's deposit txid signature, broadcasts the
// latest counter-signed payment transaction and closes the channel.
func (r *Receiver) Close(depositTxID string, req *models.CloseRequest) (*models.CloseResponse, error) {
	rec, err := r.db.GetChannel(depositTxID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		return nil, err
	}
	if rec.State == storage.ChannelClosed {
		return nil, errors.Wrap(ErrChannelState, "channel already closed")
	}
	if rec.PaymentTx == "" {
		return nil, ErrNoPayments
	}

	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, "signature not hex")
	}
	paymentTx, err := channels.TxFromHex(rec.PaymentTx)
	if err != nil {
		return nil, err
	}
	redeemScript, err := channels.RedeemScriptFromSigScript(
		paymentTx.TxIn[0].SignatureScript)
	if err != nil {
		return nil, err
	}
	customerKey, _, err := r.splitKeys(redeemScript)
	if err != nil {
		return nil, err
	}
	err = channels.VerifyMessage([]byte(depositTxID), sig, customerKey.PubKey())
	if err != nil {
		return nil, errors.Wrap(ErrBadSignature, "deposit txid signature invalid")
	}

	return r.closeChannel(rec)
}

// closeChannel broadcasts the stored payment tx and marks the channel
// closed. Shared by Close and the expiry watcher.
func (r *Receiver) closeChannel(rec *storage.ChannelRecord) (*models.CloseResponse, error) {
	txid, err := r.bc.Broadcast(rec.PaymentTx)
	if err != nil {
		return nil, errors.Wrap(err, "broadcast payment tx")
	}

	rec.State = storage.ChannelClosed
	if err := r.db.UpdateChannel(rec); err != nil {
		return nil, err
	}

	r.log.Info().
		Str("deposit_txid", rec.DepositTxID).
		Str("payment_txid", txid).
		Msg("channel closed")

	return &models.CloseResponse{PaymentTxID: txid}, nil
}

// Redeem consumes one recorded incremental payment. A second call for
// the same payment txid fails with ErrRedeemed.
func (r *Receiver) Redeem(paymentTxID string) (int64, error) {
	spend, err := r.db.GetSpend(paymentTxID)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, ErrNotFound
	} else if err != nil {
		return 0, err
	}

	rec, err := r.db.GetChannel(spend.DepositTxID)
	if err != nil {
		return 0, err
	}
	if rec.State == storage.ChannelClosed {
		return 0, errors.Wrap(ErrChannelState, "channel closed")
	}
	if spend.IsRedeemed {
		return 0, ErrRedeemed
	}
	if err := r.db.MarkRedeemed(paymentTxID); err != nil {
		return 0, err
	}
	return spend.Amount, nil
}
