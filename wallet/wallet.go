// Package wallet provides the key and funding capability consumed by the
// channel state machines. The KeyWallet is a deliberately small
// single-key wallet over a caller-managed UTXO set; a full wallet can be
// substituted through the channels.Wallet interface.
package wallet

import (
	"sync"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
	"github.com/btcsuite/btcutil/hdkeychain"
	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/channels"
)

// DefaultFundingFee is the network fee reserved for the deposit
// transaction itself, on top of the channel amount and channel fee.
const DefaultFundingFee = 5000

// UTXO is a spendable output owned by the wallet key.
type UTXO struct {
	TxID      string
	Vout      uint32
	Value     int64
	PkScript  []byte
	Confirmed bool
}

// KeyWallet is a single-key wallet with an explicit UTXO set.
type KeyWallet struct {
	mu         sync.Mutex
	privKey    *btcec.PrivateKey
	net        *chaincfg.Params
	fundingFee int64
	utxos      []UTXO
}

func NewKeyWallet(privKey *btcec.PrivateKey, net *chaincfg.Params) *KeyWallet {
	return &KeyWallet{
		privKey:    privKey,
		net:        net,
		fundingFee: DefaultFundingFee,
	}
}

// FromExtendedKey derives the wallet key at the given child index of an
// extended private key.
func FromExtendedKey(xprivKey string, child uint32, net *chaincfg.Params) (*KeyWallet, error) {
	ek, err := hdkeychain.NewKeyFromString(xprivKey)
	if err != nil {
		return nil, err
	}
	if !ek.IsForNet(net) {
		return nil, errors.New("extended key is for wrong network")
	}
	ek, err = ek.Child(child)
	if err != nil {
		return nil, err
	}
	privKey, err := ek.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return NewKeyWallet(privKey, net), nil
}

// AddUTXO adds a spendable output. The output must pay P2PKH to the
// wallet key.
func (w *KeyWallet) AddUTXO(u UTXO) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.utxos = append(w.utxos, u)
}

// PayoutScript is the wallet's own P2PKH output script.
func (w *KeyWallet) PayoutScript() ([]byte, error) {
	pubKey, err := w.PublicKey()
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(pubKey.AddressPubKeyHash())
}

// PayoutAddress is the wallet's own P2PKH address.
func (w *KeyWallet) PayoutAddress() (string, error) {
	pubKey, err := w.PublicKey()
	if err != nil {
		return "", err
	}
	return pubKey.AddressPubKeyHash().EncodeAddress(), nil
}

func (w *KeyWallet) PublicKey() (*btcutil.AddressPubKey, error) {
	return btcutil.NewAddressPubKey(w.privKey.PubKey().SerializeCompressed(), w.net)
}

// PrivateKey exposes the wallet key for merchant-side counter-signing.
func (w *KeyWallet) PrivateKey() *btcec.PrivateKey {
	return w.privKey
}

// Balance returns the confirmed and total spendable values.
func (w *KeyWallet) Balance() (confirmed, total int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, u := range w.utxos {
		total += u.Value
		if u.Confirmed {
			confirmed += u.Value
		}
	}
	return confirmed, total
}

// CreateDepositTx funds amount+fee to the given script address, paying
// the wallet's own funding fee on top and returning change to the wallet.
func (w *KeyWallet) CreateDepositTx(addr btcutil.Address, amount, fee int64, useUnconfirmed bool) (*wire.MsgTx, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	target := amount + fee + w.fundingFee

	var selected []UTXO
	var selectedValue int64
	for _, u := range w.utxos {
		if !u.Confirmed && !useUnconfirmed {
			continue
		}
		selected = append(selected, u)
		selectedValue += u.Value
		if selectedValue >= target {
			break
		}
	}
	if selectedValue < target {
		return nil, errors.Wrapf(channels.ErrInsufficientBalance,
			"need %d, have %d spendable", target, selectedValue)
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, u := range selected {
		hash, err := chainhash.NewHashFromStr(u.TxID)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(wire.NewTxIn(wire.NewOutPoint(hash, u.Vout), nil, nil))
	}

	depositScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	tx.AddTxOut(wire.NewTxOut(amount+fee, depositScript))

	change := selectedValue - target
	if change >= channels.DustThreshold {
		changeScript, err := w.PayoutScript()
		if err != nil {
			return nil, err
		}
		tx.AddTxOut(wire.NewTxOut(change, changeScript))
	}

	for i, u := range selected {
		sigScript, err := txscript.SignatureScript(tx, i, u.PkScript, txscript.SigHashAll, w.privKey, true)
		if err != nil {
			return nil, err
		}
		tx.TxIn[i].SignatureScript = sigScript
	}

	w.consume(selected)
	if change >= channels.DustThreshold {
		changeScript, _ := w.PayoutScript()
		w.utxos = append(w.utxos, UTXO{
			TxID:     tx.TxHash().String(),
			Vout:     1,
			Value:    change,
			PkScript: changeScript,
		})
	}

	return tx, nil
}

// UTXOs returns a copy of the current spendable set, so callers can
// persist it after funding a deposit.
func (w *KeyWallet) UTXOs() []UTXO {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]UTXO, len(w.utxos))
	copy(out, w.utxos)
	return out
}

func (w *KeyWallet) consume(spent []UTXO) {
	remaining := w.utxos[:0]
	for _, u := range w.utxos {
		used := false
		for _, s := range spent {
			if s.TxID == u.TxID && s.Vout == u.Vout {
				used = true
				break
			}
		}
		if !used {
			remaining = append(remaining, u)
		}
	}
	w.utxos = remaining
}

func (w *KeyWallet) SignSpendTx(tx *wire.MsgTx, redeemScript []byte) ([]byte, error) {
	return channels.SpendSignature(tx, redeemScript, w.privKey)
}

func (w *KeyWallet) SignMessage(msg []byte) ([]byte, error) {
	return channels.SignMessage(msg, w.privKey)
}

var _ channels.Wallet = (*KeyWallet)(nil)
