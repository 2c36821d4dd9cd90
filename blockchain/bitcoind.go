package blockchain

import (
	"bytes"
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/rpcclient"
	"github.com/btcsuite/btcd/wire"
)

// Bitcoind queries a bitcoind node over JSON-RPC. bitcoind does not index
// spending transactions, so SpendOf can only report "spent by unknown"
// via ErrSpendLookupUnsupported once the output disappears from the UTXO
// set.
type Bitcoind struct {
	c *rpcclient.Client
}

func NewBitcoind(host, user, pass string) (*Bitcoind, error) {
	connCfg := &rpcclient.ConnConfig{
		Host:         host,
		User:         user,
		Pass:         pass,
		HTTPPostMode: true,
		DisableTLS:   true,
	}
	c, err := rpcclient.New(connCfg, nil)
	if err != nil {
		return nil, err
	}
	return &Bitcoind{c: c}, nil
}

func (b *Bitcoind) Confirmed(txid string) (bool, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return false, err
	}
	tx, err := b.c.GetRawTransactionVerbose(hash)
	if err != nil {
		return false, nil
	}
	return tx.Confirmations >= 1, nil
}

func (b *Bitcoind) SpendOf(txid string, vout uint32) (string, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", err
	}
	out, err := b.c.GetTxOut(hash, vout, true)
	if err != nil {
		return "", err
	}
	if out != nil {
		return "", nil
	}
	return "", ErrSpendLookupUnsupported
}

func (b *Bitcoind) RawTx(txid string) (string, error) {
	hash, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return "", err
	}
	tx, err := b.c.GetRawTransactionVerbose(hash)
	if err != nil {
		return "", ErrTxNotFound
	}
	return tx.Hex, nil
}

func (b *Bitcoind) Broadcast(rawTx string) (string, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	txid, err := b.c.SendRawTransaction(&tx, false)
	if err != nil {
		return "", err
	}
	return txid.String(), nil
}

var _ Blockchain = (*Bitcoind)(nil)
