package blockchain

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/wire"
)

// Sim is an in-memory blockchain used in tests and with the direct
// (in-process) protocol client. Broadcast transactions are indexed by
// txid and by spent outpoint; confirmations are driven explicitly.
type Sim struct {
	mu        sync.Mutex
	txs       map[string]string // txid -> raw hex
	confirmed map[string]bool
	spends    map[string]string // "txid:vout" -> spending txid
}

func NewSim() *Sim {
	return &Sim{
		txs:       make(map[string]string),
		confirmed: make(map[string]bool),
		spends:    make(map[string]string),
	}
}

func outpointKey(txid string, vout uint32) string {
	return fmt.Sprintf("%s:%d", txid, vout)
}

func (s *Sim) Confirmed(txid string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.confirmed[txid], nil
}

func (s *Sim) SpendOf(txid string, vout uint32) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.spends[outpointKey(txid, vout)], nil
}

func (s *Sim) RawTx(txid string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.txs[txid]
	if !ok {
		return "", ErrTxNotFound
	}
	return raw, nil
}

func (s *Sim) Broadcast(rawTx string) (string, error) {
	raw, err := hex.DecodeString(rawTx)
	if err != nil {
		return "", err
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	txid := tx.TxHash().String()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txs[txid]; !ok {
		for _, txin := range tx.TxIn {
			prev := txin.PreviousOutPoint
			s.spends[outpointKey(prev.Hash.String(), prev.Index)] = txid
		}
	}
	s.txs[txid] = rawTx
	return txid, nil
}

// Confirm marks a broadcast transaction as confirmed.
func (s *Sim) Confirm(txid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confirmed[txid] = true
}

// BroadcastCount reports how many distinct transactions were broadcast.
func (s *Sim) BroadcastCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

var _ Blockchain = (*Sim)(nil)
