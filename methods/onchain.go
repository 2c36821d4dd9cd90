package methods

import (
	"net/http"
	"strconv"
	"sync"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcutil"
	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/blockchain"
	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/storage"
)

// DefaultDustLimit is the minimum accepted on-chain payment.
const DefaultDustLimit = 3000

// OnChain accepts raw bitcoin transactions paying the merchant address
// exactly the asked price. Each transaction hash is accepted at most
// once, even across broadcast failures.
type OnChain struct {
	address   btcutil.Address
	net       *chaincfg.Params
	bc        blockchain.Blockchain
	db        storage.OnChainStore
	dustLimit int64

	// Serializes check-insert-broadcast so a transaction hash can't be
	// accepted twice by concurrent requests.
	mu sync.Mutex
}

func NewOnChain(address btcutil.Address, net *chaincfg.Params,
	bc blockchain.Blockchain, db storage.OnChainStore) *OnChain {

	return &OnChain{
		address:   address,
		net:       net,
		bc:        bc,
		db:        db,
		dustLimit: DefaultDustLimit,
	}
}

func (m *OnChain) ShouldRedeem(h http.Header) bool {
	return h.Get(models.HeaderTransaction) != ""
}

func (m *OnChain) Challenge(price int64) map[string]string {
	return map[string]string{
		models.HeaderPrice:   strconv.FormatInt(price, 10),
		models.HeaderAddress: m.address.EncodeAddress(),
	}
}

func (m *OnChain) Redeem(price int64, h http.Header) error {
	if price < m.dustLimit {
		return ErrBelowDustLimit
	}

	rawTx := h.Get(models.HeaderTransaction)
	if rawTx == "" {
		return errors.Wrap(ErrInvalidParameter, "missing transaction header")
	}
	tx, err := channels.TxFromHex(rawTx)
	if err != nil {
		return errors.Wrap(ErrInvalidParameter, "unparseable transaction")
	}

	// The payment output must pay our address exactly the asked price.
	var paid int64
	found := false
	for _, out := range tx.TxOut {
		_, addrs, _, err := txscript.ExtractPkScriptAddrs(out.PkScript, m.net)
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if a.EncodeAddress() == m.address.EncodeAddress() {
				found = true
				paid = out.Value
			}
		}
	}
	if !found {
		return errors.Wrap(ErrInvalidParameter, "no output pays the merchant address")
	}
	if paid != price {
		return ErrInsufficientPayment
	}

	txid := channels.TxID(tx)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.db.Get(txid); err == nil {
		return ErrDuplicatePayment
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err := m.db.Create(txid, paid); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return ErrDuplicatePayment
		}
		return err
	}

	if _, err := m.bc.Broadcast(rawTx); err != nil {
		// Roll back so a retry with the same transaction can succeed.
		if derr := m.db.Delete(txid); derr != nil {
			return derr
		}
		return errors.Wrap(ErrBroadcast, err.Error())
	}
	return nil
}

var _ Method = (*OnChain)(nil)
