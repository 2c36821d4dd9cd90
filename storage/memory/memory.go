// Package memory provides in-memory implementations of the storage
// interfaces. Used by tests and by short-lived tooling where persistence
// isn't needed.
package memory

import (
	"sort"
	"sync"

	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/storage"
)

// ChannelStore is a map of channels keyed by URL. The store mutex only
// guards the map; each channel carries its own lock so a long With on
// one channel (which may include a remote call) doesn't block the rest.
type ChannelStore struct {
	mu       sync.Mutex
	channels map[string]*channelEntry
}

type channelEntry struct {
	mu    sync.Mutex
	model *channels.Model
}

func NewChannelStore() *ChannelStore {
	return &ChannelStore{channels: make(map[string]*channelEntry)}
}

func (s *ChannelStore) Create(m *channels.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[m.URL]; ok {
		return storage.ErrDuplicate
	}
	s.channels[m.URL] = &channelEntry{model: storage.CloneModel(m)}
	return nil
}

func (s *ChannelStore) entry(url string) (*channelEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.channels[url]
	return e, ok
}

func (s *ChannelStore) Get(url string) (*channels.Model, error) {
	e, ok := s.entry(url)
	if !ok {
		return nil, storage.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return storage.CloneModel(e.model), nil
}

func (s *ChannelStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, len(s.channels))
	for url := range s.channels {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}

func (s *ChannelStore) With(url string, fn func(*channels.Model) error) error {
	e, ok := s.entry(url)
	if !ok {
		return storage.ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	work := storage.CloneModel(e.model)
	if err := fn(work); err != nil {
		return err
	}
	e.model = work
	return nil
}

// MerchantStore keeps the merchant tables in maps.
type MerchantStore struct {
	mu       sync.Mutex
	channels map[string]*storage.ChannelRecord
	spends   map[string]*storage.SpendRecord
}

func NewMerchantStore() *MerchantStore {
	return &MerchantStore{
		channels: make(map[string]*storage.ChannelRecord),
		spends:   make(map[string]*storage.SpendRecord),
	}
}

func (s *MerchantStore) CreateChannel(rec *storage.ChannelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[rec.DepositTxID]; ok {
		return storage.ErrDuplicate
	}
	c := *rec
	s.channels[rec.DepositTxID] = &c
	return nil
}

func (s *MerchantStore) GetChannel(depositTxID string) (*storage.ChannelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.channels[depositTxID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MerchantStore) ListChannels() ([]storage.ChannelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recs := make([]storage.ChannelRecord, 0, len(s.channels))
	for _, rec := range s.channels {
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		return recs[i].DepositTxID < recs[j].DepositTxID
	})
	return recs, nil
}

func (s *MerchantStore) UpdateChannel(rec *storage.ChannelRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.channels[rec.DepositTxID]; !ok {
		return storage.ErrNotFound
	}
	c := *rec
	s.channels[rec.DepositTxID] = &c
	return nil
}

func (s *MerchantStore) CreateSpend(rec *storage.SpendRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.spends[rec.PaymentTxID]; ok {
		return storage.ErrDuplicate
	}
	c := *rec
	s.spends[rec.PaymentTxID] = &c
	return nil
}

func (s *MerchantStore) GetSpend(paymentTxID string) (*storage.SpendRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.spends[paymentTxID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	c := *rec
	return &c, nil
}

func (s *MerchantStore) MarkRedeemed(paymentTxID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.spends[paymentTxID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.IsRedeemed = true
	return nil
}

// OnChainStore records accepted single-shot on-chain payments.
type OnChainStore struct {
	mu  sync.Mutex
	txs map[string]int64
}

func NewOnChainStore() *OnChainStore {
	return &OnChainStore{txs: make(map[string]int64)}
}

func (s *OnChainStore) Get(txid string) (*storage.OnChainRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	amount, ok := s.txs[txid]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &storage.OnChainRecord{TxID: txid, Amount: amount}, nil
}

func (s *OnChainStore) Create(txid string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.txs[txid]; ok {
		return storage.ErrDuplicate
	}
	s.txs[txid] = amount
	return nil
}

func (s *OnChainStore) Delete(txid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.txs, txid)
	return nil
}
