// Package filesystem persists the customer's channels to a single JSON
// state file, written atomically via a temp file rename.
package filesystem

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/storage"
)

type record struct {
	URL          string `json:"url"`
	Net          string `json:"net"`
	Protocol     string `json:"protocol"`
	Status       string `json:"status"`
	CreationTime int64  `json:"creation_time"`

	DepositTx string `json:"deposit_tx,omitempty"`
	RefundTx  string `json:"refund_tx,omitempty"`
	PaymentTx string `json:"payment_tx,omitempty"`
	SpendTx   string `json:"spend_tx,omitempty"`
	SpendTxID string `json:"spend_txid,omitempty"`
}

type data struct {
	Channels map[string]record `json:"channels"`
}

func newData() *data {
	return &data{Channels: make(map[string]record)}
}

// ChannelStore implements storage.ChannelStore on a JSON file.
type ChannelStore struct {
	mu   sync.Mutex
	path string
}

func NewChannelStore(path string) *ChannelStore {
	return &ChannelStore{path: path}
}

func (s *ChannelStore) load() (*data, error) {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return newData(), nil
	} else if err != nil {
		return nil, errors.Wrap(err, "open state file")
	}
	defer f.Close()

	var d data
	if err := json.NewDecoder(f).Decode(&d); err != nil {
		return nil, errors.Wrap(err, "decode state file")
	}
	if d.Channels == nil {
		d.Channels = make(map[string]record)
	}
	return &d, nil
}

func (s *ChannelStore) save(d *data) error {
	tmp := s.path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create state file")
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return errors.Wrap(err, "encode state file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "write state file")
	}
	return errors.Wrap(os.Rename(tmp, s.path), "replace state file")
}

func toRecord(m *channels.Model) (record, error) {
	rec := record{
		URL:          m.URL,
		Net:          m.Net,
		Protocol:     m.Protocol.String(),
		Status:       m.Status.String(),
		CreationTime: m.CreationTime,
		SpendTxID:    m.SpendTxID,
	}
	var err error
	if m.DepositTx != nil {
		if rec.DepositTx, err = channels.TxToHex(m.DepositTx); err != nil {
			return rec, err
		}
	}
	if m.RefundTx != nil {
		if rec.RefundTx, err = channels.TxToHex(m.RefundTx); err != nil {
			return rec, err
		}
	}
	if m.PaymentTx != nil {
		if rec.PaymentTx, err = channels.TxToHex(m.PaymentTx); err != nil {
			return rec, err
		}
	}
	if m.SpendTx != nil {
		if rec.SpendTx, err = channels.TxToHex(m.SpendTx); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func fromRecord(rec record) (*channels.Model, error) {
	status, ok := channels.ParseStatus(rec.Status)
	if !ok {
		return nil, errors.Errorf("unknown channel status %q", rec.Status)
	}
	protocol, ok := channels.ParseProtocol(rec.Protocol)
	if !ok {
		return nil, errors.Errorf("unknown channel protocol %q", rec.Protocol)
	}
	var err error
	m := &channels.Model{
		URL:          rec.URL,
		Net:          rec.Net,
		Protocol:     protocol,
		Status:       status,
		CreationTime: rec.CreationTime,
		SpendTxID:    rec.SpendTxID,
	}
	if rec.DepositTx != "" {
		if m.DepositTx, err = channels.TxFromHex(rec.DepositTx); err != nil {
			return nil, err
		}
	}
	if rec.RefundTx != "" {
		if m.RefundTx, err = channels.TxFromHex(rec.RefundTx); err != nil {
			return nil, err
		}
	}
	if rec.PaymentTx != "" {
		if m.PaymentTx, err = channels.TxFromHex(rec.PaymentTx); err != nil {
			return nil, err
		}
	}
	if rec.SpendTx != "" {
		if m.SpendTx, err = channels.TxFromHex(rec.SpendTx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (s *ChannelStore) Create(m *channels.Model) error {
	if m.URL == "" {
		return errors.New("invalid channel url")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	if _, ok := d.Channels[m.URL]; ok {
		return storage.ErrDuplicate
	}
	rec, err := toRecord(m)
	if err != nil {
		return err
	}
	d.Channels[m.URL] = rec
	return s.save(d)
}

func (s *ChannelStore) Get(url string) (*channels.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load()
	if err != nil {
		return nil, err
	}
	rec, ok := d.Channels[url]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return fromRecord(rec)
}

func (s *ChannelStore) List() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load()
	if err != nil {
		return nil, err
	}
	urls := make([]string, 0, len(d.Channels))
	for url := range d.Channels {
		urls = append(urls, url)
	}
	sort.Strings(urls)
	return urls, nil
}

func (s *ChannelStore) With(url string, fn func(*channels.Model) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := d.Channels[url]
	if !ok {
		return storage.ErrNotFound
	}
	m, err := fromRecord(rec)
	if err != nil {
		return err
	}
	if err := fn(m); err != nil {
		return err
	}
	rec, err = toRecord(m)
	if err != nil {
		return err
	}
	d.Channels[url] = rec
	return s.save(d)
}

var _ storage.ChannelStore = (*ChannelStore)(nil)
