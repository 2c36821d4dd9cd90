package blockchain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// Insight talks to an Insight-style block explorer API.
type Insight struct {
	baseURL string
	c       *http.Client
}

func NewInsight(c *http.Client, baseURL string) (*Insight, error) {
	if strings.HasSuffix(baseURL, "/") {
		return nil, errors.New("base URL must not have a trailing slash")
	}
	if c == nil {
		c = http.DefaultClient
	}
	return &Insight{baseURL: baseURL, c: c}, nil
}

func (b *Insight) get(path string, out interface{}) (int, error) {
	resp, err := b.c.Get(b.baseURL + path)
	if err != nil {
		return 0, errors.Wrap(err, "blockchain request failed")
	}
	defer resp.Body.Close()

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, fmt.Errorf("blockchain: http status %d: %s", resp.StatusCode, string(buf))
	}
	return resp.StatusCode, json.Unmarshal(buf, out)
}

type insightTx struct {
	Confirmations int `json:"confirmations"`
	Vout          []struct {
		SpentTxID *string `json:"spentTxId"`
	} `json:"vout"`
}

func (b *Insight) Confirmed(txid string) (bool, error) {
	var tx insightTx
	status, err := b.get("/tx/"+txid, &tx)
	if status == http.StatusNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return tx.Confirmations >= 1, nil
}

func (b *Insight) SpendOf(txid string, vout uint32) (string, error) {
	var tx insightTx
	status, err := b.get("/tx/"+txid, &tx)
	if status == http.StatusNotFound {
		return "", ErrTxNotFound
	}
	if err != nil {
		return "", err
	}
	if int(vout) >= len(tx.Vout) {
		return "", errors.New("output index out of range")
	}
	if tx.Vout[vout].SpentTxID == nil {
		return "", nil
	}
	return *tx.Vout[vout].SpentTxID, nil
}

func (b *Insight) RawTx(txid string) (string, error) {
	var raw struct {
		RawTx string `json:"rawtx"`
	}
	status, err := b.get("/rawtx/"+txid, &raw)
	if status == http.StatusNotFound {
		return "", ErrTxNotFound
	}
	if err != nil {
		return "", err
	}
	return raw.RawTx, nil
}

func (b *Insight) Broadcast(rawTx string) (string, error) {
	body, err := json.Marshal(map[string]string{"rawtx": rawTx})
	if err != nil {
		return "", err
	}
	resp, err := b.c.Post(b.baseURL+"/tx/send", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "broadcast request failed")
	}
	defer resp.Body.Close()

	buf, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("broadcast: http status %d: %s", resp.StatusCode, string(buf))
	}

	var sent struct {
		TxID string `json:"txid"`
	}
	if err := json.Unmarshal(buf, &sent); err != nil {
		return "", err
	}
	return sent.TxID, nil
}

var _ Blockchain = (*Insight)(nil)
