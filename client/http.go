package client

import (
	"bytes"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/models"
)

// HTTPChannel talks to a remote merchant over the HTTP wire protocol.
type HTTPChannel struct {
	endpoint string
	c        *http.Client
}

// NewHTTPChannel wraps a merchant base URL, e.g.
// "https://pay.example.com". Pass nil to use http.DefaultClient.
func NewHTTPChannel(c *http.Client, endpoint string) (*HTTPChannel, error) {
	if strings.HasSuffix(endpoint, "/") {
		return nil, errors.New("endpoint must not have a trailing slash")
	}
	if c == nil {
		c = http.DefaultClient
	}
	return &HTTPChannel{
		endpoint: endpoint,
		c:        c,
	}, nil
}

func (h *HTTPChannel) do(method, path string, req, resp interface{}) error {
	url := h.endpoint + path

	var body bytes.Reader
	if req != nil {
		buf, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = *bytes.NewReader(buf)
	}

	hreq, err := http.NewRequest(method, url, &body)
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")

	hresp, err := h.c.Do(hreq)
	if err != nil {
		return errors.Wrap(err, "channel rpc")
	}
	defer hresp.Body.Close()

	respBuf, err := ioutil.ReadAll(hresp.Body)
	if err != nil {
		return errors.Wrap(err, "channel rpc read")
	}

	if hresp.StatusCode == http.StatusNotFound {
		return ErrNotFound
	}
	if hresp.StatusCode != http.StatusOK {
		return errors.Errorf("channel rpc: http error code %d", hresp.StatusCode)
	}

	if resp == nil {
		return nil
	}
	return json.Unmarshal(respBuf, resp)
}

func (h *HTTPChannel) GetPublicKey() (*models.DiscoveryResponse, error) {
	var resp models.DiscoveryResponse
	if err := h.do(http.MethodGet, "/payment", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTPChannel) Open(req *models.OpenRequest) (*models.OpenResponse, error) {
	var resp models.OpenResponse
	if err := h.do(http.MethodPost, "/payment", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTPChannel) Finish(depositTxID string, req *models.FinishRequest) error {
	return h.do(http.MethodPut, "/payment/"+depositTxID, req, nil)
}

func (h *HTTPChannel) Pay(depositTxID string, req *models.PayRequest) (*models.PayResponse, error) {
	var resp models.PayResponse
	err := h.do(http.MethodPut, "/payment/"+depositTxID, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTPChannel) Status(depositTxID string) (*models.StatusResponse, error) {
	var resp models.StatusResponse
	err := h.do(http.MethodGet, "/payment/"+depositTxID, nil, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

func (h *HTTPChannel) Close(depositTxID string, req *models.CloseRequest) (*models.CloseResponse, error) {
	var resp models.CloseResponse
	err := h.do(http.MethodDelete, "/payment/"+depositTxID, req, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

var _ Channel = (*HTTPChannel)(nil)
