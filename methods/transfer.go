package methods

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/models"
)

// transferPayload is the signed off-chain transfer the customer sends.
type transferPayload struct {
	Amount int64  `json:"amount"`
	Payee  string `json:"payee_address"`
}

// Transfer accepts off-chain ledger transfers. The transfer itself is
// verified by a third-party service; this method checks the amount and
// forwards the signed payload with the customer's authorization.
type Transfer struct {
	verificationURL string
	payeeAddress    string
	c               *http.Client
}

func NewTransfer(c *http.Client, verificationURL, payeeAddress string) *Transfer {
	if c == nil {
		c = http.DefaultClient
	}
	return &Transfer{
		verificationURL: verificationURL,
		payeeAddress:    payeeAddress,
		c:               c,
	}
}

func (m *Transfer) ShouldRedeem(h http.Header) bool {
	return h.Get(models.HeaderTransfer) != ""
}

func (m *Transfer) Challenge(price int64) map[string]string {
	return map[string]string{
		models.HeaderPrice:    strconv.FormatInt(price, 10),
		models.HeaderAddress:  m.payeeAddress,
		models.HeaderUsername: "",
	}
}

func (m *Transfer) Redeem(price int64, h http.Header) error {
	raw := h.Get(models.HeaderTransfer)
	if raw == "" {
		return errors.Wrap(ErrInvalidParameter, "missing transfer header")
	}

	var p transferPayload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return errors.Wrap(ErrInvalidParameter, "unparseable transfer")
	}
	if p.Amount != price {
		return ErrInsufficientPayment
	}

	body, err := json.Marshal(struct {
		Transfer string `json:"bittransfer"`
	}{Transfer: raw})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, m.verificationURL,
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(models.HeaderAuthorization, h.Get(models.HeaderAuthorization))

	resp, err := m.c.Do(req)
	if err != nil {
		return errors.Wrap(ErrVerifierUnreachable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return nil
	}

	// A rejection comes back as a JSON error body. Anything else means
	// the verifier itself is broken.
	var verr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&verr); err != nil {
		return errors.Wrapf(ErrVerifierMalformed, "http %d", resp.StatusCode)
	}
	return errors.Wrap(ErrTransferRejected, verr.Error)
}

var _ Method = (*Transfer)(nil)
