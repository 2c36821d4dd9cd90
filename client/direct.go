package client

import (
	"github.com/pkg/errors"

	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/receiver"
)

// DirectChannel calls a receiver in-process, bypassing HTTP. Used when
// customer and merchant run in one binary, and throughout the tests.
type DirectChannel struct {
	r *receiver.Receiver
}

func NewDirectChannel(r *receiver.Receiver) *DirectChannel {
	return &DirectChannel{r: r}
}

// mapErr translates receiver lookup failures into the client's
// distinguished not-found result.
func mapErr(err error) error {
	if errors.Is(err, receiver.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func (d *DirectChannel) GetPublicKey() (*models.DiscoveryResponse, error) {
	return d.r.Discovery()
}

func (d *DirectChannel) Open(req *models.OpenRequest) (*models.OpenResponse, error) {
	return d.r.InitializeHandshake(req)
}

func (d *DirectChannel) Finish(depositTxID string, req *models.FinishRequest) error {
	return mapErr(d.r.CompleteHandshake(depositTxID, req))
}

func (d *DirectChannel) Pay(depositTxID string, req *models.PayRequest) (*models.PayResponse, error) {
	resp, err := d.r.ReceivePayment(depositTxID, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return resp, nil
}

func (d *DirectChannel) Status(depositTxID string) (*models.StatusResponse, error) {
	resp, err := d.r.Status(depositTxID)
	if err != nil {
		return nil, mapErr(err)
	}
	return resp, nil
}

func (d *DirectChannel) Close(depositTxID string, req *models.CloseRequest) (*models.CloseResponse, error) {
	resp, err := d.r.Close(depositTxID, req)
	if err != nil {
		return nil, mapErr(err)
	}
	return resp, nil
}

var _ Channel = (*DirectChannel)(nil)
