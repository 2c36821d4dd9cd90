// Package client talks the customer⇄merchant channel protocol. Two
// implementations of Channel exist: HTTP against a remote merchant and
// Direct against an in-process receiver.
package client

import (
	"errors"

	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/receiver"
)

// ErrNotFound is the distinguished "channel unknown to merchant" result.
// Callers treat it as a server-side close rather than a generic failure.
var ErrNotFound = errors.New("channel not found on server")

// ErrUnsupportedProtocol is returned for channel URLs whose scheme has
// no registered transport.
var ErrUnsupportedProtocol = errors.New("unsupported channel protocol")

// Channel is one merchant endpoint as seen by the customer.
type Channel interface {
	GetPublicKey() (*models.DiscoveryResponse, error)
	Open(req *models.OpenRequest) (*models.OpenResponse, error)
	Finish(depositTxID string, req *models.FinishRequest) error
	Pay(depositTxID string, req *models.PayRequest) (*models.PayResponse, error)
	Status(depositTxID string) (*models.StatusResponse, error)
	Close(depositTxID string, req *models.CloseRequest) (*models.CloseResponse, error)
}

// Dialer produces a Channel for a merchant URL using the transport the
// channel was opened with.
type Dialer struct {
	// Direct is the in-process receiver used by ProtocolDirect
	// channels. Nil unless running merchant and customer in one
	// process (tests, simulations).
	Direct *receiver.Receiver
}

// Dial returns the transport for the given protocol and merchant URL.
func (d *Dialer) Dial(protocol channels.Protocol, url string) (Channel, error) {
	switch protocol {
	case channels.ProtocolHTTP, channels.ProtocolHTTPS:
		return NewHTTPChannel(nil, url)
	case channels.ProtocolDirect:
		if d.Direct == nil {
			return nil, ErrUnsupportedProtocol
		}
		return NewDirectChannel(d.Direct), nil
	default:
		return nil, ErrUnsupportedProtocol
	}
}
