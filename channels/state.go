package channels

import (
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
)

// Status is the lifecycle state of a payment channel as seen by the
// customer.
type Status int

const (
	StatusOpening           Status = 1
	StatusConfirmingDeposit Status = 2
	StatusReady             Status = 3
	StatusOutstanding       Status = 4
	StatusConfirmingSpend   Status = 5
	StatusClosed            Status = 6
)

func (s Status) String() string {
	switch s {
	case StatusOpening:
		return "OPENING"
	case StatusConfirmingDeposit:
		return "CONFIRMING_DEPOSIT"
	case StatusReady:
		return "READY"
	case StatusOutstanding:
		return "OUTSTANDING"
	case StatusConfirmingSpend:
		return "CONFIRMING_SPEND"
	case StatusClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ParseStatus converts a persisted status string back into a Status.
func ParseStatus(s string) (Status, bool) {
	for st := StatusOpening; st <= StatusClosed; st++ {
		if st.String() == s {
			return st, true
		}
	}
	return 0, false
}

const (
	Version = 2
)

const (
	NetMain     = "mainnet"
	NetTestnet3 = "testnet3"
	NetRegtest  = "regtest"
)

// GetParams maps a persisted net name to chain parameters.
func GetParams(net string) (*chaincfg.Params, error) {
	switch net {
	case NetMain:
		return &chaincfg.MainNetParams, nil
	case NetTestnet3:
		return &chaincfg.TestNet3Params, nil
	case NetRegtest:
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, ErrInvalidNet
	}
}

// Protocol is the transport used to reach the merchant. It is resolved
// from the URL scheme exactly once, when the channel is opened, and
// persisted with the model.
type Protocol int

const (
	ProtocolHTTP Protocol = 1 + iota
	ProtocolHTTPS
	// ProtocolDirect dispatches to an in-process merchant server, used in
	// tests and embedded deployments.
	ProtocolDirect
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolHTTPS:
		return "https"
	case ProtocolDirect:
		return "direct"
	default:
		return "unknown"
	}
}

// ParseProtocol maps a URL scheme to a Protocol.
func ParseProtocol(scheme string) (Protocol, bool) {
	switch scheme {
	case "http":
		return ProtocolHTTP, true
	case "https":
		return ProtocolHTTPS, true
	case "direct":
		return ProtocolDirect, true
	default:
		return 0, false
	}
}

// Model is the persisted record a state machine operates on. It is owned
// exclusively by the side that created it and mutated only through
// StateMachine transitions.
type Model struct {
	URL          string
	Net          string
	Protocol     Protocol
	Status       Status
	CreationTime int64

	DepositTx *wire.MsgTx
	RefundTx  *wire.MsgTx
	PaymentTx *wire.MsgTx

	// SpendTx is the transaction (refund or payment) that actually closed
	// the channel on-chain, once known. SpendTxID may be set before
	// SpendTx while the spend is still confirming.
	SpendTx   *wire.MsgTx
	SpendTxID string
}
