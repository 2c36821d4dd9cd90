// Package models defines the JSON bodies of the customer ⇄ merchant wire
// protocol and the HTTP 402 challenge header names.
package models

type DiscoveryResponse struct {
	Version   int    `json:"version"`
	PublicKey string `json:"public_key"`
}

type OpenRequest struct {
	RefundTx string `json:"refund_tx"`
}

type OpenResponse struct {
	RefundTx string `json:"refund_tx"`
}

type FinishRequest struct {
	DepositTx string `json:"deposit_tx"`
}

type FinishResponse struct {
}

type PayRequest struct {
	PaymentTx string `json:"payment_tx"`
}

type PayResponse struct {
	PaymentTxID string `json:"payment_txid"`
}

type StatusResponse struct {
	Status   string `json:"status"`
	Balance  int64  `json:"balance"`
	TimeLeft int64  `json:"time_left"`
}

type CloseRequest struct {
	Signature string `json:"signature"`
}

type CloseResponse struct {
	PaymentTxID string `json:"payment_txid"`
}

// HTTP 402 challenge and payment headers.
const (
	HeaderPrice         = "Price"
	HeaderAddress       = "Bitcoin-Address"
	HeaderTransaction   = "Bitcoin-Transaction"
	HeaderChannelToken  = "Bitcoin-Payment-Channel-Token"
	HeaderChannelServer = "Bitcoin-Payment-Channel-Server"
	HeaderTransfer      = "Bitcoin-Transfer"
	HeaderAuthorization = "Authorization"
	HeaderUsername      = "Username"
)
