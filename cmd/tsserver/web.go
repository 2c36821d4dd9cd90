package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/turnstilepay/turnstile/models"
	"github.com/turnstilepay/turnstile/receiver"
)

type paymentHandlers struct {
	rcv *receiver.Receiver
	log zerolog.Logger
}

func registerPaymentRoutes(r *mux.Router, rcv *receiver.Receiver, log zerolog.Logger) {
	h := &paymentHandlers{rcv: rcv, log: log}

	r.HandleFunc("/payment", h.discovery).Methods(http.MethodGet)
	r.HandleFunc("/payment", h.open).Methods(http.MethodPost)
	r.HandleFunc("/payment/{deposit_txid}", h.finishOrPay).Methods(http.MethodPut)
	r.HandleFunc("/payment/{deposit_txid}", h.status).Methods(http.MethodGet)
	r.HandleFunc("/payment/{deposit_txid}", h.close).Methods(http.MethodDelete)
}

func parse(w http.ResponseWriter, r *http.Request, req interface{}) bool {
	buf, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(buf, req); err != nil {
		http.Error(w, "json parse error", http.StatusBadRequest)
		return false
	}
	return true
}

func (h *paymentHandlers) respond(w http.ResponseWriter, resp interface{}, err error) {
	if err != nil {
		switch {
		case errors.Is(err, receiver.ErrNotFound):
			http.Error(w, err.Error(), http.StatusNotFound)
		case receiver.Exposable(err):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			h.log.Error().Err(err).Msg("internal error")
			http.Error(w, "error", http.StatusInternalServerError)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Error().Err(err).Msg("json encode error")
	}
}

func (h *paymentHandlers) discovery(w http.ResponseWriter, r *http.Request) {
	resp, err := h.rcv.Discovery()
	h.respond(w, resp, err)
}

func (h *paymentHandlers) open(w http.ResponseWriter, r *http.Request) {
	var req models.OpenRequest
	if !parse(w, r, &req) {
		return
	}
	resp, err := h.rcv.InitializeHandshake(&req)
	h.respond(w, resp, err)
}

// finishOrPay dispatches the PUT route on the body: a deposit_tx field
// completes the handshake, a payment_tx field is a payment.
func (h *paymentHandlers) finishOrPay(w http.ResponseWriter, r *http.Request) {
	depositTxID := mux.Vars(r)["deposit_txid"]

	var req struct {
		DepositTx string `json:"deposit_tx"`
		PaymentTx string `json:"payment_tx"`
	}
	if !parse(w, r, &req) {
		return
	}

	switch {
	case req.PaymentTx != "":
		resp, err := h.rcv.ReceivePayment(depositTxID,
			&models.PayRequest{PaymentTx: req.PaymentTx})
		h.respond(w, resp, err)
	case req.DepositTx != "":
		err := h.rcv.CompleteHandshake(depositTxID,
			&models.FinishRequest{DepositTx: req.DepositTx})
		h.respond(w, &models.FinishResponse{}, err)
	default:
		http.Error(w, "missing transaction", http.StatusBadRequest)
	}
}

func (h *paymentHandlers) status(w http.ResponseWriter, r *http.Request) {
	resp, err := h.rcv.Status(mux.Vars(r)["deposit_txid"])
	h.respond(w, resp, err)
}

func (h *paymentHandlers) close(w http.ResponseWriter, r *http.Request) {
	var req models.CloseRequest
	if !parse(w, r, &req) {
		return
	}
	resp, err := h.rcv.Close(mux.Vars(r)["deposit_txid"], &req)
	h.respond(w, resp, err)
}
