// tsserver is the merchant payment server: it terminates the channel
// wire protocol over HTTP, persists channels in sqlite and guards
// priced resources with HTTP 402 payment methods.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcutil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/turnstilepay/turnstile/blockchain"
	"github.com/turnstilepay/turnstile/channels"
	"github.com/turnstilepay/turnstile/methods"
	"github.com/turnstilepay/turnstile/receiver"
	"github.com/turnstilepay/turnstile/resolver"
	"github.com/turnstilepay/turnstile/storage/gormdb"
)

var configPath = flag.String("config", "tsserver.yaml", "Config file path")

func buildBlockchain(c blockchainConfig) (blockchain.Blockchain, error) {
	switch c.Provider {
	case "bitcoind":
		return blockchain.NewBitcoind(
			c.BitcoindHost, c.BitcoindUsername, c.BitcoindPassword)
	default:
		return blockchain.NewInsight(nil, c.InsightURL)
	}
}

func main() {
	flag.Parse()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	net, err := channels.GetParams(cfg.Net)
	if err != nil {
		log.Fatal().Err(err).Msg("bad network")
	}

	wif, err := btcutil.DecodeWIF(cfg.PrivKey)
	if err != nil {
		log.Fatal().Err(err).Msg("bad privkey")
	}
	destination, err := btcutil.DecodeAddress(cfg.Destination, net)
	if err != nil {
		log.Fatal().Err(err).Msg("bad destination address")
	}

	db, err := gormdb.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("database open failed")
	}

	bc, err := buildBlockchain(cfg.Blockchain)
	if err != nil {
		log.Fatal().Err(err).Msg("blockchain provider failed")
	}

	rcv, err := receiver.NewReceiver(
		receiver.DefaultConfig(cfg.Net), wif.PrivKey, bc, db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("receiver init failed")
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go rcv.Watch(ctx, cfg.SyncInterval)

	ms := []methods.Method{
		methods.NewOnChain(destination, net, bc, db),
		methods.NewChannel(rcv, cfg.ExternalURL),
	}

	r := mux.NewRouter()
	registerPaymentRoutes(r, rcv, log)
	if cfg.ExternalURL != "" {
		r.HandleFunc(resolver.Path, func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resolver.Document{
				Endpoints: []resolver.Endpoint{{URL: cfg.ExternalURL}},
			})
		}).Methods(http.MethodGet)
	}
	for _, res := range cfg.Resources {
		r.Handle(res.Path, methods.Required(res.Price, ms,
			http.HandlerFunc(resourceHandler)))
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: r,
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	log.Info().Str("listen", cfg.Listen).Str("net", cfg.Net).Msg("tsserver up")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func resourceHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"paid":true}`))
}
