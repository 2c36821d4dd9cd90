package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcutil/hdkeychain"

	"github.com/turnstilepay/turnstile/wallet"
)

// walletState is the customer's persistent wallet: one extended key and
// a manually maintained UTXO set. Channels live in a separate state
// file managed by storage/filesystem.
type walletState struct {
	Seed     []byte        `json:"seed"`
	XPrivKey string        `json:"xprivkey"`
	UTXOs    []wallet.UTXO `json:"utxos"`
}

func statePath(net *chaincfg.Params) string {
	return fmt.Sprintf("%s/tsclient-wallet.%s.json", *stateDir, net.Name)
}

func channelsPath(net *chaincfg.Params) string {
	return fmt.Sprintf("%s/tsclient-channels.%s.json", *stateDir, net.Name)
}

func newWalletState(net *chaincfg.Params) (*walletState, error) {
	seed, err := hdkeychain.GenerateSeed(hdkeychain.RecommendedSeedLen)
	if err != nil {
		return nil, err
	}
	key, err := hdkeychain.NewMaster(seed, net)
	if err != nil {
		return nil, err
	}
	return &walletState{
		Seed:     seed,
		XPrivKey: key.String(),
	}, nil
}

func loadWalletState(net *chaincfg.Params) (*walletState, error) {
	f, err := os.Open(statePath(net))
	if os.IsNotExist(err) {
		s, err := newWalletState(net)
		if err != nil {
			return nil, err
		}
		return s, saveWalletState(net, s)
	} else if err != nil {
		return nil, err
	}
	defer f.Close()

	var s walletState
	if err := json.NewDecoder(f).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func saveWalletState(net *chaincfg.Params, s *walletState) error {
	tmp := statePath(net) + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, statePath(net))
}
