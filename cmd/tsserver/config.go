package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type blockchainConfig struct {
	// Provider is "insight" or "bitcoind".
	Provider string `yaml:"provider"`

	// InsightURL is the explorer API base, e.g.
	// "https://insight.example.com/api".
	InsightURL string `yaml:"insight_url"`

	BitcoindHost     string `yaml:"bitcoind_host"`
	BitcoindUsername string `yaml:"bitcoind_username"`
	BitcoindPassword string `yaml:"bitcoind_password"`
}

type resourceConfig struct {
	Path  string `yaml:"path"`
	Price int64  `yaml:"price"`
}

type config struct {
	Listen      string `yaml:"listen"`
	ExternalURL string `yaml:"external_url"`
	Net         string `yaml:"net"`

	// PrivKey is the merchant channel key in WIF.
	PrivKey string `yaml:"privkey"`

	// Destination receives on-chain (non-channel) payments.
	Destination string `yaml:"destination"`

	DBPath string `yaml:"db_path"`

	Blockchain blockchainConfig `yaml:"blockchain"`

	SyncInterval time.Duration `yaml:"sync_interval"`

	// Resources are priced demo endpoints guarded by the 402 payment
	// methods.
	Resources []resourceConfig `yaml:"resources"`
}

func defaultConfig() config {
	return config{
		Listen:       ":3211",
		Net:          "testnet3",
		DBPath:       "tsserver.db",
		SyncInterval: time.Minute,
		Blockchain: blockchainConfig{
			Provider: "insight",
		},
	}
}

func loadConfig(path string) (config, error) {
	c := defaultConfig()

	buf, err := os.ReadFile(path)
	if err != nil {
		return c, errors.Wrap(err, "read config")
	}
	if err := yaml.Unmarshal(buf, &c); err != nil {
		return c, errors.Wrap(err, "parse config")
	}

	if c.PrivKey == "" {
		return c, errors.New("config: privkey is required")
	}
	if c.Destination == "" {
		return c, errors.New("config: destination is required")
	}
	return c, nil
}
