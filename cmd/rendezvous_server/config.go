package main

import (
	"encoding/json"
	"errors"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/edup2p/peerlink/server/rendezvous"
)

// Config is the on-disk configuration. Fields left null keep their defaults.
type Config struct {
	Mode     gonull.Nullable[string]
	Port     gonull.Nullable[uint16]
	MaxPeers gonull.Nullable[int]
	IPv6     gonull.Nullable[bool]

	// Allow lists prefixes, ranges or addresses that may connect.
	Allow gonull.Nullable[[]string]

	RateTokens   gonull.Nullable[uint64]
	RateInterval gonull.Nullable[string]

	// HTTPAddr serves the status page and metrics.
	HTTPAddr gonull.Nullable[string]
}

func loadConfig() Config {
	if *configPath == "" {
		return Config{}
	}

	b, err := os.ReadFile(*configPath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return writeNewConfig()
	case err != nil:
		log.Fatal(err)
		panic("unreachable")
	default:
		var cfg Config
		if err := json.Unmarshal(b, &cfg); err != nil {
			log.Fatalf("rendezvous: config: %v", err)
		}
		return cfg
	}
}

func writeNewConfig() Config {
	if err := os.MkdirAll(filepath.Dir(*configPath), 0777); err != nil {
		log.Fatal(err)
	}
	cfg := newConfig()
	b, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		log.Fatal(err)
	}
	if err := os.WriteFile(*configPath, b, 0600); err != nil {
		log.Fatal(err)
	}
	log.Printf("rendezvous: wrote default config to %s", *configPath)
	return cfg
}

func newConfig() Config {
	d := rendezvous.DefaultConfig()

	return Config{
		Mode:         gonull.NewNullable(d.Mode.String()),
		Port:         gonull.NewNullable(d.Port),
		MaxPeers:     gonull.NewNullable(d.MaxPeers),
		IPv6:         gonull.NewNullable(d.IPv6),
		RateTokens:   gonull.NewNullable(d.RateTokens),
		RateInterval: gonull.NewNullable(d.RateInterval.String()),
		HTTPAddr:     gonull.NewNullable(defaultHTTPAddr),
	}
}

// apply overlays the set fields of the file configuration onto cfg.
func (c Config) apply(cfg *rendezvous.Config) error {
	if c.Mode.Valid {
		m, err := rendezvous.ParseMode(c.Mode.Val)
		if err != nil {
			return err
		}
		cfg.Mode = m
	}
	if c.Port.Valid {
		cfg.Port = c.Port.Val
	}
	if c.MaxPeers.Valid {
		cfg.MaxPeers = c.MaxPeers.Val
	}
	if c.IPv6.Valid {
		cfg.IPv6 = c.IPv6.Val
	}
	if c.Allow.Valid {
		set, err := rendezvous.ParseAllowList(c.Allow.Val)
		if err != nil {
			return err
		}
		cfg.Allow = set
	}
	if c.RateTokens.Valid {
		cfg.RateTokens = c.RateTokens.Val
	}
	if c.RateInterval.Valid {
		d, err := time.ParseDuration(c.RateInterval.Val)
		if err != nil {
			return err
		}
		cfg.RateInterval = d
	}

	return nil
}
