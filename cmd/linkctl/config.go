package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/linkwire/linkd/internal/client"
)

type fileConfig struct {
	Addr                string  `toml:"addr"`
	ConnectTimeout      string  `toml:"connect_timeout"`
	ReadTimeout         string  `toml:"read_timeout"`
	WriteTimeout        string  `toml:"write_timeout"`
	MaxConnectAttempts  int     `toml:"max_connect_attempts"`
	BackoffInitialDelay string  `toml:"backoff_initial_delay"`
	BackoffMultiplier   float64 `toml:"backoff_multiplier"`
	BackoffMaxDelay     string  `toml:"backoff_max_delay"`
	BackoffJitter       bool    `toml:"backoff_jitter"`
}

func loadClientConfig(path string) (client.Config, error) {
	cfg := client.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return client.Config{}, fmt.Errorf("load linkctl config: %w", err)
	}

	if meta.IsDefined("addr") {
		cfg.Address = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDur(raw.ConnectTimeout)
		if err != nil {
			return client.Config{}, fmt.Errorf("parse connect_timeout: %w", err)
		}
		cfg.ConnectTimeout = d
	}
	if meta.IsDefined("read_timeout") {
		d, err := parseDur(raw.ReadTimeout)
		if err != nil {
			return client.Config{}, fmt.Errorf("parse read_timeout: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDur(raw.WriteTimeout)
		if err != nil {
			return client.Config{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.WriteTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("backoff_initial_delay") {
		d, err := parseDur(raw.BackoffInitialDelay)
		if err != nil {
			return client.Config{}, fmt.Errorf("parse backoff_initial_delay: %w", err)
		}
		cfg.Backoff.InitialDelay = d
	}
	if meta.IsDefined("backoff_multiplier") {
		cfg.Backoff.Multiplier = raw.BackoffMultiplier
	}
	if meta.IsDefined("backoff_max_delay") {
		d, err := parseDur(raw.BackoffMaxDelay)
		if err != nil {
			return client.Config{}, fmt.Errorf("parse backoff_max_delay: %w", err)
		}
		cfg.Backoff.MaxDelay = d
	}
	if meta.IsDefined("backoff_jitter") {
		cfg.Backoff.Jitter = raw.BackoffJitter
	}

	return cfg, nil
}

func parseDur(raw string) (time.Duration, error) {
	return time.ParseDuration(strings.TrimSpace(raw))
}
