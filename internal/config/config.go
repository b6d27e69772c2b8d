package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/linkwire/linkd/internal/server"
)

// LinkConfig is the daemon configuration file shape. Durations are
// time.ParseDuration strings.
type LinkConfig struct {
	Addr            string   `toml:"addr"`
	AdminAddr       string   `toml:"admin_addr"`
	CorsOrigins     []string `toml:"cors_origins"`
	PollInterval    string   `toml:"poll_interval"`
	HeartbeatProbe  *bool    `toml:"heartbeat_probe"`
	ShutdownTimeout string   `toml:"shutdown_timeout"`
}

func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		Addr: ":7600",
	}
}

func LoadLinkConfig(path string) (LinkConfig, error) {
	cfg := DefaultLinkConfig()
	if err := loadToml(path, &cfg); err != nil {
		return LinkConfig{}, err
	}
	if cfg.Addr == "" {
		cfg.Addr = ":7600"
	}
	if err := ValidateLinkConfig(cfg); err != nil {
		return LinkConfig{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateLinkConfig(cfg LinkConfig) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("link config missing addr")
	}
	if cfg.PollInterval != "" {
		if _, err := time.ParseDuration(cfg.PollInterval); err != nil {
			return fmt.Errorf("link config poll_interval invalid: %w", err)
		}
	}
	if cfg.ShutdownTimeout != "" {
		if _, err := time.ParseDuration(cfg.ShutdownTimeout); err != nil {
			return fmt.Errorf("link config shutdown_timeout invalid: %w", err)
		}
	}
	return nil
}

// ServerConfig converts the file shape into server runtime configuration.
func (c LinkConfig) ServerConfig() (server.Config, error) {
	cfg := server.DefaultConfig()
	cfg.ListenAddr = strings.TrimSpace(c.Addr)
	if c.PollInterval != "" {
		d, err := time.ParseDuration(strings.TrimSpace(c.PollInterval))
		if err != nil {
			return server.Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if c.HeartbeatProbe != nil {
		cfg.HeartbeatProbe = *c.HeartbeatProbe
	}
	if c.ShutdownTimeout != "" {
		d, err := time.ParseDuration(strings.TrimSpace(c.ShutdownTimeout))
		if err != nil {
			return server.Config{}, fmt.Errorf("parse shutdown_timeout: %w", err)
		}
		cfg.ShutdownTimeout = d
	}
	return cfg, nil
}
