package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/linkwire/linkd/internal/client"
	"github.com/linkwire/linkd/internal/logging"
)

func main() {
	logging.ConfigureRuntime()

	var (
		cfgPath string
		addr    string
		message string
	)
	flag.StringVar(&cfgPath, "config", "", "path to linkctl config file (toml)")
	flag.StringVar(&addr, "addr", "", "server address (host:port)")
	flag.StringVar(&message, "message", "", "message text to send before disconnecting")
	flag.Parse()

	cfg := client.DefaultConfig()
	if cfgPath != "" {
		loaded, err := loadClientConfig(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	if strings.TrimSpace(addr) != "" {
		cfg.Address = strings.TrimSpace(addr)
	}

	c, err := client.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := c.Connect(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: connect: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	if message != "" {
		if err := c.SendMessage(message); err != nil {
			fmt.Fprintf(os.Stderr, "linkctl: send: %v\n", err)
			os.Exit(1)
		}
		if kind, _, err := c.ReadFrame(); err == nil {
			log.Info().Str("kind", kind.String()).Msg("server replied")
		} else {
			log.Warn().Err(err).Msg("no reply from server")
		}
	}

	if err := c.Disconnect(); err != nil {
		fmt.Fprintf(os.Stderr, "linkctl: disconnect: %v\n", err)
		os.Exit(1)
	}
}
