package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/linkwire/linkd/internal/admin"
	"github.com/linkwire/linkd/internal/config"
	"github.com/linkwire/linkd/internal/logging"
	"github.com/linkwire/linkd/internal/server"
)

func main() {
	logging.ConfigureRuntime()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to linkd config file (toml)")
	flag.Parse()

	cfg := config.DefaultLinkConfig()
	if cfgPath != "" {
		loaded, err := config.LoadLinkConfig(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	srvCfg, err := cfg.ServerConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
		os.Exit(1)
	}

	srv := server.NewWithConfig(srvCfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if addr := strings.TrimSpace(cfg.AdminAddr); addr != "" {
		adminSrv := admin.New(addr, srv, cfg.CorsOrigins)
		go func() {
			if err := adminSrv.Serve(ctx); err != nil {
				log.Error().Err(err).Msg("admin endpoint failed")
			}
		}()
	}

	// Start blocks until the registry drains, so shutdown is driven by End
	// from the signal path.
	go func() {
		<-ctx.Done()
		if err := srv.End(); err != nil && !errors.Is(err, server.ErrNotListening) {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	if err := srv.Start(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "linkd: %v\n", err)
		os.Exit(1)
	}
}
