package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/edgerelay/internal/auth"
	"github.com/danmuck/edgerelay/internal/config"
	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/danmuck/edgerelay/internal/relay"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "", "relay config file (TOML); defaults are used when empty")
	domainName := flag.String("domain", "market_data", "relay domain: market_data|signal|execution|system")
	endpoint := flag.String("endpoint", "", "override the socket path")
	admin := flag.String("admin", "", "override the admin listen address")
	flag.Parse()

	logger := observability.InitLogger("relayd")

	domain, err := schema.ParseDomain(*domainName)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid -domain")
	}
	cfg := config.Default(domain)
	if *configPath != "" {
		cfg, err = config.LoadRelayConfig(*configPath, domain)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load relay config")
		}
		log.Info().Str("path", *configPath).Msg("loaded relay config")
	}
	if *endpoint != "" {
		cfg.Endpoint = *endpoint
	}
	if *admin != "" {
		cfg.AdminListen = *admin
	}

	logic, err := cfg.Logic()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid relay logic")
	}
	engine, err := relay.NewEngine(logic, cfg.Engine, relay.WithLogger(logger.With().Str("component", "relay").Logger()))
	if err != nil {
		log.Fatal().Err(err).Msg("invalid relay config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return engine.Run(gctx)
	})
	if cfg.AdminListen != "" {
		var adminOpts []observability.AdminOption
		if cfg.AdminToken != "" {
			adminOpts = append(adminOpts, observability.WithAuth(auth.StaticToken{Token: cfg.AdminToken}))
		}
		router := observability.NewAdminRouter(engine.Config().Name, logger, engine, adminOpts...)
		g.Go(func() error {
			return observability.ServeAdmin(gctx, cfg.AdminListen, router, logger)
		})
	}

	log.Info().
		Str("domain", domain.String()).
		Str("endpoint", logic.Endpoint()).
		Str("admin", cfg.AdminListen).
		Msg("relayd started")
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("relayd stopped")
	}
	log.Info().Msg("relayd stopped")
}
