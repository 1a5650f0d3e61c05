package main

import (
	"flag"
	"fmt"

	"github.com/danmuck/edgerelay/internal/config"
	"github.com/danmuck/edgerelay/internal/logging"
	"github.com/danmuck/edgerelay/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", "market_data", "relay domain: market_data|signal|execution|system")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to configs/<kind>.toml)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	domain, err := schema.ParseDomain(*kind)
	if err != nil {
		log.Fatal().Err(err).Msg("unknown kind")
	}
	defaultPath := fmt.Sprintf("configs/%s.toml", domain)

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath
		}
		cfg, err := config.LoadRelayConfig(path, domain)
		if err != nil {
			log.Fatal().Err(err).Msg("config invalid")
		}
		log.Info().
			Str("path", path).
			Str("domain", cfg.Domain.String()).
			Str("endpoint", cfg.Endpoint).
			Msg("validated relay config")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath
	}
	if err := config.WriteTemplate(target, domain.String(), *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", domain.String()).Str("path", target).Msg("wrote config template")
}
