package main

import (
	"github.com/danmuck/edgerelay/internal/config"
	"github.com/danmuck/edgerelay/internal/logging"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	kind := pflag.String("kind", "relay", "config kind: relay|agent")
	output := pflag.String("output", "", "output path for config template")
	validate := pflag.Bool("validate", false, "validate an existing config file")
	input := pflag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := pflag.Bool("force", false, "overwrite existing config file")
	pflag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		path := *input
		if path == "" {
			path = defaultPath(*kind)
		}
		if err := config.ValidateFile(path, *kind); err != nil {
			log.Fatal().Err(err).Str("path", path).Msg("config_invalid")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("config_validated")
		return
	}

	target := *output
	if target == "" {
		target = defaultPath(*kind)
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("config_write_failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("config_template_written")
}

func defaultPath(kind string) string {
	switch kind {
	case "relay":
		return "cmd/relayctl/config.toml"
	case "agent":
		return "cmd/agentctl/config.toml"
	default:
		log.Fatal().Str("kind", kind).Msg("unknown config kind")
		return ""
	}
}
