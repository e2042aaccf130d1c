// Package config holds the relay and agent TOML file schemas, their templates
// and strict validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// RelayFile is the on-disk relayctl configuration.
type RelayFile struct {
	Addr               string   `toml:"addr"`
	DataDir            string   `toml:"data_dir"`
	AccessToken        string   `toml:"access_token"`
	AgentTokenRequired bool     `toml:"agent_token_required"`
	CorsOrigins        []string `toml:"cors_origins"`
	MaxMessageBytes    int64    `toml:"max_message_bytes"`
	WriteTimeoutMS     int64    `toml:"write_timeout_ms"`
	NotifyEnabled      bool     `toml:"notify_enabled"`
	NotifyBotToken     string   `toml:"notify_bot_token"`
	NotifyChatID       string   `toml:"notify_chat_id"`
	NotifyAPIBase      string   `toml:"notify_api_base"`
	NotifyRatePerSec   float64  `toml:"notify_rate_per_sec"`
	NotifyQueueSize    int      `toml:"notify_queue_size"`
	IngestRatePerSec   float64  `toml:"ingest_rate_per_sec"`
	IngestBurst        int      `toml:"ingest_burst"`
}

// AgentFile is the on-disk agentctl configuration.
type AgentFile struct {
	RelayURL           string `toml:"relay_url"`
	ClientID           string `toml:"client_id"`
	Token              string `toml:"token"`
	MaxConnectAttempts int    `toml:"max_connect_attempts"`
	PingIntervalMS     int64  `toml:"ping_interval_ms"`
}

// LoadRelayConfig strictly decodes and validates a relay config file.
func LoadRelayConfig(path string) (RelayFile, error) {
	var cfg RelayFile
	if err := loadToml(path, &cfg); err != nil {
		return RelayFile{}, err
	}
	if err := ValidateRelayConfig(cfg); err != nil {
		return RelayFile{}, err
	}
	return cfg, nil
}

// LoadAgentConfig strictly decodes and validates an agent config file.
func LoadAgentConfig(path string) (AgentFile, error) {
	var cfg AgentFile
	if err := loadToml(path, &cfg); err != nil {
		return AgentFile{}, err
	}
	if err := ValidateAgentConfig(cfg); err != nil {
		return AgentFile{}, err
	}
	return cfg, nil
}

// ValidateFile loads and validates path as a config of the given kind.
func ValidateFile(path, kind string) error {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		_, err := LoadRelayConfig(path)
		return err
	case "agent":
		_, err := LoadAgentConfig(path)
		return err
	default:
		return fmt.Errorf("unknown config kind: %s", kind)
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return fmt.Errorf("config parse failed (%s): %s", path, strict.String())
		}
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateRelayConfig(cfg RelayFile) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("relay config missing addr")
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		return fmt.Errorf("relay config missing data_dir")
	}
	if cfg.MaxMessageBytes < 0 {
		return fmt.Errorf("relay config max_message_bytes must not be negative")
	}
	if cfg.WriteTimeoutMS < 0 {
		return fmt.Errorf("relay config write_timeout_ms must not be negative")
	}
	if cfg.IngestRatePerSec < 0 || cfg.IngestBurst < 0 {
		return fmt.Errorf("relay config ingest limits must not be negative")
	}
	if cfg.NotifyEnabled {
		if base := strings.TrimSpace(cfg.NotifyAPIBase); base != "" {
			if _, err := url.ParseRequestURI(base); err != nil {
				return fmt.Errorf("relay config notify_api_base invalid: %w", err)
			}
		}
	}
	return nil
}

func ValidateAgentConfig(cfg AgentFile) error {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("agent config missing client_id")
	}
	raw := strings.TrimSpace(cfg.RelayURL)
	if raw == "" {
		return fmt.Errorf("agent config missing relay_url")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("agent config relay_url invalid: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("agent config relay_url must use ws or wss")
	}
	return nil
}
