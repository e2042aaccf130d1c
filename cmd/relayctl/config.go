package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/edgerelay/internal/relay"
)

type fileConfig struct {
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

// loadServiceConfig overlays the keys present in path onto the defaults. An
// empty path yields the defaults.
func loadServiceConfig(path string) (relay.ServiceConfig, error) {
	cfg := relay.DefaultServiceConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return relay.ServiceConfig{}, fmt.Errorf("load relay config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("addr") {
		if v := strings.TrimSpace(raw.Addr); v != "" {
			cfg.Addr = v
		}
	}
	if meta.IsDefined("data_dir") {
		if v := strings.TrimSpace(raw.DataDir); v != "" {
			cfg.DataDir = v
		}
	}
	if meta.IsDefined("access_token") {
		cfg.AccessToken = strings.TrimSpace(raw.AccessToken)
	}
	if meta.IsDefined("agent_token_required") {
		cfg.AgentTokenRequired = raw.AgentTokenRequired
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeOrigins(raw.CorsOrigins)
	}
	if meta.IsDefined("max_message_bytes") {
		cfg.MaxMessageBytes = raw.MaxMessageBytes
	}
	if meta.IsDefined("write_timeout_ms") {
		cfg.WriteTimeout = time.Duration(raw.WriteTimeoutMS) * time.Millisecond
	}
	if meta.IsDefined("ingest_rate_per_sec") {
		cfg.IngestRatePerSec = raw.IngestRatePerSec
	}
	if meta.IsDefined("ingest_burst") {
		cfg.IngestBurst = raw.IngestBurst
	}
	if meta.IsDefined("notify_enabled") {
		cfg.Notify.Enabled = raw.NotifyEnabled
	}
	if meta.IsDefined("notify_bot_token") {
		cfg.Notify.BotToken = strings.TrimSpace(raw.NotifyBotToken)
	}
	if meta.IsDefined("notify_chat_id") {
		cfg.Notify.ChatID = strings.TrimSpace(raw.NotifyChatID)
	}
	if meta.IsDefined("notify_api_base") {
		cfg.Notify.APIBase = strings.TrimSpace(raw.NotifyAPIBase)
	}
	if meta.IsDefined("notify_rate_per_sec") {
		cfg.Notify.RatePerSec = raw.NotifyRatePerSec
	}
	if meta.IsDefined("notify_queue_size") {
		cfg.Notify.QueueSize = raw.NotifyQueueSize
	}
	return cfg, nil
}

// applyEnv lets deployment secrets override the file.
func applyEnv(cfg *relay.ServiceConfig, lookup func(string) (string, bool)) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup("ACCESS_TOKEN"); ok && strings.TrimSpace(v) != "" {
		cfg.AccessToken = strings.TrimSpace(v)
	}
	bot, hasBot := lookup("TELEGRAM_BOT_TOKEN")
	chat, hasChat := lookup("TELEGRAM_CHAT_ID")
	if hasBot && strings.TrimSpace(bot) != "" {
		cfg.Notify.BotToken = strings.TrimSpace(bot)
	}
	if hasChat && strings.TrimSpace(chat) != "" {
		cfg.Notify.ChatID = strings.TrimSpace(chat)
	}
	if cfg.Notify.BotToken != "" && cfg.Notify.ChatID != "" && (hasBot || hasChat) {
		cfg.Notify.Enabled = true
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, o := range in {
		if v := strings.TrimSpace(o); v != "" {
			out = append(out, v)
		}
	}
	return out
}
