package config

import (
	"strings"
	"time"

	"github.com/danmuck/edgerelay/internal/agent"
)

// AgentClientConfig maps an agent file onto client settings.
func AgentClientConfig(file AgentFile) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.RelayURL = strings.TrimSpace(file.RelayURL)
	cfg.AgentID = strings.TrimSpace(file.ClientID)
	cfg.Token = strings.TrimSpace(file.Token)
	cfg.MaxConnectAttempts = file.MaxConnectAttempts
	return cfg
}

// PingInterval returns the keepalive interval, defaulting to 15s.
func (f AgentFile) PingInterval() time.Duration {
	if f.PingIntervalMS <= 0 {
		return 15 * time.Second
	}
	return time.Duration(f.PingIntervalMS) * time.Millisecond
}
