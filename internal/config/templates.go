package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "relay":
		return relayTemplate, nil
	case "agent":
		return agentTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const relayTemplate = `addr = ":8080"
data_dir = "data"
access_token = "change-me"
agent_token_required = false
cors_origins = ["*"]
max_message_bytes = 33554432
write_timeout_ms = 10000

ingest_rate_per_sec = 0
ingest_burst = 0

notify_enabled = false
notify_bot_token = ""
notify_chat_id = ""
notify_api_base = "https://api.telegram.org"
notify_rate_per_sec = 1.0
notify_queue_size = 64
`

const agentTemplate = `relay_url = "ws://localhost:8080/ws"
client_id = "agent-1"
token = ""
max_connect_attempts = 0
ping_interval_ms = 15000
`
