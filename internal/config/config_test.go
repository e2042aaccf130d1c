package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgerelay/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestTemplatesValidate(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	relayPath := filepath.Join(dir, "relay.toml")
	if err := WriteTemplate(relayPath, "relay", false); err != nil {
		t.Fatalf("write relay template: %v", err)
	}
	cfg, err := LoadRelayConfig(relayPath)
	if err != nil {
		t.Fatalf("relay template should validate: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.MaxMessageBytes != 32<<20 {
		t.Fatalf("unexpected relay template values: %+v", cfg)
	}

	agentPath := filepath.Join(dir, "agent.toml")
	if err := WriteTemplate(agentPath, "agent", false); err != nil {
		t.Fatalf("write agent template: %v", err)
	}
	agentCfg, err := LoadAgentConfig(agentPath)
	if err != nil {
		t.Fatalf("agent template should validate: %v", err)
	}
	if agentCfg.PingInterval() != 15*time.Second {
		t.Fatalf("unexpected ping interval: %v", agentCfg.PingInterval())
	}
	client := AgentClientConfig(agentCfg)
	if client.AgentID != "agent-1" || client.RelayURL != "ws://localhost:8080/ws" {
		t.Fatalf("unexpected client config: %+v", client)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)

	path := writeFile(t, "addr = \":1\"\n")
	if err := WriteTemplate(path, "relay", false); err == nil {
		t.Fatalf("expected existing-file error")
	}
	if err := WriteTemplate(path, "relay", true); err != nil {
		t.Fatalf("forced overwrite failed: %v", err)
	}
	if _, err := Template("mirage"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestValidateFileByKind(t *testing.T) {
	testlog.Start(t)

	dir := t.TempDir()
	relayPath := filepath.Join(dir, "relay.toml")
	if err := WriteTemplate(relayPath, "relay", false); err != nil {
		t.Fatalf("write relay template: %v", err)
	}
	if err := ValidateFile(relayPath, "relay"); err != nil {
		t.Fatalf("relay template should validate: %v", err)
	}
	if err := ValidateFile(relayPath, "agent"); err == nil {
		t.Fatalf("relay file should not validate as agent config")
	}
	err := ValidateFile(relayPath, "bogus")
	if err == nil || !strings.Contains(err.Error(), "unknown config kind") {
		t.Fatalf("expected unknown kind error, got %v", err)
	}
}

func TestLoadRelayConfigRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)

	path := writeFile(t, "addr = \":8080\"\ndata_dir = \"data\"\naccess_tokn = \"typo\"\n")
	_, err := LoadRelayConfig(path)
	if err == nil || !strings.Contains(err.Error(), "access_tokn") {
		t.Fatalf("expected unknown key error naming access_tokn, got %v", err)
	}
}

func TestValidateRelayConfig(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name string
		cfg  RelayFile
		ok   bool
	}{
		{name: "minimal", cfg: RelayFile{Addr: ":8080", DataDir: "data"}, ok: true},
		{name: "missing addr", cfg: RelayFile{DataDir: "data"}},
		{name: "missing data dir", cfg: RelayFile{Addr: ":8080"}},
		{name: "negative limit", cfg: RelayFile{Addr: ":8080", DataDir: "d", MaxMessageBytes: -1}},
		{name: "bad notify base", cfg: RelayFile{Addr: ":8080", DataDir: "d", NotifyEnabled: true, NotifyAPIBase: "::"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateRelayConfig(tc.cfg)
			if tc.ok && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.ok && err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidateAgentConfig(t *testing.T) {
	testlog.Start(t)

	if err := ValidateAgentConfig(AgentFile{ClientID: "A1", RelayURL: "http://x/ws"}); err == nil {
		t.Fatalf("expected scheme error")
	}
	if err := ValidateAgentConfig(AgentFile{RelayURL: "ws://x/ws"}); err == nil {
		t.Fatalf("expected missing client_id error")
	}
	if err := ValidateAgentConfig(AgentFile{ClientID: "A1", RelayURL: "wss://x/ws"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
}
