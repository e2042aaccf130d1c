package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/edgerelay/internal/agent"
	"github.com/danmuck/edgerelay/internal/config"
	"github.com/danmuck/edgerelay/internal/logging"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to agent config (toml)")
	relayURL := pflag.String("relay", "", "relay websocket url override")
	clientID := pflag.String("id", "", "client id override")
	pflag.Parse()

	logging.ConfigureRuntime()

	file := config.AgentFile{RelayURL: "ws://localhost:8080/ws"}
	if *configPath != "" {
		loaded, err := config.LoadAgentConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
			os.Exit(1)
		}
		file = loaded
	}
	if *relayURL != "" {
		file.RelayURL = *relayURL
	}
	if *clientID != "" {
		file.ClientID = *clientID
	}
	if err := config.ValidateAgentConfig(file); err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}

	client, err := agent.NewClient(config.AgentClientConfig(file))
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, client, file.PingInterval()); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("agentctl_exit")
		os.Exit(1)
	}
}

// run keeps one session alive, reconnecting when the relay drops it.
func run(ctx context.Context, client *agent.Client, pingEvery time.Duration) error {
	for {
		sess, err := client.Connect(ctx)
		if err != nil {
			return err
		}
		serveSession(ctx, sess, pingEvery)
		_ = sess.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(sess.Err()).Msg("agent_session_lost")
	}
}

func serveSession(ctx context.Context, sess *agent.Session, pingEvery time.Duration) {
	ticker := time.NewTicker(pingEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case cmd, ok := <-sess.Commands():
			if !ok {
				return
			}
			handleCommand(sess, cmd)
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, pingEvery)
			err := sess.Ping(pingCtx)
			cancel()
			if err != nil {
				log.Warn().Err(err).Msg("agent_ping_failed")
				return
			}
		}
	}
}

// handleCommand logs the command and reports that capture is unavailable for
// binary categories.
func handleCommand(sess *agent.Session, cmd protocol.Command) {
	log.Info().Str("command", cmd.Command).RawJSON("payload", payloadOrNull(cmd.Payload)).Msg("agent_command")
	category, err := protocol.ParseCategory(cmd.Command)
	if err != nil || category.Payload() != protocol.PayloadBinary {
		return
	}
	report := map[string]string{"error": "capture not supported by agentctl"}
	if err := sess.SendTelemetry(category, report, time.Now().UnixMilli()); err != nil {
		log.Warn().Err(err).Str("command", cmd.Command).Msg("agent_report_failed")
	}
}

func payloadOrNull(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
