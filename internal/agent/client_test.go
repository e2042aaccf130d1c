package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/testutil/testlog"
	"github.com/gorilla/websocket"
)

func TestNextBackoffDelay(t *testing.T) {
	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	cases := map[int]time.Duration{
		1: 100 * time.Millisecond,
		2: 200 * time.Millisecond,
		3: 400 * time.Millisecond,
		5: time.Second,
	}
	for attempt, want := range cases {
		if got := NextBackoffDelay(cfg, attempt, nil); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", attempt, want, got)
		}
	}

	cfg.Jitter = true
	if got := NextBackoffDelay(cfg, 2, nil); got != 100*time.Millisecond {
		t.Fatalf("nil rng jitter should halve delay, got %v", got)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{AgentID: "A1"}); !errors.Is(err, ErrRelayURLRequired) {
		t.Fatalf("expected relay url error, got %v", err)
	}
	if _, err := NewClient(Config{RelayURL: "ws://x/ws"}); !errors.Is(err, ErrAgentIDRequired) {
		t.Fatalf("expected agent id error, got %v", err)
	}
}

// relayStub accepts one agent, checks its register frame, answers pings and
// pushes one command.
func relayStub(t *testing.T, frames chan<- map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var frame map[string]any
			if err := json.Unmarshal(raw, &frame); err != nil {
				continue
			}
			frames <- frame
			switch frame["type"] {
			case protocol.TypePing:
				_ = conn.WriteJSON(protocol.NewPong())
			case protocol.TypeRegister:
				_ = conn.WriteJSON(protocol.Command{Command: "screenshot", AgentID: "A1"})
			}
		}
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSessionRegisterCommandsAndPing(t *testing.T) {
	testlog.Start(t)

	frames := make(chan map[string]any, 16)
	srv := relayStub(t, frames)
	defer srv.Close()

	client, err := NewClient(Config{RelayURL: wsURL(srv), AgentID: "A1", MaxConnectAttempts: 1})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	sess, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer sess.Close()

	reg := <-frames
	if reg["type"] != protocol.TypeRegister || reg["clientId"] != "A1" {
		t.Fatalf("unexpected register frame: %v", reg)
	}

	select {
	case cmd := <-sess.Commands():
		if cmd.Command != "screenshot" {
			t.Fatalf("unexpected command: %+v", cmd)
		}
	case <-ctx.Done():
		t.Fatalf("no command received")
	}

	if err := sess.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	<-frames

	if err := sess.SendTelemetry(protocol.CategoryTabs, map[string]string{"url": "x"}, 1700000000000); err != nil {
		t.Fatalf("send telemetry: %v", err)
	}
	tel := <-frames
	if tel["type"] != "tabs" || tel["clientId"] != "A1" {
		t.Fatalf("unexpected telemetry frame: %v", tel)
	}
}

func TestConnectGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)
	srv.Close()

	client, err := NewClient(Config{
		RelayURL:           url,
		AgentID:            "A1",
		MaxConnectAttempts: 2,
		Backoff:            BackoffConfig{InitialDelay: time.Millisecond, Multiplier: 1},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial failure")
	}
}
