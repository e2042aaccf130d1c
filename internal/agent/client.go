// Package agent is a reference agent that registers with the relay, streams
// telemetry and receives pushed commands.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgerelay/internal/auth"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrRelayURLRequired = errors.New("agent: relay url required")
	ErrAgentIDRequired  = errors.New("agent: client id required")
	ErrSessionClosed    = errors.New("agent: session closed")
	ErrPongTimeout      = errors.New("agent: pong timeout")
)

type Config struct {
	// RelayURL is the relay WebSocket endpoint, e.g. ws://host:8080/ws.
	RelayURL           string
	AgentID            string
	Token              string
	ConnectTimeout     time.Duration
	WriteTimeout       time.Duration
	MaxConnectAttempts int
	CommandBuffer      int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 5 * time.Second,
		WriteTimeout:   10 * time.Second,
		CommandBuffer:  32,
		Backoff:        DefaultBackoff(),
	}
}

type Client struct {
	cfg Config
	rng *rand.Rand
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.RelayURL) == "" {
		return nil, ErrRelayURLRequired
	}
	if strings.TrimSpace(cfg.AgentID) == "" {
		return nil, ErrAgentIDRequired
	}
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = def.CommandBuffer
	}
	if cfg.Backoff == (BackoffConfig{}) {
		cfg.Backoff = def.Backoff
	}
	return &Client{
		cfg: cfg,
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Connect dials the relay, sends the register frame and returns a live session.
// Dial failures are retried with backoff until MaxConnectAttempts (0 = forever)
// or ctx is done.
func (c *Client) Connect(ctx context.Context) (*Session, error) {
	var attempt int
	for {
		attempt++
		conn, err := c.dial(ctx)
		if err == nil {
			s := newSession(conn, c.cfg)
			if err = s.register(); err == nil {
				log.Info().Str("agent", c.cfg.AgentID).Int("attempt", attempt).Msg("agent_registered")
				return s, nil
			}
			_ = s.Close()
		}
		log.Warn().Str("url", c.cfg.RelayURL).Int("attempt", attempt).Err(err).Msg("agent_connect_failed")
		if !c.shouldRetry(attempt) {
			return nil, err
		}
		if err := c.sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	target, err := url.Parse(c.cfg.RelayURL)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if tok := strings.TrimSpace(c.cfg.Token); tok != "" {
		header.Set(auth.HeaderToken, tok)
	}
	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.ConnectTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	conn, resp, err := dialer.DialContext(ctx, target.String(), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

func (c *Client) shouldRetry(attempt int) bool {
	if c.cfg.MaxConnectAttempts <= 0 {
		return true
	}
	return attempt < c.cfg.MaxConnectAttempts
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) error {
	delay := NextBackoffDelay(c.cfg.Backoff, attempt, c.rng)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Session is one registered connection to the relay.
type Session struct {
	cfg  Config
	conn *websocket.Conn

	writeMu  sync.Mutex
	commands chan protocol.Command
	pongs    chan struct{}
	done     chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
}

func newSession(conn *websocket.Conn, cfg Config) *Session {
	s := &Session{
		cfg:      cfg,
		conn:     conn,
		commands: make(chan protocol.Command, cfg.CommandBuffer),
		pongs:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Session) register() error {
	return s.write(map[string]string{"type": protocol.TypeRegister, "clientId": s.cfg.AgentID})
}

// Commands delivers pushed commands. The channel closes with the session.
func (s *Session) Commands() <-chan protocol.Command {
	return s.commands
}

// Done closes when the session ends.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the session ended.
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// SendTelemetry reports one event. data is marshaled as the event payload.
func (s *Session) SendTelemetry(category protocol.Category, data any, timestamp int64) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	ts, _ := json.Marshal(timestamp)
	return s.write(protocol.Telemetry{
		Category:  category,
		AgentID:   s.cfg.AgentID,
		Data:      raw,
		Timestamp: ts,
	})
}

// Ping sends a ping and waits for the pong.
func (s *Session) Ping(ctx context.Context) error {
	if err := s.write(map[string]string{"type": protocol.TypePing}); err != nil {
		return err
	}
	select {
	case <-s.pongs:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return errors.Join(ErrPongTimeout, ctx.Err())
	}
}

func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.writeMu.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(time.Second))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *Session) write(v any) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteJSON(v)
}

func (s *Session) readLoop() {
	defer close(s.commands)
	defer close(s.done)
	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.errMu.Lock()
			s.err = err
			s.errMu.Unlock()
			return
		}
		var frame struct {
			Type    string          `json:"type"`
			Command string          `json:"command"`
			AgentID string          `json:"clientId"`
			Payload json.RawMessage `json:"payload"`
		}
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Warn().Err(err).Msg("agent_frame_rejected")
			continue
		}
		if frame.Type == protocol.TypePong {
			select {
			case s.pongs <- struct{}{}:
			default:
			}
			continue
		}
		if frame.Command == "" {
			continue
		}
		cmd := protocol.Command{Command: frame.Command, AgentID: frame.AgentID, Payload: frame.Payload}
		select {
		case s.commands <- cmd:
		default:
			log.Warn().Str("command", cmd.Command).Msg("agent_command_dropped")
		}
	}
}
