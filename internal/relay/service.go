// Package relay hosts the agent WebSocket endpoint and the operator REST
// surface, wiring the registry, router, telemetry pipeline and log store.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgerelay/internal/auth"
	"github.com/danmuck/edgerelay/internal/logstore"
	"github.com/danmuck/edgerelay/internal/notify"
	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/registry"
	"github.com/danmuck/edgerelay/internal/router"
	"github.com/danmuck/edgerelay/internal/telemetry"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const Version = "0.1.0"

// Service runs the relay lifecycle as a standalone process.
type Service struct {
	cfg       ServiceConfig
	appeared  time.Time
	engine    *gin.Engine
	upgrader  websocket.Upgrader
	validator auth.Validator

	registry   *registry.Registry
	router     *router.Router
	store      *logstore.Store
	content    *logstore.ContentStore
	pipeline   *telemetry.Pipeline
	dispatcher *notify.Dispatcher

	restoreOnce sync.Once
}

// NewService builds every component from cfg and registers the routes.
func NewService(cfg ServiceConfig) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, dir := range []string{cfg.logsDir(), cfg.filesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("relay: create %s: %w", dir, err)
		}
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		log.Warn().Msg("relay_access_token_empty: operator routes will deny every request")
	}

	observability.RegisterMetrics()

	s := &Service{
		cfg:       cfg,
		appeared:  time.Now(),
		upgrader:  makeUpgrader(cfg.CorsOrigins),
		validator: auth.StaticToken{Token: cfg.AccessToken},
		store:     logstore.NewStore(cfg.logsDir()),
		content:   logstore.NewContentStore(cfg.filesDir()),
	}

	var publisher notify.Publisher = notify.Nop{}
	if d := newDispatcher(cfg.Notify); d != nil {
		s.dispatcher = d
		publisher = d
	}
	s.registry = registry.New(registry.NewFileSnapshotStore(cfg.snapshotPath()), publisher)
	s.router = router.New(s.registry)
	s.pipeline = telemetry.NewPipeline(
		s.store,
		s.content,
		telemetry.NewLimiter(cfg.IngestRatePerSec, cfg.IngestBurst, 0),
	)

	s.engine = newEngine(cfg.CorsOrigins)
	s.RegisterRoutes()
	return s, nil
}

func newEngine(corsOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestID())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware("edgerelay"))
	r.Use(cors.New(corsConfig(corsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", auth.HeaderToken, observability.HeaderRequestID},
		MaxAge:       12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			return cfg
		}
	}
	if len(origins) == 0 {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func newDispatcher(cfg NotifyConfig) *notify.Dispatcher {
	if !cfg.Enabled {
		return nil
	}
	sender, err := notify.NewTelegramSender(cfg.APIBase, cfg.BotToken, cfg.ChatID)
	if err != nil {
		log.Warn().Err(err).Msg("relay_notify_disabled")
		return nil
	}
	return notify.NewDispatcher(sender, notify.DispatcherConfig{
		QueueSize:  cfg.QueueSize,
		RatePerSec: cfg.RatePerSec,
	})
}

// Handler exposes the HTTP handler for embedding and tests.
func (s *Service) Handler() http.Handler {
	return s.engine
}

// Registry exposes the connection registry.
func (s *Service) Registry() *registry.Registry {
	return s.registry
}

// Store exposes the telemetry log store.
func (s *Service) Store() *logstore.Store {
	return s.store
}

// Restore loads the persisted registry snapshot once.
func (s *Service) Restore() {
	s.restoreOnce.Do(func() {
		if _, err := s.registry.Restore(); err != nil {
			log.Warn().Err(err).Msg("relay_restore_failed")
		}
	})
}

// Run listens on cfg.Addr and blocks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("relay: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve restores state, starts the notifier and serves HTTP on ln until ctx
// is done. Queued notifications are drained for up to ShutdownTimeout.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	s.Restore()

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultServiceConfig().ShutdownTimeout
	}

	notifyCtx, stopNotify := context.WithCancel(context.WithoutCancel(ctx))
	defer stopNotify()
	notifierDone := make(chan struct{})
	if s.dispatcher != nil {
		go func() {
			defer close(notifierDone)
			if err := s.dispatcher.Run(notifyCtx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, notify.ErrQueueClosed) {
				log.Warn().Err(err).Msg("relay_notifier_stopped")
			}
		}()
	}

	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	log.Info().
		Str("addr", ln.Addr().String()).
		Str("data_dir", s.cfg.DataDir).
		Bool("notify", s.dispatcher != nil).
		Msg("relay_serving")

	var err error
	select {
	case <-ctx.Done():
		shutdownCtx, stop := context.WithTimeout(context.Background(), timeout)
		defer stop()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			log.Warn().Err(serr).Msg("relay_shutdown_incomplete")
		}
		<-serveErr
	case err = <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
	}

	s.closeAgents()
	if s.dispatcher != nil {
		s.dispatcher.Close()
		select {
		case <-notifierDone:
		case <-time.After(timeout):
			log.Warn().Msg("relay_notifier_drain_timeout")
			stopNotify()
			<-notifierDone
		}
	}
	log.Info().Msg("relay_stopped")
	return err
}

// closeAgents closes every live agent channel. Hijacked WebSocket connections
// are not tracked by http.Server.Shutdown.
func (s *Service) closeAgents() {
	for _, st := range s.registry.List() {
		if agent, ok := s.registry.Lookup(st.ID); ok && agent.Channel != nil {
			_ = agent.Channel.Close()
		}
	}
}
