// Package notify publishes operational events to an outbound collaborator.
//
// Delivery is at-most-once and never blocks the publisher: events are queued on
// a bounded channel and dropped when the queue is full.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrQueueClosed = errors.New("notify: queue closed")

type Kind string

const (
	AgentRegistered Kind = "agent_registered"
)

// Event is one operational notification.
type Event struct {
	Kind    Kind
	AgentID string
	At      time.Time
}

// Text renders the human-readable notification body.
func (e Event) Text() string {
	switch e.Kind {
	case AgentRegistered:
		return fmt.Sprintf("Client %s is active!", e.AgentID)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.AgentID)
	}
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(Event)
}

// Sender delivers one rendered message.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

// DispatcherConfig tunes the async queue.
type DispatcherConfig struct {
	QueueSize   int
	RatePerSec  float64
	Burst       int
	SendTimeout time.Duration
}

func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		QueueSize:   64,
		RatePerSec:  1,
		Burst:       3,
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher queues events and delivers them through a Sender from one worker.
type Dispatcher struct {
	cfg     DispatcherConfig
	sender  Sender
	limiter *rate.Limiter

	mu     sync.RWMutex
	closed bool
	queue  chan Event
}

func NewDispatcher(sender Sender, cfg DispatcherConfig) *Dispatcher {
	def := DefaultDispatcherConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	limit := rate.Inf
	if cfg.RatePerSec > 0 {
		limit = rate.Limit(cfg.RatePerSec)
	}
	return &Dispatcher{
		cfg:     cfg,
		sender:  sender,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		queue:   make(chan Event, cfg.QueueSize),
	}
}

// Publish enqueues e, dropping it when the queue is full or closed.
func (d *Dispatcher) Publish(e Event) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		observability.RecordNotification("dropped")
		return
	}
	select {
	case d.queue <- e:
	default:
		observability.RecordNotification("dropped")
		log.Warn().Str("kind", string(e.Kind)).Str("agent", e.AgentID).Msg("notify_queue_full")
	}
}

// Run delivers queued events until ctx is done or Close is called.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-d.queue:
			if !ok {
				return ErrQueueClosed
			}
			d.deliver(ctx, e)
		}
	}
}

// Close stops accepting events. Run delivers what is already queued and then
// returns ErrQueueClosed.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	if err := d.limiter.Wait(ctx); err != nil {
		observability.RecordNotification("dropped")
		return
	}
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	defer cancel()
	if err := d.sender.Send(sendCtx, e.Text()); err != nil {
		observability.RecordNotification("failed")
		log.Error().Str("kind", string(e.Kind)).Str("agent", e.AgentID).Err(err).Msg("notify_send_failed")
		return
	}
	observability.RecordNotification("sent")
	log.Debug().Str("kind", string(e.Kind)).Str("agent", e.AgentID).Msg("notify_sent")
}
