// Package registry owns the agent-id to live channel mapping.
//
// Every mutation persists a snapshot of {id, active} pairs. Persistence
// failures are logged and never returned; the in-memory state is authoritative
// for the process lifetime.
package registry

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/edgerelay/internal/notify"
	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotFound  = errors.New("registry: agent not found")
	ErrInvalidID = errors.New("registry: agent id required")
)

// Channel is the live bidirectional handle used to push to one agent.
// Close must be idempotent.
type Channel interface {
	Send(v any) error
	Close() error
	Open() bool
}

// Agent is one registry record.
type Agent struct {
	ID      string
	Channel Channel
	Active  bool
	// IdleTimeout is reserved; nothing schedules expiry from it.
	IdleTimeout time.Duration
}

// AgentStatus is the externally visible projection of an Agent.
type AgentStatus struct {
	ID     string `json:"clientId"`
	Active bool   `json:"isActive"`
}

// Registry maps agent ids to their current channel.
type Registry struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	generation uint64

	saveMu          sync.Mutex
	savedGeneration uint64

	snapshots SnapshotStore
	publisher notify.Publisher
}

// New constructs an empty registry. A nil store disables persistence and a nil
// publisher disables notifications.
func New(snapshots SnapshotStore, publisher notify.Publisher) *Registry {
	if publisher == nil {
		publisher = notify.Nop{}
	}
	return &Registry{
		agents:    make(map[string]*Agent),
		snapshots: snapshots,
		publisher: publisher,
	}
}

// Restore loads the persisted snapshot. Restored entries carry no channel and
// keep their persisted active flag until the agent reconnects or is deleted.
func (r *Registry) Restore() (int, error) {
	if r.snapshots == nil {
		return 0, nil
	}
	entries, err := r.snapshots.Load()
	if err != nil {
		log.Error().Err(err).Msg("registry_restore_failed")
		return 0, err
	}
	restored := 0
	r.mu.Lock()
	for _, entry := range entries {
		id := strings.TrimSpace(entry.ID)
		if id == "" {
			continue
		}
		if _, ok := r.agents[id]; ok {
			continue
		}
		r.agents[id] = &Agent{ID: id, Active: entry.Active}
		restored++
	}
	total := len(r.agents)
	r.mu.Unlock()
	log.Info().Int("restored", restored).Int("total", total).Msg("registry_restored")
	return restored, nil
}

// Register inserts or replaces the record for agentID and marks it active.
// A different previous channel for the same id is closed.
func (r *Registry) Register(agentID string, ch Channel) error {
	id := strings.TrimSpace(agentID)
	if id == "" {
		return ErrInvalidID
	}

	r.mu.Lock()
	var previous Channel
	if agent, ok := r.agents[id]; ok {
		previous = agent.Channel
		agent.Channel = ch
		agent.Active = true
	} else {
		r.agents[id] = &Agent{ID: id, Channel: ch, Active: true}
	}
	entries, gen := r.snapshotLocked()
	connected := r.connectedLocked()
	total := len(r.agents)
	r.mu.Unlock()

	if previous != nil && previous != ch {
		_ = previous.Close()
		log.Warn().Str("agent", id).Msg("registry_replaced_channel")
	}
	observability.SetConnectedAgents(connected)
	log.Info().Str("agent", id).Int("total", total).Msg("registry_registered")
	r.persist(entries, gen)
	r.publisher.Publish(notify.Event{Kind: notify.AgentRegistered, AgentID: id, At: time.Now()})
	return nil
}

// Lookup returns a copy of the record for agentID.
func (r *Registry) Lookup(agentID string) (Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[strings.TrimSpace(agentID)]
	if !ok {
		return Agent{}, false
	}
	return *agent, true
}

// MarkDisconnected clears ch from every record that owns it. It reports whether
// an owner was found.
func (r *Registry) MarkDisconnected(ch Channel) bool {
	if ch == nil {
		return false
	}
	r.mu.Lock()
	var owners []string
	for id, agent := range r.agents {
		if agent.Channel == ch {
			agent.Channel = nil
			agent.Active = false
			owners = append(owners, id)
		}
	}
	if len(owners) == 0 {
		r.mu.Unlock()
		return false
	}
	entries, gen := r.snapshotLocked()
	connected := r.connectedLocked()
	r.mu.Unlock()

	observability.SetConnectedAgents(connected)
	log.Info().Strs("agents", owners).Msg("registry_disconnected")
	r.persist(entries, gen)
	return true
}

// Delete closes the agent's channel if open and removes the record.
func (r *Registry) Delete(agentID string) error {
	id := strings.TrimSpace(agentID)
	r.mu.Lock()
	agent, ok := r.agents[id]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.agents, id)
	ch := agent.Channel
	entries, gen := r.snapshotLocked()
	connected := r.connectedLocked()
	r.mu.Unlock()

	if ch != nil && ch.Open() {
		_ = ch.Close()
	}
	observability.SetConnectedAgents(connected)
	log.Info().Str("agent", id).Msg("registry_deleted")
	r.persist(entries, gen)
	return nil
}

// List returns every record's id and active flag ordered by id.
func (r *Registry) List() []AgentStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]AgentStatus, 0, len(r.agents))
	for _, agent := range r.agents {
		out = append(out, AgentStatus{ID: agent.ID, Active: agent.Active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of records.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

func (r *Registry) snapshotLocked() ([]SnapshotEntry, uint64) {
	r.generation++
	entries := make([]SnapshotEntry, 0, len(r.agents))
	for _, agent := range r.agents {
		entries = append(entries, SnapshotEntry{ID: agent.ID, Active: agent.Active})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, r.generation
}

func (r *Registry) connectedLocked() int {
	n := 0
	for _, agent := range r.agents {
		if agent.Channel != nil && agent.Channel.Open() {
			n++
		}
	}
	return n
}

// persist saves entries unless a newer generation has already been written.
func (r *Registry) persist(entries []SnapshotEntry, gen uint64) {
	if r.snapshots == nil {
		return
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()
	if gen <= r.savedGeneration {
		return
	}
	if err := r.snapshots.Save(entries); err != nil {
		observability.RecordStoreFailure("snapshot")
		log.Warn().Uint64("generation", gen).Err(err).Msg("registry_snapshot_failed")
		return
	}
	r.savedGeneration = gen
}
