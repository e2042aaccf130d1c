// Package router delivers operator commands to connected agents.
package router

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/registry"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidRequest = errors.New("router: clientId and command required")
	ErrUnreachable    = errors.New("router: client connection closed")
)

// Lookup is the registry surface the router needs.
type Lookup interface {
	Lookup(agentID string) (registry.Agent, bool)
}

// Router resolves an agent id to its current channel and pushes one command.
type Router struct {
	agents Lookup
}

func New(agents Lookup) *Router {
	return &Router{agents: agents}
}

// Dispatch sends command to agentID at most once. No queueing or retry happens
// when the agent is absent or its channel is not open.
func (r *Router) Dispatch(agentID, command string, payload json.RawMessage) error {
	agentID = strings.TrimSpace(agentID)
	command = strings.TrimSpace(command)
	if agentID == "" || command == "" {
		observability.RecordDispatch("invalid")
		return ErrInvalidRequest
	}

	agent, ok := r.agents.Lookup(agentID)
	if !ok || agent.Channel == nil || !agent.Channel.Open() {
		observability.RecordDispatch("unreachable")
		log.Warn().Str("agent", agentID).Str("command", command).Msg("dispatch_unreachable")
		return ErrUnreachable
	}

	msg := protocol.Command{Command: command, AgentID: agentID, Payload: payload}
	if err := agent.Channel.Send(msg); err != nil {
		observability.RecordDispatch("send_failed")
		log.Warn().Str("agent", agentID).Str("command", command).Err(err).Msg("dispatch_send_failed")
		return errors.Join(ErrUnreachable, err)
	}

	observability.RecordDispatch("sent")
	log.Info().Str("agent", agentID).Str("command", command).Msg("dispatch_sent")
	return nil
}
