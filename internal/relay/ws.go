package relay

import (
	"errors"
	"net/http"

	"github.com/danmuck/edgerelay/internal/auth"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o == "*" {
			allowAll = true
		}
		originSet[o] = true
	}
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			return originSet[origin]
		},
	}
}

// handleAgentWS runs one agent connection. Frames are handled in arrival order.
func (s *Service) handleAgentWS(c *gin.Context) {
	if s.cfg.AgentTokenRequired {
		tok, _ := auth.TokenFromRequest(c.Request)
		err := s.validator.Validate(tok)
		switch {
		case errors.Is(err, auth.ErrTokenMissing):
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "token required"})
			return
		case err != nil:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "access denied: invalid token"})
			return
		}
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote", c.ClientIP()).Msg("ws_upgrade_failed")
		return
	}
	conn.SetReadLimit(s.cfg.MaxMessageBytes)

	ch := newWSChannel(uuid.NewString(), conn, s.cfg.WriteTimeout)
	logger := log.With().Str("conn", ch.id).Str("remote", c.ClientIP()).Logger()
	logger.Info().Msg("ws_connected")

	var agentID string
	defer func() {
		_ = ch.Close()
		s.registry.MarkDisconnected(ch)
		logger.Info().Str("agent", agentID).Msg("ws_closed")
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Warn().Err(err).Msg("ws_read_failed")
			}
			return
		}

		in, err := protocol.Decode(raw)
		if err != nil {
			logger.Warn().Err(err).Int("bytes", len(raw)).Msg("ws_frame_rejected")
			continue
		}

		switch in.Kind {
		case protocol.KindRegister:
			if err := s.registry.Register(in.AgentID, ch); err != nil {
				logger.Warn().Err(err).Msg("ws_register_failed")
				continue
			}
			agentID = in.AgentID
		case protocol.KindPing:
			if err := ch.Send(protocol.NewPong()); err != nil {
				logger.Warn().Err(err).Msg("ws_pong_failed")
				return
			}
		case protocol.KindTelemetry:
			ev := in.Telemetry
			if ev.AgentID == "" {
				ev.AgentID = agentID
			}
			s.pipeline.Ingest(ev)
		default:
			logger.Debug().Str("type", in.Type).Msg("ws_unknown_type")
		}
	}
}
