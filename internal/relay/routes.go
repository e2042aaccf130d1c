package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/edgerelay/internal/auth"
	"github.com/danmuck/edgerelay/internal/logstore"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/danmuck/edgerelay/internal/registry"
	"github.com/danmuck/edgerelay/internal/router"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type sendCommandRequest struct {
	ClientID string          `json:"clientId"`
	Command  string          `json:"command"`
	Payload  json.RawMessage `json:"payload"`
}

func (s *Service) RegisterRoutes() {
	r := s.engine

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"uptime":    time.Since(s.appeared).String(),
			"component": "edgerelay",
			"version":   Version,
		})
	})

	r.GET("/ready", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"ready":     true,
			"uptime":    time.Since(s.appeared).String(),
			"component": "edgerelay",
			"version":   Version,
			"agents":    s.registry.Len(),
		})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/ws", s.handleAgentWS)

	gated := r.Group("/", auth.TokenGate(s.validator))
	gated.GET("/clients", s.listClients)
	gated.GET("/sendCommand", s.sendCommandQuery)
	gated.POST("/sendCommand", s.sendCommandBody)
	gated.GET("/getlog", s.getLog)
	gated.GET("/deleteClient", s.deleteClientQuery)
	gated.DELETE("/clients/:id", s.deleteClientParam)
	gated.Static(logstore.ContentRoute, s.content.Root())
}

func (s *Service) listClients(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

func (s *Service) sendCommandQuery(c *gin.Context) {
	req := sendCommandRequest{
		ClientID: c.Query("clientId"),
		Command:  c.Query("command"),
		Payload:  queryPayload(c.Query("payload")),
	}
	s.dispatch(c, req)
}

func (s *Service) sendCommandBody(c *gin.Context) {
	var req sendCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	s.dispatch(c, req)
}

func (s *Service) dispatch(c *gin.Context, req sendCommandRequest) {
	err := s.router.Dispatch(req.ClientID, req.Command, req.Payload)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"message": "command sent"})
	case errors.Is(err, router.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId and command are required"})
	case errors.Is(err, router.ErrUnreachable):
		c.JSON(http.StatusNotFound, gin.H{"error": "client connection closed"})
	default:
		log.Error().Err(err).Str("agent", req.ClientID).Msg("dispatch_failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "dispatch failed"})
	}
}

func (s *Service) getLog(c *gin.Context) {
	category, err := protocol.ParseCategory(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid log type"})
		return
	}
	records, err := s.store.Query(category, c.Query("clientId"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, records)
	case errors.Is(err, logstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "log not found"})
	default:
		log.Error().Err(err).Str("type", string(category)).Msg("getlog_failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "log query failed"})
	}
}

func (s *Service) deleteClientQuery(c *gin.Context) {
	s.deleteClient(c, c.Query("clientId"))
}

func (s *Service) deleteClientParam(c *gin.Context) {
	s.deleteClient(c, c.Param("id"))
}

func (s *Service) deleteClient(c *gin.Context, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clientId is required"})
		return
	}
	if err := s.registry.Delete(id); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": id + " deleted"})
}

// queryPayload keeps JSON payloads as-is and wraps anything else as a string.
func queryPayload(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw)
	}
	quoted, _ := json.Marshal(raw)
	return quoted
}
