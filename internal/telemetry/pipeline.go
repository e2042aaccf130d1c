// Package telemetry normalizes agent telemetry and writes it to the log store.
//
// Ingest never reports failure to its caller: decode and write failures are
// converted into error markers stored in place of the payload.
package telemetry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/danmuck/edgerelay/internal/logstore"
	"github.com/danmuck/edgerelay/internal/observability"
	"github.com/danmuck/edgerelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const (
	MarkerInvalidFormat = "error: invalid data format"
)

// SaveFailedMarker is stored when a binary payload could not be externalized.
func SaveFailedMarker(category protocol.Category) string {
	return fmt.Sprintf("error: %s could not be saved", category)
}

// RecordStore is the log store surface used by the pipeline.
type RecordStore interface {
	Put(rec logstore.Record) error
}

// ContentWriter externalizes decoded binary payloads.
type ContentWriter interface {
	Write(name string, data []byte) (string, error)
}

// Pipeline routes telemetry events into the log store.
type Pipeline struct {
	store   RecordStore
	content ContentWriter
	limiter *Limiter
}

// NewPipeline constructs a pipeline. limiter may be nil.
func NewPipeline(store RecordStore, content ContentWriter, limiter *Limiter) *Pipeline {
	return &Pipeline{store: store, content: content, limiter: limiter}
}

// Ingest stores ev according to its category. It reports false when the event
// was ignored (unknown category or rate limited).
func (p *Pipeline) Ingest(ev protocol.Telemetry) (logstore.Record, bool) {
	if !ev.Category.Valid() {
		observability.RecordTelemetry("unknown", "ignored")
		log.Debug().Str("type", string(ev.Category)).Str("agent", ev.AgentID).Msg("telemetry_unknown_category")
		return logstore.Record{}, false
	}
	if !p.limiter.Allow(ev.AgentID) {
		observability.RecordTelemetry(string(ev.Category), "rate_limited")
		log.Warn().Str("type", string(ev.Category)).Str("agent", ev.AgentID).Msg("telemetry_rate_limited")
		return logstore.Record{}, false
	}

	rec := logstore.Record{
		Category:  ev.Category,
		AgentID:   ev.AgentID,
		Data:      ev.Data,
		Timestamp: ev.Timestamp,
	}
	outcome := "stored"
	switch ev.Category.Payload() {
	case protocol.PayloadBinary:
		var ok bool
		rec.Data, ok = p.externalize(ev)
		if !ok {
			outcome = "marker"
		}
	case protocol.PayloadStructured:
		if len(rec.Data) == 0 {
			rec.Data = json.RawMessage("null")
		}
	}

	if err := p.store.Put(rec); err != nil {
		outcome = "disk_degraded"
	}
	observability.RecordTelemetry(string(ev.Category), outcome)
	log.Debug().
		Str("type", string(ev.Category)).
		Str("agent", ev.AgentID).
		Str("policy", ev.Category.Policy().String()).
		Str("outcome", outcome).
		Msg("telemetry_ingested")
	return rec, true
}

// externalize turns a binary payload into the stored data value. The bool is
// false when an error marker or error text is stored instead of a reference.
func (p *Pipeline) externalize(ev protocol.Telemetry) (json.RawMessage, bool) {
	if text, ok := errorIndicator(ev.Data); ok {
		return quote(text), false
	}
	uri, ok := dataURIString(ev.Data)
	if !ok {
		return quote(MarkerInvalidFormat), false
	}
	decoded, err := DecodeDataURI(uri)
	if err != nil {
		log.Error().Str("type", string(ev.Category)).Str("agent", ev.AgentID).Err(err).Msg("telemetry_decode_failed")
		return quote(SaveFailedMarker(ev.Category)), false
	}
	name := logstore.ContentName(ev.AgentID, protocol.TimestampToken(ev.Timestamp), ev.Category.Extension())
	ref, err := p.content.Write(name, decoded.Data)
	if err != nil {
		observability.RecordStoreFailure("content")
		log.Error().Str("type", string(ev.Category)).Str("agent", ev.AgentID).Err(err).Msg("telemetry_content_write_failed")
		return quote(SaveFailedMarker(ev.Category)), false
	}
	return quote(ref), true
}

// errorIndicator reports the text of an {"error": ...} payload.
func errorIndicator(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(trimmed, "{") {
		return "", false
	}
	var obj struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Error) == 0 {
		return "", false
	}
	var text string
	if err := json.Unmarshal(obj.Error, &text); err == nil {
		if text == "" {
			return "", false
		}
		return text, true
	}
	switch v := strings.TrimSpace(string(obj.Error)); v {
	case "null", "false", "0":
		return "", false
	default:
		return v, true
	}
}

func dataURIString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	if !strings.HasPrefix(s, "data:") {
		return "", false
	}
	return s, true
}

func quote(s string) json.RawMessage {
	raw, _ := json.Marshal(s)
	return raw
}
