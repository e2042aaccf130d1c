package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound is one decoded agent-to-server message.
type Inbound struct {
	Kind    MessageKind
	Type    string
	AgentID string
	// Telemetry is set only for KindTelemetry.
	Telemetry Telemetry
}

type inboundWire struct {
	Type      string          `json:"type"`
	ClientID  string          `json:"clientId"`
	Data      json.RawMessage `json:"data"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Decode parses one frame. Unknown message types decode to KindUnknown without error.
func Decode(raw []byte) (Inbound, error) {
	var wire inboundWire
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	typ := strings.TrimSpace(wire.Type)
	if typ == "" {
		return Inbound{}, ErrMissingType
	}
	in := Inbound{Type: typ, AgentID: strings.TrimSpace(wire.ClientID)}

	switch typ {
	case TypeRegister:
		if in.AgentID == "" {
			return Inbound{}, ErrMissingClientID
		}
		in.Kind = KindRegister
		return in, nil
	case TypePing:
		in.Kind = KindPing
		return in, nil
	}

	category, err := ParseCategory(typ)
	if err != nil {
		in.Kind = KindUnknown
		return in, nil
	}
	in.Kind = KindTelemetry
	in.Telemetry = Telemetry{
		Category:  category,
		AgentID:   in.AgentID,
		Data:      wire.Data,
		Timestamp: wire.Timestamp,
	}
	return in, nil
}

// TimestampToken renders a raw JSON timestamp as a bare token for file naming.
func TimestampToken(raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return ""
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return s
}
