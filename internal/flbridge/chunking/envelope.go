package chunking

import "github.com/szichedelic/flbridge-core/internal/flbridge/wire"

// Envelope is the textual (JSON) structured key-value record carried, base64
// encoded, across one or more frames (spec.md §3 LogicalMessage.object).
type Envelope struct {
	Kind      string                 `json:"kind"`                 // "command" | "response" | "event"
	ID        uint32                 `json:"id"`                   // correlation id
	Name      string                 `json:"name,omitempty"`       // command/event name
	Params    map[string]interface{} `json:"params,omitempty"`     // command parameters
	Status    string                 `json:"status,omitempty"`     // "ok" | "error" (responses only)
	Result    map[string]interface{} `json:"result,omitempty"`     // response fields
	Error     string                 `json:"error,omitempty"`      // textual failure reason
	ErrorKind string                 `json:"errorKind,omitempty"` // "host_unsafe" distinguishes a guarded refusal from a generic CommandFailed
}

// LogicalMessage is the reconstructed (clientId, messageKind, correlationId,
// status, object) tuple of spec.md §3, after reassembly and base64 decode.
type LogicalMessage struct {
	ClientID      byte
	Kind          wire.MessageKind
	CorrelationID uint32
	Status        wire.Status
	Name          string
	Params        map[string]interface{}
	Result        map[string]interface{}
	ErrorMessage  string
	ErrorKind     string
}
