// internal/wire/envelope.go
package wire

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ProtocolVersion is the single event-stream version this client understands.
// The codec carries other versions through unchanged; the stream consumer
// compares them against this constant and abandons streaming on a mismatch.
const ProtocolVersion = 1

// Event types recognized by the projector. Unknown types are ignored.
const (
	EventJobQueued      = "job.queued"
	EventJobProcessing  = "job.processing"
	EventToolStart      = "tool.start"
	EventToolFinish     = "tool.finish"
	EventAssistantDelta = "assistant.delta"
	EventAssistantDone  = "assistant.done"
	EventJobDone        = "job.done"
	EventJobFailed      = "job.failed"
	EventJobCancelled   = "job.cancelled"
)

// Envelope is the validated form of one stream frame's data segment.
// EventID is 0 when the source omitted it. Version defaults to
// ProtocolVersion when omitted. Payload is never nil.
type Envelope struct {
	EventID int64
	Version int64
	Type    string
	Payload map[string]json.RawMessage
}

// DecodeEnvelope parses and validates a raw data segment. It rejects input
// that is not a JSON object, a present event_id that is not a positive
// integer, and a present event_version that is not a positive integer.
// A missing or non-object payload is coerced to an empty map so callers
// never branch on payload absence. The function is pure and stateless.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if fields == nil {
		return nil, fmt.Errorf("decode envelope: not an object")
	}

	env := &Envelope{Version: ProtocolVersion}

	if raw, ok := fields["event_id"]; ok && string(raw) != "null" {
		id, err := parsePositiveInt(raw)
		if err != nil {
			return nil, fmt.Errorf("decode envelope: event_id: %w", err)
		}
		env.EventID = id
	}

	if raw, ok := fields["event_version"]; ok && string(raw) != "null" {
		v, err := parsePositiveInt(raw)
		if err != nil {
			return nil, fmt.Errorf("decode envelope: event_version: %w", err)
		}
		env.Version = v
	}

	if raw, ok := fields["type"]; ok {
		var t string
		if err := json.Unmarshal(raw, &t); err == nil {
			env.Type = t
		}
	}

	env.Payload = make(map[string]json.RawMessage)
	if raw, ok := fields["payload"]; ok {
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err == nil && payload != nil {
			env.Payload = payload
		}
	}

	return env, nil
}

// parsePositiveInt parses a JSON number as a strictly positive integer.
func parsePositiveInt(raw json.RawMessage) (int64, error) {
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("not an integer: %s", raw)
	}
	if n <= 0 {
		return 0, fmt.Errorf("not positive: %d", n)
	}
	return n, nil
}

// String extracts a string payload field; empty when absent or mistyped.
func (e *Envelope) String(key string) string {
	raw, ok := e.Payload[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Int extracts an integer payload field; 0 when absent or mistyped.
func (e *Envelope) Int(key string) int64 {
	raw, ok := e.Payload[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0
	}
	return n
}

// Bool extracts a boolean payload field; false when absent or mistyped.
func (e *Envelope) Bool(key string) bool {
	raw, ok := e.Payload[key]
	if !ok {
		return false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false
	}
	return b
}

// Has reports whether the payload carries the given key.
func (e *Envelope) Has(key string) bool {
	_, ok := e.Payload[key]
	return ok
}
