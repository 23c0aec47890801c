// Package realtime contains courier's live delivery plane: the presence
// tracker, the fanout engine and the WebSocket gateway.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"courier/cmd/internal/chat"
)

// EventKind names a domain event flowing through the fanout engine.
type EventKind string

const (
	EventMessageNew    EventKind = "message.new"
	EventMessageStatus EventKind = "message.status"
	EventThreadRead    EventKind = "thread.read"
	EventPresence      EventKind = "presence"
	EventTyping        EventKind = "typing"
	EventStopTyping    EventKind = "stop_typing"
)

// Event is a domain event produced after a store commit (or a presence
// transition) and consumed by the fanout engine. Producers publish in commit
// order; the engine's single consumer preserves that order per connection.
type Event struct {
	Kind EventKind

	// WaID scopes thread events (message, thread.read, typing).
	WaID string

	// Message carries the updated record for message.new / message.status.
	Message *chat.Message

	// Identity is the subject of presence events and the emitter of typing
	// events (typing is delivered to thread peers, not back to the emitter).
	Identity string

	// Online distinguishes presence transitions.
	Online bool

	// Count is the affected-row count for thread.read.
	Count int64
}

// ---- wire protocol ----

// ProtocolVersion is embedded into every envelope.
const ProtocolVersion = 1

// Wire type constants (client -> server unless noted).
const (
	TypeHello      = "hello"
	TypeHelloAck   = "hello.ack" // server -> client
	TypeTyping     = "typing"    // both directions
	TypeStopTyping = "stop_typing"
	TypeDelivered  = "delivered"

	TypeMessageNew    = "message.new"    // server -> client
	TypeMessageStatus = "message.status" // server -> client
	TypeThreadRead    = "thread.read"    // server -> client
	TypePresence      = "presence"       // server -> client
	TypeError         = "error"          // server -> client
)

var inboundTypes = map[string]struct{}{
	TypeHello:      {},
	TypeTyping:     {},
	TypeStopTyping: {},
	TypeDelivered:  {},
}

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       int             `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ValidateInbound checks an envelope read from a client.
func (e Envelope) ValidateInbound() error {
	if e.V != ProtocolVersion {
		return fmt.Errorf("unsupported protocol version: %d", e.V)
	}
	if e.Type == "" {
		return errors.New("missing type")
	}
	if _, ok := inboundTypes[e.Type]; !ok {
		return fmt.Errorf("unsupported type: %s", e.Type)
	}
	return nil
}

// ---- payloads ----

// HelloPayload identifies the connection (client -> server).
type HelloPayload struct {
	WaID string `json:"wa_id"`
}

// HelloAckPayload confirms registration (server -> client).
type HelloAckPayload struct {
	SessionID string `json:"session_id"`
	WaID      string `json:"wa_id"`
}

// TypingPayload scopes a typing signal to one thread.
type TypingPayload struct {
	WaID string `json:"wa_id"`
	From string `json:"from,omitempty"`
}

// DeliveredPayload acknowledges receipt of one message (client -> server).
type DeliveredPayload struct {
	MessageID string `json:"message_id"`
}

// ThreadReadPayload is the compact bulk mark-read notification: one event
// per thread, never one per message.
type ThreadReadPayload struct {
	WaID  string `json:"wa_id"`
	Count int64  `json:"count"`
}

// PresencePayload announces an identity's online/offline transition.
type PresencePayload struct {
	WaID   string `json:"wa_id"`
	Status string `json:"status"` // "online" or "offline"
}

// ErrorPayload reports a client-visible protocol error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// newEnvelope wraps a payload for the wire.
func newEnvelope(typ string, payload json.RawMessage, ts time.Time) Envelope {
	return Envelope{
		V:       ProtocolVersion,
		Type:    typ,
		ID:      NewRandomHex(10),
		TS:      ts,
		Payload: payload,
	}
}
