// Package protocol defines the board's event model and the WebSocket
// messages exchanged between clients and the server. All messages are
// JSON objects carrying a "type" discriminator.
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// Message type constants
// ---------------------------------------------------------------------------

// Message types sent in both directions.
const (
	TypeDraw  = "draw"
	TypeClear = "clear"
)

// Client -> Server message types.
const (
	TypePing = "ping"
)

// Server -> Client message types.
const (
	TypeHistory = "history"
	TypeAck     = "ack"
	TypeReject  = "reject"
	TypeError   = "error"
	TypePong    = "pong"
)

// Reject and error codes.
const (
	CodeInvalidEvent    = "invalid_event"
	CodeRateLimited     = "rate_limited"
	CodeParseError      = "parse_error"
	CodeUnsupportedType = "unsupported_type"
)

// ---------------------------------------------------------------------------
// Envelope
// ---------------------------------------------------------------------------

// Envelope holds the message type and the raw JSON payload for deferred
// parsing into a concrete struct.
type Envelope struct {
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the full raw bytes and extracts only the "type"
// field.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	e.Raw = make(json.RawMessage, len(data))
	copy(e.Raw, data)

	var partial struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("protocol: failed to unmarshal envelope: %w", err)
	}
	if partial.Type == "" {
		return fmt.Errorf("protocol: missing or empty \"type\" field")
	}
	e.Type = partial.Type
	return nil
}

// ---------------------------------------------------------------------------
// Client -> Server messages
// ---------------------------------------------------------------------------

// DrawMsg submits one event. The event is kept raw so that validation
// happens where it is stored.
type DrawMsg struct {
	Event json.RawMessage `json:"event"`
}

// ClearMsg requests that the board be wiped.
type ClearMsg struct{}

// PingMsg is a client-initiated keepalive.
type PingMsg struct{}

// ---------------------------------------------------------------------------
// Server -> Client messages
// ---------------------------------------------------------------------------

// HistoryMsg carries the full board history. It is the first message
// every session receives.
type HistoryMsg struct {
	SessionID string  `json:"session_id,omitempty"`
	Events    []Event `json:"events"`
}

// EventMsg distributes one accepted event to the other sessions.
type EventMsg struct {
	Event Event `json:"event"`
}

// AckMsg tells the sender the sequence number its oldest unacknowledged
// draw received.
type AckMsg struct {
	Seq uint64 `json:"seq"`
}

// RejectMsg tells the sender its oldest unacknowledged operation was
// refused.
type RejectMsg struct {
	Op      string `json:"op"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// ErrorMsg reports a frame the server could not interpret at all.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// PongMsg is the server's response to a client ping.
type PongMsg struct{}

// ---------------------------------------------------------------------------
// Helper functions
// ---------------------------------------------------------------------------

// ParseClientMessage parses raw WebSocket bytes into a typed client
// message. An error is returned for unknown or server-only types.
func ParseClientMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeDraw:
		var m DrawMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeClear:
		msg = ClearMsg{}
	case TypePing:
		msg = PingMsg{}
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown client message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// ParseServerMessage is the client-side counterpart of ParseClientMessage.
// Events embedded in history and draw messages are decoded strictly.
func ParseServerMessage(data []byte) (string, interface{}, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", nil, fmt.Errorf("protocol: failed to parse message: %w", err)
	}

	var (
		msg interface{}
		err error
	)

	switch env.Type {
	case TypeHistory:
		var raw struct {
			SessionID string            `json:"session_id"`
			Events    []json.RawMessage `json:"events"`
		}
		if err = json.Unmarshal(env.Raw, &raw); err == nil {
			var events []Event
			events, err = DecodeEvents(raw.Events)
			msg = HistoryMsg{SessionID: raw.SessionID, Events: events}
		}
	case TypeDraw:
		var raw struct {
			Event json.RawMessage `json:"event"`
		}
		if err = json.Unmarshal(env.Raw, &raw); err == nil {
			var ev Event
			ev, err = DecodeEvent(raw.Event)
			msg = EventMsg{Event: ev}
		}
	case TypeClear:
		msg = ClearMsg{}
	case TypeAck:
		var m AckMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeReject:
		var m RejectMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypeError:
		var m ErrorMsg
		err = json.Unmarshal(env.Raw, &m)
		msg = m
	case TypePong:
		msg = PongMsg{}
	default:
		return env.Type, nil, fmt.Errorf("protocol: unknown server message type: %q", env.Type)
	}

	if err != nil {
		return env.Type, nil, fmt.Errorf("protocol: failed to decode %q payload: %w", env.Type, err)
	}
	return env.Type, msg, nil
}

// NewServerMessage encodes payload as a JSON object and prepends the
// "type" key. The payload must marshal to a JSON object.
func NewServerMessage(msgType string, payload interface{}) ([]byte, error) {
	return encode(msgType, payload)
}

// NewClientMessage encodes a client -> server message.
func NewClientMessage(msgType string, payload interface{}) ([]byte, error) {
	return encode(msgType, payload)
}

func encode(msgType string, payload interface{}) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal payload: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("protocol: payload for %q is not an object", msgType)
	}

	typ, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("protocol: failed to marshal type: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(body) + len(typ) + 10)
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if inner := bytes.TrimSpace(body[1 : len(body)-1]); len(inner) > 0 {
		buf.WriteByte(',')
		buf.Write(inner)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
