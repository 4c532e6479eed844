package transport

import (
	"encoding/json"
	"fmt"
	"time"
)

// FrameType discriminates the wire frame union.
type FrameType string

// Client-to-server frame types.
const (
	FrameConnect FrameType = "connect"
	FrameReq     FrameType = "req"
	FramePing    FrameType = "ping"
)

// Server-to-client frame types.
const (
	FrameConnected FrameType = "connected"
	FrameRes       FrameType = "res"
	FrameEvent     FrameType = "event"
	FramePong      FrameType = "pong"
	FrameError     FrameType = "error"
)

// ErrorInfo is the error body carried on res and error frames.
type ErrorInfo struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Details json.RawMessage `json:"details,omitempty"`
}

// AppInfo is one app entry on the connected frame.
type AppInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsDefault   bool   `json:"isDefault"`
}

// Frame is the flat wire-frame union. Type selects which fields are
// meaningful; unused fields stay zero and are omitted from JSON.
type Frame struct {
	Type FrameType `json:"type"`

	// connect
	ClientID string         `json:"clientId,omitempty"`
	Token    string         `json:"token,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// req / res
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *ErrorInfo      `json:"error,omitempty"`

	// event
	Event     string          `json:"event,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`

	// ping / pong
	Timestamp int64 `json:"timestamp,omitempty"`

	// connected
	GatewayID string    `json:"gatewayId,omitempty"`
	Apps      []AppInfo `json:"apps,omitempty"`
	Sessions  []string  `json:"sessions,omitempty"`

	// error (top-level frame, outside a request)
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseFrame decodes one wire frame. A missing type is an error.
func ParseFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("transport: malformed frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("transport: frame missing type")
	}
	return f, nil
}

// NewConnected builds the handshake acknowledgement.
func NewConnected(gatewayID string, apps []AppInfo, sessions []string) Frame {
	return Frame{Type: FrameConnected, GatewayID: gatewayID, Apps: apps, Sessions: sessions}
}

// NewResult builds a successful response frame.
func NewResult(id string, payload json.RawMessage) Frame {
	ok := true
	return Frame{Type: FrameRes, ID: id, OK: &ok, Payload: payload}
}

// NewResultError builds a failed response frame.
func NewResultError(id, code, msg string) Frame {
	ok := false
	return Frame{Type: FrameRes, ID: id, OK: &ok, Error: &ErrorInfo{Code: code, Message: msg}}
}

// NewEventFrame wraps a session event for fan-out.
func NewEventFrame(event, sessionID string, data json.RawMessage) Frame {
	return Frame{Type: FrameEvent, Event: event, SessionID: sessionID, Data: data}
}

// NewPong answers a ping, echoing its timestamp.
func NewPong(timestamp int64) Frame {
	return Frame{Type: FramePong, Timestamp: timestamp}
}

// NewPing builds a client ping stamped with the current time.
func NewPing() Frame {
	return Frame{Type: FramePing, Timestamp: time.Now().UnixMilli()}
}

// NewErrorFrame builds a top-level error frame, used outside any request
// (auth violations, malformed frames).
func NewErrorFrame(code, msg string) Frame {
	return Frame{Type: FrameError, Code: code, Message: msg}
}

// Encode marshals the frame for the wire.
func (f Frame) Encode() []byte {
	data, err := json.Marshal(f)
	if err != nil {
		// Frame contains only marshalable fields; a failure here is a
		// programming error.
		panic(fmt.Sprintf("transport: frame encode: %v", err))
	}
	return data
}
