package mux

import (
	"encoding/json"
	"strings"
)

// Type discriminates the bridge message union carried on the bus.
type Type string

// Coordination messages.
const (
	// TypeCollecting is broadcast by a new leader before it owns the
	// transport: every tab answers with an announce.
	TypeCollecting Type = "leader:collecting_subscriptions"

	// TypeReady is broadcast once the leader's transport is connected
	// and re-subscribed.
	TypeReady Type = "leader:transport_ready"

	// TypePingLeader probes for a live leader; only a ready leader
	// answers with TypePongLeader.
	TypePingLeader Type = "ping:leader"
	TypePongLeader Type = "pong:leader"

	// TypeAnnounce carries one tab's subscriptions to a collecting
	// leader.
	TypeAnnounce Type = "subscriptions:announce"
)

// Request/response and event messages.
const (
	// requestPrefix prefixes forwarded requests: "request:send",
	// "request:subscribe", and so on.
	requestPrefix = "request:"

	// TypeResponse answers one forwarded request by requestId.
	TypeResponse Type = "response"

	// TypeEvent broadcasts an inbound stream event to every tab.
	TypeEvent Type = "event"

	// Stream messages are targeted at the follower that originated a
	// send, matched by requestId.
	TypeStreamEvent Type = "stream:event"
	TypeStreamEnd   Type = "stream:end"
	TypeStreamError Type = "stream:error"
)

// RequestType builds the bus type for a forwarded method.
func RequestType(method string) Type {
	return Type(requestPrefix + method)
}

// RequestMethod extracts the method from a request type, reporting
// whether msg is a request at all.
func RequestMethod(t Type) (string, bool) {
	return strings.CutPrefix(string(t), requestPrefix)
}

// Error is the failure body on response and stream:error messages.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Message is the flat bridge-message union.
type Message struct {
	Type Type `json:"type"`

	// TabID is the sender.
	TabID string `json:"tabId,omitempty"`

	// RequestID correlates request, response, and stream messages. IDs
	// are "<tabId>-<n>" and globally unique within the origin.
	RequestID string `json:"requestId,omitempty"`

	// SessionID accompanies session-scoped requests.
	SessionID string `json:"sessionId,omitempty"`

	// Params is the forwarded request body.
	Params json.RawMessage `json:"params,omitempty"`

	// Sessions and Channels are announced subscriptions.
	Sessions []string `json:"sessions,omitempty"`
	Channels []string `json:"channels,omitempty"`

	// OK, Result, and Err form a response.
	OK     bool            `json:"ok,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Err    *Error          `json:"error,omitempty"`

	// Event is the stream event body on event and stream:event
	// messages.
	Event json.RawMessage `json:"event,omitempty"`
}
