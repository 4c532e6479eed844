package transport

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChannelEvent is the envelope used by the HTTP/SSE and Socket.IO
// variants, where a single JSON object carries any frame. Type matches
// the frame types of the socket transports.
type ChannelEvent struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// ParseChannelEvent decodes one channel event. A missing type is an error.
func ParseChannelEvent(data []byte) (ChannelEvent, error) {
	var ev ChannelEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ChannelEvent{}, fmt.Errorf("transport: malformed channel event: %w", err)
	}
	if ev.Type == "" {
		return ChannelEvent{}, fmt.Errorf("transport: channel event missing type")
	}
	return ev, nil
}

// Stamp sets metadata.timestamp to now in RFC 3339, creating the
// metadata map if needed. Servers stamp inbound POSTed events.
func (ev *ChannelEvent) Stamp(now time.Time) {
	if ev.Metadata == nil {
		ev.Metadata = make(map[string]any)
	}
	ev.Metadata["timestamp"] = now.UTC().Format(time.RFC3339Nano)
}

// FrameToChannelEvent re-frames a socket frame as a channel event: the
// frame body becomes the payload.
func FrameToChannelEvent(f Frame) ChannelEvent {
	return ChannelEvent{
		Type:      string(f.Type),
		SessionID: f.SessionID,
		Payload:   json.RawMessage(f.Encode()),
	}
}

// ChannelEventToFrame recovers a socket frame from a channel event. When
// the payload holds a full frame it is decoded directly; otherwise a
// minimal frame is synthesized from the envelope.
func ChannelEventToFrame(ev ChannelEvent) (Frame, error) {
	if len(ev.Payload) > 0 {
		f, err := ParseFrame(ev.Payload)
		if err == nil && string(f.Type) == ev.Type {
			return f, nil
		}
	}
	f := Frame{Type: FrameType(ev.Type), SessionID: ev.SessionID}
	if len(ev.Payload) > 0 {
		f.Params = ev.Payload
	}
	return f, nil
}
