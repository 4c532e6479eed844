package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/agenticklabs/agentick/internal/session"
	"github.com/agenticklabs/agentick/pkg/message"
)

// builtinHandler executes one built-in RPC method.
type builtinHandler func(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error)

// builtins maps wire method names to handlers.
var builtins = map[string]builtinHandler{
	"send":        methodSend,
	"abort":       methodAbort,
	"status":      methodStatus,
	"history":     methodHistory,
	"reset":       methodReset,
	"close":       methodClose,
	"apps":        methodApps,
	"sessions":    methodSessions,
	"subscribe":   methodSubscribe,
	"unsubscribe": methodUnsubscribe,
}

func decodeParams[T any](params json.RawMessage) (T, error) {
	var p T
	if len(params) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return p, Errorf(CodeInvalidParams, "decoding params: %v", err)
	}
	return p, nil
}

type sendParams struct {
	SessionID   string                 `json:"sessionId"`
	Message     string                 `json:"message"`
	Attachments []message.ContentBlock `json:"attachments,omitempty"`
	Mode        string                 `json:"mode,omitempty"`
}

// methodSend starts or steers a session with a user message.
func methodSend(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[sendParams](params)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, Errorf(CodeInvalidParams, "sessionId is required")
	}
	if p.Message == "" && len(p.Attachments) == 0 {
		return nil, Errorf(CodeInvalidParams, "message is required")
	}

	key := g.parseKey(p.SessionID)
	sess, err := g.registry.Session(ctx, key)
	if err != nil {
		return nil, err
	}
	g.ensureWatch(key.String(), sess)
	// The sender is implicitly subscribed to what it just started.
	cc.mu.Lock()
	cc.subs[key.String()] = struct{}{}
	cc.mu.Unlock()

	msg := message.NewUserMessage(p.Message)
	msg.Content = append(msg.Content, p.Attachments...)

	mode := session.ModeQueue
	if p.Mode == string(session.ModeSteer) {
		mode = session.ModeSteer
	}
	if _, err := sess.Send(msg, mode); err != nil {
		return nil, err
	}
	g.registry.Touch(key)

	return map[string]string{"messageId": uuid.NewString()}, nil
}

type sessionIDParams struct {
	SessionID string `json:"sessionId"`
}

func (g *Gateway) lookup(p sessionIDParams) (*session.Session, string, error) {
	if p.SessionID == "" {
		return nil, "", Errorf(CodeInvalidParams, "sessionId is required")
	}
	key := g.parseKey(p.SessionID)
	sess, ok := g.registry.Lookup(key)
	if !ok {
		return nil, "", Errorf(CodeSessionNotFound, "session %s not found", key)
	}
	return sess, key.String(), nil
}

// methodAbort cancels a session's current execution.
func methodAbort(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[sessionIDParams](params)
	if err != nil {
		return nil, err
	}
	sess, _, err := g.lookup(p)
	if err != nil {
		return nil, err
	}
	sess.Abort("aborted by client")
	return map[string]bool{"aborted": true}, nil
}

type statusParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

type sessionSummary struct {
	ID       string         `json:"id"`
	Status   session.Status `json:"status"`
	Tick     int            `json:"tick"`
	Messages int            `json:"messages"`
	Usage    message.Usage  `json:"usage"`
}

// methodStatus reports gateway stats and an optional session summary.
func methodStatus(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[statusParams](params)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	clients := len(g.clients)
	g.mu.Unlock()

	out := map[string]any{
		"gatewayId": g.id,
		"clients":   clients,
		"sessions":  len(g.registry.Sessions()),
		"apps":      g.registry.Apps(),
		"time":      time.Now().UTC().Format(time.RFC3339),
	}
	if p.SessionID != "" {
		sess, key, err := g.lookup(sessionIDParams(p))
		if err != nil {
			return nil, err
		}
		out["session"] = sessionSummary{
			ID:       key,
			Status:   sess.Status(),
			Tick:     sess.Tick(),
			Messages: len(sess.Timeline()),
			Usage:    sess.Usage(),
		}
	}
	return out, nil
}

type historyParams struct {
	SessionID string `json:"sessionId"`
	Limit     int    `json:"limit,omitempty"`
	Before    int    `json:"before,omitempty"`
}

type historyPage struct {
	Messages []message.Message `json:"messages"`
	Total    int               `json:"total"`
	HasMore  bool              `json:"hasMore"`

	// NextBefore is the cursor for the preceding page, meaningful only
	// when HasMore.
	NextBefore int `json:"nextBefore,omitempty"`
}

// methodHistory pages backwards through a session's timeline messages.
// Before is an exclusive upper index into the message list; zero means
// the tail.
func methodHistory(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[historyParams](params)
	if err != nil {
		return nil, err
	}
	sess, _, err := g.lookup(sessionIDParams{SessionID: p.SessionID})
	if err != nil {
		return nil, err
	}

	var msgs []message.Message
	for _, entry := range sess.Timeline() {
		if entry.Kind == message.EntryMessage {
			msgs = append(msgs, entry.Message)
		}
	}

	limit := p.Limit
	if limit <= 0 || limit > g.cfg.HistoryLimit {
		limit = g.cfg.HistoryLimit
	}
	end := len(msgs)
	if p.Before > 0 && p.Before < end {
		end = p.Before
	}
	start := end - limit
	if start < 0 {
		start = 0
	}

	return historyPage{
		Messages:   msgs[start:end],
		Total:      len(msgs),
		HasMore:    start > 0,
		NextBefore: start,
	}, nil
}

// methodReset discards a session's history and snapshot.
func methodReset(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[sessionIDParams](params)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, Errorf(CodeInvalidParams, "sessionId is required")
	}
	key := g.parseKey(p.SessionID)
	if err := g.registry.Reset(ctx, key); err != nil {
		return nil, err
	}
	g.unwatch(key.String())
	return map[string]bool{"reset": true}, nil
}

// methodClose closes and evicts a live session.
func methodClose(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[sessionIDParams](params)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, Errorf(CodeInvalidParams, "sessionId is required")
	}
	key := g.parseKey(p.SessionID)
	if err := g.registry.CloseSession(key); err != nil {
		return nil, err
	}
	g.unwatch(key.String())
	return map[string]bool{"closed": true}, nil
}

// methodApps enumerates registered apps.
func methodApps(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	return map[string]any{"apps": g.appInfos()}, nil
}

type sessionEntry struct {
	ID     string         `json:"id"`
	Status session.Status `json:"status"`
	Tick   int            `json:"tick"`
}

// methodSessions enumerates live sessions.
func methodSessions(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	keys := g.registry.Sessions()
	entries := make([]sessionEntry, 0, len(keys))
	for _, key := range keys {
		sess, ok := g.registry.Lookup(key)
		if !ok {
			continue
		}
		entries = append(entries, sessionEntry{
			ID:     key.String(),
			Status: sess.Status(),
			Tick:   sess.Tick(),
		})
	}
	return map[string]any{"sessions": entries}, nil
}

// methodSubscribe adds a session to the client's fan-out set. The
// session does not have to exist yet; the watch attaches when it does.
func methodSubscribe(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[sessionIDParams](params)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, Errorf(CodeInvalidParams, "sessionId is required")
	}
	key := g.parseKey(p.SessionID)

	cc.mu.Lock()
	cc.subs[key.String()] = struct{}{}
	cc.mu.Unlock()

	if sess, ok := g.registry.Lookup(key); ok {
		g.ensureWatch(key.String(), sess)
	}
	return map[string]bool{"subscribed": true}, nil
}

// methodUnsubscribe removes a session from the client's fan-out set.
func methodUnsubscribe(ctx context.Context, g *Gateway, cc *clientConn, params json.RawMessage) (any, error) {
	p, err := decodeParams[sessionIDParams](params)
	if err != nil {
		return nil, err
	}
	if p.SessionID == "" {
		return nil, Errorf(CodeInvalidParams, "sessionId is required")
	}
	key := g.parseKey(p.SessionID)

	cc.mu.Lock()
	delete(cc.subs, key.String())
	cc.mu.Unlock()

	return map[string]bool{"unsubscribed": true}, nil
}
