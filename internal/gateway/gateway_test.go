package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/app"
	"github.com/agenticklabs/agentick/internal/session"
	"github.com/agenticklabs/agentick/internal/transport"
	"github.com/agenticklabs/agentick/pkg/message"
)

// replyAdapter streams a fixed text response for every call.
type replyAdapter struct {
	mu    sync.Mutex
	calls int
}

func (a *replyAdapter) Metadata() adapter.Metadata {
	return adapter.Metadata{ID: "reply", Provider: "test", Kind: adapter.KindLanguage}
}

func (a *replyAdapter) Execute(ctx context.Context, in adapter.Input) (adapter.Output, error) {
	return adapter.Output{}, errors.New("not implemented")
}

func (a *replyAdapter) Stream(ctx context.Context, in adapter.Input) (<-chan adapter.Delta, error) {
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	ch := make(chan adapter.Delta, 2)
	ch <- adapter.Delta{Type: adapter.DeltaText, Text: "hello"}
	ch <- adapter.Delta{Type: adapter.DeltaMessageEnd, StopReason: message.StopEnd}
	close(ch)
	return ch, nil
}

func newTestGateway(t *testing.T, cfg Config) (*Gateway, *transport.Inproc) {
	t.Helper()
	reg := app.NewRegistry(app.RegistryConfig{Store: app.NewMemStore()})
	if err := reg.RegisterApp(&app.App{
		Name: app.DefaultApp,
		NewConfig: func(sessionID string) (session.Config, error) {
			return session.Config{Adapter: &replyAdapter{}}, nil
		},
	}); err != nil {
		t.Fatal(err)
	}

	g, err := New(cfg, reg, nil)
	if err != nil {
		t.Fatal(err)
	}
	tr := transport.NewInproc()
	g.AddTransport(tr)
	if err := g.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { g.Stop(context.Background()) })
	return g, tr
}

func connect(t *testing.T, tr *transport.Inproc, f transport.Frame) *transport.InprocClient {
	t.Helper()
	c, err := tr.Connect()
	if err != nil {
		t.Fatal(err)
	}
	c.Receive(f)
	last, ok := c.LastSent()
	if !ok || last.Type != transport.FrameConnected {
		t.Fatalf("handshake reply = %+v", last)
	}
	return c
}

// awaitFrame polls until pred matches a sent frame.
func awaitFrame(t *testing.T, c *transport.InprocClient, pred func(transport.Frame) bool) transport.Frame {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, f := range c.Sent() {
			if pred(f) {
				return f
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("frame not observed; sent = %+v", c.Sent())
	return transport.Frame{}
}

func resFor(t *testing.T, c *transport.InprocClient, id string) transport.Frame {
	t.Helper()
	return awaitFrame(t, c, func(f transport.Frame) bool {
		return f.Type == transport.FrameRes && f.ID == id
	})
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c, err := tr.Connect()
	if err != nil {
		t.Fatal(err)
	}

	c.Receive(transport.Frame{Type: transport.FrameReq, ID: "r1", Method: "status"})

	last, ok := c.LastSent()
	if !ok || last.Type != transport.FrameError || last.Code != CodeUnauthorized {
		t.Fatalf("reply = %+v, want error{UNAUTHORIZED}", last)
	}
	if !c.IsConnected() {
		t.Error("client was disconnected; unauthenticated req must not change state")
	}
	// No response frame was produced for the request id.
	for _, f := range c.Sent() {
		if f.Type == transport.FrameRes {
			t.Errorf("unexpected res frame: %+v", f)
		}
	}
}

func TestPingBeforeAuth(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c, err := tr.Connect()
	if err != nil {
		t.Fatal(err)
	}

	c.Receive(transport.Frame{Type: transport.FramePing, Timestamp: 12345})
	last, _ := c.LastSent()
	if last.Type != transport.FramePong || last.Timestamp != 12345 {
		t.Errorf("reply = %+v, want pong{12345}", last)
	}
}

func TestTokenAuth(t *testing.T) {
	_, tr := newTestGateway(t, Config{Auth: AuthConfig{Type: "token", Token: "sekrit"}})

	bad, err := tr.Connect()
	if err != nil {
		t.Fatal(err)
	}
	bad.Receive(transport.Frame{Type: transport.FrameConnect, Token: "wrong"})
	frames := bad.Sent()
	if len(frames) == 0 || frames[0].Type != transport.FrameError || frames[0].Code != CodeAuthFailed {
		t.Fatalf("frames = %+v, want error{AUTH_FAILED}", frames)
	}
	if bad.IsConnected() {
		t.Error("client still connected after auth failure")
	}
	if code, _ := bad.CloseReason(); code != transport.CloseAuthFailed {
		t.Errorf("close code = %d, want 4001", code)
	}

	good := connect(t, tr, transport.Frame{Type: transport.FrameConnect, Token: "sekrit"})
	last, _ := good.LastSent()
	if last.GatewayID == "" || len(last.Apps) != 1 || !last.Apps[0].IsDefault {
		t.Errorf("connected frame = %+v", last)
	}
}

func TestConnectClientIDReplacesServerID(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect, ClientID: "tab-42"})
	if c.ID() != "tab-42" {
		t.Errorf("client id = %q, want tab-42", c.ID())
	}
}

func TestMalformedFrame(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c, err := tr.Connect()
	if err != nil {
		t.Fatal(err)
	}
	c.ReceiveRaw([]byte(`{not json`))
	last, _ := c.LastSent()
	if last.Type != transport.FrameError || last.Code != CodeInvalidMessage {
		t.Errorf("reply = %+v, want error{INVALID_MESSAGE}", last)
	}
}

func TestUnknownMethod(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	c.Receive(transport.Frame{Type: transport.FrameReq, ID: "r1", Method: "tasks:list"})
	res := resFor(t, c, "r1")
	if res.OK == nil || *res.OK || res.Error.Code != CodeUnknownMethod {
		t.Errorf("res = %+v, want UNKNOWN_METHOD", res)
	}
}

func TestSendRunsSessionAndFansOutEvents(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r1", Method: "send",
		Params: json.RawMessage(`{"sessionId":"chat","message":"hi"}`),
	})
	res := resFor(t, c, "r1")
	if res.OK == nil || !*res.OK {
		t.Fatalf("send failed: %+v", res)
	}
	var payload struct {
		MessageID string `json:"messageId"`
	}
	if err := json.Unmarshal(res.Payload, &payload); err != nil || payload.MessageID == "" {
		t.Fatalf("payload = %s", res.Payload)
	}

	// The sender is auto-subscribed: events stream in wrapped frames.
	end := awaitFrame(t, c, func(f transport.Frame) bool {
		return f.Type == transport.FrameEvent && f.Event == "execution_end"
	})
	if end.SessionID != "default:chat" {
		t.Errorf("event sessionId = %q", end.SessionID)
	}
	start := awaitFrame(t, c, func(f transport.Frame) bool {
		return f.Type == transport.FrameEvent && f.Event == "execution_start"
	})
	if len(start.Data) == 0 {
		t.Error("event frame carries no data")
	}
}

func TestSubscribeReceivesOtherClientsSessions(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	sender := connect(t, tr, transport.Frame{Type: transport.FrameConnect})
	watcher := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	watcher.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "w1", Method: "subscribe",
		Params: json.RawMessage(`{"sessionId":"chat"}`),
	})
	resFor(t, watcher, "w1")

	sender.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "s1", Method: "send",
		Params: json.RawMessage(`{"sessionId":"chat","message":"hi"}`),
	})
	resFor(t, sender, "s1")

	awaitFrame(t, watcher, func(f transport.Frame) bool {
		return f.Type == transport.FrameEvent && f.Event == "execution_end"
	})

	// Unsubscribed clients see nothing more after unsubscribe.
	watcher.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "w2", Method: "unsubscribe",
		Params: json.RawMessage(`{"sessionId":"chat"}`),
	})
	resFor(t, watcher, "w2")
	before := len(watcher.Sent())

	sender.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "s2", Method: "send",
		Params: json.RawMessage(`{"sessionId":"chat","message":"again"}`),
	})
	awaitFrame(t, sender, func(f transport.Frame) bool {
		return f.Type == transport.FrameRes && f.ID == "s2"
	})
	awaitFrame(t, sender, func(f transport.Frame) bool {
		return f.Type == transport.FrameEvent && f.Event == "execution_end" && countEvents(sender, "execution_end") >= 2
	})
	if got := len(watcher.Sent()); got != before {
		t.Errorf("unsubscribed watcher received %d more frames", got-before)
	}
}

func countEvents(c *transport.InprocClient, event string) int {
	n := 0
	for _, f := range c.Sent() {
		if f.Type == transport.FrameEvent && f.Event == event {
			n++
		}
	}
	return n
}

func TestAbortUnknownSession(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r1", Method: "abort",
		Params: json.RawMessage(`{"sessionId":"ghost"}`),
	})
	res := resFor(t, c, "r1")
	if res.Error == nil || res.Error.Code != CodeSessionNotFound {
		t.Errorf("res = %+v, want SESSION_NOT_FOUND", res)
	}
}

func TestStatusAndHistory(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r1", Method: "send",
		Params: json.RawMessage(`{"sessionId":"chat","message":"hi"}`),
	})
	resFor(t, c, "r1")
	awaitFrame(t, c, func(f transport.Frame) bool {
		return f.Type == transport.FrameEvent && f.Event == "execution_end"
	})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r2", Method: "status",
		Params: json.RawMessage(`{"sessionId":"chat"}`),
	})
	res := resFor(t, c, "r2")
	var status struct {
		GatewayID string `json:"gatewayId"`
		Clients   int    `json:"clients"`
		Session   struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Tick   int    `json:"tick"`
		} `json:"session"`
	}
	if err := json.Unmarshal(res.Payload, &status); err != nil {
		t.Fatal(err)
	}
	if status.Clients != 1 || status.GatewayID == "" || status.Session.Tick != 1 {
		t.Errorf("status = %+v", status)
	}

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r3", Method: "history",
		Params: json.RawMessage(`{"sessionId":"chat","limit":10}`),
	})
	res = resFor(t, c, "r3")
	var page struct {
		Messages []message.Message `json:"messages"`
		Total    int               `json:"total"`
		HasMore  bool              `json:"hasMore"`
	}
	if err := json.Unmarshal(res.Payload, &page); err != nil {
		t.Fatal(err)
	}
	if page.Total != 2 || len(page.Messages) != 2 || page.HasMore {
		t.Fatalf("page = %+v", page)
	}
	if page.Messages[0].Role != message.RoleUser || page.Messages[1].TextContent() != "hello" {
		t.Errorf("messages = %+v", page.Messages)
	}
}

func TestCustomMethodSchemaValidation(t *testing.T) {
	g, tr := newTestGateway(t, Config{})
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"limit": {"type": "integer"}},
		"required": ["limit"]
	}`)
	err := g.Methods().Register("tasks", "list", schema, func(ctx context.Context, inv *Invocation) (any, error) {
		var p struct {
			Limit int `json:"limit"`
		}
		if err := json.Unmarshal(inv.Params, &p); err != nil {
			return nil, err
		}
		return map[string]any{"tasks": []string{}, "limit": p.Limit, "user": inv.User}, nil
	})
	if err != nil {
		t.Fatal(err)
	}

	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r1", Method: "tasks:list",
		Params: json.RawMessage(`{"limit":"ten"}`),
	})
	res := resFor(t, c, "r1")
	if res.Error == nil || res.Error.Code != CodeInvalidParams {
		t.Fatalf("res = %+v, want INVALID_PARAMS", res)
	}

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r2", Method: "tasks:list",
		Params: json.RawMessage(`{"limit":10}`),
	})
	res = resFor(t, c, "r2")
	if res.OK == nil || !*res.OK {
		t.Fatalf("res = %+v", res)
	}
	var out struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(res.Payload, &out); err != nil || out.Limit != 10 {
		t.Errorf("payload = %s", res.Payload)
	}
}

func TestResetDiscardsSession(t *testing.T) {
	_, tr := newTestGateway(t, Config{})
	c := connect(t, tr, transport.Frame{Type: transport.FrameConnect})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r1", Method: "send",
		Params: json.RawMessage(`{"sessionId":"chat","message":"hi"}`),
	})
	resFor(t, c, "r1")
	awaitFrame(t, c, func(f transport.Frame) bool {
		return f.Type == transport.FrameEvent && f.Event == "execution_end"
	})

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r2", Method: "reset",
		Params: json.RawMessage(`{"sessionId":"chat"}`),
	})
	res := resFor(t, c, "r2")
	if res.OK == nil || !*res.OK {
		t.Fatalf("reset failed: %+v", res)
	}

	c.Receive(transport.Frame{
		Type: transport.FrameReq, ID: "r3", Method: "reset",
		Params: json.RawMessage(`{"sessionId":"chat"}`),
	})
	res = resFor(t, c, "r3")
	if res.Error == nil || res.Error.Code != CodeSessionNotFound {
		t.Errorf("second reset = %+v, want SESSION_NOT_FOUND", res)
	}
}
