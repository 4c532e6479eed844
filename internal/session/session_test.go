package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/guard"
	"github.com/agenticklabs/agentick/internal/tool"
	"github.com/agenticklabs/agentick/pkg/message"
	"github.com/agenticklabs/agentick/pkg/stream"
)

// scriptedAdapter replays one delta script per Stream call. When the
// scripts run out it keeps replaying the last one.
type scriptedAdapter struct {
	mu      sync.Mutex
	scripts [][]adapter.Delta
	inputs  []adapter.Input
}

func (a *scriptedAdapter) Metadata() adapter.Metadata {
	return adapter.Metadata{ID: "scripted", Provider: "test", Kind: adapter.KindLanguage}
}

func (a *scriptedAdapter) Execute(ctx context.Context, in adapter.Input) (adapter.Output, error) {
	ch, err := a.Stream(ctx, in)
	if err != nil {
		return adapter.Output{}, err
	}
	acc := adapter.NewAccumulator()
	for d := range ch {
		acc.Feed(d)
	}
	res := acc.Build()
	if res.Err != nil {
		return adapter.Output{}, res.Err
	}
	return adapter.Output{Message: res.Message, Usage: res.Usage, StopReason: res.StopReason, Model: res.Model}, nil
}

func (a *scriptedAdapter) Stream(ctx context.Context, in adapter.Input) (<-chan adapter.Delta, error) {
	a.mu.Lock()
	call := len(a.inputs)
	a.inputs = append(a.inputs, in)
	idx := call
	if idx >= len(a.scripts) {
		idx = len(a.scripts) - 1
	}
	script := a.scripts[idx]
	a.mu.Unlock()

	ch := make(chan adapter.Delta, len(script))
	go func() {
		defer close(ch)
		for _, d := range script {
			select {
			case ch <- d:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (a *scriptedAdapter) input(i int) adapter.Input {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.inputs[i]
}

// blockingAdapter emits one text delta, then holds the stream open until
// the context is cancelled.
type blockingAdapter struct {
	started chan struct{}
}

func (a *blockingAdapter) Metadata() adapter.Metadata {
	return adapter.Metadata{ID: "blocking", Provider: "test", Kind: adapter.KindLanguage}
}

func (a *blockingAdapter) Execute(ctx context.Context, in adapter.Input) (adapter.Output, error) {
	<-ctx.Done()
	return adapter.Output{}, ctx.Err()
}

func (a *blockingAdapter) Stream(ctx context.Context, in adapter.Input) (<-chan adapter.Delta, error) {
	ch := make(chan adapter.Delta, 1)
	ch <- adapter.Delta{Type: adapter.DeltaText, Text: "thinking"}
	go func() {
		defer close(ch)
		close(a.started)
		<-ctx.Done()
	}()
	return ch, nil
}

func textScript(text string, stop message.StopReason) []adapter.Delta {
	return []adapter.Delta{
		{Type: adapter.DeltaMessageStart, Model: "test-model"},
		{Type: adapter.DeltaText, Text: text},
		{Type: adapter.DeltaMessageEnd, StopReason: stop, Usage: &message.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
	}
}

func toolScript(id, name, args string) []adapter.Delta {
	return []adapter.Delta{
		{Type: adapter.DeltaMessageStart, Model: "test-model"},
		{Type: adapter.DeltaText, Text: "let me check"},
		{Type: adapter.DeltaToolCallStart, ID: id, Name: name},
		{Type: adapter.DeltaToolCallDelta, ID: id, ArgDelta: args},
		{Type: adapter.DeltaToolCallEnd, ID: id},
		{Type: adapter.DeltaMessageEnd, StopReason: message.StopToolUse, Usage: &message.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}},
	}
}

func echoTool(name string, confirm bool) (*tool.Func, *[]json.RawMessage) {
	var got []json.RawMessage
	var mu sync.Mutex
	f := &tool.Func{
		Def: message.ToolDefinition{Name: name, RequiresConfirmation: confirm},
		Fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) ([]message.ContentBlock, error) {
			mu.Lock()
			got = append(got, input)
			mu.Unlock()
			return []message.ContentBlock{message.NewTextBlock("ok")}, nil
		},
	}
	return f, &got
}

func mustRegister(t *testing.T, reg *tool.Registry, tools ...tool.Tool) {
	t.Helper()
	for _, tl := range tools {
		if err := reg.Register(tl); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
}

func awaitResult(t *testing.T, h *Handle) Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	res, err := h.Result(ctx)
	if err != nil {
		t.Fatalf("result: %v", err)
	}
	return res
}

func eventTypes(evs []stream.Event) []stream.EventType {
	out := make([]stream.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestExecutionStreamsAndRunsTool(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "weather", `{"city":"paris"}`),
		textScript("It is sunny.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	weather, got := echoTool("weather", false)
	mustRegister(t, reg, weather)

	s := New("s1", Config{Adapter: ad, Tools: reg})
	h, err := s.Run(message.NewUserMessage("weather in paris?"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := awaitResult(t, h)

	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}
	if res.Output != "It is sunny." {
		t.Errorf("output = %q", res.Output)
	}
	if res.StopReason != message.StopEnd {
		t.Errorf("stop reason = %q", res.StopReason)
	}
	if len(*got) != 1 || string((*got)[0]) != `{"city":"paris"}` {
		t.Errorf("tool inputs = %v", *got)
	}
	if u := s.Usage(); u.TotalTokens != 30 {
		t.Errorf("cumulative total tokens = %d, want 30", u.TotalTokens)
	}

	// Timeline: user, assistant(tool_use), tool_result, assistant.
	tl := s.Timeline()
	wantRoles := []message.Role{message.RoleUser, message.RoleAssistant, message.RoleTool, message.RoleAssistant}
	if len(tl) != len(wantRoles) {
		t.Fatalf("timeline has %d entries, want %d", len(tl), len(wantRoles))
	}
	for i, want := range wantRoles {
		if tl[i].Message.Role != want {
			t.Errorf("timeline[%d].Role = %q, want %q", i, tl[i].Message.Role, want)
		}
	}

	evs := h.Events().History()
	seen := map[stream.EventType]int{}
	for _, ev := range evs {
		seen[ev.Type]++
	}
	if seen[stream.EventExecutionStart] != 1 || seen[stream.EventExecutionEnd] != 1 {
		t.Errorf("execution bracketing events = %v", eventTypes(evs))
	}
	if seen[stream.EventTickStart] != 2 || seen[stream.EventTickEnd] != 2 {
		t.Errorf("tick events = %v", eventTypes(evs))
	}
	if seen[stream.EventToolCall] != 1 || seen[stream.EventToolResult] != 1 {
		t.Errorf("tool events = %v", eventTypes(evs))
	}
	// One per completed timeline message: two assistant, one tool result.
	if seen[stream.EventMessageEnd] != 3 {
		t.Errorf("message_end events = %d, want 3: %v", seen[stream.EventMessageEnd], eventTypes(evs))
	}
	if seen[stream.EventContentBlockStart] == 0 || seen[stream.EventContentBlockStart] != seen[stream.EventContentBlockEnd] {
		t.Errorf("unbalanced content block brackets: %v", eventTypes(evs))
	}
	if evs[0].Type != stream.EventExecutionStart || evs[len(evs)-1].Type != stream.EventExecutionEnd {
		t.Errorf("event order = %v", eventTypes(evs))
	}
}

func TestConfirmationRejectionSkipsTool(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "deploy", `{"env":"prod"}`),
		textScript("Understood.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	deploy, got := echoTool("deploy", true)
	mustRegister(t, reg, deploy)

	s := New("s1", Config{Adapter: ad, Tools: reg})

	// Answer the confirmation prompt from the session bus, like a gateway
	// client would.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		for ev := range s.Events().Subscribe(ctx) {
			if ev.Type == stream.EventToolConfirmationRequest {
				s.RespondToConfirmation(tool.ConfirmationResponse{
					ToolUseID: ev.CallID,
					Approved:  false,
					Reason:    "not now",
				})
				return
			}
		}
	}()

	h, err := s.Run(message.NewUserMessage("deploy to prod"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	res := awaitResult(t, h)

	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}
	if len(*got) != 0 {
		t.Fatalf("rejected tool ran anyway: %v", *got)
	}

	var result *stream.Event
	for _, ev := range h.Events().History() {
		if ev.Type == stream.EventToolResult {
			result = &ev
			break
		}
	}
	if result == nil {
		t.Fatal("no tool_result event")
	}
	if !result.IsError {
		t.Error("rejection result not marked as error")
	}
	if len(result.Result) != 1 || result.Result[0].Text != "rejected: not now" {
		t.Errorf("rejection result = %+v", result.Result)
	}
}

func TestConfirmationApprovalRunsTool(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "deploy", `{"env":"prod"}`),
		textScript("Deployed.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	deploy, got := echoTool("deploy", true)
	mustRegister(t, reg, deploy)

	s := New("s1", Config{Adapter: ad, Tools: reg})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		for ev := range s.Events().Subscribe(ctx) {
			if ev.Type == stream.EventToolConfirmationRequest {
				s.RespondToConfirmation(tool.ConfirmationResponse{ToolUseID: ev.CallID, Approved: true})
				return
			}
		}
	}()

	h, _ := s.Run(message.NewUserMessage("deploy to prod"))
	res := awaitResult(t, h)

	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}
	if len(*got) != 1 {
		t.Fatalf("approved tool did not run")
	}
	if s.RespondToConfirmation(tool.ConfirmationResponse{ToolUseID: "t1", Approved: true}) {
		t.Error("confirmation resolvable twice")
	}
}

func TestMalformedToolArgumentsBecomeErrorResult(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "weather", `{"city": paris`),
		textScript("Sorry.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	weather, got := echoTool("weather", false)
	mustRegister(t, reg, weather)

	s := New("s1", Config{Adapter: ad, Tools: reg})
	h, _ := s.Run(message.NewUserMessage("weather?"))
	res := awaitResult(t, h)

	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}
	if len(*got) != 0 {
		t.Fatal("tool ran with malformed arguments")
	}
	found := false
	for _, ev := range h.Events().History() {
		if ev.Type == stream.EventToolResult {
			found = true
			if !ev.IsError {
				t.Error("malformed arguments result not marked as error")
			}
			if len(ev.Result) == 0 || !strings.Contains(ev.Result[0].Text, "invalid input") {
				t.Errorf("result text = %+v", ev.Result)
			}
		}
	}
	if !found {
		t.Fatal("no tool_result event")
	}
}

func TestSchemaValidationFailureBecomesErrorResult(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "weather", `{"city":42}`),
		textScript("Sorry.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	weather, got := echoTool("weather", false)
	weather.Def.Input = json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}},"required":["city"]}`)
	mustRegister(t, reg, weather)

	s := New("s1", Config{Adapter: ad, Tools: reg})
	h, _ := s.Run(message.NewUserMessage("weather?"))
	res := awaitResult(t, h)

	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}
	if len(*got) != 0 {
		t.Fatal("tool ran with schema-invalid input")
	}
}

func TestGuardDenialBecomesErrorResult(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "shell", `{"cmd":"rm"}`),
		textScript("Blocked.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	shell, got := echoTool("shell", false)
	mustRegister(t, reg, shell)

	guards := &guard.Chain{}
	guards.Use(guard.New("deny-shell", guard.Config{
		Reason: func(env *guard.Envelope) string { return "shell is off limits" },
	}, func(env *guard.Envelope) (bool, error) {
		call, ok := env.Args.(*guard.ToolCall)
		return !ok || call.Name != "shell", nil
	}))

	s := New("s1", Config{Adapter: ad, Tools: reg, Guards: guards})
	h, _ := s.Run(message.NewUserMessage("run rm"))
	res := awaitResult(t, h)

	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}
	if len(*got) != 0 {
		t.Fatal("denied tool ran anyway")
	}
	for _, ev := range h.Events().History() {
		if ev.Type == stream.EventToolResult {
			if !ev.IsError || !strings.Contains(ev.Result[0].Text, "shell is off limits") {
				t.Errorf("denial result = %+v", ev.Result)
			}
		}
	}
}

func TestSteeringVisibleAtNextTick(t *testing.T) {
	release := make(chan struct{})
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "wait", `{}`),
		textScript("Done.", message.StopEnd),
	}}
	reg := tool.NewRegistry()
	mustRegister(t, reg, &tool.Func{
		Def: message.ToolDefinition{Name: "wait"},
		Fn: func(ctx context.Context, input json.RawMessage, tctx *tool.Context) ([]message.ContentBlock, error) {
			<-release
			return []message.ContentBlock{message.NewTextBlock("waited")}, nil
		},
	})

	s := New("s1", Config{Adapter: ad, Tools: reg})
	h, err := s.Run(message.NewUserMessage("start"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	// Steer while tick 1's tool is in flight; the message must be part of
	// tick 2's model input.
	if _, err := s.Send(message.NewUserMessage("actually, stop early"), ModeSteer); err != nil {
		t.Fatalf("steer: %v", err)
	}
	close(release)
	res := awaitResult(t, h)
	if res.Err != nil {
		t.Fatalf("execution error: %v", res.Err)
	}

	second := ad.input(1)
	found := false
	for _, m := range second.Messages {
		if m.Role == message.RoleUser && strings.Contains(m.TextContent(), "stop early") {
			found = true
		}
	}
	if !found {
		t.Errorf("steered message missing from second tick input: %+v", second.Messages)
	}
	if h2, _ := s.Send(message.NewUserMessage("late"), ModeSteer); h2 == h {
		t.Error("post-execution send reused finished handle")
	}
}

func TestAbortEndsExecution(t *testing.T) {
	ad := &blockingAdapter{started: make(chan struct{})}
	s := New("s1", Config{Adapter: ad})

	h, err := s.Run(message.NewUserMessage("hello"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	<-ad.started
	s.Abort("user requested")

	res := awaitResult(t, h)
	if res.Err == nil {
		t.Fatal("aborted execution returned nil error")
	}
	if res.StopReason != message.StopOther {
		t.Errorf("stop reason = %q, want %q", res.StopReason, message.StopOther)
	}
	if got := s.Status(); got != StatusIdle {
		t.Errorf("status after abort = %q, want %q", got, StatusIdle)
	}

	evs := h.Events().History()
	if evs[len(evs)-1].Type != stream.EventExecutionEnd {
		t.Errorf("last event = %q, want execution_end", evs[len(evs)-1].Type)
	}
}

func TestMaxTicksAborts(t *testing.T) {
	// The model asks for a tool forever.
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		toolScript("t1", "loop", `{}`),
	}}
	reg := tool.NewRegistry()
	looper, _ := echoTool("loop", false)
	mustRegister(t, reg, looper)

	s := New("s1", Config{Adapter: ad, Tools: reg, MaxTicks: 3})
	h, _ := s.Run(message.NewUserMessage("go"))
	res := awaitResult(t, h)

	if !errors.Is(res.Err, ErrMaxTicksReached) {
		t.Fatalf("err = %v, want ErrMaxTicksReached", res.Err)
	}
	if s.Tick() != 3 {
		t.Errorf("tick = %d, want 3", s.Tick())
	}
}

func TestQueuedSendStartsFollowupExecution(t *testing.T) {
	ad := &blockingAdapter{started: make(chan struct{})}
	s := New("s1", Config{Adapter: ad})

	h1, err := s.Run(message.NewUserMessage("first"))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	<-ad.started

	h2, err := s.Send(message.NewUserMessage("second"), ModeQueue)
	if err != nil {
		t.Fatalf("queue send: %v", err)
	}
	if h2 != h1 {
		t.Fatal("queue send during execution returned a new handle")
	}

	s.Close()
	if _, err := s.Send(message.NewUserMessage("third"), ModeQueue); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("send after close: err = %v, want ErrSessionClosed", err)
	}
}

func TestSessionBusBoundedRetention(t *testing.T) {
	script := []adapter.Delta{{Type: adapter.DeltaMessageStart, Model: "test-model"}}
	for i := 0; i < 50; i++ {
		script = append(script, adapter.Delta{Type: adapter.DeltaText, Text: "chunk "})
	}
	script = append(script, adapter.Delta{Type: adapter.DeltaMessageEnd, StopReason: message.StopEnd})
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{script}}

	s := New("s1", Config{Adapter: ad, EventRetain: 8})
	h, _ := s.Run(message.NewUserMessage("go"))
	awaitResult(t, h)

	// The session bus outlives executions; it must not accumulate the
	// whole delta history.
	evs := s.Events().History()
	if len(evs) != 8 {
		t.Fatalf("session bus retained %d events, want 8", len(evs))
	}
	if evs[len(evs)-1].Type != stream.EventExecutionEnd {
		t.Errorf("last retained event = %q, want execution_end", evs[len(evs)-1].Type)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ad := &scriptedAdapter{scripts: [][]adapter.Delta{
		textScript("Hi there.", message.StopEnd),
	}}
	s := New("s1", Config{Adapter: ad})
	h, _ := s.Run(message.NewUserMessage("hi"))
	awaitResult(t, h)

	if err := s.State().Set("memo", map[string]string{"note": "kept"}); err != nil {
		t.Fatalf("state set: %v", err)
	}
	snap, err := s.Snapshot()
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.Version != SnapshotVersion || snap.SessionID != "s1" {
		t.Errorf("snapshot identity = %+v", snap)
	}

	restored := New("s1", Config{Adapter: ad})
	if err := restored.Hydrate(snap); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if restored.Tick() != s.Tick() {
		t.Errorf("restored tick = %d, want %d", restored.Tick(), s.Tick())
	}
	if len(restored.Timeline()) != len(s.Timeline()) {
		t.Errorf("restored timeline length = %d, want %d", len(restored.Timeline()), len(s.Timeline()))
	}
	var memo map[string]string
	if ok, err := restored.State().Get("memo", &memo); !ok || err != nil || memo["note"] != "kept" {
		t.Errorf("restored state: ok=%v err=%v memo=%v", ok, err, memo)
	}

	// Snapshots are rejected while an execution is in flight.
	blocking := &blockingAdapter{started: make(chan struct{})}
	busy := New("s2", Config{Adapter: blocking})
	bh, _ := busy.Run(message.NewUserMessage("hold"))
	<-blocking.started
	if _, err := busy.Snapshot(); !errors.Is(err, ErrSessionRunning) {
		t.Errorf("snapshot while running: err = %v, want ErrSessionRunning", err)
	}
	busy.Abort("test over")
	awaitResult(t, bh)
}
