package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"

	"github.com/agenticklabs/agentick/pkg/message"
)

// dualModeAdapter serves one fixed completion both as a full response
// and as a delta stream, for checking that the two paths agree.
type dualModeAdapter struct{}

func (dualModeAdapter) Metadata() Metadata {
	return Metadata{ID: "adapter.dual", Provider: "dual", Kind: KindLanguage}
}

func (dualModeAdapter) Execute(context.Context, Input) (Output, error) {
	return Output{
		Message: message.Message{Role: message.RoleAssistant, Content: []message.ContentBlock{
			message.NewTextBlock("Checking the weather."),
			message.NewToolUseBlock("t1", "weather", json.RawMessage(`{"city":"Paris"}`)),
		}},
		Usage:      message.Usage{InputTokens: 12, OutputTokens: 7, TotalTokens: 19},
		StopReason: message.StopToolUse,
		Model:      "dual-1",
	}, nil
}

func (dualModeAdapter) Stream(context.Context, Input) (<-chan Delta, error) {
	deltas := []Delta{
		{Type: DeltaMessageStart, Model: "dual-1"},
		{Type: DeltaText, Text: "Checking the "},
		{Type: DeltaText, Text: "weather."},
		{Type: DeltaToolCallStart, ID: "t1", Name: "weather"},
		{Type: DeltaToolCallDelta, ID: "t1", ArgDelta: `{"city":`},
		{Type: DeltaToolCallDelta, ID: "t1", ArgDelta: `"Paris"}`},
		{Type: DeltaToolCallEnd, ID: "t1"},
		{Type: DeltaMessageEnd, StopReason: message.StopToolUse,
			Usage: &message.Usage{InputTokens: 12, OutputTokens: 7, TotalTokens: 19}},
	}
	ch := make(chan Delta, len(deltas))
	for _, d := range deltas {
		ch <- d
	}
	close(ch)
	return ch, nil
}

// Folding an adapter's delta stream through the accumulator must produce
// the same message, usage, stop reason, and model as its non-streaming
// Execute path.
func TestStreamFoldMatchesExecute(t *testing.T) {
	var a Adapter = dualModeAdapter{}
	ctx := context.Background()

	want, err := a.Execute(ctx, Input{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	deltas, err := a.Stream(ctx, Input{})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	acc := NewAccumulator()
	for d := range deltas {
		acc.Feed(d)
	}
	res := acc.Build()

	got := Output{
		Message:    res.Message,
		Usage:      res.Usage,
		StopReason: res.StopReason,
		Model:      res.Model,
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("stream fold diverged from execute:\n got %+v\nwant %+v", got, want)
	}
}

func feed(acc *Accumulator, deltas ...Delta) {
	for _, d := range deltas {
		acc.Feed(d)
	}
}

func TestAccumulateTextAndToolCall(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaMessageStart, Model: "test-model"},
		Delta{Type: DeltaText, Text: "2"},
		Delta{Type: DeltaText, Text: "+2="},
		Delta{Type: DeltaToolCallStart, ID: "t1", Name: "calc"},
		Delta{Type: DeltaToolCallDelta, ID: "t1", ArgDelta: `{"expr":`},
		Delta{Type: DeltaToolCallDelta, ID: "t1", ArgDelta: `"2+2"}`},
		Delta{Type: DeltaToolCallEnd, ID: "t1"},
		Delta{Type: DeltaMessageEnd, StopReason: message.StopToolUse},
	)

	res := acc.Build()
	if res.Model != "test-model" {
		t.Errorf("model = %q", res.Model)
	}
	if res.StopReason != message.StopToolUse {
		t.Errorf("stop reason = %q", res.StopReason)
	}
	if len(res.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(res.ToolCalls))
	}
	if string(res.ToolCalls[0].Input) != `{"expr":"2+2"}` {
		t.Errorf("tool input = %s", res.ToolCalls[0].Input)
	}

	// Canonical ordering: text block then tool_use block.
	content := res.Message.Content
	if len(content) != 2 {
		t.Fatalf("got %d content blocks, want 2", len(content))
	}
	if content[0].Type != message.BlockText || content[0].Text != "2+2=" {
		t.Errorf("block 0 = %+v", content[0])
	}
	if content[1].Type != message.BlockToolUse || content[1].ToolUseID != "t1" {
		t.Errorf("block 1 = %+v", content[1])
	}
}

func TestCompleteToolCallReplacesPartial(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaToolCallStart, ID: "t1", Name: "old"},
		Delta{Type: DeltaToolCallDelta, ID: "t1", ArgDelta: `{"half":`},
		Delta{Type: DeltaToolCall, ID: "t1", Name: "calc", Input: json.RawMessage(`{"expr":"1"}`)},
	)

	res := acc.Build()
	if len(res.ToolCalls) != 1 {
		t.Fatalf("got %d tool calls, want 1", len(res.ToolCalls))
	}
	tc := res.ToolCalls[0]
	if tc.Name != "calc" || string(tc.Input) != `{"expr":"1"}` {
		t.Errorf("replacement not applied: %+v", tc)
	}
}

func TestFirstSeenOrderPreserved(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaToolCallStart, ID: "b", Name: "second"},
		Delta{Type: DeltaToolCallStart, ID: "a", Name: "first"},
		Delta{Type: DeltaToolCallEnd, ID: "a"},
		Delta{Type: DeltaToolCallEnd, ID: "b"},
	)

	res := acc.Build()
	if len(res.ToolCalls) != 2 {
		t.Fatalf("got %d tool calls", len(res.ToolCalls))
	}
	if res.ToolCalls[0].ID != "b" || res.ToolCalls[1].ID != "a" {
		t.Errorf("order = %s, %s; want b, a", res.ToolCalls[0].ID, res.ToolCalls[1].ID)
	}
}

func TestUnparseableArgsKeptAsString(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaToolCallStart, ID: "t1", Name: "calc"},
		Delta{Type: DeltaToolCallDelta, ID: "t1", ArgDelta: `{"expr": unterminated`},
		Delta{Type: DeltaToolCallEnd, ID: "t1"},
	)

	res := acc.Build()
	tc := res.ToolCalls[0]
	if !tc.Malformed {
		t.Error("Malformed not set for unparseable args")
	}
	var s string
	if err := json.Unmarshal(tc.Input, &s); err != nil {
		t.Fatalf("input not a JSON string: %v", err)
	}
	if s != `{"expr": unterminated` {
		t.Errorf("raw string = %q", s)
	}
}

func TestUsageMaxMergeAndMessageEndPrecedence(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaUsage, Usage: &message.Usage{InputTokens: 10, TotalTokens: 10}},
		Delta{Type: DeltaUsage, Usage: &message.Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}},
		Delta{Type: DeltaMessageEnd, StopReason: message.StopEnd, Usage: &message.Usage{InputTokens: 9, OutputTokens: 5, TotalTokens: 14}},
	)

	res := acc.Build()
	want := message.Usage{InputTokens: 9, OutputTokens: 5, TotalTokens: 14}
	if res.Usage != want {
		t.Errorf("usage = %+v, want %+v (message_end takes precedence)", res.Usage, want)
	}
}

func TestErrorTerminatesAccumulation(t *testing.T) {
	streamErr := errors.New("boom")
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaText, Text: "partial"},
		Delta{Type: DeltaError, Err: streamErr},
		Delta{Type: DeltaText, Text: "ignored"},
	)

	res := acc.Build()
	if res.Err != streamErr {
		t.Errorf("Err = %v, want %v", res.Err, streamErr)
	}
	if res.Message.TextContent() != "partial" {
		t.Errorf("text after error = %q", res.Message.TextContent())
	}
}

func TestRedactedReasoningHidden(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaReasoning, Text: "secret", Redacted: true},
		Delta{Type: DeltaText, Text: "visible"},
	)

	res := acc.Build()
	for _, b := range res.Message.Content {
		if b.Type == message.BlockReasoning {
			t.Error("redacted reasoning leaked into canonical message")
		}
	}
}

func TestImplicitToolUseStop(t *testing.T) {
	acc := NewAccumulator()
	feed(acc,
		Delta{Type: DeltaToolCall, ID: "t1", Name: "calc", Input: json.RawMessage(`{}`)},
	)
	if res := acc.Build(); res.StopReason != message.StopToolUse {
		t.Errorf("stop reason = %q, want tool_use", res.StopReason)
	}
}
