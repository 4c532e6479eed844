package adapter

import (
	"encoding/json"
	"strings"

	"github.com/agenticklabs/agentick/pkg/message"
)

// maxToolCalls bounds the number of concurrent tool call buffers tracked
// during a single stream, in case of a misbehaving provider that starts
// blocks without ever ending them.
const maxToolCalls = 100

// ToolCall is one reconstructed tool invocation.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`

	// Malformed is set when the argument stream did not parse as JSON;
	// Input then holds the raw text as a JSON string. The engine treats
	// this as a tool input validation error.
	Malformed bool `json:"malformed,omitempty"`
}

type callState struct {
	name     string
	argBuf   strings.Builder
	input    json.RawMessage
	complete bool
	bad      bool
}

// Result is the canonical fold of a delta stream: one assistant message plus
// the stream's usage, stop reason, and reconstructed tool calls.
type Result struct {
	Message    message.Message
	Usage      message.Usage
	StopReason message.StopReason
	Model      string
	ToolCalls  []ToolCall
	Raw        []json.RawMessage
	Err        error
	Chunks     int
}

// Accumulator folds a Delta stream into one canonical assistant message.
// Not concurrent-safe: each instance is owned by a single tick goroutine.
type Accumulator struct {
	text      strings.Builder
	reasoning strings.Builder
	redacted  bool
	order     []string
	calls     map[string]*callState
	usage     message.Usage
	stop      message.StopReason
	model     string
	raw       []json.RawMessage
	chunks    int
	err       error
	done      bool
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[string]*callState)}
}

// Feed folds one delta into the accumulator. Deltas after an error delta
// are ignored.
func (a *Accumulator) Feed(d Delta) {
	if a.done {
		return
	}
	a.chunks++

	switch d.Type {
	case DeltaMessageStart:
		if d.Model != "" {
			a.model = d.Model
		}
		if d.Usage != nil {
			a.usage.MergeMax(*d.Usage)
		}

	case DeltaText:
		a.text.WriteString(d.Text)

	case DeltaReasoning:
		a.reasoning.WriteString(d.Text)
		if d.Redacted {
			a.redacted = true
		}

	case DeltaToolCallStart:
		a.start(d.ID, d.Name)

	case DeltaToolCallDelta:
		if cs, ok := a.calls[d.ID]; ok && !cs.complete {
			cs.argBuf.WriteString(d.ArgDelta)
		}

	case DeltaToolCallEnd:
		if cs, ok := a.calls[d.ID]; ok {
			a.finish(cs, d.Input)
		}

	case DeltaToolCall:
		// A complete tool_call replaces any partial entry for the same id,
		// keeping its first-seen position.
		cs := a.start(d.ID, d.Name)
		if cs == nil {
			return
		}
		cs.name = d.Name
		cs.argBuf.Reset()
		cs.bad = false
		a.finish(cs, d.Input)

	case DeltaUsage:
		if d.Usage != nil {
			a.usage.MergeMax(*d.Usage)
		}

	case DeltaMessageEnd:
		a.stop = d.StopReason
		if d.Usage != nil {
			// Usage on message_end takes precedence over prior reports.
			a.usage = *d.Usage
		}

	case DeltaError:
		a.err = d.Err
		a.done = true

	case DeltaRaw:
		if len(d.Raw) > 0 {
			a.raw = append(a.raw, append(json.RawMessage(nil), d.Raw...))
		}
	}
}

func (a *Accumulator) start(id, name string) *callState {
	if cs, ok := a.calls[id]; ok {
		return cs
	}
	if len(a.calls) >= maxToolCalls {
		return nil
	}
	cs := &callState{name: name}
	a.calls[id] = cs
	a.order = append(a.order, id)
	return cs
}

// finish resolves a call's input: an explicit input wins; otherwise the
// accumulated argument buffer is parsed as JSON. On parse failure the raw
// text is kept as a JSON string and the call is flagged malformed.
func (a *Accumulator) finish(cs *callState, input json.RawMessage) {
	cs.complete = true
	if len(input) > 0 {
		cs.input = append(json.RawMessage(nil), input...)
		return
	}
	buf := cs.argBuf.String()
	if buf == "" {
		cs.input = json.RawMessage(`{}`)
		return
	}
	if json.Valid([]byte(buf)) {
		cs.input = json.RawMessage(buf)
		return
	}
	quoted, _ := json.Marshal(buf)
	cs.input = quoted
	cs.bad = true
}

// Err returns the stored stream error, if any.
func (a *Accumulator) Err() error { return a.err }

// Build produces the canonical result: text block, then reasoning block
// (unless redacted), then one tool_use block per call in first-seen order.
func (a *Accumulator) Build() Result {
	var content []message.ContentBlock
	if a.text.Len() > 0 {
		content = append(content, message.NewTextBlock(a.text.String()))
	}
	if a.reasoning.Len() > 0 && !a.redacted {
		content = append(content, message.NewReasoningBlock(a.reasoning.String(), false))
	}

	var toolCalls []ToolCall
	for _, id := range a.order {
		cs := a.calls[id]
		if !cs.complete {
			// End the call implicitly: streams that stop mid-call still
			// produce a best-effort entry.
			a.finish(cs, nil)
		}
		tc := ToolCall{ID: id, Name: cs.name, Input: cs.input, Malformed: cs.bad}
		toolCalls = append(toolCalls, tc)
		content = append(content, message.NewToolUseBlock(id, cs.name, cs.input))
	}

	stop := a.stop
	if stop == message.StopUnspecified && len(toolCalls) > 0 {
		stop = message.StopToolUse
	}

	return Result{
		Message:    message.Message{Role: message.RoleAssistant, Content: content},
		Usage:      a.usage,
		StopReason: stop,
		Model:      a.model,
		ToolCalls:  toolCalls,
		Raw:        a.raw,
		Err:        a.err,
		Chunks:     a.chunks,
	}
}
