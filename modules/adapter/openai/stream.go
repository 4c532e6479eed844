package openai

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	sdkopenai "github.com/openai/openai-go"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/pkg/message"
)

// streamBufferSize matches the engine's delta consumption batch.
const streamBufferSize = 16

// Stream implements adapter.Adapter. Chat Completions interleaves tool
// call fragments by choice-delta index; complete calls are emitted in
// index order once the stream ends.
func (o *OpenAI) Stream(ctx context.Context, in adapter.Input) (<-chan adapter.Delta, error) {
	params := convertInput(in, &o.config)
	params.StreamOptions = sdkopenai.ChatCompletionStreamOptionsParam{
		IncludeUsage: sdkopenai.Bool(true),
	}

	stream := o.client.Chat.Completions.NewStreaming(ctx, params)

	// Surface connection-phase failures directly.
	if !stream.Next() {
		err := stream.Err()
		_ = stream.Close()
		if err != nil {
			return nil, mapError(err)
		}
		ch := make(chan adapter.Delta)
		close(ch)
		return ch, nil
	}

	firstChunk := stream.Current()

	ch := make(chan adapter.Delta, streamBufferSize)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		state := &streamState{calls: make(map[int64]*callBuffer)}

		o.processChunk(ctx, state, firstChunk, ch)
		for stream.Next() {
			if ctx.Err() != nil {
				return
			}
			o.processChunk(ctx, state, stream.Current(), ch)
		}

		if err := stream.Err(); err != nil {
			emit(ctx, ch, adapter.Delta{Type: adapter.DeltaError, Err: mapError(err)})
			return
		}

		o.finish(ctx, state, ch)
	}()

	return ch, nil
}

type streamState struct {
	started      bool
	calls        map[int64]*callBuffer
	usage        message.Usage
	finishReason string
}

type callBuffer struct {
	id      string
	name    string
	args    strings.Builder
	started bool
}

func (o *OpenAI) processChunk(ctx context.Context, state *streamState, chunk sdkopenai.ChatCompletionChunk, ch chan<- adapter.Delta) {
	if !state.started {
		state.started = true
		emit(ctx, ch, adapter.Delta{Type: adapter.DeltaMessageStart, Model: chunk.Model})
	}

	// Usage arrives on the terminal chunk when IncludeUsage is set.
	if chunk.Usage.TotalTokens > 0 {
		state.usage = message.Usage{
			InputTokens:  int(chunk.Usage.PromptTokens),
			OutputTokens: int(chunk.Usage.CompletionTokens),
			TotalTokens:  int(chunk.Usage.TotalTokens),
		}
	}

	for _, choice := range chunk.Choices {
		if choice.FinishReason != "" {
			state.finishReason = string(choice.FinishReason)
		}

		if choice.Delta.Content != "" {
			emit(ctx, ch, adapter.Delta{Type: adapter.DeltaText, Text: choice.Delta.Content})
		}

		for _, tc := range choice.Delta.ToolCalls {
			buf, ok := state.calls[tc.Index]
			if !ok {
				buf = &callBuffer{}
				state.calls[tc.Index] = buf
			}
			if tc.ID != "" {
				buf.id = tc.ID
			}
			if tc.Function.Name != "" {
				buf.name = tc.Function.Name
			}
			if buf.id != "" && buf.name != "" && !buf.started {
				buf.started = true
				emit(ctx, ch, adapter.Delta{Type: adapter.DeltaToolCallStart, ID: buf.id, Name: buf.name})
			}
			if tc.Function.Arguments != "" {
				buf.args.WriteString(tc.Function.Arguments)
				emit(ctx, ch, adapter.Delta{
					Type:     adapter.DeltaToolCallDelta,
					ID:       buf.id,
					ArgDelta: tc.Function.Arguments,
				})
			}
		}
	}
}

// finish flushes accumulated tool calls in index order and closes the
// message.
func (o *OpenAI) finish(ctx context.Context, state *streamState, ch chan<- adapter.Delta) {
	indices := make([]int64, 0, len(state.calls))
	for idx := range state.calls {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })

	hasCalls := false
	for _, idx := range indices {
		buf := state.calls[idx]
		if buf.id == "" || buf.name == "" {
			continue
		}
		hasCalls = true
		args := json.RawMessage(buf.args.String())
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		emit(ctx, ch, adapter.Delta{
			Type:  adapter.DeltaToolCallEnd,
			ID:    buf.id,
			Name:  buf.name,
			Input: args,
		})
	}

	end := adapter.Delta{
		Type:       adapter.DeltaMessageEnd,
		StopReason: convertFinishReason(state.finishReason, hasCalls),
	}
	if !state.usage.IsZero() {
		usage := state.usage
		end.Usage = &usage
	}
	emit(ctx, ch, end)
}

// emit sends a delta, respecting context cancellation.
func emit(ctx context.Context, ch chan<- adapter.Delta, d adapter.Delta) {
	select {
	case ch <- d:
	case <-ctx.Done():
	}
}
