package anthropic

import (
	"context"

	sdkanthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/pkg/message"
)

// maxToolBuffers bounds concurrent tool_use blocks tracked per stream, in
// case a misbehaving server sends unbounded ContentBlockStart events
// without matching Stop events.
const maxToolBuffers = 100

// streamBufferSize matches the engine's delta consumption batch.
const streamBufferSize = 16

// Stream implements adapter.Adapter. Initial connection errors are
// returned directly; mid-stream errors arrive as an error delta before
// the channel closes.
func (a *Anthropic) Stream(ctx context.Context, in adapter.Input) (<-chan adapter.Delta, error) {
	params := convertInput(in, &a.config, a.logger)

	stream := a.client.Messages.NewStreaming(ctx, params)

	// Consume the first event synchronously so auth, network, and 4xx
	// failures surface to the caller instead of mid-stream.
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

	firstEvent := stream.Current()

	ch := make(chan adapter.Delta, streamBufferSize)

	go func() {
		defer close(ch)
		defer func() { _ = stream.Close() }()

		a.consumeStreamWithFirst(ctx, stream, firstEvent, ch)
	}()

	return ch, nil
}

// streamState accumulates per-stream tracking across SSE events.
type streamState struct {
	inputTokens int64
	toolBuffers map[int64]*toolBuffer
}

// toolBuffer tracks one open tool_use block by stream index.
type toolBuffer struct {
	id   string
	name string
}

func (a *Anthropic) consumeStreamWithFirst(
	ctx context.Context,
	stream *ssestream.Stream[sdkanthropic.MessageStreamEventUnion],
	firstEvent sdkanthropic.MessageStreamEventUnion,
	ch chan<- adapter.Delta,
) {
	state := streamState{
		toolBuffers: make(map[int64]*toolBuffer),
	}

	a.processEvent(ctx, &state, firstEvent, ch)

	for stream.Next() {
		if ctx.Err() != nil {
			return
		}
		a.processEvent(ctx, &state, stream.Current(), ch)
	}

	if err := stream.Err(); err != nil {
		mapped := mapError(err)
		emit(ctx, ch, adapter.Delta{Type: adapter.DeltaError, Err: mapped})
	}
}

func (a *Anthropic) processEvent(
	ctx context.Context,
	state *streamState,
	event sdkanthropic.MessageStreamEventUnion,
	ch chan<- adapter.Delta,
) {
	switch ev := event.AsAny().(type) {
	case sdkanthropic.MessageStartEvent:
		state.inputTokens = ev.Message.Usage.InputTokens
		emit(ctx, ch, adapter.Delta{
			Type:  adapter.DeltaMessageStart,
			Model: string(ev.Message.Model),
		})

	case sdkanthropic.ContentBlockStartEvent:
		a.handleBlockStart(ctx, state, ev, ch)

	case sdkanthropic.ContentBlockDeltaEvent:
		a.handleBlockDelta(ctx, state, ev, ch)

	case sdkanthropic.ContentBlockStopEvent:
		a.handleBlockStop(ctx, state, ev, ch)

	case sdkanthropic.MessageDeltaEvent:
		a.handleMessageDelta(ctx, state, ev, ch)
	}
}

func (a *Anthropic) handleBlockStart(ctx context.Context, state *streamState, ev sdkanthropic.ContentBlockStartEvent, ch chan<- adapter.Delta) {
	if ev.ContentBlock.Type != "tool_use" {
		return
	}
	if len(state.toolBuffers) >= maxToolBuffers {
		emit(ctx, ch, adapter.Delta{
			Type: adapter.DeltaError,
			Err:  adapter.NewError("anthropic", adapter.KindUnknown, "exceeded max tool buffers", nil),
		})
		return
	}
	state.toolBuffers[ev.Index] = &toolBuffer{
		id:   ev.ContentBlock.ID,
		name: ev.ContentBlock.Name,
	}
	emit(ctx, ch, adapter.Delta{
		Type: adapter.DeltaToolCallStart,
		ID:   ev.ContentBlock.ID,
		Name: ev.ContentBlock.Name,
	})
}

// handleBlockDelta forwards text, reasoning, and tool argument fragments
// as they arrive.
func (a *Anthropic) handleBlockDelta(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.ContentBlockDeltaEvent,
	ch chan<- adapter.Delta,
) {
	switch delta := ev.Delta.AsAny().(type) {
	case sdkanthropic.TextDelta:
		emit(ctx, ch, adapter.Delta{Type: adapter.DeltaText, Text: delta.Text})

	case sdkanthropic.ThinkingDelta:
		emit(ctx, ch, adapter.Delta{Type: adapter.DeltaReasoning, Text: delta.Thinking})

	case sdkanthropic.InputJSONDelta:
		if buf, ok := state.toolBuffers[ev.Index]; ok {
			emit(ctx, ch, adapter.Delta{
				Type:     adapter.DeltaToolCallDelta,
				ID:       buf.id,
				ArgDelta: delta.PartialJSON,
			})
		}
	}
}

// handleBlockStop closes an open tool_use block. Input stays unset so the
// consumer parses the forwarded argument fragments itself and flags
// unparseable argument streams.
func (a *Anthropic) handleBlockStop(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.ContentBlockStopEvent,
	ch chan<- adapter.Delta,
) {
	buf, ok := state.toolBuffers[ev.Index]
	if !ok {
		return
	}

	emit(ctx, ch, adapter.Delta{
		Type: adapter.DeltaToolCallEnd,
		ID:   buf.id,
		Name: buf.name,
	})

	delete(state.toolBuffers, ev.Index)
}

func (a *Anthropic) handleMessageDelta(
	ctx context.Context,
	state *streamState,
	ev sdkanthropic.MessageDeltaEvent,
	ch chan<- adapter.Delta,
) {
	outputTokens := ev.Usage.OutputTokens
	inputTokens := state.inputTokens

	emit(ctx, ch, adapter.Delta{
		Type:       adapter.DeltaMessageEnd,
		StopReason: convertStopReason(ev.Delta.StopReason),
		Usage: &message.Usage{
			InputTokens:  int(inputTokens),
			OutputTokens: int(outputTokens),
			TotalTokens:  int(inputTokens + outputTokens),
		},
	})
}

// emit sends a delta, respecting context cancellation.
func emit(ctx context.Context, ch chan<- adapter.Delta, d adapter.Delta) {
	select {
	case ch <- d:
	case <-ctx.Done():
	}
}
