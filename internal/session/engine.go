package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/render"
	"github.com/agenticklabs/agentick/pkg/message"
	"github.com/agenticklabs/agentick/pkg/stream"
)

var tracer = otel.Tracer("agentick/session")

// emit stamps session identity onto an event and pushes it to both the
// execution buffer and the session bus.
func (s *Session) emit(h *Handle, ev stream.Event) {
	ev.SessionID = s.id
	ev.ExecutionID = h.ExecutionID
	h.events.Push(ev)
	s.bus.Push(ev)
}

// run is the engine goroutine: it advances the session tick by tick until
// the model yields, the execution aborts, or an error terminates it. All
// session mutation during the execution happens here.
func (s *Session) run(ctx context.Context, h *Handle) {
	ctx, span := tracer.Start(ctx, "session.execute",
		trace.WithAttributes(attribute.String("session.id", s.id)))
	defer span.End()
	h.TraceID = span.SpanContext().TraceID().String()

	s.emit(h, stream.Event{Type: stream.EventExecutionStart})

	var newEntries []message.TimelineEntry

	for ticks := 0; ; ticks++ {
		if ticks >= s.cfg.MaxTicks {
			s.fail(h, newEntries, ErrMaxTicksReached, message.StopOther)
			return
		}
		if ctx.Err() != nil {
			s.abortExit(h, newEntries)
			return
		}

		// Step 1: drain the steering queue into the timeline.
		newEntries = append(newEntries, s.drainQueue()...)

		s.mu.Lock()
		s.tick++
		tick := s.tick
		view := render.View{
			SessionID: s.id,
			Tick:      tick,
			Timeline:  append([]message.TimelineEntry(nil), s.timeline...),
			State:     s.state,
		}
		s.mu.Unlock()

		s.emit(h, stream.Event{Type: stream.EventTickStart, Tick: tick})

		// Step 2: render.
		rendered, err := s.cfg.Renderer.Render(ctx, view)
		if err != nil {
			s.fail(h, newEntries, fmt.Errorf("session: render: %w", err), message.StopError)
			return
		}

		// Steps 3-5: model call, delta translation, accumulation.
		res, err := s.modelTick(ctx, h, tick, rendered)
		if err != nil {
			if ctx.Err() != nil {
				s.abortExit(h, newEntries)
				return
			}
			s.fail(h, newEntries, err, message.StopError)
			return
		}

		s.mu.Lock()
		s.usage.Add(res.Usage)
		cumulative := s.usage
		entry := message.NewEntry(res.Message)
		s.timeline = append(s.timeline, entry)
		s.mu.Unlock()
		newEntries = append(newEntries, entry)
		s.emit(h, stream.Event{
			Type:       stream.EventMessageEnd,
			Tick:       tick,
			StopReason: res.StopReason,
			NewEntries: []message.TimelineEntry{entry},
			Usage:      &cumulative,
		})

		// Steps 6-7: confirmations and tool execution.
		if len(res.ToolCalls) > 0 {
			resultEntries, err := s.runToolCalls(ctx, h, tick, rendered, res.ToolCalls)
			if err != nil {
				s.abortExit(h, newEntries)
				return
			}
			newEntries = append(newEntries, resultEntries...)
			for _, re := range resultEntries {
				s.emit(h, stream.Event{
					Type:       stream.EventMessageEnd,
					Tick:       tick,
					NewEntries: []message.TimelineEntry{re},
				})
			}

			s.emit(h, stream.Event{Type: stream.EventTickEnd, Tick: tick, Usage: &cumulative})
			continue
		}

		s.emit(h, stream.Event{Type: stream.EventTickEnd, Tick: tick, Usage: &cumulative})

		// Queued steering that arrived during the tick starts another
		// tick within the same execution.
		s.mu.Lock()
		pending := len(s.queue) > 0
		s.mu.Unlock()
		if pending && !res.StopReason.Terminal() {
			continue
		}

		stop := res.StopReason
		if stop == message.StopUnspecified {
			stop = message.StopEnd
		}
		s.emit(h, stream.Event{
			Type:       stream.EventExecutionEnd,
			Tick:       tick,
			StopReason: stop,
			NewEntries: newEntries,
			Output:     res.Message.TextContent(),
			Usage:      &cumulative,
		})
		s.finish(h, Result{
			StopReason: stop,
			NewEntries: newEntries,
			Output:     res.Message.TextContent(),
			Usage:      cumulative,
		})
		return
	}
}

// drainQueue moves queued steering messages into the timeline.
func (s *Session) drainQueue() []message.TimelineEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var drained []message.TimelineEntry
	for _, msg := range s.queue {
		entry := message.NewEntry(msg)
		s.timeline = append(s.timeline, entry)
		drained = append(drained, entry)
	}
	s.queue = nil
	return drained
}

// modelTick derives the model input, streams the response, translates
// deltas to public events, and folds them into the canonical message.
func (s *Session) modelTick(ctx context.Context, h *Handle, tick int, rendered render.Input) (adapter.Result, error) {
	input := deriveInput(rendered)

	deltas, err := s.cfg.Adapter.Stream(ctx, input)
	if err != nil {
		s.logger.Error("adapter stream failed", "error", err)
		return adapter.Result{}, err
	}

	acc := adapter.NewAccumulator()
	tr := newEventTranslator(s, h, tick)

	for d := range deltas {
		if ctx.Err() != nil {
			// Drain remaining chunks to release the provider goroutine.
			for range deltas {
			}
			return adapter.Result{}, ctx.Err()
		}
		acc.Feed(d)
		tr.translate(d)
	}
	tr.closeOpen()

	res := acc.Build()
	if res.Err != nil {
		return adapter.Result{}, res.Err
	}
	return res, nil
}

// deriveInput flattens a rendered prompt into the normalized model input:
// system first, then timeline messages, then ephemeral content.
func deriveInput(rendered render.Input) adapter.Input {
	var systemParts []string
	for _, entry := range rendered.System {
		if text := entry.Message.TextContent(); text != "" {
			systemParts = append(systemParts, text)
		}
	}
	if len(rendered.Sections) > 0 {
		names := make([]string, 0, len(rendered.Sections))
		for name := range rendered.Sections {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			systemParts = append(systemParts, "## "+name+"\n"+rendered.Sections[name])
		}
	}

	msgs := make([]message.Message, 0, len(rendered.Timeline)+1)
	for _, entry := range rendered.Timeline {
		if entry.Kind != message.EntryMessage {
			continue
		}
		msgs = append(msgs, entry.Message)
	}
	if len(rendered.Ephemeral) > 0 {
		msgs = append(msgs, message.Message{Role: message.RoleUser, Content: rendered.Ephemeral})
	}

	inlineSystem, msgs := adapter.ExtractSystem(msgs)
	if inlineSystem != "" {
		systemParts = append(systemParts, inlineSystem)
	}

	in := adapter.Input{
		System:   strings.Join(systemParts, "\n\n"),
		Messages: msgs,
		Tools:    rendered.Tools,
	}
	if rendered.ModelOptions != nil {
		in.Options = *rendered.ModelOptions
	}
	return in
}

// eventTranslator turns adapter deltas into bracketed public events:
// content_block_start precedes any delta for a block, content_block_end
// follows the last one.
type eventTranslator struct {
	s    *Session
	h    *Handle
	tick int

	openID   string
	openType message.BlockType
	blockSeq int
}

func newEventTranslator(s *Session, h *Handle, tick int) *eventTranslator {
	return &eventTranslator{s: s, h: h, tick: tick}
}

func (t *eventTranslator) translate(d adapter.Delta) {
	switch d.Type {
	case adapter.DeltaText:
		t.open(message.BlockText, "")
		t.s.emit(t.h, stream.Event{Type: stream.EventContentDelta, Tick: t.tick, Delta: d.Text, BlockID: t.openID})

	case adapter.DeltaReasoning:
		t.open(message.BlockReasoning, "")
		t.s.emit(t.h, stream.Event{Type: stream.EventContentDelta, Tick: t.tick, Delta: d.Text, BlockID: t.openID})

	case adapter.DeltaToolCallStart:
		t.open(message.BlockToolUse, d.ID)
		t.s.emit(t.h, stream.Event{Type: stream.EventToolCallStart, Tick: t.tick, CallID: d.ID, Name: d.Name})

	case adapter.DeltaToolCall:
		// Non-streamed complete call: bracket it as its own block.
		t.open(message.BlockToolUse, d.ID)
		t.s.emit(t.h, stream.Event{Type: stream.EventToolCallStart, Tick: t.tick, CallID: d.ID, Name: d.Name})
		t.closeOpen()

	case adapter.DeltaToolCallEnd, adapter.DeltaMessageEnd:
		t.closeOpen()

	case adapter.DeltaError:
		t.closeOpen()
		msg := "adapter stream error"
		if d.Err != nil {
			msg = d.Err.Error()
		}
		t.s.emit(t.h, stream.Event{Type: stream.EventError, Tick: t.tick, Err: msg})
	}
}

// open ensures a block of the given type (and id, for tool blocks) is the
// current one, closing any different open block first.
func (t *eventTranslator) open(ty message.BlockType, id string) {
	if t.openID != "" && (t.openType != ty || (id != "" && t.openID != id)) {
		t.closeOpen()
	}
	if t.openID != "" {
		return
	}
	if id == "" {
		t.blockSeq++
		id = fmt.Sprintf("%s-%d-%d", ty, t.tick, t.blockSeq)
	}
	t.openID = id
	t.openType = ty
	t.s.emit(t.h, stream.Event{Type: stream.EventContentBlockStart, Tick: t.tick, BlockID: id, BlockType: ty})
}

func (t *eventTranslator) closeOpen() {
	if t.openID == "" {
		return
	}
	t.s.emit(t.h, stream.Event{Type: stream.EventContentBlockEnd, Tick: t.tick, BlockID: t.openID, BlockType: t.openType})
	t.openID = ""
	t.openType = ""
}

// fail terminates the execution with an error event and
// execution_end{stop}.
func (s *Session) fail(h *Handle, newEntries []message.TimelineEntry, err error, stop message.StopReason) {
	s.logger.Error("execution failed", "execution_id", h.ExecutionID, "error", err)

	s.mu.Lock()
	cumulative := s.usage
	s.mu.Unlock()

	s.emit(h, stream.Event{Type: stream.EventError, Err: err.Error()})
	s.emit(h, stream.Event{
		Type:       stream.EventExecutionEnd,
		StopReason: stop,
		NewEntries: newEntries,
		Usage:      &cumulative,
	})
	s.finish(h, Result{StopReason: stop, NewEntries: newEntries, Usage: cumulative, Err: err})
}

// abortExit terminates a cancelled execution with execution_end{other}.
func (s *Session) abortExit(h *Handle, newEntries []message.TimelineEntry) {
	reason, _ := h.Aborted()
	if reason == "" {
		reason = "aborted"
	}
	s.logger.Info("execution aborted", "execution_id", h.ExecutionID, "reason", reason)

	s.mu.Lock()
	cumulative := s.usage
	s.mu.Unlock()

	s.emit(h, stream.Event{
		Type:       stream.EventExecutionEnd,
		StopReason: message.StopOther,
		NewEntries: newEntries,
		Usage:      &cumulative,
	})
	s.finish(h, Result{
		StopReason: message.StopOther,
		NewEntries: newEntries,
		Usage:      cumulative,
		Err:        errors.Join(context.Canceled, errors.New(reason)),
	})
}
