package session

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/guard"
	"github.com/agenticklabs/agentick/internal/render"
	"github.com/agenticklabs/agentick/internal/tool"
	"github.com/agenticklabs/agentick/pkg/message"
	"github.com/agenticklabs/agentick/pkg/stream"
)

// toolOutcome is one call's resolved result block, in tool_use order.
type toolOutcome struct {
	block message.ContentBlock
}

// runToolCalls drives the confirmation and execution phases of one tick.
// Results are appended to the timeline in tool_use order regardless of
// completion order. The returned error is non-nil only on cancellation.
func (s *Session) runToolCalls(ctx context.Context, h *Handle, tick int, rendered render.Input, calls []adapter.ToolCall) ([]message.TimelineEntry, error) {
	defs := make(map[string]message.ToolDefinition, len(rendered.Tools))
	for _, def := range rendered.Tools {
		defs[def.Name] = def
	}

	outcomes := make([]toolOutcome, len(calls))
	skip := make([]bool, len(calls))

	// Confirmation phase: request everything up front, then pause until
	// each prompt is answered. Rejections are reified as error results
	// with no real tool execution.
	pending := make(map[int]*tool.PendingConfirmation)
	for i, call := range calls {
		def, ok := defs[call.Name]
		if !ok {
			if t, found := s.cfg.Tools.Get(call.Name); found {
				def = t.Definition()
			}
		}
		if !def.RequiresConfirmation {
			continue
		}
		p := tool.NewPendingConfirmation(tool.ConfirmationRequest{
			ToolUseID: call.ID,
			Name:      call.Name,
			Arguments: call.Input,
		})
		s.confirmations.Register(p)
		pending[i] = p
		s.emit(h, stream.Event{
			Type:   stream.EventToolConfirmationRequest,
			Tick:   tick,
			CallID: call.ID,
			Name:   call.Name,
			Input:  call.Input,
		})
	}
	for i, p := range pending {
		resp, err := p.Await(ctx)
		if err != nil {
			for _, rest := range pending {
				s.confirmations.Remove(rest.Request().ToolUseID)
			}
			return nil, err
		}
		if !resp.Approved {
			call := calls[i]
			outcomes[i].block = message.NewToolResultBlock(call.ID, call.Name,
				[]message.ContentBlock{message.NewTextBlock("rejected: " + resp.Reason)}, true)
			skip[i] = true
		}
	}

	// Execution phase: approved calls run concurrently up to the fan-out
	// limit; tools that declare themselves sequential run inline.
	sem := make(chan struct{}, s.cfg.MaxToolConcurrency)
	var wg sync.WaitGroup
	for i, call := range calls {
		if skip[i] {
			continue
		}
		s.emit(h, stream.Event{
			Type:   stream.EventToolCall,
			Tick:   tick,
			CallID: call.ID,
			Name:   call.Name,
			Input:  call.Input,
		})

		if s.isSequential(call.Name) {
			wg.Wait()
			outcomes[i].block = s.invokeTool(ctx, tick, call)
			continue
		}

		wg.Add(1)
		go func(i int, call adapter.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			outcomes[i].block = s.invokeTool(ctx, tick, call)
		}(i, call)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// Emit and record results in tool_use order.
	entries := make([]message.TimelineEntry, 0, len(outcomes))
	s.mu.Lock()
	for _, out := range outcomes {
		entry := message.NewEntry(message.NewToolResultMessage(out.block))
		s.timeline = append(s.timeline, entry)
		entries = append(entries, entry)
	}
	s.mu.Unlock()

	for _, out := range outcomes {
		s.emit(h, stream.Event{
			Type:    stream.EventToolResult,
			Tick:    tick,
			CallID:  out.block.ToolUseID,
			Name:    out.block.Name,
			Result:  out.block.Content,
			IsError: out.block.IsError,
		})
	}
	return entries, nil
}

func (s *Session) isSequential(name string) bool {
	t, ok := s.cfg.Tools.Get(name)
	if !ok {
		return false
	}
	seq, ok := t.(tool.Sequential)
	return ok && seq.Sequential()
}

// invokeTool validates, guards, and runs one call. Failures of any kind
// become tool_result{is_error:true}; the session continues and the model
// decides the next action.
func (s *Session) invokeTool(ctx context.Context, tick int, call adapter.ToolCall) message.ContentBlock {
	errBlock := func(text string) message.ContentBlock {
		return message.NewToolResultBlock(call.ID, call.Name,
			[]message.ContentBlock{message.NewTextBlock(text)}, true)
	}

	if call.Malformed {
		return errBlock(fmt.Sprintf("invalid input: arguments for %s did not parse as JSON", call.Name))
	}

	t, ok := s.cfg.Tools.Get(call.Name)
	if !ok {
		return errBlock(fmt.Sprintf("unknown tool: %s", call.Name))
	}
	if err := s.cfg.Tools.ValidateInput(call.Name, call.Input); err != nil {
		return errBlock(fmt.Sprintf("invalid input: %v", err))
	}

	ctx, span := tracer.Start(ctx, "tool.run",
		trace.WithAttributes(attribute.String("tool.name", call.Name)))
	defer span.End()

	env := &guard.Envelope{
		Operation: "tool:run",
		Args:      &guard.ToolCall{Name: call.Name, Input: call.Input},
		Metadata:  map[string]any{"session_id": s.id, "tick": tick},
	}

	result, err := s.cfg.Guards.Run(ctx, env, func(ctx context.Context) (any, error) {
		tctx := &tool.Context{
			SessionID: s.id,
			Tick:      tick,
			ToolUseID: call.ID,
			Confirm:   s.confirmFunc(call.ID),
		}
		return t.Run(ctx, call.Input, tctx)
	})
	if err != nil {
		if reason, denied := guard.IsDenial(err); denied {
			return errBlock("denied: " + reason)
		}
		s.logger.Warn("tool failed", "tool", call.Name, "error", err)
		return errBlock(err.Error())
	}

	blocks, _ := result.([]message.ContentBlock)
	if len(blocks) == 0 {
		blocks = []message.ContentBlock{message.NewTextBlock("")}
	}
	return message.NewToolResultBlock(call.ID, call.Name, blocks, false)
}

// confirmFunc lets a running tool raise its own confirmation prompt.
func (s *Session) confirmFunc(toolUseID string) func(context.Context, tool.ConfirmationRequest) (tool.ConfirmationResponse, error) {
	return func(ctx context.Context, req tool.ConfirmationRequest) (tool.ConfirmationResponse, error) {
		if req.ToolUseID == "" {
			req.ToolUseID = toolUseID
		}
		p := tool.NewPendingConfirmation(req)
		s.confirmations.Register(p)

		s.mu.Lock()
		h := s.current
		s.mu.Unlock()
		if h != nil {
			s.emit(h, stream.Event{
				Type:   stream.EventToolConfirmationRequest,
				CallID: req.ToolUseID,
				Name:   req.Name,
				Input:  req.Arguments,
				Prompt: req.Message,
			})
		}
		defer s.confirmations.Remove(req.ToolUseID)
		return p.Await(ctx)
	}
}
