// Package tool defines the tool interface, execution context, and
// confirmation system. Tools are the primary security boundary: every action
// an agent takes goes through a registered tool, optionally gated by a
// user confirmation and by guard middleware.
package tool

import (
	"context"
	"encoding/json"

	"github.com/agenticklabs/agentick/pkg/message"
)

// Tool is a named executable the model may invoke.
type Tool interface {
	// Definition returns the tool's metadata: name, description, input
	// schema, optional output schema, and confirmation requirement.
	Definition() message.ToolDefinition

	// Run executes the tool. The input has already been validated against
	// the declared schema. Returned blocks are serialized into a
	// tool_result content block; a returned error is recorded as
	// tool_result{is_error:true} and the session continues.
	Run(ctx context.Context, input json.RawMessage, tctx *Context) ([]message.ContentBlock, error)
}

// Sequential is an optional interface. Tools that implement it with a true
// return are executed serially instead of joining the tick's parallel
// fan-out.
type Sequential interface {
	Sequential() bool
}

// Context carries the session environment of one tool invocation.
type Context struct {
	// SessionID identifies the owning session.
	SessionID string

	// Tick is the tick number the invocation belongs to.
	Tick int

	// ToolUseID correlates the invocation with its tool_use block.
	ToolUseID string

	// Confirm blocks until the user answers a confirmation prompt, the
	// context is cancelled, or the execution aborts. It is nil for tools
	// that do not require confirmation.
	Confirm func(ctx context.Context, req ConfirmationRequest) (ConfirmationResponse, error)
}

// Func adapts a plain function into a Tool.
type Func struct {
	Def message.ToolDefinition
	Fn  func(ctx context.Context, input json.RawMessage, tctx *Context) ([]message.ContentBlock, error)

	// Serial forces sequential execution within a tick.
	Serial bool
}

// Definition implements Tool.
func (f *Func) Definition() message.ToolDefinition { return f.Def }

// Run implements Tool.
func (f *Func) Run(ctx context.Context, input json.RawMessage, tctx *Context) ([]message.ContentBlock, error) {
	return f.Fn(ctx, input, tctx)
}

// Sequential implements the Sequential interface.
func (f *Func) Sequential() bool { return f.Serial }
