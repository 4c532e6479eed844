// Package render defines the contract between the session engine and the
// agent renderer. The renderer is an opaque collaborator: the engine only
// depends on the shape of its output.
package render

import (
	"context"

	"github.com/agenticklabs/agentick/pkg/message"
)

// Input is the renderer's output for one tick: the prompt the engine
// derives the model call from.
type Input struct {
	// Timeline is the conversation to present to the model.
	Timeline []message.TimelineEntry

	// System holds system prompt entries, placed first in the model input.
	System []message.TimelineEntry

	// Tools are the definitions available this tick.
	Tools []message.ToolDefinition

	// ModelOptions tunes the model call. Nil means engine defaults.
	ModelOptions *message.ModelOptions

	// Sections carries named prompt fragments for providers that support
	// structured system prompts.
	Sections map[string]string

	// Ephemeral blocks are appended to the model input for this tick only
	// and never enter the timeline.
	Ephemeral []message.ContentBlock
}

// View is the session state handed to the renderer.
type View struct {
	SessionID string
	Tick      int
	Timeline  []message.TimelineEntry
	State     *State
}

// Renderer turns the agent definition plus session state into a rendered
// prompt. Render must be pure with respect to View: equal views produce
// equal inputs (the hibernation round-trip depends on this).
type Renderer interface {
	Render(ctx context.Context, view View) (Input, error)
}

// Func adapts a function into a Renderer.
type Func func(ctx context.Context, view View) (Input, error)

// Render implements Renderer.
func (f Func) Render(ctx context.Context, view View) (Input, error) {
	return f(ctx, view)
}

// Passthrough is the default renderer: the timeline as-is, a fixed system
// prompt, and a fixed tool list.
type Passthrough struct {
	SystemPrompt string
	Tools        []message.ToolDefinition
	Options      *message.ModelOptions
}

// Render implements Renderer.
func (p *Passthrough) Render(_ context.Context, view View) (Input, error) {
	in := Input{
		Timeline:     view.Timeline,
		Tools:        p.Tools,
		ModelOptions: p.Options,
	}
	if p.SystemPrompt != "" {
		in.System = []message.TimelineEntry{
			message.NewEntry(message.NewSystemMessage(p.SystemPrompt)),
		}
	}
	return in, nil
}
