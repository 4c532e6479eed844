package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/agenticklabs/agentick/pkg/message"
)

func echoTool(name string) *Func {
	return &Func{
		Def: message.ToolDefinition{Name: name, Description: "echoes input"},
		Fn: func(_ context.Context, input json.RawMessage, _ *Context) ([]message.ContentBlock, error) {
			return []message.ContentBlock{message.NewTextBlock(string(input))}, nil
		},
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoTool("echo")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(echoTool("echo"))
	if !errors.Is(err, ErrDuplicateTool) {
		t.Errorf("second register error = %v, want ErrDuplicateTool", err)
	}
}

func TestValidateInput(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"expr": {"type": "string"}},
		"required": ["expr"]
	}`)

	r := NewRegistry()
	err := r.Register(&Func{
		Def: message.ToolDefinition{Name: "calc", Input: schema},
		Fn: func(_ context.Context, _ json.RawMessage, _ *Context) ([]message.ContentBlock, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := r.ValidateInput("calc", json.RawMessage(`{"expr":"2+2"}`)); err != nil {
		t.Errorf("valid input rejected: %v", err)
	}
	if err := r.ValidateInput("calc", json.RawMessage(`{"expr":42}`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("invalid input error = %v, want ErrInvalidInput", err)
	}
	if err := r.ValidateInput("calc", json.RawMessage(`{}`)); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("missing required field error = %v, want ErrInvalidInput", err)
	}
}

func TestDefinitionsSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(echoTool(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	defs := r.Definitions()
	if len(defs) != 3 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "mid" || defs[2].Name != "zeta" {
		t.Errorf("definitions not sorted: %v", defs)
	}
}

func TestConfirmationResolve(t *testing.T) {
	mgr := NewConfirmationManager()
	p := NewPendingConfirmation(ConfirmationRequest{ToolUseID: "t1", Name: "delete_file"})
	mgr.Register(p)

	go func() {
		mgr.Resolve(ConfirmationResponse{ToolUseID: "t1", Approved: false, Reason: "nope"})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := p.Await(ctx)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if resp.Approved || resp.Reason != "nope" {
		t.Errorf("resp = %+v", resp)
	}
	if mgr.Len() != 0 {
		t.Errorf("pending count = %d after resolve", mgr.Len())
	}
}

func TestConfirmationResolveUnknown(t *testing.T) {
	mgr := NewConfirmationManager()
	if mgr.Resolve(ConfirmationResponse{ToolUseID: "missing"}) {
		t.Error("Resolve returned true for unknown id")
	}
}

func TestConfirmationDoubleRespond(t *testing.T) {
	p := NewPendingConfirmation(ConfirmationRequest{ToolUseID: "t1"})
	if !p.Respond(ConfirmationResponse{Approved: true}) {
		t.Fatal("first respond failed")
	}
	if p.Respond(ConfirmationResponse{Approved: false}) {
		t.Error("second respond succeeded")
	}
}

func TestConfirmationAwaitCancelled(t *testing.T) {
	p := NewPendingConfirmation(ConfirmationRequest{ToolUseID: "t1"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Await error = %v, want context.Canceled", err)
	}
}
