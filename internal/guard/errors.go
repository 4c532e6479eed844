package guard

import (
	"errors"
	"fmt"
)

// CodeDenied is the wire error code surfaced when a guardrail denies a
// procedure at the gateway boundary.
const CodeDenied = "GUARD_DENIED"

// Error is a middleware denial. For tool procedures the engine reifies it
// as tool_result{is_error:true}; for direct RPC invocations the gateway
// returns error{code:"GUARD_DENIED"}.
type Error struct {
	Guard     string
	Operation string
	Reason    string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("guard %s denied %s: %s", e.Guard, e.Operation, e.Reason)
}

// Code returns the wire error code.
func (e *Error) Code() string { return CodeDenied }

// Denied is a guardrail denial of a specific tool.
type Denied struct {
	ToolName string
	Reason   string
}

// NewDenied builds a guardrail denial for toolName.
func NewDenied(toolName, reason string) *Denied {
	return &Denied{ToolName: toolName, Reason: reason}
}

// Error implements the error interface.
func (d *Denied) Error() string {
	return fmt.Sprintf("guardrail denied tool %s: %s", d.ToolName, d.Reason)
}

// Code returns the wire error code.
func (d *Denied) Code() string { return CodeDenied }

// IsDenial reports whether err is a guard or guardrail denial and returns
// the denial reason.
func IsDenial(err error) (string, bool) {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Reason, true
	}
	var gd *Denied
	if errors.As(err, &gd) {
		return gd.Reason, true
	}
	return "", false
}
