package tool

import "errors"

// Sentinel errors for tool operations.
var (
	// ErrDuplicateTool indicates a registration under a taken name.
	ErrDuplicateTool = errors.New("tool: duplicate tool name")

	// ErrUnknownTool indicates an invocation of an unregistered tool.
	ErrUnknownTool = errors.New("tool: unknown tool")

	// ErrInvalidInput indicates arguments that fail the input schema.
	ErrInvalidInput = errors.New("tool: invalid input")

	// ErrConfirmationRejected indicates the user declined a confirmation.
	ErrConfirmationRejected = errors.New("tool: confirmation rejected")
)
