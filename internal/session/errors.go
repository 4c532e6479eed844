package session

import "errors"

// Sentinel errors for session operations.
var (
	// ErrSessionClosed indicates a send to a closed session.
	ErrSessionClosed = errors.New("session: closed")

	// ErrSessionRunning indicates an operation that requires the idle
	// state, such as hibernation, was attempted during an execution.
	ErrSessionRunning = errors.New("session: execution in progress")

	// ErrMaxTicksReached indicates the per-execution tick bound was hit.
	ErrMaxTicksReached = errors.New("session: max ticks reached")
)
