package gateway

import "fmt"

// RPC error codes carried in res and error frames.
const (
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeAuthFailed      = "AUTH_FAILED"
	CodeInvalidMessage  = "INVALID_MESSAGE"
	CodeInvalidParams   = "INVALID_PARAMS"
	CodeUnknownMethod   = "UNKNOWN_METHOD"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeGuardDenied     = "GUARD_DENIED"
	CodeTimeout         = "TIMEOUT"
	CodeInternal        = "INTERNAL"
)

// RPCError is a coded failure crossing the gateway boundary. Handlers
// return it to pick the wire code; anything else maps to INTERNAL.
type RPCError struct {
	Code    string
	Message string
}

// Error implements error.
func (e *RPCError) Error() string {
	return fmt.Sprintf("gateway: %s: %s", e.Code, e.Message)
}

// Errorf builds an RPCError with a formatted message.
func Errorf(code, format string, args ...any) *RPCError {
	return &RPCError{Code: code, Message: fmt.Sprintf(format, args...)}
}
