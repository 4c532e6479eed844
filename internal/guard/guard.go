// Package guard implements the middleware chain wrapping engine procedures
// (tool:run, model:generate) and the allow/deny guardrail built on it.
package guard

import "context"

// Envelope describes the procedure a middleware chain is wrapping.
type Envelope struct {
	// Operation names the procedure, e.g. "tool:run".
	Operation string

	// Args is the procedure input. For tool:run it is a *ToolCall.
	Args any

	// Metadata carries free-form context (session id, tick, user).
	Metadata map[string]any
}

// Next invokes the remainder of the chain.
type Next func(ctx context.Context) (any, error)

// Middleware wraps a procedure invocation. It may short-circuit by
// returning without calling next.
type Middleware func(ctx context.Context, env *Envelope, next Next) (any, error)

// Chain is an ordered middleware list. The zero value is usable.
type Chain struct {
	middlewares []Middleware
}

// Use appends a middleware. Middlewares run in registration order, the
// first registered being outermost.
func (c *Chain) Use(mw Middleware) {
	c.middlewares = append(c.middlewares, mw)
}

// Run executes the chain around handler.
func (c *Chain) Run(ctx context.Context, env *Envelope, handler Next) (any, error) {
	next := handler
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		mw := c.middlewares[i]
		inner := next
		next = func(ctx context.Context) (any, error) {
			return mw(ctx, env, inner)
		}
	}
	return next(ctx)
}

// CheckFunc decides whether a procedure may proceed. Returning false denies
// with the configured reason; returning a *Error (or subtype like
// *Denied) propagates it unchanged; any other error propagates as-is.
type CheckFunc func(env *Envelope) (bool, error)

// Config tunes a guard created by New.
type Config struct {
	// Reason renders the denial message. Optional.
	Reason func(env *Envelope) string
}

// New creates a guard middleware named name around fn.
func New(name string, cfg Config, fn CheckFunc) Middleware {
	return func(ctx context.Context, env *Envelope, next Next) (any, error) {
		ok, err := fn(env)
		if err != nil {
			return nil, err
		}
		if !ok {
			reason := "Guard check failed"
			if cfg.Reason != nil {
				reason = cfg.Reason(env)
			}
			return nil, &Error{Guard: name, Operation: env.Operation, Reason: reason}
		}
		return next(ctx)
	}
}
