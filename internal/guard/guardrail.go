package guard

import (
	"context"
	"encoding/json"
	"strings"
)

// Action is a guardrail verdict.
type Action string

// Guardrail actions.
const (
	ActionAllow Action = "allow"
	ActionDeny  Action = "deny"
)

// Rule matches tool names against glob patterns. The first rule whose
// pattern list matches wins.
type Rule struct {
	Patterns []string `yaml:"patterns"`
	Action   Action   `yaml:"action"`
	Reason   string   `yaml:"reason,omitempty"`
}

// ToolCall is the tool:run procedure payload seen by the guardrail.
type ToolCall struct {
	Name  string
	Input json.RawMessage
}

// Verdict is a classifier decision.
type Verdict struct {
	Action Action
	Reason string
}

// Classifier inspects a call when no rule matched. A nil result falls
// through to allow.
type Classifier func(call ToolCall, env *Envelope) *Verdict

// Guardrail is a concrete guard for tool:run built from pattern rules and
// an optional classifier.
type Guardrail struct {
	rules    []Rule
	classify Classifier
}

// NewGuardrail creates a guardrail. classify may be nil.
func NewGuardrail(rules []Rule, classify Classifier) *Guardrail {
	return &Guardrail{rules: rules, classify: classify}
}

// Check resolves the verdict for one call: rules first-match-wins, then the
// classifier, then allow.
func (g *Guardrail) Check(call ToolCall, env *Envelope) Verdict {
	for _, rule := range g.rules {
		for _, pattern := range rule.Patterns {
			if Match(pattern, call.Name) {
				return Verdict{Action: rule.Action, Reason: rule.Reason}
			}
		}
	}
	if g.classify != nil {
		if v := g.classify(call, env); v != nil {
			return *v
		}
	}
	return Verdict{Action: ActionAllow}
}

// Middleware wraps the guardrail as a chain middleware for tool:run
// envelopes. Non-tool envelopes pass through.
func (g *Guardrail) Middleware() Middleware {
	return func(ctx context.Context, env *Envelope, next Next) (any, error) {
		call, ok := env.Args.(*ToolCall)
		if !ok {
			return next(ctx)
		}
		v := g.Check(*call, env)
		if v.Action == ActionDeny {
			reason := v.Reason
			if reason == "" {
				reason = "denied by guardrail"
			}
			return nil, NewDenied(call.Name, reason)
		}
		return next(ctx)
	}
}

// Match reports whether name matches pattern, where * matches any run of
// characters (including none). Matching is case-insensitive.
func Match(pattern, name string) bool {
	pattern = strings.ToLower(pattern)
	name = strings.ToLower(name)

	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == name
	}

	// Anchored prefix and suffix, with middle parts matched in order.
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]

	last := parts[len(parts)-1]
	if !strings.HasSuffix(name, last) {
		return false
	}
	name = name[:len(name)-len(last)]

	for _, part := range parts[1 : len(parts)-1] {
		if part == "" {
			continue
		}
		idx := strings.Index(name, part)
		if idx < 0 {
			return false
		}
		name = name[idx+len(part):]
	}
	return true
}
