package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agenticklabs/agentick/internal/app"
)

// Invocation is the request context handed to a custom method handler.
type Invocation struct {
	// Client identity from the connect frame.
	ClientID string
	User     string
	Metadata map[string]any

	// Params already validated against the method schema.
	Params json.RawMessage

	// Registry gives handlers access to apps and sessions.
	Registry *app.Registry
}

// MethodHandler executes one custom method call. The returned value is
// JSON-marshaled into the response payload.
type MethodHandler func(ctx context.Context, inv *Invocation) (any, error)

type customMethod struct {
	schema  *jsonschema.Schema
	handler MethodHandler
}

// MethodRegistry holds integrator-registered RPC methods, addressed on
// the wire as "namespace:name".
type MethodRegistry struct {
	mu      sync.RWMutex
	methods map[string]*customMethod
}

// NewMethodRegistry creates an empty registry.
func NewMethodRegistry() *MethodRegistry {
	return &MethodRegistry{methods: make(map[string]*customMethod)}
}

// Register adds a method under namespace:name. schema, when non-nil, is a
// JSON Schema document compiled once at registration; params failing it
// are rejected with INVALID_PARAMS before the handler runs.
func (r *MethodRegistry) Register(namespace, name string, schema json.RawMessage, handler MethodHandler) error {
	if namespace == "" || name == "" {
		return fmt.Errorf("gateway: custom method needs namespace and name")
	}
	if strings.Contains(namespace, ":") || strings.Contains(name, ":") {
		return fmt.Errorf("gateway: %q: namespace and name must not contain ':'", namespace+":"+name)
	}
	if handler == nil {
		return fmt.Errorf("gateway: custom method %s:%s has no handler", namespace, name)
	}

	m := &customMethod{handler: handler}
	if len(schema) > 0 {
		sch, err := compileSchema(namespace+"."+name, schema)
		if err != nil {
			return fmt.Errorf("gateway: method %s:%s schema: %w", namespace, name, err)
		}
		m.schema = sch
	}

	key := namespace + ":" + name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.methods[key]; exists {
		return fmt.Errorf("gateway: duplicate method %s", key)
	}
	r.methods[key] = m
	return nil
}

// Lookup returns the method registered under the wire name.
func (r *MethodRegistry) Lookup(wireName string) (*customMethod, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.methods[wireName]
	return m, ok
}

// Names returns all registered wire names, sorted.
func (r *MethodRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for k := range r.methods {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// validate checks params against the method's schema, if any.
func (m *customMethod) validate(params json.RawMessage) error {
	if m.schema == nil {
		return nil
	}
	if len(params) == 0 {
		params = json.RawMessage(`{}`)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(params))
	if err != nil {
		return Errorf(CodeInvalidParams, "params are not valid JSON: %v", err)
	}
	if err := m.schema.Validate(value); err != nil {
		return Errorf(CodeInvalidParams, "%v", err)
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	compiler := jsonschema.NewCompiler()
	url := "method://" + name + ".json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}
