package core

import (
	"context"

	"gopkg.in/yaml.v3"
)

// Configurable is implemented by modules that accept YAML configuration.
// Configure runs after instantiation and before Provision; the node holds
// the raw YAML of the module's config section.
type Configurable interface {
	Configure(node *yaml.Node) error
}

// Provisioner is implemented by modules that need setup after
// instantiation: applying defaults, opening resources, registering
// services on the AppContext.
type Provisioner interface {
	Provision(ctx *AppContext) error
}

// Validator is implemented by modules that can verify their configuration
// is complete. Called after Provision; Validate must be read-only.
type Validator interface {
	Validate() error
}

// Starter is implemented by modules that run background work (listeners,
// goroutines, schedules). Called after every module is provisioned and
// validated.
type Starter interface {
	Start() error
}

// Stopper is implemented by modules that clean up resources. Called
// during shutdown in reverse start order.
type Stopper interface {
	Stop(ctx context.Context) error
}

// Reloader is implemented by modules that support live configuration
// reload.
type Reloader interface {
	Reload(ctx *AppContext) error
}
