package config

import (
	"errors"
	"fmt"

	"github.com/agenticklabs/agentick/internal/core"
)

// ErrInvalid marks structural configuration failures. Callers decide the
// exit path with errors.Is.
var ErrInvalid = errors.New("config: invalid configuration")

// Validate checks the structural validity of a Config: the version
// field, that every configured module ID exists in the registry, and
// that every app references a configured adapter module.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	for id := range cfg.Modules {
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	if len(cfg.Apps) == 0 {
		errs = append(errs, errors.New("config: at least one app must be configured"))
	}
	for name, ac := range cfg.Apps {
		if name == "" {
			errs = append(errs, errors.New("config: app name must not be empty"))
			continue
		}
		if ac.Adapter == "" {
			errs = append(errs, fmt.Errorf("config: app %q: adapter is required", name))
			continue
		}
		if _, ok := cfg.Modules[ac.Adapter]; !ok {
			errs = append(errs, fmt.Errorf("config: app %q: adapter module %q is not configured", name, ac.Adapter))
		}
		if p := ac.Pipeline; p != nil {
			if p.Webhook.URL == "" {
				errs = append(errs, fmt.Errorf("config: app %q: pipeline requires a webhook url", name))
			}
			switch p.Policy {
			case "", "full", "text-only", "summarized":
			default:
				errs = append(errs, fmt.Errorf("config: app %q: unknown pipeline policy %q", name, p.Policy))
			}
			switch p.Mode {
			case "", "immediate", "on-idle", "debounced":
			default:
				errs = append(errs, fmt.Errorf("config: app %q: unknown pipeline mode %q", name, p.Mode))
			}
		}
	}

	if def := cfg.Gateway.DefaultApp; def != "" {
		if _, ok := cfg.Apps[def]; !ok {
			errs = append(errs, fmt.Errorf("config: defaultApp %q is not a configured app", def))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalid}, errs...)...)
}
