// Package core provides the module system the agentick daemon is
// assembled from: a registry of module factories, a shared AppContext
// with cross-module service discovery, and ordered lifecycle management.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"
)

const shutdownTimeout = 30 * time.Second

// Runtime manages the lifecycle of a set of modules.
type Runtime struct {
	ctx     *AppContext
	modules []moduleInstance
	logger  *slog.Logger
}

type moduleInstance struct {
	id      ModuleID
	module  Module
	started bool
}

// NewRuntime creates a Runtime over the given context.
func NewRuntime(ctx *AppContext) *Runtime {
	return &Runtime{
		ctx:    ctx,
		logger: ctx.Logger.With("component", "core"),
	}
}

// LoadModules instantiates, configures, provisions, and validates the
// modules for the given ids in order. On failure, already-loaded modules
// are cleaned up.
func (r *Runtime) LoadModules(ids []string) error {
	for _, id := range ids {
		mod, err := r.ctx.LoadModule(id)
		if err != nil {
			r.cleanup()
			return fmt.Errorf("loading module %s: %w", id, err)
		}
		info := mod.ModuleInfo()
		r.modules = append(r.modules, moduleInstance{
			id:     info.ID,
			module: mod,
		})
		r.logger.Info("module loaded", "module", string(info.ID))
	}
	return nil
}

// AppendModule adds an already-built module to the end of the lifecycle.
// Used for components assembled in code rather than from configuration.
func (r *Runtime) AppendModule(id string, mod Module) {
	r.modules = append(r.modules, moduleInstance{
		id:     ModuleID(id),
		module: mod,
	})
}

// Module returns a loaded module by id.
func (r *Runtime) Module(id string) (Module, bool) {
	for i := range r.modules {
		if string(r.modules[i].id) == id {
			return r.modules[i].module, true
		}
	}
	return nil, false
}

// Start starts all loaded modules that implement Starter, in load order.
// If any Start fails, already-started modules are stopped in reverse.
func (r *Runtime) Start() error {
	for i := range r.modules {
		mi := &r.modules[i]
		s, ok := mi.module.(Starter)
		if !ok {
			continue
		}
		r.logger.Info("starting module", "module", string(mi.id))
		if err := s.Start(); err != nil {
			r.logger.Error("module start failed", "module", string(mi.id), "error", err)
			r.stopModules(i - 1)
			return fmt.Errorf("starting module %s: %w", mi.id, err)
		}
		mi.started = true
	}
	r.logger.Info("all modules started")
	return nil
}

// Stop stops all started modules in reverse order with a timeout.
func (r *Runtime) Stop() {
	r.stopModules(len(r.modules) - 1)
}

func (r *Runtime) stopModules(fromIndex int) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := fromIndex; i >= 0; i-- {
		mi := &r.modules[i]
		if !mi.started {
			continue
		}
		if s, ok := mi.module.(Stopper); ok {
			r.logger.Info("stopping module", "module", string(mi.id))
			if err := s.Stop(ctx); err != nil {
				r.logger.Error("module stop error", "module", string(mi.id), "error", err)
			}
		}
		mi.started = false
	}
}

func (r *Runtime) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for i := len(r.modules) - 1; i >= 0; i-- {
		mi := &r.modules[i]
		if s, ok := mi.module.(Stopper); ok {
			_ = s.Stop(ctx)
		}
	}
	r.modules = nil
}

// ReloadModules calls Reload on every loaded module that implements
// Reloader. Failures are joined; modules that reloaded stay reloaded.
func (r *Runtime) ReloadModules(ctx *AppContext) error {
	var errs []error
	for i := range r.modules {
		mi := &r.modules[i]
		rl, ok := mi.module.(Reloader)
		if !ok {
			continue
		}
		moduleCtx := ctx.ForModule(mi.id)
		r.logger.Info("reloading module", "module", string(mi.id))
		if err := rl.Reload(moduleCtx); err != nil {
			r.logger.Error("module reload failed", "module", string(mi.id), "error", err)
			errs = append(errs, fmt.Errorf("reloading module %s: %w", mi.id, err))
		}
	}
	return errors.Join(errs...)
}

// Run starts all modules and blocks until a shutdown signal arrives.
func (r *Runtime) Run() error {
	if err := r.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	r.logger.Info("shutdown signal received", "signal", sig.String())

	r.Stop()
	r.logger.Info("shutdown complete")
	return nil
}
