// Package app provides the shared entry point for the agentick binary:
// configuration loading, module assembly, and the main signal loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/agenticklabs/agentick/internal/config"
	"github.com/agenticklabs/agentick/internal/core"
)

// RunParams configures the main application loop.
type RunParams struct {
	// ConfigPath is an explicit path to the YAML configuration file.
	// If empty, ResolveConfigPath is called automatically.
	ConfigPath string

	// Version, Commit, and Date are injected at build time via ldflags.
	Version string
	Commit  string
	Date    string

	// DataDir overrides the default persistent data directory.
	DataDir string

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, starts all modules and the gateway, and
// blocks until a shutdown signal arrives. SIGHUP triggers a live
// configuration reload for modules that implement core.Reloader.
func Run(params RunParams) error {
	cfgPath := params.ConfigPath
	if cfgPath == "" {
		resolved, err := ResolveConfigPath()
		if err != nil {
			return errors.Join(config.ErrInvalid, err)
		}
		cfgPath = resolved
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return errors.Join(config.ErrInvalid, err)
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	dataDir := params.DataDir
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	if cfg.Tracing.Endpoint != "" {
		shutdown, err := setupTracing(context.Background(), cfg.Tracing, params.Version)
		if err != nil {
			return err
		}
		defer func() { _ = shutdown(context.Background()) }()
		logger.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint)
	}

	appCtx := core.NewAppContext(logger, dataDir)
	appCtx = appCtx.WithModuleConfigs(cfg.Modules)
	appCtx.RegisterService("config.path", cfgPath)

	runtime := core.NewRuntime(appCtx)
	if err := runtime.LoadModules(config.Resolve(cfg)); err != nil {
		return err
	}

	// Assemble the app registry, gateway, transports, and sweeper from
	// the loaded modules. Must run between LoadModules and Start.
	if err := wireGateway(runtime, appCtx, cfg, logger); err != nil {
		return err
	}

	if err := runtime.Start(); err != nil {
		return err
	}
	logger.Info("agentick started", "version", params.Version, "config", cfgPath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	for {
		sig := <-sigCh
		switch sig {
		case syscall.SIGHUP:
			logger.Info("SIGHUP received, reloading configuration")
			if err := reload(runtime, appCtx, cfgPath, logger); err != nil {
				logger.Error("reload failed", "error", err)
			}
		default:
			logger.Info("shutdown signal received", "signal", sig.String())
			runtime.Stop()
			logger.Info("shutdown complete")
			return nil
		}
	}
}

// reload re-reads the config file and hands the fresh module sections to
// every Reloader. Structural failures leave the running set untouched.
func reload(runtime *core.Runtime, appCtx *core.AppContext, cfgPath string, logger *slog.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}
	reloadCtx := appCtx.WithModuleConfigs(cfg.Modules)
	if err := runtime.ReloadModules(reloadCtx); err != nil {
		return err
	}
	logger.Info("configuration reloaded")
	return nil
}

// ResolveConfigPath searches for a config file in standard locations.
// Search order: $XDG_CONFIG_HOME/agentick/agentick.yaml →
// ~/.config/agentick/agentick.yaml → ./agentick.yaml
func ResolveConfigPath() (string, error) {
	var candidates []string

	if xdg, ok := os.LookupEnv("XDG_CONFIG_HOME"); ok {
		candidates = append(candidates, filepath.Join(xdg, "agentick", "agentick.yaml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "agentick", "agentick.yaml"))
	}

	candidates = append(candidates, "agentick.yaml")

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no configuration file found (searched: %v)", candidates)
}

// DefaultDataDir returns the default persistent data directory.
// Uses $XDG_DATA_HOME/agentick if set, otherwise ~/.local/share/agentick
// per the XDG spec.
func DefaultDataDir() string {
	if dir, ok := os.LookupEnv("XDG_DATA_HOME"); ok {
		return filepath.Join(dir, "agentick")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "agentick")
}
