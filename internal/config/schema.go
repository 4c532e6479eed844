// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for agentick.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agenticklabs/agentick/internal/gateway"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir overrides the persistent data directory.
	DataDir string `yaml:"dataDir,omitempty"`

	// Gateway holds the client-facing server settings.
	Gateway gateway.Config `yaml:"gateway"`

	// Apps maps app names to their agent definitions. Session keys
	// address these as "app:session".
	Apps map[string]AppConfig `yaml:"apps"`

	// Sweeper tunes idle-session hibernation.
	Sweeper SweeperConfig `yaml:"sweeper,omitempty"`

	// Tracing enables OTLP trace export when an endpoint is set.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "adapter.anthropic").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// AppConfig is one named agent definition.
type AppConfig struct {
	// Description is surfaced to clients in the connected handshake.
	Description string `yaml:"description,omitempty"`

	// Adapter is the module ID of the model adapter this app runs on,
	// e.g. "adapter.anthropic". Required.
	Adapter string `yaml:"adapter"`

	// SystemPrompt seeds the renderer's system entry.
	SystemPrompt string `yaml:"systemPrompt,omitempty"`

	// Model and MaxTokens override the adapter's configured defaults
	// per render.
	Model     string `yaml:"model,omitempty"`
	MaxTokens int    `yaml:"maxTokens,omitempty"`

	// MaxTicks bounds one execution. Zero means the engine default.
	MaxTicks int `yaml:"maxTicks,omitempty"`

	// MaxToolConcurrency bounds the per-tick tool fan-out. Zero means
	// the engine default.
	MaxToolConcurrency int `yaml:"maxToolConcurrency,omitempty"`

	// EventRetain bounds each session's in-memory event log. Zero means
	// the stream default.
	EventRetain int `yaml:"eventRetain,omitempty"`

	// Pipeline enables outbound delivery of completed assistant output.
	Pipeline *PipelineConfig `yaml:"pipeline,omitempty"`
}

// PipelineConfig attaches an outbound content pipeline to each session
// of an app.
type PipelineConfig struct {
	// Policy is "full", "text-only", or "summarized". Empty means full.
	Policy string `yaml:"policy,omitempty"`

	// Mode is "immediate", "on-idle", or "debounced". Empty means
	// immediate.
	Mode string `yaml:"mode,omitempty"`

	// Debounce is the quiet period under the debounced mode.
	Debounce time.Duration `yaml:"debounce,omitempty"`

	// Webhook is the delivery destination. Required.
	Webhook WebhookConfig `yaml:"webhook"`
}

// WebhookConfig is an outbound webhook destination.
type WebhookConfig struct {
	URL string `yaml:"url"`

	// Secret signs request bodies with HMAC-SHA256 when set.
	Secret string `yaml:"secret,omitempty"`
}

// SweeperConfig tunes the idle-hibernation schedule.
type SweeperConfig struct {
	// Schedule is a five-field cron expression. Empty means every five
	// minutes.
	Schedule string `yaml:"schedule,omitempty"`

	// IdleAfter is the inactivity threshold before hibernation.
	IdleAfter time.Duration `yaml:"idleAfter,omitempty"`

	// Disabled turns the sweeper off entirely.
	Disabled bool `yaml:"disabled,omitempty"`
}

// TracingConfig configures the OTLP/HTTP trace exporter.
type TracingConfig struct {
	// Endpoint is the collector host:port. Empty disables tracing.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure disables TLS towards the collector.
	Insecure bool `yaml:"insecure,omitempty"`
}
