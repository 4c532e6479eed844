// Package openai implements the adapter.openai module, bridging the
// session engine to the OpenAI Chat Completions API.
package openai

import (
	"errors"
	"log/slog"
	"os"

	sdkopenai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"gopkg.in/yaml.v3"

	"github.com/agenticklabs/agentick/internal/adapter"
	"github.com/agenticklabs/agentick/internal/core"
)

func init() {
	core.RegisterModule(&OpenAI{})
}

// Interface guards.
var (
	_ core.Module       = (*OpenAI)(nil)
	_ core.Configurable = (*OpenAI)(nil)
	_ core.Provisioner  = (*OpenAI)(nil)
	_ core.Validator    = (*OpenAI)(nil)
	_ adapter.Adapter   = (*OpenAI)(nil)
)

// OpenAI is the adapter.openai module. It implements adapter.Adapter
// against the Chat Completions API.
type OpenAI struct {
	config Config
	client *sdkopenai.Client
	logger *slog.Logger
}

// ModuleInfo implements core.Module.
func (o *OpenAI) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  "adapter.openai",
		New: func() core.Module { return &OpenAI{} },
	}
}

// Configure implements core.Configurable.
func (o *OpenAI) Configure(node *yaml.Node) error {
	if err := node.Decode(&o.config); err != nil {
		return err
	}
	o.config.defaults()
	return nil
}

// Provision implements core.Provisioner.
func (o *OpenAI) Provision(ctx *core.AppContext) error {
	o.logger = ctx.Logger

	apiKey := o.config.APIKey
	if apiKey == "" {
		if envKey, ok := os.LookupEnv("OPENAI_API_KEY"); ok {
			apiKey = envKey
		}
	}

	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if o.config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(o.config.BaseURL))
	}
	opts = append(opts, option.WithMaxRetries(0))

	client := sdkopenai.NewClient(opts...)
	o.client = &client

	ctx.RegisterService("adapter.openai", adapter.Adapter(o))
	return nil
}

// Validate implements core.Validator.
func (o *OpenAI) Validate() error {
	if o.config.Model == "" {
		return errors.New("adapter.openai: model must not be empty")
	}
	if o.client == nil {
		return errors.New("adapter.openai: client not initialized (Provision not called)")
	}
	return nil
}

// Metadata implements adapter.Adapter.
func (o *OpenAI) Metadata() adapter.Metadata {
	return adapter.Metadata{
		ID:           "openai",
		Provider:     "openai",
		Model:        o.config.Model,
		Kind:         adapter.KindLanguage,
		Capabilities: []string{"streaming", "tools"},
	}
}
