package config

import (
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/agenticklabs/agentick/internal/core"
	"github.com/agenticklabs/agentick/internal/gateway"
)

// stubModule is a basic module for testing.
type stubModule struct {
	id string
}

func (m *stubModule) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{
		ID:  core.ModuleID(m.id),
		New: func() core.Module { return &stubModule{id: m.id} },
	}
}

func registerStub(t *testing.T, id string) {
	t.Helper()
	core.RegisterModule(&stubModule{id: id})
}

func validConfig(adapterID string) *Config {
	return &Config{
		Version: "1",
		Apps: map[string]AppConfig{
			"chat": {Adapter: adapterID},
		},
		Modules: map[string]yaml.Node{adapterID: {}},
	}
}

func TestValidate_Valid(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	if err := Validate(validConfig(id)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_MissingVersion(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Version = ""
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for missing version")
	}
	if !strings.Contains(err.Error(), "version") {
		t.Errorf("error should mention version: %v", err)
	}
	if !errors.Is(err, ErrInvalid) {
		t.Error("validation failures must match ErrInvalid")
	}
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Version = "99"
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unsupported version")
	}
	if !strings.Contains(err.Error(), "unsupported") {
		t.Errorf("error should mention unsupported: %v", err)
	}
}

func TestValidate_NoApps(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Apps = nil
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for empty apps")
	}
	if !strings.Contains(err.Error(), "at least one app") {
		t.Errorf("error should mention at least one app: %v", err)
	}
}

func TestValidate_UnknownModule(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Modules["unknown.mod"] = yaml.Node{}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown module")
	}
	if !strings.Contains(err.Error(), "unknown.mod") {
		t.Errorf("error should mention module ID: %v", err)
	}
}

func TestValidate_AppWithoutAdapter(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Apps["bare"] = AppConfig{}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for app without adapter")
	}
	if !strings.Contains(err.Error(), "adapter is required") {
		t.Errorf("error should mention the missing adapter: %v", err)
	}
}

func TestValidate_AppAdapterNotConfigured(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Apps["other"] = AppConfig{Adapter: "adapter.ghost"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unconfigured adapter module")
	}
	if !strings.Contains(err.Error(), "adapter.ghost") {
		t.Errorf("error should name the adapter module: %v", err)
	}
}

func TestValidate_PipelineNeedsWebhookURL(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	ac := cfg.Apps["chat"]
	ac.Pipeline = &PipelineConfig{}
	cfg.Apps["chat"] = ac
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for pipeline without webhook url")
	}
	if !strings.Contains(err.Error(), "webhook url") {
		t.Errorf("error should mention the webhook url: %v", err)
	}
}

func TestValidate_PipelineModeAndPolicy(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	ac := cfg.Apps["chat"]
	ac.Pipeline = &PipelineConfig{
		Policy:  "loud",
		Mode:    "eventually",
		Webhook: WebhookConfig{URL: "https://example.com/hook"},
	}
	cfg.Apps["chat"] = ac
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for unknown policy and mode")
	}
	if !strings.Contains(err.Error(), "loud") || !strings.Contains(err.Error(), "eventually") {
		t.Errorf("error should name both bad values: %v", err)
	}

	ac.Pipeline = &PipelineConfig{
		Policy:  "text-only",
		Mode:    "debounced",
		Webhook: WebhookConfig{URL: "https://example.com/hook"},
	}
	cfg.Apps["chat"] = ac
	if err := Validate(cfg); err != nil {
		t.Fatalf("valid pipeline rejected: %v", err)
	}
}

func TestValidate_DefaultAppMustExist(t *testing.T) {
	id := t.Name() + ".mod"
	registerStub(t, id)
	cfg := validConfig(id)
	cfg.Gateway = gateway.Config{DefaultApp: "nope"}
	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error for dangling defaultApp")
	}
	if !strings.Contains(err.Error(), "defaultApp") {
		t.Errorf("error should mention defaultApp: %v", err)
	}
}
