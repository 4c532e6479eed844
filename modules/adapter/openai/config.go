package openai

import "time"

// defaultModel is the model used when none is specified.
const defaultModel = "gpt-4o"

// defaultTimeout bounds the initial connection phase of a request.
const defaultTimeout = 30 * time.Second

// Config holds the YAML-decoded configuration for the OpenAI adapter.
type Config struct {
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`
	BaseURL   string        `yaml:"base_url"`
	MaxTokens int           `yaml:"max_tokens"`
	Timeout   time.Duration `yaml:"timeout"`
}

// defaults fills in zero-value fields.
func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 4096
	}
	if c.Timeout == 0 {
		c.Timeout = defaultTimeout
	}
}
