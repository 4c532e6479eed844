package config

import (
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file, expands ${VAR} and
// ${VAR:-default} references, and decodes it strictly: unknown keys are
// rejected so a typoed field fails at startup instead of being silently
// dropped.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: %s is empty", path)
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// expandEnv replaces ${VAR} and ${VAR:-default} references in raw YAML.
// Unresolved references are collected and reported together, so a broken
// deployment surfaces every missing variable in one pass. Text that only
// looks like a reference (empty or invalid variable name) passes through
// untouched.
func expandEnv(raw []byte) ([]byte, error) {
	var (
		out  bytes.Buffer
		errs []error
	)
	for {
		i := bytes.Index(raw, []byte("${"))
		if i < 0 {
			out.Write(raw)
			break
		}
		out.Write(raw[:i])
		raw = raw[i:]

		end := bytes.IndexByte(raw, '}')
		if end < 0 {
			out.Write(raw)
			break
		}
		expr := string(raw[2:end])
		raw = raw[end+1:]

		name, def, hasDefault := strings.Cut(expr, ":-")
		if !validEnvName(name) {
			out.WriteString("${")
			out.WriteString(expr)
			out.WriteByte('}')
			continue
		}
		if value, ok := os.LookupEnv(name); ok {
			out.WriteString(value)
			continue
		}
		if hasDefault {
			out.WriteString(def)
			continue
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
	}
	return out.Bytes(), errors.Join(errs...)
}

func validEnvName(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '_':
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// Resolve returns the configured module IDs in load order: stores
// first (adapters and tools may persist through them), then adapters,
// then everything else, alphabetical within each group.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		if c := cmp.Compare(loadGroup(a), loadGroup(b)); c != 0 {
			return c
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func loadGroup(id string) int {
	switch {
	case strings.HasPrefix(id, "store."):
		return 0
	case strings.HasPrefix(id, "adapter."):
		return 1
	default:
		return 2
	}
}
