package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SummarizeFunc renders one tool invocation as a short line of text.
type SummarizeFunc func(name string, input json.RawMessage) string

// Summarizer turns tool_use blocks into human-readable summaries.
// Built-in summaries cover common tools (file read/write/edit, shell,
// glob/grep); overrides are matched by tool name, case-insensitive.
type Summarizer struct {
	custom map[string]SummarizeFunc
}

// NewSummarizer creates a Summarizer with only the built-in summaries.
func NewSummarizer() *Summarizer {
	return &Summarizer{custom: make(map[string]SummarizeFunc)}
}

// Override installs a custom summary for a tool name.
func (s *Summarizer) Override(name string, fn SummarizeFunc) {
	s.custom[strings.ToLower(name)] = fn
}

// Summarize renders one tool call.
func (s *Summarizer) Summarize(name string, input json.RawMessage) string {
	lower := strings.ToLower(name)
	if fn, ok := s.custom[lower]; ok {
		return fn(name, input)
	}

	args := decodeArgs(input)
	switch lower {
	case "read", "read_file", "file_read", "cat":
		return "Read " + pathOf(args)
	case "write", "write_file", "file_write":
		return "Wrote " + pathOf(args)
	case "edit", "edit_file", "file_edit":
		return "Edited " + pathOf(args)
	case "shell", "bash", "exec", "run":
		if cmd := stringArg(args, "command", "cmd", "script"); cmd != "" {
			return "Ran `" + cmd + "`"
		}
		return "Ran a shell command"
	case "glob", "grep", "search", "find":
		if pat := stringArg(args, "pattern", "query", "glob"); pat != "" {
			return "Searched for `" + pat + "`"
		}
		return "Searched files"
	default:
		return fmt.Sprintf("Used tool %s", name)
	}
}

var defaultSummarizer = NewSummarizer()

func decodeArgs(input json.RawMessage) map[string]any {
	var args map[string]any
	if len(input) > 0 {
		_ = json.Unmarshal(input, &args)
	}
	return args
}

func pathOf(args map[string]any) string {
	if p := stringArg(args, "path", "file", "file_path", "filename"); p != "" {
		return p
	}
	return "a file"
}

func stringArg(args map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := args[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
