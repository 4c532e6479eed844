package core

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	modules   = make(map[string]ModuleInfo)
	modulesMu sync.RWMutex
)

// RegisterModule registers a module factory, reading its ModuleInfo from
// the given instance. Intended to be called from init functions; panics
// on duplicate or invalid registrations.
func RegisterModule(instance Module) {
	info := instance.ModuleInfo()
	if info.ID == "" {
		panic("module ID must not be empty")
	}
	if !validModuleID(string(info.ID)) {
		panic(fmt.Sprintf("invalid module ID %q: want dot-separated segments of letters, digits, _ or -", info.ID))
	}
	if info.New == nil {
		panic(fmt.Sprintf("module %s: New function must not be nil", info.ID))
	}

	modulesMu.Lock()
	defer modulesMu.Unlock()

	id := string(info.ID)
	if _, exists := modules[id]; exists {
		panic(fmt.Sprintf("module already registered: %s", id))
	}
	modules[id] = info
}

// validModuleID reports whether id is one or more non-empty dot-separated
// segments of letters, digits, underscores, and hyphens.
func validModuleID(id string) bool {
	for _, seg := range strings.Split(id, ".") {
		if seg == "" {
			return false
		}
		for i := 0; i < len(seg); i++ {
			switch c := seg[i]; {
			case c >= 'a' && c <= 'z':
			case c >= 'A' && c <= 'Z':
			case c >= '0' && c <= '9':
			case c == '_' || c == '-':
			default:
				return false
			}
		}
	}
	return true
}

// GetModule returns the ModuleInfo for the given id.
func GetModule(id string) (ModuleInfo, bool) {
	modulesMu.RLock()
	defer modulesMu.RUnlock()
	info, ok := modules[id]
	return info, ok
}

// GetModules returns all registered modules sorted by id.
func GetModules() []ModuleInfo {
	return collect(func(string) bool { return true })
}

// GetModulesByNamespace returns the modules whose id starts with the
// given namespace prefix, e.g. "adapter" matches "adapter.anthropic" and
// "adapter.openai".
func GetModulesByNamespace(namespace string) []ModuleInfo {
	prefix := namespace + "."
	return collect(func(id string) bool { return strings.HasPrefix(id, prefix) })
}

// Namespaces returns the distinct first ID segments of all registered
// modules, sorted. An ID without a dot contributes itself.
func Namespaces() []string {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	seen := make(map[string]struct{})
	for id := range modules {
		ns, _, _ := strings.Cut(id, ".")
		seen[ns] = struct{}{}
	}
	result := make([]string, 0, len(seen))
	for ns := range seen {
		result = append(result, ns)
	}
	slices.Sort(result)
	return result
}

func collect(match func(id string) bool) []ModuleInfo {
	modulesMu.RLock()
	defer modulesMu.RUnlock()

	var result []ModuleInfo
	for id, info := range modules {
		if match(id) {
			result = append(result, info)
		}
	}
	slices.SortFunc(result, func(a, b ModuleInfo) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return result
}

// resetRegistry clears the registry. Only for testing.
func resetRegistry() {
	modulesMu.Lock()
	defer modulesMu.Unlock()
	modules = make(map[string]ModuleInfo)
}
