package core

// ModuleID uniquely identifies a module, namespaced by dots, e.g.
// "adapter.anthropic" or "store.sqlite".
type ModuleID string

// Namespace returns the part of the ID before the first dot.
func (id ModuleID) Namespace() string {
	for i := 0; i < len(id); i++ {
		if id[i] == '.' {
			return string(id[:i])
		}
	}
	return string(id)
}

// ModuleInfo describes a registered module: its identity and a factory
// producing fresh instances.
type ModuleInfo struct {
	ID  ModuleID
	New func() Module
}

// Module is the minimal module contract. Optional lifecycle behavior is
// expressed through the interfaces in lifecycle.go.
type Module interface {
	ModuleInfo() ModuleInfo
}
