package core

import (
	"slices"
	"testing"
)

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s did not panic", name)
		}
	}()
	fn()
}

func TestRegisterModuleRejectsMalformedIDs(t *testing.T) {
	t.Cleanup(resetRegistry)

	for _, id := range []string{".leading", "trailing.", "a..b", "has space", "bad/slash"} {
		mustPanic(t, "RegisterModule("+id+")", func() {
			RegisterModule(&trackingModule{id: ModuleID(id)})
		})
	}
}

func TestRegisterModuleAcceptsDottedIDs(t *testing.T) {
	t.Cleanup(resetRegistry)

	for _, id := range []string{"adapter.anthropic", "store.sqlite", "Mixed_Case.mod-1"} {
		RegisterModule(&trackingModule{id: ModuleID(id)})
		if _, ok := GetModule(id); !ok {
			t.Errorf("GetModule(%q) not found after register", id)
		}
	}
}

func TestRegisterModuleDuplicatePanics(t *testing.T) {
	t.Cleanup(resetRegistry)

	RegisterModule(&trackingModule{id: "test.dup"})
	mustPanic(t, "duplicate RegisterModule", func() {
		RegisterModule(&trackingModule{id: "test.dup"})
	})
}

func TestNamespaces(t *testing.T) {
	t.Cleanup(resetRegistry)

	for _, id := range []string{"adapter.b", "adapter.a", "store.sqlite", "tool.search"} {
		RegisterModule(&trackingModule{id: ModuleID(id)})
	}

	got := Namespaces()
	want := []string{"adapter", "store", "tool"}
	if !slices.Equal(got, want) {
		t.Errorf("Namespaces() = %v, want %v", got, want)
	}
}

func TestGetModulesByNamespaceSorted(t *testing.T) {
	t.Cleanup(resetRegistry)

	for _, id := range []string{"adapter.b", "adapter.a", "store.sqlite"} {
		RegisterModule(&trackingModule{id: ModuleID(id)})
	}

	mods := GetModulesByNamespace("adapter")
	if len(mods) != 2 || mods[0].ID != "adapter.a" || mods[1].ID != "adapter.b" {
		t.Errorf("GetModulesByNamespace(adapter) = %v", mods)
	}
}
