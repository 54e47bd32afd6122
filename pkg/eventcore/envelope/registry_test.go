package envelope_test

import (
	"sort"
	"testing"

	"github.com/tusquake/eventcore/pkg/eventcore/envelope"
)

func TestRegistry(t *testing.T) {
	reg := envelope.NewRegistry()

	err := reg.Register(&envelope.TypeDef{
		Name:    "patient.created",
		Version: envelope.SchemaVersionCurrent,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reg.Known("patient.created") {
		t.Error("expected patient.created to be known")
	}
	if reg.Known("patient.deleted") {
		t.Error("expected patient.deleted to be unknown")
	}

	def, ok := reg.Get("patient.created")
	if !ok {
		t.Fatal("expected definition for patient.created")
	}
	if def.Version != envelope.SchemaVersionCurrent {
		t.Errorf("expected version %d, got %d", envelope.SchemaVersionCurrent, def.Version)
	}
}

func TestRegistryValidation(t *testing.T) {
	reg := envelope.NewRegistry()

	if err := reg.Register(&envelope.TypeDef{Version: 1}); err == nil {
		t.Error("expected error for empty name")
	}
	if err := reg.Register(&envelope.TypeDef{Name: "x", Version: 0}); err == nil {
		t.Error("expected error for zero version")
	}
}

func TestRegistryReplace(t *testing.T) {
	reg := envelope.NewRegistry()
	reg.MustRegister(&envelope.TypeDef{Name: "patient.updated", Version: 1})
	reg.MustRegister(&envelope.TypeDef{Name: "patient.updated", Version: 2})

	def, _ := reg.Get("patient.updated")
	if def.Version != 2 {
		t.Errorf("expected replacement to win, got version %d", def.Version)
	}
}

func TestRegistryTypes(t *testing.T) {
	reg := envelope.NewRegistry()
	reg.MustRegister(&envelope.TypeDef{Name: "a", Version: 1})
	reg.MustRegister(&envelope.TypeDef{Name: "b", Version: 1})

	names := reg.Types()
	sort.Strings(names)
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("expected [a b], got %v", names)
	}
}

func TestAcceptsVersion(t *testing.T) {
	def := &envelope.TypeDef{
		Name:       "patient.created",
		Version:    2,
		Compatible: []int{1},
	}

	if !def.AcceptsVersion(2) {
		t.Error("expected current version to be accepted")
	}
	if !def.AcceptsVersion(1) {
		t.Error("expected compatible version to be accepted")
	}
	if def.AcceptsVersion(3) {
		t.Error("expected unknown version to be rejected")
	}
}
