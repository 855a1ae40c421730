package pipeline

import (
	"strings"
	"testing"

	errs "github.com/sweetpotato0/partirag/errors"
)

func TestRegistryUnknownPreset(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	_, err := r.Get("no_such_preset", Context{Spec: &Specification{}})
	if !errs.Is(err, errs.ErrUnknownPreset) {
		t.Fatalf("error = %v, want ErrUnknownPreset", err)
	}
	// The error names the known presets to aid debugging.
	if !strings.Contains(err.Error(), PresetAnonymizedPlan) {
		t.Errorf("error %q does not list known presets", err.Error())
	}
}

func TestRegistryLastRegistrationWins(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	called := false
	r.Register(PresetAnonymizedPlan, func(pc Context) Step {
		called = true
		return NewPlanStep(nil, pc.Query, false, 1)
	})

	step, err := r.Get(PresetAnonymizedPlan, Context{Query: "q", Spec: &Specification{}})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !called {
		t.Error("overriding factory was not used")
	}
	if step.Name() != StagePlan {
		t.Errorf("step name = %q", step.Name())
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)

	names := r.List()
	if len(names) != 4 {
		t.Fatalf("got %d presets, want 4", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] >= names[i] {
			t.Errorf("names not sorted: %v", names)
		}
	}
}

func TestRegistryBuildsFreshInstances(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	spec := DefaultSpecification(venstreQuestion)
	pc := Context{Query: venstreQuestion, Spec: &spec}

	a, err := r.Get(PresetAnonymizedPlan, pc)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	b, err := r.Get(PresetAnonymizedPlan, pc)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if a == b {
		t.Error("factory returned a shared instance")
	}
}
