package mc

import (
	"testing"

	"plegma/internal/ensemble"
	"plegma/internal/model"
)

func TestStepKindParsing(t *testing.T) {
	for _, k := range StepKinds() {
		parsed, err := ParseStepKind(k.String())
		if err != nil {
			t.Fatalf("parse %q: %v", k, err)
		}
		if parsed != k {
			t.Fatalf("parse %q = %v", k, parsed)
		}
	}
	if _, err := ParseStepKind("teleport"); err == nil {
		t.Fatal("expected error for an unknown step name")
	}
	for _, k := range KernelKinds() {
		parsed, err := ParseKernelKind(k.String())
		if err != nil {
			t.Fatalf("parse %q: %v", k, err)
		}
		if parsed != k {
			t.Fatalf("parse %q = %v", k, parsed)
		}
	}
	if _, err := ParseKernelKind("glauber"); err == nil {
		t.Fatal("expected error for an unknown kernel name")
	}
}

func TestCheckStepKind(t *testing.T) {
	cases := []struct {
		ens  ensemble.Kind
		step StepKind
		ok   bool
	}{
		{ensemble.KindCanonical, StepFlip, false},
		{ensemble.KindCanonical, StepSwap, true},
		{ensemble.KindCanonical, StepExchange, true},
		{ensemble.KindSemiGrand, StepFlip, true},
		{ensemble.KindSemiGrand, StepSwap, false},
		{ensemble.KindSemiGrand, StepExchange, false},
	}
	for _, c := range cases {
		err := CheckStepKind(c.ens, c.step)
		if c.ok && err != nil {
			t.Fatalf("%v ensemble with %v steps: %v, want ok", c.ens, c.step, err)
		}
		if !c.ok && err == nil {
			t.Fatalf("%v ensemble with %v steps accepted, want error", c.ens, c.step)
		}
	}
}

func TestApplyStep(t *testing.T) {
	occ := []int{0, 1, 2}
	ApplyStep(occ, []model.Flip{{Site: 0, Code: 2}, {Site: 2, Code: 0}})
	if !equalInts(occ, []int{2, 1, 0}) {
		t.Fatalf("occupancy = %v, want [2 1 0]", occ)
	}
	// later flips win on the same site
	ApplyStep(occ, []model.Flip{{Site: 1, Code: 0}, {Site: 1, Code: 2}})
	if occ[1] != 2 {
		t.Fatalf("occupancy[1] = %d, want the last flip's code 2", occ[1])
	}
}
