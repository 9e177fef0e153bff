package mc

import (
	"fmt"

	"plegma/internal/ensemble"
	"plegma/internal/model"
)

// StepKind selects a move-proposal strategy.
type StepKind int

const (
	StepFlip StepKind = iota
	StepSwap
	StepExchange
)

func (k StepKind) String() string {
	switch k {
	case StepFlip:
		return "flip"
	case StepSwap:
		return "swap"
	case StepExchange:
		return "exchange"
	default:
		return fmt.Sprintf("StepKind(%d)", int(k))
	}
}

// ParseStepKind maps a configuration name to a step kind.
func ParseStepKind(name string) (StepKind, error) {
	for _, k := range StepKinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown step kind %q (valid: flip, swap, exchange)", name)
}

func StepKinds() []StepKind {
	return []StepKind{StepFlip, StepSwap, StepExchange}
}

// ConservesComposition reports whether the step kind preserves species
// counts on every sublattice.
func (k StepKind) ConservesComposition() bool {
	return k != StepFlip
}

// CheckStepKind verifies that a step kind is legal for an ensemble kind:
// canonical sampling needs composition-conserving moves, semigrand sampling
// needs composition-changing ones.
func CheckStepKind(ens ensemble.Kind, step StepKind) error {
	if ens.ConservesComposition() != step.ConservesComposition() {
		return fmt.Errorf("step kind %q is not valid for a %q ensemble", step, ens)
	}
	return nil
}

// ApplyStep commits a step's flips to the occupancy in order.
func ApplyStep(occ []int, step []model.Flip) {
	for _, f := range step {
		occ[f.Site] = f.Code
	}
}
