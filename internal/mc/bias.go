package mc

import (
	"fmt"

	"plegma/internal/ensemble"
	"plegma/internal/model"
)

// BiasKind selects an artificial bias potential added to the acceptance
// exponent. Biases shape sampling and never enter the physical energy.
type BiasKind int

const (
	BiasNone BiasKind = iota
	BiasSquareComposition
)

func (k BiasKind) String() string {
	switch k {
	case BiasNone:
		return "none"
	case BiasSquareComposition:
		return "square_composition"
	default:
		return fmt.Sprintf("BiasKind(%d)", int(k))
	}
}

// ParseBiasKind maps a configuration name to a bias kind.
func ParseBiasKind(name string) (BiasKind, error) {
	for _, k := range BiasKinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown bias kind %q (valid: none, square_composition)", name)
}

func BiasKinds() []BiasKind {
	return []BiasKind{BiasNone, BiasSquareComposition}
}

// Bias contributes an additive term to the acceptance exponent. The change is
// value(after) - value(before) for a step; it is not scaled by the inverse
// temperature. ComputeBiasChange never mutates the occupancy.
type Bias interface {
	Kind() BiasKind
	Value(occ []int) (float64, error)
	ComputeBiasChange(occ []int, step []model.Flip) (float64, error)
}

// BiasConfig carries the parameters of the non-trivial bias kinds.
type BiasConfig struct {
	Composition *ensemble.CompositionTable
	Targets     []float64
	Lambda      float64
}

// NewBias builds a bias of the given kind. BiasNone ignores the config.
func NewBias(kind BiasKind, cfg BiasConfig) (Bias, error) {
	switch kind {
	case BiasNone:
		return NoBias{}, nil
	case BiasSquareComposition:
		return newSquareComposition(cfg)
	default:
		return nil, fmt.Errorf("unknown bias kind %q", kind)
	}
}

// NoBias is the zero bias.
type NoBias struct{}

func (NoBias) Kind() BiasKind {
	return BiasNone
}

func (NoBias) Value([]int) (float64, error) {
	return 0, nil
}

func (NoBias) ComputeBiasChange([]int, []model.Flip) (float64, error) {
	return 0, nil
}

// SquareComposition penalizes deviation from target species fractions:
// value = -lambda * sum_d (n_d/N_d - target_d)^2 over the count dimensions,
// with N_d the site count of dimension d's sublattice. The change under a
// step is computed from count deltas, so the after state is never recounted.
type SquareComposition struct {
	comp    *ensemble.CompositionTable
	targets []float64
	lambda  float64
	sizes   []float64
}

func newSquareComposition(cfg BiasConfig) (*SquareComposition, error) {
	if cfg.Composition == nil {
		return nil, fmt.Errorf("square composition bias requires a composition table")
	}
	if len(cfg.Targets) != cfg.Composition.NumDims() {
		return nil, fmt.Errorf("%d bias targets for %d count dimensions",
			len(cfg.Targets), cfg.Composition.NumDims())
	}
	for d, target := range cfg.Targets {
		if target < 0 || target > 1 {
			return nil, fmt.Errorf("bias target %d is %v, want within [0, 1]", d, target)
		}
	}
	if cfg.Lambda < 0 {
		return nil, fmt.Errorf("bias lambda is %v, want >= 0", cfg.Lambda)
	}
	sizes := make([]float64, cfg.Composition.NumDims())
	for d, n := range cfg.Composition.SublatticeSizes() {
		sizes[d] = float64(n)
	}
	targets := make([]float64, len(cfg.Targets))
	copy(targets, cfg.Targets)
	return &SquareComposition{
		comp:    cfg.Composition,
		targets: targets,
		lambda:  cfg.Lambda,
		sizes:   sizes,
	}, nil
}

func (b *SquareComposition) Kind() BiasKind {
	return BiasSquareComposition
}

func (b *SquareComposition) Value(occ []int) (float64, error) {
	counts, err := b.comp.Counts(occ)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for d, n := range counts {
		dev := n/b.sizes[d] - b.targets[d]
		total += dev * dev
	}
	return -b.lambda * total, nil
}

func (b *SquareComposition) ComputeBiasChange(occ []int, step []model.Flip) (float64, error) {
	dn, err := b.comp.DeltaCounts(step, occ)
	if err != nil {
		return 0, err
	}
	counts, err := b.comp.Counts(occ)
	if err != nil {
		return 0, err
	}
	change := 0.0
	for d, delta := range dn {
		if delta == 0 {
			continue
		}
		before := counts[d]/b.sizes[d] - b.targets[d]
		after := (counts[d]+delta)/b.sizes[d] - b.targets[d]
		change += after*after - before*before
	}
	return -b.lambda * change, nil
}
