package ensemble

import (
	"fmt"

	"plegma/internal/model"
	"plegma/internal/processor"
)

// Kind selects a thermodynamic ensemble.
type Kind int

const (
	KindCanonical Kind = iota
	KindSemiGrand
)

func (k Kind) String() string {
	switch k {
	case KindCanonical:
		return "canonical"
	case KindSemiGrand:
		return "semigrand"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind maps a configuration name to an ensemble kind.
func ParseKind(name string) (Kind, error) {
	for _, k := range Kinds() {
		if k.String() == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown ensemble kind %q (valid: canonical, semigrand)", name)
}

func Kinds() []Kind {
	return []Kind{KindCanonical, KindSemiGrand}
}

// ConservesComposition reports whether the ensemble samples at fixed species
// counts, which constrains the step kinds it can run with.
func (k Kind) ConservesComposition() bool {
	return k == KindCanonical
}

// Ensemble binds a processor and a sublattice partition to a thermodynamic
// model. NaturalParameters dotted with a feature vector yields the ensemble
// potential; the feature calls delegate to the processor and may append
// ensemble-specific terms. Feature calls never mutate the occupancy.
type Ensemble interface {
	Kind() Kind
	NaturalParameters() []float64
	ComputeFeatureVector(occ []int) ([]float64, error)
	ComputeFeatureVectorChange(occ []int, step []model.Flip) ([]float64, error)
	Processor() *processor.Processor
	Sublattices() []*Sublattice
	ActiveSublattices() []*Sublattice
	RestrictSites(sites []int)
	ResetRestrictedSites()
}

// activeSublattices filters to the sublattices that can contribute moves.
func activeSublattices(sublattices []*Sublattice) []*Sublattice {
	var out []*Sublattice
	for _, sl := range sublattices {
		if sl.SiteSpace().Len() >= 2 {
			out = append(out, sl)
		}
	}
	return out
}

func restrictAll(sublattices []*Sublattice, sites []int) {
	for _, sl := range sublattices {
		sl.Restrict(sites)
	}
}

func resetAll(sublattices []*Sublattice) {
	for _, sl := range sublattices {
		sl.Reset()
	}
}
