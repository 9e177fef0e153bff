package ensemble

import (
	"fmt"
	"sort"

	"plegma/internal/model"
	"plegma/internal/processor"
)

// SemiGrand samples at fixed chemical potentials with varying composition.
// The feature vector is the processor's with one species count appended per
// count dimension, and the natural parameters append the negated chemical
// potentials, so the potential is E - sum(mu * n).
type SemiGrand struct {
	proc   *processor.Processor
	subs   []*Sublattice
	active []*Sublattice
	comp   *CompositionTable
	mu     []float64
	params []float64
}

// NewSemiGrand builds a semigrand ensemble. chemicalPotentials must name
// every species appearing on a multi-species sublattice and nothing else.
func NewSemiGrand(proc *processor.Processor, sublattices []*Sublattice, chemicalPotentials map[string]float64) (*SemiGrand, error) {
	if proc == nil {
		return nil, fmt.Errorf("semigrand ensemble requires a processor")
	}
	if err := ValidatePartition(sublattices, proc.NumSites()); err != nil {
		return nil, fmt.Errorf("semigrand ensemble: %w", err)
	}
	active := activeSublattices(sublattices)
	if len(active) == 0 {
		return nil, fmt.Errorf("semigrand ensemble requires at least one multi-species sublattice")
	}
	comp, err := NewCompositionTable(active, proc.NumSites())
	if err != nil {
		return nil, fmt.Errorf("semigrand ensemble: %w", err)
	}

	required := make(map[string]struct{})
	for _, name := range comp.SpeciesNames() {
		required[name] = struct{}{}
	}
	for name := range chemicalPotentials {
		if _, ok := required[name]; !ok {
			return nil, fmt.Errorf("chemical potential given for %q, which is on no multi-species sublattice", name)
		}
	}
	var missing []string
	for name := range required {
		if _, ok := chemicalPotentials[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("missing chemical potentials for species %v", missing)
	}

	mu := make([]float64, comp.NumDims())
	for d, name := range comp.SpeciesNames() {
		mu[d] = chemicalPotentials[name]
	}
	coefs := proc.Coefficients()
	params := make([]float64, 0, len(coefs)+len(mu))
	params = append(params, coefs...)
	for _, m := range mu {
		params = append(params, -m)
	}
	return &SemiGrand{
		proc:   proc,
		subs:   sublattices,
		active: active,
		comp:   comp,
		mu:     mu,
		params: params,
	}, nil
}

func (e *SemiGrand) Kind() Kind {
	return KindSemiGrand
}

func (e *SemiGrand) NaturalParameters() []float64 {
	out := make([]float64, len(e.params))
	copy(out, e.params)
	return out
}

func (e *SemiGrand) ComputeFeatureVector(occ []int) ([]float64, error) {
	features, err := e.proc.FeatureVector(occ)
	if err != nil {
		return nil, err
	}
	counts, err := e.comp.Counts(occ)
	if err != nil {
		return nil, err
	}
	return append(features, counts...), nil
}

func (e *SemiGrand) ComputeFeatureVectorChange(occ []int, step []model.Flip) ([]float64, error) {
	delta, err := e.proc.DeltaFeatureVector(step, occ)
	if err != nil {
		return nil, err
	}
	dn, err := e.comp.DeltaCounts(step, occ)
	if err != nil {
		return nil, err
	}
	return append(delta, dn...), nil
}

func (e *SemiGrand) Processor() *processor.Processor {
	return e.proc
}

func (e *SemiGrand) Sublattices() []*Sublattice {
	return e.subs
}

// ActiveSublattices returns the multi-species sublattices tracked by the
// count dimensions, fixed at construction.
func (e *SemiGrand) ActiveSublattices() []*Sublattice {
	return e.active
}

// Composition exposes the count dimension table shared with biases.
func (e *SemiGrand) Composition() *CompositionTable {
	return e.comp
}

// ChemicalPotentials returns the potential per count dimension.
func (e *SemiGrand) ChemicalPotentials() []float64 {
	out := make([]float64, len(e.mu))
	copy(out, e.mu)
	return out
}

func (e *SemiGrand) RestrictSites(sites []int) {
	restrictAll(e.subs, sites)
}

func (e *SemiGrand) ResetRestrictedSites() {
	resetAll(e.subs)
}
