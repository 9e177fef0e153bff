package ensemble

import (
	"fmt"

	"plegma/internal/model"
	"plegma/internal/processor"
)

// Canonical samples at fixed composition. Natural parameters are exactly the
// processor's coefficients and the feature calls are processor pass-throughs,
// so the potential is the expansion energy.
type Canonical struct {
	proc   *processor.Processor
	subs   []*Sublattice
	active []*Sublattice
	params []float64
}

func NewCanonical(proc *processor.Processor, sublattices []*Sublattice) (*Canonical, error) {
	if proc == nil {
		return nil, fmt.Errorf("canonical ensemble requires a processor")
	}
	if err := ValidatePartition(sublattices, proc.NumSites()); err != nil {
		return nil, fmt.Errorf("canonical ensemble: %w", err)
	}
	return &Canonical{
		proc:   proc,
		subs:   sublattices,
		active: activeSublattices(sublattices),
		params: proc.Coefficients(),
	}, nil
}

func (e *Canonical) Kind() Kind {
	return KindCanonical
}

func (e *Canonical) NaturalParameters() []float64 {
	out := make([]float64, len(e.params))
	copy(out, e.params)
	return out
}

func (e *Canonical) ComputeFeatureVector(occ []int) ([]float64, error) {
	return e.proc.FeatureVector(occ)
}

func (e *Canonical) ComputeFeatureVectorChange(occ []int, step []model.Flip) ([]float64, error) {
	return e.proc.DeltaFeatureVector(step, occ)
}

func (e *Canonical) Processor() *processor.Processor {
	return e.proc
}

func (e *Canonical) Sublattices() []*Sublattice {
	return e.subs
}

// ActiveSublattices returns the sublattices whose spaces allow more than one
// species. The list is fixed at construction; per-site eligibility is read
// live from each sublattice.
func (e *Canonical) ActiveSublattices() []*Sublattice {
	return e.active
}

func (e *Canonical) RestrictSites(sites []int) {
	restrictAll(e.subs, sites)
}

func (e *Canonical) ResetRestrictedSites() {
	resetAll(e.subs)
}
