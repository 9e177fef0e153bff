package mc

import (
	"fmt"
	"math/rand"

	"plegma/internal/ensemble"
	"plegma/internal/model"
)

// Usher proposes candidate steps against a caller-owned occupancy.
// ProposeStep only reads the occupancy; a nil step signals a proposal
// dead-end ("no move possible"), which kernels treat as a rejection, not an
// error. SetAuxState must be called with the walker's occupancy before the
// first proposal after init or resume; UpdateAuxState must be called exactly
// once per accepted step and never on rejection.
type Usher interface {
	Kind() StepKind
	ProposeStep(occ []int) ([]model.Flip, error)
	UpdateAuxState(step []model.Flip) error
	SetAuxState(occ []int) error
}

// NewUsher builds the proposer for a step kind over the given sublattices.
// weights biases sublattice selection and defaults to uniform when nil.
func NewUsher(kind StepKind, sublattices []*ensemble.Sublattice, weights []float64, rng *rand.Rand) (Usher, error) {
	picker, err := newSublatticePicker(sublattices, weights, rng)
	if err != nil {
		return nil, fmt.Errorf("usher %q: %w", kind, err)
	}
	switch kind {
	case StepFlip:
		return &Flipper{picker: picker}, nil
	case StepSwap:
		return &Swapper{picker: picker}, nil
	case StepExchange:
		return newExchange(picker), nil
	default:
		return nil, fmt.Errorf("unknown step kind %q", kind)
	}
}

// sublatticePicker draws a sublattice by cumulative weight with a single
// uniform deviate, then a site uniformly among its active sites.
type sublatticePicker struct {
	sublattices []*ensemble.Sublattice
	cum         []float64
	rng         *rand.Rand
}

func newSublatticePicker(sublattices []*ensemble.Sublattice, weights []float64, rng *rand.Rand) (*sublatticePicker, error) {
	if len(sublattices) == 0 {
		return nil, fmt.Errorf("requires at least one sublattice")
	}
	if rng == nil {
		return nil, fmt.Errorf("requires a random source")
	}
	if weights == nil {
		weights = make([]float64, len(sublattices))
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != len(sublattices) {
		return nil, fmt.Errorf("%d sublattice weights for %d sublattices", len(weights), len(sublattices))
	}
	total := 0.0
	for i, w := range weights {
		if w <= 0 {
			return nil, fmt.Errorf("sublattice weight %d is %v, want > 0", i, w)
		}
		total += w
	}
	cum := make([]float64, len(weights))
	running := 0.0
	for i, w := range weights {
		running += w / total
		cum[i] = running
	}
	cum[len(cum)-1] = 1
	return &sublatticePicker{sublattices: sublattices, cum: cum, rng: rng}, nil
}

func (p *sublatticePicker) pick() int {
	u := p.rng.Float64()
	for i, upper := range p.cum {
		if u < upper {
			return i
		}
	}
	return len(p.cum) - 1
}

// pickSite selects an active site of sublattice i, reporting false when the
// sublattice has no active sites.
func (p *sublatticePicker) pickSite(i int) (int, bool) {
	actives := p.sublattices[i].ActiveSites()
	if len(actives) == 0 {
		return 0, false
	}
	return actives[p.rng.Intn(len(actives))], true
}

// Flipper proposes single-site reassignments: a new species uniform over the
// site's sublattice species excluding the current occupant.
type Flipper struct {
	picker *sublatticePicker
}

func (f *Flipper) Kind() StepKind {
	return StepFlip
}

func (f *Flipper) ProposeStep(occ []int) ([]model.Flip, error) {
	i := f.picker.pick()
	site, ok := f.picker.pickSite(i)
	if !ok {
		return nil, nil
	}
	sl := f.picker.sublattices[i]
	codes := sl.Codes()
	if len(codes) < 2 {
		return nil, nil
	}
	if site >= len(occ) {
		return nil, fmt.Errorf("occupancy has %d sites, need site %d", len(occ), site)
	}
	cur := sl.CodeIndex(occ[site])
	if cur < 0 {
		return nil, fmt.Errorf("occupancy code %d at site %d is not on its sublattice", occ[site], site)
	}
	choice := f.picker.rng.Intn(len(codes) - 1)
	if choice >= cur {
		choice++
	}
	return []model.Flip{{Site: site, Code: codes[choice]}}, nil
}

func (f *Flipper) UpdateAuxState([]model.Flip) error {
	return nil
}

func (f *Flipper) SetAuxState([]int) error {
	return nil
}

// Swapper proposes occupant exchanges between two active sites of one
// sublattice whose current occupants differ.
type Swapper struct {
	picker *sublatticePicker
}

func (s *Swapper) Kind() StepKind {
	return StepSwap
}

func (s *Swapper) ProposeStep(occ []int) ([]model.Flip, error) {
	i := s.picker.pick()
	site, ok := s.picker.pickSite(i)
	if !ok {
		return nil, nil
	}
	if site >= len(occ) {
		return nil, fmt.Errorf("occupancy has %d sites, need site %d", len(occ), site)
	}
	actives := s.picker.sublattices[i].ActiveSites()
	partners := make([]int, 0, len(actives))
	for _, other := range actives {
		if other >= len(occ) {
			return nil, fmt.Errorf("occupancy has %d sites, need site %d", len(occ), other)
		}
		if occ[other] != occ[site] {
			partners = append(partners, other)
		}
	}
	if len(partners) == 0 {
		return nil, nil
	}
	partner := partners[s.picker.rng.Intn(len(partners))]
	return []model.Flip{
		{Site: site, Code: occ[partner]},
		{Site: partner, Code: occ[site]},
	}, nil
}

func (s *Swapper) UpdateAuxState([]model.Flip) error {
	return nil
}

func (s *Swapper) SetAuxState([]int) error {
	return nil
}
