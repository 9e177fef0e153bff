package mc

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var ErrNoSamples = errors.New("no saved samples")

// Sample is one saved snapshot of every walker at a sweep boundary. Accepted
// counts are cumulative over the whole chain, never reset.
type Sample struct {
	Sweep       int
	Accepted    []uint64
	Occupancies [][]int
	Features    [][]float64
	Potentials  []float64
}

// Container accumulates the saved samples of one sampling run in memory.
// Saves happen on the sampler's coordinating goroutine; reads are safe after
// Run returns.
type Container struct {
	walkers int
	samples []Sample
}

func NewContainer(walkers int) (*Container, error) {
	if walkers <= 0 {
		return nil, fmt.Errorf("container requires a positive walker count, got %d", walkers)
	}
	return &Container{walkers: walkers}, nil
}

func (c *Container) Walkers() int {
	return c.walkers
}

func (c *Container) NumSamples() int {
	return len(c.samples)
}

// Save appends a snapshot, deep-copying every buffer so later walker
// mutations cannot reach saved state.
func (c *Container) Save(sweep int, accepted []uint64, occupancies [][]int, features [][]float64, potentials []float64) error {
	if len(accepted) != c.walkers || len(occupancies) != c.walkers ||
		len(features) != c.walkers || len(potentials) != c.walkers {
		return fmt.Errorf("snapshot for %d/%d/%d/%d walkers, container tracks %d",
			len(accepted), len(occupancies), len(features), len(potentials), c.walkers)
	}
	s := Sample{
		Sweep:       sweep,
		Accepted:    make([]uint64, c.walkers),
		Occupancies: make([][]int, c.walkers),
		Features:    make([][]float64, c.walkers),
		Potentials:  make([]float64, c.walkers),
	}
	copy(s.Accepted, accepted)
	copy(s.Potentials, potentials)
	for w := 0; w < c.walkers; w++ {
		s.Occupancies[w] = make([]int, len(occupancies[w]))
		copy(s.Occupancies[w], occupancies[w])
		s.Features[w] = make([]float64, len(features[w]))
		copy(s.Features[w], features[w])
	}
	c.samples = append(c.samples, s)
	return nil
}

// Sample returns a deep copy of the i-th saved snapshot.
func (c *Container) Sample(i int) (Sample, error) {
	if i < 0 || i >= len(c.samples) {
		return Sample{}, fmt.Errorf("sample %d out of range [0, %d)", i, len(c.samples))
	}
	return copySample(c.samples[i]), nil
}

// LastSample returns the most recent snapshot, or ErrNoSamples.
func (c *Container) LastSample() (Sample, error) {
	if len(c.samples) == 0 {
		return Sample{}, ErrNoSamples
	}
	return copySample(c.samples[len(c.samples)-1]), nil
}

func copySample(s Sample) Sample {
	out := Sample{
		Sweep:       s.Sweep,
		Accepted:    make([]uint64, len(s.Accepted)),
		Occupancies: make([][]int, len(s.Occupancies)),
		Features:    make([][]float64, len(s.Features)),
		Potentials:  make([]float64, len(s.Potentials)),
	}
	copy(out.Accepted, s.Accepted)
	copy(out.Potentials, s.Potentials)
	for w := range s.Occupancies {
		out.Occupancies[w] = make([]int, len(s.Occupancies[w]))
		copy(out.Occupancies[w], s.Occupancies[w])
	}
	for w := range s.Features {
		out.Features[w] = make([]float64, len(s.Features[w]))
		copy(out.Features[w], s.Features[w])
	}
	return out
}

// viewIndices selects sample indices after dropping the first discard
// samples and keeping every thin-th of the rest.
func (c *Container) viewIndices(discard, thin int) ([]int, error) {
	if discard < 0 {
		return nil, fmt.Errorf("discard is %d, want >= 0", discard)
	}
	if thin < 1 {
		return nil, fmt.Errorf("thin is %d, want >= 1", thin)
	}
	var out []int
	for i := discard; i < len(c.samples); i += thin {
		out = append(out, i)
	}
	return out, nil
}

func (c *Container) checkWalker(walker int) error {
	if walker < 0 || walker >= c.walkers {
		return fmt.Errorf("walker %d out of range [0, %d)", walker, c.walkers)
	}
	return nil
}

// PotentialTrace returns one walker's saved potentials, after discard and
// thinning over saved samples.
func (c *Container) PotentialTrace(walker, discard, thin int) ([]float64, error) {
	if err := c.checkWalker(walker); err != nil {
		return nil, err
	}
	idx, err := c.viewIndices(discard, thin)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(idx))
	for i, s := range idx {
		out[i] = c.samples[s].Potentials[walker]
	}
	return out, nil
}

// FeatureTrace returns one feature entry of one walker across saved samples.
func (c *Container) FeatureTrace(walker, feature, discard, thin int) ([]float64, error) {
	if err := c.checkWalker(walker); err != nil {
		return nil, err
	}
	idx, err := c.viewIndices(discard, thin)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(idx))
	for i, s := range idx {
		features := c.samples[s].Features[walker]
		if feature < 0 || feature >= len(features) {
			return nil, fmt.Errorf("feature %d out of range [0, %d)", feature, len(features))
		}
		out[i] = features[feature]
	}
	return out, nil
}

// OccupancyChain returns copies of one walker's saved occupancies.
func (c *Container) OccupancyChain(walker, discard, thin int) ([][]int, error) {
	if err := c.checkWalker(walker); err != nil {
		return nil, err
	}
	idx, err := c.viewIndices(discard, thin)
	if err != nil {
		return nil, err
	}
	out := make([][]int, len(idx))
	for i, s := range idx {
		occ := c.samples[s].Occupancies[walker]
		out[i] = make([]int, len(occ))
		copy(out[i], occ)
	}
	return out, nil
}

// AcceptanceRates returns accepted/sweeps per walker from the last snapshot.
func (c *Container) AcceptanceRates() ([]float64, error) {
	if len(c.samples) == 0 {
		return nil, ErrNoSamples
	}
	last := c.samples[len(c.samples)-1]
	out := make([]float64, c.walkers)
	for w := range out {
		if last.Sweep > 0 {
			out[w] = float64(last.Accepted[w]) / float64(last.Sweep)
		}
	}
	return out, nil
}

// TraceSummary aggregates one scalar trace.
type TraceSummary struct {
	N            int
	Mean         float64
	Std          float64
	Min          float64
	Max          float64
	AutocorrTime float64
}

// Summarize computes trace statistics. The autocorrelation time is the
// initial-positive-sequence estimate 1 + 2*sum(rho_k), truncated at the
// first non-positive autocorrelation or half the trace length.
func Summarize(trace []float64) (TraceSummary, error) {
	if len(trace) == 0 {
		return TraceSummary{}, fmt.Errorf("cannot summarize an empty trace")
	}
	s := TraceSummary{
		N:            len(trace),
		Mean:         stat.Mean(trace, nil),
		Min:          floats.Min(trace),
		Max:          floats.Max(trace),
		AutocorrTime: 1,
	}
	if len(trace) < 2 {
		return s, nil
	}
	s.Std = stat.StdDev(trace, nil)

	c0 := autocovariance(trace, s.Mean, 0)
	if c0 <= 0 {
		return s, nil
	}
	tau := 1.0
	for k := 1; k <= len(trace)/2; k++ {
		rho := autocovariance(trace, s.Mean, k) / c0
		if rho <= 0 {
			break
		}
		tau += 2 * rho
	}
	s.AutocorrTime = tau
	return s, nil
}

func autocovariance(trace []float64, mean float64, lag int) float64 {
	n := len(trace) - lag
	total := 0.0
	for i := 0; i < n; i++ {
		total += (trace[i] - mean) * (trace[i+lag] - mean)
	}
	return total / float64(len(trace))
}
