package processor

import (
	"fmt"

	"plegma/internal/cluster"
	"plegma/internal/model"
)

// CorrelationVector computes the per-primitive-cell averaged correlation
// functions of an occupancy. Entry 0 is always 1. The input is not mutated.
func (p *Processor) CorrelationVector(occ []int) ([]float64, error) {
	if err := p.ValidateOccupancy(occ); err != nil {
		return nil, err
	}
	out := make([]float64, p.index.NumFunctions())
	out[0] = 1
	for _, orb := range p.index.Full() {
		bit := orb.FeatureOffset
		ni := len(orb.Instances)
		for _, group := range orb.Combos {
			acc := 0.0
			for _, inst := range orb.Instances {
				for _, ordering := range group {
					prod := 1.0
					for k, f := range ordering {
						prod *= orb.Bases[k][f][occ[inst[k]]]
					}
					acc += prod
				}
			}
			out[bit] = acc / float64(ni*len(group))
			bit++
		}
	}
	return out, nil
}

// Property evaluates the expansion for an occupancy. The result is extensive:
// the correlation dot product scaled by the supercell size.
func (p *Processor) Property(occ []int) (float64, error) {
	corr, err := p.CorrelationVector(occ)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i, c := range corr {
		total += p.coefs[i] * c
	}
	return total * float64(p.index.Size()), nil
}

// FeatureVector is the extensive form of the correlation vector: every entry
// scaled by the supercell size, so dot with the coefficients gives Property.
func (p *Processor) FeatureVector(occ []int) ([]float64, error) {
	corr, err := p.CorrelationVector(occ)
	if err != nil {
		return nil, err
	}
	scale := float64(p.index.Size())
	for i := range corr {
		corr[i] *= scale
	}
	return corr, nil
}

// DeltaFeatureVector is the extensive form of DeltaCorrelation.
func (p *Processor) DeltaFeatureVector(step []model.Flip, occ []int) ([]float64, error) {
	delta, err := p.DeltaCorrelation(step, occ)
	if err != nil {
		return nil, err
	}
	scale := float64(p.index.Size())
	for i := range delta {
		delta[i] *= scale
	}
	return delta, nil
}

// DeltaCorrelation computes the correlation change produced by applying the
// flips of a step in order. Only orbits touching the flipped sites are
// visited, so the cost scales with the local cluster environment rather than
// the supercell. The input occupancy is not mutated; entry 0 of the result is
// always 0.
func (p *Processor) DeltaCorrelation(step []model.Flip, occ []int) ([]float64, error) {
	if len(occ) != p.index.NumSites() {
		return nil, fmt.Errorf("occupancy has %d sites, want %d", len(occ), p.index.NumSites())
	}
	if err := p.ValidateStep(step); err != nil {
		return nil, err
	}
	out := make([]float64, p.index.NumFunctions())
	before := make([]int, len(occ))
	after := make([]int, len(occ))
	copy(before, occ)
	copy(after, occ)
	for _, f := range step {
		after[f.Site] = f.Code
		p.addSiteDelta(out, after, before, f.Site)
		before[f.Site] = f.Code
	}
	return out, nil
}

// DeltaProperty evaluates the extensive property change of a step without
// recomputing the full correlation vector.
func (p *Processor) DeltaProperty(step []model.Flip, occ []int) (float64, error) {
	delta, err := p.DeltaCorrelation(step, occ)
	if err != nil {
		return 0, err
	}
	total := 0.0
	for i, d := range delta {
		total += p.coefs[i] * d
	}
	return total * float64(p.index.Size()), nil
}

// addSiteDelta accumulates the correlation change of reassigning one site into
// out. after and before must agree everywhere except at site.
func (p *Processor) addSiteDelta(out []float64, after, before []int, site int) {
	for _, entry := range p.index.BySite(site) {
		bit := entry.FeatureOffset
		ni := len(entry.Instances)
		for _, group := range entry.Combos {
			acc := 0.0
			for _, inst := range entry.Instances {
				for _, ordering := range group {
					pf, pb := 1.0, 1.0
					for k, f := range ordering {
						row := entry.Bases[k][f]
						pf *= row[after[inst[k]]]
						pb *= row[before[inst[k]]]
					}
					acc += pf - pb
				}
			}
			out[bit] += acc / (entry.Ratio * float64(ni*len(group)))
			bit++
		}
	}
}

// ValidateOccupancy checks length and that every encoded value addresses a
// species allowed at its site.
func (p *Processor) ValidateOccupancy(occ []int) error {
	if len(occ) != len(p.spaces) {
		return fmt.Errorf("occupancy has %d sites, want %d", len(occ), len(p.spaces))
	}
	for site, code := range occ {
		if code < 0 || code >= p.spaces[site] {
			return fmt.Errorf("occupancy code %d at site %d out of range [0, %d)", code, site, p.spaces[site])
		}
	}
	return nil
}

// ValidateStep checks every flip before any of them is applied.
func (p *Processor) ValidateStep(step []model.Flip) error {
	for i, f := range step {
		if f.Site < 0 || f.Site >= len(p.spaces) {
			return fmt.Errorf("flip %d targets site %d out of range [0, %d)", i, f.Site, len(p.spaces))
		}
		if f.Code < 0 || f.Code >= p.spaces[f.Site] {
			return fmt.Errorf("flip %d assigns code %d at site %d out of range [0, %d)",
				i, f.Code, f.Site, p.spaces[f.Site])
		}
	}
	return nil
}

// OrbitsBySite exposes the per-site adjacency view for callers that need to
// inspect local environments.
func (p *Processor) OrbitsBySite(site int) []cluster.SiteOrbit {
	return p.index.BySite(site)
}
