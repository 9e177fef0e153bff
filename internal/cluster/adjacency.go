package cluster

import "fmt"

// OrbitInstances pairs an orbit's correlation-function data with every
// concrete site-index tuple realizing it in the supercell.
type OrbitInstances struct {
	FeatureOffset int
	Combos        [][][]int
	Bases         [][][]float64
	Instances     [][]int
}

// SiteOrbit is the by-site view of one orbit: only the instances containing
// the site, plus the ratio of total instances to those, which rescales
// localized changes back onto the full-average normalization.
type SiteOrbit struct {
	FeatureOffset int
	Ratio         float64
	Combos        [][][]int
	Bases         [][][]float64
	Instances     [][]int
}

// AdjacencyIndex precomputes, for a fixed supercell, which orbit instances
// exist and which of them touch each site. It is immutable after
// construction and safe to share across walkers; accessors return internal
// slices that must be treated as read-only.
type AdjacencyIndex struct {
	numFunctions int
	numSites     int
	size         int
	full         []OrbitInstances
	bySite       [][]SiteOrbit
}

func NewAdjacencyIndex(sc *Supercell, orbits []*Orbit) (*AdjacencyIndex, error) {
	if sc == nil {
		return nil, fmt.Errorf("adjacency index requires a supercell")
	}
	for i, o := range orbits {
		if err := o.validate(sc.Prim); err != nil {
			return nil, fmt.Errorf("orbit %d: %w", i, err)
		}
	}
	if err := ValidateFeatureOffsets(orbits); err != nil {
		return nil, err
	}

	idx := &AdjacencyIndex{
		numFunctions: NumCorrelationFunctions(orbits),
		numSites:     sc.NumSites(),
		size:         sc.Size(),
		full:         make([]OrbitInstances, 0, len(orbits)),
		bySite:       make([][]SiteOrbit, sc.NumSites()),
	}
	for i, o := range orbits {
		instances, err := sc.realizeOrbit(o)
		if err != nil {
			return nil, fmt.Errorf("orbit %d: %w", i, err)
		}
		idx.full = append(idx.full, OrbitInstances{
			FeatureOffset: o.FeatureOffset,
			Combos:        o.Combos,
			Bases:         o.Bases,
			Instances:     instances,
		})

		touching := make(map[int][][]int)
		for _, inst := range instances {
			seen := make(map[int]bool, len(inst))
			for _, site := range inst {
				if seen[site] {
					continue
				}
				seen[site] = true
				touching[site] = append(touching[site], inst)
			}
		}
		for site, subset := range touching {
			idx.bySite[site] = append(idx.bySite[site], SiteOrbit{
				FeatureOffset: o.FeatureOffset,
				Ratio:         float64(len(instances)) / float64(len(subset)),
				Combos:        o.Combos,
				Bases:         o.Bases,
				Instances:     subset,
			})
		}
	}
	return idx, nil
}

// NumFunctions returns the feature vector length, constant term included.
func (idx *AdjacencyIndex) NumFunctions() int {
	return idx.numFunctions
}

func (idx *AdjacencyIndex) NumSites() int {
	return idx.numSites
}

// Size returns the number of primitive cells in the supercell.
func (idx *AdjacencyIndex) Size() int {
	return idx.size
}

// Full returns the whole-vector evaluation view.
func (idx *AdjacencyIndex) Full() []OrbitInstances {
	return idx.full
}

// BySite returns the orbit instances touching one site.
func (idx *AdjacencyIndex) BySite(site int) []SiteOrbit {
	return idx.bySite[site]
}
