package cluster

import "fmt"

// ClusterSite locates one cluster site as a primitive-cell site plus an
// integer lattice offset.
type ClusterSite struct {
	Prim   int
	Offset [3]int
}

// Orbit is a symmetry-equivalence class of clusters sharing correlation
// functions. Clusters holds the equivalent geometric realizations within the
// primitive cell; Combos holds one entry per correlation function, each a
// group of equivalent orderings of single-site function indices; Bases holds
// per cluster-site position the non-constant site-function values indexed
// [function][species code]. FeatureOffset is the index of the orbit's first
// correlation function in the global feature vector. Orbits are immutable
// once validated.
type Orbit struct {
	FeatureOffset int
	Clusters      [][]ClusterSite
	Combos        [][][]int
	Bases         [][][]float64
}

// Size returns the number of sites per cluster.
func (o *Orbit) Size() int {
	if len(o.Clusters) == 0 {
		return 0
	}
	return len(o.Clusters[0])
}

// NumFunctions returns the number of correlation functions the orbit
// contributes to the feature vector.
func (o *Orbit) NumFunctions() int {
	return len(o.Combos)
}

func (o *Orbit) validate(prim []SiteSpace) error {
	if len(o.Clusters) == 0 {
		return fmt.Errorf("orbit requires at least one cluster")
	}
	k := len(o.Clusters[0])
	if k == 0 {
		return fmt.Errorf("orbit cluster must have at least one site")
	}
	for ci, cl := range o.Clusters {
		if len(cl) != k {
			return fmt.Errorf("orbit cluster %d has %d sites, want %d", ci, len(cl), k)
		}
		for ki, site := range cl {
			if site.Prim < 0 || site.Prim >= len(prim) {
				return fmt.Errorf("orbit cluster %d site %d references primitive site %d of %d", ci, ki, site.Prim, len(prim))
			}
		}
	}
	if len(o.Bases) != k {
		return fmt.Errorf("orbit has %d basis arrays, want one per cluster site (%d)", len(o.Bases), k)
	}
	for ki, funcs := range o.Bases {
		if len(funcs) == 0 {
			return fmt.Errorf("orbit cluster site %d has no basis functions", ki)
		}
		for _, cl := range o.Clusters {
			need := prim[cl[ki].Prim].Len()
			for fi, row := range funcs {
				if len(row) < need {
					return fmt.Errorf("orbit basis function %d at cluster site %d covers %d species, need %d", fi, ki, len(row), need)
				}
			}
		}
	}
	if len(o.Combos) == 0 {
		return fmt.Errorf("orbit requires at least one combo group")
	}
	for gi, group := range o.Combos {
		if len(group) == 0 {
			return fmt.Errorf("orbit combo group %d is empty", gi)
		}
		for oi, ordering := range group {
			if len(ordering) != k {
				return fmt.Errorf("orbit combo group %d ordering %d has %d entries, want %d", gi, oi, len(ordering), k)
			}
			for ki, fi := range ordering {
				if fi < 0 || fi >= len(o.Bases[ki]) {
					return fmt.Errorf("orbit combo group %d ordering %d references function %d of %d at site %d", gi, oi, fi, len(o.Bases[ki]), ki)
				}
			}
		}
	}
	return nil
}

// AssignFeatureOffsets numbers the correlation functions of a list of orbits
// contiguously, starting at 1 to leave room for the constant function.
func AssignFeatureOffsets(orbits []*Orbit) {
	offset := 1
	for _, o := range orbits {
		o.FeatureOffset = offset
		offset += o.NumFunctions()
	}
}

// ValidateFeatureOffsets checks that orbit offsets are contiguous from 1 in
// list order, which the evaluation loops rely on.
func ValidateFeatureOffsets(orbits []*Orbit) error {
	offset := 1
	for i, o := range orbits {
		if o.FeatureOffset != offset {
			return fmt.Errorf("orbit %d has feature offset %d, want %d", i, o.FeatureOffset, offset)
		}
		offset += o.NumFunctions()
	}
	return nil
}

// NumCorrelationFunctions counts the feature vector length over the orbits,
// including the constant function at index 0.
func NumCorrelationFunctions(orbits []*Orbit) int {
	n := 1
	for _, o := range orbits {
		n += o.NumFunctions()
	}
	return n
}

// EnumerateCombos builds the default combo groups for a cluster whose site
// positions have the given non-constant function counts: every combination
// of one function per site, each in its own group, in lexicographic order.
// Grouped orderings only arise from externally supplied symmetry data.
func EnumerateCombos(funcCounts []int) [][][]int {
	total := 1
	for _, n := range funcCounts {
		total *= n
	}
	combos := make([][][]int, 0, total)
	current := make([]int, len(funcCounts))
	for {
		ordering := make([]int, len(current))
		copy(ordering, current)
		combos = append(combos, [][]int{ordering})
		pos := len(current) - 1
		for pos >= 0 {
			current[pos]++
			if current[pos] < funcCounts[pos] {
				break
			}
			current[pos] = 0
			pos--
		}
		if pos < 0 {
			break
		}
	}
	return combos
}
