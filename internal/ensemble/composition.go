package ensemble

import (
	"fmt"

	"plegma/internal/model"
)

// CompositionTable assigns one global count dimension to every
// (sublattice, species) pair of the tracked sublattices and answers
// composition queries against it: species counts of an occupancy, per-species
// site lists, and count changes under a step. Dimensions are numbered
// consecutively, sublattice by sublattice in list order, species in site
// space order. Sites outside the tracked sublattices never contribute.
type CompositionTable struct {
	sublattices []*Sublattice
	numSites    int
	dimIDs      [][]int
	siteDims    [][]int
	names       []string
	sizes       []int
}

func NewCompositionTable(sublattices []*Sublattice, numSites int) (*CompositionTable, error) {
	if numSites <= 0 {
		return nil, fmt.Errorf("composition table requires a positive site count")
	}
	ct := &CompositionTable{
		sublattices: sublattices,
		numSites:    numSites,
		dimIDs:      make([][]int, len(sublattices)),
		siteDims:    make([][]int, numSites),
	}
	dim := 0
	for si, sl := range sublattices {
		codes := sl.Codes()
		ids := make([]int, len(codes))
		maxCode := 0
		for _, c := range codes {
			if c > maxCode {
				maxCode = c
			}
		}
		for j := range codes {
			ids[j] = dim
			ct.names = append(ct.names, sl.SiteSpace().Names()[j])
			ct.sizes = append(ct.sizes, sl.NumSites())
			dim++
		}
		ct.dimIDs[si] = ids
		for _, site := range sl.Sites() {
			if site >= numSites {
				return nil, fmt.Errorf("sublattice %d site %d out of range [0, %d)", si, site, numSites)
			}
			if ct.siteDims[site] != nil {
				return nil, fmt.Errorf("site %d belongs to more than one tracked sublattice", site)
			}
			row := make([]int, maxCode+1)
			for k := range row {
				row[k] = -1
			}
			for j, c := range codes {
				row[c] = ids[j]
			}
			ct.siteDims[site] = row
		}
	}
	return ct, nil
}

func (ct *CompositionTable) NumDims() int {
	return len(ct.names)
}

// DimIDs returns the dimension ids per tracked sublattice, species in site
// space order.
func (ct *CompositionTable) DimIDs() [][]int {
	out := make([][]int, len(ct.dimIDs))
	for i, ids := range ct.dimIDs {
		row := make([]int, len(ids))
		copy(row, ids)
		out[i] = row
	}
	return out
}

// SpeciesNames returns the species name per dimension.
func (ct *CompositionTable) SpeciesNames() []string {
	out := make([]string, len(ct.names))
	copy(out, ct.names)
	return out
}

// SublatticeSizes returns, per dimension, the site count of its sublattice.
func (ct *CompositionTable) SublatticeSizes() []int {
	out := make([]int, len(ct.sizes))
	copy(out, ct.sizes)
	return out
}

// DimFor maps a site and encoded species to its count dimension, or -1 when
// the site is untracked or the code is not allowed there.
func (ct *CompositionTable) DimFor(site, code int) int {
	if site < 0 || site >= ct.numSites || code < 0 {
		return -1
	}
	row := ct.siteDims[site]
	if row == nil || code >= len(row) {
		return -1
	}
	return row[code]
}

// Counts returns the number of sites per dimension occupied by its species.
func (ct *CompositionTable) Counts(occ []int) ([]float64, error) {
	if len(occ) != ct.numSites {
		return nil, fmt.Errorf("occupancy has %d sites, want %d", len(occ), ct.numSites)
	}
	out := make([]float64, ct.NumDims())
	for site, row := range ct.siteDims {
		if row == nil {
			continue
		}
		dim := ct.DimFor(site, occ[site])
		if dim < 0 {
			return nil, fmt.Errorf("occupancy code %d at site %d is not on its tracked sublattice", occ[site], site)
		}
		out[dim]++
	}
	return out, nil
}

// SiteLists returns, per dimension, the ascending site indices currently
// occupied by that dimension's species.
func (ct *CompositionTable) SiteLists(occ []int) ([][]int, error) {
	if len(occ) != ct.numSites {
		return nil, fmt.Errorf("occupancy has %d sites, want %d", len(occ), ct.numSites)
	}
	out := make([][]int, ct.NumDims())
	for d := range out {
		out[d] = []int{}
	}
	for site, row := range ct.siteDims {
		if row == nil {
			continue
		}
		dim := ct.DimFor(site, occ[site])
		if dim < 0 {
			return nil, fmt.Errorf("occupancy code %d at site %d is not on its tracked sublattice", occ[site], site)
		}
		out[dim] = append(out[dim], site)
	}
	return out, nil
}

// DeltaCounts returns the per-dimension count change of applying the step's
// flips in order. A flip undone later contributes nothing; reassigning a site
// twice counts only the final species. Flips on untracked sites leave every
// dimension unchanged. The occupancy is not mutated.
func (ct *CompositionTable) DeltaCounts(step []model.Flip, occ []int) ([]float64, error) {
	if len(occ) != ct.numSites {
		return nil, fmt.Errorf("occupancy has %d sites, want %d", len(occ), ct.numSites)
	}
	out := make([]float64, ct.NumDims())
	current := make(map[int]int, len(step))
	for i, f := range step {
		if f.Site < 0 || f.Site >= ct.numSites {
			return nil, fmt.Errorf("flip %d targets site %d out of range [0, %d)", i, f.Site, ct.numSites)
		}
		cur, touched := current[f.Site]
		if !touched {
			cur = occ[f.Site]
		}
		if ct.siteDims[f.Site] == nil {
			current[f.Site] = f.Code
			continue
		}
		from := ct.DimFor(f.Site, cur)
		to := ct.DimFor(f.Site, f.Code)
		if from < 0 {
			return nil, fmt.Errorf("flip %d leaves code %d at site %d, not on its tracked sublattice", i, cur, f.Site)
		}
		if to < 0 {
			return nil, fmt.Errorf("flip %d assigns code %d at site %d, not on its tracked sublattice", i, f.Code, f.Site)
		}
		out[from]--
		out[to]++
		current[f.Site] = f.Code
	}
	return out, nil
}
