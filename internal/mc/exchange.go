package mc

import (
	"fmt"

	"plegma/internal/model"
)

// Exchange proposes composition-conserving cycles on one sublattice: two or
// three sites holding distinct species, each reassigned to the next species
// in the cycle. A two-cycle is an occupant swap; a three-cycle rotates three
// species at once, which canonical sampling of ternary and richer systems
// needs to stay ergodic at fixed composition.
//
// Aux state is a per-sublattice, per-species list of the active sites
// currently holding that species, rebuilt by SetAuxState and maintained
// incrementally by UpdateAuxState.
type Exchange struct {
	picker *sublatticePicker
	lists  [][][]int
}

func newExchange(picker *sublatticePicker) *Exchange {
	return &Exchange{picker: picker}
}

func (e *Exchange) Kind() StepKind {
	return StepExchange
}

// SetAuxState rebuilds the species site lists from a full occupancy.
func (e *Exchange) SetAuxState(occ []int) error {
	lists := make([][][]int, len(e.picker.sublattices))
	for i, sl := range e.picker.sublattices {
		codes := sl.Codes()
		lists[i] = make([][]int, len(codes))
		for j := range codes {
			lists[i][j] = []int{}
		}
		for _, site := range sl.ActiveSites() {
			if site >= len(occ) {
				return fmt.Errorf("occupancy has %d sites, need site %d", len(occ), site)
			}
			j := sl.CodeIndex(occ[site])
			if j < 0 {
				return fmt.Errorf("occupancy code %d at site %d is not on its sublattice", occ[site], site)
			}
			lists[i][j] = append(lists[i][j], site)
		}
	}
	e.lists = lists
	return nil
}

func (e *Exchange) ProposeStep(occ []int) ([]model.Flip, error) {
	if e.lists == nil {
		return nil, fmt.Errorf("exchange usher aux state not initialized")
	}
	i := e.picker.pick()
	sl := e.picker.sublattices[i]
	codes := sl.Codes()

	present := make([]int, 0, len(codes))
	for j := range codes {
		if len(e.lists[i][j]) > 0 {
			present = append(present, j)
		}
	}
	if len(present) < 2 {
		return nil, nil
	}

	length := 2
	if len(present) >= 3 && e.picker.rng.Intn(2) == 1 {
		length = 3
	}
	order := e.picker.rng.Perm(len(present))[:length]

	step := make([]model.Flip, length)
	for k := 0; k < length; k++ {
		from := present[order[k]]
		to := present[order[(k+1)%length]]
		sites := e.lists[i][from]
		site := sites[e.picker.rng.Intn(len(sites))]
		step[k] = model.Flip{Site: site, Code: codes[to]}
	}
	return step, nil
}

// UpdateAuxState applies an accepted step to the species site lists.
func (e *Exchange) UpdateAuxState(step []model.Flip) error {
	if e.lists == nil {
		return fmt.Errorf("exchange usher aux state not initialized")
	}
	for _, f := range step {
		i := e.sublatticeOf(f.Site)
		if i < 0 {
			return fmt.Errorf("step site %d is on no sublattice of this usher", f.Site)
		}
		sl := e.picker.sublattices[i]
		to := sl.CodeIndex(f.Code)
		if to < 0 {
			return fmt.Errorf("step code %d at site %d is not on its sublattice", f.Code, f.Site)
		}
		from := -1
		for j := range e.lists[i] {
			for pos, site := range e.lists[i][j] {
				if site == f.Site {
					from = j
					last := len(e.lists[i][j]) - 1
					e.lists[i][j][pos] = e.lists[i][j][last]
					e.lists[i][j] = e.lists[i][j][:last]
					break
				}
			}
			if from >= 0 {
				break
			}
		}
		if from < 0 {
			return fmt.Errorf("step site %d is not in the active site lists", f.Site)
		}
		e.lists[i][to] = append(e.lists[i][to], f.Site)
	}
	return nil
}

func (e *Exchange) sublatticeOf(site int) int {
	for i, sl := range e.picker.sublattices {
		if sl.ContainsSite(site) {
			return i
		}
	}
	return -1
}
