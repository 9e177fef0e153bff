package ensemble

import (
	"fmt"
	"math/rand"
	"sort"

	"plegma/internal/cluster"
)

// Sublattice groups the supercell sites sharing one site space and tracks
// which of them are currently eligible for move proposals. Sites is fixed at
// construction; the active set shrinks under Restrict and is restored by
// Reset. Codes maps each species of the sublattice's space to its encoded
// value in the site's full species ordering, which stays meaningful after a
// split narrows the space.
type Sublattice struct {
	space  cluster.SiteSpace
	codes  []int
	sites  []int
	active []int
}

// NewSublattice builds a sublattice over the given sites. Sites are
// deduplicated and sorted. All sites start active when the space allows more
// than one species; a single-species sublattice has no active sites.
func NewSublattice(space cluster.SiteSpace, sites []int) (*Sublattice, error) {
	if space.Len() == 0 {
		return nil, fmt.Errorf("sublattice requires a site space")
	}
	if len(sites) == 0 {
		return nil, fmt.Errorf("sublattice requires at least one site")
	}
	sorted := make([]int, len(sites))
	copy(sorted, sites)
	sort.Ints(sorted)
	for i, s := range sorted {
		if s < 0 {
			return nil, fmt.Errorf("sublattice site %d is negative", s)
		}
		if i > 0 && sorted[i-1] == s {
			return nil, fmt.Errorf("sublattice site %d appears twice", s)
		}
	}
	codes := make([]int, space.Len())
	for i := range codes {
		codes[i] = i
	}
	return newSublattice(space, codes, sorted, nil), nil
}

// newSublattice wires a sublattice from already-validated parts. When active
// is nil, every site starts active for multi-species spaces.
func newSublattice(space cluster.SiteSpace, codes, sites, active []int) *Sublattice {
	sl := &Sublattice{space: space, codes: codes, sites: sites}
	switch {
	case active != nil:
		sl.active = active
	case space.Len() >= 2:
		sl.active = make([]int, len(sites))
		copy(sl.active, sites)
	default:
		sl.active = []int{}
	}
	return sl
}

func (sl *Sublattice) SiteSpace() cluster.SiteSpace {
	return sl.space
}

// Codes returns the encoded species values of this sublattice in its site
// space order. Callers must not modify the returned slice.
func (sl *Sublattice) Codes() []int {
	return sl.codes
}

// CodeIndex returns the position of an encoded value within Codes, or -1.
func (sl *Sublattice) CodeIndex(code int) int {
	for i, c := range sl.codes {
		if c == code {
			return i
		}
	}
	return -1
}

func (sl *Sublattice) Sites() []int {
	out := make([]int, len(sl.sites))
	copy(out, sl.sites)
	return out
}

func (sl *Sublattice) NumSites() int {
	return len(sl.sites)
}

// ActiveSites returns the proposal-eligible sites in ascending order. Callers
// must not modify the returned slice.
func (sl *Sublattice) ActiveSites() []int {
	return sl.active
}

func (sl *Sublattice) RestrictedSites() []int {
	out := make([]int, 0, len(sl.sites)-len(sl.active))
	for _, s := range sl.sites {
		if !containsSorted(sl.active, s) {
			out = append(out, s)
		}
	}
	return out
}

// IsActive reports whether the sublattice can contribute moves: at least two
// allowed species and at least one active site.
func (sl *Sublattice) IsActive() bool {
	return sl.space.Len() >= 2 && len(sl.active) > 0
}

func (sl *Sublattice) ContainsSite(site int) bool {
	return containsSorted(sl.sites, site)
}

// Restrict removes sites from the active set. Unknown or already-restricted
// sites are ignored, so repeated calls are idempotent.
func (sl *Sublattice) Restrict(sites []int) {
	if len(sites) == 0 {
		return
	}
	drop := make(map[int]struct{}, len(sites))
	for _, s := range sites {
		drop[s] = struct{}{}
	}
	kept := sl.active[:0]
	for _, s := range sl.active {
		if _, ok := drop[s]; !ok {
			kept = append(kept, s)
		}
	}
	sl.active = kept
}

// Reset restores every site to active. Single-species sublattices stay
// inactive.
func (sl *Sublattice) Reset() {
	if sl.space.Len() < 2 {
		sl.active = []int{}
		return
	}
	sl.active = make([]int, len(sl.sites))
	copy(sl.active, sl.sites)
}

// SplitBySpecies partitions the sublattice by the species group currently
// occupying each site. groups must cover the sublattice's species exactly
// once. Each child keeps only its group's species, with measures renormalized
// over the group; its sites are those assigned by the occupancy snapshot, and
// its active sites are the assigned sites that were active here, or none when
// the group has a single species. The children's site sets partition Sites.
func (sl *Sublattice) SplitBySpecies(occ []int, groups [][]string) ([]*Sublattice, error) {
	if len(groups) == 0 {
		return nil, fmt.Errorf("split requires at least one species group")
	}
	names := sl.space.Names()
	groupOf := make(map[string]int, len(names))
	for gi, group := range groups {
		if len(group) == 0 {
			return nil, fmt.Errorf("species group %d is empty", gi)
		}
		for _, name := range group {
			if sl.space.Code(name) < 0 {
				return nil, fmt.Errorf("species %q is not on this sublattice", name)
			}
			if prev, ok := groupOf[name]; ok {
				return nil, fmt.Errorf("species %q appears in groups %d and %d", name, prev, gi)
			}
			groupOf[name] = gi
		}
	}
	for _, name := range names {
		if _, ok := groupOf[name]; !ok {
			return nil, fmt.Errorf("species %q is not covered by any group", name)
		}
	}

	children := make([]*Sublattice, len(groups))
	for gi := range groups {
		space, codes, err := sl.groupSpace(gi, groupOf)
		if err != nil {
			return nil, err
		}
		children[gi] = newSublattice(space, codes, []int{}, []int{})
	}

	activeSet := make(map[int]struct{}, len(sl.active))
	for _, s := range sl.active {
		activeSet[s] = struct{}{}
	}
	for _, site := range sl.sites {
		if site >= len(occ) {
			return nil, fmt.Errorf("occupancy has %d sites, need site %d", len(occ), site)
		}
		idx := sl.CodeIndex(occ[site])
		if idx < 0 {
			return nil, fmt.Errorf("occupancy code %d at site %d is not on this sublattice", occ[site], site)
		}
		gi := groupOf[names[idx]]
		child := children[gi]
		child.sites = append(child.sites, site)
		if _, wasActive := activeSet[site]; wasActive && child.space.Len() >= 2 {
			child.active = append(child.active, site)
		}
	}
	return children, nil
}

// groupSpace builds a child site space restricted to one group, keeping the
// parent's species order and renormalizing measures over the group.
func (sl *Sublattice) groupSpace(gi int, groupOf map[string]int) (cluster.SiteSpace, []int, error) {
	parent := sl.space.Species()
	total := 0.0
	for _, sp := range parent {
		if groupOf[sp.Name] == gi {
			total += sp.Measure
		}
	}
	if total <= 0 {
		return cluster.SiteSpace{}, nil, fmt.Errorf("species group %d has zero total measure", gi)
	}
	var kept []cluster.Species
	var codes []int
	for i, sp := range parent {
		if groupOf[sp.Name] != gi {
			continue
		}
		kept = append(kept, cluster.Species{Name: sp.Name, Measure: sp.Measure / total})
		codes = append(codes, sl.codes[i])
	}
	space, err := cluster.NewSiteSpace(kept)
	if err != nil {
		return cluster.SiteSpace{}, nil, fmt.Errorf("species group %d: %w", gi, err)
	}
	return space, codes, nil
}

// ValidatePartition checks that the sublattices' site sets cover exactly the
// range [0, numSites) with no overlap.
func ValidatePartition(sublattices []*Sublattice, numSites int) error {
	seen := make([]bool, numSites)
	total := 0
	for i, sl := range sublattices {
		for _, s := range sl.sites {
			if s < 0 || s >= numSites {
				return fmt.Errorf("sublattice %d site %d out of range [0, %d)", i, s, numSites)
			}
			if seen[s] {
				return fmt.Errorf("site %d belongs to more than one sublattice", s)
			}
			seen[s] = true
			total++
		}
	}
	if total != numSites {
		return fmt.Errorf("sublattices cover %d of %d sites", total, numSites)
	}
	return nil
}

// SublatticesFromSupercell groups the supercell sites by equal site spaces,
// in order of first appearance. The result partitions the site range.
func SublatticesFromSupercell(sc *cluster.Supercell) ([]*Sublattice, error) {
	var spaces []cluster.SiteSpace
	var members [][]int
	for site := 0; site < sc.NumSites(); site++ {
		space, err := sc.SiteSpaceOf(site)
		if err != nil {
			return nil, err
		}
		found := -1
		for i, known := range spaces {
			if known.Equal(space) {
				found = i
				break
			}
		}
		if found < 0 {
			spaces = append(spaces, space)
			members = append(members, nil)
			found = len(spaces) - 1
		}
		members[found] = append(members[found], site)
	}
	out := make([]*Sublattice, len(spaces))
	for i := range spaces {
		sl, err := NewSublattice(spaces[i], members[i])
		if err != nil {
			return nil, err
		}
		out[i] = sl
	}
	return out, nil
}

// RandomOccupancy draws a uniformly random valid occupancy over a sublattice
// partition: every site receives one of its sublattice's species codes. Draw
// order is sublattice order then site order, so a fixed rng seed reproduces
// the same occupancy.
func RandomOccupancy(sublattices []*Sublattice, numSites int, rng *rand.Rand) ([]int, error) {
	if err := ValidatePartition(sublattices, numSites); err != nil {
		return nil, err
	}
	occ := make([]int, numSites)
	for _, sl := range sublattices {
		codes := sl.Codes()
		for _, site := range sl.sites {
			occ[site] = codes[rng.Intn(len(codes))]
		}
	}
	return occ, nil
}

func containsSorted(sorted []int, v int) bool {
	i := sort.SearchInts(sorted, v)
	return i < len(sorted) && sorted[i] == v
}
