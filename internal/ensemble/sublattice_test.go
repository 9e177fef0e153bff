package ensemble

import (
	"math"
	"math/rand"
	"testing"

	"plegma/internal/cluster"
)

func binarySpace(t *testing.T) cluster.SiteSpace {
	t.Helper()
	space, err := cluster.NewSiteSpace([]cluster.Species{
		{Name: "A", Measure: 0.5},
		{Name: "B", Measure: 0.5},
	})
	if err != nil {
		t.Fatalf("new binary site space: %v", err)
	}
	return space
}

func ternarySpace(t *testing.T) cluster.SiteSpace {
	t.Helper()
	space, err := cluster.NewSiteSpace([]cluster.Species{
		{Name: "A", Measure: 1.0 / 3.0},
		{Name: "B", Measure: 1.0 / 3.0},
		{Name: "C", Measure: 1.0 / 3.0},
	})
	if err != nil {
		t.Fatalf("new ternary site space: %v", err)
	}
	return space
}

func singleSpace(t *testing.T) cluster.SiteSpace {
	t.Helper()
	space, err := cluster.NewSiteSpace([]cluster.Species{{Name: "X", Measure: 1}})
	if err != nil {
		t.Fatalf("new single site space: %v", err)
	}
	return space
}

func equalInts(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewSublatticeActiveSites(t *testing.T) {
	sl, err := NewSublattice(binarySpace(t), []int{3, 1, 5})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	if !equalInts(sl.Sites(), []int{1, 3, 5}) {
		t.Fatalf("sites = %v, want sorted [1 3 5]", sl.Sites())
	}
	if !equalInts(sl.ActiveSites(), []int{1, 3, 5}) {
		t.Fatalf("active sites = %v, want all sites", sl.ActiveSites())
	}
	if !sl.IsActive() {
		t.Fatal("binary sublattice should be active")
	}

	inert, err := NewSublattice(singleSpace(t), []int{0, 2})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	if len(inert.ActiveSites()) != 0 {
		t.Fatalf("single-species active sites = %v, want none", inert.ActiveSites())
	}
	if inert.IsActive() {
		t.Fatal("single-species sublattice should be inactive")
	}

	if _, err := NewSublattice(binarySpace(t), []int{1, 1}); err == nil {
		t.Fatal("expected error for duplicate sites")
	}
	if _, err := NewSublattice(binarySpace(t), nil); err == nil {
		t.Fatal("expected error for empty site list")
	}
}

func TestRestrictAndReset(t *testing.T) {
	sl, err := NewSublattice(binarySpace(t), []int{0, 1, 2, 3})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}

	sl.Restrict([]int{1, 3, 99})
	if !equalInts(sl.ActiveSites(), []int{0, 2}) {
		t.Fatalf("active after restrict = %v, want [0 2]", sl.ActiveSites())
	}
	if !equalInts(sl.RestrictedSites(), []int{1, 3}) {
		t.Fatalf("restricted = %v, want [1 3]", sl.RestrictedSites())
	}

	sl.Restrict([]int{1, 3})
	if !equalInts(sl.ActiveSites(), []int{0, 2}) {
		t.Fatalf("restrict is not idempotent: %v", sl.ActiveSites())
	}

	sl.Reset()
	if !equalInts(sl.ActiveSites(), []int{0, 1, 2, 3}) {
		t.Fatalf("active after reset = %v, want all sites", sl.ActiveSites())
	}

	inert, err := NewSublattice(singleSpace(t), []int{7})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	inert.Reset()
	if len(inert.ActiveSites()) != 0 {
		t.Fatal("reset must keep a single-species sublattice inactive")
	}
}

func TestSplitBySpecies(t *testing.T) {
	sl, err := NewSublattice(ternarySpace(t), []int{0, 1, 2, 3, 4, 5})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	sl.Restrict([]int{1})
	occ := []int{0, 1, 2, 0, 1, 2}

	children, err := sl.SplitBySpecies(occ, [][]string{{"A"}, {"B", "C"}})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("got %d children, want 2", len(children))
	}

	frozen := children[0]
	if !equalInts(frozen.Sites(), []int{0, 3}) {
		t.Fatalf("frozen sites = %v, want [0 3]", frozen.Sites())
	}
	if len(frozen.ActiveSites()) != 0 {
		t.Fatalf("single-species child active sites = %v, want none", frozen.ActiveSites())
	}
	if m := frozen.SiteSpace().Measures(); len(m) != 1 || math.Abs(m[0]-1) > 1e-12 {
		t.Fatalf("frozen measures = %v, want [1]", m)
	}

	live := children[1]
	if !equalInts(live.Sites(), []int{1, 2, 4, 5}) {
		t.Fatalf("live sites = %v, want [1 2 4 5]", live.Sites())
	}
	if !equalInts(live.ActiveSites(), []int{2, 4, 5}) {
		t.Fatalf("live active sites = %v, want [2 4 5] (site 1 was restricted)", live.ActiveSites())
	}
	if !equalInts(live.Codes(), []int{1, 2}) {
		t.Fatalf("live codes = %v, want parent codes [1 2]", live.Codes())
	}
	for _, m := range live.SiteSpace().Measures() {
		if math.Abs(m-0.5) > 1e-12 {
			t.Fatalf("live measures = %v, want renormalized [0.5 0.5]", live.SiteSpace().Measures())
		}
	}

	total := 0
	for _, c := range children {
		total += c.NumSites()
	}
	if total != sl.NumSites() {
		t.Fatalf("children cover %d sites, parent has %d", total, sl.NumSites())
	}
}

func TestSplitBySpeciesErrors(t *testing.T) {
	sl, err := NewSublattice(ternarySpace(t), []int{0, 1, 2})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	occ := []int{0, 1, 2}

	if _, err := sl.SplitBySpecies(occ, [][]string{{"A"}, {"B"}}); err == nil {
		t.Fatal("expected error for species group not covering C")
	}
	if _, err := sl.SplitBySpecies(occ, [][]string{{"A"}, {"A", "B", "C"}}); err == nil {
		t.Fatal("expected error for species in two groups")
	}
	if _, err := sl.SplitBySpecies(occ, [][]string{{"A", "Q"}, {"B", "C"}}); err == nil {
		t.Fatal("expected error for unknown species")
	}
	if _, err := sl.SplitBySpecies([]int{0, 9, 2}, [][]string{{"A"}, {"B", "C"}}); err == nil {
		t.Fatal("expected error for occupancy code not on the sublattice")
	}
	if _, err := sl.SplitBySpecies([]int{0}, [][]string{{"A"}, {"B", "C"}}); err == nil {
		t.Fatal("expected error for occupancy shorter than the site range")
	}
}

func TestValidatePartition(t *testing.T) {
	a, err := NewSublattice(binarySpace(t), []int{0, 2})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	b, err := NewSublattice(ternarySpace(t), []int{1, 3})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	if err := ValidatePartition([]*Sublattice{a, b}, 4); err != nil {
		t.Fatalf("valid partition rejected: %v", err)
	}

	if err := ValidatePartition([]*Sublattice{a, b}, 5); err == nil {
		t.Fatal("expected error for uncovered site")
	}
	overlap, err := NewSublattice(ternarySpace(t), []int{2, 1, 3})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	if err := ValidatePartition([]*Sublattice{a, overlap}, 4); err == nil {
		t.Fatal("expected error for overlapping sublattices")
	}
	if err := ValidatePartition([]*Sublattice{a, b}, 3); err == nil {
		t.Fatal("expected error for out-of-range site")
	}
}

func TestSublatticesFromSupercell(t *testing.T) {
	sc, err := cluster.NewSupercell(
		[3][3]int{{2, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		[]cluster.SiteSpace{binarySpace(t), singleSpace(t)},
	)
	if err != nil {
		t.Fatalf("new supercell: %v", err)
	}
	subs, err := SublatticesFromSupercell(sc)
	if err != nil {
		t.Fatalf("derive sublattices: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("got %d sublattices, want 2", len(subs))
	}
	if !equalInts(subs[0].Sites(), []int{0, 2}) {
		t.Fatalf("first sublattice sites = %v, want [0 2]", subs[0].Sites())
	}
	if !equalInts(subs[1].Sites(), []int{1, 3}) {
		t.Fatalf("second sublattice sites = %v, want [1 3]", subs[1].Sites())
	}
	if subs[1].IsActive() {
		t.Fatal("single-species sublattice should be inactive")
	}
	if err := ValidatePartition(subs, sc.NumSites()); err != nil {
		t.Fatalf("derived sublattices must partition the sites: %v", err)
	}
}

func TestRandomOccupancy(t *testing.T) {
	a, err := NewSublattice(binarySpace(t), []int{0, 2, 4})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}
	b, err := NewSublattice(singleSpace(t), []int{1, 3})
	if err != nil {
		t.Fatalf("new sublattice: %v", err)
	}

	rng := rand.New(rand.NewSource(42))
	occ, err := RandomOccupancy([]*Sublattice{a, b}, 5, rng)
	if err != nil {
		t.Fatalf("random occupancy: %v", err)
	}
	if len(occ) != 5 {
		t.Fatalf("occupancy length = %d, want 5", len(occ))
	}
	for _, site := range a.Sites() {
		if occ[site] < 0 || occ[site] > 1 {
			t.Fatalf("site %d code %d out of binary range", site, occ[site])
		}
	}
	for _, site := range b.Sites() {
		if occ[site] != 0 {
			t.Fatalf("single-species site %d code = %d, want 0", site, occ[site])
		}
	}

	again, err := RandomOccupancy([]*Sublattice{a, b}, 5, rand.New(rand.NewSource(42)))
	if err != nil {
		t.Fatalf("random occupancy: %v", err)
	}
	if !equalInts(occ, again) {
		t.Fatalf("same seed produced %v then %v", occ, again)
	}

	if _, err := RandomOccupancy([]*Sublattice{a}, 5, rng); err == nil {
		t.Fatal("expected error for an incomplete partition")
	}
}
