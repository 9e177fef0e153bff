package cluster

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

const fracTol = 1e-8

// Supercell fixes a periodic simulation cell: an integer transformation of
// the primitive lattice plus the primitive sites it repeats. Row i of the
// matrix gives superlattice vector i in primitive lattice coordinates.
// Supercell site (p, t) for primitive site p under translation index t maps
// to site index t*len(prim)+p.
type Supercell struct {
	Matrix [3][3]int
	Prim   []SiteSpace

	translations [][3]int
	residueIndex map[[3]int]int
	inverse      *mat.Dense
	size         int
}

func NewSupercell(matrix [3][3]int, prim []SiteSpace) (*Supercell, error) {
	if len(prim) == 0 {
		return nil, fmt.Errorf("supercell requires at least one primitive site")
	}
	// Translations live in the superlattice basis, so work with the
	// transpose: column j of a holds superlattice vector j.
	a := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			a.Set(i, j, float64(matrix[j][i]))
		}
	}
	det := mat.Det(a)
	size := int(math.Round(math.Abs(det)))
	if size == 0 {
		return nil, fmt.Errorf("supercell matrix is singular")
	}
	var inv mat.Dense
	if err := inv.Inverse(a); err != nil {
		return nil, fmt.Errorf("invert supercell matrix: %w", err)
	}

	sc := &Supercell{
		Matrix:       matrix,
		Prim:         prim,
		inverse:      &inv,
		size:         size,
		residueIndex: make(map[[3]int]int, size),
	}
	if err := sc.enumerateTranslations(a); err != nil {
		return nil, err
	}
	return sc, nil
}

// enumerateTranslations collects one primitive lattice point per residue
// class of the superlattice by scanning the bounding box of the supercell
// parallelepiped and keeping points with fractional coordinates in [0,1).
func (sc *Supercell) enumerateTranslations(a *mat.Dense) error {
	lo := [3]int{}
	hi := [3]int{}
	for corner := 0; corner < 8; corner++ {
		var point [3]float64
		for j := 0; j < 3; j++ {
			if corner&(1<<j) != 0 {
				for i := 0; i < 3; i++ {
					point[i] += a.At(i, j)
				}
			}
		}
		for i := 0; i < 3; i++ {
			if f := int(math.Floor(point[i])); corner == 0 || f < lo[i] {
				lo[i] = f
			}
			if c := int(math.Ceil(point[i])); corner == 0 || c > hi[i] {
				hi[i] = c
			}
		}
	}

	for x := lo[0]; x <= hi[0]; x++ {
		for y := lo[1]; y <= hi[1]; y++ {
			for z := lo[2]; z <= hi[2]; z++ {
				u := [3]int{x, y, z}
				if !sc.inCell(u) {
					continue
				}
				sc.residueIndex[u] = len(sc.translations)
				sc.translations = append(sc.translations, u)
			}
		}
	}
	if len(sc.translations) != sc.size {
		return fmt.Errorf("enumerated %d supercell translations, want %d", len(sc.translations), sc.size)
	}
	return nil
}

func (sc *Supercell) inCell(u [3]int) bool {
	for i := 0; i < 3; i++ {
		f := sc.frac(i, u)
		if f < -fracTol || f >= 1-fracTol {
			return false
		}
	}
	return true
}

func (sc *Supercell) frac(i int, u [3]int) float64 {
	return sc.inverse.At(i, 0)*float64(u[0]) +
		sc.inverse.At(i, 1)*float64(u[1]) +
		sc.inverse.At(i, 2)*float64(u[2])
}

// Size returns the number of primitive cells in the supercell.
func (sc *Supercell) Size() int {
	return sc.size
}

// NumSites returns the total supercell site count.
func (sc *Supercell) NumSites() int {
	return sc.size * len(sc.Prim)
}

// Translations returns the residue representatives in enumeration order.
func (sc *Supercell) Translations() [][3]int {
	out := make([][3]int, len(sc.translations))
	copy(out, sc.translations)
	return out
}

// SiteIndex maps a primitive site and a lattice vector to the supercell site
// index, wrapping the vector into the cell by superlattice periodicity.
func (sc *Supercell) SiteIndex(prim int, u [3]int) (int, error) {
	if prim < 0 || prim >= len(sc.Prim) {
		return 0, fmt.Errorf("primitive site %d out of range [0, %d)", prim, len(sc.Prim))
	}
	t, err := sc.wrap(u)
	if err != nil {
		return 0, err
	}
	return t*len(sc.Prim) + prim, nil
}

// SiteSpaceOf returns the site space governing a supercell site index.
func (sc *Supercell) SiteSpaceOf(site int) (SiteSpace, error) {
	if site < 0 || site >= sc.NumSites() {
		return SiteSpace{}, fmt.Errorf("site %d out of range [0, %d)", site, sc.NumSites())
	}
	return sc.Prim[site%len(sc.Prim)], nil
}

// AllowedSpecies lists the allowed species names per supercell site.
func (sc *Supercell) AllowedSpecies() [][]string {
	out := make([][]string, sc.NumSites())
	for s := range out {
		out[s] = sc.Prim[s%len(sc.Prim)].Names()
	}
	return out
}

// wrap reduces a lattice vector to its residue class and returns the
// translation index of the representative.
func (sc *Supercell) wrap(u [3]int) (int, error) {
	var frac [3]float64
	for i := 0; i < 3; i++ {
		f := sc.frac(i, u)
		frac[i] = f - math.Floor(f+fracTol)
	}
	var wrapped [3]int
	for i := 0; i < 3; i++ {
		v := 0.0
		for j := 0; j < 3; j++ {
			v += float64(sc.Matrix[j][i]) * frac[j]
		}
		wrapped[i] = int(math.Round(v))
	}
	idx, ok := sc.residueIndex[wrapped]
	if !ok {
		return 0, fmt.Errorf("lattice vector %v wraps outside the enumerated supercell", u)
	}
	return idx, nil
}

// realizeOrbit enumerates every concrete site-index tuple of an orbit: one
// instance per (equivalent cluster, supercell translation), in that nesting
// order.
func (sc *Supercell) realizeOrbit(o *Orbit) ([][]int, error) {
	k := o.Size()
	instances := make([][]int, 0, len(o.Clusters)*sc.size)
	for _, cl := range o.Clusters {
		for _, t := range sc.translations {
			inst := make([]int, k)
			for ki, site := range cl {
				u := [3]int{
					t[0] + site.Offset[0],
					t[1] + site.Offset[1],
					t[2] + site.Offset[2],
				}
				idx, err := sc.SiteIndex(site.Prim, u)
				if err != nil {
					return nil, fmt.Errorf("realize orbit cluster site %d: %w", ki, err)
				}
				inst[ki] = idx
			}
			instances = append(instances, inst)
		}
	}
	return instances, nil
}
