package cluster

import (
	"fmt"
	"math"
)

// BasisKind selects the single-site basis family used to build the
// non-constant site functions of a site space.
type BasisKind int

const (
	BasisIndicator BasisKind = iota
	BasisSinusoid
	BasisChebyshev
	BasisLegendre
)

func (k BasisKind) String() string {
	switch k {
	case BasisIndicator:
		return "indicator"
	case BasisSinusoid:
		return "sinusoid"
	case BasisChebyshev:
		return "chebyshev"
	case BasisLegendre:
		return "legendre"
	default:
		return fmt.Sprintf("basis(%d)", int(k))
	}
}

func ParseBasisKind(name string) (BasisKind, error) {
	switch name {
	case "indicator":
		return BasisIndicator, nil
	case "sinusoid":
		return BasisSinusoid, nil
	case "chebyshev":
		return BasisChebyshev, nil
	case "legendre":
		return BasisLegendre, nil
	default:
		return 0, fmt.Errorf("unknown basis kind %q (valid: indicator, sinusoid, chebyshev, legendre)", name)
	}
}

func BasisKinds() []BasisKind {
	return []BasisKind{BasisIndicator, BasisSinusoid, BasisChebyshev, BasisLegendre}
}

// SiteBasis holds the values of the site functions of one site space,
// evaluated at every species code. Row f, column s is function f+1 applied
// to species s; the constant function is implicit and never stored in
// FunctionArray. Orthonormalization is with respect to the species measures.
type SiteBasis struct {
	Kind  BasisKind
	Space SiteSpace

	// funcs includes the constant row at index 0 so that normalization of
	// the whole set is well defined.
	funcs [][]float64
}

// NewSiteBasis evaluates the chosen basis family over the site space.
// None of the families yields an orthonormal set for every species count;
// call Orthonormalize for a measure-orthonormal set.
func NewSiteBasis(kind BasisKind, space SiteSpace) (*SiteBasis, error) {
	m := space.Len()
	if m == 0 {
		return nil, fmt.Errorf("site basis requires a non-empty site space")
	}
	funcs := make([][]float64, m)
	funcs[0] = make([]float64, m)
	for s := range funcs[0] {
		funcs[0][s] = 1.0
	}
	for f := 1; f < m; f++ {
		row := make([]float64, m)
		for s := 0; s < m; s++ {
			v, err := evalBasisFunction(kind, f, s, m)
			if err != nil {
				return nil, err
			}
			row[s] = v
		}
		funcs[f] = row
	}
	return &SiteBasis{Kind: kind, Space: space, funcs: funcs}, nil
}

// evalBasisFunction returns function f (1-based among non-constant functions)
// of an m-species space at species code s.
func evalBasisFunction(kind BasisKind, f, s, m int) (float64, error) {
	switch kind {
	case BasisIndicator:
		if f-1 == s {
			return 1.0, nil
		}
		return 0.0, nil
	case BasisSinusoid:
		// Sine for even n, cosine for odd, after van de Walle.
		n := f
		a := float64((n + 1) / 2)
		arg := 2.0 * math.Pi * a * float64(s) / float64(m)
		if n%2 == 0 {
			return -math.Sin(arg), nil
		}
		return -math.Cos(arg), nil
	case BasisChebyshev:
		return chebyshev(f, polyPoint(s, m)), nil
	case BasisLegendre:
		return legendre(f, polyPoint(s, m)), nil
	default:
		return 0, fmt.Errorf("unknown basis kind %d", kind)
	}
}

// polyPoint maps species code s of an m-species space onto [-1, 1].
func polyPoint(s, m int) float64 {
	if m == 1 {
		return -1.0
	}
	return -1.0 + 2.0*float64(s)/float64(m-1)
}

func chebyshev(n int, x float64) float64 {
	switch n {
	case 0:
		return 1.0
	case 1:
		return x
	}
	prev, cur := 1.0, x
	for k := 1; k < n; k++ {
		prev, cur = cur, 2.0*x*cur-prev
	}
	return cur
}

func legendre(n int, x float64) float64 {
	switch n {
	case 0:
		return 1.0
	case 1:
		return x
	}
	prev, cur := 1.0, x
	for k := 1; k < n; k++ {
		prev, cur = cur, ((2.0*float64(k)+1.0)*x*cur-float64(k)*prev)/float64(k+1)
	}
	return cur
}

// FunctionArray returns the non-constant function values, row per function,
// column per species code. The slice is a copy.
func (b *SiteBasis) FunctionArray() [][]float64 {
	out := make([][]float64, len(b.funcs)-1)
	for f := 1; f < len(b.funcs); f++ {
		row := make([]float64, len(b.funcs[f]))
		copy(row, b.funcs[f])
		out[f-1] = row
	}
	return out
}

// Orthonormalize rewrites the function set in place using modified
// Gram-Schmidt with the inner product <f, g> = sum_s measure_s f(s) g(s).
// The constant function participates so the whole set is normalized against
// the measure.
func (b *SiteBasis) Orthonormalize() error {
	measures := b.Space.Measures()
	n := len(b.funcs)
	v := make([][]float64, n)
	for i := range b.funcs {
		v[i] = make([]float64, len(b.funcs[i]))
		copy(v[i], b.funcs[i])
	}
	q := make([][]float64, n)
	for i := 0; i < n; i++ {
		norm := math.Sqrt(measureDot(measures, v[i], v[i]))
		if norm == 0 || math.IsNaN(norm) {
			return fmt.Errorf("cannot orthonormalize basis: function %d has zero norm under the site measure", i)
		}
		q[i] = make([]float64, len(v[i]))
		for s := range v[i] {
			q[i][s] = v[i][s] / norm
		}
		for j := i + 1; j < n; j++ {
			r := measureDot(measures, v[j], q[i])
			for s := range v[j] {
				v[j][s] -= r * q[i][s]
			}
		}
	}
	b.funcs = q
	return nil
}

func (b *SiteBasis) IsOrthogonal() bool {
	measures := b.Space.Measures()
	n := len(b.funcs)
	for i := 0; i < n; i++ {
		if math.Abs(measureDot(measures, b.funcs[i], b.funcs[i])) < 1e-8 {
			return false
		}
		for j := i + 1; j < n; j++ {
			if math.Abs(measureDot(measures, b.funcs[i], b.funcs[j])) > 1e-8 {
				return false
			}
		}
	}
	return true
}

func (b *SiteBasis) IsOrthonormal() bool {
	measures := b.Space.Measures()
	n := len(b.funcs)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			want := 0.0
			if i == j {
				want = 1.0
			}
			if math.Abs(measureDot(measures, b.funcs[i], b.funcs[j])-want) > 1e-8 {
				return false
			}
		}
	}
	return true
}

func measureDot(measures, f, g []float64) float64 {
	acc := 0.0
	for s := range f {
		acc += measures[s] * f[s] * g[s]
	}
	return acc
}
