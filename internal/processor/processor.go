package processor

import (
	"fmt"

	"plegma/internal/cluster"
)

// Processor evaluates a cluster expansion over one fixed supercell: full
// correlation vectors, the scalar property, and localized changes under site
// reassignments. It owns the adjacency index and coefficient vector and is
// safe for concurrent read-only use once constructed.
type Processor struct {
	index   *cluster.AdjacencyIndex
	coefs   []float64
	allowed [][]string
	spaces  []int
	matrix  [3][3]int
}

type Config struct {
	Supercell    *cluster.Supercell
	Orbits       []*cluster.Orbit
	Coefficients []float64
}

func New(cfg Config) (*Processor, error) {
	if cfg.Supercell == nil {
		return nil, fmt.Errorf("processor requires a supercell")
	}
	index, err := cluster.NewAdjacencyIndex(cfg.Supercell, cfg.Orbits)
	if err != nil {
		return nil, fmt.Errorf("build adjacency index: %w", err)
	}
	if len(cfg.Coefficients) != index.NumFunctions() {
		return nil, fmt.Errorf("coefficient vector has %d entries, want %d correlation functions",
			len(cfg.Coefficients), index.NumFunctions())
	}

	coefs := make([]float64, len(cfg.Coefficients))
	copy(coefs, cfg.Coefficients)
	allowed := cfg.Supercell.AllowedSpecies()
	spaces := make([]int, len(allowed))
	for i, names := range allowed {
		spaces[i] = len(names)
	}
	return &Processor{
		index:   index,
		coefs:   coefs,
		allowed: allowed,
		spaces:  spaces,
		matrix:  cfg.Supercell.Matrix,
	}, nil
}

func (p *Processor) NumSites() int {
	return p.index.NumSites()
}

// Size returns the number of primitive cells in the supercell.
func (p *Processor) Size() int {
	return p.index.Size()
}

func (p *Processor) NumFunctions() int {
	return p.index.NumFunctions()
}

func (p *Processor) Coefficients() []float64 {
	out := make([]float64, len(p.coefs))
	copy(out, p.coefs)
	return out
}

func (p *Processor) SupercellMatrix() [3][3]int {
	return p.matrix
}

// AllowedSpecies returns the species ordering per site; the ordering defines
// the encoded occupancy values.
func (p *Processor) AllowedSpecies() [][]string {
	out := make([][]string, len(p.allowed))
	for i, names := range p.allowed {
		row := make([]string, len(names))
		copy(row, names)
		out[i] = row
	}
	return out
}

// NumAllowed returns the species count at one site.
func (p *Processor) NumAllowed(site int) (int, error) {
	if site < 0 || site >= len(p.spaces) {
		return 0, fmt.Errorf("site %d out of range [0, %d)", site, len(p.spaces))
	}
	return p.spaces[site], nil
}
