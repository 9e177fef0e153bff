package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"plegma/internal/cluster"
	"plegma/internal/ensemble"
	"plegma/internal/mc"
)

// SpeciesDef names one allowed species and its concentration measure.
type SpeciesDef struct {
	Name    string  `yaml:"name"`
	Measure float64 `yaml:"measure"`
}

// SiteSpaceDef is the ordered species set of one primitive site. The order
// defines the encoded occupancy values.
type SiteSpaceDef struct {
	Species []SpeciesDef `yaml:"species"`
}

// ClusterSiteDef locates one cluster site as a primitive-site index plus an
// integer lattice offset.
type ClusterSiteDef struct {
	Prim   int   `yaml:"prim"`
	Offset []int `yaml:"offset"`
}

// OrbitDef declares one orbit by a representative cluster; equivalent
// realizations may be listed explicitly.
type OrbitDef struct {
	Sites    []ClusterSiteDef   `yaml:"sites"`
	Clusters [][]ClusterSiteDef `yaml:"clusters,omitempty"`
}

// RunDef carries the sampling parameters of a run. Every field can be
// overridden by a CLI flag.
type RunDef struct {
	Ensemble           string             `yaml:"ensemble"`
	ChemicalPotentials map[string]float64 `yaml:"chemical_potentials,omitempty"`
	Kernel             string             `yaml:"kernel"`
	Step               string             `yaml:"step"`
	Bias               string             `yaml:"bias"`
	BiasTargets        []float64          `yaml:"bias_targets,omitempty"`
	BiasLambda         float64            `yaml:"bias_lambda,omitempty"`
	Temperature        float64            `yaml:"temperature"`
	Sweeps             int                `yaml:"sweeps"`
	ThinBy             int                `yaml:"thin_by"`
	Walkers            int                `yaml:"walkers"`
	Seed               int64              `yaml:"seed"`
	SublatticeWeights  []float64          `yaml:"sublattice_weights,omitempty"`
	InitialOccupancy   [][]string         `yaml:"initial_occupancy,omitempty"`
}

// SystemConfig is the YAML description of a sampling system: the lattice
// model (site spaces, orbits, basis, supercell, coefficients) plus the
// default run parameters.
type SystemConfig struct {
	Name            string         `yaml:"name"`
	Basis           string         `yaml:"basis"`
	Orthonormalize  bool           `yaml:"orthonormalize"`
	Supercell       [][]int        `yaml:"supercell"`
	SiteSpaces      []SiteSpaceDef `yaml:"site_spaces"`
	Orbits          []OrbitDef     `yaml:"orbits"`
	Coefficients    []float64      `yaml:"coefficients"`
	RestrictedSites []int          `yaml:"restricted_sites,omitempty"`
	Run             RunDef         `yaml:"run"`

	// Raw is the source document, kept so run records can embed it.
	Raw []byte `yaml:"-"`
}

// Load reads and parses a system configuration file.
func Load(path string) (*SystemConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a system configuration document. Unknown fields are
// rejected so typos fail loudly.
func Parse(data []byte) (*SystemConfig, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("config document is empty")
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var cfg SystemConfig
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}
	cfg.Raw = append([]byte(nil), data...)
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *SystemConfig) applyDefaults() {
	if c.Basis == "" {
		c.Basis = "indicator"
	}
	if c.Run.Ensemble == "" {
		c.Run.Ensemble = "canonical"
	}
	if c.Run.Kernel == "" {
		c.Run.Kernel = "metropolis"
	}
	if c.Run.Bias == "" {
		c.Run.Bias = "none"
	}
	if c.Run.Step == "" {
		if kind, err := ensemble.ParseKind(c.Run.Ensemble); err == nil && kind == ensemble.KindSemiGrand {
			c.Run.Step = "flip"
		} else {
			c.Run.Step = "swap"
		}
	}
}

// Validate checks the document without building the model. Structural
// errors the constructors would also reject are caught here with clearer
// messages; deep geometric validation stays in Build.
func (c *SystemConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("system name is required")
	}
	if _, err := cluster.ParseBasisKind(c.Basis); err != nil {
		return err
	}
	if len(c.Supercell) != 3 {
		return fmt.Errorf("supercell matrix must have 3 rows, got %d", len(c.Supercell))
	}
	for i, row := range c.Supercell {
		if len(row) != 3 {
			return fmt.Errorf("supercell matrix row %d must have 3 entries, got %d", i, len(row))
		}
	}
	if len(c.SiteSpaces) == 0 {
		return fmt.Errorf("at least one site space is required")
	}
	for i, def := range c.SiteSpaces {
		if len(def.Species) == 0 {
			return fmt.Errorf("site space %d has no species", i)
		}
		for j, sp := range def.Species {
			if sp.Name == "" {
				return fmt.Errorf("site space %d species %d has no name", i, j)
			}
			if sp.Measure < 0 {
				return fmt.Errorf("site space %d species %s has negative measure %v", i, sp.Name, sp.Measure)
			}
		}
	}
	if len(c.Orbits) == 0 {
		return fmt.Errorf("at least one orbit is required")
	}
	for i, def := range c.Orbits {
		if err := c.validateOrbit(i, def); err != nil {
			return err
		}
	}
	if want := c.expectedCoefficients(); len(c.Coefficients) != want {
		return fmt.Errorf("coefficient vector has %d entries, want %d correlation functions", len(c.Coefficients), want)
	}
	return c.validateRun()
}

func (c *SystemConfig) validateOrbit(i int, def OrbitDef) error {
	if len(def.Sites) == 0 {
		return fmt.Errorf("orbit %d has no sites", i)
	}
	clusters := append([][]ClusterSiteDef{def.Sites}, def.Clusters...)
	for ci, sites := range clusters {
		if len(sites) != len(def.Sites) {
			return fmt.Errorf("orbit %d cluster %d has %d sites, want %d", i, ci, len(sites), len(def.Sites))
		}
		for ki, site := range sites {
			if site.Prim < 0 || site.Prim >= len(c.SiteSpaces) {
				return fmt.Errorf("orbit %d site %d references primitive site %d of %d", i, ki, site.Prim, len(c.SiteSpaces))
			}
			if len(site.Offset) != 0 && len(site.Offset) != 3 {
				return fmt.Errorf("orbit %d site %d offset must have 3 entries, got %d", i, ki, len(site.Offset))
			}
			if len(c.SiteSpaces[site.Prim].Species) < 2 {
				return fmt.Errorf("orbit %d site %d sits on an inactive site space", i, ki)
			}
		}
	}
	return nil
}

// expectedCoefficients counts correlation functions: the constant plus, per
// orbit, one function for every combination of non-constant site functions.
func (c *SystemConfig) expectedCoefficients() int {
	total := 1
	for _, def := range c.Orbits {
		n := 1
		for _, site := range def.Sites {
			if site.Prim < 0 || site.Prim >= len(c.SiteSpaces) {
				return -1
			}
			n *= len(c.SiteSpaces[site.Prim].Species) - 1
		}
		total += n
	}
	return total
}

func (c *SystemConfig) validateRun() error {
	ensKind, err := ensemble.ParseKind(c.Run.Ensemble)
	if err != nil {
		return err
	}
	kernelKind, err := mc.ParseKernelKind(c.Run.Kernel)
	if err != nil {
		return err
	}
	stepKind, err := mc.ParseStepKind(c.Run.Step)
	if err != nil {
		return err
	}
	if err := mc.CheckStepKind(ensKind, stepKind); err != nil {
		return err
	}
	biasKind, err := mc.ParseBiasKind(c.Run.Bias)
	if err != nil {
		return err
	}

	if ensKind == ensemble.KindSemiGrand && len(c.Run.ChemicalPotentials) == 0 {
		return fmt.Errorf("semigrand ensemble requires chemical potentials")
	}
	if kernelKind == mc.KernelMetropolis && c.Run.Temperature <= 0 {
		return fmt.Errorf("metropolis kernel requires a positive temperature, got %v", c.Run.Temperature)
	}
	if c.Run.Sweeps < 0 {
		return fmt.Errorf("sweeps must be non-negative, got %d", c.Run.Sweeps)
	}
	if c.Run.ThinBy < 0 {
		return fmt.Errorf("thin_by must be non-negative, got %d", c.Run.ThinBy)
	}
	if c.Run.Walkers < 0 {
		return fmt.Errorf("walkers must be non-negative, got %d", c.Run.Walkers)
	}
	if biasKind == mc.BiasSquareComposition {
		if len(c.Run.BiasTargets) == 0 {
			return fmt.Errorf("square_composition bias requires bias_targets")
		}
		for i, target := range c.Run.BiasTargets {
			if target < 0 || target > 1 {
				return fmt.Errorf("bias target %d is %v, want a fraction in [0, 1]", i, target)
			}
		}
		if c.Run.BiasLambda < 0 {
			return fmt.Errorf("bias_lambda must be non-negative, got %v", c.Run.BiasLambda)
		}
	}
	for i, weight := range c.Run.SublatticeWeights {
		if weight <= 0 {
			return fmt.Errorf("sublattice weight %d must be positive, got %v", i, weight)
		}
	}
	for i, row := range c.Run.InitialOccupancy {
		if len(row) == 0 {
			return fmt.Errorf("initial occupancy %d is empty", i)
		}
	}
	return nil
}
