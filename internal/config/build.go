package config

import (
	"fmt"
	"log/slog"

	"plegma/internal/cluster"
	"plegma/internal/ensemble"
	"plegma/internal/mc"
	"plegma/internal/model"
	"plegma/internal/processor"
)

// System is the realized lattice model of a configuration: the supercell,
// the orbit list bound to its basis arrays, the evaluation processor and
// the site-space partition.
type System struct {
	Name        string
	Basis       cluster.BasisKind
	Supercell   *cluster.Supercell
	Orbits      []*cluster.Orbit
	Processor   *processor.Processor
	Sublattices []*ensemble.Sublattice
}

// Build realizes the configured model. Site-space measures that do not sum
// to 1 are tolerated but logged, once per primitive site.
func (c *SystemConfig) Build(logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	basisKind, err := cluster.ParseBasisKind(c.Basis)
	if err != nil {
		return nil, err
	}

	spaces := make([]cluster.SiteSpace, len(c.SiteSpaces))
	for i, def := range c.SiteSpaces {
		species := make([]cluster.Species, len(def.Species))
		for j, sp := range def.Species {
			species[j] = cluster.Species{Name: sp.Name, Measure: sp.Measure}
		}
		space, err := cluster.NewSiteSpace(species)
		if err != nil {
			return nil, fmt.Errorf("site space %d: %w", i, err)
		}
		if !space.MeasureIsNormalized() {
			logger.Warn("site space measures do not sum to 1",
				"prim", i, "sum", space.MeasureSum())
		}
		spaces[i] = space
	}

	arrays, err := c.basisArrays(basisKind, spaces)
	if err != nil {
		return nil, err
	}

	orbits := make([]*cluster.Orbit, len(c.Orbits))
	for i, def := range c.Orbits {
		orbit, err := buildOrbit(def, arrays)
		if err != nil {
			return nil, fmt.Errorf("orbit %d: %w", i, err)
		}
		orbits[i] = orbit
	}
	cluster.AssignFeatureOffsets(orbits)

	supercell, err := cluster.NewSupercell(matrix3(c.Supercell), spaces)
	if err != nil {
		return nil, fmt.Errorf("build supercell: %w", err)
	}
	proc, err := processor.New(processor.Config{
		Supercell:    supercell,
		Orbits:       orbits,
		Coefficients: c.Coefficients,
	})
	if err != nil {
		return nil, fmt.Errorf("build processor: %w", err)
	}
	sublattices, err := ensemble.SublatticesFromSupercell(supercell)
	if err != nil {
		return nil, fmt.Errorf("build sublattices: %w", err)
	}

	return &System{
		Name:        c.Name,
		Basis:       basisKind,
		Supercell:   supercell,
		Orbits:      orbits,
		Processor:   proc,
		Sublattices: sublattices,
	}, nil
}

// basisArrays evaluates one site basis per primitive site, orthonormalizing
// when configured, and returns the non-constant function arrays.
func (c *SystemConfig) basisArrays(kind cluster.BasisKind, spaces []cluster.SiteSpace) ([][][]float64, error) {
	arrays := make([][][]float64, len(spaces))
	for i, space := range spaces {
		basis, err := cluster.NewSiteBasis(kind, space)
		if err != nil {
			return nil, fmt.Errorf("site basis for primitive site %d: %w", i, err)
		}
		if c.Orthonormalize {
			if err := basis.Orthonormalize(); err != nil {
				return nil, fmt.Errorf("orthonormalize basis for primitive site %d: %w", i, err)
			}
		}
		arrays[i] = basis.FunctionArray()
	}
	return arrays, nil
}

func buildOrbit(def OrbitDef, arrays [][][]float64) (*cluster.Orbit, error) {
	clusters := make([][]cluster.ClusterSite, 0, 1+len(def.Clusters))
	representative, err := clusterSites(def.Sites)
	if err != nil {
		return nil, err
	}
	clusters = append(clusters, representative)
	for ci, sites := range def.Clusters {
		realized, err := clusterSites(sites)
		if err != nil {
			return nil, fmt.Errorf("cluster %d: %w", ci, err)
		}
		clusters = append(clusters, realized)
	}

	bases := make([][][]float64, len(representative))
	funcCounts := make([]int, len(representative))
	for ki, site := range representative {
		bases[ki] = arrays[site.Prim]
		funcCounts[ki] = len(arrays[site.Prim])
	}

	return &cluster.Orbit{
		Clusters: clusters,
		Combos:   cluster.EnumerateCombos(funcCounts),
		Bases:    bases,
	}, nil
}

func clusterSites(defs []ClusterSiteDef) ([]cluster.ClusterSite, error) {
	sites := make([]cluster.ClusterSite, len(defs))
	for i, def := range defs {
		site := cluster.ClusterSite{Prim: def.Prim}
		switch len(def.Offset) {
		case 0:
		case 3:
			site.Offset = [3]int{def.Offset[0], def.Offset[1], def.Offset[2]}
		default:
			return nil, fmt.Errorf("site %d offset must have 3 entries, got %d", i, len(def.Offset))
		}
		sites[i] = site
	}
	return sites, nil
}

func matrix3(rows [][]int) [3][3]int {
	var m [3][3]int
	for i := 0; i < 3 && i < len(rows); i++ {
		for j := 0; j < 3 && j < len(rows[i]); j++ {
			m[i][j] = rows[i][j]
		}
	}
	return m
}

// BuildEnsemble binds the realized system to the configured thermodynamic
// ensemble and applies any configured site restrictions.
func (c *SystemConfig) BuildEnsemble(sys *System) (ensemble.Ensemble, error) {
	kind, err := ensemble.ParseKind(c.Run.Ensemble)
	if err != nil {
		return nil, err
	}

	var ens ensemble.Ensemble
	switch kind {
	case ensemble.KindCanonical:
		ens, err = ensemble.NewCanonical(sys.Processor, sys.Sublattices)
	case ensemble.KindSemiGrand:
		ens, err = ensemble.NewSemiGrand(sys.Processor, sys.Sublattices, c.Run.ChemicalPotentials)
	default:
		return nil, fmt.Errorf("unsupported ensemble kind %s", kind)
	}
	if err != nil {
		return nil, err
	}

	if len(c.RestrictedSites) > 0 {
		ens.RestrictSites(c.RestrictedSites)
	}
	return ens, nil
}

// SamplerConfig maps the run parameters onto a sampler configuration over
// an already-built ensemble.
func (c *SystemConfig) SamplerConfig(ens ensemble.Ensemble, logger *slog.Logger) (mc.SamplerConfig, error) {
	kernelKind, err := mc.ParseKernelKind(c.Run.Kernel)
	if err != nil {
		return mc.SamplerConfig{}, err
	}
	stepKind, err := mc.ParseStepKind(c.Run.Step)
	if err != nil {
		return mc.SamplerConfig{}, err
	}
	biasKind, err := mc.ParseBiasKind(c.Run.Bias)
	if err != nil {
		return mc.SamplerConfig{}, err
	}

	return mc.SamplerConfig{
		Ensemble:          ens,
		Kernel:            kernelKind,
		Step:              stepKind,
		Bias:              biasKind,
		BiasTargets:       c.Run.BiasTargets,
		BiasLambda:        c.Run.BiasLambda,
		Temperature:       c.Run.Temperature,
		Walkers:           c.Run.Walkers,
		ThinBy:            c.Run.ThinBy,
		Seed:              c.Run.Seed,
		SublatticeWeights: c.Run.SublatticeWeights,
		Logger:            logger,
	}, nil
}

// InitialOccupancies encodes the configured starting occupancies, one per
// walker, from species names to codes. Returns nil when none are set.
func (c *SystemConfig) InitialOccupancies(sys *System) ([][]int, error) {
	if len(c.Run.InitialOccupancy) == 0 {
		return nil, nil
	}
	out := make([][]int, len(c.Run.InitialOccupancy))
	for i, names := range c.Run.InitialOccupancy {
		occ, err := sys.Processor.EncodeOccupancy(names)
		if err != nil {
			return nil, fmt.Errorf("initial occupancy %d: %w", i, err)
		}
		out[i] = occ
	}
	return out, nil
}

// RunRecord projects the configuration onto a persistable run record.
// Version stamps are left to the storage layer.
func (c *SystemConfig) RunRecord(runID, parentID, createdAtUTC string, sys *System) model.RunRecord {
	matrix := sys.Processor.SupercellMatrix()
	rows := make([][]int, 3)
	for i := range rows {
		rows[i] = []int{matrix[i][0], matrix[i][1], matrix[i][2]}
	}
	return model.RunRecord{
		ID:              runID,
		ParentID:        parentID,
		CreatedAtUTC:    createdAtUTC,
		SystemName:      c.Name,
		Ensemble:        c.Run.Ensemble,
		Kernel:          c.Run.Kernel,
		StepType:        c.Run.Step,
		Bias:            c.Run.Bias,
		Temperature:     c.Run.Temperature,
		Seed:            c.Run.Seed,
		Walkers:         c.Run.Walkers,
		Sweeps:          c.Run.Sweeps,
		ThinBy:          c.Run.ThinBy,
		NumSites:        sys.Processor.NumSites(),
		SupercellMatrix: rows,
		Coefficients:    sys.Processor.Coefficients(),
		ConfigYAML:      string(c.Raw),
	}
}
