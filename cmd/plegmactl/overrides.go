package main

import (
	"flag"

	"plegma/internal/config"
	"plegma/pkg/plegma"
)

// runOverrides binds the run-parameter flags shared by run and scan. Only
// flags the user actually set override the configuration file.
type runOverrides struct {
	ensemble *string
	kernel   *string
	step     *string
	bias     *string
	temp     *float64
	steps    *int
	thin     *int
	walkers  *int
	seed     *int64
}

func bindRunOverrides(fs *flag.FlagSet) *runOverrides {
	return &runOverrides{
		ensemble: fs.String("ensemble", "", "ensemble: canonical|semigrand"),
		kernel:   fs.String("kernel", "", "kernel: metropolis|uniform"),
		step:     fs.String("step", "", "step proposal: flip|swap|exchange"),
		bias:     fs.String("bias", "", "bias: none|square_composition"),
		temp:     fs.Float64("temp", 0, "temperature in K"),
		steps:    fs.Int("steps", 0, "sweep count"),
		thin:     fs.Int("thin", 0, "thinning interval"),
		walkers:  fs.Int("walkers", 0, "walker count"),
		seed:     fs.Int64("seed", 0, "rng seed"),
	}
}

func (o *runOverrides) apply(fs *flag.FlagSet, cfg *config.SystemConfig) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	if set["ensemble"] {
		cfg.Run.Ensemble = *o.ensemble
	}
	if set["kernel"] {
		cfg.Run.Kernel = *o.kernel
	}
	if set["step"] {
		cfg.Run.Step = *o.step
	}
	if set["bias"] {
		cfg.Run.Bias = *o.bias
	}
	if set["temp"] {
		cfg.Run.Temperature = *o.temp
	}
	if set["steps"] {
		cfg.Run.Sweeps = *o.steps
	}
	if set["thin"] {
		cfg.Run.ThinBy = *o.thin
	}
	if set["walkers"] {
		cfg.Run.Walkers = *o.walkers
	}
	if set["seed"] {
		cfg.Run.Seed = *o.seed
	}
}

type storeFlags struct {
	store     *string
	dbPath    *string
	artifacts *string
}

func bindStoreFlags(fs *flag.FlagSet) *storeFlags {
	return &storeFlags{
		store:     fs.String("store", "", "store backend: memory|sqlite"),
		dbPath:    fs.String("db", "", "sqlite database path"),
		artifacts: fs.String("artifacts", "", "artifacts directory"),
	}
}

func (s *storeFlags) options() plegma.Options {
	return plegma.Options{
		StoreKind:    *s.store,
		DBPath:       *s.dbPath,
		ArtifactsDir: *s.artifacts,
	}
}
