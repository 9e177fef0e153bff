package mc

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"golang.org/x/sync/errgroup"

	"plegma/internal/ensemble"
)

// SamplerConfig assembles a sampling run. Each walker receives its own
// random stream (Seed + walker index), usher, bias and kernel; the ensemble
// and its processor are shared read-only.
type SamplerConfig struct {
	Ensemble          ensemble.Ensemble
	Kernel            KernelKind
	Step              StepKind
	Bias              BiasKind
	BiasTargets       []float64
	BiasLambda        float64
	Temperature       float64
	Walkers           int
	ThinBy            int
	Seed              int64
	SublatticeWeights []float64
	Logger            *slog.Logger
}

type walker struct {
	kernel    Kernel
	occ       []int
	features  []float64
	potential float64
	accepted  uint64
}

// Sampler drives independent Markov-chain walkers over one ensemble and
// collects thinned snapshots in a Container. Walkers advance in parallel
// between saves; each owns its occupancy buffer, random stream and running
// feature vector, updated by accumulating accepted deltas.
type Sampler struct {
	ens       ensemble.Ensemble
	params    []float64
	walkers   []*walker
	thinBy    int
	seed      int64
	container *Container
	logger    *slog.Logger
	sweeps    int
}

func NewSampler(cfg SamplerConfig) (*Sampler, error) {
	if cfg.Ensemble == nil {
		return nil, fmt.Errorf("sampler requires an ensemble")
	}
	numWalkers := cfg.Walkers
	if numWalkers == 0 {
		numWalkers = 1
	}
	if numWalkers < 0 {
		return nil, fmt.Errorf("sampler walker count is %d, want > 0", cfg.Walkers)
	}
	thinBy := cfg.ThinBy
	if thinBy == 0 {
		thinBy = 1
	}
	if thinBy < 0 {
		return nil, fmt.Errorf("sampler thinning interval is %d, want > 0", cfg.ThinBy)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var comp *ensemble.CompositionTable
	if cfg.Bias == BiasSquareComposition {
		var err error
		comp, err = ensemble.NewCompositionTable(
			cfg.Ensemble.ActiveSublattices(), cfg.Ensemble.Processor().NumSites())
		if err != nil {
			return nil, fmt.Errorf("bias composition table: %w", err)
		}
	}

	container, err := NewContainer(numWalkers)
	if err != nil {
		return nil, err
	}
	s := &Sampler{
		ens:       cfg.Ensemble,
		params:    cfg.Ensemble.NaturalParameters(),
		thinBy:    thinBy,
		seed:      cfg.Seed,
		container: container,
		logger:    logger,
	}
	for w := 0; w < numWalkers; w++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(w)))
		usher, err := NewUsher(cfg.Step, cfg.Ensemble.ActiveSublattices(), cfg.SublatticeWeights, rng)
		if err != nil {
			return nil, fmt.Errorf("walker %d: %w", w, err)
		}
		bias, err := NewBias(cfg.Bias, BiasConfig{
			Composition: comp,
			Targets:     cfg.BiasTargets,
			Lambda:      cfg.BiasLambda,
		})
		if err != nil {
			return nil, fmt.Errorf("walker %d: %w", w, err)
		}
		kernel, err := NewKernel(cfg.Kernel, cfg.Ensemble, usher, bias, cfg.Temperature, rng)
		if err != nil {
			return nil, fmt.Errorf("walker %d: %w", w, err)
		}
		s.walkers = append(s.walkers, &walker{kernel: kernel})
	}
	return s, nil
}

func (s *Sampler) Container() *Container {
	return s.container
}

func (s *Sampler) NumWalkers() int {
	return len(s.walkers)
}

// TotalSweeps returns the sweeps advanced over all Run calls, rewound to the
// last saved sweep when a resume discards remainder sweeps.
func (s *Sampler) TotalSweeps() int {
	return s.sweeps
}

func (s *Sampler) Ensemble() ensemble.Ensemble {
	return s.ens
}

// Run advances every walker by nsteps sweeps, saving a snapshot at every
// thinBy-th sweep. With initial occupancies the chain starts fresh and the
// container must be empty; with nil initial the chain resumes from the last
// saved sample (ErrNoSamples when there is none). A sweep count that is not
// a multiple of the thinning interval leaves the remainder sweeps unsaved.
// Cancellation is honored between sweeps and leaves saved state valid.
func (s *Sampler) Run(ctx context.Context, nsteps int, initial [][]int) error {
	if nsteps <= 0 {
		return fmt.Errorf("sweep count is %d, want > 0", nsteps)
	}
	if initial != nil && s.container.NumSamples() > 0 {
		return fmt.Errorf("container already holds %d samples; resume with nil initial occupancies", s.container.NumSamples())
	}
	accepted := make([]uint64, len(s.walkers))
	if initial == nil {
		last, err := s.container.LastSample()
		if err != nil {
			return fmt.Errorf("no initial occupancies given: %w", err)
		}
		initial = last.Occupancies
		copy(accepted, last.Accepted)
		s.sweeps = last.Sweep
	} else {
		s.sweeps = 0
	}
	if len(initial) != len(s.walkers) {
		return fmt.Errorf("%d initial occupancies for %d walkers", len(initial), len(s.walkers))
	}

	proc := s.ens.Processor()
	for w, wk := range s.walkers {
		if err := proc.ValidateOccupancy(initial[w]); err != nil {
			return fmt.Errorf("walker %d initial occupancy: %w", w, err)
		}
		wk.occ = make([]int, len(initial[w]))
		copy(wk.occ, initial[w])
		if err := wk.kernel.SetAuxState(wk.occ); err != nil {
			return fmt.Errorf("walker %d aux state: %w", w, err)
		}
		features, err := s.ens.ComputeFeatureVector(wk.occ)
		if err != nil {
			return fmt.Errorf("walker %d feature vector: %w", w, err)
		}
		wk.features = features
		wk.potential = dot(s.params, features)
		wk.accepted = accepted[w]
	}

	if nsteps%s.thinBy != 0 {
		s.logger.Warn("sweep count is not a multiple of the thinning interval; remainder sweeps will not be saved",
			"nsteps", nsteps, "thin_by", s.thinBy)
	}

	done := 0
	for done < nsteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		seg := s.thinBy
		if nsteps-done < seg {
			seg = nsteps - done
		}
		g, gctx := errgroup.WithContext(ctx)
		for w, wk := range s.walkers {
			w, wk := w, wk
			g.Go(func() error {
				for i := 0; i < seg; i++ {
					if err := gctx.Err(); err != nil {
						return err
					}
					result, err := wk.kernel.SingleStep(wk.occ)
					if err != nil {
						return fmt.Errorf("walker %d: %w", w, err)
					}
					if result.Accepted {
						wk.accepted++
						for j, d := range result.DeltaFeatures {
							wk.features[j] += d
						}
						wk.potential += result.DeltaPotential
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		done += seg
		s.sweeps += seg
		if seg == s.thinBy {
			if err := s.save(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sampler) save() error {
	accepted := make([]uint64, len(s.walkers))
	occupancies := make([][]int, len(s.walkers))
	features := make([][]float64, len(s.walkers))
	potentials := make([]float64, len(s.walkers))
	for w, wk := range s.walkers {
		accepted[w] = wk.accepted
		occupancies[w] = wk.occ
		features[w] = wk.features
		potentials[w] = wk.potential
	}
	return s.container.Save(s.sweeps, accepted, occupancies, features, potentials)
}
