// Package plegma is the public facade over the lattice-model sampling
// engine: it loads a system configuration, runs or resumes Markov-chain
// sampling, and persists run records, samples and artifacts.
package plegma

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"plegma/internal/config"
	"plegma/internal/ensemble"
	"plegma/internal/mc"
	"plegma/internal/model"
	"plegma/internal/stats"
	"plegma/internal/storage"
)

const (
	defaultArtifactsDir = "artifacts"
	defaultExportsDir   = "exports"
	defaultDBPath       = "plegma.db"
)

type Options struct {
	StoreKind    string
	DBPath       string
	ArtifactsDir string
	ExportsDir   string
	Logger       *slog.Logger
}

type Client struct {
	store  storage.Store
	logger *slog.Logger

	artifactsDir string
	exportsDir   string

	// Serializes artifact-directory writes; the run index is a
	// read-modify-write and concurrent scan points share it.
	artifactsMu sync.Mutex
}

// RunRequest describes one fresh sampling run. Exactly one of ConfigPath and
// Config must be set; overrides to the run parameters are applied to the
// configuration before calling Run.
type RunRequest struct {
	ConfigPath string
	Config     *config.SystemConfig
	RunID      string
}

type RunSummary struct {
	RunID         string
	ArtifactsDir  string
	Sweeps        int
	Samples       int
	MeanPotential float64
	StdPotential  float64
	Acceptance    float64
}

type ResumeRequest struct {
	RunID  string
	Sweeps int
	NewID  string
}

type StatsRequest struct {
	RunID   string
	Discard int
	Thin    int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID         string
	ParentID      string
	CreatedAtUTC  string
	SystemName    string
	Ensemble      string
	Kernel        string
	StepType      string
	Temperature   float64
	Walkers       int
	Sweeps        int
	Seed          int64
	MeanPotential float64
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = "memory"
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = defaultArtifactsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Init(context.Background()); err != nil {
		_ = storage.CloseIfSupported(store)
		return nil, fmt.Errorf("init %s store: %w", storeKind, err)
	}

	return &Client{
		store:        store,
		logger:       logger,
		artifactsDir: artifactsDir,
		exportsDir:   exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Store() storage.Store {
	return c.store
}

func (c *Client) ArtifactsDir() string {
	return c.artifactsDir
}

// Run builds the configured system, samples it, and persists the run record,
// samples and artifacts. Initial occupancies come from the configuration
// when given (a single occupancy is broadcast to every walker), otherwise
// they are drawn uniformly from the sublattice partition using the run seed.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	cfg, err := c.resolveConfig(req)
	if err != nil {
		return RunSummary{}, err
	}
	if cfg.Run.Sweeps <= 0 {
		return RunSummary{}, fmt.Errorf("run requires a positive sweep count, got %d", cfg.Run.Sweeps)
	}

	sys, err := cfg.Build(c.logger)
	if err != nil {
		return RunSummary{}, err
	}
	ens, err := cfg.BuildEnsemble(sys)
	if err != nil {
		return RunSummary{}, err
	}
	samplerCfg, err := cfg.SamplerConfig(ens, c.logger)
	if err != nil {
		return RunSummary{}, err
	}
	sampler, err := mc.NewSampler(samplerCfg)
	if err != nil {
		return RunSummary{}, err
	}

	initial, err := cfg.InitialOccupancies(sys)
	if err != nil {
		return RunSummary{}, err
	}
	initial, err = spreadInitial(initial, sampler.NumWalkers(), cfg, sys)
	if err != nil {
		return RunSummary{}, err
	}

	if err := sampler.Run(ctx, cfg.Run.Sweeps, initial); err != nil {
		return RunSummary{}, err
	}

	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	return c.persist(ctx, cfg, sys, sampler, runID, "", 0)
}

// Resume continues a stored run from its last saved sample for req.Sweeps
// more sweeps, persisting the continuation as a new run linked by ParentID.
// A run with no saved samples cannot be resumed and surfaces
// mc.ErrNoSamples.
func (c *Client) Resume(ctx context.Context, req ResumeRequest) (RunSummary, error) {
	if req.RunID == "" {
		return RunSummary{}, errors.New("resume requires a run id")
	}
	record, ok, err := c.store.GetRun(ctx, req.RunID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("run not found: %s", req.RunID)
	}
	if record.ConfigYAML == "" {
		return RunSummary{}, fmt.Errorf("run %s carries no configuration; cannot rebuild the system", req.RunID)
	}

	cfg, err := config.Parse([]byte(record.ConfigYAML))
	if err != nil {
		return RunSummary{}, fmt.Errorf("rebuild config for run %s: %w", req.RunID, err)
	}
	if req.Sweeps > 0 {
		cfg.Run.Sweeps = req.Sweeps
	}
	if cfg.Run.Sweeps <= 0 {
		return RunSummary{}, fmt.Errorf("resume requires a positive sweep count, got %d", cfg.Run.Sweeps)
	}

	sys, err := cfg.Build(c.logger)
	if err != nil {
		return RunSummary{}, err
	}
	ens, err := cfg.BuildEnsemble(sys)
	if err != nil {
		return RunSummary{}, err
	}
	samplerCfg, err := cfg.SamplerConfig(ens, c.logger)
	if err != nil {
		return RunSummary{}, err
	}
	sampler, err := mc.NewSampler(samplerCfg)
	if err != nil {
		return RunSummary{}, err
	}

	last, ok, err := c.store.LastSamples(ctx, req.RunID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok || len(last) == 0 {
		return RunSummary{}, fmt.Errorf("resume run %s: %w", req.RunID, mc.ErrNoSamples)
	}
	resumeSweep, err := seedContainer(sampler, last)
	if err != nil {
		return RunSummary{}, fmt.Errorf("resume run %s: %w", req.RunID, err)
	}

	if err := sampler.Run(ctx, cfg.Run.Sweeps, nil); err != nil {
		return RunSummary{}, err
	}

	newID := req.NewID
	if newID == "" {
		newID = uuid.NewString()
	}
	return c.persist(ctx, cfg, sys, sampler, newID, req.RunID, resumeSweep)
}

// Stats recomputes a run's summary from stored samples, optionally
// discarding the first Discard saves per walker and keeping every Thin-th of
// the rest.
func (c *Client) Stats(ctx context.Context, req StatsRequest) (stats.RunSummary, error) {
	if req.RunID == "" {
		return stats.RunSummary{}, errors.New("stats requires a run id")
	}
	if req.Discard < 0 || req.Thin < 0 {
		return stats.RunSummary{}, errors.New("discard and thin must be >= 0")
	}
	record, ok, err := c.store.GetRun(ctx, req.RunID)
	if err != nil {
		return stats.RunSummary{}, err
	}
	if !ok {
		return stats.RunSummary{}, fmt.Errorf("run not found: %s", req.RunID)
	}
	samples, err := c.store.LoadSamples(ctx, req.RunID)
	if err != nil {
		return stats.RunSummary{}, err
	}
	filtered := filterSamples(samples, req.Discard, req.Thin)
	if len(filtered) == 0 {
		return stats.RunSummary{}, fmt.Errorf("run %s: no samples left after discard=%d thin=%d", req.RunID, req.Discard, req.Thin)
	}
	return stats.BuildRunSummary(record, filtered)
}

func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	entries, err := stats.ListRunIndex(c.artifactsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:         e.RunID,
			ParentID:      e.ParentID,
			CreatedAtUTC:  e.CreatedAtUTC,
			SystemName:    e.SystemName,
			Ensemble:      e.Ensemble,
			Kernel:        e.Kernel,
			StepType:      e.StepType,
			Temperature:   e.Temperature,
			Walkers:       e.Walkers,
			Sweeps:        e.Sweeps,
			Seed:          e.Seed,
			MeanPotential: e.MeanPotential,
		})
	}
	return out, nil
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	if req.RunID != "" && req.Latest {
		return ExportSummary{}, errors.New("use either run id or latest")
	}
	if req.RunID == "" && !req.Latest {
		return ExportSummary{}, errors.New("export requires run id or latest")
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	runID := req.RunID
	if req.Latest {
		entries, err := stats.ListRunIndex(c.artifactsDir)
		if err != nil {
			return ExportSummary{}, err
		}
		if len(entries) == 0 {
			return ExportSummary{}, errors.New("no runs available to export")
		}
		runID = entries[0].RunID
	}

	exportedDir, err := stats.ExportRunArtifacts(c.artifactsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveConfig(req RunRequest) (*config.SystemConfig, error) {
	if req.Config != nil && req.ConfigPath != "" {
		return nil, errors.New("use either a config path or a parsed config")
	}
	if req.Config != nil {
		return req.Config, nil
	}
	if req.ConfigPath == "" {
		return nil, errors.New("run requires a config path or a parsed config")
	}
	return config.Load(req.ConfigPath)
}

// persist writes the run record, its samples past afterSweep, the artifact
// directory and the run index entry.
func (c *Client) persist(ctx context.Context, cfg *config.SystemConfig, sys *config.System, sampler *mc.Sampler, runID, parentID string, afterSweep int) (RunSummary, error) {
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	record := cfg.RunRecord(runID, parentID, createdAt, sys)
	record.Sweeps = sampler.TotalSweeps()
	record.VersionedRecord = model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}

	samples, err := sampleRecords(runID, sampler.Container(), afterSweep)
	if err != nil {
		return RunSummary{}, err
	}
	if len(samples) == 0 {
		return RunSummary{}, fmt.Errorf("run %s produced no saved samples; check sweeps against thin_by", runID)
	}

	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, err
	}
	if err := c.store.AppendSamples(ctx, runID, samples); err != nil {
		return RunSummary{}, err
	}

	summary, err := stats.BuildRunSummary(record, samples)
	if err != nil {
		return RunSummary{}, err
	}
	c.artifactsMu.Lock()
	defer c.artifactsMu.Unlock()
	runDir, err := stats.WriteRunArtifacts(c.artifactsDir, stats.RunArtifacts{
		Record:  record,
		Samples: samples,
		Summary: summary,
	})
	if err != nil {
		return RunSummary{}, err
	}
	if err := stats.AppendRunIndex(c.artifactsDir, stats.RunIndexEntry{
		RunID:         runID,
		ParentID:      parentID,
		SystemName:    record.SystemName,
		Ensemble:      record.Ensemble,
		Kernel:        record.Kernel,
		StepType:      record.StepType,
		Temperature:   record.Temperature,
		Walkers:       record.Walkers,
		Sweeps:        record.Sweeps,
		Seed:          record.Seed,
		MeanPotential: summary.MeanPotential,
		CreatedAtUTC:  createdAt,
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:         runID,
		ArtifactsDir:  filepath.Clean(runDir),
		Sweeps:        record.Sweeps,
		Samples:       len(samples),
		MeanPotential: summary.MeanPotential,
		StdPotential:  summary.StdPotential,
		Acceptance:    summary.MeanAcceptance,
	}, nil
}

// spreadInitial resolves the per-walker initial occupancies: broadcast a
// single configured occupancy, or draw random ones from the run seed.
func spreadInitial(initial [][]int, walkers int, cfg *config.SystemConfig, sys *config.System) ([][]int, error) {
	switch {
	case len(initial) == walkers:
		return initial, nil
	case len(initial) == 1:
		out := make([][]int, walkers)
		for w := range out {
			out[w] = initial[0]
		}
		return out, nil
	case len(initial) == 0:
		rng := rand.New(rand.NewSource(cfg.Run.Seed))
		out := make([][]int, walkers)
		for w := range out {
			occ, err := ensemble.RandomOccupancy(sys.Sublattices, sys.Processor.NumSites(), rng)
			if err != nil {
				return nil, err
			}
			out[w] = occ
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%d initial occupancies configured for %d walkers", len(initial), walkers)
	}
}

// seedContainer replays the stored last sample into the sampler's container
// so Run resumes from it. Returns the sweep the chain resumes at.
func seedContainer(sampler *mc.Sampler, last []model.SampleRecord) (int, error) {
	if len(last) != sampler.NumWalkers() {
		return 0, fmt.Errorf("last sample covers %d walkers, sampler has %d", len(last), sampler.NumWalkers())
	}
	ordered := append([]model.SampleRecord(nil), last...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Walker < ordered[j].Walker })

	sweep := ordered[0].Sweep
	accepted := make([]uint64, len(ordered))
	occupancies := make([][]int, len(ordered))
	features := make([][]float64, len(ordered))
	potentials := make([]float64, len(ordered))
	for i, rec := range ordered {
		if rec.Walker != i {
			return 0, fmt.Errorf("last sample is missing walker %d", i)
		}
		if rec.Sweep != sweep {
			return 0, fmt.Errorf("last sample sweeps disagree: walker %d at %d, walker 0 at %d", i, rec.Sweep, sweep)
		}
		accepted[i] = rec.Accepted
		occupancies[i] = rec.Occupancy
		features[i] = rec.Features
		potentials[i] = rec.Potential
	}
	if err := sampler.Container().Save(sweep, accepted, occupancies, features, potentials); err != nil {
		return 0, err
	}
	return sweep, nil
}

// sampleRecords converts container samples past afterSweep into persistable
// records, one per walker per save.
func sampleRecords(runID string, container *mc.Container, afterSweep int) ([]model.SampleRecord, error) {
	var out []model.SampleRecord
	for i := 0; i < container.NumSamples(); i++ {
		sample, err := container.Sample(i)
		if err != nil {
			return nil, err
		}
		if sample.Sweep <= afterSweep {
			continue
		}
		for w := 0; w < container.Walkers(); w++ {
			out = append(out, model.SampleRecord{
				VersionedRecord: model.VersionedRecord{
					SchemaVersion: storage.CurrentSchemaVersion,
					CodecVersion:  storage.CurrentCodecVersion,
				},
				RunID:     runID,
				Sweep:     sample.Sweep,
				Walker:    w,
				Accepted:  sample.Accepted[w],
				Occupancy: sample.Occupancies[w],
				Features:  sample.Features[w],
				Potential: sample.Potentials[w],
			})
		}
	}
	return out, nil
}

// filterSamples applies per-walker discard and thinning to stored samples.
func filterSamples(samples []model.SampleRecord, discard, thin int) []model.SampleRecord {
	if thin <= 0 {
		thin = 1
	}
	byWalker := make(map[int][]model.SampleRecord)
	walkers := make([]int, 0)
	for _, sample := range samples {
		if _, ok := byWalker[sample.Walker]; !ok {
			walkers = append(walkers, sample.Walker)
		}
		byWalker[sample.Walker] = append(byWalker[sample.Walker], sample)
	}
	sort.Ints(walkers)

	var out []model.SampleRecord
	for _, walker := range walkers {
		recs := byWalker[walker]
		sort.Slice(recs, func(i, j int) bool { return recs[i].Sweep < recs[j].Sweep })
		for i := discard; i < len(recs); i += thin {
			out = append(out, recs[i])
		}
	}
	return out
}
