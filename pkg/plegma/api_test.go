package plegma

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"plegma/internal/config"
	"plegma/internal/mc"
	"plegma/internal/stats"
)

const chainYAML = `
name: binary-chain
basis: sinusoid
supercell: [[4, 0, 0], [0, 1, 0], [0, 0, 1]]
site_spaces:
  - species:
      - {name: A, measure: 0.5}
      - {name: B, measure: 0.5}
orbits:
  - sites:
      - {prim: 0}
  - sites:
      - {prim: 0}
      - {prim: 0, offset: [1, 0, 0]}
coefficients: [0, 0.01, -0.02]
run:
  ensemble: canonical
  kernel: metropolis
  step: swap
  temperature: 500
  sweeps: 40
  thin_by: 10
  walkers: 2
  seed: 42
  initial_occupancy:
    - [A, A, B, B]
`

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := New(Options{
		ArtifactsDir: filepath.Join(t.TempDir(), "artifacts"),
		ExportsDir:   filepath.Join(t.TempDir(), "exports"),
		Logger:       discardLogger(),
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	t.Cleanup(func() {
		if err := client.Close(); err != nil {
			t.Errorf("close client: %v", err)
		}
	})
	return client
}

func parseChain(t *testing.T) *config.SystemConfig {
	t.Helper()
	cfg, err := config.Parse([]byte(chainYAML))
	if err != nil {
		t.Fatalf("parse chain config: %v", err)
	}
	return cfg
}

func TestNewValidatesOptions(t *testing.T) {
	if _, err := New(Options{StoreKind: "bogus"}); err == nil {
		t.Fatal("expected error for unknown store kind")
	}
}

func TestRunRequiresConfig(t *testing.T) {
	client := newTestClient(t)
	if _, err := client.Run(context.Background(), RunRequest{}); err == nil {
		t.Fatal("expected error without config")
	}
	cfg := parseChain(t)
	if _, err := client.Run(context.Background(), RunRequest{Config: cfg, ConfigPath: "x.yaml"}); err == nil {
		t.Fatal("expected error with both config and path")
	}
}

func TestRunPersistsRecordSamplesAndArtifacts(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	summary, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "chain-1"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if summary.RunID != "chain-1" {
		t.Fatalf("run id = %q, want chain-1", summary.RunID)
	}
	if summary.Sweeps != 40 {
		t.Fatalf("sweeps = %d, want 40", summary.Sweeps)
	}
	// 4 saves x 2 walkers.
	if summary.Samples != 8 {
		t.Fatalf("samples = %d, want 8", summary.Samples)
	}

	record, ok, err := client.Store().GetRun(ctx, "chain-1")
	if err != nil || !ok {
		t.Fatalf("stored run: ok=%v err=%v", ok, err)
	}
	if record.SystemName != "binary-chain" || record.Sweeps != 40 {
		t.Fatalf("unexpected record: %+v", record)
	}
	if record.ConfigYAML == "" {
		t.Fatal("record must retain the config document")
	}

	samples, err := client.Store().LoadSamples(ctx, "chain-1")
	if err != nil {
		t.Fatalf("load samples: %v", err)
	}
	if len(samples) != 8 {
		t.Fatalf("stored %d samples, want 8", len(samples))
	}
	for _, sample := range samples {
		if len(sample.Occupancy) != 4 || len(sample.Features) != 3 {
			t.Fatalf("unexpected sample shape: %+v", sample)
		}
		if sample.Features[0] != 1 {
			t.Fatalf("feature[0] = %v, want 1", sample.Features[0])
		}
	}

	for _, file := range []string{"config.json", "potential_series.csv", "samples.jsonl", "summary.json"} {
		path := filepath.Join(summary.ArtifactsDir, file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("missing artifact %s: %v", file, err)
		}
	}
	entries, err := stats.ListRunIndex(client.ArtifactsDir())
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "chain-1" {
		t.Fatalf("unexpected run index: %+v", entries)
	}
}

func TestRunsAccumulateInStore(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "older"}); err != nil {
		t.Fatalf("run older: %v", err)
	}
	if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "newer"}); err != nil {
		t.Fatalf("run newer: %v", err)
	}

	// Persisting the second run must not disturb the first.
	for _, id := range []string{"older", "newer"} {
		record, ok, err := client.Store().GetRun(ctx, id)
		if err != nil || !ok {
			t.Fatalf("run %s: ok=%v err=%v", id, ok, err)
		}
		if record.ID != id {
			t.Fatalf("record id = %q, want %q", record.ID, id)
		}
		samples, err := client.Store().LoadSamples(ctx, id)
		if err != nil {
			t.Fatalf("load samples %s: %v", id, err)
		}
		if len(samples) != 8 {
			t.Fatalf("run %s kept %d samples, want 8", id, len(samples))
		}
	}
	runs, err := client.Store().ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("store lists %d runs, want 2", len(runs))
	}
}

func TestRunDeterministicUnderFixedSeed(t *testing.T) {
	ctx := context.Background()

	var chains [2][]float64
	var occupancies [2][][]int
	for i := range chains {
		client := newTestClient(t)
		if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "det"}); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		samples, err := client.Store().LoadSamples(ctx, "det")
		if err != nil {
			t.Fatalf("load samples %d: %v", i, err)
		}
		for _, sample := range samples {
			chains[i] = append(chains[i], sample.Potential)
			occupancies[i] = append(occupancies[i], sample.Occupancy)
		}
	}
	if !reflect.DeepEqual(chains[0], chains[1]) {
		t.Fatalf("potentials diverged under fixed seed:\n%v\n%v", chains[0], chains[1])
	}
	if !reflect.DeepEqual(occupancies[0], occupancies[1]) {
		t.Fatal("occupancies diverged under fixed seed")
	}
}

func TestRunDrawsRandomInitialWhenUnconfigured(t *testing.T) {
	client := newTestClient(t)
	cfg := parseChain(t)
	cfg.Run.InitialOccupancy = nil

	summary, err := client.Run(context.Background(), RunRequest{Config: cfg, RunID: "rand-init"})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	samples, err := client.Store().LoadSamples(context.Background(), summary.RunID)
	if err != nil {
		t.Fatalf("load samples: %v", err)
	}
	for _, sample := range samples {
		for site, code := range sample.Occupancy {
			if code < 0 || code > 1 {
				t.Fatalf("site %d code %d out of range", site, code)
			}
		}
	}
}

func TestResumeContinuesChain(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "first"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	summary, err := client.Resume(ctx, ResumeRequest{RunID: "first", Sweeps: 20, NewID: "second"})
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if summary.RunID != "second" {
		t.Fatalf("resumed run id = %q, want second", summary.RunID)
	}
	if summary.Sweeps != 60 {
		t.Fatalf("cumulative sweeps = %d, want 60", summary.Sweeps)
	}

	record, ok, err := client.Store().GetRun(ctx, "second")
	if err != nil || !ok {
		t.Fatalf("stored continuation: ok=%v err=%v", ok, err)
	}
	if record.ParentID != "first" {
		t.Fatalf("parent id = %q, want first", record.ParentID)
	}

	samples, err := client.Store().LoadSamples(ctx, "second")
	if err != nil {
		t.Fatalf("load samples: %v", err)
	}
	// 2 new saves x 2 walkers; the seeded checkpoint is not re-stored.
	if len(samples) != 4 {
		t.Fatalf("stored %d continuation samples, want 4", len(samples))
	}
	for _, sample := range samples {
		if sample.Sweep <= 40 {
			t.Fatalf("continuation sample at sweep %d, want > 40", sample.Sweep)
		}
	}
}

func TestResumeErrors(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Resume(ctx, ResumeRequest{}); err == nil {
		t.Fatal("expected error without run id")
	}
	if _, err := client.Resume(ctx, ResumeRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}

	// A stored run with no samples must surface ErrNoSamples.
	cfg := parseChain(t)
	sys, err := cfg.Build(discardLogger())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	record := cfg.RunRecord("empty", "", "2026-01-01T00:00:00Z", sys)
	if err := client.Store().SaveRun(ctx, record); err != nil {
		t.Fatalf("save run: %v", err)
	}
	_, err = client.Resume(ctx, ResumeRequest{RunID: "empty"})
	if !errors.Is(err, mc.ErrNoSamples) {
		t.Fatalf("expected ErrNoSamples, got %v", err)
	}
}

func TestStatsDiscardAndThin(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "s"}); err != nil {
		t.Fatalf("run: %v", err)
	}

	full, err := client.Stats(ctx, StatsRequest{RunID: "s"})
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if full.Samples != 8 {
		t.Fatalf("full samples = %d, want 8", full.Samples)
	}

	trimmed, err := client.Stats(ctx, StatsRequest{RunID: "s", Discard: 1, Thin: 2})
	if err != nil {
		t.Fatalf("stats with discard/thin: %v", err)
	}
	// Per walker: 4 saves, drop 1, keep every 2nd of the rest = 2.
	if trimmed.Samples != 4 {
		t.Fatalf("trimmed samples = %d, want 4", trimmed.Samples)
	}

	if _, err := client.Stats(ctx, StatsRequest{RunID: "missing"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
	if _, err := client.Stats(ctx, StatsRequest{RunID: "s", Discard: -1}); err == nil {
		t.Fatal("expected error for negative discard")
	}
	if _, err := client.Stats(ctx, StatsRequest{RunID: "s", Discard: 100}); err == nil {
		t.Fatal("expected error when every sample is discarded")
	}
}

func TestRunsAndExport(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "a"}); err != nil {
		t.Fatalf("run a: %v", err)
	}
	if _, err := client.Run(ctx, RunRequest{Config: parseChain(t), RunID: "b"}); err != nil {
		t.Fatalf("run b: %v", err)
	}

	items, err := client.Runs(ctx, RunsRequest{})
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("listed %d runs, want 2", len(items))
	}
	if items[0].RunID != "b" {
		t.Fatalf("newest run first, got %q", items[0].RunID)
	}

	outDir := t.TempDir()
	exported, err := client.Export(ctx, ExportRequest{Latest: true, OutDir: outDir})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if exported.RunID != "b" {
		t.Fatalf("exported %q, want b", exported.RunID)
	}
	if _, err := os.Stat(filepath.Join(exported.Directory, "summary.json")); err != nil {
		t.Fatalf("exported summary missing: %v", err)
	}

	if _, err := client.Export(ctx, ExportRequest{RunID: "a", Latest: true}); err == nil {
		t.Fatal("expected error for run id together with latest")
	}
	if _, err := client.Export(ctx, ExportRequest{}); err == nil {
		t.Fatal("expected error without run id or latest")
	}
}
