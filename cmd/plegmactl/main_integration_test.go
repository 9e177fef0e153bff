package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"plegma/internal/stats"
)

const integrationYAML = `
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
  sweeps: 30
  thin_by: 10
  walkers: 1
  seed: 42
  initial_occupancy:
    - [A, A, B, B]
`

func writeIntegrationConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "system.yaml")
	if err := os.WriteFile(path, []byte(integrationYAML), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunCommandDispatch(t *testing.T) {
	ctx := context.Background()
	if err := run(ctx, nil); err == nil {
		t.Fatal("expected error for missing command")
	}
	if err := run(ctx, []string{"bogus"}); err == nil {
		t.Fatal("expected error for unknown command")
	}
	if err := run(ctx, []string{"run"}); err == nil {
		t.Fatal("expected error for run without config")
	}
	if err := run(ctx, []string{"validate"}); err == nil {
		t.Fatal("expected error for validate without config")
	}
	if err := run(ctx, []string{"resume"}); err == nil {
		t.Fatal("expected error for resume without run id")
	}
	if err := run(ctx, []string{"stats"}); err == nil {
		t.Fatal("expected error for stats without run id")
	}
}

func TestValidateCommand(t *testing.T) {
	path := writeIntegrationConfig(t)
	if err := run(context.Background(), []string{"validate", "-config", path}); err != nil {
		t.Fatalf("validate: %v", err)
	}

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	doc := strings.Replace(integrationYAML, "coefficients: [0, 0.01, -0.02]", "coefficients: [0, 0.01]", 1)
	if err := os.WriteFile(broken, []byte(doc), 0o644); err != nil {
		t.Fatalf("write broken config: %v", err)
	}
	if err := run(context.Background(), []string{"validate", "-config", broken}); err == nil {
		t.Fatal("expected validation error for short coefficient vector")
	}
}

func TestRunCommandWritesArtifacts(t *testing.T) {
	path := writeIntegrationConfig(t)
	artifacts := filepath.Join(t.TempDir(), "artifacts")

	err := run(context.Background(), []string{
		"run", "-config", path, "-run-id", "cli-run", "-artifacts", artifacts, "-log-level", "error",
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex(artifacts)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "cli-run" {
		t.Fatalf("unexpected run index: %+v", entries)
	}

	data, err := os.ReadFile(filepath.Join(artifacts, "cli-run", "summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	var summary stats.RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RunID != "cli-run" || summary.Samples != 3 {
		t.Fatalf("unexpected summary: %+v", summary)
	}

	// Flag overrides reach the sampler: 20 sweeps at thin 10 = 2 saves.
	err = run(context.Background(), []string{
		"run", "-config", path, "-run-id", "cli-run-2", "-artifacts", artifacts,
		"-steps", "20", "-log-level", "error",
	})
	if err != nil {
		t.Fatalf("run command with overrides: %v", err)
	}
	data, err = os.ReadFile(filepath.Join(artifacts, "cli-run-2", "summary.json"))
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.Samples != 2 {
		t.Fatalf("override summary samples = %d, want 2", summary.Samples)
	}
}

func TestExportAndInspectCommands(t *testing.T) {
	path := writeIntegrationConfig(t)
	artifacts := filepath.Join(t.TempDir(), "artifacts")
	out := filepath.Join(t.TempDir(), "out")

	err := run(context.Background(), []string{
		"run", "-config", path, "-run-id", "exp", "-artifacts", artifacts, "-log-level", "error",
	})
	if err != nil {
		t.Fatalf("run command: %v", err)
	}

	err = run(context.Background(), []string{
		"export", "-latest", "-artifacts", artifacts, "-out", out,
	})
	if err != nil {
		t.Fatalf("export command: %v", err)
	}
	if _, err := os.Stat(filepath.Join(out, "exp", "potential_series.csv")); err != nil {
		t.Fatalf("exported series missing: %v", err)
	}

	if err := run(context.Background(), []string{"inspect", "-artifacts", artifacts}); err != nil {
		t.Fatalf("inspect listing: %v", err)
	}
	if err := run(context.Background(), []string{"inspect", "-artifacts", artifacts, "-run", "exp"}); err != nil {
		t.Fatalf("inspect run: %v", err)
	}
	if err := run(context.Background(), []string{"inspect", "-artifacts", artifacts, "-run", "nope"}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestScanCommand(t *testing.T) {
	path := writeIntegrationConfig(t)
	artifacts := filepath.Join(t.TempDir(), "artifacts")

	err := run(context.Background(), []string{
		"scan", "-config", path, "-artifacts", artifacts,
		"-tmin", "400", "-tmax", "600", "-tstep", "100",
		"-steps", "20", "-workers", "2", "-log-level", "error",
	})
	if err != nil {
		t.Fatalf("scan command: %v", err)
	}

	experiments, err := stats.ListScanExperiments(artifacts)
	if err != nil {
		t.Fatalf("list experiments: %v", err)
	}
	if len(experiments) != 1 {
		t.Fatalf("got %d experiments, want 1", len(experiments))
	}
	exp := experiments[0]
	if len(exp.Points) != 3 {
		t.Fatalf("got %d scan points, want 3", len(exp.Points))
	}
	for i, point := range exp.Points {
		want := 400.0 + 100.0*float64(i)
		if point.Temperature != want {
			t.Fatalf("point %d temperature = %v, want %v", i, point.Temperature, want)
		}
		if point.RunID == "" {
			t.Fatalf("point %d has no run id", i)
		}
	}

	entries, err := stats.ListRunIndex(artifacts)
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("run index has %d entries, want 3", len(entries))
	}
}

func TestScanCommandRejectsBadRange(t *testing.T) {
	path := writeIntegrationConfig(t)
	cases := [][]string{
		{"scan", "-config", path, "-tmin", "0", "-tmax", "100", "-tstep", "10"},
		{"scan", "-config", path, "-tmin", "200", "-tmax", "100", "-tstep", "10"},
		{"scan", "-config", path, "-tmin", "100", "-tmax", "200", "-tstep", "0"},
		{"scan", "-config", path, "-tmin", "100", "-tmax", "200", "-tstep", "50", "-workers", "0"},
	}
	for _, args := range cases {
		if err := run(context.Background(), args); err == nil {
			t.Fatalf("expected error for %v", args)
		}
	}
}
