package stats

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"plegma/internal/model"
)

func statsTestRecord(runID string) model.RunRecord {
	return model.RunRecord{
		ID:              runID,
		CreatedAtUTC:    "2026-08-24T09:00:00Z",
		SystemName:      "binary-chain",
		Ensemble:        "semigrand",
		Kernel:          "metropolis",
		StepType:        "flip",
		Temperature:     500,
		Seed:            42,
		Walkers:         2,
		Sweeps:          100,
		ThinBy:          10,
		NumSites:        4,
		SupercellMatrix: [][]int{{4, 0, 0}, {0, 1, 0}, {0, 0, 1}},
		Coefficients:    []float64{0, 0.01, -0.02},
	}
}

func statsTestSamples(runID string) []model.SampleRecord {
	return []model.SampleRecord{
		{RunID: runID, Sweep: 10, Walker: 0, Accepted: 4, Occupancy: []int{0, 1, 0, 1}, Features: []float64{4, 0, -2}, Potential: 1.0},
		{RunID: runID, Sweep: 10, Walker: 1, Accepted: 6, Occupancy: []int{1, 1, 0, 0}, Features: []float64{4, 0, 0}, Potential: 2.0},
		{RunID: runID, Sweep: 20, Walker: 0, Accepted: 8, Occupancy: []int{1, 1, 1, 1}, Features: []float64{4, 4, 4}, Potential: 3.0},
		{RunID: runID, Sweep: 20, Walker: 1, Accepted: 10, Occupancy: []int{0, 0, 1, 1}, Features: []float64{4, 0, 0}, Potential: 2.0},
	}
}

func TestBuildRunSummary(t *testing.T) {
	record := statsTestRecord("run-sum")
	samples := statsTestSamples("run-sum")

	summary, err := BuildRunSummary(record, samples)
	if err != nil {
		t.Fatalf("build summary: %v", err)
	}

	if summary.RunID != "run-sum" || summary.Ensemble != "semigrand" {
		t.Fatalf("unexpected summary identity: %+v", summary)
	}
	if summary.Samples != 4 || summary.Sweeps != 20 {
		t.Fatalf("unexpected sample/sweep counts: %+v", summary)
	}
	if math.Abs(summary.MeanPotential-2.0) > 1e-12 {
		t.Fatalf("pooled mean = %v, want 2.0", summary.MeanPotential)
	}
	if math.Abs(summary.StdPotential-math.Sqrt(2.0/3.0)) > 1e-12 {
		t.Fatalf("pooled std = %v, want sqrt(2/3)", summary.StdPotential)
	}
	if math.Abs(summary.MeanAcceptance-0.45) > 1e-12 {
		t.Fatalf("mean acceptance = %v, want 0.45", summary.MeanAcceptance)
	}

	if len(summary.WalkerSummaries) != 2 {
		t.Fatalf("expected 2 walker summaries, got %d", len(summary.WalkerSummaries))
	}
	w0 := summary.WalkerSummaries[0]
	if w0.Walker != 0 || w0.Samples != 2 {
		t.Fatalf("unexpected walker 0 summary: %+v", w0)
	}
	if math.Abs(w0.MeanPotential-2.0) > 1e-12 || math.Abs(w0.StdPotential-math.Sqrt2) > 1e-12 {
		t.Fatalf("unexpected walker 0 statistics: %+v", w0)
	}
	if w0.MinPotential != 1.0 || w0.MaxPotential != 3.0 || w0.AutocorrTime != 1 {
		t.Fatalf("unexpected walker 0 extrema: %+v", w0)
	}
	if math.Abs(w0.AcceptanceRate-0.4) > 1e-12 {
		t.Fatalf("walker 0 acceptance = %v, want 0.4", w0.AcceptanceRate)
	}
	w1 := summary.WalkerSummaries[1]
	if w1.MeanPotential != 2.0 || w1.StdPotential != 0 {
		t.Fatalf("unexpected walker 1 statistics: %+v", w1)
	}
	if math.Abs(w1.AcceptanceRate-0.5) > 1e-12 {
		t.Fatalf("walker 1 acceptance = %v, want 0.5", w1.AcceptanceRate)
	}

	if _, err := BuildRunSummary(record, nil); err == nil {
		t.Fatal("expected error for empty samples")
	}
}

func TestWriteReadAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")

	runID := "run-123"
	record := statsTestRecord(runID)
	samples := statsTestSamples(runID)
	summary, err := BuildRunSummary(record, samples)
	if err != nil {
		t.Fatalf("build summary: %v", err)
	}

	runDir, err := WriteRunArtifacts(baseDir, RunArtifacts{Record: record, Samples: samples, Summary: summary})
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}

	for _, file := range []string{"config.json", "potential_series.csv", "samples.jsonl", "summary.json"} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}

	loadedRecord, ok, err := ReadRunConfig(baseDir, runID)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !ok {
		t.Fatal("expected run config to exist")
	}
	if loadedRecord.ID != runID || !reflect.DeepEqual(loadedRecord.Coefficients, record.Coefficients) {
		t.Fatalf("unexpected config loaded: %+v", loadedRecord)
	}

	loadedSummary, ok, err := ReadRunSummary(baseDir, runID)
	if err != nil {
		t.Fatalf("read summary: %v", err)
	}
	if !ok {
		t.Fatal("expected run summary to exist")
	}
	if math.Abs(loadedSummary.MeanAcceptance-summary.MeanAcceptance) > 1e-12 {
		t.Fatalf("unexpected summary loaded: %+v", loadedSummary)
	}

	points, ok, err := ReadPotentialSeries(baseDir, runID)
	if err != nil {
		t.Fatalf("read series: %v", err)
	}
	if !ok {
		t.Fatal("expected potential series to exist")
	}
	if len(points) != 4 {
		t.Fatalf("expected 4 series points, got %d", len(points))
	}
	first := SeriesPoint{Sweep: 10, Walker: 0, Accepted: 4, Potential: 1.0}
	last := SeriesPoint{Sweep: 20, Walker: 1, Accepted: 10, Potential: 2.0}
	if points[0] != first || points[3] != last {
		t.Fatalf("unexpected series points: %+v", points)
	}

	loadedSamples, ok, err := ReadSamplesJSONL(filepath.Join(runDir, "samples.jsonl"))
	if err != nil {
		t.Fatalf("read samples jsonl: %v", err)
	}
	if !ok {
		t.Fatal("expected samples jsonl to exist")
	}
	if !reflect.DeepEqual(loadedSamples, samples) {
		t.Fatalf("samples jsonl round trip changed records:\n in: %+v\nout: %+v", samples, loadedSamples)
	}

	exportedDir, err := ExportRunArtifacts(baseDir, runID, outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range []string{"config.json", "potential_series.csv", "samples.jsonl", "summary.json"} {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	if _, err := ExportRunArtifacts(baseDir, "run-missing", outDir); err == nil {
		t.Fatal("expected error exporting a missing run")
	}
}

func TestRunIndexAppendListAndUpsert(t *testing.T) {
	baseDir := t.TempDir()

	err := AppendRunIndex(baseDir, RunIndexEntry{
		RunID:         "run-1",
		SystemName:    "binary-chain",
		Ensemble:      "semigrand",
		Kernel:        "metropolis",
		StepType:      "flip",
		Temperature:   500,
		Walkers:       2,
		Sweeps:        100,
		Seed:          1,
		MeanPotential: -0.10,
		CreatedAtUTC:  "2026-08-24T10:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-1: %v", err)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:         "run-2",
		SystemName:    "binary-chain",
		Ensemble:      "canonical",
		Kernel:        "metropolis",
		StepType:      "swap",
		Temperature:   800,
		Walkers:       1,
		Sweeps:        50,
		Seed:          2,
		MeanPotential: -0.12,
		CreatedAtUTC:  "2026-08-24T11:00:00Z",
	})
	if err != nil {
		t.Fatalf("append run-2: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-2" || entries[1].RunID != "run-1" {
		t.Fatalf("unexpected order: %+v", entries)
	}

	err = AppendRunIndex(baseDir, RunIndexEntry{
		RunID:         "run-1",
		SystemName:    "binary-chain",
		Ensemble:      "semigrand",
		Kernel:        "metropolis",
		StepType:      "flip",
		Temperature:   500,
		Walkers:       2,
		Sweeps:        200,
		Seed:          1,
		MeanPotential: -0.15,
		CreatedAtUTC:  "2026-08-24T12:00:00Z",
	})
	if err != nil {
		t.Fatalf("upsert run-1: %v", err)
	}

	entries, err = ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list after upsert: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries after upsert, got %d", len(entries))
	}
	if entries[0].RunID != "run-1" || entries[0].Sweeps != 200 {
		t.Fatalf("unexpected upsert result: %+v", entries[0])
	}
}

func TestRunIndexEqualTimestampPrefersLaterAppend(t *testing.T) {
	baseDir := t.TempDir()
	ts := "2026-08-24T12:00:00Z"

	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-a", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-a: %v", err)
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "run-b", CreatedAtUTC: ts}); err != nil {
		t.Fatalf("append run-b: %v", err)
	}

	entries, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].RunID != "run-b" {
		t.Fatalf("expected latest appended run-b first, got %+v", entries)
	}
}

func TestReadRunConfigMissing(t *testing.T) {
	baseDir := t.TempDir()
	if _, ok, err := ReadRunConfig(baseDir, "run-none"); err != nil || ok {
		t.Fatalf("expected missing config; ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadRunSummary(baseDir, "run-none"); err != nil || ok {
		t.Fatalf("expected missing summary; ok=%t err=%v", ok, err)
	}
	if _, ok, err := ReadPotentialSeries(baseDir, "run-none"); err != nil || ok {
		t.Fatalf("expected missing series; ok=%t err=%v", ok, err)
	}
}
