package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"gonum.org/v1/gonum/stat"

	"plegma/internal/mc"
	"plegma/internal/model"
)

const runIndexFile = "run_index.json"

// WalkerSummary aggregates one walker's potential trace and acceptance.
type WalkerSummary struct {
	Walker         int     `json:"walker"`
	Samples        int     `json:"samples"`
	MeanPotential  float64 `json:"mean_potential"`
	StdPotential   float64 `json:"std_potential"`
	MinPotential   float64 `json:"min_potential"`
	MaxPotential   float64 `json:"max_potential"`
	AutocorrTime   float64 `json:"autocorr_time"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// RunSummary is the summary.json payload of one sampling run. Pooled
// statistics cover every saved sample across walkers; per-walker detail
// keeps the autocorrelation estimates separate since chains are independent.
type RunSummary struct {
	RunID           string          `json:"run_id"`
	SystemName      string          `json:"system_name,omitempty"`
	Ensemble        string          `json:"ensemble"`
	Kernel          string          `json:"kernel"`
	StepType        string          `json:"step_type"`
	Bias            string          `json:"bias,omitempty"`
	Temperature     float64         `json:"temperature"`
	Walkers         int             `json:"walkers"`
	Sweeps          int             `json:"sweeps"`
	Samples         int             `json:"samples"`
	MeanPotential   float64         `json:"mean_potential"`
	StdPotential    float64         `json:"std_potential"`
	MeanAcceptance  float64         `json:"mean_acceptance_rate"`
	WalkerSummaries []WalkerSummary `json:"walker_summaries"`
}

// RunArtifacts bundles everything written into one run directory.
type RunArtifacts struct {
	Record  model.RunRecord
	Samples []model.SampleRecord
	Summary RunSummary
}

type RunIndexEntry struct {
	RunID         string  `json:"run_id"`
	ParentID      string  `json:"parent_id,omitempty"`
	SystemName    string  `json:"system_name,omitempty"`
	Ensemble      string  `json:"ensemble"`
	Kernel        string  `json:"kernel"`
	StepType      string  `json:"step_type"`
	Temperature   float64 `json:"temperature"`
	Walkers       int     `json:"walkers"`
	Sweeps        int     `json:"sweeps"`
	Seed          int64   `json:"seed"`
	MeanPotential float64 `json:"mean_potential"`
	CreatedAtUTC  string  `json:"created_at_utc"`
}

// SeriesPoint is one row of potential_series.csv.
type SeriesPoint struct {
	Sweep     int
	Walker    int
	Accepted  uint64
	Potential float64
}

// BuildRunSummary derives the summary.json payload from a run record and its
// saved samples. Samples may arrive in any order; walkers with no samples
// simply do not appear in the per-walker detail.
func BuildRunSummary(record model.RunRecord, samples []model.SampleRecord) (RunSummary, error) {
	if len(samples) == 0 {
		return RunSummary{}, fmt.Errorf("no samples for run %s", record.ID)
	}

	byWalker := make(map[int][]model.SampleRecord)
	for _, sample := range samples {
		byWalker[sample.Walker] = append(byWalker[sample.Walker], sample)
	}
	walkers := make([]int, 0, len(byWalker))
	for walker := range byWalker {
		walkers = append(walkers, walker)
	}
	sort.Ints(walkers)

	summary := RunSummary{
		RunID:       record.ID,
		SystemName:  record.SystemName,
		Ensemble:    record.Ensemble,
		Kernel:      record.Kernel,
		StepType:    record.StepType,
		Bias:        record.Bias,
		Temperature: record.Temperature,
		Walkers:     record.Walkers,
		Samples:     len(samples),
	}

	pooled := make([]float64, 0, len(samples))
	rateTotal := 0.0
	for _, walker := range walkers {
		recs := byWalker[walker]
		sort.Slice(recs, func(i, j int) bool { return recs[i].Sweep < recs[j].Sweep })

		trace := make([]float64, len(recs))
		for i, rec := range recs {
			trace[i] = rec.Potential
		}
		pooled = append(pooled, trace...)

		traceSummary, err := mc.Summarize(trace)
		if err != nil {
			return RunSummary{}, fmt.Errorf("summarize walker %d: %w", walker, err)
		}

		last := recs[len(recs)-1]
		if last.Sweep > summary.Sweeps {
			summary.Sweeps = last.Sweep
		}
		rate := 0.0
		if last.Sweep > 0 {
			rate = float64(last.Accepted) / float64(last.Sweep)
		}
		rateTotal += rate

		summary.WalkerSummaries = append(summary.WalkerSummaries, WalkerSummary{
			Walker:         walker,
			Samples:        traceSummary.N,
			MeanPotential:  traceSummary.Mean,
			StdPotential:   traceSummary.Std,
			MinPotential:   traceSummary.Min,
			MaxPotential:   traceSummary.Max,
			AutocorrTime:   traceSummary.AutocorrTime,
			AcceptanceRate: rate,
		})
	}

	summary.MeanPotential = stat.Mean(pooled, nil)
	if len(pooled) > 1 {
		summary.StdPotential = stat.StdDev(pooled, nil)
	}
	summary.MeanAcceptance = rateTotal / float64(len(walkers))
	return summary, nil
}

// WriteRunArtifacts writes config.json, potential_series.csv, samples.jsonl
// and summary.json into baseDir/<run id> and returns the run directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Record.ID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Record.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Record); err != nil {
		return "", err
	}
	if err := WritePotentialSeries(runDir, artifacts.Samples); err != nil {
		return "", err
	}
	if err := WriteSamplesJSONL(filepath.Join(runDir, "samples.jsonl"), artifacts.Samples); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), artifacts.Summary); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "potential_series.csv", "summary.json"}
	for _, file := range files {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	samplesPath := filepath.Join(src, "samples.jsonl")
	if _, err := os.Stat(samplesPath); err == nil {
		if err := copyFile(samplesPath, filepath.Join(dst, "samples.jsonl")); err != nil {
			return "", err
		}
	} else if err != nil && !os.IsNotExist(err) {
		return "", err
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (model.RunRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}

	var record model.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return model.RunRecord{}, false, err
	}
	return record, true, nil
}

func ReadRunSummary(baseDir, runID string) (RunSummary, bool, error) {
	path := filepath.Join(baseDir, runID, "summary.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunSummary{}, false, nil
		}
		return RunSummary{}, false, err
	}

	var summary RunSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		return RunSummary{}, false, err
	}
	return summary, true, nil
}

// WritePotentialSeries writes potential_series.csv ordered by sweep then
// walker.
func WritePotentialSeries(runDir string, samples []model.SampleRecord) error {
	ordered := append([]model.SampleRecord(nil), samples...)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Sweep == ordered[j].Sweep {
			return ordered[i].Walker < ordered[j].Walker
		}
		return ordered[i].Sweep < ordered[j].Sweep
	})

	path := filepath.Join(runDir, "potential_series.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"sweep", "walker", "accepted", "potential"}); err != nil {
		return err
	}
	for _, sample := range ordered {
		if err := writer.Write([]string{
			strconv.Itoa(sample.Sweep),
			strconv.Itoa(sample.Walker),
			strconv.FormatUint(sample.Accepted, 10),
			strconv.FormatFloat(sample.Potential, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadPotentialSeries(baseDir, runID string) ([]SeriesPoint, bool, error) {
	path := filepath.Join(baseDir, runID, "potential_series.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []SeriesPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 4 {
		return nil, false, fmt.Errorf("potential series header must have at least 4 columns")
	}

	points := make([]SeriesPoint, 0, 128)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 4 {
			return nil, false, fmt.Errorf("potential series row must have at least 4 columns")
		}
		sweep, err := strconv.Atoi(record[0])
		if err != nil {
			return nil, false, err
		}
		walker, err := strconv.Atoi(record[1])
		if err != nil {
			return nil, false, err
		}
		accepted, err := strconv.ParseUint(record[2], 10, 64)
		if err != nil {
			return nil, false, err
		}
		potential, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, false, err
		}
		points = append(points, SeriesPoint{Sweep: sweep, Walker: walker, Accepted: accepted, Potential: potential})
	}
	return points, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
