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
)

const scanExperimentsDir = "experiments"

// ScanPoint is one temperature of a scan, aggregated from that run's summary.
type ScanPoint struct {
	Temperature    float64 `json:"temperature"`
	RunID          string  `json:"run_id"`
	MeanPotential  float64 `json:"mean_potential"`
	StdPotential   float64 `json:"std_potential"`
	AcceptanceRate float64 `json:"acceptance_rate"`
}

// ScanExperiment records a temperature scan: one sampling run per
// temperature plus the aggregate curve.
type ScanExperiment struct {
	ID             string      `json:"id"`
	SystemName     string      `json:"system_name,omitempty"`
	Notes          string      `json:"notes,omitempty"`
	Ensemble       string      `json:"ensemble,omitempty"`
	Kernel         string      `json:"kernel,omitempty"`
	StepType       string      `json:"step_type,omitempty"`
	Sweeps         int         `json:"sweeps"`
	Walkers        int         `json:"walkers"`
	Seed           int64       `json:"seed"`
	StartedAtUTC   string      `json:"started_at_utc,omitempty"`
	CompletedAtUTC string      `json:"completed_at_utc,omitempty"`
	Points         []ScanPoint `json:"points,omitempty"`
}

// ScanPointFromSummary projects one run summary onto its scan point.
func ScanPointFromSummary(summary RunSummary) ScanPoint {
	return ScanPoint{
		Temperature:    summary.Temperature,
		RunID:          summary.RunID,
		MeanPotential:  summary.MeanPotential,
		StdPotential:   summary.StdPotential,
		AcceptanceRate: summary.MeanAcceptance,
	}
}

// WriteScanExperiment persists experiment.json and scan_summary.csv under
// baseDir/experiments/<id>. Points are sorted by temperature so parallel
// scans land in a fixed order.
func WriteScanExperiment(baseDir string, exp ScanExperiment) error {
	if exp.ID == "" {
		return fmt.Errorf("experiment id is required")
	}

	points := append([]ScanPoint(nil), exp.Points...)
	sort.Slice(points, func(i, j int) bool {
		return points[i].Temperature < points[j].Temperature
	})
	exp.Points = points

	path := scanExperimentPath(baseDir, exp.ID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := writeJSON(path, exp); err != nil {
		return err
	}
	return writeScanSummaryCSV(filepath.Join(filepath.Dir(path), "scan_summary.csv"), points)
}

func ReadScanExperiment(baseDir, id string) (ScanExperiment, bool, error) {
	if id == "" {
		return ScanExperiment{}, false, fmt.Errorf("experiment id is required")
	}
	path := scanExperimentPath(baseDir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ScanExperiment{}, false, nil
		}
		return ScanExperiment{}, false, err
	}
	var exp ScanExperiment
	if err := json.Unmarshal(data, &exp); err != nil {
		return ScanExperiment{}, false, err
	}
	return exp, true, nil
}

func ListScanExperiments(baseDir string) ([]ScanExperiment, error) {
	root := filepath.Join(baseDir, scanExperimentsDir)
	entries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return []ScanExperiment{}, nil
		}
		return nil, err
	}

	exps := make([]ScanExperiment, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		exp, ok, err := ReadScanExperiment(baseDir, entry.Name())
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		exps = append(exps, exp)
	}
	sort.Slice(exps, func(i, j int) bool {
		switch {
		case exps[i].StartedAtUTC == exps[j].StartedAtUTC:
			return exps[i].ID < exps[j].ID
		case exps[i].StartedAtUTC == "":
			return false
		case exps[j].StartedAtUTC == "":
			return true
		default:
			return exps[i].StartedAtUTC > exps[j].StartedAtUTC
		}
	})
	return exps, nil
}

func ReadScanSummary(baseDir, id string) ([]ScanPoint, bool, error) {
	path := filepath.Join(baseDir, scanExperimentsDir, id, "scan_summary.csv")
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
			return []ScanPoint{}, true, nil
		}
		return nil, false, err
	}
	if len(header) < 5 {
		return nil, false, fmt.Errorf("scan summary header must have at least 5 columns")
	}

	points := make([]ScanPoint, 0, 32)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) < 5 {
			return nil, false, fmt.Errorf("scan summary row must have at least 5 columns")
		}
		temperature, err := strconv.ParseFloat(record[0], 64)
		if err != nil {
			return nil, false, err
		}
		mean, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, false, err
		}
		std, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return nil, false, err
		}
		rate, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return nil, false, err
		}
		points = append(points, ScanPoint{
			Temperature:    temperature,
			RunID:          record[1],
			MeanPotential:  mean,
			StdPotential:   std,
			AcceptanceRate: rate,
		})
	}
	return points, true, nil
}

func writeScanSummaryCSV(path string, points []ScanPoint) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"temperature", "run_id", "mean_potential", "std_potential", "acceptance_rate"}); err != nil {
		return err
	}
	for _, point := range points {
		if err := writer.Write([]string{
			strconv.FormatFloat(point.Temperature, 'f', -1, 64),
			point.RunID,
			strconv.FormatFloat(point.MeanPotential, 'f', -1, 64),
			strconv.FormatFloat(point.StdPotential, 'f', -1, 64),
			strconv.FormatFloat(point.AcceptanceRate, 'f', -1, 64),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func scanExperimentPath(baseDir, id string) string {
	return filepath.Join(baseDir, scanExperimentsDir, id, "experiment.json")
}
