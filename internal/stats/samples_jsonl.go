package stats

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"plegma/internal/model"
)

// WriteSamplesJSONL writes one sample record per line so long chains can be
// streamed without decoding the whole file.
func WriteSamplesJSONL(path string, samples []model.SampleRecord) error {
	if path == "" {
		return fmt.Errorf("output path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	for _, sample := range samples {
		data, err := json.Marshal(sample)
		if err != nil {
			return err
		}
		if _, err := file.Write(data); err != nil {
			return err
		}
		if _, err := file.Write([]byte("\n")); err != nil {
			return err
		}
	}
	return nil
}

func ReadSamplesJSONL(path string) ([]model.SampleRecord, bool, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	samples := make([]model.SampleRecord, 0, 128)
	scanner := bufio.NewScanner(file)
	// Occupancy vectors of large supercells overflow the default line limit.
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var sample model.SampleRecord
		if err := json.Unmarshal(line, &sample); err != nil {
			return nil, false, err
		}
		samples = append(samples, sample)
	}
	if err := scanner.Err(); err != nil {
		return nil, false, err
	}
	return samples, true, nil
}
