package storage

import (
	"context"
	"sort"
	"sync"

	"plegma/internal/model"
)

type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]model.RunRecord
	samples map[string][]model.SampleRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runs != nil {
		return nil
	}
	s.runs = make(map[string]model.RunRecord)
	s.samples = make(map[string][]model.SampleRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = copyRun(run)
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return model.RunRecord{}, false, nil
	}
	return copyRun(run), true, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC < runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.runs, id)
	delete(s.samples, id)
	return nil
}

func (s *MemoryStore) AppendSamples(_ context.Context, runID string, samples []model.SampleRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		s.samples[runID] = append(s.samples[runID], copySampleRecord(sample))
	}
	return nil
}

func (s *MemoryStore) LoadSamples(_ context.Context, runID string) ([]model.SampleRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.samples[runID]
	samples := make([]model.SampleRecord, 0, len(stored))
	for _, sample := range stored {
		samples = append(samples, copySampleRecord(sample))
	}
	sortSamples(samples)
	return samples, nil
}

func (s *MemoryStore) LastSamples(_ context.Context, runID string) ([]model.SampleRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.samples[runID]
	if len(stored) == 0 {
		return nil, false, nil
	}
	maxSweep := stored[0].Sweep
	for _, sample := range stored {
		if sample.Sweep > maxSweep {
			maxSweep = sample.Sweep
		}
	}
	var last []model.SampleRecord
	for _, sample := range stored {
		if sample.Sweep == maxSweep {
			last = append(last, copySampleRecord(sample))
		}
	}
	sortSamples(last)
	return last, true, nil
}

func sortSamples(samples []model.SampleRecord) {
	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Sweep != samples[j].Sweep {
			return samples[i].Sweep < samples[j].Sweep
		}
		return samples[i].Walker < samples[j].Walker
	})
}

func copyRun(run model.RunRecord) model.RunRecord {
	out := run
	out.Coefficients = append([]float64(nil), run.Coefficients...)
	if run.SupercellMatrix != nil {
		out.SupercellMatrix = make([][]int, len(run.SupercellMatrix))
		for i, row := range run.SupercellMatrix {
			out.SupercellMatrix[i] = append([]int(nil), row...)
		}
	}
	return out
}

func copySampleRecord(sample model.SampleRecord) model.SampleRecord {
	out := sample
	out.Occupancy = append([]int(nil), sample.Occupancy...)
	out.Features = append([]float64(nil), sample.Features...)
	return out
}
