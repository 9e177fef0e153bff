package storage

import (
	"context"

	"plegma/internal/model"
)

// Store persists sampling runs and their saved samples. Getters report
// missing records through the ok result, not an error.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
	AppendSamples(ctx context.Context, runID string, samples []model.SampleRecord) error
	LoadSamples(ctx context.Context, runID string) ([]model.SampleRecord, error)
	LastSamples(ctx context.Context, runID string) ([]model.SampleRecord, bool, error)
}
