// Package store persists batch runs, their scored instrument tables and the
// per-client recommendations. SQLite is the default backend; Postgres is
// used when a database_url is configured.
package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/etf-advisor/internal/model"
)

// ErrNotFound is returned when a run or recommendation does not exist.
var ErrNotFound = eris.New("store: not found")

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// RunResult is the outcome recorded when a run finishes.
type RunResult struct {
	Status      model.RunStatus
	Instruments int
	Clients     int
	Warnings    []model.Warning
	Error       string
}

// Store defines the persistence interface for batch runs.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, configHash string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Scored instrument table, kept in the order it was saved
	SaveScored(ctx context.Context, runID string, items []model.ScoredInstrument) error
	ListScored(ctx context.Context, runID string) ([]model.ScoredInstrument, error)

	// Recommendations
	SaveRecommendations(ctx context.Context, runID string, recs []model.Recommendation) error
	GetRecommendation(ctx context.Context, runID, clientID string) (*model.Recommendation, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// RunRecord is the output of one pipeline execution to persist.
type RunRecord struct {
	ConfigHash      string
	Scored          []model.ScoredInstrument
	Recommendations []model.Recommendation
	Warnings        []model.Warning
}

// SaveRun creates a run, stores its scored table and recommendations, and
// marks it complete. When saving fails after the run was created, the run is
// marked failed with the error.
func SaveRun(ctx context.Context, s Store, rec RunRecord) (*model.Run, error) {
	run, err := s.CreateRun(ctx, rec.ConfigHash)
	if err != nil {
		return nil, err
	}

	err = s.SaveScored(ctx, run.ID, rec.Scored)
	if err == nil && len(rec.Recommendations) > 0 {
		err = s.SaveRecommendations(ctx, run.ID, rec.Recommendations)
	}

	result := RunResult{
		Status:      model.RunStatusComplete,
		Instruments: len(rec.Scored),
		Clients:     len(rec.Recommendations),
		Warnings:    rec.Warnings,
	}
	if err != nil {
		result.Status = model.RunStatusFailed
		result.Error = err.Error()
	}
	if cerr := s.CompleteRun(ctx, run.ID, result); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, eris.Wrapf(err, "store: save run %s", run.ID)
	}

	run.Status = result.Status
	run.Instruments = result.Instruments
	run.Clients = result.Clients
	run.Warnings = result.Warnings
	return run, nil
}
