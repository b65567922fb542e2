// Package history declares the run-history records and the repository that
// persists them. Implementations live in the storage packages; this package
// must not import database drivers or concrete clients.
package history

import (
	"context"
	"time"

	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// RunStatus mirrors the import_runs status column.
type RunStatus string

// Run statuses persisted in import_runs.status.
const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// StatusFor maps a terminal run state onto a history status. ok is false for
// states that do not end a run.
func StatusFor(state importer.RunState) (RunStatus, bool) {
	switch state {
	case importer.RunCompleted:
		return RunCompleted, true
	case importer.RunFailed:
		return RunFailed, true
	case importer.RunCancelled:
		return RunCancelled, true
	default:
		return "", false
	}
}

// Counts are the per-run outcome totals stored when a run finishes.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Drafted   int `json:"drafted"`
	Blocked   int `json:"blocked"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
}

// CountsFrom copies the counters of a progress projection.
func CountsFrom(p importer.Progress) Counts {
	return Counts{
		Total:     p.Total,
		Completed: p.Completed,
		Drafted:   p.Drafted,
		Blocked:   p.Blocked,
		Failed:    p.Failed,
		Skipped:   p.Skipped,
	}
}

// Run models one row of import_runs.
type Run struct {
	// RunID is the UUIDv7 assigned when the run left Ready.
	RunID string `json:"run_id"`
	// Status is running until the run reaches a terminal state.
	Status    RunStatus `json:"status"`
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is nil while the run is still active.
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	// ErrorMessage carries the failure reason of a failed run.
	ErrorMessage *string `json:"error_message,omitempty"`
	Counts
}

// ItemOutcome is the terminal result of one item within a run.
type ItemOutcome struct {
	RunID        string             `json:"run_id"`
	ItemID       string             `json:"item_id"`
	URL          string             `json:"url"`
	State        importer.ItemState `json:"state"`
	Attempts     int                `json:"attempts"`
	Error        string             `json:"error,omitempty"`
	QualityScore *float64           `json:"quality_score,omitempty"`
	RecordedAt   time.Time          `json:"recorded_at"`
}

// Repository persists run history.
type Repository interface {
	// UpsertRunStart inserts (or idempotently updates) a running run.
	UpsertRunStart(ctx context.Context, runID string, startedAt time.Time) error
	// RecordItemOutcome stores or replaces the outcome of one item in a run.
	RecordItemOutcome(ctx context.Context, outcome ItemOutcome) error
	// CompleteRun marks the run finished with its final counts.
	CompleteRun(
		ctx context.Context,
		runID string,
		finishedAt time.Time,
		status RunStatus,
		counts Counts,
		errMsg *string,
	) error
	// GetRun loads one run or returns importer.ErrNotFound.
	GetRun(ctx context.Context, runID string) (Run, error)
	// ListRuns returns runs newest first, optionally filtered by status.
	ListRuns(ctx context.Context, status *RunStatus, limit, offset int) ([]Run, error)
	// ListItemOutcomes returns the recorded outcomes of one run.
	ListItemOutcomes(ctx context.Context, runID string, limit, offset int) ([]ItemOutcome, error)
}
