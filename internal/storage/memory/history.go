package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/bulk-importer/internal/history"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// HistoryRepository keeps run history in memory.
type HistoryRepository struct {
	mu    sync.RWMutex
	runs  map[string]history.Run
	items map[string][]history.ItemOutcome
}

// NewHistoryRepository constructs an empty repository.
func NewHistoryRepository() *HistoryRepository {
	return &HistoryRepository{
		runs:  make(map[string]history.Run),
		items: make(map[string][]history.ItemOutcome),
	}
}

// UpsertRunStart records a running run; an existing run keeps its start time.
func (r *HistoryRepository) UpsertRunStart(_ context.Context, runID string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		run = history.Run{RunID: runID, StartedAt: startedAt}
	}
	run.Status = history.RunRunning
	run.FinishedAt = nil
	run.ErrorMessage = nil
	r.runs[runID] = run
	return nil
}

// RecordItemOutcome stores the outcome, replacing an earlier one for the same item.
func (r *HistoryRepository) RecordItemOutcome(_ context.Context, outcome history.ItemOutcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	outcomes := r.items[outcome.RunID]
	for i := range outcomes {
		if outcomes[i].ItemID == outcome.ItemID {
			outcomes[i] = outcome
			return nil
		}
	}
	r.items[outcome.RunID] = append(outcomes, outcome)
	return nil
}

// CompleteRun marks the run finished. Unknown runs are created so a restored
// run started before a restart still lands in history.
func (r *HistoryRepository) CompleteRun(
	_ context.Context,
	runID string,
	finishedAt time.Time,
	status history.RunStatus,
	counts history.Counts,
	errMsg *string,
) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		run = history.Run{RunID: runID, StartedAt: finishedAt}
	}
	run.Status = status
	run.FinishedAt = pointerTime(finishedAt)
	run.Counts = counts
	if errMsg != nil {
		msg := *errMsg
		run.ErrorMessage = &msg
	}
	r.runs[runID] = run
	return nil
}

// GetRun fetches a run by id.
func (r *HistoryRepository) GetRun(_ context.Context, runID string) (history.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return history.Run{}, importer.ErrNotFound
	}
	return run, nil
}

// ListRuns returns runs newest first.
func (r *HistoryRepository) ListRuns(
	_ context.Context,
	status *history.RunStatus,
	limit, offset int,
) ([]history.Run, error) {
	r.mu.RLock()
	out := make([]history.Run, 0, len(r.runs))
	for _, run := range r.runs {
		if status != nil && run.Status != *status {
			continue
		}
		out = append(out, run)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].RunID > out[j].RunID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return page(out, limit, offset), nil
}

// ListItemOutcomes returns the outcomes of one run in record order.
func (r *HistoryRepository) ListItemOutcomes(
	_ context.Context,
	runID string,
	limit, offset int,
) ([]history.ItemOutcome, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := append([]history.ItemOutcome(nil), r.items[runID]...)
	return page(out, limit, offset), nil
}

func page[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return []T{}
	}
	if offset > 0 {
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

func pointerTime(t time.Time) *time.Time {
	ts := t
	return &ts
}
