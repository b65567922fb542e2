package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/bulk-importer/internal/history"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

// HistoryRepository implements history.Repository over import_runs and
// import_item_outcomes.
type HistoryRepository struct {
	db DB
}

// NewHistoryRepository wraps db.
func NewHistoryRepository(db DB) (*HistoryRepository, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &HistoryRepository{db: db}, nil
}

// UpsertRunStart inserts a running row. Re-starting a known run only flips
// its status back to running.
func (r *HistoryRepository) UpsertRunStart(ctx context.Context, runID string, startedAt time.Time) error {
	query := `
		INSERT INTO import_runs (run_id, status, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO UPDATE
		SET status = EXCLUDED.status, finished_at = NULL, error_message = NULL
		WHERE import_runs.status <> EXCLUDED.status;
	`
	if _, err := r.db.Exec(ctx, query, runID, string(history.RunRunning), startedAt); err != nil {
		return fmt.Errorf("failed to upsert run start: %w", err)
	}
	return nil
}

// RecordItemOutcome stores the latest outcome of an item within a run.
func (r *HistoryRepository) RecordItemOutcome(ctx context.Context, outcome history.ItemOutcome) error {
	query := `
		INSERT INTO import_item_outcomes
			(run_id, item_id, url, state, attempts, error, quality_score, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id, item_id) DO UPDATE
		SET state = EXCLUDED.state,
			attempts = EXCLUDED.attempts,
			error = EXCLUDED.error,
			quality_score = EXCLUDED.quality_score,
			recorded_at = EXCLUDED.recorded_at;
	`
	_, err := r.db.Exec(
		ctx,
		query,
		outcome.RunID,
		outcome.ItemID,
		outcome.URL,
		string(outcome.State),
		outcome.Attempts,
		outcome.Error,
		outcome.QualityScore,
		outcome.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record item outcome: %w", err)
	}
	return nil
}

// CompleteRun marks a run finished and stores its counters.
func (r *HistoryRepository) CompleteRun(
	ctx context.Context,
	runID string,
	finishedAt time.Time,
	status history.RunStatus,
	counts history.Counts,
	errMsg *string,
) error {
	query := `
		UPDATE import_runs
		SET finished_at = $1, status = $2, error_message = $3,
			total = $4, completed = $5, drafted = $6, blocked = $7, failed = $8, skipped = $9
		WHERE run_id = $10;
	`
	res, err := r.db.Exec(
		ctx,
		query,
		finishedAt,
		string(status),
		errMsg,
		counts.Total,
		counts.Completed,
		counts.Drafted,
		counts.Blocked,
		counts.Failed,
		counts.Skipped,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if res.RowsAffected() == 0 {
		return fmt.Errorf("complete run %s: %w", runID, importer.ErrNotFound)
	}
	return nil
}

const runColumns = `run_id, status, started_at, finished_at, error_message,
	total, completed, drafted, blocked, failed, skipped`

// GetRun retrieves a single run by id.
func (r *HistoryRepository) GetRun(ctx context.Context, runID string) (history.Run, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs WHERE run_id = $1;`
	run, err := scanRun(r.db.QueryRow(ctx, query, runID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return history.Run{}, importer.ErrNotFound
		}
		return history.Run{}, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs newest first, with optional status filtering.
func (r *HistoryRepository) ListRuns(
	ctx context.Context,
	status *history.RunStatus,
	limit,
	offset int,
) ([]history.Run, error) {
	query := `SELECT ` + runColumns + ` FROM import_runs
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY started_at DESC, run_id DESC
		LIMIT $2 OFFSET $3;`
	var filter *string
	if status != nil {
		s := string(*status)
		filter = &s
	}
	rows, err := r.db.Query(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []history.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// ListItemOutcomes returns the outcomes recorded for runID, oldest first.
func (r *HistoryRepository) ListItemOutcomes(
	ctx context.Context,
	runID string,
	limit,
	offset int,
) ([]history.ItemOutcome, error) {
	query := `
		SELECT run_id, item_id, url, state, attempts, error, quality_score, recorded_at
		FROM import_item_outcomes
		WHERE run_id = $1
		ORDER BY recorded_at ASC, item_id ASC
		LIMIT $2 OFFSET $3;
	`
	rows, err := r.db.Query(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list item outcomes: %w", err)
	}
	defer rows.Close()

	var out []history.ItemOutcome
	for rows.Next() {
		var (
			o     history.ItemOutcome
			state string
		)
		if err := rows.Scan(
			&o.RunID,
			&o.ItemID,
			&o.URL,
			&state,
			&o.Attempts,
			&o.Error,
			&o.QualityScore,
			&o.RecordedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan item outcome: %w", err)
		}
		o.State = importer.ItemState(state)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate item outcomes: %w", err)
	}
	return out, nil
}

func scanRun(row pgx.Row) (history.Run, error) {
	var (
		run    history.Run
		status string
	)
	err := row.Scan(
		&run.RunID,
		&status,
		&run.StartedAt,
		&run.FinishedAt,
		&run.ErrorMessage,
		&run.Total,
		&run.Completed,
		&run.Drafted,
		&run.Blocked,
		&run.Failed,
		&run.Skipped,
	)
	if err != nil {
		return history.Run{}, err
	}
	run.Status = history.RunStatus(status)
	return run, nil
}
