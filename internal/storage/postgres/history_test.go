package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bulk-importer/internal/history"
	"github.com/JakeFAU/bulk-importer/internal/importer"
)

var runCols = []string{
	"run_id", "status", "started_at", "finished_at", "error_message",
	"total", "completed", "drafted", "blocked", "failed", "skipped",
}

func newHistoryMock(t *testing.T) (*HistoryRepository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	repo, err := NewHistoryRepository(mock)
	require.NoError(t, err)
	return repo, mock
}

func TestHistoryUpsertRunStart(t *testing.T) {
	t.Parallel()

	repo, mock := newHistoryMock(t)
	started := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("INSERT INTO import_runs").
		WithArgs("run-1", "running", started).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertRunStart(context.Background(), "run-1", started))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRecordItemOutcome(t *testing.T) {
	t.Parallel()

	repo, mock := newHistoryMock(t)
	at := time.Unix(1700000100, 0).UTC()
	score := 80.0
	outcome := history.ItemOutcome{
		RunID:        "run-1",
		ItemID:       "item-1",
		URL:          "https://shop.example/p/1",
		State:        importer.ItemDrafted,
		Attempts:     1,
		Error:        "Imported as draft with incomplete data",
		QualityScore: &score,
		RecordedAt:   at,
	}

	mock.ExpectExec("INSERT INTO import_item_outcomes").
		WithArgs("run-1", "item-1", outcome.URL, "drafted", 1, outcome.Error, &score, at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.RecordItemOutcome(context.Background(), outcome))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryCompleteRun(t *testing.T) {
	t.Parallel()

	repo, mock := newHistoryMock(t)
	finished := time.Unix(1700000200, 0).UTC()
	counts := history.Counts{Total: 3, Completed: 2, Failed: 1}
	msg := "processor unavailable"

	mock.ExpectExec("UPDATE import_runs").
		WithArgs(finished, "failed", &msg, 3, 2, 0, 0, 1, 0, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE import_runs").
		WithArgs(finished, "completed", (*string)(nil), 0, 0, 0, 0, 0, 0, "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.CompleteRun(context.Background(), "run-1", finished, history.RunFailed, counts, &msg))
	err := repo.CompleteRun(context.Background(), "ghost", finished, history.RunCompleted, history.Counts{}, nil)
	require.ErrorIs(t, err, importer.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryGetRun(t *testing.T) {
	t.Parallel()

	repo, mock := newHistoryMock(t)
	started := time.Unix(1700000000, 0).UTC()
	finished := started.Add(time.Minute)

	mock.ExpectQuery("SELECT run_id, status").
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-1", "completed", started, &finished, (*string)(nil), 3, 2, 1, 0, 0, 0))
	mock.ExpectQuery("SELECT run_id, status").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	run, err := repo.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	require.Equal(t, history.RunCompleted, run.Status)
	require.Equal(t, started, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	require.Equal(t, finished, *run.FinishedAt)
	require.Nil(t, run.ErrorMessage)
	require.Equal(t, history.Counts{Total: 3, Completed: 2, Drafted: 1}, run.Counts)

	_, err = repo.GetRun(context.Background(), "missing")
	require.ErrorIs(t, err, importer.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryListRunsFiltersByStatus(t *testing.T) {
	t.Parallel()

	repo, mock := newHistoryMock(t)
	started := time.Unix(1700000000, 0).UTC()
	status := history.RunRunning
	want := "running"

	mock.ExpectQuery("SELECT run_id, status").
		WithArgs(&want, 10, 0).
		WillReturnRows(pgxmock.NewRows(runCols).
			AddRow("run-2", "running", started.Add(time.Hour), (*time.Time)(nil), (*string)(nil), 5, 0, 0, 0, 0, 0).
			AddRow("run-1", "running", started, (*time.Time)(nil), (*string)(nil), 2, 1, 0, 0, 0, 0))

	runs, err := repo.ListRuns(context.Background(), &status, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "run-2", runs[0].RunID)
	require.Nil(t, runs[0].FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryListItemOutcomes(t *testing.T) {
	t.Parallel()

	repo, mock := newHistoryMock(t)
	at := time.Unix(1700000100, 0).UTC()

	mock.ExpectQuery("FROM import_item_outcomes").
		WithArgs("run-1", 50, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"run_id", "item_id", "url", "state", "attempts", "error", "quality_score", "recorded_at",
		}).AddRow("run-1", "item-1", "https://shop.example/p/1", "blocked", 1, "Critical data missing", (*float64)(nil), at))

	out, err := repo.ListItemOutcomes(context.Background(), "run-1", 50, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, importer.ItemBlocked, out[0].State)
	require.Nil(t, out[0].QualityScore)
	require.NoError(t, mock.ExpectationsWereMet())
}
