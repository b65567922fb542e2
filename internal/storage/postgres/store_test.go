package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestNewStoreValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewStore(nil, "")
	require.Error(t, err)
	_, err = NewStore(mock, "kv; DROP TABLE users")
	require.ErrorContains(t, err, "invalid table name")

	store, err := NewStore(mock, "")
	require.NoError(t, err)
	require.Equal(t, DefaultKVTable, store.table)
}

func TestStoreSaveUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStore(mock, "snapshots")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO snapshots").
		WithArgs("bulk_import_state", `{"state":"paused"}`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), "bulk_import_state", `{"state":"paused"}`))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreLoad(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStore(mock, "snapshots")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT value FROM snapshots").
		WithArgs("present").
		WillReturnRows(pgxmock.NewRows([]string{"value"}).AddRow("payload"))
	mock.ExpectQuery("SELECT value FROM snapshots").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery("SELECT value FROM snapshots").
		WithArgs("broken").
		WillReturnError(errors.New("connection reset"))

	value, ok, err := store.Load(context.Background(), "present")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "payload", value)

	_, ok, err = store.Load(context.Background(), "missing")
	require.NoError(t, err)
	require.False(t, ok)

	_, _, err = store.Load(context.Background(), "broken")
	require.ErrorContains(t, err, "connection reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreRemove(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewStore(mock, "snapshots")
	require.NoError(t, err)

	mock.ExpectExec("DELETE FROM snapshots").
		WithArgs("gone").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, store.Remove(context.Background(), "gone"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS snapshots").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS import_runs").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS import_item_outcomes").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS import_runs_started_at_idx").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, EnsureSchema(context.Background(), mock, "snapshots", true))
	require.NoError(t, mock.ExpectationsWereMet())

	require.ErrorContains(t, EnsureSchema(context.Background(), mock, "bad-name", false), "invalid table name")
}

func TestConnectRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := Connect(context.Background(), Config{})
	require.ErrorContains(t, err, "database.dsn is required")
}
