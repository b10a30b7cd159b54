package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

func TestNewRunStoreValidatesTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewRunStore(mock, "runs; DROP TABLE runs")
	require.Error(t, err)

	_, err = NewRunStore(nil, "runs")
	require.Error(t, err)
}

func TestCreateRunInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	run := ingest.Run{
		ID:         "run-1",
		CustomerID: "cust-1",
		SourceID:   "lot-1",
		Trigger:    "manual",
		Status:     ingest.RunStatusQueued,
		CreatedAt:  now,
	}

	mock.ExpectExec("INSERT INTO runs").
		WithArgs(run.ID, run.CustomerID, run.SourceID, run.Trigger, "queued", run.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateRunRequiresIdentity(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	require.Error(t, store.CreateRun(context.Background(), ingest.Run{CustomerID: "cust-1"}))
	require.Error(t, store.CreateRun(context.Background(), ingest.Run{ID: "run-1"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveRunScansRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	since := now.Add(-time.Minute)
	started := now.Add(time.Second)

	rows := pgxmock.NewRows([]string{
		"id", "customer_id", "source_id", "triggered_by", "status",
		"created_at", "started_at", "finished_at", "error_code", "error_message",
	}).AddRow(
		"run-1", "cust-1", "lot-1", "schedule", "running",
		now, &started, (*time.Time)(nil), (*string)(nil), (*string)(nil),
	)

	mock.ExpectQuery("FROM runs").
		WithArgs("cust-1", "lot-1", since).
		WillReturnRows(rows)

	run, ok, err := store.FindActiveRun(context.Background(), "cust-1", "lot-1", since)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "run-1", run.ID)
	require.Equal(t, ingest.RunStatusRunning, run.Status)
	require.Equal(t, "schedule", run.Trigger)
	require.NotNil(t, run.StartedAt)
	require.Nil(t, run.FinishedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindActiveRunNoRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	since := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("FROM runs").
		WithArgs("cust-1", "lot-1", since).
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "customer_id", "source_id", "triggered_by", "status",
			"created_at", "started_at", "finished_at", "error_code", "error_message",
		}))

	_, ok, err := store.FindActiveRun(context.Background(), "cust-1", "lot-1", since)
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkRunningGuardsSucceededRuns(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE runs").
		WithArgs("cust-1", "run-1", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkRunning(context.Background(), "cust-1", "run-1", at))

	// Zero rows means the run is missing or already succeeded.
	mock.ExpectExec("UPDATE runs").
		WithArgs("cust-1", "run-2", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.Error(t, store.MarkRunning(context.Background(), "cust-1", "run-2", at))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunWritesTerminalStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	at := time.Unix(1700000000, 0).UTC()

	mock.ExpectExec("UPDATE runs").
		WithArgs("cust-1", "run-1", "failed", ingest.ErrCodeFetch, "connection refused", at).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.FinishRun(context.Background(), "cust-1", "run-1",
		ingest.RunStatusFailed, ingest.ErrCodeFetch, "connection refused", at)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunRejectsNonTerminalStatus(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	err = store.FinishRun(context.Background(), "cust-1", "run-1",
		ingest.RunStatusRunning, "", "", time.Unix(1700000000, 0))
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRunNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRunStore(mock, "runs")
	require.NoError(t, err)

	mock.ExpectQuery("FROM runs").
		WithArgs("cust-1", "run-9").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "customer_id", "source_id", "triggered_by", "status",
			"created_at", "started_at", "finished_at", "error_code", "error_message",
		}))

	_, err = store.GetRun(context.Background(), "cust-1", "run-9")
	require.ErrorContains(t, err, "not found")
	require.NoError(t, mock.ExpectationsWereMet())
}
