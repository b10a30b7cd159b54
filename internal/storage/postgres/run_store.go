// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PoolConfig controls the Postgres connection pool shared by the stores.
type PoolConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// NewPool opens a pgx connection pool from the supplied config.
func NewPool(ctx context.Context, cfg PoolConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}

// RunStore persists ingestion runs in Postgres. Every query is scoped by
// customer id.
type RunStore struct {
	pool  dbPool
	table string
}

// NewRunStore constructs a store over an existing pool.
func NewRunStore(pool dbPool, table string) (*RunStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "runs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &RunStore{pool: pool, table: table}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// CreateRun inserts a new run row in queued status.
func (s *RunStore) CreateRun(ctx context.Context, run ingest.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	if run.CustomerID == "" {
		return fmt.Errorf("customer id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	customer_id,
	source_id,
	triggered_by,
	status,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6
)`, s.table)

	args := []any{
		run.ID,
		run.CustomerID,
		run.SourceID,
		run.Trigger,
		string(run.Status),
		run.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FindActiveRun returns the newest queued or running run for the pair created
// at or after since.
func (s *RunStore) FindActiveRun(
	ctx context.Context,
	customerID, sourceID string,
	since time.Time,
) (ingest.Run, bool, error) {
	query := fmt.Sprintf(`
SELECT id, customer_id, source_id, triggered_by, status,
	created_at, started_at, finished_at, error_code, error_message
FROM %s
WHERE customer_id = $1
  AND source_id = $2
  AND status IN ('queued','running')
  AND created_at >= $3
ORDER BY created_at DESC
LIMIT 1`, s.table)

	run, err := s.scanRun(s.pool.QueryRow(ctx, query, customerID, sourceID, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Run{}, false, nil
	}
	if err != nil {
		return ingest.Run{}, false, fmt.Errorf("find active run: %w", err)
	}
	return run, true, nil
}

// MarkRunning records the transition into running. Succeeded runs are final
// and never transition again; a failed run may re-enter running when its job
// is redelivered.
func (s *RunStore) MarkRunning(ctx context.Context, customerID, runID string, at time.Time) error {
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'running',
	started_at = COALESCE(started_at, $3)
WHERE customer_id = $1
  AND id = $2
  AND status <> 'success'`, s.table)

	tag, err := s.pool.Exec(ctx, query, customerID, runID, at)
	if err != nil {
		return fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found or already succeeded", runID)
	}
	return nil
}

// FinishRun records a terminal status with its error context, if any.
func (s *RunStore) FinishRun(
	ctx context.Context,
	customerID, runID string,
	status ingest.RunStatus,
	errCode, errMsg string,
	at time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $3,
	error_code = $4,
	error_message = $5,
	finished_at = $6
WHERE customer_id = $1
  AND id = $2
  AND status <> 'success'`, s.table)

	tag, err := s.pool.Exec(ctx, query, customerID, runID, string(status), errCode, errMsg, at)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found or already succeeded", runID)
	}
	return nil
}

// GetRun fetches one run scoped by customer.
func (s *RunStore) GetRun(ctx context.Context, customerID, runID string) (ingest.Run, error) {
	query := fmt.Sprintf(`
SELECT id, customer_id, source_id, triggered_by, status,
	created_at, started_at, finished_at, error_code, error_message
FROM %s
WHERE customer_id = $1
  AND id = $2`, s.table)

	run, err := s.scanRun(s.pool.QueryRow(ctx, query, customerID, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ingest.Run{}, fmt.Errorf("run %s not found", runID)
	}
	if err != nil {
		return ingest.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

func (s *RunStore) scanRun(row pgx.Row) (ingest.Run, error) {
	var (
		run     ingest.Run
		status  string
		errCode *string
		errMsg  *string
	)
	err := row.Scan(
		&run.ID,
		&run.CustomerID,
		&run.SourceID,
		&run.Trigger,
		&status,
		&run.CreatedAt,
		&run.StartedAt,
		&run.FinishedAt,
		&errCode,
		&errMsg,
	)
	if err != nil {
		return ingest.Run{}, err
	}
	run.Status = ingest.RunStatus(status)
	if errCode != nil {
		run.ErrorCode = *errCode
	}
	if errMsg != nil {
		run.ErrorMessage = *errMsg
	}
	return run, nil
}
