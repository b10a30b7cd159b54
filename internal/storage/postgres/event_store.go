package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// EventStore appends to the immutable run event log. Rows are insert-only;
// no code path updates or deletes them.
type EventStore struct {
	pool  dbPool
	table string
}

// NewEventStore constructs a store over an existing pool.
func NewEventStore(pool dbPool, table string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "run_events"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EventStore{pool: pool, table: table}, nil
}

// AppendEvent inserts one event row.
func (s *EventStore) AppendEvent(ctx context.Context, event ingest.RunEvent) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	metaJSON, err := json.Marshal(event.Meta)
	if err != nil {
		return fmt.Errorf("marshal event meta: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	customer_id,
	run_id,
	stage,
	event_code,
	level,
	message,
	meta,
	created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	args := []any{
		event.CustomerID,
		event.RunID,
		string(event.Stage),
		string(event.Code),
		string(event.Level),
		event.Message,
		metaJSON,
		event.CreatedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events in append order.
func (s *EventStore) ListEvents(ctx context.Context, customerID, runID string) ([]ingest.RunEvent, error) {
	query := fmt.Sprintf(`
SELECT customer_id, run_id, stage, event_code, level, message, meta, created_at
FROM %s
WHERE customer_id = $1
  AND run_id = $2
ORDER BY created_at, id`, s.table)

	rows, err := s.pool.Query(ctx, query, customerID, runID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []ingest.RunEvent
	for rows.Next() {
		var (
			event    ingest.RunEvent
			stage    string
			code     string
			level    string
			metaJSON []byte
		)
		err := rows.Scan(
			&event.CustomerID,
			&event.RunID,
			&stage,
			&code,
			&level,
			&event.Message,
			&metaJSON,
			&event.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Stage = ingest.Stage(stage)
		event.Code = ingest.EventCode(code)
		event.Level = ingest.EventLevel(level)
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &event.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal event meta: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events, nil
}
