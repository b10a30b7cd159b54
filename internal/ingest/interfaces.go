package ingest

import (
	"context"
	"time"
)

// Fetcher retrieves a URL within the supplied timeout and reports the final
// URL after redirects.
type Fetcher interface {
	Fetch(ctx context.Context, url string, timeout time.Duration) (Page, error)
}

// RunStore persists run records. All reads and writes are scoped by customer
// id; tenant isolation is a hard requirement.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	// FindActiveRun returns the newest queued/running run for the pair
	// created at or after since. ok is false when none exists.
	FindActiveRun(ctx context.Context, customerID, sourceID string, since time.Time) (run Run, ok bool, err error)
	MarkRunning(ctx context.Context, customerID, runID string, at time.Time) error
	FinishRun(ctx context.Context, customerID, runID string, status RunStatus, errCode, errMsg string, at time.Time) error
	GetRun(ctx context.Context, customerID, runID string) (Run, error)
}

// ItemStore persists extracted inventory items scoped by customer.
type ItemStore interface {
	UpsertItems(ctx context.Context, items []Item) error
	ListItems(ctx context.Context, customerID, runID string) ([]Item, error)
}

// EventStore appends to the immutable run event log.
type EventStore interface {
	AppendEvent(ctx context.Context, event RunEvent) error
	ListEvents(ctx context.Context, customerID, runID string) ([]RunEvent, error)
}

// BlobStore writes diagnostic artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Delivery is one job handed to a worker. Exactly one of Ack, Retry, or
// DeadLetter must be called before the delivery is considered settled.
type Delivery interface {
	Job() Job
	Ack()
	Retry(delay time.Duration)
	DeadLetter(reason string)
}

// Queue provides enqueue/receive semantics for ingestion jobs.
type Queue interface {
	Enqueue(ctx context.Context, job Job) error
	Receive(ctx context.Context) (Delivery, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run ids (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for snapshot naming and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
