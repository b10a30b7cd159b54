// Package memory provides in-memory stores for development and testing.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// RunStore keeps runs in a map keyed by (customer, run id).
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]ingest.Run
}

// NewRunStore constructs a RunStore.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]ingest.Run),
	}
}

func runKey(customerID, runID string) string {
	return customerID + "/" + runID
}

// CreateRun stores a new run record.
func (s *RunStore) CreateRun(_ context.Context, run ingest.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(run.CustomerID, run.ID)
	if _, exists := s.runs[key]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[key] = run
	return nil
}

// FindActiveRun returns the newest queued or running run for the pair created
// at or after since.
func (s *RunStore) FindActiveRun(
	_ context.Context,
	customerID, sourceID string,
	since time.Time,
) (ingest.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var (
		best  ingest.Run
		found bool
	)
	for _, run := range s.runs {
		if run.CustomerID != customerID || run.SourceID != sourceID {
			continue
		}
		if run.Status != ingest.RunStatusQueued && run.Status != ingest.RunStatusRunning {
			continue
		}
		if run.CreatedAt.Before(since) {
			continue
		}
		if !found || run.CreatedAt.After(best.CreatedAt) {
			best = run
			found = true
		}
	}
	return best, found, nil
}

// MarkRunning records the transition into running. A succeeded run is final;
// a failed run may re-enter running on redelivery.
func (s *RunStore) MarkRunning(_ context.Context, customerID, runID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(customerID, runID)
	run, ok := s.runs[key]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if !run.Status.CanTransition(ingest.RunStatusRunning) {
		return fmt.Errorf("run %s already succeeded", runID)
	}
	run.Status = ingest.RunStatusRunning
	if run.StartedAt == nil {
		ts := at
		run.StartedAt = &ts
	}
	s.runs[key] = run
	return nil
}

// FinishRun records a terminal status with its error context.
func (s *RunStore) FinishRun(
	_ context.Context,
	customerID, runID string,
	status ingest.RunStatus,
	errCode, errMsg string,
	at time.Time,
) error {
	if !status.Terminal() {
		return fmt.Errorf("status %q is not terminal", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := runKey(customerID, runID)
	run, ok := s.runs[key]
	if !ok {
		return fmt.Errorf("run %s not found", runID)
	}
	if !run.Status.CanTransition(status) {
		return fmt.Errorf("run %s already succeeded", runID)
	}
	run.Status = status
	run.ErrorCode = errCode
	run.ErrorMessage = errMsg
	ts := at
	run.FinishedAt = &ts
	s.runs[key] = run
	return nil
}

// GetRun fetches one run scoped by customer.
func (s *RunStore) GetRun(_ context.Context, customerID, runID string) (ingest.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[runKey(customerID, runID)]
	if !ok {
		return ingest.Run{}, fmt.Errorf("run %s not found", runID)
	}
	return run, nil
}
