package ingest

import (
	"errors"
	"time"
)

// Stage names the subsystem that produced a run event.
type Stage string

// Supported event stages.
const (
	StageLifecycle   Stage = "lifecycle"
	StageDiscovery   Stage = "discovery"
	StageFetch       Stage = "fetch"
	StageExtract     Stage = "extract"
	StagePersist     Stage = "persist"
	StageDiagnostics Stage = "diagnostics"
)

// EventCode is a stable vocabulary consumed by downstream summarization.
// Existing codes must stay backward compatible; new codes are additive only.
type EventCode string

// Supported event codes.
const (
	EventJobStart             EventCode = "JOB_START"
	EventFetchOK              EventCode = "FETCH_OK"
	EventFetchFail            EventCode = "FETCH_FAIL"
	EventParseOK              EventCode = "PARSE_OK"
	EventJobSuccess           EventCode = "JOB_SUCCESS"
	EventJobFail              EventCode = "JOB_FAIL"
	EventStorageNotConfigured EventCode = "STORAGE_NOT_CONFIGURED"
	EventSnapshotSaved        EventCode = "SNAPSHOT_SAVED"
)

// EventLevel is the severity attached to a run event.
type EventLevel string

// Supported event levels.
const (
	LevelInfo  EventLevel = "info"
	LevelWarn  EventLevel = "warn"
	LevelError EventLevel = "error"
)

// RunEvent is one immutable entry in a run's audit trail. Events are only
// ever appended; nothing updates or deletes them.
type RunEvent struct {
	CustomerID string         `json:"customer_id"`
	RunID      string         `json:"run_id"`
	Stage      Stage          `json:"stage"`
	Code       EventCode      `json:"event_code"`
	Level      EventLevel     `json:"level"`
	Message    string         `json:"message"`
	Meta       map[string]any `json:"meta,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Validate performs coarse validation before an event is appended.
func (e RunEvent) Validate() error {
	if e.RunID == "" {
		return errors.New("run id is required")
	}
	if e.CustomerID == "" {
		return errors.New("customer id is required")
	}
	if e.Stage == "" {
		return errors.New("stage is required")
	}
	if e.Code == "" {
		return errors.New("event code is required")
	}
	if e.CreatedAt.IsZero() {
		return errors.New("timestamp is required")
	}
	return nil
}
