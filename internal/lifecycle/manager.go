// Package lifecycle owns the run state machine: idempotent creation, job
// processing inside a single failure boundary, and the queue decision.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/discover"
	"github.com/fordonad/inventory-ingest/internal/events"
	"github.com/fordonad/inventory-ingest/internal/extract"
	"github.com/fordonad/inventory-ingest/internal/ingest"
	"github.com/fordonad/inventory-ingest/internal/metrics"
)

// ProfileSource resolves the site profile configured for a customer source.
type ProfileSource interface {
	Profile(ctx context.Context, customerID, sourceID string) (ingest.SiteProfile, error)
}

// Config controls Manager behavior.
type Config struct {
	// DedupeWindow is how far back the idempotent-creation check looks for
	// an in-flight run of the same (customer, source) pair.
	DedupeWindow time.Duration
	// FetchTimeout bounds each detail-page fetch.
	FetchTimeout time.Duration
	// SnapshotContentType is used for HTML diagnostic snapshots.
	SnapshotContentType string
}

// Deps collects the collaborators a Manager needs.
type Deps struct {
	Runs     ingest.RunStore
	Items    ingest.ItemStore
	Queue    ingest.Queue
	Profiles ProfileSource
	Fetcher  ingest.Fetcher
	Discover *discover.Engine
	Extract  *extract.Extractor
	Recorder *events.Recorder
	Blobs    ingest.BlobStore
	Hasher   ingest.Hasher
	Clock    ingest.Clock
	IDGen    ingest.IDGenerator
	Retry    *RetryPolicy
}

// Manager drives runs from creation to a terminal state.
type Manager struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs a Manager.
func New(deps Deps, cfg Config, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.SnapshotContentType == "" {
		cfg.SnapshotContentType = "text/html; charset=utf-8"
	}
	if deps.Retry == nil {
		deps.Retry = NewRetryPolicy()
	}
	metrics.Init()
	return &Manager{deps: deps, cfg: cfg, logger: logger}
}

// LaunchResult reports the run a launch request resolved to.
type LaunchResult struct {
	RunID        string `json:"run_id"`
	Deduplicated bool   `json:"deduplicated"`
}

// Launch creates a run for the pair and enqueues its job, deduplicating
// against queued/running runs created within the dedupe window. A failing
// dedupe check falls through to creation: duplicate runs are preferred over
// blocking the caller.
func (m *Manager) Launch(ctx context.Context, customerID, sourceID, trigger string) (LaunchResult, error) {
	now := m.deps.Clock.Now()
	since := now.Add(-m.cfg.DedupeWindow)

	existing, ok, err := m.deps.Runs.FindActiveRun(ctx, customerID, sourceID, since)
	if err != nil {
		m.logger.Warn("run dedupe check failed; creating anyway",
			zap.String("customer_id", customerID),
			zap.String("source_id", sourceID),
			zap.Error(err))
	} else if ok {
		return LaunchResult{RunID: existing.ID, Deduplicated: true}, nil
	}

	runID, err := m.deps.IDGen.NewID()
	if err != nil {
		return LaunchResult{}, fmt.Errorf("generate run id: %w", err)
	}
	run := ingest.Run{
		ID:         runID,
		CustomerID: customerID,
		SourceID:   sourceID,
		Trigger:    trigger,
		Status:     ingest.RunStatusQueued,
		CreatedAt:  now,
	}
	if err := m.deps.Runs.CreateRun(ctx, run); err != nil {
		return LaunchResult{}, fmt.Errorf("create run: %w", err)
	}

	job := ingest.Job{
		CustomerID: customerID,
		SourceID:   sourceID,
		RunID:      runID,
		Trigger:    trigger,
		Attempt:    1,
	}
	if err := m.deps.Queue.Enqueue(ctx, job); err != nil {
		return LaunchResult{}, fmt.Errorf("enqueue run: %w", err)
	}
	return LaunchResult{RunID: runID}, nil
}

// Process handles one delivered job and returns the queue decision. All
// domain failures are converted here; nothing below this boundary escapes.
func (m *Manager) Process(ctx context.Context, job ingest.Job) ingest.Outcome {
	if job.CustomerID == "" || job.SourceID == "" || job.RunID == "" {
		// Permanent defect in the message itself; retrying cannot help.
		m.logger.Error("job missing correlation fields",
			zap.String("customer_id", job.CustomerID),
			zap.String("source_id", job.SourceID),
			zap.String("run_id", job.RunID))
		return ingest.DeadLetter("missing correlation fields")
	}

	now := m.deps.Clock.Now()
	if err := m.deps.Runs.MarkRunning(ctx, job.CustomerID, job.RunID, now); err != nil {
		m.logger.Error("mark running failed", zap.String("run_id", job.RunID), zap.Error(err))
		return m.settleFailure(ctx, job, fmt.Errorf("mark running: %w", err))
	}
	m.event(ctx, job, ingest.StageLifecycle, ingest.EventJobStart, ingest.LevelInfo,
		"run started", map[string]any{"attempt": job.Attempt})
	if m.deps.Blobs == nil {
		m.event(ctx, job, ingest.StageDiagnostics, ingest.EventStorageNotConfigured,
			ingest.LevelInfo, "diagnostic storage not configured; snapshots disabled", nil)
	}

	if err := m.execute(ctx, job); err != nil {
		return m.settleFailure(ctx, job, err)
	}

	finished := m.deps.Clock.Now()
	if err := m.deps.Runs.FinishRun(ctx, job.CustomerID, job.RunID,
		ingest.RunStatusSuccess, "", "", finished); err != nil {
		return m.settleFailure(ctx, job, fmt.Errorf("finalize run: %w", err))
	}
	m.event(ctx, job, ingest.StageLifecycle, ingest.EventJobSuccess, ingest.LevelInfo,
		"run finished", nil)
	metrics.ObserveRun(string(ingest.RunStatusSuccess))
	return ingest.Ack()
}

// execute performs discovery and extraction for the run.
func (m *Manager) execute(ctx context.Context, job ingest.Job) error {
	profile, err := m.deps.Profiles.Profile(ctx, job.CustomerID, job.SourceID)
	if err != nil {
		return &ingest.PreconditionError{
			Reason: fmt.Sprintf("site profile for source %q: %v", job.SourceID, err),
		}
	}
	if len(profile.Seeds()) == 0 {
		return &ingest.PreconditionError{
			Reason: fmt.Sprintf("site profile for source %q has no seed urls", job.SourceID),
		}
	}

	discovered := m.deps.Discover.Discover(ctx, profile)
	metrics.ObserveItems(profile.BaseURL, len(discovered))

	items := make([]ingest.Item, 0, len(discovered))
	var lastFetchErr error
	for _, d := range discovered {
		item, err := m.processDetail(ctx, job, profile, d)
		if err != nil {
			// Single-page failures degrade the result, never the run.
			lastFetchErr = err
			continue
		}
		items = append(items, item)
	}
	if len(discovered) > 0 && len(items) == 0 && lastFetchErr != nil {
		return lastFetchErr
	}

	if err := m.deps.Items.UpsertItems(ctx, items); err != nil {
		return fmt.Errorf("persist items: %w", err)
	}
	return nil
}

func (m *Manager) processDetail(
	ctx context.Context,
	job ingest.Job,
	profile ingest.SiteProfile,
	d ingest.DiscoveredItem,
) (ingest.Item, error) {
	start := m.deps.Clock.Now()
	page, err := m.deps.Fetcher.Fetch(ctx, d.URL, m.cfg.FetchTimeout)
	if err != nil {
		m.event(ctx, job, ingest.StageFetch, ingest.EventFetchFail, ingest.LevelWarn,
			fmt.Sprintf("fetch failed: %v", err), map[string]any{"url": d.URL})
		m.captureSnapshot(ctx, job, d.SourceItemID, page)
		metrics.ObserveFetch(d.URL, "error", m.deps.Clock.Now().Sub(start))
		return ingest.Item{}, &ingest.FetchError{URL: d.URL, Err: err}
	}
	if page.StatusCode != 200 {
		m.event(ctx, job, ingest.StageFetch, ingest.EventFetchFail, ingest.LevelWarn,
			fmt.Sprintf("unexpected http status %d", page.StatusCode),
			map[string]any{"url": d.URL, "status": page.StatusCode})
		m.captureSnapshot(ctx, job, d.SourceItemID, page)
		metrics.ObserveFetch(d.URL, fmt.Sprintf("%d", page.StatusCode), m.deps.Clock.Now().Sub(start))
		return ingest.Item{}, &ingest.FetchError{URL: d.URL, Status: page.StatusCode}
	}
	m.event(ctx, job, ingest.StageFetch, ingest.EventFetchOK, ingest.LevelInfo,
		"detail page fetched", map[string]any{"url": d.URL})
	metrics.ObserveFetch(d.URL, "200", m.deps.Clock.Now().Sub(start))

	result := m.deps.Extract.Extract(page)
	m.event(ctx, job, ingest.StageExtract, ingest.EventParseOK, ingest.LevelInfo,
		"detail page extracted", map[string]any{"url": d.URL, "images": len(result.ImageURLs)})

	return ingest.Item{
		CustomerID:      job.CustomerID,
		SourceID:        profile.SourceID,
		RunID:           job.RunID,
		SourceItemID:    d.SourceItemID,
		URL:             d.URL,
		Title:           result.Title,
		Description:     result.Description,
		PriceAmount:     result.PriceAmount,
		PriceCurrency:   result.PriceCurrency,
		PrimaryImageURL: result.PrimaryImageURL,
		ImageURLs:       result.ImageURLs,
		Attributes:      result.Attributes,
		FetchedAt:       m.deps.Clock.Now(),
	}, nil
}

// settleFailure persists the failure on the run record, emits the terminal
// event, and converts the classification into a queue decision.
func (m *Manager) settleFailure(ctx context.Context, job ingest.Job, cause error) ingest.Outcome {
	cls := ingest.Classify(cause)
	finished := m.deps.Clock.Now()
	if err := m.deps.Runs.FinishRun(ctx, job.CustomerID, job.RunID,
		ingest.RunStatusFailed, cls.Code, cause.Error(), finished); err != nil {
		m.logger.Error("persist run failure failed",
			zap.String("run_id", job.RunID), zap.Error(err))
	}
	m.event(ctx, job, ingest.StageLifecycle, ingest.EventJobFail, ingest.LevelError,
		cause.Error(), map[string]any{"error_code": cls.Code, "attempt": job.Attempt})
	metrics.ObserveRun(string(ingest.RunStatusFailed))

	if !cls.Transient {
		return ingest.DeadLetter(cls.Code)
	}
	if m.deps.Retry.Exhausted(job.Attempt) {
		return ingest.DeadLetter(fmt.Sprintf("%s: retries exhausted", cls.Code))
	}
	return ingest.RetryAfter(m.deps.Retry.Delay(job.Attempt))
}

// captureSnapshot saves the page body (or its trace) for later debugging.
// Capture is opportunistic: any error here is swallowed, never surfaced.
func (m *Manager) captureSnapshot(ctx context.Context, job ingest.Job, itemID string, page ingest.Page) {
	if m.deps.Blobs == nil {
		return
	}
	data := []byte(page.Body)
	contentType := m.cfg.SnapshotContentType
	ext := "html"
	if len(data) == 0 && page.Trace != nil {
		encoded, err := json.Marshal(page.Trace)
		if err != nil {
			return
		}
		data, contentType, ext = encoded, "application/json", "json"
	}
	if len(data) == 0 {
		return
	}
	digest, err := m.deps.Hasher.Hash(data)
	if err != nil {
		m.logger.Warn("snapshot hash failed", zap.String("run_id", job.RunID), zap.Error(err))
		return
	}
	path := fmt.Sprintf("snapshots/%s/%s/%s.%s", job.CustomerID, job.RunID, digest, ext)
	uri, err := m.deps.Blobs.PutObject(ctx, path, contentType, data)
	if err != nil {
		m.logger.Warn("snapshot upload failed", zap.String("run_id", job.RunID), zap.Error(err))
		return
	}
	m.event(ctx, job, ingest.StageDiagnostics, ingest.EventSnapshotSaved, ingest.LevelInfo,
		"snapshot captured", map[string]any{"uri": uri, "source_item_id": itemID})
}

func (m *Manager) event(
	ctx context.Context,
	job ingest.Job,
	stage ingest.Stage,
	code ingest.EventCode,
	level ingest.EventLevel,
	message string,
	meta map[string]any,
) {
	m.deps.Recorder.Record(ctx, ingest.RunEvent{
		CustomerID: job.CustomerID,
		RunID:      job.RunID,
		Stage:      stage,
		Code:       code,
		Level:      level,
		Message:    message,
		Meta:       meta,
		CreatedAt:  m.deps.Clock.Now(),
	})
}
