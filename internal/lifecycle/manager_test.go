package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fordonad/inventory-ingest/internal/discover"
	"github.com/fordonad/inventory-ingest/internal/events"
	"github.com/fordonad/inventory-ingest/internal/extract"
	"github.com/fordonad/inventory-ingest/internal/hash/sha256"
	"github.com/fordonad/inventory-ingest/internal/ingest"
	queueMemory "github.com/fordonad/inventory-ingest/internal/queue/memory"
	storageMemory "github.com/fordonad/inventory-ingest/internal/storage/memory"
)

type fakeFetcher struct {
	pages map[string]ingest.Page
	errs  map[string]error
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, _ time.Duration) (ingest.Page, error) {
	if err, ok := f.errs[url]; ok {
		return ingest.Page{Trace: &ingest.FetchTrace{RequestedURL: url, Error: err.Error()}}, err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return ingest.Page{}, errors.New("connection refused")
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

type fakeIDGen struct {
	n int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

type fakeProfiles struct {
	profiles map[string]ingest.SiteProfile
	err      error
}

func (p *fakeProfiles) Profile(_ context.Context, _, sourceID string) (ingest.SiteProfile, error) {
	if p.err != nil {
		return ingest.SiteProfile{}, p.err
	}
	profile, ok := p.profiles[sourceID]
	if !ok {
		return ingest.SiteProfile{}, fmt.Errorf("no source %q", sourceID)
	}
	return profile, nil
}

type harness struct {
	manager *Manager
	runs    *storageMemory.RunStore
	items   *storageMemory.ItemStore
	events  *storageMemory.EventStore
	blobs   *storageMemory.BlobStore
	queue   *queueMemory.Queue
	clock   *fakeClock
}

func newHarness(t *testing.T, fetcher *fakeFetcher, profiles ProfileSource) *harness {
	t.Helper()
	h := &harness{
		runs:   storageMemory.NewRunStore(),
		items:  storageMemory.NewItemStore(),
		events: storageMemory.NewEventStore(),
		blobs:  storageMemory.NewBlobStore(),
		queue:  queueMemory.NewQueue(8),
		clock:  &fakeClock{now: time.Unix(10000, 0)},
	}
	engine := discover.New(fetcher, h.clock, discover.DefaultConfig(), nil)
	recorder := events.NewRecorder(nil, events.NewStoreSink(h.events))
	h.manager = New(Deps{
		Runs:     h.runs,
		Items:    h.items,
		Queue:    h.queue,
		Profiles: profiles,
		Fetcher:  fetcher,
		Discover: engine,
		Extract:  extract.New(extract.Config{}),
		Recorder: recorder,
		Blobs:    h.blobs,
		Hasher:   sha256.New(),
		Clock:    h.clock,
		IDGen:    &fakeIDGen{},
	}, Config{DedupeWindow: 30 * time.Second, FetchTimeout: time.Second}, nil)
	return h
}

func carsProfile() ingest.SiteProfile {
	return ingest.SiteProfile{
		SourceID: "lot-1",
		BaseURL:  "https://cars.se/lager",
		Limits:   ingest.Limits{MaxPages: 5, MaxItems: 10, MaxDuration: time.Hour},
	}
}

func listingFetcher() *fakeFetcher {
	return &fakeFetcher{pages: map[string]ingest.Page{
		"https://cars.se/lager": {StatusCode: 200, FinalURL: "https://cars.se/lager", Body: `
<a href="/objekt/volvo-1">Volvo</a>`},
		"https://cars.se/objekt/volvo-1": {StatusCode: 200, FinalURL: "https://cars.se/objekt/volvo-1", Body: `
<title>Volvo V60</title><p>Pris: 199 000 kr</p>`},
	}}
}

func eventCodes(t *testing.T, h *harness, customerID, runID string) []ingest.EventCode {
	t.Helper()
	recorded, err := h.events.ListEvents(context.Background(), customerID, runID)
	require.NoError(t, err)
	codes := make([]ingest.EventCode, 0, len(recorded))
	for _, e := range recorded {
		codes = append(codes, e.Code)
	}
	return codes
}

func TestLaunch_CreatesRunAndEnqueuesJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	result, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)
	require.Equal(t, "run-1", result.RunID)
	require.False(t, result.Deduplicated)

	run, err := h.runs.GetRun(ctx, "cust-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.RunStatusQueued, run.Status)
	require.Equal(t, "api", run.Trigger)

	receiveCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	delivery, err := h.queue.Receive(receiveCtx)
	require.NoError(t, err)
	job := delivery.Job()
	require.Equal(t, "run-1", job.RunID)
	require.Equal(t, 1, job.Attempt)
}

func TestLaunch_DedupesWithinWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	first, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)
	second, err := h.manager.Launch(ctx, "cust-1", "lot-1", "schedule")
	require.NoError(t, err)

	require.True(t, second.Deduplicated)
	require.Equal(t, first.RunID, second.RunID)
}

func TestLaunch_NewRunAfterDedupeWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	first, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)
	require.False(t, first.Deduplicated)

	h.clock.now = h.clock.now.Add(31 * time.Second)

	second, err := h.manager.Launch(ctx, "cust-1", "lot-1", "schedule")
	require.NoError(t, err)
	require.False(t, second.Deduplicated)
	require.NotEqual(t, first.RunID, second.RunID)
	require.Equal(t, "run-2", second.RunID)
}

func TestLaunch_DifferentSourcesDoNotDedupe(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	first, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)
	second, err := h.manager.Launch(ctx, "cust-1", "lot-2", "api")
	require.NoError(t, err)

	require.False(t, second.Deduplicated)
	require.NotEqual(t, first.RunID, second.RunID)
}

func TestProcess_SuccessfulRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	_, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-1", Attempt: 1,
	})
	require.Equal(t, ingest.OutcomeAck, outcome.Kind)

	run, err := h.runs.GetRun(ctx, "cust-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.RunStatusSuccess, run.Status)
	require.NotNil(t, run.StartedAt)
	require.NotNil(t, run.FinishedAt)
	require.Empty(t, run.ErrorCode)

	items, err := h.items.ListItems(ctx, "cust-1", "run-1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "volvo-1", items[0].SourceItemID)
	require.Equal(t, "Volvo V60", items[0].Title)
	require.NotNil(t, items[0].PriceAmount)
	require.Equal(t, int64(199000), *items[0].PriceAmount)

	codes := eventCodes(t, h, "cust-1", "run-1")
	require.Contains(t, codes, ingest.EventJobStart)
	require.Contains(t, codes, ingest.EventFetchOK)
	require.Contains(t, codes, ingest.EventParseOK)
	require.Contains(t, codes, ingest.EventJobSuccess)
	require.Equal(t, ingest.EventJobStart, codes[0])
	require.Equal(t, ingest.EventJobSuccess, codes[len(codes)-1])
}

func TestProcess_TransientFailureRetries(t *testing.T) {
	t.Parallel()

	fetcher := listingFetcher()
	// Detail page unreachable: run-level failure after discovery found it.
	delete(fetcher.pages, "https://cars.se/objekt/volvo-1")

	h := newHarness(t, fetcher, &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	_, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-1", Attempt: 1,
	})
	require.Equal(t, ingest.OutcomeRetry, outcome.Kind)
	require.Greater(t, outcome.Delay, time.Duration(0))

	run, err := h.runs.GetRun(ctx, "cust-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.RunStatusFailed, run.Status)
	require.Equal(t, ingest.ErrCodeFetch, run.ErrorCode)
	require.NotEmpty(t, run.ErrorMessage)

	codes := eventCodes(t, h, "cust-1", "run-1")
	require.Contains(t, codes, ingest.EventJobFail)
}

func TestProcess_ExhaustedRetriesDeadLetters(t *testing.T) {
	t.Parallel()

	fetcher := listingFetcher()
	delete(fetcher.pages, "https://cars.se/objekt/volvo-1")

	h := newHarness(t, fetcher, &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	_, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-1", Attempt: 3,
	})
	require.Equal(t, ingest.OutcomeDeadLetter, outcome.Kind)
	require.Contains(t, outcome.Reason, "retries exhausted")
}

func TestProcess_MissingProfileIsPermanent(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{err: errors.New("config store down")})
	ctx := context.Background()

	run := ingest.Run{
		ID: "run-x", CustomerID: "cust-1", SourceID: "lot-1",
		Status: ingest.RunStatusQueued, CreatedAt: h.clock.Now(),
	}
	require.NoError(t, h.runs.CreateRun(ctx, run))

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-x", Attempt: 1,
	})
	require.Equal(t, ingest.OutcomeDeadLetter, outcome.Kind)

	stored, err := h.runs.GetRun(ctx, "cust-1", "run-x")
	require.NoError(t, err)
	require.Equal(t, ingest.RunStatusFailed, stored.Status)
	require.Equal(t, ingest.ErrCodePrecondition, stored.ErrorCode)
}

func TestProcess_MissingCorrelationDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})

	outcome := h.manager.Process(context.Background(), ingest.Job{CustomerID: "cust-1", Attempt: 1})
	require.Equal(t, ingest.OutcomeDeadLetter, outcome.Kind)
}

func TestProcess_EmptyDiscoveryStillSucceeds(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]ingest.Page{
		"https://cars.se/lager": {StatusCode: 200, FinalURL: "https://cars.se/lager",
			Body: `<p>Inga annonser just nu.</p>`},
	}}
	h := newHarness(t, fetcher, &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	_, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-1", Attempt: 1,
	})
	require.Equal(t, ingest.OutcomeAck, outcome.Kind)

	run, err := h.runs.GetRun(ctx, "cust-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.RunStatusSuccess, run.Status)
}

func TestProcess_NonOKDetailCapturesSnapshot(t *testing.T) {
	t.Parallel()

	fetcher := listingFetcher()
	fetcher.pages["https://cars.se/objekt/volvo-1"] = ingest.Page{
		StatusCode: 404,
		FinalURL:   "https://cars.se/objekt/volvo-1",
		Body:       `<html>borttagen annons</html>`,
	}

	h := newHarness(t, fetcher, &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	ctx := context.Background()

	_, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-1", Attempt: 1,
	})
	require.Equal(t, ingest.OutcomeRetry, outcome.Kind)

	run, err := h.runs.GetRun(ctx, "cust-1", "run-1")
	require.NoError(t, err)
	require.Equal(t, ingest.ErrCodeHTTPStatus, run.ErrorCode)

	codes := eventCodes(t, h, "cust-1", "run-1")
	require.Contains(t, codes, ingest.EventFetchFail)
	require.Contains(t, codes, ingest.EventSnapshotSaved)

	digest, err := sha256.New().Hash([]byte(`<html>borttagen annons</html>`))
	require.NoError(t, err)
	_, ok := h.blobs.GetObject(fmt.Sprintf("snapshots/cust-1/run-1/%s.html", digest))
	require.True(t, ok)
}

func TestProcess_NoBlobStoreEmitsStorageNotConfigured(t *testing.T) {
	t.Parallel()

	h := newHarness(t, listingFetcher(), &fakeProfiles{profiles: map[string]ingest.SiteProfile{"lot-1": carsProfile()}})
	h.manager.deps.Blobs = nil
	ctx := context.Background()

	_, err := h.manager.Launch(ctx, "cust-1", "lot-1", "api")
	require.NoError(t, err)

	outcome := h.manager.Process(ctx, ingest.Job{
		CustomerID: "cust-1", SourceID: "lot-1", RunID: "run-1", Attempt: 1,
	})
	require.Equal(t, ingest.OutcomeAck, outcome.Kind)

	codes := eventCodes(t, h, "cust-1", "run-1")
	require.Contains(t, codes, ingest.EventStorageNotConfigured)
}

func TestRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy()
	require.False(t, p.Exhausted(1))
	require.False(t, p.Exhausted(2))
	require.True(t, p.Exhausted(3))

	for attempt := 1; attempt <= 3; attempt++ {
		delay := p.Delay(attempt)
		require.Greater(t, delay, time.Duration(0))
		require.LessOrEqual(t, delay, 2*time.Minute)
	}

	custom := NewRetryPolicyWith(5, time.Second, 10*time.Second)
	require.False(t, custom.Exhausted(4))
	require.True(t, custom.Exhausted(5))
}
