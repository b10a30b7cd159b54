package events

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fordonad/inventory-ingest/internal/ingest"
	storageMemory "github.com/fordonad/inventory-ingest/internal/storage/memory"
)

type captureSink struct {
	events []ingest.RunEvent
	err    error
}

func (s *captureSink) Consume(_ context.Context, event ingest.RunEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func validEvent() ingest.RunEvent {
	return ingest.RunEvent{
		CustomerID: "cust-1",
		RunID:      "run-1",
		Stage:      ingest.StageLifecycle,
		Code:       ingest.EventJobStart,
		Level:      ingest.LevelInfo,
		CreatedAt:  time.Unix(1700000000, 0),
	}
}

func TestRecorder_FansOutToAllSinks(t *testing.T) {
	t.Parallel()

	first := &captureSink{}
	second := &captureSink{}
	recorder := NewRecorder(nil, first, second)

	recorder.Record(context.Background(), validEvent())

	require.Len(t, first.events, 1)
	require.Len(t, second.events, 1)
	require.Equal(t, ingest.EventJobStart, first.events[0].Code)
}

func TestRecorder_DropsInvalidEvents(t *testing.T) {
	t.Parallel()

	sink := &captureSink{}
	recorder := NewRecorder(nil, sink)

	recorder.Record(context.Background(), ingest.RunEvent{RunID: "run-1"})

	require.Empty(t, sink.events)
}

func TestRecorder_SinkErrorDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	failing := &captureSink{err: errors.New("sink down")}
	healthy := &captureSink{}
	recorder := NewRecorder(nil, failing, healthy)

	recorder.Record(context.Background(), validEvent())

	require.Len(t, failing.events, 1)
	require.Len(t, healthy.events, 1)
}

func TestRecorder_ToleratesNilSinksAndReceiver(t *testing.T) {
	t.Parallel()

	recorder := NewRecorder(nil, nil, &captureSink{})
	recorder.Record(context.Background(), validEvent())

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), validEvent())
}

func TestStoreSink_AppendsToEventLog(t *testing.T) {
	t.Parallel()

	store := storageMemory.NewEventStore()
	sink := NewStoreSink(store)

	require.NoError(t, sink.Consume(context.Background(), validEvent()))

	events, err := store.ListEvents(context.Background(), "cust-1", "run-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}
