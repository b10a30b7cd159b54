package events

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/ingest"
	"github.com/fordonad/inventory-ingest/internal/metrics"
)

// StoreSink appends events to the durable event log.
type StoreSink struct {
	store ingest.EventStore
}

// NewStoreSink constructs a StoreSink for the provided event store.
func NewStoreSink(store ingest.EventStore) *StoreSink {
	return &StoreSink{store: store}
}

// Consume appends the event. The log is append-only; nothing here updates
// or deletes.
func (s *StoreSink) Consume(ctx context.Context, event ingest.RunEvent) error {
	if s == nil || s.store == nil {
		return nil
	}
	if err := s.store.AppendEvent(ctx, event); err != nil {
		return fmt.Errorf("append run event: %w", err)
	}
	return nil
}

// LogSink mirrors events to structured logs for live debugging.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the event with structured fields.
func (s *LogSink) Consume(_ context.Context, event ingest.RunEvent) error {
	s.logger.Info("run event",
		zap.String("customer_id", event.CustomerID),
		zap.String("run_id", event.RunID),
		zap.String("stage", string(event.Stage)),
		zap.String("code", string(event.Code)),
		zap.String("level", string(event.Level)),
		zap.String("message", event.Message),
	)
	return nil
}

// MetricsSink counts events by code for Prometheus.
type MetricsSink struct{}

// NewMetricsSink constructs a MetricsSink.
func NewMetricsSink() *MetricsSink {
	metrics.Init()
	return &MetricsSink{}
}

// Consume increments the event counter.
func (MetricsSink) Consume(_ context.Context, event ingest.RunEvent) error {
	metrics.ObserveRunEvent(string(event.Code))
	return nil
}
