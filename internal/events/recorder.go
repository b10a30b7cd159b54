// Package events records run lifecycle events and fans them out to sinks.
package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// Sink consumes individual run events. Implementations must tolerate
// repeated calls and may be invoked from concurrent runs.
type Sink interface {
	Consume(ctx context.Context, event ingest.RunEvent) error
}

// Recorder appends run events to every registered sink. Recording is
// synchronous so the audit trail is complete by the time a run finalizes,
// and it never fails the caller: sink errors are logged and swallowed.
type Recorder struct {
	sinks  []Sink
	logger *zap.Logger
}

// NewRecorder constructs a Recorder over the supplied sinks.
func NewRecorder(logger *zap.Logger, sinks ...Sink) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		sinks:  append([]Sink(nil), sinks...),
		logger: logger,
	}
}

// Record validates the event and hands it to each sink in order.
func (r *Recorder) Record(ctx context.Context, event ingest.RunEvent) {
	if r == nil {
		return
	}
	if err := event.Validate(); err != nil {
		r.logger.Debug("discarding invalid run event", zap.Error(err))
		return
	}
	for _, sink := range r.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Consume(ctx, event); err != nil {
			r.logger.Warn("run event sink failed",
				zap.String("run_id", event.RunID),
				zap.String("code", string(event.Code)),
				zap.Error(err))
		}
	}
}
