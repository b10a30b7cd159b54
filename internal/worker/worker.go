// Package worker executes delivered ingestion jobs.
package worker

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/fordonad/inventory-ingest/internal/ingest"
	"github.com/fordonad/inventory-ingest/internal/metrics"
)

// Handler turns one delivered job into a queue decision.
type Handler interface {
	Process(ctx context.Context, job ingest.Job) ingest.Outcome
}

// Worker consumes deliveries and settles them with the handler's outcome.
// Each delivery is processed to completion by exactly one worker; a run's
// pages are fetched sequentially within that worker.
type Worker struct {
	queue   ingest.Queue
	handler Handler
	logger  *zap.Logger
}

// New constructs a Worker.
func New(queue ingest.Queue, handler Handler, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	return &Worker{
		queue:   queue,
		handler: handler,
		logger:  logger,
	}
}

// Run blocks, consuming deliveries until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		delivery, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue receive failed", zap.Error(err))
			continue
		}
		w.process(ctx, delivery)
	}
}

func (w *Worker) process(ctx context.Context, delivery ingest.Delivery) {
	job := delivery.Job()
	w.logger.Debug("job delivered",
		zap.String("run_id", job.RunID),
		zap.Int("attempt", job.Attempt))

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := w.handler.Process(ctx, job)
	outcome.Apply(delivery)
	metrics.ObserveQueueDecision(string(outcome.Kind))

	switch outcome.Kind {
	case ingest.OutcomeRetry:
		w.logger.Warn("job scheduled for retry",
			zap.String("run_id", job.RunID),
			zap.Duration("delay", outcome.Delay))
	case ingest.OutcomeDeadLetter:
		w.logger.Error("job dead-lettered",
			zap.String("run_id", job.RunID),
			zap.String("reason", outcome.Reason))
	}
}

// Pool fans out queue consumption over a fixed number of workers.
type Pool struct {
	workers []*Worker
}

// NewPool builds size workers over the same queue and handler.
func NewPool(size int, queue ingest.Queue, handler Handler, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	workers := make([]*Worker, 0, size)
	for i := 0; i < size; i++ {
		workers = append(workers, New(queue, handler, logger.With(zap.Int("worker", i))))
	}
	return &Pool{workers: workers}
}

// Run starts all workers and blocks until the context finishes.
func (p *Pool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(wk *Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}
