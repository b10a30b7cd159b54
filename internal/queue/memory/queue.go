// Package memory provides a queue implementation for local development and
// tests, with delayed redelivery and dead-letter capture.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fordonad/inventory-ingest/internal/ingest"
)

// DeadLetter records a permanently failed job.
type DeadLetter struct {
	Job    ingest.Job
	Reason string
}

// Queue is a bounded in-memory queue with context-aware operations.
type Queue struct {
	ch chan ingest.Job

	mu     sync.Mutex
	dead   []DeadLetter
	closed bool
}

// NewQueue constructs a queue with the provided capacity.
func NewQueue(capacity int) *Queue {
	return &Queue{
		ch: make(chan ingest.Job, capacity),
	}
}

// Enqueue pushes a job into the queue or returns if the context ends.
func (q *Queue) Enqueue(ctx context.Context, job ingest.Job) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("enqueue canceled: %w", ctx.Err())
	case q.ch <- job:
		return nil
	}
}

// Receive pops the next job, respecting context cancellation.
func (q *Queue) Receive(ctx context.Context) (ingest.Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("receive canceled: %w", ctx.Err())
	case job, ok := <-q.ch:
		if !ok {
			return nil, errors.New("queue closed")
		}
		return &delivery{queue: q, job: job}, nil
	}
}

// DeadLetters returns a copy of the jobs settled as permanently failed.
func (q *Queue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

// Close closes the underlying channel for shutdown.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	close(q.ch)
	q.closed = true
}

func (q *Queue) redeliver(job ingest.Job, delay time.Duration) {
	job.Attempt++
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return
		}
		select {
		case q.ch <- job:
		default:
			// Full queue on redelivery: record as dead so the job
			// remains observable instead of silently vanishing.
			q.mu.Lock()
			q.dead = append(q.dead, DeadLetter{Job: job, Reason: "redelivery queue full"})
			q.mu.Unlock()
		}
	})
}

type delivery struct {
	queue *Queue
	job   ingest.Job
	once  sync.Once
}

func (d *delivery) Job() ingest.Job {
	return d.job
}

func (d *delivery) Ack() {
	d.once.Do(func() {})
}

func (d *delivery) Retry(delay time.Duration) {
	d.once.Do(func() {
		d.queue.redeliver(d.job, delay)
	})
}

func (d *delivery) DeadLetter(reason string) {
	d.once.Do(func() {
		d.queue.mu.Lock()
		defer d.queue.mu.Unlock()
		d.queue.dead = append(d.queue.dead, DeadLetter{Job: d.job, Reason: reason})
	})
}
