package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/blueprint-labs/blueprint/internal/domain"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrQueueClosed = errors.New("job queue is closed")
)

// Job is one accepted template submission.
type Job struct {
	RunID      string
	Template   domain.Template
	EnqueuedAt time.Time
}

// Queue is a FIFO shared by many producers and consumers. With maxPending
// of zero it grows without bound and Submit never blocks.
type Queue struct {
	mu         sync.Mutex
	items      []Job
	closed     bool
	maxPending int
	// signal is closed and replaced whenever items or closed change.
	signal chan struct{}
}

func NewQueue(maxPending int) *Queue {
	return &Queue{maxPending: max(maxPending, 0), signal: make(chan struct{})}
}

func (q *Queue) Submit(job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if q.maxPending > 0 && len(q.items) >= q.maxPending {
		return ErrQueueFull
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}
	q.items = append(q.items, job)
	q.broadcast()
	return nil
}

// Receive blocks until a job is available, ctx ends, or the queue is closed
// and drained.
func (q *Queue) Receive(ctx context.Context) (Job, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			job := q.items[0]
			q.items[0] = Job{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return job, nil
		}
		if q.closed {
			q.mu.Unlock()
			return Job{}, ErrQueueClosed
		}
		wait := q.signal
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return Job{}, ctx.Err()
		case <-wait:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close rejects further submissions. Queued jobs are still handed out.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.broadcast()
}

func (q *Queue) broadcast() {
	close(q.signal)
	q.signal = make(chan struct{})
}
