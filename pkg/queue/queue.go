// Package queue provides the bounded in-process job queue, the idempotency
// tracker and the worker pool driving processing handlers.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrFull is returned by Enqueue when the queue cannot accept work. The API
// surfaces it as 503; no queued admission.
var ErrFull = errors.New("queue: full")

// Payload identifies the work a job targets.
type Payload struct {
	ModelVersionID uuid.UUID `json:"modelVersionId"`
	IfcFileID      uuid.UUID `json:"ifcFileId"`
	WorkspaceID    uuid.UUID `json:"workspaceId"`
	ProjectID      uuid.UUID `json:"projectId"`
}

// Envelope is one unit of queued work.
type Envelope struct {
	JobID      uuid.UUID `json:"jobId"`
	JobType    string    `json:"jobType"`
	Payload    Payload   `json:"payload"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Enqueuer is the producer-side contract.
type Enqueuer interface {
	// Enqueue is non-blocking; a full queue fails immediately with ErrFull.
	Enqueue(e Envelope) error
}

// Queue is the full queue contract.
type Queue interface {
	Enqueuer
	// Dequeue blocks until an envelope arrives or ctx is done.
	Dequeue(ctx context.Context) (Envelope, bool)
}

// MemoryQueue is a bounded channel queue. FIFO per producer; no global
// ordering across producers.
type MemoryQueue struct {
	ch chan Envelope
}

// DefaultQueueCapacity bounds the in-memory queue when not configured.
const DefaultQueueCapacity = 256

// NewMemoryQueue creates a queue with the given capacity.
func NewMemoryQueue(capacity int) *MemoryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &MemoryQueue{ch: make(chan Envelope, capacity)}
}

// Enqueue admits the envelope or fails immediately when full.
func (q *MemoryQueue) Enqueue(e Envelope) error {
	select {
	case q.ch <- e:
		jobsEnqueued.Inc()
		queueDepth.Set(float64(len(q.ch)))
		return nil
	default:
		return ErrFull
	}
}

// Dequeue blocks until an envelope arrives or ctx is done.
func (q *MemoryQueue) Dequeue(ctx context.Context) (Envelope, bool) {
	select {
	case e := <-q.ch:
		queueDepth.Set(float64(len(q.ch)))
		return e, true
	case <-ctx.Done():
		return Envelope{}, false
	}
}

// Depth returns the current number of queued envelopes.
func (q *MemoryQueue) Depth() int { return len(q.ch) }

// Tracker is the shared processed-job set backing at-most-once dispatch.
type Tracker struct {
	mu   sync.Mutex
	done map[uuid.UUID]struct{}
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{done: make(map[uuid.UUID]struct{})}
}

// MarkProcessed records the job id. Returns false when it was already there,
// so exactly one caller observes the first mark.
func (t *Tracker) MarkProcessed(jobID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.done[jobID]; ok {
		return false
	}
	t.done[jobID] = struct{}{}
	return true
}

// AlreadyProcessed reports whether the job id was marked.
func (t *Tracker) AlreadyProcessed(jobID uuid.UUID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.done[jobID]
	return ok
}
