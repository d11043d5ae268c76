package queue

import (
	"context"
	stderr "errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/octantbim/octant/pkg/errors"
	"github.com/octantbim/octant/pkg/logger"
	"github.com/octantbim/octant/pkg/model"
	"github.com/octantbim/octant/pkg/store"
)

// Result links the artifacts a handler produced.
type Result struct {
	WexBimFileID     uuid.UUID
	PropertiesFileID uuid.UUID
}

// Handler executes one job. A nil error with a Result settles the version
// Ready; a permanent error settles it Failed; a transient error leaves the
// job re-deliverable.
type Handler interface {
	Handle(ctx context.Context, e Envelope) (*Result, error)
}

// Worker drains the queue with a pool of goroutines and projects outcomes
// onto model versions.
type Worker struct {
	queue       Queue
	tracker     *Tracker
	store       store.ModelStore
	handlers    map[string]Handler
	concurrency int
}

// NewWorker creates a worker pool of the given concurrency.
func NewWorker(q Queue, tracker *Tracker, s store.ModelStore, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		queue:       q,
		tracker:     tracker,
		store:       s,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
	}
}

// Register binds a handler to a job type. Call before Run.
func (w *Worker) Register(jobType string, h Handler) {
	w.handlers[jobType] = h
}

// Run blocks draining the queue until ctx is cancelled. In-flight jobs run
// to completion; idle workers return immediately.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.concurrency; i++ {
		g.Go(func() error {
			for {
				envelope, ok := w.queue.Dequeue(ctx)
				if !ok {
					return nil
				}
				w.process(ctx, envelope)
			}
		})
	}
	return g.Wait()
}

// process dispatches one envelope with at-most-once semantics.
func (w *Worker) process(ctx context.Context, e Envelope) {
	if w.tracker.AlreadyProcessed(e.JobID) {
		logger.Debugf("dropping already-processed job %s", e.JobID)
		return
	}

	handler, ok := w.handlers[e.JobType]
	if !ok {
		w.settleFailed(ctx, e, "unknown job type", model.VersionStatusPending)
		w.tracker.MarkProcessed(e.JobID)
		jobsProcessed.WithLabelValues("failed").Inc()
		return
	}

	version, err := w.store.GetVersion(ctx, e.Payload.ModelVersionID)
	if err != nil {
		w.redeliver(ctx, e, err)
		return
	}
	if version.Terminal() {
		w.tracker.MarkProcessed(e.JobID)
		return
	}

	if err := version.Transition(model.VersionStatusProcessing); err != nil {
		logger.Warnf("job %s: %v", e.JobID, err)
		w.tracker.MarkProcessed(e.JobID)
		return
	}
	if err := w.store.UpdateVersion(ctx, version, model.VersionStatusPending); err != nil {
		if stderr.Is(err, store.ErrConflict) {
			// Another dispatch won the transition.
			w.tracker.MarkProcessed(e.JobID)
			return
		}
		w.redeliver(ctx, e, err)
		return
	}

	result, err := handler.Handle(ctx, e)
	switch {
	case err == nil:
		now := time.Now().UTC()
		if err := version.MarkReady(result.WexBimFileID, result.PropertiesFileID, now); err != nil {
			logger.Errorf("job %s: %v", e.JobID, err)
			w.tracker.MarkProcessed(e.JobID)
			return
		}
		if err := w.store.UpdateVersion(ctx, version, model.VersionStatusProcessing); err != nil {
			w.redeliver(ctx, e, err)
			return
		}
		w.tracker.MarkProcessed(e.JobID)
		jobsProcessed.WithLabelValues("ready").Inc()

	case errors.IsTransient(err):
		// Infrastructure failure; the job stays re-deliverable.
		w.redeliver(ctx, e, err)

	default:
		w.settleFailed(ctx, e, errors.Message(err), model.VersionStatusProcessing)
		w.tracker.MarkProcessed(e.JobID)
		jobsProcessed.WithLabelValues("failed").Inc()
	}
}

// settleFailed records a terminal failure on the version.
func (w *Worker) settleFailed(ctx context.Context, e Envelope, message string, from model.VersionStatus) {
	version, err := w.store.GetVersion(ctx, e.Payload.ModelVersionID)
	if err != nil {
		logger.Errorf("job %s: loading version for failure record: %v", e.JobID, err)
		return
	}
	if version.Terminal() {
		return
	}
	if from == model.VersionStatusPending && version.Status == model.VersionStatusProcessing {
		from = model.VersionStatusProcessing
	}
	if err := version.MarkFailed(message, time.Now().UTC()); err != nil {
		logger.Errorf("job %s: %v", e.JobID, err)
		return
	}
	if err := w.store.UpdateVersion(ctx, version, from); err != nil && !stderr.Is(err, store.ErrConflict) {
		logger.Errorf("job %s: recording failure: %v", e.JobID, err)
	}
}

// redeliver requeues the envelope after an exponential delay. The tracker is
// untouched, so the retry dispatches normally.
func (w *Worker) redeliver(ctx context.Context, e Envelope, cause error) {
	logger.Warnw("job infrastructure failure, redelivering",
		"job_id", e.JobID, "attempt", e.Attempt, "error", cause.Error())

	delay := retryDelay(e.Attempt)
	select {
	case <-time.After(delay):
	case <-ctx.Done():
		return
	}

	e.Attempt++
	if err := w.queue.Enqueue(e); err != nil {
		logger.Errorf("redelivering job %s: %v", e.JobID, err)
	}
}

// retryDelay walks an exponential backoff schedule to the given attempt.
func retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	delay := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		delay = b.NextBackOff()
	}
	return delay
}
