package pipeline

import (
	"context"
	"log/slog"
	"multimodal/internal/job"
	"multimodal/internal/observability"
	"strings"
	"time"
)

// finalWriteTimeout bounds the terminal store write, which runs even when the
// execution context has been canceled.
const finalWriteTimeout = 10 * time.Second

// Notifier is told about every job that reached a terminal state.
type Notifier interface {
	Notify(ctx context.Context, j *job.Job)
}

// Executor drives one job at a time through Queued, Running and a terminal state.
//
// The durable record is written twice per execution: on entry to Running and
// on reaching the terminal state.
type Executor struct {
	store    job.Store
	router   *Router
	notifier Notifier
	metrics  *observability.Metrics
	now      func() time.Time
	logger   *slog.Logger
}

// NewExecutor creates an executor. notifier and metrics may be nil.
func NewExecutor(store job.Store, router *Router, notifier Notifier, metrics *observability.Metrics) *Executor {
	return &Executor{
		store:    store,
		router:   router,
		notifier: notifier,
		metrics:  metrics,
		now:      time.Now,
		logger:   slog.With("component", "executor"),
	}
}

// Execute runs the job with the given ID to a terminal state. A job already
// completed or failed is left untouched. The returned error is a store error;
// pipeline failures are recorded on the job, not returned.
func (e *Executor) Execute(ctx context.Context, jobID string) error {
	j, err := e.store.Get(ctx, jobID)
	if err != nil {
		e.logger.Error("Failed to load job", "jobId", jobID, "error", err)
		return err
	}
	logger := e.logger.With("jobId", j.ID, "pipeline", j.Pipeline)

	if j.Status.Terminal() {
		logger.Info("Job already finished, skipping", "status", j.Status)
		return nil
	}

	if err := j.Transition(job.StatusRunning); err != nil {
		return err
	}
	if j.Metadata.StartedAt == nil {
		started := e.now().UTC()
		j.Metadata.StartedAt = &started
	}
	if err := e.store.Update(ctx, j); err != nil {
		logger.Error("Failed to mark job running", "error", err)
		return err
	}
	if e.metrics != nil {
		e.metrics.RecordJobStarted(ctx, string(j.Pipeline))
	}
	logger.Info("Job started")

	outcome, runErr := e.router.Run(ctx, j)
	e.finish(j, outcome, runErr)

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalWriteTimeout)
	defer cancel()
	if err := e.store.Update(writeCtx, j); err != nil {
		logger.Error("Failed to record job result", "status", j.Status, "error", err)
		return err
	}

	duration := j.Metadata.CompletedAt.Sub(*j.Metadata.StartedAt)
	if e.metrics != nil {
		e.metrics.RecordJobCompleted(writeCtx, string(j.Pipeline), runErr == nil, duration.Seconds())
	}
	if runErr != nil {
		logger.Warn("Job failed", "error", runErr, "duration", duration)
	} else {
		logger.Info("Job completed", "workers", j.Metadata.WorkerUsed, "duration", duration)
	}

	if e.notifier != nil && j.Callback != nil {
		e.notifier.Notify(writeCtx, j)
	}
	return nil
}

// finish applies the run outcome and moves j to its terminal state.
func (e *Executor) finish(j *job.Job, outcome *Outcome, runErr error) {
	if outcome != nil {
		j.Outputs.Merge(outcome.Outputs)
		if len(outcome.Workers) > 0 {
			j.Metadata.WorkerUsed = strings.Join(outcome.Workers, ",")
		}
		if outcome.Provider != "" {
			j.Metadata.Provider = outcome.Provider
		}
	}

	next := job.StatusCompleted
	if runErr != nil {
		next = job.StatusFailed
		j.Metadata.ErrorMessage = runErr.Error()
	}
	// Running always reaches a terminal state.
	_ = j.Transition(next)

	completed := e.now().UTC()
	if completed.Before(*j.Metadata.StartedAt) {
		completed = *j.Metadata.StartedAt
	}
	j.Metadata.CompletedAt = &completed
}
