// Package dispatcher hands job identifiers to a bounded pool of workers.
//
// Dispatch never blocks: a full buffer is reported as backpressure to the
// caller instead of queueing without bound. Queued jobs live only in memory
// and are lost if the process exits.
package dispatcher

import (
	"context"
	"multimodal/internal/apperrors"
)

// ErrBufferFull is returned when the pool's buffer is full and the job is refused.
var ErrBufferFull = apperrors.Unavailable("dispatcher.dispatch", "dispatch queue full")

// ErrClosed is returned after Close has been called.
var ErrClosed = apperrors.Unavailable("dispatcher.dispatch", "dispatcher is closed")

// Handler executes one job. Errors are logged and counted, never retried.
type Handler func(ctx context.Context, jobID string) error

// Stats holds pool statistics.
type Stats struct {
	QueueDepth int   // current queue size
	InFlight   int   // jobs queued or executing
	Queued     int64 // total jobs accepted
	Completed  int64 // handler returned nil
	Failed     int64 // handler returned an error or panicked
	Dropped    int64 // refused because the buffer was full
	Duplicates int64 // refused because the job was already queued or executing
}

// MetricsRecorder is an optional interface for recording pool metrics.
type MetricsRecorder interface {
	RecordDispatcherDropped(ctx context.Context)
	RecordDispatcherQueueSize(ctx context.Context, size int64)
}
