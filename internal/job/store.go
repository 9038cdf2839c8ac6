package job

import "context"

// Store persists jobs. It is the single source of truth between executions.
//
// Implementations serialize the whole Job as JSON so that status and pipeline
// keep their string tags. A Store must be safe for concurrent use; it does not
// guard against two executions of the same job, callers prevent that by
// dispatching each identifier at most once.
type Store interface {
	// Create persists a new job. Returns a conflict error if the ID exists.
	Create(ctx context.Context, j *Job) error

	// Get returns the job with the given ID or a not found error.
	Get(ctx context.Context, id string) (*Job, error)

	// Update replaces the stored job. Returns a not found error if it was never created.
	Update(ctx context.Context, j *Job) error

	// List returns up to limit jobs starting at offset, newest first.
	List(ctx context.Context, limit, offset int) ([]*Job, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Dispatcher hands a stored job to background execution without blocking.
type Dispatcher interface {
	Dispatch(jobID string) error
}
