package worker

import "context"

// JobSource defines the interface for claiming jobs from a queue.
// Delivery is at-least-once: a job that is neither acked nor nacked (crash)
// is delivered again later.
type JobSource interface {
	// Name returns the source identifier (e.g., "redis", "sqs")
	Name() string

	// Connect establishes connection to the job source.
	// This should be called before Claim().
	Connect(ctx context.Context) error

	// Claim returns up to max jobs, blocking for a bounded time when none
	// are available. An empty slice with a nil error means "nothing yet".
	Claim(ctx context.Context, max int) ([]*Job, error)

	// Ack records the result and removes the job from the queue.
	Ack(ctx context.Context, job *Job, result *JobResult) error

	// Nack records the failure. Retryable failures are redelivered; others
	// (and jobs out of attempts) go to the dead-letter queue.
	Nack(ctx context.Context, job *Job, result *JobResult) error

	// Depth returns the number of jobs waiting in the queue.
	Depth(ctx context.Context) (int64, error)

	// Close cleanly disconnects from the job source.
	Close() error
}
