// Package worker runs the job processing loop.
//
// Architecture:
//
//	JobSource (redis/sqs) → Runner → Processor → StreamWriter (optional)
//
// The Runner owns a bounded pool of N slots:
//  1. Connect to the job source
//  2. Claim up to the number of free slots
//  3. Run each job on its own goroutine under a per-job deadline
//  4. Ack (result persisted) or Nack (error persisted)
//  5. Repeat until shutdown, then drain in-flight jobs
package worker

import "time"

// Job represents a unit of work to be processed.
// This is the common job format used internally, regardless of source.
type Job struct {
	// ID uniquely identifies this job
	ID string

	// Type selects the handler (image_analysis, meal_plan, ...)
	Type string

	// Input is the job payload passed to the handler
	Input map[string]any

	// Owner is the user or tenant that requested the job
	Owner string

	// Source identifies where this job came from (for logging/debugging)
	Source string

	// MessageID is the source-specific message identifier (for ack/nack)
	MessageID string

	// Metadata contains additional source-specific information
	Metadata JobMetadata
}

// JobMetadata contains optional job metadata.
type JobMetadata struct {
	// CreatedAt is when the job was created
	CreatedAt time.Time

	// Attempts is the number of times this job has been delivered
	Attempts int

	// MaxAttempts is the maximum delivery count before DLQ
	MaxAttempts int

	// ReceiptHandle is the SQS handle used to delete or release the message
	ReceiptHandle string
}

// JobResult contains the outcome of job processing.
type JobResult struct {
	// Status is the job outcome (success, failure, retry)
	Status JobStatus

	// Output is the structured result persisted on ack
	Output map[string]any

	// Error contains error details if status is not success
	Error error

	// ErrorKind is the error label used in metrics (provider_unavailable, ...)
	ErrorKind string

	// CacheHit is true when Output was served from the result cache
	CacheHit bool

	// Duration is how long the job took to process
	Duration time.Duration
}

// JobStatus represents the outcome of job processing.
type JobStatus string

const (
	// JobStatusSuccess indicates the job completed successfully
	JobStatusSuccess JobStatus = "success"

	// JobStatusFailure indicates the job failed and retrying cannot help
	JobStatusFailure JobStatus = "failure"

	// JobStatusRetry indicates the job failed but may succeed on redelivery
	JobStatusRetry JobStatus = "retry"
)

// Retryable reports whether a failed result should be redelivered.
func (r *JobResult) Retryable() bool {
	return r != nil && r.Status == JobStatusRetry
}
