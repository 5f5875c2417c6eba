package worker

import "context"

// Processor turns a claimed job into a result. A returned error means the job
// failed; ClassifyFn on the RunnerConfig decides its kind and whether it is
// retried.
type Processor interface {
	Process(ctx context.Context, job *Job) (*JobResult, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job) (*JobResult, error)

func (f ProcessorFunc) Process(ctx context.Context, job *Job) (*JobResult, error) {
	return f(ctx, job)
}

// StreamWriter publishes job lifecycle events to subscribers.
// For Redis sources, this publishes to Redis Pub/Sub.
type StreamWriter interface {
	// WriteStart signals the beginning of job processing.
	WriteStart(message string) error

	// WriteEnd signals successful job completion with final result.
	WriteEnd(result map[string]any) error

	// WriteError signals job failure.
	WriteError(err error, recoverable bool) error
}

// NoOpStreamWriter is a StreamWriter that does nothing.
type NoOpStreamWriter struct{}

func (n *NoOpStreamWriter) WriteStart(message string) error              { return nil }
func (n *NoOpStreamWriter) WriteEnd(result map[string]any) error         { return nil }
func (n *NoOpStreamWriter) WriteError(err error, recoverable bool) error { return nil }

var _ StreamWriter = (*NoOpStreamWriter)(nil)
