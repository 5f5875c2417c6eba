package worker

import (
	"context"

	redisclient "github.com/aceteam-ai/aiworker/internal/redis"
)

// RedisStreamWriter implements StreamWriter using Redis Pub/Sub, so the
// requesting surface can follow a job while it runs.
type RedisStreamWriter struct {
	client *redisclient.Client
	jobID  string
	ctx    context.Context
}

// NewRedisStreamWriter creates a new Redis-backed stream writer.
func NewRedisStreamWriter(ctx context.Context, client *redisclient.Client, jobID string) *RedisStreamWriter {
	return &RedisStreamWriter{
		client: client,
		jobID:  jobID,
		ctx:    ctx,
	}
}

// WriteStart marks the job as processing and publishes a start event.
func (w *RedisStreamWriter) WriteStart(message string) error {
	if err := w.client.SetJobStatus(w.ctx, w.jobID, "processing", nil); err != nil {
		return err
	}
	return w.client.PublishStart(w.ctx, w.jobID, message)
}

// WriteEnd signals successful job completion with final result.
func (w *RedisStreamWriter) WriteEnd(result map[string]any) error {
	return w.client.PublishEnd(w.ctx, w.jobID, result)
}

// WriteError signals job failure.
func (w *RedisStreamWriter) WriteError(err error, recoverable bool) error {
	return w.client.PublishError(w.ctx, w.jobID, err.Error(), recoverable)
}

var _ StreamWriter = (*RedisStreamWriter)(nil)

// RedisStreamWriterFactory returns a factory for Runner.WithStreamWriterFactory.
func RedisStreamWriterFactory(ctx context.Context, source *RedisSource) func(job *Job) StreamWriter {
	return func(job *Job) StreamWriter {
		return NewRedisStreamWriter(ctx, source.Client(), job.ID)
	}
}
