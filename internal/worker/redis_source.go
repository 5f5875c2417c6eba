package worker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	redisclient "github.com/aceteam-ai/aiworker/internal/redis"
	"github.com/rs/zerolog"
)

// maskRedisURL masks the password in a Redis URL for safe logging.
// redis://:password@host:port -> redis://:xxxxx@host:port
func maskRedisURL(redisURL string) string {
	u, err := url.Parse(redisURL)
	if err != nil {
		if strings.HasPrefix(redisURL, "redis://") {
			return "redis://***"
		}
		return "***"
	}
	return u.Redacted()
}

// RedisSource implements JobSource for Redis Streams.
type RedisSource struct {
	client *redisclient.Client
	config RedisSourceConfig
	logger zerolog.Logger
}

// RedisSourceConfig holds configuration for RedisSource.
type RedisSourceConfig struct {
	// URL is the Redis connection URL
	URL string

	// Password is the Redis password (optional, overrides the URL)
	Password string

	// QueueName is the Redis Stream to consume from
	QueueName string

	// ConsumerGroup is the consumer group name (default: "aiworker")
	ConsumerGroup string

	// ConsumerName identifies this worker inside the group
	ConsumerName string

	// BlockMs is how long to wait for a job before returning none (default: 5000)
	BlockMs int

	// MaxAttempts is the maximum delivery count before DLQ (default: 3)
	MaxAttempts int

	// ClaimIdle is how long a message may stay pending before it is reclaimed
	ClaimIdle time.Duration

	// StatusTTL bounds how long job status hashes are kept
	StatusTTL time.Duration

	Logger zerolog.Logger
}

// NewRedisSource creates a new Redis Streams job source.
func NewRedisSource(cfg RedisSourceConfig) *RedisSource {
	if cfg.QueueName == "" {
		cfg.QueueName = "jobs:v1:ai-analysis"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "aiworker"
	}
	if cfg.BlockMs == 0 {
		cfg.BlockMs = 5000
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}

	return &RedisSource{
		config: cfg,
		logger: cfg.Logger.With().Str("source", "redis").Logger(),
		client: redisclient.NewClient(redisclient.ClientConfig{
			QueueName:     cfg.QueueName,
			ConsumerGroup: cfg.ConsumerGroup,
			ConsumerName:  cfg.ConsumerName,
			BlockMs:       cfg.BlockMs,
			MaxAttempts:   cfg.MaxAttempts,
			ClaimIdle:     cfg.ClaimIdle,
			StatusTTL:     cfg.StatusTTL,
		}),
	}
}

// Name returns the source identifier.
func (s *RedisSource) Name() string {
	return "redis"
}

// Connect establishes connection to Redis and creates the consumer group.
func (s *RedisSource) Connect(ctx context.Context) error {
	if err := s.client.Connect(ctx, s.config.URL, s.config.Password); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	if err := s.client.EnsureConsumerGroup(ctx); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	s.logger.Info().
		Str("redis", maskRedisURL(s.config.URL)).
		Str("consumer", s.client.WorkerID()).
		Str("queue", s.config.QueueName).
		Str("group", s.config.ConsumerGroup).
		Msg("connected to job stream")
	return nil
}

// Claim reads up to max jobs. Messages already delivered MaxAttempts times
// are moved to the dead-letter stream instead of being returned.
func (s *RedisSource) Claim(ctx context.Context, max int) ([]*Job, error) {
	msgs, err := s.client.Claim(ctx, max)
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs from Redis: %w", err)
	}

	jobs := make([]*Job, 0, len(msgs))
	for _, m := range msgs {
		if int(m.Deliveries) > s.client.MaxAttempts() {
			s.logger.Warn().Str("job_id", m.JobID).Int64("deliveries", m.Deliveries).
				Int("max_attempts", s.client.MaxAttempts()).Msg("job exceeded max attempts, moving to DLQ")
			if err := s.client.MoveToDLQ(ctx, m, "exceeded max delivery attempts"); err != nil {
				s.logger.Error().Err(err).Str("job_id", m.JobID).Msg("failed to move job to DLQ")
			}
			s.client.SetJobStatus(ctx, m.JobID, "dead_lettered", map[string]any{
				"error_kind": "max_attempts",
			})
			continue
		}
		jobs = append(jobs, s.convertJob(m))
	}
	return jobs, nil
}

// convertJob converts a redis.Message to a worker.Job.
func (s *RedisSource) convertJob(m *redisclient.Message) *Job {
	return &Job{
		ID:        m.JobID,
		Type:      m.Type,
		Input:     m.Input,
		Owner:     m.Owner,
		Source:    "redis",
		MessageID: m.MessageID,
		Metadata: JobMetadata{
			CreatedAt:   m.CreatedAt,
			Attempts:    int(m.Deliveries),
			MaxAttempts: s.client.MaxAttempts(),
		},
	}
}

// Ack persists the result and removes the job from the stream.
func (s *RedisSource) Ack(ctx context.Context, job *Job, result *JobResult) error {
	data := map[string]any{}
	if result != nil {
		data["result"] = result.Output
		data["cache_hit"] = result.CacheHit
		data["duration_ms"] = result.Duration.Milliseconds()
	}
	if err := s.client.SetJobStatus(ctx, job.ID, "completed", data); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist job result")
	}
	return s.client.AckJob(ctx, job.MessageID)
}

// Nack persists the error. Retryable failures stay pending so the stream
// redelivers them; everything else goes to the dead-letter stream.
func (s *RedisSource) Nack(ctx context.Context, job *Job, result *JobResult) error {
	errMsg, kind := "unknown error", ""
	if result != nil {
		kind = result.ErrorKind
		if result.Error != nil {
			errMsg = result.Error.Error()
		}
	}

	final := !result.Retryable() || job.Metadata.Attempts >= s.client.MaxAttempts()
	status := "failed"
	if !final {
		status = "retrying"
	}
	if err := s.client.SetJobStatus(ctx, job.ID, status, map[string]any{
		"error":      errMsg,
		"error_kind": kind,
		"attempts":   job.Metadata.Attempts,
	}); err != nil {
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("failed to persist job error")
	}

	if !final {
		return nil
	}
	m := &redisclient.Message{
		MessageID:  job.MessageID,
		JobID:      job.ID,
		Type:       job.Type,
		Input:      job.Input,
		Deliveries: int64(job.Metadata.Attempts),
	}
	return s.client.MoveToDLQ(ctx, m, fmt.Sprintf("%s: %s", kind, errMsg))
}

// Depth returns the number of jobs in the stream (waiting or in flight).
func (s *RedisSource) Depth(ctx context.Context) (int64, error) {
	return s.client.QueueLength(ctx)
}

// Close cleanly disconnects from Redis.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for stream writing.
func (s *RedisSource) Client() *redisclient.Client {
	return s.client
}

// Ensure RedisSource implements JobSource
var _ JobSource = (*RedisSource)(nil)
