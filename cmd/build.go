package cmd

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/cache"
	"github.com/aceteam-ai/aiworker/internal/config"
	"github.com/aceteam-ai/aiworker/internal/handlers"
	"github.com/aceteam-ai/aiworker/internal/provider"
	"github.com/aceteam-ai/aiworker/internal/worker"
)

// resolveWorkerID returns the configured id or generates one.
func resolveWorkerID(c config.Config) string {
	if c.WorkerID != "" {
		return c.WorkerID
	}
	return fmt.Sprintf("aiworker-%s", uuid.New().String()[:8])
}

// buildProviders creates the provider clients. A provider without a URL is
// left nil so the handlers treat it as unavailable.
func buildProviders(c config.Config, log zerolog.Logger, rec provider.AttemptRecorder) handlers.Deps {
	var deps handlers.Deps
	p := c.Providers

	if p.Detection.URL != "" {
		deps.Detector = provider.NewDetectionClient(provider.DetectionConfig{
			URL:            p.Detection.URL,
			AttemptTimeout: p.Detection.Timeout,
			Retry: provider.RetryPolicy{
				MaxAttempts: p.Detection.MaxAttempts,
				BaseDelay:   p.Detection.BaseDelay,
			},
			Confidence:    p.Detection.Confidence,
			MaxDetections: p.Detection.MaxDetections,
		}, log, rec)
	}
	if p.LocalLLM.URL != "" {
		deps.Local = provider.NewLocalLLMClient(provider.LocalLLMConfig{
			URL:     p.LocalLLM.URL,
			Model:   p.LocalLLM.Model,
			Timeout: p.LocalLLM.Timeout,
		}, log, rec)
	}
	if p.CloudLLM.URL != "" {
		deps.Cloud = provider.NewCloudLLMClient(provider.CloudLLMConfig{
			URL:         p.CloudLLM.URL,
			APIKey:      p.CloudLLM.APIKey,
			Model:       p.CloudLLM.Model,
			VisionModel: p.CloudLLM.VisionModel,
			Timeout:     p.CloudLLM.Timeout,
			MaxTokens:   p.CloudLLM.MaxTokens,
			Temperature: p.CloudLLM.Temperature,
			RateLimit:   p.CloudLLM.RateLimit,
		}, log, rec)
	}
	return deps
}

// openCache opens the configured cache store behind a Manager.
func openCache(ctx context.Context, c config.Config) (*cache.Manager, error) {
	var store cache.Store
	switch c.Cache.Backend {
	case "memory":
		store = cache.NewMemoryStore()
	case "redis":
		s, err := cache.OpenRedisStore(ctx, c.CacheRedisURL(), c.Queue.RedisPassword)
		if err != nil {
			return nil, err
		}
		store = s
	case "sqlite":
		s, err := cache.OpenSQLiteStore(c.Cache.SQLitePath)
		if err != nil {
			return nil, err
		}
		store = s
	default:
		return nil, fmt.Errorf("unknown cache backend %q", c.Cache.Backend)
	}
	return cache.NewManager(store, c.Cache.TTL), nil
}

// buildSource creates the configured job source. The Redis source is also
// returned on its own so callers can attach Redis-only integrations.
func buildSource(c config.Config, workerID string, log zerolog.Logger) (worker.JobSource, *worker.RedisSource, error) {
	q := c.Queue
	switch q.Backend {
	case "redis":
		src := worker.NewRedisSource(worker.RedisSourceConfig{
			URL:           q.RedisURL,
			Password:      q.RedisPassword,
			QueueName:     q.Stream,
			ConsumerGroup: q.ConsumerGroup,
			ConsumerName:  workerID,
			BlockMs:       q.BlockMs,
			MaxAttempts:   q.MaxAttempts,
			ClaimIdle:     q.ClaimIdle,
			Logger:        log,
		})
		return src, src, nil
	case "sqs":
		return worker.NewSQSSource(worker.SQSSourceConfig{
			QueueURL:       q.SQSQueueURL,
			ResultQueueURL: q.SQSResultQueueURL,
			Region:         q.SQSRegion,
			MaxAttempts:    q.MaxAttempts,
			WorkerID:       workerID,
			Logger:         log,
		}), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown queue backend %q", q.Backend)
	}
}
