// Package heartbeat periodically announces the worker's health on Redis.
//
//	Worker                                       Redis
//	┌─────────────┐  PUBLISH worker:status:<id>  ┌─────────────┐
//	│  Publisher  │ ───────────────────────────▶ │  Pub/Sub    │ → live dashboards
//	│   (30s)     │  XADD worker:status:stream   ┌─────────────┐
//	│             │ ───────────────────────────▶ │  Streams    │ → fleet history
//	└─────────────┘                              └─────────────┘
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/status"
)

// workerIDPattern keeps ids safe to embed in channel names.
var workerIDPattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// StreamName is the stream every worker appends its heartbeats to.
const StreamName = "worker:status:stream"

// streamMaxLen keeps the last heartbeats; trimming is approximate.
const streamMaxLen = 10000

// StatusMessage is the payload published for each heartbeat.
type StatusMessage struct {
	Version   string                 `json:"version"`
	Timestamp string                 `json:"timestamp"`
	WorkerID  string                 `json:"workerId"`
	Health    *status.DetailedHealth `json:"health"`
}

// Publisher publishes worker health to Redis.
type Publisher struct {
	client    *redis.Client
	workerID  string
	interval  time.Duration
	collector *status.Collector
	logger    zerolog.Logger

	channel    string
	streamName string
}

// PublisherConfig holds configuration for the heartbeat publisher.
type PublisherConfig struct {
	RedisURL      string
	RedisPassword string

	WorkerID string

	// Interval is the time between heartbeats (default: 30s)
	Interval time.Duration

	// ChannelOverride replaces the default "worker:status:<WorkerID>" channel
	ChannelOverride string

	Logger zerolog.Logger
}

// NewPublisher creates a heartbeat publisher. It does not connect until Start.
func NewPublisher(cfg PublisherConfig, collector *status.Collector) (*Publisher, error) {
	if cfg.Interval == 0 {
		cfg.Interval = 30 * time.Second
	}
	if !workerIDPattern.MatchString(cfg.WorkerID) {
		return nil, fmt.Errorf("invalid worker ID %q: must be 1-64 alphanumeric characters, hyphens, underscores, or dots", cfg.WorkerID)
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	if cfg.RedisPassword != "" {
		opts.Password = cfg.RedisPassword
	}

	channel := cfg.ChannelOverride
	if channel == "" {
		channel = fmt.Sprintf("worker:status:%s", cfg.WorkerID)
	}

	return &Publisher{
		client:     redis.NewClient(opts),
		workerID:   cfg.WorkerID,
		interval:   cfg.Interval,
		collector:  collector,
		logger:     cfg.Logger.With().Str("component", "heartbeat").Logger(),
		channel:    channel,
		streamName: StreamName,
	}, nil
}

// Start publishes a heartbeat immediately and then every interval until ctx
// is cancelled. Publish failures are logged and retried on the next tick.
func (p *Publisher) Start(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	p.logger.Debug().Str("channel", p.channel).Dur("interval", p.interval).Msg("heartbeat started")

	if err := p.publish(ctx); err != nil {
		p.logger.Warn().Err(err).Msg("initial heartbeat failed")
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.publish(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context) error {
	msg := StatusMessage{
		Version:   "1.0",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		WorkerID:  p.workerID,
		Health:    p.collector.Collect(ctx),
	}

	jsonData, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	if err := p.client.Publish(ctx, p.channel, jsonData).Err(); err != nil {
		return fmt.Errorf("failed to publish to Pub/Sub: %w", err)
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.streamName,
		Values: map[string]any{
			"workerId":  p.workerID,
			"timestamp": msg.Timestamp,
			"payload":   string(jsonData),
		},
		MaxLen: streamMaxLen,
		Approx: true,
	}).Err(); err != nil {
		return fmt.Errorf("failed to add to stream: %w", err)
	}

	p.logger.Debug().Int("bytes", len(jsonData)).Int("active_jobs", msg.Health.Worker.ActiveJobs).Msg("heartbeat published")
	return nil
}

// PublishOnce sends a single heartbeat.
func (p *Publisher) PublishOnce(ctx context.Context) error {
	return p.publish(ctx)
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Interval returns the configured publish interval.
func (p *Publisher) Interval() time.Duration {
	return p.interval
}

// Channel returns the Pub/Sub channel name.
func (p *Publisher) Channel() string {
	return p.channel
}
