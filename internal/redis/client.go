// Package redis provides the Redis Streams job queue used by the worker.
//
// Key design choices:
//
//   - Redis Streams with a consumer group, so several workers share one queue
//     and a crashed worker's messages are reclaimed by the others (XAUTOCLAIM)
//   - Acked messages are deleted from the stream, so XLEN is the queue depth
//   - Job status and results live in a hash per job (job:<id>:status)
//   - Lifecycle events go to Pub/Sub (stream:v1:<id>) for live subscribers
//   - Messages delivered too many times move to a dead-letter stream
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// StreamEvent represents an event published to Redis Pub/Sub.
type StreamEvent struct {
	Version   string         `json:"version"`
	Type      string         `json:"type"` // "start", "end", "error"
	JobID     string         `json:"jobId"`
	Timestamp string         `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Message is a job entry read from the stream.
type Message struct {
	MessageID  string
	JobID      string
	Type       string
	Owner      string
	Input      map[string]any
	CreatedAt  time.Time
	Deliveries int64
	RawData    map[string]any
}

// Client wraps Redis operations for the job queue system.
type Client struct {
	client        *redis.Client
	workerID      string
	queueName     string
	consumerGroup string
	blockMs       int
	maxAttempts   int
	claimIdle     time.Duration
	statusTTL     time.Duration
}

// ClientConfig holds configuration for the Redis client.
type ClientConfig struct {
	QueueName     string
	ConsumerGroup string
	ConsumerName  string        // default aiworker-<random>
	BlockMs       int           // XREADGROUP block, default 5000
	MaxAttempts   int           // deliveries before DLQ, default 3
	ClaimIdle     time.Duration // reclaim pending messages idle this long, 0 disables
	StatusTTL     time.Duration // job status hash expiry, default 24h
}

// NewClient creates a new Redis client for the job queue.
func NewClient(cfg ClientConfig) *Client {
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "aiworker"
	}
	if cfg.BlockMs == 0 {
		cfg.BlockMs = 5000
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.StatusTTL == 0 {
		cfg.StatusTTL = 24 * time.Hour
	}
	workerID := cfg.ConsumerName
	if workerID == "" {
		workerID = fmt.Sprintf("aiworker-%s", uuid.New().String()[:8])
	}

	return &Client{
		workerID:      workerID,
		queueName:     cfg.QueueName,
		consumerGroup: cfg.ConsumerGroup,
		blockMs:       cfg.BlockMs,
		maxAttempts:   cfg.MaxAttempts,
		claimIdle:     cfg.ClaimIdle,
		statusTTL:     cfg.StatusTTL,
	}
}

// Connect establishes connection to Redis.
func (c *Client) Connect(ctx context.Context, url, password string) error {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if password != "" {
		opts.Password = password
	}

	c.client = redis.NewClient(opts)

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return nil
}

// EnsureConsumerGroup creates the consumer group if it doesn't exist.
func (c *Client) EnsureConsumerGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.queueName, c.consumerGroup, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue appends a job to the stream and returns its message ID.
func (c *Client) Enqueue(ctx context.Context, jobID, jobType, owner string, input map[string]any) (string, error) {
	payload, err := json.Marshal(input)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job input: %w", err)
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.queueName,
		Values: map[string]any{
			"jobId":      jobID,
			"type":       jobType,
			"owner":      owner,
			"payload":    string(payload),
			"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Result()
}

// Claim returns up to max messages. Messages left pending by a dead consumer
// for longer than ClaimIdle are reclaimed first; otherwise new messages are
// read, blocking up to BlockMs. A nil slice means nothing was available.
func (c *Client) Claim(ctx context.Context, max int) ([]*Message, error) {
	if max <= 0 {
		return nil, nil
	}

	if c.claimIdle > 0 {
		reclaimed, err := c.reclaim(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(reclaimed) > 0 {
			return reclaimed, nil
		}
	}

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.consumerGroup,
		Consumer: c.workerID,
		Streams:  []string{c.queueName, ">"},
		Count:    int64(max),
		Block:    time.Duration(c.blockMs) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	var out []*Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			m, err := c.parseMessage(msg)
			if err != nil {
				if dlqErr := c.deadLetterUnparseable(ctx, err); dlqErr != nil {
					return out, dlqErr
				}
				continue
			}
			m.Deliveries = 1
			out = append(out, m)
		}
	}
	return out, nil
}

func (c *Client) reclaim(ctx context.Context, max int) ([]*Message, error) {
	msgs, _, err := c.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   c.queueName,
		Group:    c.consumerGroup,
		Consumer: c.workerID,
		MinIdle:  c.claimIdle,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to reclaim pending messages: %w", err)
	}

	out := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		if len(msg.Values) == 0 {
			// entry was deleted while pending; drop it from the PEL
			c.client.XAck(ctx, c.queueName, c.consumerGroup, msg.ID)
			continue
		}
		m, err := c.parseMessage(msg)
		if err != nil {
			if dlqErr := c.deadLetterUnparseable(ctx, err); dlqErr != nil {
				return out, dlqErr
			}
			continue
		}
		if n, err := c.GetDeliveryCount(ctx, msg.ID); err == nil {
			m.Deliveries = n
		}
		out = append(out, m)
	}
	return out, nil
}

// parseMessage converts a Redis stream message to a Message. A payload that
// is not valid JSON is returned as an error carrying the message so the
// caller can dead-letter it.
func (c *Client) parseMessage(msg redis.XMessage) (*Message, error) {
	m := &Message{
		MessageID: msg.ID,
		RawData:   make(map[string]any, len(msg.Values)),
	}
	for k, v := range msg.Values {
		m.RawData[k] = v
	}

	m.JobID, _ = msg.Values["jobId"].(string)
	m.Type, _ = msg.Values["type"].(string)
	m.Owner, _ = msg.Values["owner"].(string)
	if s, ok := msg.Values["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			m.CreatedAt = t
		}
	}
	if m.JobID == "" {
		m.JobID = msg.ID
	}

	if payloadStr, ok := msg.Values["payload"].(string); ok && payloadStr != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(payloadStr), &payload); err != nil {
			return nil, &PayloadError{Message: m, Err: err}
		}
		m.Input = payload

		if m.Type == "" {
			if t, ok := payload["type"].(string); ok {
				m.Type = t
			}
		}
	}
	if m.Input == nil {
		m.Input = map[string]any{}
	}

	return m, nil
}

func (c *Client) deadLetterUnparseable(ctx context.Context, err error) error {
	var perr *PayloadError
	if !errors.As(err, &perr) {
		return err
	}
	return c.MoveToDLQ(ctx, perr.Message, perr.Error())
}

// PayloadError reports a stream entry whose payload could not be decoded.
type PayloadError struct {
	Message *Message
	Err     error
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("failed to parse payload of message %s: %v", e.Message.MessageID, e.Err)
}

func (e *PayloadError) Unwrap() error { return e.Err }

// AckJob acknowledges a processed message and deletes it from the stream.
func (c *Client) AckJob(ctx context.Context, messageID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, c.queueName, c.consumerGroup, messageID)
		pipe.XDel(ctx, c.queueName, messageID)
		return nil
	})
	return err
}

// GetDeliveryCount returns the number of times a message has been delivered.
func (c *Client) GetDeliveryCount(ctx context.Context, messageID string) (int64, error) {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.queueName,
		Group:  c.consumerGroup,
		Start:  messageID,
		End:    messageID,
		Count:  1,
	}).Result()

	if err != nil {
		return 0, err
	}

	if len(pending) > 0 {
		return pending[0].RetryCount, nil
	}

	return 0, nil
}

// MoveToDLQ copies a message to the dead-letter stream and removes it from
// the work stream.
func (c *Client) MoveToDLQ(ctx context.Context, m *Message, reason string) error {
	fields := map[string]any{
		"original_message_id": m.MessageID,
		"original_queue":      c.queueName,
		"reason":              reason,
		"deliveries":          strconv.FormatInt(m.Deliveries, 10),
		"moved_at":            time.Now().UTC().Format(time.RFC3339),
		"worker_id":           c.workerID,
		"jobId":               m.JobID,
		"type":                m.Type,
	}

	if raw, ok := m.RawData["payload"].(string); ok {
		fields["payload"] = raw
	} else if payloadBytes, err := json.Marshal(m.Input); err == nil {
		fields["payload"] = string(payloadBytes)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.DLQName(),
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("failed to write to DLQ: %w", err)
	}
	return c.AckJob(ctx, m.MessageID)
}

// DLQName returns the dead-letter stream for this queue:
// jobs:v1:ai-analysis -> dlq:v1:ai-analysis.
func (c *Client) DLQName() string {
	if strings.HasPrefix(c.queueName, "jobs:v1:") {
		return "dlq:v1:" + strings.TrimPrefix(c.queueName, "jobs:v1:")
	}
	parts := strings.Split(c.queueName, ":")
	return fmt.Sprintf("dlq:v1:%s", parts[len(parts)-1])
}

// QueueLength returns the number of unacknowledged entries in the stream.
func (c *Client) QueueLength(ctx context.Context) (int64, error) {
	return c.client.XLen(ctx, c.queueName).Result()
}

// PublishStreamEvent publishes a lifecycle event to Redis Pub/Sub.
func (c *Client) PublishStreamEvent(ctx context.Context, jobID string, eventType string, data map[string]any) error {
	streamName := fmt.Sprintf("stream:v1:%s", jobID)

	event := StreamEvent{
		Version:   "1.0",
		Type:      eventType,
		JobID:     jobID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      data,
	}

	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal stream event: %w", err)
	}

	return c.client.Publish(ctx, streamName, eventJSON).Err()
}

// PublishStart publishes a "start" event for a job.
func (c *Client) PublishStart(ctx context.Context, jobID string, message string) error {
	return c.PublishStreamEvent(ctx, jobID, "start", map[string]any{
		"message":   message,
		"worker_id": c.workerID,
	})
}

// PublishEnd publishes an "end" event when job completes.
func (c *Client) PublishEnd(ctx context.Context, jobID string, result map[string]any) error {
	return c.PublishStreamEvent(ctx, jobID, "end", map[string]any{
		"result": result,
	})
}

// PublishError publishes an "error" event when job fails.
func (c *Client) PublishError(ctx context.Context, jobID string, errMsg string, recoverable bool) error {
	return c.PublishStreamEvent(ctx, jobID, "error", map[string]any{
		"error":       errMsg,
		"recoverable": recoverable,
	})
}

// UsageStream is the stream job usage records are appended to.
const UsageStream = "usage:v1:jobs"

// usageStreamMaxLen caps the usage stream; trimming is approximate.
const usageStreamMaxLen = 100000

// AppendUsage appends one usage record to the usage stream. The record is
// stored as JSON under the "record" field.
func (c *Client) AppendUsage(ctx context.Context, jobID string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal usage record: %w", err)
	}
	return c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: UsageStream,
		MaxLen: usageStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"jobId":     jobID,
			"worker_id": c.workerID,
			"record":    string(data),
		},
	}).Err()
}

// StatusKey returns the hash key holding a job's status.
func StatusKey(jobID string) string {
	return fmt.Sprintf("job:%s:status", jobID)
}

// SetJobStatus stores job status in Redis. Non-string values in data are
// stored as JSON.
func (c *Client) SetJobStatus(ctx context.Context, jobID, status string, data map[string]any) error {
	key := StatusKey(jobID)

	fields := map[string]any{
		"status":     status,
		"worker_id":  c.workerID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}

	for k, v := range data {
		switch val := v.(type) {
		case string, int, int64, float64, bool:
			fields[k] = val
		default:
			b, err := json.Marshal(val)
			if err != nil {
				return fmt.Errorf("failed to marshal status field %s: %w", k, err)
			}
			fields[k] = string(b)
		}
	}

	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, c.statusTTL)
		return nil
	})
	return err
}

// GetJobStatus returns the status hash of a job (empty if unknown).
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (map[string]string, error) {
	return c.client.HGetAll(ctx, StatusKey(jobID)).Result()
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// WorkerID returns the consumer name of this worker.
func (c *Client) WorkerID() string {
	return c.workerID
}

// QueueName returns the queue name this client is configured for.
func (c *Client) QueueName() string {
	return c.queueName
}

// MaxAttempts returns the maximum deliveries before DLQ.
func (c *Client) MaxAttempts() int {
	return c.maxAttempts
}
