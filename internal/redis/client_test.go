package redis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

// setupMiniredis starts a miniredis instance and returns a connected Client.
func setupMiniredis(t *testing.T, cfg ClientConfig) (*miniredis.Miniredis, *Client, *goredis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)

	if cfg.QueueName == "" {
		cfg.QueueName = "jobs:v1:test"
	}
	if cfg.ConsumerGroup == "" {
		cfg.ConsumerGroup = "test-workers"
	}
	if cfg.BlockMs == 0 {
		cfg.BlockMs = 10
	}
	client := NewClient(cfg)

	ctx := context.Background()
	if err := client.Connect(ctx, "redis://"+mr.Addr(), ""); err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	if err := client.EnsureConsumerGroup(ctx); err != nil {
		t.Fatalf("EnsureConsumerGroup: %v", err)
	}

	raw := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { raw.Close() })

	return mr, client, raw
}

func TestNewClient(t *testing.T) {
	tests := []struct {
		name         string
		config       ClientConfig
		wantGroup    string
		wantBlockMs  int
		wantMaxRetry int
	}{
		{
			name:         "with defaults",
			config:       ClientConfig{},
			wantGroup:    "aiworker",
			wantBlockMs:  5000,
			wantMaxRetry: 3,
		},
		{
			name: "with custom values",
			config: ClientConfig{
				ConsumerGroup: "custom-group",
				BlockMs:       10000,
				MaxAttempts:   5,
			},
			wantGroup:    "custom-group",
			wantBlockMs:  10000,
			wantMaxRetry: 5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.config)

			if client.consumerGroup != tt.wantGroup {
				t.Errorf("consumerGroup = %v, want %v", client.consumerGroup, tt.wantGroup)
			}
			if client.blockMs != tt.wantBlockMs {
				t.Errorf("blockMs = %v, want %v", client.blockMs, tt.wantBlockMs)
			}
			if client.MaxAttempts() != tt.wantMaxRetry {
				t.Errorf("MaxAttempts() = %v, want %v", client.MaxAttempts(), tt.wantMaxRetry)
			}
		})
	}
}

func TestClientWorkerID(t *testing.T) {
	generated := NewClient(ClientConfig{}).WorkerID()
	if len(generated) != len("aiworker-")+8 || generated[:9] != "aiworker-" {
		t.Errorf("WorkerID = %q, want aiworker-<8 chars>", generated)
	}

	named := NewClient(ClientConfig{ConsumerName: "worker-a"}).WorkerID()
	if named != "worker-a" {
		t.Errorf("WorkerID = %q, want worker-a", named)
	}
}

func TestDLQName(t *testing.T) {
	tests := []struct {
		queue string
		want  string
	}{
		{"jobs:v1:ai-analysis", "dlq:v1:ai-analysis"},
		{"jobs:v1:tag:gpu", "dlq:v1:tag:gpu"},
		{"custom:queue", "dlq:v1:queue"},
		{"plain", "dlq:v1:plain"},
	}
	for _, tt := range tests {
		t.Run(tt.queue, func(t *testing.T) {
			if got := NewClient(ClientConfig{QueueName: tt.queue}).DLQName(); got != tt.want {
				t.Errorf("DLQName() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClaimAndAck(t *testing.T) {
	_, client, _ := setupMiniredis(t, ClientConfig{})
	ctx := context.Background()

	for _, id := range []string{"job-1", "job-2", "job-3"} {
		if _, err := client.Enqueue(ctx, id, "meal_plan", "user-1", map[string]any{"targetCalories": 1800}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	msgs, err := client.Claim(ctx, 2)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("Claim returned %d messages, want 2", len(msgs))
	}

	m := msgs[0]
	if m.JobID != "job-1" || m.Type != "meal_plan" || m.Owner != "user-1" {
		t.Errorf("message = %+v", m)
	}
	if m.Input["targetCalories"] != float64(1800) {
		t.Errorf("Input[targetCalories] = %v, want 1800", m.Input["targetCalories"])
	}
	if m.Deliveries != 1 {
		t.Errorf("Deliveries = %d, want 1", m.Deliveries)
	}
	if m.CreatedAt.IsZero() {
		t.Error("CreatedAt not parsed")
	}

	if n, _ := client.QueueLength(ctx); n != 3 {
		t.Errorf("QueueLength = %d, want 3 before ack", n)
	}
	if err := client.AckJob(ctx, m.MessageID); err != nil {
		t.Fatalf("AckJob: %v", err)
	}
	if n, _ := client.QueueLength(ctx); n != 2 {
		t.Errorf("QueueLength = %d, want 2 after ack", n)
	}
	if n, _ := client.GetDeliveryCount(ctx, m.MessageID); n != 0 {
		t.Errorf("acked message still pending (count %d)", n)
	}
}

func TestClaimEmpty(t *testing.T) {
	_, client, _ := setupMiniredis(t, ClientConfig{})

	msgs, err := client.Claim(context.Background(), 5)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("Claim returned %d messages from an empty stream", len(msgs))
	}

	if msgs, _ := client.Claim(context.Background(), 0); msgs != nil {
		t.Error("Claim(0) should return nil")
	}
}

func TestReclaimIdleMessages(t *testing.T) {
	mr, first, _ := setupMiniredis(t, ClientConfig{ConsumerName: "crashed"})
	ctx := context.Background()

	if _, err := first.Enqueue(ctx, "job-1", "messaging_reply", "", map[string]any{"message": "hi"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if msgs, err := first.Claim(ctx, 1); err != nil || len(msgs) != 1 {
		t.Fatalf("first Claim = %v, %v", msgs, err)
	}

	second := NewClient(ClientConfig{
		QueueName:     "jobs:v1:test",
		ConsumerGroup: "test-workers",
		ConsumerName:  "survivor",
		BlockMs:       10,
		ClaimIdle:     time.Millisecond,
	})
	if err := second.Connect(ctx, "redis://"+mr.Addr(), ""); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer second.Close()

	time.Sleep(20 * time.Millisecond)

	msgs, err := second.Claim(ctx, 5)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("reclaimed %d messages, want 1", len(msgs))
	}
	if msgs[0].JobID != "job-1" {
		t.Errorf("JobID = %q, want job-1", msgs[0].JobID)
	}
	if msgs[0].Deliveries != 2 {
		t.Errorf("Deliveries = %d, want 2", msgs[0].Deliveries)
	}
}

func TestMoveToDLQ(t *testing.T) {
	_, client, raw := setupMiniredis(t, ClientConfig{})
	ctx := context.Background()

	if _, err := client.Enqueue(ctx, "job-dlq", "exam_analysis", "", map[string]any{"imageUrl": "x"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	msgs, _ := client.Claim(ctx, 1)
	if len(msgs) != 1 {
		t.Fatalf("Claim returned %d messages", len(msgs))
	}

	if err := client.MoveToDLQ(ctx, msgs[0], "max attempts exceeded"); err != nil {
		t.Fatalf("MoveToDLQ: %v", err)
	}

	entries, err := raw.XRange(ctx, "dlq:v1:test", "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("DLQ has %d entries, want 1", len(entries))
	}
	e := entries[0].Values
	if e["jobId"] != "job-dlq" || e["reason"] != "max attempts exceeded" || e["type"] != "exam_analysis" {
		t.Errorf("DLQ entry = %v", e)
	}
	if e["payload"] != `{"imageUrl":"x"}` {
		t.Errorf("payload = %v", e["payload"])
	}
	if n, _ := client.QueueLength(ctx); n != 0 {
		t.Errorf("QueueLength = %d, want 0 after DLQ", n)
	}
}

func TestUnparseablePayloadIsDeadLettered(t *testing.T) {
	_, client, raw := setupMiniredis(t, ClientConfig{})
	ctx := context.Background()

	raw.XAdd(ctx, &goredis.XAddArgs{Stream: "jobs:v1:test", Values: map[string]any{
		"jobId": "bad", "type": "meal_plan", "payload": "{not json",
	}})
	client.Enqueue(ctx, "good", "meal_plan", "", map[string]any{"targetCalories": 2000})

	msgs, err := client.Claim(ctx, 5)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if len(msgs) != 1 || msgs[0].JobID != "good" {
		t.Fatalf("Claim = %+v, want only the good job", msgs)
	}
	if n, _ := raw.XLen(ctx, "dlq:v1:test").Result(); n != 1 {
		t.Errorf("DLQ length = %d, want 1", n)
	}
}

func TestSetJobStatus(t *testing.T) {
	mr, client, _ := setupMiniredis(t, ClientConfig{})
	ctx := context.Background()

	err := client.SetJobStatus(ctx, "job-s", "completed", map[string]any{
		"result":    map[string]any{"reply": "hello"},
		"cache_hit": true,
	})
	if err != nil {
		t.Fatalf("SetJobStatus: %v", err)
	}

	status, err := client.GetJobStatus(ctx, "job-s")
	if err != nil {
		t.Fatalf("GetJobStatus: %v", err)
	}
	if status["status"] != "completed" {
		t.Errorf("status = %q", status["status"])
	}
	if status["worker_id"] != client.WorkerID() {
		t.Errorf("worker_id = %q", status["worker_id"])
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(status["result"]), &result); err != nil || result["reply"] != "hello" {
		t.Errorf("result = %q (%v)", status["result"], err)
	}
	if mr.TTL(StatusKey("job-s")) <= 0 {
		t.Error("status hash has no expiry")
	}
}

func TestPublishStreamEvent(t *testing.T) {
	_, client, raw := setupMiniredis(t, ClientConfig{})
	ctx := context.Background()

	pubsub := raw.Subscribe(ctx, "stream:v1:job-p")
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		t.Fatalf("failed to subscribe: %v", err)
	}

	if err := client.PublishError(ctx, "job-p", "cloud_llm unavailable", true); err != nil {
		t.Fatalf("PublishError: %v", err)
	}

	msg, err := pubsub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	var event StreamEvent
	if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if event.Type != "error" || event.JobID != "job-p" {
		t.Errorf("event = %+v", event)
	}
	if event.Data["recoverable"] != true {
		t.Errorf("recoverable = %v", event.Data["recoverable"])
	}
}

func TestAppendUsage(t *testing.T) {
	_, client, raw := setupMiniredis(t, ClientConfig{})
	ctx := context.Background()

	record := map[string]any{"job_type": "meal_plan", "status": "success"}
	if err := client.AppendUsage(ctx, "job-u", record); err != nil {
		t.Fatalf("AppendUsage: %v", err)
	}

	entries, err := raw.XRange(ctx, UsageStream, "-", "+").Result()
	if err != nil {
		t.Fatalf("XRange: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d usage entries, want 1", len(entries))
	}
	if entries[0].Values["jobId"] != "job-u" {
		t.Errorf("jobId = %v", entries[0].Values["jobId"])
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(entries[0].Values["record"].(string)), &got); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if got["job_type"] != "meal_plan" {
		t.Errorf("record = %v", got)
	}
}
