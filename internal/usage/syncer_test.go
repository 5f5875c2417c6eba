package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedAttempts(t *testing.T, store *Store, jobType, status, errorKind string, count int) {
	t.Helper()
	now := time.Now().UTC()
	for i := range count {
		require.NoError(t, store.Insert(UsageRecord{
			JobID:       fmt.Sprintf("%s-%s-%d", jobType, status, i),
			JobType:     jobType,
			Attempt:     1,
			Status:      status,
			ErrorKind:   errorKind,
			StartedAt:   now,
			CompletedAt: now.Add(time.Second),
			DurationMs:  1000,
		}))
	}
}

// recordingPublisher collects batch sizes and can be told to fail.
type recordingPublisher struct {
	mu      sync.Mutex
	batches []int
	err     error
}

func (p *recordingPublisher) publish(ctx context.Context, records []UsageRecord) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, len(records))
	return nil
}

func (p *recordingPublisher) sizes() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.batches...)
}

func TestSyncDrainsBacklogInBatches(t *testing.T) {
	store := openTestStore(t)
	seedAttempts(t, store, "meal_plan", "success", "", 5)

	pub := &recordingPublisher{}
	var stats []BatchStats
	syncer := NewSyncer(SyncerConfig{
		Store:     store,
		BatchSize: 2,
		PublishFn: pub.publish,
		OnBatch:   func(st BatchStats) { stats = append(stats, st) },
	})

	assert.Equal(t, 5, syncer.Sync(context.Background()))
	assert.Equal(t, []int{2, 2, 1}, pub.sizes())
	require.Len(t, stats, 3)
	assert.Equal(t, 1, stats[2].Records)

	remaining, err := store.QueryUnsynced(10)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestSyncMaxBatchesBoundsCycle(t *testing.T) {
	store := openTestStore(t)
	seedAttempts(t, store, "meal_plan", "success", "", 5)

	pub := &recordingPublisher{}
	syncer := NewSyncer(SyncerConfig{Store: store, BatchSize: 2, MaxBatches: 1, PublishFn: pub.publish})

	assert.Equal(t, 2, syncer.Sync(context.Background()))
	assert.Equal(t, 2, syncer.Sync(context.Background()))
	assert.Equal(t, 1, syncer.Sync(context.Background()))
	assert.Equal(t, []int{2, 2, 1}, pub.sizes())
}

func TestSyncPublishFailureKeepsRecordsUnsynced(t *testing.T) {
	store := openTestStore(t)
	seedAttempts(t, store, "messaging_reply", "success", "", 2)

	pub := &recordingPublisher{err: errors.New("connection refused")}
	called := false
	syncer := NewSyncer(SyncerConfig{
		Store:     store,
		PublishFn: pub.publish,
		OnBatch:   func(BatchStats) { called = true },
	})

	assert.Equal(t, 0, syncer.Sync(context.Background()))
	assert.False(t, called)

	remaining, err := store.QueryUnsynced(10)
	require.NoError(t, err)
	assert.Len(t, remaining, 2)

	// Recovery catches up on the next cycle.
	pub.err = nil
	assert.Equal(t, 2, syncer.Sync(context.Background()))
}

func TestSyncNoRecordsIsNoop(t *testing.T) {
	store := openTestStore(t)

	pub := &recordingPublisher{}
	syncer := NewSyncer(SyncerConfig{Store: store, PublishFn: pub.publish})

	assert.Equal(t, 0, syncer.Sync(context.Background()))
	assert.Empty(t, pub.sizes())
}

func TestSummarizeBatch(t *testing.T) {
	records := []UsageRecord{
		{JobType: "image_analysis", Status: "success", CacheHit: true},
		{JobType: "image_analysis", Status: "success"},
		{JobType: "image_analysis", Status: "retry", ErrorKind: "provider_unavailable"},
		{JobType: "meal_plan", Status: "failure", ErrorKind: "invalid_input"},
		{JobType: "meal_plan", Status: "retry", ErrorKind: "provider_unavailable"},
	}

	st := SummarizeBatch(records)

	assert.Equal(t, 5, st.Records)
	assert.Equal(t, 1, st.CacheHits)
	assert.Equal(t, map[string]map[string]int{
		"image_analysis": {"success": 2, "retry": 1},
		"meal_plan":      {"failure": 1, "retry": 1},
	}, st.ByType)
	assert.Equal(t, map[string]int{"provider_unavailable": 2, "invalid_input": 1}, st.ErrorKinds)
}

func TestSyncerStartFlushesOnShutdown(t *testing.T) {
	store := openTestStore(t)
	seedAttempts(t, store, "unified_assistant", "success", "", 2)

	pub := &recordingPublisher{}
	syncer := NewSyncer(SyncerConfig{Store: store, Interval: time.Hour, BatchSize: 10, PublishFn: pub.publish})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	assert.NoError(t, syncer.Start(ctx))
	assert.Equal(t, []int{2}, pub.sizes())
}
