package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aceteam-ai/aiworker/internal/cache"
	"github.com/aceteam-ai/aiworker/internal/handlers"
	"github.com/aceteam-ai/aiworker/internal/metrics"
	"github.com/aceteam-ai/aiworker/internal/provider"
	"github.com/aceteam-ai/aiworker/internal/worker"
)

type countingCloud struct {
	mu      sync.Mutex
	chats   int
	analyze int
	reply   string
	err     error
}

func (c *countingCloud) Chat(ctx context.Context, messages []provider.Message) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.chats++
	return c.reply, c.err
}

func (c *countingCloud) Analyze(ctx context.Context, prompt, imageURL string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.analyze++
	return c.reply, c.err
}

type countingDetector struct {
	mu    sync.Mutex
	calls int
}

func (d *countingDetector) Detect(ctx context.Context, imageURL string) (*provider.DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return &provider.DetectionResult{Detections: []provider.Detection{{Label: "egg", Confidence: 0.8}}, Count: 1}, nil
}

type failingLocal struct{ calls int }

func (f *failingLocal) Chat(ctx context.Context, message, convContext string) (*provider.LocalReply, error) {
	f.calls++
	return nil, &provider.Error{Provider: provider.ProviderLocalLLM, Kind: provider.KindUnavailable, Attempts: 1}
}

// spyStore counts store traffic.
type spyStore struct {
	cache.Store
	gets, puts int
	err        error
}

func (s *spyStore) Get(ctx context.Context, key string) (*cache.Entry, bool, error) {
	s.gets++
	if s.err != nil {
		return nil, false, s.err
	}
	return s.Store.Get(ctx, key)
}

func (s *spyStore) Put(ctx context.Context, key string, e *cache.Entry, ttl time.Duration) error {
	s.puts++
	if s.err != nil {
		return s.err
	}
	return s.Store.Put(ctx, key, e, ttl)
}

type fixture struct {
	proc    *Processor
	store   *spyStore
	mem     *cache.MemoryStore
	metrics *metrics.Metrics
	cloud   *countingCloud
	det     *countingDetector
	local   *failingLocal
}

func newFixture(cloud *countingCloud) *fixture {
	mem := cache.NewMemoryStore()
	f := &fixture{
		mem:     mem,
		store:   &spyStore{Store: mem},
		metrics: metrics.New(),
		cloud:   cloud,
		det:     &countingDetector{},
		local:   &failingLocal{},
	}
	hs := handlers.Registry(handlers.Deps{Detector: f.det, Local: f.local, Cloud: cloud})
	f.proc = New(hs, cache.NewManager(f.store, 0), f.metrics, zerolog.Nop())
	return f
}

func job(id, jobType string, input map[string]any) *worker.Job {
	return &worker.Job{ID: id, Type: jobType, Input: input}
}

func TestMealPlanTwiceServesSecondFromCache(t *testing.T) {
	cloud := &countingCloud{reply: `{"days": [{"day": 1, "meals": [{"name": "omelette", "calories": 450}]}]}`}
	f := newFixture(cloud)
	ctx := context.Background()
	input := map[string]any{"targetCalories": 1800, "dietType": "low_carb"}

	first, err := f.proc.Process(ctx, job("j1", handlers.TypeMealPlan, input))
	require.NoError(t, err)
	assert.False(t, first.CacheHit)
	assert.Equal(t, 1, cloud.chats)

	second, err := f.proc.Process(ctx, job("j2", handlers.TypeMealPlan, map[string]any{"dietType": "low_carb", "targetCalories": 1800}))
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, 1, cloud.chats, "second call must not reach the provider")

	a, _ := json.Marshal(first.Output)
	b, _ := json.Marshal(second.Output)
	assert.JSONEq(t, string(a), string(b))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheMisses.WithLabelValues(handlers.TypeMealPlan)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CacheHits.WithLabelValues(handlers.TypeMealPlan)))
}

func TestImageAnalysisProvidersCalledOnce(t *testing.T) {
	cloud := &countingCloud{reply: `{"foods": [], "totals": {}, "assessment": "ok", "recommendations": []}`}
	f := newFixture(cloud)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := f.proc.Process(ctx, job(fmt.Sprintf("j%d", i), handlers.TypeImageAnalysis,
			map[string]any{"imageUrl": "https://img/1.jpg", "mealType": "breakfast"}))
		require.NoError(t, err)
		assert.Equal(t, i > 0, res.CacheHit)
	}
	assert.Equal(t, 1, f.det.calls)
	assert.Equal(t, 1, cloud.analyze)

	_, err := f.proc.Process(ctx, job("j9", handlers.TypeImageAnalysis,
		map[string]any{"imageUrl": "https://img/1.jpg", "mealType": "dinner"}))
	require.NoError(t, err)
	assert.Equal(t, 2, cloud.analyze, "different input must not hit the cache")
}

func TestUnknownJobTypeFailsBeforeAnyIO(t *testing.T) {
	cloud := &countingCloud{reply: "x"}
	f := newFixture(cloud)

	_, err := f.proc.Process(context.Background(), job("j1", "video_analysis", map[string]any{"url": "x"}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownJobType)

	assert.Equal(t, 0, f.store.gets)
	assert.Equal(t, 0, f.store.puts)
	assert.Equal(t, 0, cloud.chats+cloud.analyze)
	assert.Equal(t, 0, f.det.calls)

	kind, retryable := Classify(err)
	assert.Equal(t, KindUnknownJobType, kind)
	assert.False(t, retryable)
}

func TestFailuresAreNotCached(t *testing.T) {
	cloud := &countingCloud{err: &provider.Error{Provider: provider.ProviderCloudLLM, Kind: provider.KindUnavailable, Attempts: 1}}
	f := newFixture(cloud)
	ctx := context.Background()
	input := map[string]any{"message": "hello"}

	for i := 0; i < 2; i++ {
		_, err := f.proc.Process(ctx, job("j", handlers.TypeUnifiedAssistant, input))
		require.Error(t, err)

		var herr *HandlerError
		require.True(t, errors.As(err, &herr))
		assert.Equal(t, handlers.TypeUnifiedAssistant, herr.JobType)
		assert.True(t, errors.Is(err, provider.ErrUnavailable))
	}

	assert.Equal(t, 0, f.mem.Len())
	assert.Equal(t, 0, f.store.puts)
	assert.Equal(t, 2, f.local.calls)
	assert.Equal(t, 2, cloud.chats)
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.CacheMisses.WithLabelValues(handlers.TypeUnifiedAssistant)))
}

func TestCacheErrorsDegradeToMiss(t *testing.T) {
	cloud := &countingCloud{reply: "Sure, drink water."}
	f := newFixture(cloud)
	f.store.err = errors.New("redis: connection refused")

	res, err := f.proc.Process(context.Background(), job("j1", handlers.TypeMessagingReply, map[string]any{"message": "hi"}))
	require.NoError(t, err)
	assert.Equal(t, "Sure, drink water.", res.Output["reply"])
	assert.Equal(t, 1, f.store.gets)
	assert.Equal(t, 1, f.store.puts)
}

func TestLookalikeMessagesAreNotServedFromCache(t *testing.T) {
	pairs := []struct {
		name string
		a, b string
	}{
		{"leading zeros", "007", "7"},
		{"trailing zeros", "1.50", "1.5"},
		{"beyond 2^53", "12345678901234567", "12345678901234568"},
		{"case", "True", "true"},
		{"padding", " 42", "42"},
	}

	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			cloud := &countingCloud{reply: "Got it."}
			f := newFixture(cloud)
			ctx := context.Background()

			_, err := f.proc.Process(ctx, job("j1", handlers.TypeMessagingReply, map[string]any{"message": tt.a}))
			require.NoError(t, err)
			res, err := f.proc.Process(ctx, job("j2", handlers.TypeMessagingReply, map[string]any{"message": tt.b}))
			require.NoError(t, err)

			assert.False(t, res.CacheHit)
			assert.Equal(t, 2, cloud.chats)
		})
	}
}

func TestMealPlanNumericSpellingsShareCacheEntry(t *testing.T) {
	cloud := &countingCloud{reply: "plan"}
	f := newFixture(cloud)
	ctx := context.Background()

	inputs := []map[string]any{
		{"targetCalories": 1800, "dietType": "keto"},
		{"targetCalories": "1800.0", "dietType": "keto"},
		{"targetCalories": " 1800 ", "dietType": "keto", "days": 1},
		{"targetCalories": 1800.0, "dietType": "keto", "restrictions": nil},
	}
	for i, in := range inputs {
		res, err := f.proc.Process(ctx, job(fmt.Sprintf("j%d", i), handlers.TypeMealPlan, in))
		require.NoError(t, err)
		assert.Equal(t, i > 0, res.CacheHit, "input %d", i)
	}
	assert.Equal(t, 1, cloud.chats)
}

func TestUncacheableInputSkipsCache(t *testing.T) {
	f := newFixture(&countingCloud{reply: "x"})

	_, err := f.proc.Process(context.Background(), job("j1", handlers.TypeMessagingReply, map[string]any{"channel": "sms"}))
	require.Error(t, err)
	assert.Equal(t, 0, f.store.gets)
	assert.Equal(t, 0, f.store.puts)
	assert.Equal(t, 0, f.cloud.chats)
}

func TestInvalidInputIsNotRetryable(t *testing.T) {
	f := newFixture(&countingCloud{reply: "x"})

	_, err := f.proc.Process(context.Background(), job("j1", handlers.TypeMealPlan, map[string]any{"dietType": "keto"}))
	require.Error(t, err)

	kind, retryable := Classify(err)
	assert.Equal(t, KindInvalidInput, kind)
	assert.False(t, retryable)
}

func TestWithoutCache(t *testing.T) {
	cloud := &countingCloud{reply: "ok"}
	hs := handlers.Registry(handlers.Deps{Cloud: cloud})
	p := New(hs, nil, nil, zerolog.Nop())

	for i := 0; i < 2; i++ {
		res, err := p.Process(context.Background(), job("j", handlers.TypeMessagingReply, map[string]any{"message": "hi"}))
		require.NoError(t, err)
		assert.False(t, res.CacheHit)
	}
	assert.Equal(t, 2, cloud.chats)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      string
		retryable bool
	}{
		{"unknown type", fmt.Errorf("%w: x", ErrUnknownJobType), KindUnknownJobType, false},
		{"invalid input", &HandlerError{Err: fmt.Errorf("%w: imageUrl", handlers.ErrInvalidInput)}, KindInvalidInput, false},
		{"unavailable", &HandlerError{Err: &provider.Error{Kind: provider.KindUnavailable}}, KindProviderUnavailable, true},
		{"malformed", &HandlerError{Err: &provider.Error{Kind: provider.KindMalformed}}, KindMalformedResponse, true},
		{"deadline", &HandlerError{Err: context.DeadlineExceeded}, KindDeadlineExceeded, true},
		{"other", &HandlerError{Err: errors.New("boom")}, KindHandlerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, retryable := Classify(tt.err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}
