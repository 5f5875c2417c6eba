// Package processor resolves a job to its result: cache lookup, handler
// dispatch on miss, cache write on success.
package processor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/aceteam-ai/aiworker/internal/cache"
	"github.com/aceteam-ai/aiworker/internal/handlers"
	"github.com/aceteam-ai/aiworker/internal/metrics"
	"github.com/aceteam-ai/aiworker/internal/tracing"
	"github.com/aceteam-ai/aiworker/internal/worker"
)

// Processor dispatches jobs to handlers through the result cache.
type Processor struct {
	handlers map[string]handlers.Handler
	cache    *cache.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates a Processor. cache and m may be nil, which disables caching or
// metrics respectively.
func New(hs map[string]handlers.Handler, c *cache.Manager, m *metrics.Metrics, logger zerolog.Logger) *Processor {
	return &Processor{handlers: hs, cache: c, metrics: m, logger: logger}
}

// Process runs job and returns its result. Failures are returned unchanged in
// kind: ErrUnknownJobType, or a *HandlerError wrapping the handler's cause.
// Failed jobs are never cached.
func (p *Processor) Process(ctx context.Context, job *worker.Job) (_ *worker.JobResult, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "job.process",
		attribute.String("job.id", job.ID),
		attribute.String("job.type", job.Type),
	)
	defer func() { tracing.EndSpan(span, err) }()

	handler, ok := p.handlers[job.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, job.Type)
	}

	logger := p.logger.With().Str("job_id", job.ID).Str("job_type", job.Type).Logger()
	ctx = logger.WithContext(ctx)

	keyInput, cacheable := p.keyInput(&logger, handler, job)
	if output, hit := p.lookup(ctx, &logger, job.Type, keyInput, cacheable); hit {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		p.metrics.CacheHit(job.Type)
		logger.Debug().Msg("served from cache")
		return &worker.JobResult{
			Status:   worker.JobStatusSuccess,
			Output:   output,
			CacheHit: true,
			Duration: time.Since(start),
		}, nil
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	output, err := handler.Process(ctx, job.Input)
	if err != nil {
		return nil, &HandlerError{JobType: job.Type, Err: err}
	}

	p.store(ctx, &logger, job.Type, keyInput, cacheable, output)
	p.metrics.CacheMiss(job.Type)

	return &worker.JobResult{
		Status:   worker.JobStatusSuccess,
		Output:   map[string]any(output),
		Duration: time.Since(start),
	}, nil
}

// keyInput returns the input the cache key is derived from. Input the handler
// cannot decode is not cached; the handler reports the error itself.
func (p *Processor) keyInput(logger *zerolog.Logger, h handlers.Handler, job *worker.Job) (map[string]any, bool) {
	keyer, ok := h.(handlers.CacheKeyer)
	if !ok {
		return job.Input, true
	}
	in, err := keyer.CacheInput(job.Input)
	if err != nil {
		logger.Debug().Err(err).Msg("input not cacheable")
		return nil, false
	}
	return in, true
}

// lookup degrades every cache problem to a miss.
func (p *Processor) lookup(ctx context.Context, logger *zerolog.Logger, jobType string, input map[string]any, cacheable bool) (map[string]any, bool) {
	if p.cache == nil || !cacheable {
		return nil, false
	}
	entry, ok, err := p.cache.Get(ctx, jobType, input)
	if err != nil {
		logger.Warn().Err(err).Msg("cache lookup failed, treating as miss")
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var output map[string]any
	if err := json.Unmarshal(entry.Value, &output); err != nil {
		logger.Warn().Err(err).Str("cache_key", entry.Key).Msg("cached value is corrupt, treating as miss")
		return nil, false
	}
	return output, true
}

func (p *Processor) store(ctx context.Context, logger *zerolog.Logger, jobType string, input map[string]any, cacheable bool, output handlers.Result) {
	if p.cache == nil || !cacheable {
		return
	}
	if err := p.cache.Set(ctx, jobType, input, output); err != nil {
		logger.Warn().Err(err).Msg("cache write failed, result not stored")
	}
}
