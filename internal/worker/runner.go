package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/logging"
	"github.com/aceteam-ai/aiworker/internal/metrics"
	"github.com/aceteam-ai/aiworker/internal/usage"
)

// Error kinds assigned by the runner itself.
const (
	ErrorKindPanic    = "panic"
	ErrorKindDeadline = "deadline_exceeded"
	ErrorKindUnknown  = "handler_error"
)

const (
	defaultConcurrency = 5
	defaultJobTimeout  = 120 * time.Second
	settleTimeout      = 10 * time.Second
	defaultDepthEvery  = 5 * time.Second
	maxErrorMessage    = 1024
)

// Runner claims jobs from a source and runs them on a bounded pool.
type Runner struct {
	source    JobSource
	processor Processor
	config    RunnerConfig
	logger    zerolog.Logger
	slots     *SlotPool
	inflight  sync.WaitGroup

	// Optional integrations (set via WithXxx methods)
	streamWriterFactory func(job *Job) StreamWriter
	jobRecordFn         func(record usage.UsageRecord)
}

// RunnerConfig holds configuration for the runner.
type RunnerConfig struct {
	// WorkerID identifies this worker instance
	WorkerID string

	// Concurrency is the number of jobs run at once (default 5)
	Concurrency int

	// JobTimeout bounds each job, provider calls included (default 120s)
	JobTimeout time.Duration

	Logger zerolog.Logger

	// Metrics may be nil
	Metrics *metrics.Metrics

	// DepthInterval is how often the queue depth is sampled (default 5s)
	DepthInterval time.Duration

	// ClassifyFn maps a processing error to its kind and whether a
	// redelivery can help. Nil treats every error as a retryable handler_error.
	ClassifyFn func(err error) (kind string, retryable bool)

	// JobRecordFn is called when a job attempt finishes (for usage tracking)
	JobRecordFn func(record usage.UsageRecord)

	// HandleSignals stops the runner on SIGINT/SIGTERM
	HandleSignals bool
}

// NewRunner creates a new job runner.
func NewRunner(source JobSource, processor Processor, config RunnerConfig) *Runner {
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = defaultJobTimeout
	}
	if config.DepthInterval <= 0 {
		config.DepthInterval = defaultDepthEvery
	}
	return &Runner{
		source:      source,
		processor:   processor,
		config:      config,
		logger:      config.Logger.With().Str("component", "runner").Logger(),
		slots:       NewSlotPool(config.Concurrency),
		jobRecordFn: config.JobRecordFn,
	}
}

func (r *Runner) log(level, format string, args ...any) {
	logging.Logf(r.logger, level, format, args...)
}

// recordJob records a job attempt for usage tracking
func (r *Runner) recordJob(record usage.UsageRecord) {
	if r.jobRecordFn != nil {
		r.jobRecordFn(record)
	}
}

// WithStreamWriterFactory sets a factory for creating stream writers.
// If not set, a NoOpStreamWriter is used.
func (r *Runner) WithStreamWriterFactory(factory func(job *Job) StreamWriter) *Runner {
	r.streamWriterFactory = factory
	return r
}

// Capacity returns the number of jobs the runner runs at once.
func (r *Runner) Capacity() int {
	return r.slots.Total()
}

// ActiveJobs returns the number of jobs currently running.
func (r *Runner) ActiveJobs() int {
	return r.slots.InUse()
}

// Run starts the job processing loop. It blocks until the context is
// cancelled (or a signal is received), then waits for in-flight jobs.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.config.HandleSignals {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigs)
		go func() {
			select {
			case sig := <-sigs:
				r.log("info", "Received signal %v, shutting down...", sig)
				cancel()
			case <-ctx.Done():
			}
		}()
	}

	r.log("info", "Starting worker (%s)", r.source.Name())
	if err := r.source.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", r.source.Name(), err)
	}
	defer r.source.Close()

	sampler := make(chan struct{})
	go func() {
		defer close(sampler)
		r.watchQueueDepth(ctx)
	}()

	r.logger.Info().Str("worker_id", r.config.WorkerID).Int("concurrency", r.slots.Total()).
		Dur("job_timeout", r.config.JobTimeout).Msg("worker started, listening for jobs")

	// Fetch errors back off exponentially up to 30s
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()

	for ctx.Err() == nil {
		// Reserve one slot first so a full pool waits here instead of polling.
		if !r.slots.Acquire(ctx) {
			break
		}
		free := 1 + r.slots.Available()

		jobs, err := r.source.Claim(ctx, free)
		if err != nil {
			r.slots.Release()
			if ctx.Err() != nil {
				break
			}
			wait := bo.NextBackOff()
			r.log("warning", "Error fetching jobs: %v (retry in %s)", err, wait)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
			}
			continue
		}
		bo.Reset()

		if len(jobs) == 0 {
			r.slots.Release()
			continue
		}

		for i, job := range jobs {
			if i > 0 {
				// Sources return at most free jobs, so this only waits if one misbehaves.
				r.slots.Acquire(context.WithoutCancel(ctx))
			}
			r.dispatch(ctx, job)
		}
	}

	cancel()
	<-sampler

	if n := r.slots.InUse(); n > 0 {
		r.log("info", "Waiting for %d in-flight jobs to finish", n)
	}
	r.inflight.Wait()
	r.log("info", "Worker shutdown complete")
	return nil
}

// watchQueueDepth samples the source's backlog on its own ticker, so the
// gauge keeps moving while every slot is busy.
func (r *Runner) watchQueueDepth(ctx context.Context) {
	if r.config.Metrics == nil {
		return
	}
	ticker := time.NewTicker(r.config.DepthInterval)
	defer ticker.Stop()
	for {
		r.sampleQueueDepth(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sampleQueueDepth records the source's backlog into the queue-size gauge.
func (r *Runner) sampleQueueDepth(ctx context.Context) {
	depth, err := r.source.Depth(ctx)
	if err != nil {
		r.logger.Debug().Err(err).Msg("queue depth unavailable")
		return
	}
	r.config.Metrics.SetQueueSize(depth)
}

// dispatch starts job on its own goroutine. The caller holds a slot for it.
func (r *Runner) dispatch(ctx context.Context, job *Job) {
	r.config.Metrics.JobStarted()
	r.inflight.Add(1)
	go r.runJob(ctx, job)
}

// runJob processes one job and settles it with the source. Every exit path
// releases the slot and the active-job gauge.
func (r *Runner) runJob(ctx context.Context, job *Job) {
	startTime := time.Now()
	status := JobStatusFailure
	defer r.inflight.Done()
	defer r.slots.Release()
	defer func() {
		r.config.Metrics.JobFinished(job.Type, string(status), time.Since(startTime).Seconds())
	}()

	logger := r.logger.With().Str("job_id", job.ID).Str("job_type", job.Type).
		Int("attempt", job.Metadata.Attempts).Logger()
	logger.Info().Str("source", job.Source).Msg("received job")

	// In-flight jobs outlive a shutdown signal but never their own deadline.
	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.config.JobTimeout)
	defer cancel()

	var stream StreamWriter = &NoOpStreamWriter{}
	if r.streamWriterFactory != nil {
		stream = r.streamWriterFactory(job)
	}
	if err := stream.WriteStart("Job processing started"); err != nil {
		logger.Debug().Err(err).Msg("stream start event failed")
	}

	result := r.execute(jobCtx, job)
	endTime := time.Now()
	result.Duration = endTime.Sub(startTime)
	status = result.Status

	settleCtx, settleCancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer settleCancel()

	if status == JobStatusSuccess {
		logger.Info().Dur("duration", result.Duration).Bool("cache_hit", result.CacheHit).Msg("job completed")
		if err := stream.WriteEnd(result.Output); err != nil {
			logger.Debug().Err(err).Msg("stream end event failed")
		}
		if err := r.source.Ack(settleCtx, job, result); err != nil {
			logger.Error().Err(err).Msg("failed to ack job")
		}
		r.recordJob(buildUsageRecord(r.config.WorkerID, job, result, startTime, endTime))
		return
	}

	r.config.Metrics.RecordError(result.ErrorKind)
	logger.Error().Err(result.Error).Str("error_kind", result.ErrorKind).Bool("retryable", result.Retryable()).
		Dur("duration", result.Duration).Msg("job failed")
	if err := stream.WriteError(result.Error, result.Retryable()); err != nil {
		logger.Debug().Err(err).Msg("stream error event failed")
	}
	if err := r.source.Nack(settleCtx, job, result); err != nil {
		logger.Error().Err(err).Msg("failed to nack job")
	}
	r.recordJob(buildUsageRecord(r.config.WorkerID, job, result, startTime, endTime))
}

// execute runs the processor, converting errors and panics into a failed
// result. It never returns nil.
func (r *Runner) execute(ctx context.Context, job *Job) (result *JobResult) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error().Str("job_id", job.ID).Str("stack", string(debug.Stack())).
				Msgf("handler panicked: %v", p)
			result = &JobResult{
				Status:    JobStatusFailure,
				Error:     fmt.Errorf("panic: %v", p),
				ErrorKind: ErrorKindPanic,
			}
		}
	}()

	res, err := r.processor.Process(ctx, job)
	if err == nil && res != nil && res.Status != "" && res.Status != JobStatusSuccess {
		err = res.Error
		if err == nil {
			err = errors.New("job reported failure")
		}
	}
	if err != nil {
		return r.failure(ctx, err)
	}
	if res == nil {
		res = &JobResult{}
	}
	res.Status = JobStatusSuccess
	return res
}

func (r *Runner) failure(ctx context.Context, err error) *JobResult {
	kind, retryable := ErrorKindUnknown, true
	if r.config.ClassifyFn != nil {
		kind, retryable = r.config.ClassifyFn(err)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		kind, retryable = ErrorKindDeadline, true
	}

	res := &JobResult{Status: JobStatusFailure, Error: err, ErrorKind: kind}
	if retryable {
		res.Status = JobStatusRetry
	}
	return res
}

// buildUsageRecord constructs a UsageRecord from a finished attempt.
func buildUsageRecord(workerID string, job *Job, result *JobResult, started, completed time.Time) usage.UsageRecord {
	rec := usage.UsageRecord{
		JobID:       job.ID,
		JobType:     job.Type,
		Owner:       job.Owner,
		Source:      job.Source,
		Attempt:     job.Metadata.Attempts,
		Status:      string(result.Status),
		ErrorKind:   result.ErrorKind,
		CacheHit:    result.CacheHit,
		StartedAt:   started,
		CompletedAt: completed,
		DurationMs:  completed.Sub(started).Milliseconds(),
		WorkerID:    workerID,
	}
	if p, ok := result.Output["provider"].(string); ok {
		rec.Provider = p
	}
	if result.Error != nil {
		msg := result.Error.Error()
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
		rec.ErrorMessage = msg
	}
	return rec
}
