package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/aceteam-ai/aiworker/internal/config"
	"github.com/aceteam-ai/aiworker/internal/handlers"
	"github.com/aceteam-ai/aiworker/internal/heartbeat"
	"github.com/aceteam-ai/aiworker/internal/logging"
	"github.com/aceteam-ai/aiworker/internal/metrics"
	"github.com/aceteam-ai/aiworker/internal/processor"
	redisclient "github.com/aceteam-ai/aiworker/internal/redis"
	"github.com/aceteam-ai/aiworker/internal/status"
	"github.com/aceteam-ai/aiworker/internal/tracing"
	"github.com/aceteam-ai/aiworker/internal/usage"
	"github.com/aceteam-ai/aiworker/internal/worker"
)

var (
	workConcurrency  int
	workJobTimeout   time.Duration
	workQueueBackend string
	workCacheBackend string
	workStatusPort   int
	workNoStatus     bool
	workSyncInterval time.Duration
)

var workCmd = &cobra.Command{
	Use:   "work",
	Short: "Run the job worker",
	Long: `Consume jobs from Redis Streams or SQS and process them on a bounded pool.

The health and metrics server runs alongside the worker unless --no-status is
set. SIGINT or SIGTERM stops claiming new jobs; in-flight jobs finish (bounded
by their job timeout) before the process exits.

Examples:
  # Redis Streams with a Redis result cache
  REDIS_URL=redis://localhost:6379 CLOUD_LLM_URL=https://openrouter.ai/api/v1 aiworker work

  # SQS input with a local SQLite cache
  aiworker work --queue-backend=sqs --cache-backend=sqlite --concurrency=10`,
	RunE: runWork,
}

// applyWorkFlags overrides cfg with the work flags that were set explicitly.
func applyWorkFlags(cmd *cobra.Command, c *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		c.Concurrency = workConcurrency
	}
	if flags.Changed("job-timeout") {
		c.JobTimeout = workJobTimeout
	}
	if flags.Changed("queue-backend") {
		c.Queue.Backend = workQueueBackend
	}
	if flags.Changed("cache-backend") {
		c.Cache.Backend = workCacheBackend
	}
	if flags.Changed("status-port") {
		c.Status.Port = workStatusPort
	}
	if workNoStatus {
		c.Status.Enabled = false
	}
}

func runWork(cmd *cobra.Command, args []string) error {
	applyWorkFlags(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	workerID := resolveWorkerID(cfg)
	log := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}, workerID)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	shutdownTracing, err := tracing.Init(ctx, tracing.Options{
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "aiworker",
		WorkerID:    workerID,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown failed")
		}
	}()

	m := metrics.New()
	defer m.Close()

	cacheManager, err := openCache(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open %s cache: %w", cfg.Cache.Backend, err)
	}
	defer cacheManager.Close()
	log.Info().Str("backend", cfg.Cache.Backend).Dur("ttl", cacheManager.TTL()).Msg("result cache ready")

	deps := buildProviders(cfg, log, m)
	proc := processor.New(handlers.Registry(deps), cacheManager, m, log)

	source, redisSource, err := buildSource(cfg, workerID, log)
	if err != nil {
		return err
	}

	runnerCfg := worker.RunnerConfig{
		WorkerID:      workerID,
		Concurrency:   cfg.Concurrency,
		JobTimeout:    cfg.JobTimeout,
		Logger:        log,
		Metrics:       m,
		ClassifyFn:    processor.Classify,
		HandleSignals: true,
	}

	var usageStore *usage.Store
	if cfg.Usage.Path != "" {
		usageStore, err = usage.OpenStore(cfg.Usage.Path)
		if err != nil {
			return fmt.Errorf("open usage ledger: %w", err)
		}
		defer usageStore.Close()
		runnerCfg.JobRecordFn = func(record usage.UsageRecord) {
			if err := usageStore.Insert(record); err != nil {
				log.Warn().Err(err).Str("job_id", record.JobID).Msg("failed to record job usage")
			}
		}
	}

	runner := worker.NewRunner(source, proc, runnerCfg)
	if redisSource != nil {
		runner.WithStreamWriterFactory(worker.RedisStreamWriterFactory(context.WithoutCancel(ctx), redisSource))
	}

	// The runner owns shutdown: it handles the signal, drains, and only then
	// are the status server and usage syncer stopped.
	g, gctx := errgroup.WithContext(ctx)
	gctx, stopAll := context.WithCancel(gctx)
	defer stopAll()

	g.Go(func() error {
		defer stopAll()
		return runner.Run(gctx)
	})

	collector := status.NewCollector(status.CollectorConfig{
		WorkerID:     workerID,
		Version:      Version,
		Concurrency:  runner.Capacity(),
		QueueBackend: cfg.Queue.Backend,
		CacheBackend: cfg.Cache.Backend,
		Providers:    cfg.ProviderPresence(),
		ActiveJobs:   runner.ActiveJobs,
		LocalLLMURL:  cfg.Providers.LocalLLM.URL,
	})

	if cfg.Status.Enabled {
		server := status.NewServer(status.ServerConfig{Port: cfg.Status.Port, Metrics: m.Handler()}, collector)
		log.Info().Int("port", server.Port()).Msg("status server listening")
		g.Go(func() error { return server.Start(gctx) })
	}

	if cfg.Queue.Backend == "redis" && cfg.Status.HeartbeatInterval > 0 {
		pub, err := heartbeat.NewPublisher(heartbeat.PublisherConfig{
			RedisURL:      cfg.Queue.RedisURL,
			RedisPassword: cfg.Queue.RedisPassword,
			WorkerID:      workerID,
			Interval:      cfg.Status.HeartbeatInterval,
			Logger:        log,
		}, collector)
		if err != nil {
			log.Warn().Err(err).Msg("heartbeat disabled")
		} else {
			defer pub.Close()
			// A lost heartbeat connection must not stop job processing.
			g.Go(func() error {
				if err := pub.Start(gctx); err != nil {
					log.Warn().Err(err).Msg("heartbeat stopped")
				}
				return nil
			})
		}
	}

	if usageStore != nil && cfg.Queue.Backend == "redis" {
		syncer, closeSync, err := newUsageSyncer(ctx, cfg, workerID, usageStore, m, log)
		if err != nil {
			log.Warn().Err(err).Msg("usage sync disabled")
		} else {
			defer closeSync()
			g.Go(func() error { return syncer.Start(gctx) })
		}
	}

	return g.Wait()
}

// newUsageSyncer forwards the usage ledger to the Redis usage stream over a
// connection of its own, so the final flush still works after the job
// source has closed.
func newUsageSyncer(ctx context.Context, c config.Config, workerID string, store *usage.Store, m *metrics.Metrics, log zerolog.Logger) (*usage.Syncer, func(), error) {
	client := redisclient.NewClient(redisclient.ClientConfig{QueueName: c.Queue.Stream, ConsumerName: workerID})
	if err := client.Connect(ctx, c.Queue.RedisURL, c.Queue.RedisPassword); err != nil {
		return nil, nil, err
	}
	syncer := usage.NewSyncer(usage.SyncerConfig{
		Store:     store,
		PublishFn: redisUsagePublisher(client),
		Interval:  workSyncInterval,
		OnBatch: func(st usage.BatchStats) {
			for jobType, byStatus := range st.ByType {
				for status, n := range byStatus {
					m.UsageSynced(jobType, status, n)
				}
			}
		},
		Logger: log.With().Str("component", "usage_sync").Logger(),
	})
	return syncer, func() { client.Close() }, nil
}

func redisUsagePublisher(client *redisclient.Client) usage.PublishFunc {
	return func(ctx context.Context, records []usage.UsageRecord) error {
		for _, r := range records {
			if err := client.AppendUsage(ctx, r.JobID, r); err != nil {
				return err
			}
		}
		return nil
	}
}

func init() {
	rootCmd.AddCommand(workCmd)
	workCmd.Flags().IntVar(&workConcurrency, "concurrency", 0, "jobs processed at once (default from config, 5)")
	workCmd.Flags().DurationVar(&workJobTimeout, "job-timeout", 0, "deadline for one job including provider calls (default 120s)")
	workCmd.Flags().StringVar(&workQueueBackend, "queue-backend", "", "job source: redis or sqs")
	workCmd.Flags().StringVar(&workCacheBackend, "cache-backend", "", "result cache: memory, redis or sqlite")
	workCmd.Flags().IntVar(&workStatusPort, "status-port", 0, "port for /health and /metrics (default 8080)")
	workCmd.Flags().BoolVar(&workNoStatus, "no-status", false, "do not start the health and metrics server")
	workCmd.Flags().DurationVar(&workSyncInterval, "usage-sync-interval", 60*time.Second, "how often the usage ledger is forwarded to Redis")
}
