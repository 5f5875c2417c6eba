// Package config loads worker configuration from a YAML file, the environment
// and (in cmd/) command-line flags, in that order of precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete worker configuration.
type Config struct {
	WorkerID    string        `yaml:"worker_id"`
	Concurrency int           `yaml:"concurrency"`
	JobTimeout  time.Duration `yaml:"job_timeout"`

	Queue     QueueConfig     `yaml:"queue"`
	Cache     CacheConfig     `yaml:"cache"`
	Providers ProvidersConfig `yaml:"providers"`
	Status    StatusConfig    `yaml:"status"`
	Usage     UsageConfig     `yaml:"usage"`
	Log       LogConfig       `yaml:"log"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// QueueConfig selects and configures the job source.
type QueueConfig struct {
	Backend string `yaml:"backend"` // "redis" or "sqs"

	RedisURL      string        `yaml:"redis_url"`
	RedisPassword string        `yaml:"redis_password"`
	Stream        string        `yaml:"stream"`
	ConsumerGroup string        `yaml:"consumer_group"`
	BlockMs       int           `yaml:"block_ms"`
	MaxAttempts   int           `yaml:"max_attempts"`
	ClaimIdle     time.Duration `yaml:"claim_idle"`

	SQSQueueURL       string `yaml:"sqs_queue_url"`
	SQSResultQueueURL string `yaml:"sqs_result_queue_url"`
	SQSRegion         string `yaml:"sqs_region"`
}

// CacheConfig selects the cache store. TTL 0 means entries never expire.
type CacheConfig struct {
	Backend    string        `yaml:"backend"` // "memory", "redis" or "sqlite"
	TTL        time.Duration `yaml:"ttl"`
	RedisURL   string        `yaml:"redis_url"`
	SQLitePath string        `yaml:"sqlite_path"`
}

// ProvidersConfig configures the external AI services.
type ProvidersConfig struct {
	Detection DetectionConfig `yaml:"detection"`
	LocalLLM  LocalLLMConfig  `yaml:"local_llm"`
	CloudLLM  CloudLLMConfig  `yaml:"cloud_llm"`
}

type DetectionConfig struct {
	URL           string        `yaml:"url"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	Confidence    float64       `yaml:"confidence"`
	MaxDetections int           `yaml:"max_detections"`
}

type LocalLLMConfig struct {
	URL     string        `yaml:"url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

type CloudLLMConfig struct {
	URL         string        `yaml:"url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	VisionModel string        `yaml:"vision_model"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	RateLimit   float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
}

// StatusConfig configures the health/metrics HTTP server.
type StatusConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`

	// HeartbeatInterval publishes worker health to Redis (redis queue only).
	// 0 disables heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// UsageConfig configures the SQLite job usage ledger. Empty path disables it.
type UsageConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

type TracingConfig struct {
	Exporter string `yaml:"exporter"` // "", "none", "stdout", "otlphttp"
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		Concurrency: 5,
		JobTimeout:  120 * time.Second,
		Queue: QueueConfig{
			Backend:       "redis",
			Stream:        "jobs:v1:ai-analysis",
			ConsumerGroup: "aiworker",
			BlockMs:       5000,
			MaxAttempts:   3,
			ClaimIdle:     5 * time.Minute,
			SQSRegion:     "us-east-1",
		},
		Cache: CacheConfig{
			Backend:    "redis",
			SQLitePath: "aiworker-cache.db",
		},
		Providers: ProvidersConfig{
			Detection: DetectionConfig{
				Timeout:       10 * time.Second,
				MaxAttempts:   3,
				BaseDelay:     time.Second,
				Confidence:    0.35,
				MaxDetections: 100,
			},
			LocalLLM: LocalLLMConfig{
				URL:     "http://localhost:11434",
				Model:   "llama3.2:3b",
				Timeout: 30 * time.Second,
			},
			CloudLLM: CloudLLMConfig{
				Model:       "google/gemini-2.5-flash",
				VisionModel: "google/gemini-2.5-flash",
				Timeout:     90 * time.Second,
				MaxTokens:   2048,
				Temperature: 0.7,
			},
		},
		Status: StatusConfig{Enabled: true, Port: 8080, HeartbeatInterval: 30 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads the YAML file at path (if non-empty) over the defaults and then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables.
func (c *Config) ApplyEnv() {
	c.WorkerID = getEnvOrDefault("AIWORKER_ID", c.WorkerID)
	c.Concurrency = getEnvInt("AIWORKER_CONCURRENCY", c.Concurrency)
	c.JobTimeout = getEnvDuration("AIWORKER_JOB_TIMEOUT", c.JobTimeout)

	c.Queue.Backend = getEnvOrDefault("AIWORKER_QUEUE_BACKEND", c.Queue.Backend)
	c.Queue.RedisURL = getEnvOrDefault("REDIS_URL", c.Queue.RedisURL)
	c.Queue.RedisPassword = getEnvOrDefault("REDIS_PASSWORD", c.Queue.RedisPassword)
	c.Queue.Stream = getEnvOrDefault("WORKER_QUEUE", c.Queue.Stream)
	c.Queue.ConsumerGroup = getEnvOrDefault("CONSUMER_GROUP", c.Queue.ConsumerGroup)
	c.Queue.MaxAttempts = getEnvInt("AIWORKER_MAX_ATTEMPTS", c.Queue.MaxAttempts)
	c.Queue.SQSQueueURL = getEnvOrDefault("SQS_QUEUE_URL", c.Queue.SQSQueueURL)
	c.Queue.SQSResultQueueURL = getEnvOrDefault("SQS_RESULT_QUEUE_URL", c.Queue.SQSResultQueueURL)
	c.Queue.SQSRegion = getEnvOrDefault("AWS_REGION", c.Queue.SQSRegion)

	c.Cache.Backend = getEnvOrDefault("AIWORKER_CACHE_BACKEND", c.Cache.Backend)
	c.Cache.TTL = getEnvDuration("AIWORKER_CACHE_TTL", c.Cache.TTL)
	c.Cache.RedisURL = getEnvOrDefault("AIWORKER_CACHE_REDIS_URL", c.Cache.RedisURL)
	c.Cache.SQLitePath = getEnvOrDefault("AIWORKER_CACHE_SQLITE_PATH", c.Cache.SQLitePath)

	c.Providers.Detection.URL = getEnvOrDefault("DETECTION_URL", c.Providers.Detection.URL)
	c.Providers.LocalLLM.URL = getEnvOrDefault("OLLAMA_URL", c.Providers.LocalLLM.URL)
	c.Providers.LocalLLM.Model = getEnvOrDefault("OLLAMA_MODEL", c.Providers.LocalLLM.Model)
	c.Providers.CloudLLM.URL = getEnvOrDefault("CLOUD_LLM_URL", c.Providers.CloudLLM.URL)
	c.Providers.CloudLLM.APIKey = getEnvOrDefault("CLOUD_LLM_API_KEY", c.Providers.CloudLLM.APIKey)
	c.Providers.CloudLLM.Model = getEnvOrDefault("CLOUD_LLM_MODEL", c.Providers.CloudLLM.Model)

	c.Status.Port = getEnvInt("AIWORKER_STATUS_PORT", c.Status.Port)
	c.Status.HeartbeatInterval = getEnvDuration("AIWORKER_HEARTBEAT_INTERVAL", c.Status.HeartbeatInterval)
	c.Usage.Path = getEnvOrDefault("AIWORKER_USAGE_DB", c.Usage.Path)
	c.Log.Level = getEnvOrDefault("AIWORKER_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("AIWORKER_LOG_FORMAT", c.Log.Format)
	c.Tracing.Exporter = getEnvOrDefault("AIWORKER_OTEL_EXPORTER", c.Tracing.Exporter)
	c.Tracing.Endpoint = getEnvOrDefault("AIWORKER_OTEL_ENDPOINT", c.Tracing.Endpoint)
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive, got %d", c.Concurrency)
	}
	if c.JobTimeout < 0 {
		return fmt.Errorf("job_timeout must not be negative")
	}

	switch c.Queue.Backend {
	case "redis":
		if c.Queue.RedisURL == "" {
			return fmt.Errorf("queue.redis_url is required for the redis backend (or set REDIS_URL)")
		}
	case "sqs":
		if c.Queue.SQSQueueURL == "" {
			return fmt.Errorf("queue.sqs_queue_url is required for the sqs backend (or set SQS_QUEUE_URL)")
		}
	default:
		return fmt.Errorf("unknown queue backend %q (want redis or sqs)", c.Queue.Backend)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.CacheRedisURL() == "" {
			return fmt.Errorf("cache.redis_url is required for the redis cache backend")
		}
	case "sqlite":
		if c.Cache.SQLitePath == "" {
			return fmt.Errorf("cache.sqlite_path is required for the sqlite cache backend")
		}
	default:
		return fmt.Errorf("unknown cache backend %q (want memory, redis or sqlite)", c.Cache.Backend)
	}

	if c.Providers.CloudLLM.URL == "" {
		return fmt.Errorf("providers.cloud_llm.url is required (or set CLOUD_LLM_URL)")
	}
	if c.Providers.Detection.MaxAttempts <= 0 {
		return fmt.Errorf("providers.detection.max_attempts must be positive")
	}
	return nil
}

// CacheRedisURL falls back to the queue's Redis when the cache has none of its own.
func (c *Config) CacheRedisURL() string {
	if c.Cache.RedisURL != "" {
		return c.Cache.RedisURL
	}
	return c.Queue.RedisURL
}

// ProviderPresence reports which providers are configured, never their secrets.
func (c *Config) ProviderPresence() map[string]bool {
	return map[string]bool{
		"detection":         c.Providers.Detection.URL != "",
		"local_llm":         c.Providers.LocalLLM.URL != "",
		"cloud_llm":         c.Providers.CloudLLM.URL != "",
		"cloud_llm_api_key": c.Providers.CloudLLM.APIKey != "",
	}
}

// getEnvOrDefault returns the value of an environment variable or a default value
func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultValue
	}
	return d
}
