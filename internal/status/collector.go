package status

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Collector gathers the detailed health view.
type Collector struct {
	config    CollectorConfig
	startTime time.Time
	models    *ModelDiscovery
}

// CollectorConfig holds configuration for the status collector.
type CollectorConfig struct {
	WorkerID     string
	Version      string
	Concurrency  int
	QueueBackend string
	CacheBackend string

	// Providers maps provider name to whether it is configured
	Providers map[string]bool

	// ActiveJobs reports the number of running jobs. May be nil.
	ActiveJobs func() int

	// LocalLLMURL enables the Ollama model probe when set
	LocalLLMURL string

	// SkipSystem disables host sampling (tests)
	SkipSystem bool
}

// NewCollector creates a new status collector.
func NewCollector(cfg CollectorConfig) *Collector {
	return &Collector{
		config:    cfg,
		startTime: time.Now(),
		models:    NewModelDiscovery(),
	}
}

// Health returns the minimal liveness response.
func (c *Collector) Health() HealthResponse {
	uptime := time.Since(c.startTime)
	return HealthResponse{
		Status:        HealthStatusHealthy,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
	}
}

// Collect gathers the detailed health view.
func (c *Collector) Collect(ctx context.Context) *DetailedHealth {
	d := &DetailedHealth{
		HealthResponse: c.Health(),
		Version:        c.config.Version,
		Worker: WorkerInfo{
			ID:           c.config.WorkerID,
			Concurrency:  c.config.Concurrency,
			QueueBackend: c.config.QueueBackend,
			CacheBackend: c.config.CacheBackend,
		},
		Providers: make(map[string]bool, len(c.config.Providers)),
	}
	for name, ok := range c.config.Providers {
		d.Providers[name] = ok
	}
	if c.config.ActiveJobs != nil {
		d.Worker.ActiveJobs = c.config.ActiveJobs()
	}

	if !c.config.SkipSystem {
		d.System = c.collectSystemMetrics()
		if info, err := host.InfoWithContext(ctx); err == nil {
			d.Worker.Hostname = info.Hostname
		}
	}

	if c.config.LocalLLMURL != "" {
		d.LocalModels = c.models.Probe(ctx, c.config.LocalLLMURL)
		if d.LocalModels.Health != HealthStatusHealthy {
			d.Status = HealthStatusDegraded
		}
	}
	return d
}

// collectSystemMetrics gathers CPU, memory, and disk utilization.
func (c *Collector) collectSystemMetrics() SystemMetrics {
	var metrics SystemMetrics

	if v, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryUsedGB = float64(v.Used) / (1024 * 1024 * 1024)
		metrics.MemoryTotalGB = float64(v.Total) / (1024 * 1024 * 1024)
		metrics.MemoryPercent = v.UsedPercent
	}

	if percentages, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percentages) > 0 {
		metrics.CPUPercent = percentages[0]
	}

	if d, err := disk.Usage("/"); err == nil {
		metrics.DiskUsedGB = float64(d.Used) / (1024 * 1024 * 1024)
		metrics.DiskTotalGB = float64(d.Total) / (1024 * 1024 * 1024)
		metrics.DiskPercent = d.UsedPercent
	}

	return metrics
}
