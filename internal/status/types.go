// Package status serves the worker's liveness, detailed health and
// Prometheus metrics over HTTP.
//
// Endpoints:
//   - GET /health           minimal liveness with uptime
//   - GET /health/detailed  worker, provider and host details
//   - GET /metrics          Prometheus text format
package status

// HealthResponse is the response for the /health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// DetailedHealth is the response for the /health/detailed endpoint. It never
// carries secret values, only whether each provider is configured.
type DetailedHealth struct {
	HealthResponse
	Version     string          `json:"version,omitempty"`
	Worker      WorkerInfo      `json:"worker"`
	Providers   map[string]bool `json:"providers"`
	System      SystemMetrics   `json:"system"`
	LocalModels *LocalModels    `json:"local_models,omitempty"`
}

// WorkerInfo describes the job loop.
type WorkerInfo struct {
	ID           string `json:"id"`
	Hostname     string `json:"hostname,omitempty"`
	Concurrency  int    `json:"concurrency"`
	ActiveJobs   int    `json:"active_jobs"`
	QueueBackend string `json:"queue_backend"`
	CacheBackend string `json:"cache_backend"`
}

// SystemMetrics contains host resource utilization.
type SystemMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskUsedGB    float64 `json:"disk_used_gb"`
	DiskTotalGB   float64 `json:"disk_total_gb"`
	DiskPercent   float64 `json:"disk_percent"`
}

// LocalModels reports what the local LLM server has loaded.
type LocalModels struct {
	Health string   `json:"health"`
	Models []string `json:"models,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// HealthStatus constants for health checks.
const (
	HealthStatusHealthy   = "healthy"
	HealthStatusDegraded  = "degraded"
	HealthStatusUnhealthy = "unhealthy"
)
