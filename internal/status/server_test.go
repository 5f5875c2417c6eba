package status

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aceteam-ai/aiworker/internal/metrics"
)

func testCollector() *Collector {
	return NewCollector(CollectorConfig{
		WorkerID:     "worker-1",
		Concurrency:  5,
		QueueBackend: "redis",
		CacheBackend: "memory",
		Providers: map[string]bool{
			"detection":         true,
			"cloud_llm":         true,
			"cloud_llm_api_key": true,
			"local_llm":         false,
		},
		ActiveJobs: func() int { return 2 },
		SkipSystem: true,
	})
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name     string
		config   ServerConfig
		wantPort int
	}{
		{name: "with default port", config: ServerConfig{}, wantPort: 8080},
		{name: "with custom port", config: ServerConfig{Port: 9090}, wantPort: 9090},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(tt.config, testCollector())
			if server.Port() != tt.wantPort {
				t.Errorf("Port() = %v, want %v", server.Port(), tt.wantPort)
			}
		})
	}
}

func TestServerHealthEndpoint(t *testing.T) {
	server := NewServer(ServerConfig{}, testCollector())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != HealthStatusHealthy {
		t.Errorf("Status = %q, want %q", resp.Status, HealthStatusHealthy)
	}
	if resp.Uptime == "" {
		t.Error("Uptime should be set")
	}
	if resp.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d, want >= 0", resp.UptimeSeconds)
	}
}

func TestServerDetailedEndpoint(t *testing.T) {
	server := NewServer(ServerConfig{}, testCollector())

	req := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", w.Code, http.StatusOK)
	}

	var resp DetailedHealth
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Status != HealthStatusHealthy {
		t.Errorf("Status = %q, want %q", resp.Status, HealthStatusHealthy)
	}
	if resp.Worker.ID != "worker-1" {
		t.Errorf("Worker.ID = %q, want worker-1", resp.Worker.ID)
	}
	if resp.Worker.Concurrency != 5 || resp.Worker.ActiveJobs != 2 {
		t.Errorf("Worker = %+v, want concurrency 5 and 2 active jobs", resp.Worker)
	}
	if resp.Worker.QueueBackend != "redis" || resp.Worker.CacheBackend != "memory" {
		t.Errorf("backends = %q/%q", resp.Worker.QueueBackend, resp.Worker.CacheBackend)
	}
	if !resp.Providers["cloud_llm"] || resp.Providers["local_llm"] {
		t.Errorf("Providers = %v", resp.Providers)
	}
	if resp.LocalModels != nil {
		t.Error("LocalModels should be omitted when no local llm url is set")
	}
}

func TestServerDetailedNeverLeaksSecrets(t *testing.T) {
	server := NewServer(ServerConfig{}, testCollector())

	req := httptest.NewRequest(http.MethodGet, "/health/detailed", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	body := w.Body.String()
	if !strings.Contains(body, `"cloud_llm_api_key":true`) {
		t.Errorf("expected api key presence flag in %s", body)
	}
	if strings.Contains(body, "sk-") {
		t.Errorf("body leaks a key: %s", body)
	}
}

func TestServerMethodNotAllowed(t *testing.T) {
	server := NewServer(ServerConfig{}, testCollector())

	for _, path := range []string{"/health", "/health/detailed"} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, path, nil)
			w := httptest.NewRecorder()
			server.Handler().ServeHTTP(w, req)

			if w.Code != http.StatusMethodNotAllowed {
				t.Errorf("status code = %d, want %d", w.Code, http.StatusMethodNotAllowed)
			}
		})
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	m.JobStarted()

	server := NewServer(ServerConfig{Metrics: m.Handler()}, testCollector())
	ts := httptest.NewServer(server.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "aiworker_active_jobs 1") {
		t.Errorf("metrics output missing active jobs gauge:\n%s", body)
	}
}

func TestServerWithoutMetrics(t *testing.T) {
	server := NewServer(ServerConfig{}, testCollector())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status code = %d, want %d", w.Code, http.StatusNotFound)
	}
}
