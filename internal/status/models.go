package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ModelDiscovery probes an Ollama server for its loaded models.
type ModelDiscovery struct {
	httpClient *http.Client
}

// NewModelDiscovery creates a new model discovery instance.
func NewModelDiscovery() *ModelDiscovery {
	return &ModelDiscovery{
		httpClient: &http.Client{
			Timeout: 3 * time.Second,
		},
	}
}

// Probe checks the server at baseURL and lists its models. Failures are
// reported in the result, never as an error, so a down local LLM only
// degrades the detailed health view.
func (m *ModelDiscovery) Probe(ctx context.Context, baseURL string) *LocalModels {
	models, err := m.DiscoverModels(ctx, baseURL)
	if err != nil {
		return &LocalModels{Health: HealthStatusUnhealthy, Error: err.Error()}
	}
	return &LocalModels{Health: HealthStatusHealthy, Models: models}
}

// DiscoverModels queries Ollama's GET /api/tags.
func (m *ModelDiscovery) DiscoverModels(ctx context.Context, baseURL string) ([]string, error) {
	url := strings.TrimRight(baseURL, "/") + "/api/tags"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to query Ollama models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("Ollama returned status %d", resp.StatusCode)
	}

	// { "models": [{ "name": "llama3.2:3b", "size": 123456 }] }
	var ollamaResp struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	models := make([]string, 0, len(ollamaResp.Models))
	for _, model := range ollamaResp.Models {
		models = append(models, model.Name)
	}
	return models, nil
}
