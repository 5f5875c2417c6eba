package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody bounds how much of a failed response is kept in the error.
const maxErrorBody = 512

// AttemptRecorder receives one call per provider attempt. *metrics.Metrics
// satisfies it.
type AttemptRecorder interface {
	ProviderAttempt(provider, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ProviderAttempt(string, string) {}

// postJSON sends body as JSON and returns the raw response body for 2xx
// answers. Transport failures and non-2xx statuses are returned as plain
// errors; the caller decides how to classify them.
func postJSON(ctx context.Context, client *http.Client, url string, headers map[string]string, body any) ([]byte, error) {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet := strings.TrimSpace(string(respBody))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return nil, &statusError{Status: resp.StatusCode, Body: snippet}
	}
	return respBody, nil
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + path
}
