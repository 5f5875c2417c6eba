package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ProviderLocalLLM is the provider label for the self-hosted model.
const ProviderLocalLLM = "local_llm"

// LocalReply is the local model's answer.
type LocalReply struct {
	Response string
	Model    string
	Done     bool
}

// LocalChatter is the local LLM capability.
type LocalChatter interface {
	Chat(ctx context.Context, message, convContext string) (*LocalReply, error)
}

// LocalLLMConfig configures a LocalLLMClient.
type LocalLLMConfig struct {
	URL     string
	Model   string
	Timeout time.Duration // default 30s
}

// LocalLLMClient talks to an Ollama server. It makes exactly one attempt per
// call so callers running a fallback chain do not pay for retries.
type LocalLLMClient struct {
	config   LocalLLMConfig
	http     *http.Client
	logger   zerolog.Logger
	recorder AttemptRecorder
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
	Done     bool   `json:"done"`
	Error    string `json:"error"`
}

// NewLocalLLMClient creates an Ollama client. recorder may be nil.
func NewLocalLLMClient(cfg LocalLLMConfig, logger zerolog.Logger, recorder AttemptRecorder) *LocalLLMClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &LocalLLMClient{
		config:   cfg,
		http:     &http.Client{},
		logger:   logger.With().Str("provider", ProviderLocalLLM).Logger(),
		recorder: recorder,
	}
}

// Chat sends message with convContext as the system prompt.
func (c *LocalLLMClient) Chat(ctx context.Context, message, convContext string) (*LocalReply, error) {
	if c.config.URL == "" {
		return nil, unavailable(ProviderLocalLLM, 0, fmt.Errorf("local llm url not configured"))
	}

	reply, err := c.generate(ctx, message, convContext)
	if err != nil {
		c.recorder.ProviderAttempt(ProviderLocalLLM, "failure")
		c.logger.Warn().Err(err).Msg("local llm call failed")
		return nil, err
	}
	c.recorder.ProviderAttempt(ProviderLocalLLM, "success")
	return reply, nil
}

func (c *LocalLLMClient) generate(ctx context.Context, message, system string) (*LocalReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := postJSON(ctx, c.http, joinURL(c.config.URL, "/api/generate"), nil, ollamaRequest{
		Model:  c.config.Model,
		Prompt: message,
		System: system,
		Stream: false,
	})
	if err != nil {
		return nil, unavailable(ProviderLocalLLM, 1, err)
	}

	var resp ollamaResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, malformed(ProviderLocalLLM, 1, fmt.Errorf("decode ollama response: %w", err))
	}
	if resp.Error != "" {
		return nil, unavailable(ProviderLocalLLM, 1, fmt.Errorf("ollama error: %s", resp.Error))
	}
	if resp.Response == "" {
		return nil, malformed(ProviderLocalLLM, 1, fmt.Errorf("ollama returned an empty response"))
	}
	return &LocalReply{Response: resp.Response, Model: resp.Model, Done: resp.Done}, nil
}
