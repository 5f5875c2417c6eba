package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ProviderCloudLLM is the provider label for the cloud gateway.
const ProviderCloudLLM = "cloud_llm"

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CloudLLM is the cloud reasoning/vision capability. Responses are free text
// that may or may not contain JSON; callers parse defensively.
type CloudLLM interface {
	Chat(ctx context.Context, messages []Message) (string, error)
	Analyze(ctx context.Context, prompt, imageURL string) (string, error)
}

// CloudLLMConfig configures a CloudLLMClient.
type CloudLLMConfig struct {
	URL         string // base URL; /chat/completions is appended
	APIKey      string
	Model       string
	VisionModel string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
	RateLimit   float64 // requests per second, 0 = unlimited
}

// CloudLLMClient calls an OpenAI-compatible chat completions endpoint.
type CloudLLMClient struct {
	config   CloudLLMConfig
	http     *http.Client
	limiter  *rate.Limiter
	logger   zerolog.Logger
	recorder AttemptRecorder
}

type chatCompletionRequest struct {
	Model       string  `json:"model"`
	Messages    []any   `json:"messages"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Stream      bool    `json:"stream"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageRef `json:"image_url,omitempty"`
}

type imageRef struct {
	URL string `json:"url"`
}

type multimodalMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewCloudLLMClient creates a cloud LLM client. recorder may be nil.
func NewCloudLLMClient(cfg CloudLLMConfig, logger zerolog.Logger, recorder AttemptRecorder) *CloudLLMClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = cfg.Model
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	c := &CloudLLMClient{
		config:   cfg,
		http:     &http.Client{},
		logger:   logger.With().Str("provider", ProviderCloudLLM).Logger(),
		recorder: recorder,
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return c
}

// Chat sends a text conversation and returns the assistant content.
func (c *CloudLLMClient) Chat(ctx context.Context, messages []Message) (string, error) {
	msgs := make([]any, len(messages))
	for i, m := range messages {
		msgs[i] = m
	}
	return c.complete(ctx, c.config.Model, msgs)
}

// Analyze sends prompt together with the image at imageURL.
func (c *CloudLLMClient) Analyze(ctx context.Context, prompt, imageURL string) (string, error) {
	msg := multimodalMessage{
		Role: "user",
		Content: []contentPart{
			{Type: "text", Text: prompt},
			{Type: "image_url", ImageURL: &imageRef{URL: imageURL}},
		},
	}
	return c.complete(ctx, c.config.VisionModel, []any{msg})
}

func (c *CloudLLMClient) complete(ctx context.Context, model string, messages []any) (string, error) {
	start := time.Now()
	content, err := c.do(ctx, model, messages)
	if err != nil {
		c.recorder.ProviderAttempt(ProviderCloudLLM, "failure")
		c.logger.Warn().Str("model", model).Dur("elapsed", time.Since(start)).Err(err).Msg("cloud llm call failed")
		return "", err
	}
	c.recorder.ProviderAttempt(ProviderCloudLLM, "success")
	c.logger.Debug().Str("model", model).Dur("elapsed", time.Since(start)).Int("chars", len(content)).Msg("cloud llm call succeeded")
	return content, nil
}

func (c *CloudLLMClient) do(ctx context.Context, model string, messages []any) (string, error) {
	if c.config.URL == "" {
		return "", unavailable(ProviderCloudLLM, 0, fmt.Errorf("cloud llm url not configured"))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", unavailable(ProviderCloudLLM, 0, fmt.Errorf("rate limit wait: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	headers := map[string]string{}
	if c.config.APIKey != "" {
		headers["Authorization"] = "Bearer " + c.config.APIKey
	}

	body, err := postJSON(ctx, c.http, joinURL(c.config.URL, "/chat/completions"), headers, chatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      false,
	})
	if err != nil {
		return "", unavailable(ProviderCloudLLM, 1, err)
	}

	var resp chatCompletionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", malformed(ProviderCloudLLM, 1, fmt.Errorf("decode chat completion: %w", err))
	}
	if len(resp.Choices) == 0 {
		return "", malformed(ProviderCloudLLM, 1, fmt.Errorf("chat completion has no choices"))
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", malformed(ProviderCloudLLM, 1, fmt.Errorf("chat completion content is empty"))
	}
	return content, nil
}
