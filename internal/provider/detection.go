package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// ProviderDetection is the provider label used in errors, logs and metrics.
const ProviderDetection = "detection"

// BoundingBox is a detection rectangle in image pixels.
type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is one labelled region.
type Detection struct {
	Label       string      `json:"label"`
	Confidence  float64     `json:"confidence"`
	BoundingBox BoundingBox `json:"bounding_box"`
}

// DetectionResult is the decoded detection service answer. Detections keep
// the order the service returned them in.
type DetectionResult struct {
	Detections     []Detection `json:"detections"`
	Count          int         `json:"count"`
	ProcessingTime float64     `json:"processing_time"`
}

// Detector is the detection capability consumed by the analysis handlers.
type Detector interface {
	Detect(ctx context.Context, imageURL string) (*DetectionResult, error)
}

// DetectionConfig configures a DetectionClient.
type DetectionConfig struct {
	URL            string
	AttemptTimeout time.Duration // per attempt, default 10s
	Retry          RetryPolicy   // default DefaultDetectionRetry
	Confidence     float64
	MaxDetections  int
}

// DetectionClient calls the object/region detection service with a bounded
// linear-backoff retry budget.
type DetectionClient struct {
	config   DetectionConfig
	http     *http.Client
	logger   zerolog.Logger
	recorder AttemptRecorder
}

type detectionRequest struct {
	ImageURL      string  `json:"image_url"`
	Confidence    float64 `json:"confidence,omitempty"`
	MaxDetections int     `json:"max_detections,omitempty"`
}

type detectionResponse struct {
	Detections []struct {
		Label      string    `json:"label"`
		Confidence float64   `json:"confidence"`
		BBox       []float64 `json:"bbox"`
	} `json:"detections"`
	Count          *int    `json:"count"`
	ProcessingTime float64 `json:"processing_time"`
}

// NewDetectionClient creates a detection client. recorder may be nil.
func NewDetectionClient(cfg DetectionConfig, logger zerolog.Logger, recorder AttemptRecorder) *DetectionClient {
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = DefaultDetectionRetry
	}
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &DetectionClient{
		config:   cfg,
		http:     &http.Client{},
		logger:   logger.With().Str("provider", ProviderDetection).Logger(),
		recorder: recorder,
	}
}

// Detect runs detection on the image at imageURL. Each attempt has its own
// timeout; ctx still bounds the whole call including the waits between
// attempts.
func (c *DetectionClient) Detect(ctx context.Context, imageURL string) (*DetectionResult, error) {
	var result *DetectionResult
	var lastErr error

	attempts, err := c.config.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		res, err := c.attempt(ctx, imageURL)
		if err != nil {
			lastErr = err
			c.recorder.ProviderAttempt(ProviderDetection, "failure")
			c.logger.Warn().Int("attempt", attempt).Int("max_attempts", c.config.Retry.MaxAttempts).
				Err(err).Msg("detection attempt failed")
			return err
		}
		c.recorder.ProviderAttempt(ProviderDetection, "success")
		c.logger.Debug().Int("attempt", attempt).Int("count", res.Count).Msg("detection attempt succeeded")
		result = res
		return nil
	}, func(attempt int, err error, wait time.Duration) {
		c.logger.Info().Int("attempt", attempt).Dur("retry_in", wait).Msg("retrying detection")
	})
	if err != nil {
		if lastErr == nil {
			lastErr = err
		}
		return nil, unavailable(ProviderDetection, attempts, lastErr)
	}
	return result, nil
}

func (c *DetectionClient) attempt(ctx context.Context, imageURL string) (*DetectionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	body, err := postJSON(ctx, c.http, joinURL(c.config.URL, "/detect"), nil, detectionRequest{
		ImageURL:      imageURL,
		Confidence:    c.config.Confidence,
		MaxDetections: c.config.MaxDetections,
	})
	if err != nil {
		return nil, err
	}

	var resp detectionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode detection response: %w", err)
	}
	return resp.toResult(), nil
}

func (r *detectionResponse) toResult() *DetectionResult {
	out := &DetectionResult{
		Detections:     make([]Detection, 0, len(r.Detections)),
		ProcessingTime: r.ProcessingTime,
	}
	for _, d := range r.Detections {
		det := Detection{Label: d.Label, Confidence: clamp01(d.Confidence)}
		if len(d.BBox) == 4 {
			det.BoundingBox = BoundingBox{X: d.BBox[0], Y: d.BBox[1], Width: d.BBox[2], Height: d.BBox[3]}
		}
		out.Detections = append(out.Detections, det)
	}
	out.Count = len(out.Detections)
	if r.Count != nil && *r.Count > out.Count {
		out.Count = *r.Count
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
