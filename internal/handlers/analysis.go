package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

// FoodItem is one food identified in a meal photo.
type FoodItem struct {
	Name     string `json:"name"`
	Quantity any    `json:"quantity,omitempty"`
	Calories number `json:"calories"`
	Protein  number `json:"protein"`
	Carbs    number `json:"carbs"`
	Fat      number `json:"fat"`
}

// Totals sums the macro nutrients of a meal.
type Totals struct {
	Calories number `json:"calories"`
	Protein  number `json:"protein"`
	Carbs    number `json:"carbs"`
	Fat      number `json:"fat"`
}

// FoodAnalysis is the structured answer expected for image_analysis.
type FoodAnalysis struct {
	Foods           []FoodItem `json:"foods"`
	Totals          Totals     `json:"totals"`
	Assessment      string     `json:"assessment"`
	Recommendations []string   `json:"recommendations"`
}

// ExamValue is one measured value on a lab report.
type ExamValue struct {
	Name           string `json:"name"`
	Value          any    `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"referenceRange,omitempty"`
	Status         string `json:"status,omitempty"`
}

// ExamAnalysis is the structured answer expected for exam_analysis.
type ExamAnalysis struct {
	Values          []ExamValue `json:"values"`
	Interpretation  string      `json:"interpretation"`
	Assessment      string      `json:"assessment"`
	Recommendations []string    `json:"recommendations"`
}

type imageInput struct {
	ImageURL string `json:"imageUrl"`
	MealType string `json:"mealType"`
	UserName string `json:"userName"`
	Notes    string `json:"notes"`
}

type examInput struct {
	ImageURL    string `json:"imageUrl"`
	ExamType    string `json:"examType"`
	PatientName string `json:"patientName"`
}

// analysis runs the detection → vision pipeline shared by image and exam
// analysis. Detection failure degrades the result; generation failure fails
// the job.
type analysis struct {
	detector provider.Detector
	cloud    provider.CloudLLM
}

type analysisOutput struct {
	detections []provider.Detection
	degraded   bool
	raw        string
}

func (a *analysis) run(ctx context.Context, imageURL string, prompt func(detectionsJSON string) string) (*analysisOutput, error) {
	logger := zerolog.Ctx(ctx)
	out := &analysisOutput{detections: []provider.Detection{}}

	if a.detector == nil {
		out.degraded = true
		logger.Warn().Msg("no detection client configured, continuing without detections")
	} else if res, err := a.detector.Detect(ctx, imageURL); err != nil {
		out.degraded = true
		logger.Warn().Err(err).Msg("detection failed, continuing with degraded quality")
	} else {
		out.detections = res.Detections
	}

	detJSON, err := json.Marshal(out.detections)
	if err != nil {
		return nil, fmt.Errorf("encode detections: %w", err)
	}

	if a.cloud == nil {
		return nil, fmt.Errorf("analyze image: %w", provider.ErrUnavailable)
	}
	raw, err := a.cloud.Analyze(ctx, prompt(string(detJSON)), imageURL)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	out.raw = raw
	return out, nil
}

func (o *analysisOutput) base(imageURL string) Result {
	return Result{
		"image_url":          imageURL,
		"detections":         o.detections,
		"detection_count":    len(o.detections),
		"detection_degraded": o.degraded,
		"provider":           provider.ProviderCloudLLM,
	}
}

// ImageAnalysisHandler handles image_analysis jobs (meal photos).
type ImageAnalysisHandler struct {
	analysis
}

// NewImageAnalysis creates the image_analysis handler.
func NewImageAnalysis(detector provider.Detector, cloud provider.CloudLLM) *ImageAnalysisHandler {
	return &ImageAnalysisHandler{analysis{detector: detector, cloud: cloud}}
}

func (h *ImageAnalysisHandler) Process(ctx context.Context, input map[string]any) (Result, error) {
	var in imageInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("imageUrl", in.ImageURL); err != nil {
		return nil, err
	}

	out, err := h.run(ctx, in.ImageURL, func(dets string) string {
		return foodAnalysisPrompt(in, dets)
	})
	if err != nil {
		return nil, err
	}

	result := out.base(in.ImageURL)
	if in.MealType != "" {
		result["meal_type"] = in.MealType
	}

	var parsed FoodAnalysis
	if err := extractJSON(out.raw, &parsed); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("food analysis is not valid JSON, returning raw text")
		result["raw_analysis"] = out.raw
		result["parse_error"] = err.Error()
		return result, nil
	}
	if parsed.Foods == nil {
		parsed.Foods = []FoodItem{}
	}
	if parsed.Recommendations == nil {
		parsed.Recommendations = []string{}
	}
	result["foods"] = parsed.Foods
	result["totals"] = parsed.Totals
	result["assessment"] = parsed.Assessment
	result["recommendations"] = parsed.Recommendations
	return result, nil
}

// ExamAnalysisHandler handles exam_analysis jobs (lab report photos).
type ExamAnalysisHandler struct {
	analysis
}

// NewExamAnalysis creates the exam_analysis handler.
func NewExamAnalysis(detector provider.Detector, cloud provider.CloudLLM) *ExamAnalysisHandler {
	return &ExamAnalysisHandler{analysis{detector: detector, cloud: cloud}}
}

func (h *ExamAnalysisHandler) Process(ctx context.Context, input map[string]any) (Result, error) {
	var in examInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("imageUrl", in.ImageURL); err != nil {
		return nil, err
	}

	out, err := h.run(ctx, in.ImageURL, func(dets string) string {
		return examAnalysisPrompt(in, dets)
	})
	if err != nil {
		return nil, err
	}

	result := out.base(in.ImageURL)
	if in.ExamType != "" {
		result["exam_type"] = in.ExamType
	}

	var parsed ExamAnalysis
	if err := extractJSON(out.raw, &parsed); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("exam analysis is not valid JSON, returning raw text")
		result["raw_analysis"] = out.raw
		result["parse_error"] = err.Error()
		return result, nil
	}
	if parsed.Values == nil {
		parsed.Values = []ExamValue{}
	}
	if parsed.Recommendations == nil {
		parsed.Recommendations = []string{}
	}
	result["values"] = parsed.Values
	result["interpretation"] = parsed.Interpretation
	result["assessment"] = parsed.Assessment
	result["recommendations"] = parsed.Recommendations
	return result, nil
}
