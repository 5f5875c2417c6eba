package handlers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

const (
	defaultDietType    = "balanced"
	defaultPlanDays    = 1
	defaultMealsPerDay = 4
	maxPlanDays        = 14
)

type mealPlanInput struct {
	TargetCalories number     `json:"targetCalories"`
	DietType       string     `json:"dietType"`
	Restrictions   stringList `json:"restrictions"`
	Preferences    stringList `json:"preferences"`
	Days           number     `json:"days"`
	MealsPerDay    number     `json:"mealsPerDay"`
}

// MealPlanHandler handles meal_plan jobs with a single cloud chat call.
type MealPlanHandler struct {
	cloud provider.CloudLLM
}

// NewMealPlan creates the meal_plan handler.
func NewMealPlan(cloud provider.CloudLLM) *MealPlanHandler {
	return &MealPlanHandler{cloud: cloud}
}

type normalizedPlanInput struct {
	TargetCalories number
	DietType       string
	Restrictions   []string
	Preferences    []string
	Days           int
	MealsPerDay    int
}

func (h *MealPlanHandler) Process(ctx context.Context, input map[string]any) (Result, error) {
	var raw mealPlanInput
	if err := decodeInput(input, &raw); err != nil {
		return nil, err
	}
	in, err := raw.normalize()
	if err != nil {
		return nil, err
	}

	if h.cloud == nil {
		return nil, fmt.Errorf("generate meal plan: %w", provider.ErrUnavailable)
	}
	plan, err := h.cloud.Chat(ctx, []provider.Message{
		{Role: "system", Content: "You are a registered dietitian who writes precise, realistic meal plans."},
		{Role: "user", Content: mealPlanPrompt(in)},
	})
	if err != nil {
		return nil, fmt.Errorf("generate meal plan: %w", err)
	}

	result := Result{
		"plan":           plan,
		"targetCalories": float64(in.TargetCalories),
		"dietType":       in.DietType,
		"restrictions":   in.Restrictions,
		"preferences":    in.Preferences,
		"days":           in.Days,
		"mealsPerDay":    in.MealsPerDay,
		"provider":       provider.ProviderCloudLLM,
	}

	var planJSON map[string]any
	if err := extractJSON(plan, &planJSON); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("meal plan is not JSON, returning text only")
	} else {
		result["plan_json"] = planJSON
	}
	return result, nil
}

// CacheInput keys meal plans on the normalized request: calories and day
// counts compare as numbers, list fields accept either spelling.
func (h *MealPlanHandler) CacheInput(input map[string]any) (map[string]any, error) {
	var raw mealPlanInput
	if err := decodeInput(input, &raw); err != nil {
		return nil, err
	}
	in, err := raw.normalize()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"targetCalories": float64(in.TargetCalories),
		"dietType":       in.DietType,
		"restrictions":   in.Restrictions,
		"preferences":    in.Preferences,
		"days":           in.Days,
		"mealsPerDay":    in.MealsPerDay,
	}, nil
}

func (in mealPlanInput) normalize() (normalizedPlanInput, error) {
	out := normalizedPlanInput{
		TargetCalories: in.TargetCalories,
		DietType:       in.DietType,
		Restrictions:   []string(in.Restrictions),
		Preferences:    []string(in.Preferences),
		Days:           int(in.Days),
		MealsPerDay:    int(in.MealsPerDay),
	}
	if out.TargetCalories <= 0 {
		return out, fmt.Errorf("%w: targetCalories must be a positive number", ErrInvalidInput)
	}
	if out.DietType == "" {
		out.DietType = defaultDietType
	}
	if out.Restrictions == nil {
		out.Restrictions = []string{}
	}
	if out.Preferences == nil {
		out.Preferences = []string{}
	}
	if out.Days <= 0 {
		out.Days = defaultPlanDays
	}
	if out.Days > maxPlanDays {
		return out, fmt.Errorf("%w: days must be at most %d", ErrInvalidInput, maxPlanDays)
	}
	if out.MealsPerDay <= 0 {
		out.MealsPerDay = defaultMealsPerDay
	}
	return out, nil
}
