package handlers

import (
	"fmt"
	"strings"
)

const foodSchema = `{
  "foods": [{"name": string, "quantity": string, "calories": number, "protein": number, "carbs": number, "fat": number}],
  "totals": {"calories": number, "protein": number, "carbs": number, "fat": number},
  "assessment": string,
  "recommendations": [string]
}`

const examSchema = `{
  "values": [{"name": string, "value": number or string, "unit": string, "referenceRange": string, "status": "low" | "normal" | "high"}],
  "interpretation": string,
  "assessment": string,
  "recommendations": [string]
}`

func foodAnalysisPrompt(in imageInput, detections string) string {
	var b strings.Builder
	b.WriteString("You are a nutritionist analysing a photo of a meal.\n")
	if in.UserName != "" {
		fmt.Fprintf(&b, "The meal belongs to %s.\n", in.UserName)
	}
	if in.MealType != "" {
		fmt.Fprintf(&b, "Meal type: %s.\n", in.MealType)
	}
	if in.Notes != "" {
		fmt.Fprintf(&b, "Notes from the user: %s\n", in.Notes)
	}
	b.WriteString("\nAn object detector found these items (may be empty or incomplete):\n")
	b.WriteString(detections)
	b.WriteString("\n\nIdentify every food, estimate portions and nutrients, and answer ONLY with JSON matching:\n")
	b.WriteString(foodSchema)
	return b.String()
}

func examAnalysisPrompt(in examInput, detections string) string {
	var b strings.Builder
	b.WriteString("You are a physician reading a photo of a medical exam report.\n")
	if in.ExamType != "" {
		fmt.Fprintf(&b, "Exam type: %s.\n", in.ExamType)
	}
	if in.PatientName != "" {
		fmt.Fprintf(&b, "Patient: %s.\n", in.PatientName)
	}
	b.WriteString("\nRegions detected on the document (may be empty):\n")
	b.WriteString(detections)
	b.WriteString("\n\nExtract every measured value, compare it with its reference range and answer ONLY with JSON matching:\n")
	b.WriteString(examSchema)
	b.WriteString("\nThis is educational guidance and does not replace a consultation.")
	return b.String()
}

func mealPlanPrompt(in normalizedPlanInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Create a %d-day meal plan with %d meals per day.\n", in.Days, in.MealsPerDay)
	fmt.Fprintf(&b, "Daily calorie target: %g kcal.\n", float64(in.TargetCalories))
	fmt.Fprintf(&b, "Diet type: %s.\n", in.DietType)
	if len(in.Restrictions) > 0 {
		fmt.Fprintf(&b, "Never include: %s.\n", strings.Join(in.Restrictions, ", "))
	}
	if len(in.Preferences) > 0 {
		fmt.Fprintf(&b, "Prefer: %s.\n", strings.Join(in.Preferences, ", "))
	}
	b.WriteString(`
Answer ONLY with JSON of the form:
{"days": [{"day": number, "meals": [{"name": string, "time": string, "foods": [{"name": string, "quantity": string, "calories": number}], "calories": number, "protein": number, "carbs": number, "fat": number}], "totals": {"calories": number, "protein": number, "carbs": number, "fat": number}}]}
Each day's total must stay within 5% of the calorie target.`)
	return b.String()
}

func messagingSystemPrompt(channel string, maxChars int) string {
	return fmt.Sprintf(
		"You reply to users of a health and nutrition service over %s. "+
			"Write a warm, friendly and concise reply in plain text, at most %d characters, "+
			"with no markdown headings and at most one emoji. Never give a diagnosis.",
		channel, maxChars)
}
