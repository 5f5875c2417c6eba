package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

// Assistant personalities.
const (
	PersonalitySofia   = "sofia"
	PersonalityDrVital = "dr_vital"
)

var medicalKeywords = []string{
	"exam", "pain", "medicine", "medication", "symptom", "blood pressure",
	"glucose", "cholesterol", "disease", "doctor", "treatment", "fever",
	"infection", "blood", "surgery", "hospital", "prescription", "diagnos",
	"vaccine", "allergy", "vital",
	// Portuguese, as sent by most users of the messaging channels
	"exame", "dor", "remédio", "remedio", "medicamento", "sintoma", "pressão",
	"pressao", "glicemia", "colesterol", "doença", "doenca", "médico", "medico",
	"consulta", "tratamento", "febre", "infecção", "sangue", "cirurgia",
}

var nutritionKeywords = []string{
	"food", "meal", "lunch", "dinner", "breakfast", "calorie", "diet", "weight",
	"nutrition", "water", "recipe", "eat", "hunger", "protein", "carb", "fat",
	"snack", "fruit", "vegetable", "sofia",
	"comida", "refeição", "refeicao", "almoço", "almoco", "jantar", "café",
	"caloria", "dieta", "peso", "emagrecer", "nutrição", "água", "receita",
	"comer", "comi", "fome", "proteína", "carboidrato", "lanche", "fruta",
}

// DetectPersonality picks dr_vital when the message is predominantly medical
// (at least two medical keywords and more than nutrition ones), sofia
// otherwise.
func DetectPersonality(message string) string {
	msg := strings.ToLower(message)
	medical := countKeywords(msg, medicalKeywords)
	nutrition := countKeywords(msg, nutritionKeywords)
	if medical >= 2 && medical > nutrition {
		return PersonalityDrVital
	}
	return PersonalitySofia
}

func countKeywords(msg string, keywords []string) int {
	n := 0
	for _, k := range keywords {
		if strings.Contains(msg, k) {
			n++
		}
	}
	return n
}

func normalizePersonality(p string) string {
	switch strings.ToLower(strings.TrimSpace(strings.ReplaceAll(p, ".", ""))) {
	case "sofia":
		return PersonalitySofia
	case "dr_vital", "drvital", "dr vital", "dr-vital":
		return PersonalityDrVital
	}
	return ""
}

func personalityName(p string) string {
	if p == PersonalityDrVital {
		return "Dr. Vital"
	}
	return "Sofia"
}

func assistantSystemPrompt(personality, userName, convContext string) string {
	var b strings.Builder
	if personality == PersonalityDrVital {
		b.WriteString("You are Dr. Vital, a preventive-medicine doctor. Explain health topics clearly, " +
			"flag anything that needs an in-person consultation and never prescribe medication.")
	} else {
		b.WriteString("You are Sofia, a caring virtual nutritionist. Be brief (two or three sentences), " +
			"warm and practical, and use at most two emojis.")
	}
	if userName != "" {
		fmt.Fprintf(&b, "\nYou are talking to %s.", userName)
	}
	if convContext != "" {
		fmt.Fprintf(&b, "\nContext about the user:\n%s", convContext)
	}
	return b.String()
}

type assistantInput struct {
	Message     string `json:"message"`
	UserName    string `json:"userName"`
	Context     string `json:"context"`
	Personality string `json:"personality"`
}

// AssistantHandler handles unified_assistant jobs: the local model answers
// first and the cloud model is the fallback.
type AssistantHandler struct {
	local provider.LocalChatter
	cloud provider.CloudLLM
}

// NewAssistant creates the unified_assistant handler.
func NewAssistant(local provider.LocalChatter, cloud provider.CloudLLM) *AssistantHandler {
	return &AssistantHandler{local: local, cloud: cloud}
}

func (h *AssistantHandler) Process(ctx context.Context, input map[string]any) (Result, error) {
	var in assistantInput
	if err := decodeInput(input, &in); err != nil {
		return nil, err
	}
	if err := required("message", in.Message); err != nil {
		return nil, err
	}

	personality := normalizePersonality(in.Personality)
	if personality == "" {
		personality = DetectPersonality(in.Message)
	}
	system := assistantSystemPrompt(personality, in.UserName, in.Context)
	logger := zerolog.Ctx(ctx)

	reply := provider.Fallback(
		provider.Capability[string]{
			Name: provider.ProviderLocalLLM,
			Call: func(ctx context.Context) (string, error) {
				if h.local == nil {
					return "", fmt.Errorf("local llm: %w", provider.ErrUnavailable)
				}
				r, err := h.local.Chat(ctx, in.Message, system)
				if err != nil {
					return "", err
				}
				return strings.TrimSpace(r.Response), nil
			},
		},
		provider.Capability[string]{
			Name: provider.ProviderCloudLLM,
			Call: func(ctx context.Context) (string, error) {
				if h.cloud == nil {
					return "", fmt.Errorf("cloud llm: %w", provider.ErrUnavailable)
				}
				return h.cloud.Chat(ctx, []provider.Message{
					{Role: "system", Content: system},
					{Role: "user", Content: in.Message},
				})
			},
		},
		func(err error) {
			logger.Warn().Err(err).Msg("local llm failed, falling back to cloud llm")
		},
	)

	res, err := reply(ctx)
	if err != nil {
		return nil, fmt.Errorf("assistant reply: %w", err)
	}

	return Result{
		"message":          res.Value,
		"personality":      personality,
		"personality_name": personalityName(personality),
		"provider":         res.Provider,
		"fallback_used":    res.PrimaryErr != nil,
	}, nil
}
