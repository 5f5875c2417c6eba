// Package handlers holds the per-job-type orchestration: which providers are
// called, in what order, which failures degrade the result and which fail the
// job.
package handlers

import (
	"context"
	"errors"

	"github.com/aceteam-ai/aiworker/internal/provider"
)

// Job types. Each maps to exactly one Handler.
const (
	TypeImageAnalysis    = "image_analysis"
	TypeExamAnalysis     = "exam_analysis"
	TypeMealPlan         = "meal_plan"
	TypeUnifiedAssistant = "unified_assistant"
	TypeMessagingReply   = "messaging_reply"
)

// Types lists every supported job type.
var Types = []string{
	TypeImageAnalysis,
	TypeExamAnalysis,
	TypeMealPlan,
	TypeUnifiedAssistant,
	TypeMessagingReply,
}

// ErrInvalidInput is wrapped by handlers when the job payload is missing a
// required field or has the wrong shape. Retrying such a job cannot succeed.
var ErrInvalidInput = errors.New("invalid input")

// Result is a handler's structured output. It must be JSON-encodable.
type Result map[string]any

// Handler processes the input of one job type.
type Handler interface {
	Process(ctx context.Context, input map[string]any) (Result, error)
}

// CacheKeyer is implemented by handlers that coerce some input fields (for
// example numeric strings). CacheInput returns the decoded input the result
// depends on; the cache key is derived from it instead of the raw payload.
type CacheKeyer interface {
	CacheInput(input map[string]any) (map[string]any, error)
}

// Deps are the provider clients shared by the handlers.
type Deps struct {
	Detector provider.Detector
	Local    provider.LocalChatter
	Cloud    provider.CloudLLM

	// MaxReplyChars caps messaging replies when the job does not set maxChars.
	MaxReplyChars int
}

// Registry returns the handler for every supported job type.
func Registry(deps Deps) map[string]Handler {
	return map[string]Handler{
		TypeImageAnalysis:    NewImageAnalysis(deps.Detector, deps.Cloud),
		TypeExamAnalysis:     NewExamAnalysis(deps.Detector, deps.Cloud),
		TypeMealPlan:         NewMealPlan(deps.Cloud),
		TypeUnifiedAssistant: NewAssistant(deps.Local, deps.Cloud),
		TypeMessagingReply:   NewMessagingReply(deps.Cloud, deps.MaxReplyChars),
	}
}
