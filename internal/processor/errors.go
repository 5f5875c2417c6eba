package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/aceteam-ai/aiworker/internal/handlers"
	"github.com/aceteam-ai/aiworker/internal/provider"
)

// ErrUnknownJobType is returned, before any I/O, for jobs whose type has no
// registered handler.
var ErrUnknownJobType = errors.New("unknown job type")

// HandlerError wraps the first unrecoverable failure inside a handler.
type HandlerError struct {
	JobType string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("%s handler: %v", e.JobType, e.Err)
}

func (e *HandlerError) Unwrap() error { return e.Err }

// Error kind labels used for aiworker_errors_total and job status records.
const (
	KindUnknownJobType      = "unknown_job_type"
	KindInvalidInput        = "invalid_input"
	KindProviderUnavailable = "provider_unavailable"
	KindMalformedResponse   = "malformed_response"
	KindDeadlineExceeded    = "deadline_exceeded"
	KindHandlerError        = "handler_error"
	KindPanic               = "panic"
)

// Classify maps a processing error to its kind label and whether redelivering
// the job can help.
func Classify(err error) (kind string, retryable bool) {
	switch {
	case err == nil:
		return "", false
	case errors.Is(err, ErrUnknownJobType):
		return KindUnknownJobType, false
	case errors.Is(err, handlers.ErrInvalidInput):
		return KindInvalidInput, false
	case errors.Is(err, provider.ErrMalformedResponse):
		return KindMalformedResponse, true
	case errors.Is(err, provider.ErrUnavailable):
		return KindProviderUnavailable, true
	case errors.Is(err, context.DeadlineExceeded):
		return KindDeadlineExceeded, true
	}
	return KindHandlerError, true
}
