// Package provider contains the adapters to external AI services: the
// object detection service, a local Ollama model and an OpenAI-compatible
// cloud gateway. Every call returns either a decoded response or an *Error;
// transport errors never escape a client untyped.
package provider

import (
	"errors"
	"fmt"
)

// Kind classifies a provider failure.
type Kind string

const (
	// KindUnavailable means the attempt budget was exhausted (or the single
	// attempt failed): network errors, timeouts, non-2xx responses.
	KindUnavailable Kind = "unavailable"

	// KindMalformed means the service answered but the body could not be
	// decoded into the expected envelope.
	KindMalformed Kind = "malformed_response"
)

var (
	// ErrUnavailable matches any *Error of KindUnavailable via errors.Is.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrMalformedResponse matches any *Error of KindMalformed via errors.Is.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Error is the typed failure returned by every provider client.
type Error struct {
	Provider string
	Kind     Kind
	Attempts int
	Err      error // last underlying cause
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s after %d attempt(s): %v", e.Provider, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers test for ErrUnavailable / ErrMalformedResponse.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrMalformedResponse:
		return e.Kind == KindMalformed
	}
	return false
}

func unavailable(provider string, attempts int, err error) *Error {
	return &Error{Provider: provider, Kind: KindUnavailable, Attempts: attempts, Err: err}
}

func malformed(provider string, attempts int, err error) *Error {
	return &Error{Provider: provider, Kind: KindMalformed, Attempts: attempts, Err: err}
}

// statusError is the cause recorded for non-2xx responses.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("status %d", e.Status)
	}
	return fmt.Sprintf("status %d: %s", e.Status, e.Body)
}
