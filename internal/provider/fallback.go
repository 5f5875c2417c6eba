package provider

import (
	"context"
	"errors"
	"fmt"
)

// Capability is a named call that produces a T.
type Capability[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// FallbackResult reports which capability produced the value.
type FallbackResult[T any] struct {
	Value    T
	Provider string
	// PrimaryErr is set when the primary failed and the secondary answered.
	PrimaryErr error
}

// Fallback tries primary and, on any error, secondary. The secondary is never
// called when the primary succeeds and is called exactly once otherwise.
// onPrimaryFailure (optional) observes the absorbed primary error. When both
// fail the returned error joins both causes.
func Fallback[T any](primary, secondary Capability[T], onPrimaryFailure func(error)) func(ctx context.Context) (FallbackResult[T], error) {
	return func(ctx context.Context) (FallbackResult[T], error) {
		v, err := primary.Call(ctx)
		if err == nil {
			return FallbackResult[T]{Value: v, Provider: primary.Name}, nil
		}
		if onPrimaryFailure != nil {
			onPrimaryFailure(err)
		}

		v, err2 := secondary.Call(ctx)
		if err2 == nil {
			return FallbackResult[T]{Value: v, Provider: secondary.Name, PrimaryErr: err}, nil
		}

		var zero FallbackResult[T]
		return zero, errors.Join(
			fmt.Errorf("%s: %w", primary.Name, err),
			fmt.Errorf("%s: %w", secondary.Name, err2),
		)
	}
}
