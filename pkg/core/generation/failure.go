package generation

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind says where a generation failed.
type FailureKind string

const (
	// FailureRequest means the upstream request could not be started.
	FailureRequest FailureKind = "request"
	// FailureStream means the stream broke after it started.
	FailureStream FailureKind = "stream"
	// FailureCanceled means the caller's context ended first.
	FailureCanceled FailureKind = "canceled"
)

// Failure describes a generation that could not complete.
type Failure struct {
	Kind     FailureKind
	Provider string
	Cause    error
}

func (f *Failure) Error() string {
	if f.Cause == nil {
		return fmt.Sprintf("generation %s failure (%s)", f.Kind, f.Provider)
	}
	return fmt.Sprintf("generation %s failure (%s): %v", f.Kind, f.Provider, f.Cause)
}

func (f *Failure) Unwrap() error { return f.Cause }

// Retryable reports whether the upstream marked the cause as transient.
func (f *Failure) Retryable() bool {
	var r interface{ IsRetryable() bool }
	if errors.As(f.Cause, &r) {
		return r.IsRetryable()
	}
	return false
}

func newFailure(ctx context.Context, kind FailureKind, provider string, cause error) *Failure {
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = FailureCanceled
	}
	return &Failure{Kind: kind, Provider: provider, Cause: cause}
}
