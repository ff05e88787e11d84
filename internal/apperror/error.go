// Package apperror defines the single error-chain shape used across the
// conversation engine: tool failures, model-provider failures, store
// failures, and validation failures all wrap into the same type so callers
// can use errors.Is/errors.As uniformly regardless of which layer produced
// the failure.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into the taxonomy the Agent Loop and Job Runner
// dispatch on (see design doc §7).
type Kind string

const (
	// KindValidation marks a caller error: missing ownership, malformed body.
	// Surfaced immediately as 4xx; never reaches a running job.
	KindValidation Kind = "validation"
	// KindToolFailure marks a recoverable tool execution failure. The Agent
	// Loop folds it into a tool_result with success=false and continues.
	KindToolFailure Kind = "tool_failure"
	// KindProviderFailure marks a model-stream failure. Terminates the
	// Agent Loop with an error event; the job becomes failed.
	KindProviderFailure Kind = "provider_failure"
	// KindBusUnavailable marks a publish/subscribe failure against the
	// event bus backing store.
	KindBusUnavailable Kind = "bus_unavailable"
	// KindWorkerTimeout marks a job that exceeded its hard time limit.
	KindWorkerTimeout Kind = "worker_timeout"
	// KindCancelled marks a job terminated by an explicit cancel call.
	KindCancelled Kind = "cancelled"
	// KindNotFound marks a lookup miss (job, thread, resource, project).
	KindNotFound Kind = "not_found"
	// KindInternal marks an unclassified failure.
	KindInternal Kind = "internal"
)

// Error is the chained error type used throughout the engine. It carries a
// Kind for dispatch, a human-readable Message, and an optional Cause that
// preserves the original error for errors.Is/errors.As traversal.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf constructs an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error that chains cause. If cause is nil, Wrap behaves
// like New.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the cause so errors.Is/errors.As can traverse the chain.
func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, apperror.New(KindX, "")) match on Kind alone,
// ignoring Message and Cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err if it (or something in its chain) is an
// *Error, otherwise KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
