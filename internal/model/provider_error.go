package model

import (
	"errors"
	"fmt"
)

// ProviderErrorKind classifies provider failures into a small set of
// categories suitable for retry and UX decisions.
type ProviderErrorKind string

const (
	ProviderErrorKindAuth           ProviderErrorKind = "auth"
	ProviderErrorKindInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderErrorKindRateLimited    ProviderErrorKind = "rate_limited"
	ProviderErrorKindUnavailable    ProviderErrorKind = "unavailable"
	ProviderErrorKindUnknown        ProviderErrorKind = "unknown"
)

// ProviderError describes a failure returned by the Anthropic API. It
// crosses the model/agentloop package boundary so the Job Runner and HTTP
// layer can surface stable, structured information without depending on the
// Anthropic SDK's own error types.
type ProviderError struct {
	operation string
	http      int
	kind      ProviderErrorKind
	code      string
	message   string
	requestID string
	retryable bool
	cause     error
}

// NewProviderError constructs a ProviderError. kind is required.
func NewProviderError(operation string, httpStatus int, kind ProviderErrorKind, code, message, requestID string, retryable bool, cause error) *ProviderError {
	if kind == "" {
		panic("model: provider error kind is required")
	}
	return &ProviderError{
		operation: operation,
		http:      httpStatus,
		kind:      kind,
		code:      code,
		message:   message,
		requestID: requestID,
		retryable: retryable,
		cause:     cause,
	}
}

func (e *ProviderError) Operation() string       { return e.operation }
func (e *ProviderError) HTTPStatus() int         { return e.http }
func (e *ProviderError) Kind() ProviderErrorKind { return e.kind }
func (e *ProviderError) Code() string            { return e.code }
func (e *ProviderError) Message() string         { return e.message }
func (e *ProviderError) RequestID() string       { return e.requestID }
func (e *ProviderError) Retryable() bool         { return e.retryable }

func (e *ProviderError) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf("%d ", e.http)
	}
	code := ""
	if e.code != "" {
		code = e.code + ": "
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("anthropic %s %s(%s): %s", e.kind, status, op, code+msg)
}

// Unwrap preserves the original error chain.
func (e *ProviderError) Unwrap() error { return e.cause }

// AsProviderError returns the first ProviderError in err's chain, if any.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
