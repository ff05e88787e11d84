package model_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/model"
)

func TestProviderErrorMessageIncludesStatusAndCode(t *testing.T) {
	err := model.NewProviderError("messages.create", 429, model.ProviderErrorKindRateLimited,
		"rate_limit_error", "too many requests", "req_123", true, nil)

	msg := err.Error()
	assert.Contains(t, msg, "429")
	assert.Contains(t, msg, "rate_limit_error")
	assert.Contains(t, msg, "too many requests")
	assert.True(t, err.Retryable())
	assert.Equal(t, "req_123", err.RequestID())
}

func TestProviderErrorFallsBackToCauseMessage(t *testing.T) {
	cause := errors.New("connection reset by peer")
	err := model.NewProviderError("messages.create", 0, model.ProviderErrorKindUnavailable, "", "", "", true, cause)

	assert.Contains(t, err.Error(), "connection reset by peer")
	require.ErrorIs(t, err, cause)
}

func TestAsProviderErrorUnwrapsChain(t *testing.T) {
	pe := model.NewProviderError("messages.create", 401, model.ProviderErrorKindAuth, "authentication_error", "invalid api key", "", false, nil)
	wrapped := fmt.Errorf("anthropic client: %w", pe)

	got, ok := model.AsProviderError(wrapped)
	require.True(t, ok)
	assert.Equal(t, model.ProviderErrorKindAuth, got.Kind())
}

func TestNewProviderErrorPanicsWithoutKind(t *testing.T) {
	assert.Panics(t, func() {
		model.NewProviderError("op", 500, "", "", "", "", false, nil)
	})
}
