package apperror_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/apperror"
)

func TestErrorChainsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := apperror.Wrap(apperror.KindBusUnavailable, "publish failed", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "publish failed")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorIsMatchesOnKindAlone(t *testing.T) {
	err := apperror.Wrap(apperror.KindToolFailure, "read_resource: timed out", errors.New("deadline exceeded"))

	assert.True(t, errors.Is(err, apperror.New(apperror.KindToolFailure, "")))
	assert.False(t, errors.Is(err, apperror.New(apperror.KindValidation, "")))
}

func TestKindOfUnwrapsChainedErrors(t *testing.T) {
	base := apperror.New(apperror.KindNotFound, "job not found")
	wrapped := fmt.Errorf("store: %w", base)

	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(wrapped))
}

func TestKindOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(errors.New("unclassified")))
}

func TestNewfFormatsMessage(t *testing.T) {
	err := apperror.Newf(apperror.KindWorkerTimeout, "job %s exceeded %ds", "job-123", 300)
	assert.Equal(t, "worker_timeout: job job-123 exceeded 300s", err.Error())
}
