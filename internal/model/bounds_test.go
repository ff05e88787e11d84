package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/simage-ai/convoengine/internal/model"
)

func TestNewBoundsMarksTruncationWhenReturnedIsLess(t *testing.T) {
	b := model.NewBounds(120, 50)
	assert.Equal(t, 120, b.Total)
	assert.Equal(t, 50, b.Returned)
	assert.True(t, b.Truncated)
}

func TestNewBoundsNotTruncatedWhenEverythingReturned(t *testing.T) {
	b := model.NewBounds(10, 10)
	assert.False(t, b.Truncated)
}
