package builtin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/tools/builtin"
)

type fakeCompleter struct {
	resp model.Response
	err  error
}

func (f *fakeCompleter) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeCompleter) Complete(ctx context.Context, req model.Request) (model.Response, error) {
	return f.resp, f.err
}

func TestModelVisionCallerJoinsTextParts(t *testing.T) {
	client := &fakeCompleter{resp: model.Response{Parts: []model.Part{
		model.TextPart{Text: "a chart showing "},
		model.TextPart{Text: "quarterly revenue"},
	}}}
	v := &builtin.ModelVisionCaller{Client: client}

	out, err := v.DescribeImage(context.Background(), "image/png", []byte{1, 2, 3}, "what is this?")
	require.NoError(t, err)
	assert.Equal(t, "a chart showing quarterly revenue", out)
}

func TestModelVisionCallerPropagatesError(t *testing.T) {
	client := &fakeCompleter{err: errors.New("provider unavailable")}
	v := &builtin.ModelVisionCaller{Client: client}

	_, err := v.DescribeImage(context.Background(), "image/png", nil, "describe")
	assert.Error(t, err)
}
