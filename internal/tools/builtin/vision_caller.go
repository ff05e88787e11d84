package builtin

import (
	"context"
	"fmt"

	"github.com/simage-ai/convoengine/internal/model"
)

// ModelVisionCaller implements tools.VisionCaller against a model.Client's
// single non-streaming Complete call, the same one-shot pattern the
// view_image tool and the agent loop's planner both use.
type ModelVisionCaller struct {
	Client model.Client
}

func (v *ModelVisionCaller) DescribeImage(ctx context.Context, mediaType string, data []byte, question string) (string, error) {
	resp, err := v.Client.Complete(ctx, model.Request{
		Messages: []*model.Message{{
			Role: model.ConversationRoleUser,
			Parts: []model.Part{
				model.ImagePart{MediaType: mediaType, Data: data},
				model.TextPart{Text: question},
			},
		}},
		MaxTokens: 1024,
	})
	if err != nil {
		return "", fmt.Errorf("vision_caller: complete: %w", err)
	}
	var text string
	for _, p := range resp.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}
	return text, nil
}
