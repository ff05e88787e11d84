package builtin

import (
	"context"
	"fmt"

	"github.com/simage-ai/convoengine/internal/model"
)

// snippetPrompt mirrors data_analysis.py's instruction to the model: given
// a schema and a natural-language question, produce a single short
// pandas-shaped expression, nothing else.
const snippetPrompt = `Given this dataset schema:
%s
Write a single short pandas-style expression (no explanation, no markdown fence) against a dataframe named df that answers: %s`

// ModelSnippetGenerator implements DataSnippetGenerator against a
// model.Client, using one non-streaming call with no tools — the same
// pattern as agentloop.ModelPlanner's classification call.
type ModelSnippetGenerator struct {
	Client model.Client
}

func (g *ModelSnippetGenerator) GenerateSnippet(ctx context.Context, schema, query string) (string, error) {
	resp, err := g.Client.Complete(ctx, model.Request{
		Messages: []*model.Message{{
			Role:  model.ConversationRoleUser,
			Parts: []model.Part{model.TextPart{Text: fmt.Sprintf(snippetPrompt, schema, query)}},
		}},
		MaxTokens: 256,
	})
	if err != nil {
		return "", fmt.Errorf("snippet_generator: complete: %w", err)
	}
	var text string
	for _, p := range resp.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}
	return text, nil
}
