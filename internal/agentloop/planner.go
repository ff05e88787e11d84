package agentloop

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/simage-ai/convoengine/internal/model"
)

// classificationPrompt mirrors the original's compact, classification-only
// system prompt for the pre-loop plan pass: a single non-streaming call
// producing {category, acknowledgment, complexity, search_strategy}.
const classificationPrompt = `Classify the user's question. Respond with a single JSON object only, no other text, with keys:
"category" (one of: factual, analytical, exploratory, procedural),
"acknowledgment" (a short first-person sentence acknowledging the question, shown to the user while the answer is prepared),
"complexity" (one of: simple, moderate, complex),
"search_strategy" (a short phrase describing how you will approach it).`

// ModelPlanner implements Planner against a model.Client, using a single
// non-streaming call with no tools.
type ModelPlanner struct {
	Client model.Client
}

func (p *ModelPlanner) Classify(ctx context.Context, question string) (Plan, error) {
	resp, err := p.Client.Complete(ctx, model.Request{
		System:    classificationPrompt,
		Messages:  []*model.Message{{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: question}}}},
		MaxTokens: 256,
	})
	if err != nil {
		return Plan{}, fmt.Errorf("planner: classify: %w", err)
	}

	var text string
	for _, p := range resp.Parts {
		if tp, ok := p.(model.TextPart); ok {
			text += tp.Text
		}
	}

	var parsed struct {
		Category       string `json:"category"`
		Acknowledgment string `json:"acknowledgment"`
		Complexity     string `json:"complexity"`
		SearchStrategy string `json:"search_strategy"`
	}
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return Plan{}, fmt.Errorf("planner: parse classification response: %w", err)
	}
	return Plan{
		Category:       parsed.Category,
		Acknowledgment: parsed.Acknowledgment,
		Complexity:     parsed.Complexity,
		SearchStrategy: parsed.SearchStrategy,
	}, nil
}
