package model_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simage-ai/convoengine/internal/model"
)

func TestBuildMessagesFromTranscriptPreservesOrderAndParts(t *testing.T) {
	entries := []model.TranscriptEntry{
		{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		{Role: model.ConversationRoleAssistant, Parts: []model.Part{
			model.ThinkingPart{Text: "let me think"},
			model.TextPart{Text: "hello back"},
		}},
	}

	msgs := model.BuildMessagesFromTranscript(entries)

	require.Len(t, msgs, 2)
	assert.Equal(t, model.ConversationRoleUser, msgs[0].Role)
	require.Len(t, msgs[1].Parts, 2)
	assert.IsType(t, model.ThinkingPart{}, msgs[1].Parts[0])
}

func TestBuildMessagesFromTranscriptSkipsEmptyEntries(t *testing.T) {
	entries := []model.TranscriptEntry{
		{Role: "", Parts: []model.Part{model.TextPart{Text: "orphaned"}}},
		{Role: model.ConversationRoleUser, Parts: nil},
	}

	assert.Nil(t, model.BuildMessagesFromTranscript(entries))
}

func TestBuildMessagesFromTranscriptEmptyInput(t *testing.T) {
	assert.Nil(t, model.BuildMessagesFromTranscript(nil))
}
