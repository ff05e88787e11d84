package model

import (
	"context"
	"io"

	"github.com/anthropics/anthropic-sdk-go"
)

// anthropicStreamer adapts the SDK's server-sent-event stream into the
// Streamer interface, translating each SDK event into zero or one
// model.Chunk. It accumulates content-block state only as far as needed to
// know which kind of block is currently open (text, thinking, or tool_use)
// so that tool_use_delta partial-JSON fragments can be labeled with the
// right ToolUseID.
type anthropicStreamer struct {
	ctx    context.Context
	stream *anthropic.MessagesStream

	openToolUseID string
}

// Recv returns the next Chunk, io.EOF once the stream is exhausted after a
// message_stop event, or a translated model.ProviderError on transport
// failure.
func (s *anthropicStreamer) Recv() (Chunk, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		switch e := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if tu, ok := e.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.openToolUseID = tu.ID
				return Chunk{Kind: ChunkKindToolUseStart, ToolUseID: tu.ID, ToolUseName: tu.Name}, nil
			}
		case anthropic.ContentBlockDeltaEvent:
			switch d := e.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				return Chunk{Kind: ChunkKindText, Text: d.Text}, nil
			case anthropic.ThinkingDelta:
				return Chunk{Kind: ChunkKindThinking, Text: d.Thinking}, nil
			case anthropic.SignatureDelta:
				return Chunk{Kind: ChunkKindThinking, ThinkingSignature: d.Signature}, nil
			case anthropic.InputJSONDelta:
				return Chunk{Kind: ChunkKindToolUseDelta, ToolUseID: s.openToolUseID, ToolUseInputDelta: d.PartialJSON}, nil
			}
		case anthropic.ContentBlockStopEvent:
			if s.openToolUseID != "" {
				id := s.openToolUseID
				s.openToolUseID = ""
				return Chunk{Kind: ChunkKindToolUseEnd, ToolUseID: id}, nil
			}
		case anthropic.MessageDeltaEvent:
			if e.Delta.StopReason != "" {
				return Chunk{
					Kind:       ChunkKindMessageStop,
					StopReason: translateStopReason(string(e.Delta.StopReason)),
					Usage: Usage{
						OutputTokens: int(e.Usage.OutputTokens),
					},
				}, nil
			}
		case anthropic.MessageStopEvent:
			continue
		}
		// Event carried no translatable chunk (message_start, ping, etc.);
		// pull the next one.
	}
	if err := s.stream.Err(); err != nil {
		return Chunk{}, translateAnthropicError(err)
	}
	return Chunk{}, io.EOF
}

// Close aborts the underlying HTTP stream. Safe to call after Recv has
// returned io.EOF or an error.
func (s *anthropicStreamer) Close() error {
	return s.stream.Close()
}
