package model

// TranscriptEntry is a single ordered entry in a flattened turn history, as
// loaded from the turns table. internal/resources maps each persisted Turn
// to a TranscriptEntry with the same role and a single text part holding
// the turn's content; Messages are built from the flattened list before the
// first model call of an invocation.
type TranscriptEntry struct {
	Role  ConversationRole
	Parts []Part
}

// BuildMessagesFromTranscript constructs Messages from a flat transcript,
// preserving order and parts verbatim. Entries with an empty role, and
// entries left with no parts, are skipped. Thinking blocks pass through
// unmodified in their original position among the entry's parts (see
// design note "preserving provider reasoning blocks") — this function
// performs no synthesis or re-parsing, only a straight mapping.
func BuildMessagesFromTranscript(entries []TranscriptEntry) []*Message {
	if len(entries) == 0 {
		return nil
	}
	out := make([]*Message, 0, len(entries))
	for _, e := range entries {
		if e.Role == "" {
			continue
		}
		msg := &Message{Role: e.Role, Parts: make([]Part, 0, len(e.Parts))}
		for _, p := range e.Parts {
			switch v := p.(type) {
			case TextPart, ThinkingPart, ToolUsePart, ToolResultPart, ImagePart:
				msg.Parts = append(msg.Parts, v)
			default:
				continue
			}
		}
		if len(msg.Parts) == 0 {
			continue
		}
		out = append(out, msg)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
