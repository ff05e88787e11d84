// Package model defines a provider-agnostic abstraction over a streaming,
// tool-calling chat model. The Agent Loop depends only on this package's
// interfaces; internal/model/anthropic.go supplies the sole concrete
// implementation this port targets (the original gateway's multi-provider
// surface — Bedrock, OpenAI — is out of spec; see DESIGN.md).
package model

import "context"

// ConversationRole identifies who produced a Message.
type ConversationRole string

const (
	ConversationRoleSystem    ConversationRole = "system"
	ConversationRoleUser      ConversationRole = "user"
	ConversationRoleAssistant ConversationRole = "assistant"
)

// Part is a marker interface implemented by every content block a Message
// may carry. Using a closed set of concrete types (rather than structural
// typing) keeps serialization and provider translation exhaustive and
// explicit.
type Part interface {
	isPart()
}

// TextPart is plain model-facing or user-facing text.
type TextPart struct {
	Text string
}

func (TextPart) isPart() {}

// ThinkingPart carries an extended-reasoning block. Signature is the
// provider-issued opaque signature that must be echoed back verbatim on the
// next turn; Go code must never re-derive or re-parse Text.
type ThinkingPart struct {
	Text      string
	Signature string
}

func (ThinkingPart) isPart() {}

// ToolUsePart is a model-issued tool invocation request.
type ToolUsePart struct {
	ID    string
	Name  string
	Input map[string]any
}

func (ToolUsePart) isPart() {}

// ToolResultPart is the caller's response to a prior ToolUsePart, keyed by
// ToolUseID. Content is typically a string (for text results) but may be a
// richer JSON-shaped value for providers that accept structured tool
// results.
type ToolResultPart struct {
	ToolUseID string
	Content   any
	IsError   bool
}

func (ToolResultPart) isPart() {}

// ImagePart is inline image content (base64-encoded bytes plus a media
// type), used by the view_image tool's single non-streaming vision call.
type ImagePart struct {
	MediaType string
	Data      []byte
}

func (ImagePart) isPart() {}

// Message is one turn in a conversation passed to the model.
type Message struct {
	Role  ConversationRole
	Parts []Part
	Meta  map[string]string
}

// ToolDef describes one tool the model may call, translated from
// internal/tools.Spec at request-build time.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one model call: prior messages, available tools, and
// generation controls.
type Request struct {
	System             string
	Messages           []*Message
	Tools              []ToolDef
	MaxTokens          int
	Temperature        float64
	EnableThinking     bool
	ThinkingBudgetTokens int
	// InterleavedThinking requests the provider's interleaved-reasoning
	// capability (tool calls may appear between reasoning blocks within a
	// single turn) rather than a single reasoning block up front.
	InterleavedThinking bool
}

// StopReason classifies why a streamed response ended.
type StopReason string

const (
	StopReasonEndTurn   StopReason = "end_turn"
	StopReasonToolUse   StopReason = "tool_use"
	StopReasonMaxTokens StopReason = "max_tokens"
	StopReasonStopSeq   StopReason = "stop_sequence"
)

// Usage reports token accounting for one model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChunkKind discriminates the variants of Chunk.
type ChunkKind string

const (
	ChunkKindText         ChunkKind = "text"
	ChunkKindThinking     ChunkKind = "thinking"
	ChunkKindToolUseStart ChunkKind = "tool_use_start"
	ChunkKindToolUseDelta ChunkKind = "tool_use_delta"
	ChunkKindToolUseEnd   ChunkKind = "tool_use_end"
	ChunkKindMessageStop  ChunkKind = "message_stop"
)

// Chunk is one incremental unit read off a Streamer.
type Chunk struct {
	Kind ChunkKind

	// Text is populated for ChunkKindText and ChunkKindThinking.
	Text string
	// ThinkingSignature is populated on the final thinking chunk of a block.
	ThinkingSignature string

	// ToolUseID/ToolUseName are populated on ChunkKindToolUseStart.
	ToolUseID   string
	ToolUseName string
	// ToolUseInputDelta is a partial-JSON fragment for ChunkKindToolUseDelta;
	// callers accumulate fragments per ToolUseID and parse once complete.
	ToolUseInputDelta string

	// StopReason and Usage are populated on ChunkKindMessageStop.
	StopReason StopReason
	Usage      Usage
}

// Response is the fully materialized result of a non-streaming call (the
// view_image vision call, the planner's classification call and
// analyze_data's snippet generation).
type Response struct {
	Parts      []Part
	StopReason StopReason
	Usage      Usage
}

// Streamer reads the incremental chunks of one streaming model call.
// Close aborts the underlying provider stream; it is safe to call Close
// after Recv has returned a final chunk or an error.
type Streamer interface {
	Recv() (Chunk, error)
	Close() error
}

// Client issues calls against a model provider.
type Client interface {
	// Stream starts a streaming call and returns a Streamer that yields
	// Chunk values until the stream ends (io.EOF from Recv) or ctx is
	// cancelled.
	Stream(ctx context.Context, req Request) (Streamer, error)
	// Complete issues a single non-streaming call (used by view_image).
	Complete(ctx context.Context, req Request) (Response, error)
}
