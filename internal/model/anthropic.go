package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// interleavedThinkingBeta is the header value enabling Anthropic's
// interleaved extended-thinking capability, allowing tool_use blocks to
// appear between reasoning blocks within a single assistant turn rather
// than only before the first one.
const interleavedThinkingBeta = "interleaved-thinking-2025-05-14"

// AnthropicClient adapts the Anthropic Messages API to the model.Client
// interface. It is the sole provider this port targets; see DESIGN.md for
// why the teacher's Bedrock and OpenAI adapters were not carried over.
type AnthropicClient struct {
	sdk   anthropic.Client
	model anthropic.Model
}

// NewAnthropicClient constructs a client against the given API key and
// default model identifier (e.g. "claude-sonnet-4-5-20250929").
func NewAnthropicClient(apiKey, modelID string, opts ...option.RequestOption) *AnthropicClient {
	o := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &AnthropicClient{
		sdk:   anthropic.NewClient(o...),
		model: anthropic.Model(modelID),
	}
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, []option.RequestOption, error) {
	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: int64(req.MaxTokens),
	}
	if params.MaxTokens == 0 {
		params.MaxTokens = 4096
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msgs, err := toAnthropicMessages(req.Messages)
	if err != nil {
		return params, nil, err
	}
	params.Messages = msgs

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, anthropic.ToolUnionParam{
				OfTool: &anthropic.ToolParam{
					Name:        t.Name,
					Description: anthropic.String(t.Description),
					InputSchema: toInputSchema(t.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	if req.EnableThinking {
		budget := int64(req.ThinkingBudgetTokens)
		if budget == 0 {
			budget = 4096
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budget)
	}

	var reqOpts []option.RequestOption
	if req.InterleavedThinking {
		reqOpts = append(reqOpts, option.WithHeader("anthropic-beta", interleavedThinkingBeta))
	}
	return params, reqOpts, nil
}

func toInputSchema(schema map[string]any) anthropic.ToolInputSchemaParam {
	props, _ := schema["properties"].(map[string]any)
	var required []string
	if r, ok := schema["required"].([]string); ok {
		required = r
	} else if ri, ok := schema["required"].([]any); ok {
		for _, v := range ri {
			if s, ok := v.(string); ok {
				required = append(required, s)
			}
		}
	}
	return anthropic.ToolInputSchemaParam{
		Properties: props,
		Required:   required,
	}
}

// Stream starts a streaming Messages call and returns an *anthropicStreamer
// that translates SDK stream events into model.Chunk values.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (Streamer, error) {
	params, reqOpts, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}
	stream := c.sdk.Messages.NewStreaming(ctx, params, reqOpts...)
	return &anthropicStreamer{stream: stream, ctx: ctx}, nil
}

// Complete issues a single non-streaming call, used by the view_image
// tool's one-shot vision request, the planner's classification call and
// analyze_data's snippet generation.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (Response, error) {
	params, reqOpts, err := c.buildParams(req)
	if err != nil {
		return Response{}, err
	}
	msg, err := c.sdk.Messages.New(ctx, params, reqOpts...)
	if err != nil {
		return Response{}, translateAnthropicError(err)
	}
	parts := make([]Part, 0, len(msg.Content))
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			parts = append(parts, TextPart{Text: b.Text})
		case anthropic.ThinkingBlock:
			parts = append(parts, ThinkingPart{Text: b.Thinking, Signature: b.Signature})
		case anthropic.ToolUseBlock:
			var input map[string]any
			_ = json.Unmarshal([]byte(b.Input.RawJSON()), &input)
			parts = append(parts, ToolUsePart{ID: b.ID, Name: b.Name, Input: input})
		}
	}
	return Response{
		Parts:      parts,
		StopReason: translateStopReason(string(msg.StopReason)),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

func translateStopReason(s string) StopReason {
	switch s {
	case "tool_use":
		return StopReasonToolUse
	case "max_tokens":
		return StopReasonMaxTokens
	case "stop_sequence":
		return StopReasonStopSeq
	default:
		return StopReasonEndTurn
	}
}

func toAnthropicMessages(msgs []*Message) ([]anthropic.MessageParam, error) {
	out := make([]anthropic.MessageParam, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch v := p.(type) {
			case TextPart:
				blocks = append(blocks, anthropic.NewTextBlock(v.Text))
			case ThinkingPart:
				blocks = append(blocks, anthropic.NewThinkingBlock(v.Signature, v.Text))
			case ToolUsePart:
				blocks = append(blocks, anthropic.NewToolUseBlock(v.ID, v.Input, v.Name))
			case ToolResultPart:
				content, err := toolResultContent(v.Content)
				if err != nil {
					return nil, err
				}
				blocks = append(blocks, anthropic.NewToolResultBlock(v.ToolUseID, content, v.IsError))
			case ImagePart:
				blocks = append(blocks, anthropic.NewImageBlockBase64(v.MediaType, string(v.Data)))
			}
		}
		switch m.Role {
		case ConversationRoleUser:
			out = append(out, anthropic.NewUserMessage(blocks...))
		case ConversationRoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, fmt.Errorf("model: unsupported message role for anthropic transport: %q", m.Role)
		}
	}
	return out, nil
}

func toolResultContent(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case nil:
		return "", nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return "", err
		}
		return string(b), nil
	}
}

// translateAnthropicError classifies an Anthropic SDK error into a
// model.ProviderError, matching the taxonomy the Agent Loop and Job Runner
// dispatch on (§7.1 of the design doc).
func translateAnthropicError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := ProviderErrorKindUnknown
		retryable := false
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = ProviderErrorKindAuth
		case http.StatusTooManyRequests:
			kind = ProviderErrorKindRateLimited
			retryable = true
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			kind = ProviderErrorKindInvalidRequest
		case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
			kind = ProviderErrorKindUnavailable
			retryable = true
		default:
			if apiErr.StatusCode >= 500 {
				kind = ProviderErrorKindUnavailable
				retryable = true
			}
		}
		return NewProviderError("messages", apiErr.StatusCode, kind, "", apiErr.Message, apiErr.RequestID, retryable, err)
	}
	return NewProviderError("messages", 0, ProviderErrorKindUnavailable, "", err.Error(), "", true, err)
}
