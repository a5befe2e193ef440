// Package egress implements the per-dialect translators that turn a
// unified.UnifiedResponse, or a stream of unified.StreamEvent, back into a
// client's wire dialect. Non-streaming translators are pure functions;
// streaming translators are stateful transducers, one instance per request.
package egress

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/Davincible/plexus/internal/unified"
)

// OpenAIChatResponse renders resp as an OpenAI chat/completions object.
func OpenAIChatResponse(resp *unified.UnifiedResponse, model string) map[string]any {
	message := map[string]any{"role": "assistant"}
	var text string
	var toolCalls []any

	for _, p := range resp.Content {
		switch p.Kind {
		case unified.PartText:
			text += p.Text
		case unified.PartToolCall:
			toolCalls = append(toolCalls, map[string]any{
				"id":   p.ToolCallID,
				"type": "function",
				"function": map[string]any{
					"name":      p.ToolName,
					"arguments": string(p.ToolInput),
				},
			})
		}
	}

	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		if text == "" {
			message["content"] = nil
		} else {
			message["content"] = text
		}
	} else {
		message["content"] = text
	}

	usage := map[string]any{
		"prompt_tokens":     resp.Usage.InputTokens,
		"completion_tokens": resp.Usage.OutputTokens,
		"total_tokens":      resp.Usage.TotalTokens,
	}
	if resp.Usage.CachedInputTokens != nil {
		usage["prompt_tokens_details"] = map[string]any{"cached_tokens": *resp.Usage.CachedInputTokens}
	}
	if resp.Usage.ReasoningTokens != nil {
		usage["completion_tokens_details"] = map[string]any{"reasoning_tokens": *resp.Usage.ReasoningTokens}
	}

	return map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": nowUnix(),
		"model":   modelOrProvider(model, resp.ProviderModel),
		"choices": []any{
			map[string]any{
				"index":         0,
				"message":       message,
				"finish_reason": mapFinishOpenAI(resp.FinishReason),
			},
		},
		"usage": usage,
	}
}

// AnthropicMessagesResponse renders resp as an Anthropic Messages object.
func AnthropicMessagesResponse(resp *unified.UnifiedResponse, model string) map[string]any {
	content := make([]any, 0, len(resp.Content))
	for _, p := range resp.Content {
		switch p.Kind {
		case unified.PartText:
			content = append(content, map[string]any{"type": "text", "text": p.Text})
		case unified.PartToolCall:
			var input any
			_ = json.Unmarshal(p.ToolInput, &input)
			content = append(content, map[string]any{"type": "tool_use", "id": p.ToolCallID, "name": p.ToolName, "input": input})
		}
	}

	usage := map[string]any{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}
	if resp.Usage.CachedInputTokens != nil {
		usage["cache_read_input_tokens"] = *resp.Usage.CachedInputTokens
	}

	return map[string]any{
		"id":            "msg_" + uuid.NewString(),
		"type":          "message",
		"role":          "assistant",
		"model":         modelOrProvider(model, resp.ProviderModel),
		"content":       content,
		"stop_reason":   mapFinishAnthropic(resp.FinishReason),
		"stop_sequence": nil,
		"usage":         usage,
	}
}

// GeminiResponse renders resp as a Gemini generateContent object.
func GeminiResponse(resp *unified.UnifiedResponse) map[string]any {
	parts := make([]any, 0, len(resp.Content))
	for _, p := range resp.Content {
		switch p.Kind {
		case unified.PartText:
			parts = append(parts, map[string]any{"text": p.Text})
		case unified.PartToolCall:
			var args any
			_ = json.Unmarshal(p.ToolInput, &args)
			parts = append(parts, map[string]any{"functionCall": map[string]any{"name": p.ToolName, "args": args}})
		}
	}

	usage := map[string]any{
		"promptTokenCount":     resp.Usage.InputTokens,
		"candidatesTokenCount": resp.Usage.OutputTokens,
		"totalTokenCount":      resp.Usage.TotalTokens,
	}
	if resp.Usage.CachedInputTokens != nil {
		usage["cachedContentTokenCount"] = *resp.Usage.CachedInputTokens
	}

	return map[string]any{
		"candidates": []any{
			map[string]any{
				"content":      map[string]any{"role": "model", "parts": parts},
				"finishReason": mapFinishGemini(resp.FinishReason),
				"index":        0,
			},
		},
		"usageMetadata": usage,
	}
}

// OpenAIResponsesResponse renders resp as an OpenAI Responses object.
func OpenAIResponsesResponse(resp *unified.UnifiedResponse, model string) map[string]any {
	output := make([]any, 0, len(resp.Content))
	for _, p := range resp.Content {
		switch p.Kind {
		case unified.PartText:
			output = append(output, map[string]any{
				"type": "message",
				"role": "assistant",
				"content": []any{
					map[string]any{"type": "output_text", "text": p.Text},
				},
			})
		case unified.PartToolCall:
			output = append(output, map[string]any{
				"type":      "function_call",
				"call_id":   p.ToolCallID,
				"name":      p.ToolName,
				"arguments": string(p.ToolInput),
			})
		}
	}

	usage := map[string]any{
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
		"total_tokens":  resp.Usage.TotalTokens,
	}
	if resp.Usage.CachedInputTokens != nil {
		usage["input_tokens_details"] = map[string]any{"cached_tokens": *resp.Usage.CachedInputTokens}
	}
	if resp.Usage.ReasoningTokens != nil {
		usage["output_tokens_details"] = map[string]any{"reasoning_tokens": *resp.Usage.ReasoningTokens}
	}

	return map[string]any{
		"id":      "resp_" + uuid.NewString(),
		"object":  "response",
		"created": nowUnix(),
		"model":   modelOrProvider(model, resp.ProviderModel),
		"status":  "completed",
		"output":  output,
		"usage":   usage,
	}
}

func mapFinishOpenAI(r unified.FinishReason) string {
	switch r {
	case unified.FinishStop:
		return "stop"
	case unified.FinishLength:
		return "length"
	case unified.FinishToolCalls:
		return "tool_calls"
	case unified.FinishContentFilter:
		return "content_filter"
	default:
		return "stop"
	}
}

func mapFinishAnthropic(r unified.FinishReason) string {
	switch r {
	case unified.FinishStop:
		return "end_turn"
	case unified.FinishLength:
		return "max_tokens"
	case unified.FinishToolCalls:
		return "tool_use"
	case unified.FinishContentFilter:
		return "safety"
	default:
		return "end_turn"
	}
}

func mapFinishGemini(r unified.FinishReason) string {
	switch r {
	case unified.FinishStop:
		return "STOP"
	case unified.FinishLength:
		return "MAX_TOKENS"
	case unified.FinishToolCalls:
		return "STOP"
	case unified.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

func modelOrProvider(requested, providerModel string) string {
	if requested != "" {
		return requested
	}
	return providerModel
}

func nowUnix() int64 {
	return time.Now().Unix()
}
