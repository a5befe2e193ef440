package egress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/unified"
)

func sampleResponse() *unified.UnifiedResponse {
	return &unified.UnifiedResponse{
		FinishReason: unified.FinishToolCalls,
		Content: []unified.Part{
			{Kind: unified.PartText, Text: "let me check"},
			{Kind: unified.PartToolCall, ToolCallID: "call_1", ToolName: "get_weather", ToolInput: []byte(`{"city":"nyc"}`)},
		},
		Usage: unified.Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14},
	}
}

func TestOpenAIChatResponse(t *testing.T) {
	out := OpenAIChatResponse(sampleResponse(), "gpt-4o")

	choices := out["choices"].([]any)
	require.Len(t, choices, 1)
	choice := choices[0].(map[string]any)
	assert.Equal(t, "tool_calls", choice["finish_reason"])

	message := choice["message"].(map[string]any)
	toolCalls := message["tool_calls"].([]any)
	require.Len(t, toolCalls, 1)
	tc := toolCalls[0].(map[string]any)
	assert.Equal(t, "call_1", tc["id"])
}

func TestAnthropicMessagesResponse(t *testing.T) {
	out := AnthropicMessagesResponse(sampleResponse(), "claude-3-5-sonnet-latest")

	assert.Equal(t, "tool_use", out["stop_reason"])
	content := out["content"].([]any)
	require.Len(t, content, 2)
	assert.Equal(t, "text", content[0].(map[string]any)["type"])
	assert.Equal(t, "tool_use", content[1].(map[string]any)["type"])
}

func TestGeminiResponse(t *testing.T) {
	out := GeminiResponse(sampleResponse())

	candidates := out["candidates"].([]any)
	require.Len(t, candidates, 1)
	assert.Equal(t, "STOP", candidates[0].(map[string]any)["finishReason"])
}

func TestOpenAIResponsesResponse(t *testing.T) {
	out := OpenAIResponsesResponse(sampleResponse(), "gpt-4o")

	output := out["output"].([]any)
	require.Len(t, output, 2)
	assert.Equal(t, "message", output[0].(map[string]any)["type"])
	assert.Equal(t, "function_call", output[1].(map[string]any)["type"])
}

func TestUsageNilVsZeroDistinction(t *testing.T) {
	resp := sampleResponse()
	resp.Usage.CachedInputTokens = nil

	out := OpenAIChatResponse(resp, "gpt-4o")
	usage := out["usage"].(map[string]any)
	_, hasCached := usage["prompt_tokens_details"]
	assert.False(t, hasCached, "absent cached-token count must not appear as a zero field")

	n := 3
	resp.Usage.CachedInputTokens = &n
	out = OpenAIChatResponse(resp, "gpt-4o")
	usage = out["usage"].(map[string]any)
	details := usage["prompt_tokens_details"].(map[string]any)
	assert.Equal(t, 3, details["cached_tokens"])
}
