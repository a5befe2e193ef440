package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/unified"
)

func TestAnthropicAdapter_BuildRequest_SystemAndTools(t *testing.T) {
	adapter := NewAnthropicAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Text: "be concise"},
			{Role: unified.RoleUser, Text: "hi"},
		},
		Tools: []unified.Tool{
			{Name: "get_weather", Description: "gets weather", InputSchema: []byte(`{"type":"object"}`)},
		},
		ToolChoice: &unified.ToolChoice{Mode: unified.ToolChoiceRequired},
	}

	body, headers, url, err := adapter.BuildRequest(req, "claude-3-5-sonnet-latest", Config{
		BaseURL: "https://api.anthropic.com",
		APIKey:  "sk-ant-test",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.anthropic.com/v1/messages", url)
	assert.Equal(t, "sk-ant-test", headers.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", headers.Get("anthropic-version"))

	v := gjson.ParseBytes(body)
	assert.Equal(t, "be concise", v.Get("system").String())
	assert.Equal(t, "user", v.Get("messages.0.role").String())
	assert.Equal(t, "get_weather", v.Get("tools.0.name").String())
	assert.Equal(t, "any", v.Get("tool_choice.type").String())
	assert.True(t, v.Get("max_tokens").Exists(), "max_tokens must always be set for anthropic")
}

func TestAnthropicAdapter_BuildRequest_ToolResultAsUserMessage(t *testing.T) {
	adapter := NewAnthropicAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{
			{Role: unified.RoleTool, ToolResult: &unified.ToolResult{ToolCallID: "toolu_1", Text: "72F"}},
		},
	}

	body, _, _, err := adapter.BuildRequest(req, "claude-3-5-sonnet-latest", Config{BaseURL: "https://api.anthropic.com"})
	require.NoError(t, err)

	v := gjson.ParseBytes(body)
	assert.Equal(t, "user", v.Get("messages.0.role").String())
	assert.Equal(t, "tool_result", v.Get("messages.0.content.0.type").String())
	assert.Equal(t, "toolu_1", v.Get("messages.0.content.0.tool_use_id").String())
}

func TestAnthropicAdapter_ParseResponse(t *testing.T) {
	raw := []byte(`{
		"model": "claude-3-5-sonnet-latest",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "checking..."},
			{"type": "tool_use", "id": "toolu_1", "name": "get_weather", "input": {"city": "nyc"}}
		],
		"usage": {"input_tokens": 20, "output_tokens": 8}
	}`)

	resp, err := parseAnthropicResponse(raw)
	require.NoError(t, err)

	assert.Equal(t, unified.FinishToolCalls, resp.FinishReason)
	require.Len(t, resp.Content, 2)
	assert.Equal(t, "checking...", resp.Content[0].Text)
	assert.Equal(t, "get_weather", resp.Content[1].ToolName)
	assert.Equal(t, 28, resp.Usage.TotalTokens)
}

func TestAnthropicAdapter_TranslateStreamChunks(t *testing.T) {
	state := &anthropicStreamState{blockKind: map[int]string{}, blockID: map[int]string{}}

	start := translateAnthropicChunk(`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`, state)
	require.Len(t, start, 1)
	assert.Equal(t, unified.EventTextStart, start[0].Kind)

	delta := translateAnthropicChunk(`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"hi"}}`, state)
	require.Len(t, delta, 1)
	assert.Equal(t, "hi", delta[0].Text)

	stop := translateAnthropicChunk(`{"type":"content_block_stop","index":0}`, state)
	require.Len(t, stop, 1)
	assert.Equal(t, unified.EventTextEnd, stop[0].Kind)

	finish := translateAnthropicChunk(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":12}}`, state)
	require.Len(t, finish, 1)
	assert.Equal(t, unified.EventFinish, finish[0].Kind)
	assert.Equal(t, unified.FinishStop, finish[0].FinishReason)
}

func TestAnthropicAdapter_MessageStartCarriesInputTokens(t *testing.T) {
	state := &anthropicStreamState{blockKind: map[int]string{}, blockID: map[int]string{}}

	start := translateAnthropicChunk(`{"type":"message_start","message":{"usage":{"input_tokens":37}}}`, state)
	require.Len(t, start, 1)
	assert.Equal(t, unified.EventStart, start[0].Kind)
	require.NotNil(t, start[0].Usage)
	assert.Equal(t, 37, start[0].Usage.InputTokens)
	assert.Equal(t, 37, state.usage.InputTokens)

	finish := translateAnthropicChunk(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":12}}`, state)
	require.Len(t, finish, 1)
	require.NotNil(t, finish[0].Usage)
	assert.Equal(t, 37, finish[0].Usage.InputTokens, "input tokens from message_start must survive into the finish event")
	assert.Equal(t, 12, finish[0].Usage.OutputTokens)
}
