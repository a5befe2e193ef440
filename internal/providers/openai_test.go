package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/unified"
)

func TestOpenAIAdapter_BuildRequest_Basic(t *testing.T) {
	adapter := NewOpenAIAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Text: "You are helpful"},
			{Role: unified.RoleUser, Text: "hello"},
		},
		Stream: true,
	}

	body, headers, url, err := adapter.BuildRequest(req, "gpt-4o-mini", Config{
		BaseURL: "https://api.openai.com/v1",
		APIKey:  "sk-test",
	})
	require.NoError(t, err)

	assert.Equal(t, "https://api.openai.com/v1/chat/completions", url)
	assert.Equal(t, "Bearer sk-test", headers.Get("Authorization"))

	v := gjson.ParseBytes(body)
	assert.Equal(t, "gpt-4o-mini", v.Get("model").String())
	assert.True(t, v.Get("stream").Bool())
	assert.Equal(t, "system", v.Get("messages.0.role").String())
	assert.Equal(t, "hello", v.Get("messages.1.content").String())
	assert.True(t, v.Get("stream_options.include_usage").Bool(), "streaming requests must ask for a final usage chunk")
}

func TestOpenAIAdapter_BuildRequest_NonStreamingOmitsStreamOptions(t *testing.T) {
	adapter := NewOpenAIAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{{Role: unified.RoleUser, Text: "hi"}},
	}

	body, _, _, err := adapter.BuildRequest(req, "gpt-4o-mini", Config{BaseURL: "https://api.openai.com/v1"})
	require.NoError(t, err)

	v := gjson.ParseBytes(body)
	assert.False(t, v.Get("stream_options").Exists())
}

func TestOpenAIAdapter_BuildRequest_ToolCallRoundTrip(t *testing.T) {
	adapter := NewOpenAIAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{
			{Role: unified.RoleUser, Text: "what's the weather"},
			{Role: unified.RoleAssistant, Parts: []unified.Part{
				{Kind: unified.PartToolCall, ToolCallID: "call_1", ToolName: "get_weather", ToolInput: []byte(`{"city":"nyc"}`)},
			}},
			{Role: unified.RoleTool, ToolResult: &unified.ToolResult{ToolCallID: "call_1", Text: "72F"}},
		},
		Tools: []unified.Tool{
			{Name: "get_weather", Description: "gets weather", InputSchema: []byte(`{"type":"object"}`)},
		},
		ToolChoice: &unified.ToolChoice{Mode: unified.ToolChoiceAuto},
	}

	body, _, _, err := adapter.BuildRequest(req, "gpt-4o", Config{BaseURL: "https://api.openai.com/v1"})
	require.NoError(t, err)

	v := gjson.ParseBytes(body)
	assert.Equal(t, "call_1", v.Get("messages.1.tool_calls.0.id").String())
	assert.Equal(t, "get_weather", v.Get("messages.1.tool_calls.0.function.name").String())
	assert.Equal(t, "call_1", v.Get("messages.2.tool_call_id").String())
	assert.Equal(t, "72F", v.Get("messages.2.content").String())
	assert.Equal(t, "auto", v.Get("tool_choice").String())
}

func TestOpenAIAdapter_BuildRequest_StripParameters(t *testing.T) {
	adapter := NewOpenAIAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{{Role: unified.RoleUser, Text: "hi"}},
		Sampling: &unified.Sampling{Temperature: floatPtr(0.7)},
	}

	body, _, _, err := adapter.BuildRequest(req, "o1-mini", Config{
		BaseURL:         "https://api.openai.com/v1",
		StripParameters: map[string][]string{"o1-mini": {"temperature"}},
	})
	require.NoError(t, err)

	assert.False(t, gjson.GetBytes(body, "temperature").Exists())
}

func TestOpenAIAdapter_ParseResponse(t *testing.T) {
	raw := []byte(`{
		"model": "gpt-4o",
		"choices": [{"message": {"content": "hi there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)

	resp, err := parseOpenAIResponse(raw)
	require.NoError(t, err)

	assert.Equal(t, unified.FinishStop, resp.FinishReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hi there", resp.Content[0].Text)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
}

func TestOpenAIAdapter_TranslateStreamChunk_TextAndFinish(t *testing.T) {
	state := &openAIStreamState{toolIndex: map[int]string{}}

	events := translateOpenAIChunk(`{"choices":[{"delta":{"content":"hel"}}]}`, state)
	require.Len(t, events, 2)
	assert.Equal(t, unified.EventTextStart, events[0].Kind)
	assert.Equal(t, unified.EventTextDelta, events[1].Kind)
	assert.Equal(t, "hel", events[1].Text)

	finishEvents := translateOpenAIChunk(`{"choices":[{"delta":{},"finish_reason":"stop"}]}`, state)
	require.Len(t, finishEvents, 2)
	assert.Equal(t, unified.EventTextEnd, finishEvents[0].Kind)
	assert.Equal(t, unified.EventFinish, finishEvents[1].Kind)
	assert.True(t, state.sentFinish)
}

func TestOpenAIAdapter_TranslateStreamChunk_ToolCall(t *testing.T) {
	state := &openAIStreamState{toolIndex: map[int]string{}}

	events := translateOpenAIChunk(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`, state)
	require.Len(t, events, 1)
	assert.Equal(t, unified.EventToolInputStart, events[0].Kind)
	assert.Equal(t, "call_1", events[0].ID)

	more := translateOpenAIChunk(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`, state)
	require.Len(t, more, 1)
	assert.Equal(t, unified.EventToolInputDelta, more[0].Kind)
}

func floatPtr(f float64) *float64 { return &f }
