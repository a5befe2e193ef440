package providers

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/Davincible/plexus/internal/unified"
)

func TestGeminiAdapter_BuildRequest_NonStreaming(t *testing.T) {
	adapter := NewGeminiAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{
			{Role: unified.RoleSystem, Text: "be terse"},
			{Role: unified.RoleUser, Text: "hi"},
		},
	}

	body, _, url, err := adapter.BuildRequest(req, "gemini-1.5-pro", Config{
		BaseURL: "https://generativelanguage.googleapis.com",
		APIKey:  "gkey",
	})
	require.NoError(t, err)

	assert.True(t, strings.Contains(url, ":generateContent"))
	assert.True(t, strings.Contains(url, "key=gkey"))

	v := gjson.ParseBytes(body)
	assert.Equal(t, "be terse", v.Get("systemInstruction.parts.0.text").String())
	assert.Equal(t, "user", v.Get("contents.0.role").String())
}

func TestGeminiAdapter_BuildRequest_StreamingUsesSSEEndpoint(t *testing.T) {
	adapter := NewGeminiAdapter()

	req := &unified.UnifiedRequest{
		Messages: []unified.Message{{Role: unified.RoleUser, Text: "hi"}},
		Stream:   true,
	}

	_, _, url, err := adapter.BuildRequest(req, "gemini-1.5-pro", Config{BaseURL: "https://generativelanguage.googleapis.com"})
	require.NoError(t, err)

	assert.True(t, strings.Contains(url, ":streamGenerateContent"))
	assert.True(t, strings.Contains(url, "alt=sse"))
}

func TestGeminiAdapter_ParseResponse(t *testing.T) {
	raw := []byte(`{
		"candidates": [{
			"content": {"parts": [{"text": "hello there"}]},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 4, "candidatesTokenCount": 2, "totalTokenCount": 6}
	}`)

	resp, err := parseGeminiResponse(raw)
	require.NoError(t, err)

	assert.Equal(t, unified.FinishStop, resp.FinishReason)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "hello there", resp.Content[0].Text)
	assert.Equal(t, 6, resp.Usage.TotalTokens)
}

func TestGeminiAdapter_TranslateStreamChunk(t *testing.T) {
	state := &geminiStreamState{}

	events := translateGeminiChunk(`{"candidates":[{"content":{"parts":[{"text":"hel"}]}}]}`, state)
	require.Len(t, events, 2)
	assert.Equal(t, unified.EventTextStart, events[0].Kind)
	assert.Equal(t, unified.EventTextDelta, events[1].Kind)

	finish := translateGeminiChunk(`{"candidates":[{"content":{"parts":[]},"finishReason":"STOP"}],"usageMetadata":{"totalTokenCount":10}}`, state)
	require.Len(t, finish, 2)
	assert.Equal(t, unified.EventTextEnd, finish[0].Kind)
	assert.Equal(t, unified.EventFinish, finish[1].Kind)
}
