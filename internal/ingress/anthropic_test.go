package ingress

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/unified"
)

func TestAnthropic_RequiresModel(t *testing.T) {
	_, err := Anthropic([]byte(`{"messages":[]}`))
	require.Error(t, err)
}

func TestAnthropic_TranslatesSystemStringAndUserMessage(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","system":"be helpful","messages":[{"role":"user","content":"hi"}]}`
	res, err := Anthropic([]byte(body))
	require.NoError(t, err)
	require.Len(t, res.Request.Messages, 2)
	assert.Equal(t, unified.RoleSystem, res.Request.Messages[0].Role)
	assert.Equal(t, "be helpful", res.Request.Messages[0].Text)
	assert.Equal(t, unified.RoleUser, res.Request.Messages[1].Role)
}

func TestAnthropic_ToolUseAndToolResultRoundTrip(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"tu_1","name":"lookup","input":{"q":"x"}}]},
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"tu_1","content":"42"}]}
	]}`
	res, err := Anthropic([]byte(body))
	require.NoError(t, err)
	require.Len(t, res.Request.Messages, 2)

	assistant := res.Request.Messages[0]
	require.Len(t, assistant.Parts, 1)
	assert.Equal(t, unified.PartToolCall, assistant.Parts[0].Kind)
	assert.Equal(t, "lookup", assistant.Parts[0].ToolName)

	toolMsg := res.Request.Messages[1]
	assert.Equal(t, unified.RoleTool, toolMsg.Role)
	require.NotNil(t, toolMsg.ToolResult)
	assert.Equal(t, "lookup", toolMsg.ToolResult.ToolName)
}

func TestAnthropic_ThinkingBlockBecomesReasoningPart(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","messages":[{"role":"assistant","content":[{"type":"thinking","thinking":"step by step"}]}]}`
	res, err := Anthropic([]byte(body))
	require.NoError(t, err)
	require.Len(t, res.Request.Messages, 1)
	require.Len(t, res.Request.Messages[0].Parts, 1)
	assert.Equal(t, unified.PartReasoning, res.Request.Messages[0].Parts[0].Kind)
}

func TestAnthropic_ToolChoiceAnyMapsToRequired(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}],"tool_choice":{"type":"any"}}`
	res, err := Anthropic([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, res.Request.ToolChoice)
	assert.Equal(t, unified.ToolChoiceRequired, res.Request.ToolChoice.Mode)
}

func TestAnthropic_SamplingIncludesStopSequences(t *testing.T) {
	body := `{"model":"claude-sonnet-4-5","messages":[{"role":"user","content":"hi"}],"max_tokens":256,"stop_sequences":["STOP"]}`
	res, err := Anthropic([]byte(body))
	require.NoError(t, err)
	require.NotNil(t, res.Request.Sampling)
	require.NotNil(t, res.Request.Sampling.MaxOutputTokens)
	assert.Equal(t, 256, *res.Request.Sampling.MaxOutputTokens)
	assert.Equal(t, []string{"STOP"}, res.Request.Sampling.StopSequences)
}
