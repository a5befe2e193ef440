package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Defaults(t *testing.T) {
	registry := NewRegistry()

	for _, name := range []string{"openai", "openrouter", "nvidia", "anthropic", "gemini"} {
		adapter, ok := registry.Get(name)
		assert.True(t, ok, "expected adapter registered for %q", name)
		assert.NotNil(t, adapter)
	}

	_, ok := registry.Get("unknown")
	assert.False(t, ok)
}

func TestRegistry_OpenAICompatibleTypesShareAdapter(t *testing.T) {
	registry := NewRegistry()

	openai, _ := registry.Get("openai")
	openrouter, _ := registry.Get("openrouter")
	nvidia, _ := registry.Get("nvidia")

	assert.IsType(t, &OpenAIAdapter{}, openai)
	assert.IsType(t, &OpenAIAdapter{}, openrouter)
	assert.IsType(t, &OpenAIAdapter{}, nvidia)
}

func TestRegistry_MustGet(t *testing.T) {
	registry := NewRegistry()

	adapter, err := registry.MustGet("anthropic")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicAdapter{}, adapter)

	_, err = registry.MustGet("does-not-exist")
	assert.Error(t, err)
}
