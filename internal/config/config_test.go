package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exampleYAML() string {
	return `
host: "0.0.0.0"
port: 8080
api_key: "test-proxy-key"
providers:
  - name: openrouter
    type: openrouter
    base_url: https://openrouter.ai/api/v1
    api_key: test-openrouter-key
    enabled: true
  - name: anthropic
    type: anthropic
    base_url: https://api.anthropic.com
    api_key: test-anthropic-key
    enabled: true
models:
  default:
    selector: priority
    targets:
      - provider: openrouter
        model: anthropic/claude-3.5-sonnet
      - provider: anthropic
        model: claude-3-5-sonnet-20241022
auto:
  enabled: true
  tier_models:
    heartbeat: default
    simple: default
    medium: default
    complex: default
    reasoning: default
  agentic_boost_threshold: 0.6
`
}

func TestManager_LoadAndGet(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(tmpDir)

	require.NoError(t, os.WriteFile(mgr.Path(), []byte(exampleYAML()), 0644))

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "test-proxy-key", cfg.APIKey)

	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, "openrouter", cfg.Providers[0].Name)
	assert.True(t, cfg.Providers[0].Enabled)

	require.Contains(t, cfg.Models, "default")
	assert.Equal(t, "priority", cfg.Models["default"].Selector)
	require.Len(t, cfg.Models["default"].Targets, 2)

	assert.True(t, cfg.Auto.Enabled)
	assert.Equal(t, "default", cfg.Auto.TierModels["reasoning"])

	assert.Same(t, cfg, mgr.Get())
}

func TestManager_Defaults(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(tmpDir)

	require.NoError(t, os.WriteFile(mgr.Path(), []byte("providers: []\nmodels: {}\n"), 0644))

	cfg, err := mgr.Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDataDirname, cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, DefaultSweepInterval, cfg.Resilience.Cooldown.SweepIntervalCron)
}

func TestManager_GetWithoutLoadFallsBackToDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(tmpDir)

	cfg := mgr.Get()
	require.NotNil(t, cfg)
	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Equal(t, DefaultPort, cfg.Port)
}

func TestManager_MissingFile(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(tmpDir)

	_, err := mgr.Load()
	assert.Error(t, err)
	assert.False(t, mgr.Exists())
}

func TestManager_SaveRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewManager(tmpDir)

	cfg := &Config{
		Host: "127.0.0.1",
		Port: 7000,
		Providers: []ProviderConfig{
			{Name: "openai", Type: "openai", BaseURL: "https://api.openai.com", APIKey: "k", Enabled: true},
		},
		Models: map[string]ModelAliasConfig{
			"default": {Targets: []TargetConfig{{Provider: "openai", Model: "gpt-4o"}}},
		},
	}

	require.NoError(t, mgr.Save(cfg))
	assert.True(t, mgr.Exists())

	loaded, err := mgr.Load()
	require.NoError(t, err)
	assert.Equal(t, cfg.Host, loaded.Host)
	assert.Equal(t, cfg.Providers[0].Name, loaded.Providers[0].Name)
}

func TestClassifierConfig_ValidateRequiresAllSixteenWeights(t *testing.T) {
	c := ClassifierConfig{DimensionWeights: map[string]float64{"token_count": 1.0}}
	err := c.Validate()
	assert.ErrorContains(t, err, "code_presence")
}

func TestClassifierConfig_ValidatePassesWithAllSixteen(t *testing.T) {
	weights := make(map[string]float64, len(dimensionWeightKeys))
	for _, k := range dimensionWeightKeys {
		weights[k] = 1.0
	}
	c := ClassifierConfig{DimensionWeights: weights}
	assert.NoError(t, c.Validate())
}

func TestConfig_ValidateRejectsEmptyAliasTargets(t *testing.T) {
	cfg := &Config{Models: map[string]ModelAliasConfig{"bad": {}}}
	err := cfg.Validate()
	assert.ErrorContains(t, err, "bad")
}

func TestConfig_ToProviderConfigs(t *testing.T) {
	cfg := &Config{Providers: []ProviderConfig{
		{Name: "openai", Type: "openai", BaseURL: "https://api.openai.com", Enabled: true},
	}}
	out := cfg.ToProviderConfigs()
	require.Contains(t, out, "openai")
	assert.Equal(t, "https://api.openai.com", out["openai"].BaseURL)
}

func TestConfig_ToRouterSnapshot(t *testing.T) {
	mgr := NewManager(t.TempDir())
	require.NoError(t, os.WriteFile(mgr.Path(), []byte(exampleYAML()), 0644))
	cfg, err := mgr.Load()
	require.NoError(t, err)

	snap := cfg.ToRouterSnapshot()
	require.Contains(t, snap.Aliases, "default")
	assert.True(t, snap.Auto.Enabled)
	assert.InDelta(t, 0.6, snap.Auto.AgenticBoostThreshold, 1e-9)
}

func TestConfig_ToRetryConfigFallsBackToDefaults(t *testing.T) {
	cfg := &Config{}
	rc := cfg.ToRetryConfig()
	assert.Equal(t, 3, rc.MaxAttempts)
}

func TestConfig_ToPricingTable(t *testing.T) {
	cfg := &Config{Pricing: PricingConfig{Models: map[string]ModelPricingConfig{
		"openai/gpt-4o": {Brackets: []BracketConfig{{MinInputTokens: 0, Input: 5, Output: 15}}, Discount: 0.9},
	}}}

	table := cfg.ToPricingTable()
	pricing, ok := table.Lookup("openai", "gpt-4o")
	require.True(t, ok)
	assert.InDelta(t, 0.9, pricing.Discount, 1e-9)
}

func TestManager_PathHonorsConfigFileEnv(t *testing.T) {
	tmpDir := t.TempDir()
	custom := filepath.Join(tmpDir, "custom.yaml")
	t.Setenv("CONFIG_FILE", custom)

	mgr := NewManagerFromEnv(tmpDir)
	assert.Equal(t, custom, mgr.Path())
}
