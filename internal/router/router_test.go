package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/classifier"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/unified"
)

type fakeLogger struct {
	calls []string
}

func (f *fakeLogger) LogClassifierDecision(ctx context.Context, requestID string, result classifier.Result, resolvedAlias string) {
	f.calls = append(f.calls, resolvedAlias)
}

func snapshotFixture() *Snapshot {
	return &Snapshot{
		Aliases: map[string]Alias{
			"default": {Name: "default", Selector: SelectorPriority, Targets: []Target{
				{Provider: "openai", Model: "gpt-4o"},
				{Provider: "anthropic", Model: "claude-sonnet-4-5"},
			}},
			"fast": {Name: "fast", Selector: SelectorRoundRobin, Targets: []Target{
				{Provider: "a", Model: "m1"},
				{Provider: "b", Model: "m2"},
			}},
		},
		Auto: AutoConfig{
			Enabled: true,
			TierModels: map[classifier.Tier]string{
				classifier.TierHeartbeat: "fast",
				classifier.TierSimple:    "fast",
				classifier.TierMedium:    "default",
				classifier.TierComplex:   "default",
				classifier.TierReasoning: "default",
			},
			ClassifierConfig: classifier.DefaultConfig(),
		},
	}
}

func TestResolve_UnknownAliasReturnsGatewayError(t *testing.T) {
	r := New(snapshotFixture(), nil)
	_, err := r.Resolve(context.Background(), &unified.UnifiedRequest{}, "nonexistent")
	require.Error(t, err)
	assert.Equal(t, gatewayerr.ClassUnknownModel, gatewayerr.ClassOf(err))
}

func TestResolve_PriorityKeepsDeclaredOrder(t *testing.T) {
	r := New(snapshotFixture(), nil)
	cands, err := r.Resolve(context.Background(), &unified.UnifiedRequest{}, "default")
	require.NoError(t, err)
	require.Len(t, cands, 2)
	assert.Equal(t, "openai", cands[0].Provider)
	assert.Equal(t, "anthropic", cands[1].Provider)
}

func TestResolve_RoundRobinRotatesAcrossCalls(t *testing.T) {
	r := New(snapshotFixture(), nil)

	first, err := r.Resolve(context.Background(), &unified.UnifiedRequest{}, "fast")
	require.NoError(t, err)
	second, err := r.Resolve(context.Background(), &unified.UnifiedRequest{}, "fast")
	require.NoError(t, err)

	assert.NotEqual(t, first[0].Provider, second[0].Provider)
}

func TestResolve_AutoRequiresEnabled(t *testing.T) {
	snap := snapshotFixture()
	snap.Auto.Enabled = false
	r := New(snap, nil)

	_, err := r.Resolve(context.Background(), &unified.UnifiedRequest{RequestID: "r1"}, "auto")
	require.Error(t, err)
	assert.Equal(t, gatewayerr.ClassConfigError, gatewayerr.ClassOf(err))
}

func TestResolve_AutoLogsClassifierDecision(t *testing.T) {
	logger := &fakeLogger{}
	r := New(snapshotFixture(), logger)

	req := &unified.UnifiedRequest{
		RequestID: "r1",
		Messages:  []unified.Message{{Role: unified.RoleUser, Text: "hi"}},
	}
	cands, err := r.Resolve(context.Background(), req, "auto")
	require.NoError(t, err)
	assert.NotEmpty(t, cands)
	require.Len(t, logger.calls, 1)
	assert.Equal(t, "fast", logger.calls[0])
}

func TestPublish_PreservesRoundRobinCounterAcrossReload(t *testing.T) {
	r := New(snapshotFixture(), nil)

	first, err := r.Resolve(context.Background(), &unified.UnifiedRequest{}, "fast")
	require.NoError(t, err)

	r.Publish(snapshotFixture())

	second, err := r.Resolve(context.Background(), &unified.UnifiedRequest{}, "fast")
	require.NoError(t, err)

	assert.NotEqual(t, first[0].Provider, second[0].Provider)
}
