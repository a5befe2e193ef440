package dispatcher

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/cooldown"
	"github.com/Davincible/plexus/internal/gatewayerr"
	"github.com/Davincible/plexus/internal/providers"
	"github.com/Davincible/plexus/internal/router"
	"github.com/Davincible/plexus/internal/store"
	"github.com/Davincible/plexus/internal/unified"
)

// fakeStore is a minimal store.Store that only records ErrorRecords, for
// asserting the dispatcher's per-attempt failure logging without a real
// database.
type fakeStore struct {
	mu     sync.Mutex
	errors []store.ErrorRecord
}

func (s *fakeStore) RecordUsage(context.Context, store.UsageRecord) error { return nil }

func (s *fakeStore) RecordError(_ context.Context, rec store.ErrorRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, rec)
	return nil
}

func (s *fakeStore) RecordClassifierLog(context.Context, store.ClassifierLogRecord) error { return nil }
func (s *fakeStore) SaveDebugLog(context.Context, store.DebugLogRecord) error              { return nil }
func (s *fakeStore) ListDebugLogs(context.Context, int) ([]store.DebugLogRecord, error)    { return nil, nil }
func (s *fakeStore) GetDebugLog(context.Context, string) (*store.DebugLogRecord, error)    { return nil, nil }
func (s *fakeStore) DeleteDebugLog(context.Context, string) error                          { return nil }
func (s *fakeStore) SaveConfigSnapshot(context.Context, store.ConfigSnapshotRecord) error   { return nil }
func (s *fakeStore) LoadConfigSnapshot(context.Context, string) (*store.ConfigSnapshotRecord, error) {
	return nil, nil
}
func (s *fakeStore) Close() error { return nil }

func (s *fakeStore) recordedErrors() []store.ErrorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]store.ErrorRecord(nil), s.errors...)
}

// fakeAdapter lets tests script a sequence of outcomes without touching the
// network, standing in for providers.Adapter.
type fakeAdapter struct {
	invokeFn func() (*unified.UnifiedResponse, error)
	streamFn func() (<-chan unified.StreamEvent, error)
}

func (f *fakeAdapter) BuildRequest(req *unified.UnifiedRequest, model string, cfg providers.Config) ([]byte, http.Header, string, error) {
	return []byte("{}"), http.Header{}, "http://fake", nil
}

func (f *fakeAdapter) Invoke(ctx context.Context, body []byte, headers http.Header, url string) (*unified.UnifiedResponse, error) {
	return f.invokeFn()
}

func (f *fakeAdapter) InvokeStream(ctx context.Context, body []byte, headers http.Header, url string) (<-chan unified.StreamEvent, error) {
	return f.streamFn()
}

func testRouter(aliases map[string]router.Alias) *router.Router {
	return router.New(&router.Snapshot{Aliases: aliases}, nil)
}

func singleTargetAlias(name, provider, model string) router.Alias {
	return router.Alias{Name: name, Selector: router.SelectorPriority, Targets: []router.Target{{Provider: provider, Model: model}}}
}

func TestDispatch_SuccessOnFirstCandidate(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register("fake", &fakeAdapter{invokeFn: func() (*unified.UnifiedResponse, error) {
		return &unified.UnifiedResponse{FinishReason: unified.FinishStop}, nil
	}})

	d := New(
		testRouter(map[string]router.Alias{"m": singleTargetAlias("m", "p1", "upstream-model")}),
		cooldown.New(nil),
		registry,
		&fakeStore{},
		DefaultRetryConfig(),
		nil,
	)
	d.PublishProviders(map[string]providers.Config{"p1": {Type: "fake", Enabled: true}})

	out, err := d.Dispatch(context.Background(), &unified.UnifiedRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "p1", out.Provider)
	assert.Len(t, out.Attempts, 1)
}

func TestDispatch_RetriesTransientThenSucceeds(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register("fake", &fakeAdapter{invokeFn: func() (*unified.UnifiedResponse, error) {
		return nil, gatewayerr.New(gatewayerr.ClassUpstreamTransient, "boom")
	}})
	registry.Register("fake2", &fakeAdapter{invokeFn: func() (*unified.UnifiedResponse, error) {
		return &unified.UnifiedResponse{FinishReason: unified.FinishStop}, nil
	}})

	alias := router.Alias{Name: "m", Selector: router.SelectorPriority, Targets: []router.Target{
		{Provider: "p1", Model: "um1"},
		{Provider: "p2", Model: "um2"},
	}}

	retry := DefaultRetryConfig()
	retry.BaseDelay = time.Millisecond
	retry.MaxDelay = 2 * time.Millisecond

	st := &fakeStore{}
	d := New(testRouter(map[string]router.Alias{"m": alias}), cooldown.New(nil), registry, st, retry, nil)
	d.PublishProviders(map[string]providers.Config{
		"p1": {Type: "fake", Enabled: true},
		"p2": {Type: "fake2", Enabled: true},
	})

	out, err := d.Dispatch(context.Background(), &unified.UnifiedRequest{RequestID: "req-retry", Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "p2", out.Provider)
	assert.Len(t, out.Attempts, 2)

	assert.True(t, cdMgrOnCooldown(d))

	errs := st.recordedErrors()
	require.Len(t, errs, 1, "the failed first attempt must be logged to the errors table")
	assert.Equal(t, "req-retry", errs[0].RequestID)
	assert.Equal(t, "p1", errs[0].Provider)
	assert.Equal(t, string(gatewayerr.ClassUpstreamTransient), errs[0].Class)
}

func cdMgrOnCooldown(d *Dispatcher) bool {
	return d.cooldown.IsOnCooldown("p1", time.Now())
}

func TestDispatch_FatalErrorPropagatesImmediately(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register("fake", &fakeAdapter{invokeFn: func() (*unified.UnifiedResponse, error) {
		return nil, gatewayerr.New(gatewayerr.ClassUpstreamAuth, "bad key")
	}})
	registry.Register("fake2", &fakeAdapter{invokeFn: func() (*unified.UnifiedResponse, error) {
		return &unified.UnifiedResponse{}, nil
	}})

	alias := router.Alias{Name: "m", Selector: router.SelectorPriority, Targets: []router.Target{
		{Provider: "p1", Model: "um1"},
		{Provider: "p2", Model: "um2"},
	}}

	d := New(testRouter(map[string]router.Alias{"m": alias}), cooldown.New(nil), registry, &fakeStore{}, DefaultRetryConfig(), nil)
	d.PublishProviders(map[string]providers.Config{
		"p1": {Type: "fake", Enabled: true},
		"p2": {Type: "fake2", Enabled: true},
	})

	_, err := d.Dispatch(context.Background(), &unified.UnifiedRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, gatewayerr.ClassUpstreamAuth, gatewayerr.ClassOf(err))

	assert.True(t, d.cooldown.IsOnCooldown("p1", time.Now()), "auth failures still place the provider on cooldown")
}

func TestDispatch_AllCandidatesExhausted(t *testing.T) {
	registry := providers.NewRegistry()
	registry.Register("fake", &fakeAdapter{invokeFn: func() (*unified.UnifiedResponse, error) {
		return nil, gatewayerr.New(gatewayerr.ClassUpstreamTransient, "down")
	}})

	retry := DefaultRetryConfig()
	retry.BaseDelay = time.Millisecond
	retry.MaxDelay = 2 * time.Millisecond

	d := New(
		testRouter(map[string]router.Alias{"m": singleTargetAlias("m", "p1", "upstream-model")}),
		cooldown.New(nil),
		registry,
		&fakeStore{},
		retry,
		nil,
	)
	d.PublishProviders(map[string]providers.Config{"p1": {Type: "fake", Enabled: true}})

	_, err := d.Dispatch(context.Background(), &unified.UnifiedRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, gatewayerr.ClassNoEligible, gatewayerr.ClassOf(err))
}

func TestDispatchStream_PassesChannelWithoutBuffering(t *testing.T) {
	events := make(chan unified.StreamEvent, 1)
	events <- unified.StreamEvent{Kind: unified.EventFinish, FinishReason: unified.FinishStop}
	close(events)

	registry := providers.NewRegistry()
	registry.Register("fake", &fakeAdapter{streamFn: func() (<-chan unified.StreamEvent, error) {
		return events, nil
	}})

	d := New(
		testRouter(map[string]router.Alias{"m": singleTargetAlias("m", "p1", "upstream-model")}),
		cooldown.New(nil),
		registry,
		&fakeStore{},
		DefaultRetryConfig(),
		nil,
	)
	d.PublishProviders(map[string]providers.Config{"p1": {Type: "fake", Enabled: true}})

	out, err := d.DispatchStream(context.Background(), &unified.UnifiedRequest{Model: "m", Stream: true})
	require.NoError(t, err)

	ev := <-out.Events
	assert.Equal(t, unified.EventFinish, ev.Kind)
}
