package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Davincible/plexus/internal/tracer"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore_UsageRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordUsage(ctx, UsageRecord{
		RequestID: "req-1", Provider: "openai", UpstreamModel: "gpt-4o",
		RequestedAlias: "default", InputTokens: 100, OutputTokens: 20,
		CostUSD: 0.01, CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestSQLiteStore_DebugLogLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := DebugLogRecord{RequestID: "req-1", RawRequest: []byte(`{"a":1}`), CreatedAt: time.Now()}
	require.NoError(t, s.SaveDebugLog(ctx, rec))

	got, err := s.GetDebugLog(ctx, "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`{"a":1}`), got.RawRequest)

	list, err := s.ListDebugLogs(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, s.DeleteDebugLog(ctx, "req-1"))
	got, err = s.GetDebugLog(ctx, "req-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSQLiteStore_ConfigSnapshotUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, s.SaveConfigSnapshot(ctx, ConfigSnapshotRecord{
		Name: "active", Config: []byte("providers: []"), CreatedAt: now, UpdatedAt: now,
	}))

	require.NoError(t, s.SaveConfigSnapshot(ctx, ConfigSnapshotRecord{
		Name: "active", Config: []byte("providers: [x]"), CreatedAt: now, UpdatedAt: now.Add(time.Minute),
	}))

	got, err := s.LoadConfigSnapshot(ctx, "active")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte("providers: [x]"), got.Config)
}

func TestSQLiteStore_ClassifierLog(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.RecordClassifierLog(ctx, ClassifierLogRecord{
		RequestID: "req-1", Tier: "medium", Score: 0.5, Confidence: 0.8,
		Method: "rules", ResolvedAlias: "default-medium", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
}

func TestTraceSink_NonStreamingTrace(t *testing.T) {
	s := newTestStore(t)
	sink := NewTraceSink(s)

	trace := tracer.NewTrace("req-1", tracer.HTTPExchange{Body: []byte(`{"in":true}`)})
	trace.RecordProviderResponse(tracer.HTTPExchange{Body: []byte(`{"out":true}`), Status: 200})

	require.NoError(t, sink.SaveTrace(context.Background(), trace))

	got, err := s.GetDebugLog(context.Background(), "req-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, []byte(`{"out":true}`), got.RawResponse)
}

func TestTraceSink_StreamingTraceUsesSnapshotColumns(t *testing.T) {
	s := newTestStore(t)
	sink := NewTraceSink(s)

	trace := tracer.NewTrace("req-2", tracer.HTTPExchange{Body: []byte(`{}`)})
	trace.AppendProviderChunk([]byte(`data: chunk1`))
	trace.AppendProviderChunk([]byte(`data: chunk2`))

	require.NoError(t, sink.SaveTrace(context.Background(), trace))

	got, err := s.GetDebugLog(context.Background(), "req-2")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Contains(t, string(got.RawResponseSnapshot), "chunk1")
	assert.Contains(t, string(got.RawResponseSnapshot), "chunk2")
	assert.Nil(t, got.RawResponse)
}
