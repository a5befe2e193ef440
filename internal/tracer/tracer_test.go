package tracer

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu      sync.Mutex
	saved   []*DebugTrace
	blockCh chan struct{}
}

func (f *fakeSink) SaveTrace(ctx context.Context, t *DebugTrace) error {
	if f.blockCh != nil {
		<-f.blockCh
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, t)
	return nil
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.saved)
}

func TestTracer_FinishPersistsAsynchronously(t *testing.T) {
	sink := &fakeSink{}
	tr := New(sink, nil, 16)
	defer tr.Stop()

	trace := NewTrace("req-1", HTTPExchange{Body: []byte(`{}`)})
	tr.Finish(trace)

	require.Eventually(t, func() bool { return sink.count() == 1 }, time.Second, time.Millisecond)
}

func TestTracer_DropOldestWhenFull(t *testing.T) {
	block := make(chan struct{})
	sink := &fakeSink{blockCh: block}
	tr := New(sink, nil, 2)
	defer func() {
		close(block)
		tr.Stop()
	}()

	// First trace gets picked up immediately and blocks the consumer.
	tr.Finish(NewTrace("req-consumed", HTTPExchange{}))
	require.Eventually(t, func() bool {
		tr.mu.Lock()
		defer tr.mu.Unlock()
		return len(tr.queue) == 0
	}, time.Second, time.Millisecond)

	tr.Finish(NewTrace("req-a", HTTPExchange{}))
	tr.Finish(NewTrace("req-b", HTTPExchange{}))
	tr.Finish(NewTrace("req-c", HTTPExchange{})) // should evict req-a

	tr.mu.Lock()
	ids := make([]string, len(tr.queue))
	for i, q := range tr.queue {
		ids[i] = q.RequestID
	}
	tr.mu.Unlock()

	assert.Equal(t, []string{"req-b", "req-c"}, ids)
}

func TestAppendChunk_TruncatesOverBudget(t *testing.T) {
	big := make([]byte, maxChunkBytes+100)
	trace := NewTrace("req-1", HTTPExchange{})
	trace.AppendProviderChunk(big)

	require.Len(t, trace.ProviderStreamChunks, 1)
	assert.True(t, trace.ProviderStreamChunks[0].Truncated)
	assert.Len(t, trace.ProviderStreamChunks[0].Data, maxChunkBytes)
}

func TestAppendChunk_StopsAtMaxChunks(t *testing.T) {
	trace := NewTrace("req-1", HTTPExchange{})
	for i := 0; i < maxChunks+10; i++ {
		trace.AppendClientChunk([]byte("x"))
	}
	assert.Len(t, trace.ClientStreamChunks, maxChunks)
}
