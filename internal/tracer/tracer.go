// Package tracer implements the per-request DebugTrace capture of
// spec.md §4.9: accumulate ingress/unified/provider/client bodies for one
// request, then persist asynchronously through a bounded, drop-oldest
// queue so the dispatcher never blocks on trace persistence (§5).
package tracer

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/Davincible/plexus/internal/unified"
)

// maxChunkBytes bounds how much of any single streamed chunk is retained,
// and maxChunks bounds how many chunks of a stream are kept, so a very
// long-running stream cannot grow a trace without limit.
const (
	maxChunkBytes = 4096
	maxChunks     = 512
)

// HTTPExchange captures one side of a request/response pair as seen on the
// wire: raw body and the headers that accompanied it.
type HTTPExchange struct {
	Dialect unified.Dialect
	Body    []byte
	Headers http.Header
	Status  int
}

// StreamChunk is one captured, possibly-truncated slice of a streamed body.
type StreamChunk struct {
	Data      []byte
	Truncated bool
}

// DebugTrace is the full record of a single request, built up over the
// request's lifetime and persisted once at completion.
type DebugTrace struct {
	RequestID string
	StartedAt time.Time

	ClientRequest  HTTPExchange
	UnifiedRequest *unified.UnifiedRequest
	ProviderRequest HTTPExchange

	// Populated for non-streaming requests.
	ProviderResponse *HTTPExchange
	ClientResponse   *HTTPExchange

	// Populated for streaming requests, in place of ProviderResponse/
	// ClientResponse.
	ProviderStreamChunks []StreamChunk
	ClientStreamChunks   []StreamChunk
}

// NewTrace starts a trace for one request. Call the Record* methods as the
// request progresses, then Finish to enqueue it for persistence.
func NewTrace(requestID string, clientReq HTTPExchange) *DebugTrace {
	return &DebugTrace{
		RequestID:     requestID,
		StartedAt:     time.Now(),
		ClientRequest: clientReq,
	}
}

func (t *DebugTrace) RecordUnifiedRequest(req *unified.UnifiedRequest) {
	t.UnifiedRequest = req
}

func (t *DebugTrace) RecordProviderRequest(ex HTTPExchange) {
	t.ProviderRequest = ex
}

func (t *DebugTrace) RecordProviderResponse(ex HTTPExchange) {
	t.ProviderResponse = &ex
}

func (t *DebugTrace) RecordClientResponse(ex HTTPExchange) {
	t.ClientResponse = &ex
}

// AppendProviderChunk records one chunk of the upstream stream, truncating
// it to maxChunkBytes and dropping it (with Truncated left on the prior
// entry) once maxChunks has been reached.
func (t *DebugTrace) AppendProviderChunk(data []byte) {
	t.ProviderStreamChunks = appendChunk(t.ProviderStreamChunks, data)
}

func (t *DebugTrace) AppendClientChunk(data []byte) {
	t.ClientStreamChunks = appendChunk(t.ClientStreamChunks, data)
}

func appendChunk(chunks []StreamChunk, data []byte) []StreamChunk {
	if len(chunks) >= maxChunks {
		chunks[len(chunks)-1].Truncated = true
		return chunks
	}

	truncated := false
	if len(data) > maxChunkBytes {
		data = data[:maxChunkBytes]
		truncated = true
	}

	buf := make([]byte, len(data))
	copy(buf, data)

	return append(chunks, StreamChunk{Data: buf, Truncated: truncated})
}

// Sink persists a finished trace. store.TraceSink adapts the sqlite-backed
// store to this interface; tests can substitute a fake.
type Sink interface {
	SaveTrace(ctx context.Context, t *DebugTrace) error
}

// Tracer owns the bounded, single-consumer persistence queue described in
// spec.md §5 ("Tracer queue ... single producer per request, single
// consumer; bounded capacity with drop-oldest"). It never blocks a caller:
// Finish either enqueues or, if the queue is full, drops the oldest queued
// trace and logs a warning.
type Tracer struct {
	sink   Sink
	logger *slog.Logger

	mu     sync.Mutex
	queue  []*DebugTrace
	notify chan struct{}

	capacity int
	done     chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Tracer and starts its single background consumer.
// capacity bounds the number of finished-but-not-yet-persisted traces held
// in memory before drop-oldest kicks in.
func New(sink Sink, logger *slog.Logger, capacity int) *Tracer {
	if capacity <= 0 {
		capacity = 256
	}

	tr := &Tracer{
		sink:     sink,
		logger:   logger,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}

	tr.wg.Add(1)
	go tr.consume()

	return tr
}

// Finish enqueues a completed trace for async persistence. It never blocks
// the caller on I/O.
func (tr *Tracer) Finish(t *DebugTrace) {
	tr.mu.Lock()

	if len(tr.queue) >= tr.capacity {
		dropped := tr.queue[0]
		tr.queue = tr.queue[1:]

		if tr.logger != nil {
			tr.logger.Warn("tracer queue full, dropping oldest trace",
				"dropped_request_id", dropped.RequestID,
				"capacity", tr.capacity)
		}
	}

	tr.queue = append(tr.queue, t)
	tr.mu.Unlock()

	select {
	case tr.notify <- struct{}{}:
	default:
	}
}

func (tr *Tracer) consume() {
	defer tr.wg.Done()

	for {
		select {
		case <-tr.done:
			tr.drain()
			return
		case <-tr.notify:
			tr.drain()
		}
	}
}

func (tr *Tracer) drain() {
	for {
		tr.mu.Lock()
		if len(tr.queue) == 0 {
			tr.mu.Unlock()
			return
		}
		next := tr.queue[0]
		tr.queue = tr.queue[1:]
		tr.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := tr.sink.SaveTrace(ctx, next)
		cancel()

		if err != nil && tr.logger != nil {
			tr.logger.Error("failed to persist debug trace", "request_id", next.RequestID, "error", err)
		}
	}
}

// Stop drains the queue once more and stops the consumer goroutine.
// Callers should do this during graceful shutdown, before the process
// exits, so the most recent handful of traces are not silently lost.
func (tr *Tracer) Stop() {
	close(tr.done)
	tr.wg.Wait()
}
