package store

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/Davincible/plexus/internal/tracer"
)

// TraceSink adapts a Store to tracer.Sink, flattening a DebugTrace into the
// debug_logs row shape named in spec.md §6. Non-streaming traces populate
// raw_response/transformed_response; streaming traces populate the
// *_snapshot columns instead, joining the capped per-chunk captures.
type TraceSink struct {
	Store Store
}

func NewTraceSink(s Store) *TraceSink {
	return &TraceSink{Store: s}
}

func (ts *TraceSink) SaveTrace(ctx context.Context, t *tracer.DebugTrace) error {
	rec := DebugLogRecord{
		RequestID:           t.RequestID,
		RawRequest:          t.ClientRequest.Body,
		TransformedRequest:  t.ProviderRequest.Body,
		CreatedAt:           t.StartedAt,
	}

	if t.ProviderResponse != nil {
		rec.RawResponse = t.ProviderResponse.Body
	}
	if t.ClientResponse != nil {
		rec.TransformedResponse = t.ClientResponse.Body
	}

	if len(t.ProviderStreamChunks) > 0 {
		rec.RawResponseSnapshot = joinChunks(t.ProviderStreamChunks)
	}
	if len(t.ClientStreamChunks) > 0 {
		rec.TransformedResponseSnapshot = joinChunks(t.ClientStreamChunks)
	}

	if t.UnifiedRequest != nil {
		if b, err := json.Marshal(t.UnifiedRequest); err == nil {
			rec.TransformedRequest = appendUnifiedRequest(rec.TransformedRequest, b)
		}
	}

	return ts.Store.SaveDebugLog(ctx, rec)
}

func joinChunks(chunks []tracer.StreamChunk) []byte {
	var buf bytes.Buffer
	for _, c := range chunks {
		buf.Write(c.Data)
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// appendUnifiedRequest keeps the raw provider-bound bytes alongside the
// unified request JSON that produced them, separated by a marker line, so
// the admin /logs/{id} view can show both without a second column.
func appendUnifiedRequest(providerBody, unifiedJSON []byte) []byte {
	if len(providerBody) == 0 {
		return unifiedJSON
	}
	var buf bytes.Buffer
	buf.Write(providerBody)
	buf.WriteString("\n---unified-request---\n")
	buf.Write(unifiedJSON)
	return buf.Bytes()
}
