// Package store defines the persistence interface of spec.md §6 ("usage",
// "errors", "debug_logs", "classifier_log", "config_snapshots") and a
// default modernc.org/sqlite-backed implementation. Spec.md §5 notes the
// store "has its own concurrency discipline; callers do not assume
// serializability" — callers (tracer, accounting, dispatcher) treat it purely
// as an async sink.
package store

import (
	"context"
	"time"
)

// UsageRecord is one row of the usage table: what was billed for a
// completed request.
type UsageRecord struct {
	RequestID         string
	Provider          string
	UpstreamModel     string
	RequestedAlias    string
	InputTokens       int
	OutputTokens      int
	CachedInputTokens int
	ReasoningTokens   int
	CostUSD           float64
	EnergyWh          float64
	CreatedAt         time.Time
}

// ErrorRecord is one row of the errors table: a failed attempt, retryable
// or not, logged for observability independent of the client-facing error
// response.
type ErrorRecord struct {
	RequestID string
	Provider  string
	Class     string
	Message   string
	CreatedAt time.Time
}

// DebugLogRecord is one row of the debug_logs table, matching the column
// set named in spec.md §6 exactly.
type DebugLogRecord struct {
	RequestID                    string
	RawRequest                   []byte
	TransformedRequest           []byte
	RawResponse                  []byte
	TransformedResponse          []byte
	RawResponseSnapshot          []byte
	TransformedResponseSnapshot  []byte
	CreatedAt                    time.Time
}

// ClassifierLogRecord is one row of the classifier_log table, written only
// when a request was routed through "auto" (spec.md §4.10).
type ClassifierLogRecord struct {
	RequestID           string
	Tier                string
	Score               float64
	Confidence          float64
	Method              string
	Reasoning           string
	Signals             string // JSON-encoded []string
	AgenticScore        float64
	HasStructuredOutput bool
	ResolvedAlias       string // post-boost alias, per the Open Question resolution
	CreatedAt           time.Time
}

// ConfigSnapshotRecord is one row of the config_snapshots table: a named,
// versioned copy of a loaded configuration.
type ConfigSnapshotRecord struct {
	Name      string
	Config    []byte // raw YAML
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence surface the rest of the gateway writes through.
// Implementations must tolerate concurrent calls from many requests; they
// need not guarantee any particular interleaving or read-after-write
// visibility across table writes.
type Store interface {
	RecordUsage(ctx context.Context, rec UsageRecord) error
	RecordError(ctx context.Context, rec ErrorRecord) error
	RecordClassifierLog(ctx context.Context, rec ClassifierLogRecord) error

	// SaveDebugLog persists one finished trace. It satisfies tracer.Sink's
	// shape via the adapter in internal/store/trace_sink.go, which converts
	// a *tracer.DebugTrace into a DebugLogRecord before calling this.
	SaveDebugLog(ctx context.Context, rec DebugLogRecord) error
	ListDebugLogs(ctx context.Context, limit int) ([]DebugLogRecord, error)
	GetDebugLog(ctx context.Context, requestID string) (*DebugLogRecord, error)
	DeleteDebugLog(ctx context.Context, requestID string) error

	SaveConfigSnapshot(ctx context.Context, rec ConfigSnapshotRecord) error
	LoadConfigSnapshot(ctx context.Context, name string) (*ConfigSnapshotRecord, error)

	Close() error
}
