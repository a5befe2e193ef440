package accounting

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/Davincible/plexus/internal/classifier"
	"github.com/Davincible/plexus/internal/store"
	"github.com/Davincible/plexus/internal/unified"
)

// RequestOutcome is the subset of a completed request's state the
// accountant needs: who served it, what it cost in tokens, and (when
// routed through "auto") the classifier decision behind it.
type RequestOutcome struct {
	RequestID      string
	RequestedAlias string
	Provider       string
	UpstreamModel  string
	Usage          unified.Usage

	// RequestText and ResponseText feed EstimateTokens when a provider
	// reports zero for a side Record needs costed; see resolveUsage.
	RequestText  string
	ResponseText string

	// Populated only for requests routed via the reserved "auto" model.
	ClassifierResult  *classifier.Result
	ClassifierAlias   string // post-boost alias actually used; see DESIGN.md
}

// Accountant computes and persists usage/cost/energy records per spec.md
// §4.10. It never blocks the dispatcher: Record is expected to be called
// from a goroutine the same way the tracer is fired-and-forgotten.
type Accountant struct {
	mu      sync.RWMutex
	pricing Table
	energy  EnergyProfile

	store  store.Store
	logger *slog.Logger

	energyEnabled bool
	encoder       *tiktoken.Tiktoken

	pendingMu sync.Mutex
	pending   map[string]pendingClassifier
}

// pendingClassifier is a classifier decision recorded via
// LogClassifierDecision (the router.ClassifierLogger interface) before the
// request it belongs to has finished dispatching. Record consumes it by
// RequestID so callers don't have to thread the decision through the
// dispatcher by hand.
type pendingClassifier struct {
	result        classifier.Result
	resolvedAlias string
}

// New constructs an Accountant. enableEnergy gates whether Record computes
// an inference-footprint estimate at all (§4.10 "Optionally compute energy
// estimate").
func New(pricing Table, energy EnergyProfile, enableEnergy bool, st store.Store, logger *slog.Logger) *Accountant {
	enc, _ := tiktoken.GetEncoding("cl100k_base")

	return &Accountant{
		pricing:       pricing,
		energy:        energy,
		store:         st,
		logger:        logger,
		energyEnabled: enableEnergy,
		encoder:       enc,
		pending:       make(map[string]pendingClassifier),
	}
}

// LogClassifierDecision implements router.ClassifierLogger: it stashes the
// decision so the matching Record call can attach it to the usage row
// without the dispatcher having to carry classifier state through its
// candidate-iteration loop.
func (a *Accountant) LogClassifierDecision(ctx context.Context, requestID string, result classifier.Result, resolvedAlias string) {
	a.pendingMu.Lock()
	a.pending[requestID] = pendingClassifier{result: result, resolvedAlias: resolvedAlias}
	a.pendingMu.Unlock()
}

// UpdatePricing atomically replaces the pricing table, for config hot-reload.
func (a *Accountant) UpdatePricing(pricing Table) {
	a.mu.Lock()
	a.pricing = pricing
	a.mu.Unlock()
}

func (a *Accountant) currentPricing() Table {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.pricing
}

func (a *Accountant) takePendingClassifier(requestID string) (classifier.Result, string, bool) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	p, ok := a.pending[requestID]
	if ok {
		delete(a.pending, requestID)
	}
	return p.result, p.resolvedAlias, ok
}

// Record computes usage/cost/energy for one completed request and writes
// it, plus a classifier log row when the request was auto-routed.
func (a *Accountant) Record(ctx context.Context, out RequestOutcome) {
	inputTokens, outputTokens, cachedTokens, reasoningTokens := a.resolveUsage(out)

	pricing, known := a.currentPricing().Lookup(out.Provider, out.UpstreamModel)
	var costUSD float64
	if known {
		costUSD = Cost(pricing, inputTokens, outputTokens, cachedTokens, reasoningTokens)
	} else if a.logger != nil {
		a.logger.Debug("no pricing configured, cost recorded as zero", "provider", out.Provider, "model", out.UpstreamModel)
	}

	var energyWh float64
	if a.energyEnabled {
		energyWh = EstimateEnergyWh(a.energy, inputTokens, outputTokens)
	}

	rec := store.UsageRecord{
		RequestID:         out.RequestID,
		Provider:          out.Provider,
		UpstreamModel:     out.UpstreamModel,
		RequestedAlias:    out.RequestedAlias,
		InputTokens:       inputTokens,
		OutputTokens:      outputTokens,
		CachedInputTokens: cachedTokens,
		ReasoningTokens:   reasoningTokens,
		CostUSD:           costUSD,
		EnergyWh:          energyWh,
		CreatedAt:         time.Now(),
	}

	if a.store != nil {
		if err := a.store.RecordUsage(ctx, rec); err != nil && a.logger != nil {
			a.logger.Error("failed to record usage", "request_id", out.RequestID, "error", err)
		}
	}

	if out.ClassifierResult != nil {
		a.recordClassifierLog(ctx, out)
	} else if result, alias, ok := a.takePendingClassifier(out.RequestID); ok {
		out.ClassifierResult = &result
		out.ClassifierAlias = alias
		a.recordClassifierLog(ctx, out)
	}
}

func (a *Accountant) recordClassifierLog(ctx context.Context, out RequestOutcome) {
	r := out.ClassifierResult

	signalsJSON, err := json.Marshal(r.Signals)
	if err != nil {
		signalsJSON = []byte("[]")
	}

	rec := store.ClassifierLogRecord{
		RequestID:           out.RequestID,
		Tier:                r.Tier.String(),
		Score:               r.Score,
		Confidence:          r.Confidence,
		Method:              string(r.Method),
		Reasoning:           r.Reasoning,
		Signals:             string(signalsJSON),
		AgenticScore:        r.AgenticScore,
		HasStructuredOutput: r.HasStructuredOutput,
		ResolvedAlias:       out.ClassifierAlias,
		CreatedAt:           time.Now(),
	}

	if a.store != nil {
		if err := a.store.RecordClassifierLog(ctx, rec); err != nil && a.logger != nil {
			a.logger.Error("failed to record classifier log", "request_id", out.RequestID, "error", err)
		}
	}
}

// resolveUsage returns the adapter-reported usage when present. Providers
// that omit input_tokens, output_tokens, or both (some OpenAI-compatible
// upstreams do this even with stream_options.include_usage set) fall back
// to the counting-based estimate of spec.md §4.10 via EstimateTokens, using
// the request/response text the handler attached to out.
func (a *Accountant) resolveUsage(out RequestOutcome) (input, output, cached, reasoning int) {
	u := out.Usage
	input, output = u.InputTokens, u.OutputTokens
	if u.CachedInputTokens != nil {
		cached = *u.CachedInputTokens
	}
	if u.ReasoningTokens != nil {
		reasoning = *u.ReasoningTokens
	}

	if input == 0 && out.RequestText != "" {
		input = a.EstimateTokens(out.RequestText)
	}
	if output == 0 && out.ResponseText != "" {
		output = a.EstimateTokens(out.ResponseText)
	}
	return
}

// EstimateTokens provides the counting-based fallback named in spec.md
// §4.10, used by resolveUsage when a provider reports zero usage. It is a
// best-effort BPE count, not an exact match for any one provider's
// tokenizer.
func (a *Accountant) EstimateTokens(text string) int {
	if a.encoder == nil || strings.TrimSpace(text) == "" {
		return 0
	}
	return len(a.encoder.Encode(text, nil, nil))
}
