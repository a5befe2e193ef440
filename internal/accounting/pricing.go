// Package accounting implements spec.md §4.10: on request completion,
// derive token usage, dollar cost via a pricing table, and an optional
// inference-footprint energy estimate, then write the usage record (and,
// for auto-routed requests, the classifier log) to the store.
package accounting

// RateUSDPerMillion is a set of per-million-token rates for one pricing
// tier. Cached-input and reasoning rates are optional: zero means "not
// billed separately" rather than "free", since most providers without
// prompt caching simply omit the field.
type RateUSDPerMillion struct {
	Input       float64
	Output      float64
	CachedInput float64
	Reasoning   float64
}

// TierBracket is one input-token-count bracket of a tiered pricing table
// (e.g. Gemini's >128k-context surcharge).
type TierBracket struct {
	MinInputTokens int // inclusive
	Rate           RateUSDPerMillion
}

// ModelPricing is the full pricing definition for one upstream model:
// either a flat rate or a list of brackets selected by input-token count,
// plus an optional provider discount multiplier applied after bracket
// selection.
type ModelPricing struct {
	Brackets []TierBracket // sorted ascending by MinInputTokens; first entry should have MinInputTokens == 0
	Discount float64       // e.g. 0.9 for a 10% discount; 0 means "no discount configured", treated as 1.0
}

// Table maps "provider/upstream_model" to its pricing definition.
type Table map[string]ModelPricing

func key(provider, model string) string {
	return provider + "/" + model
}

// Lookup returns the pricing for a provider/model pair, and whether one was
// configured. Callers should treat a missing entry as "cost unknown", not
// as free.
func (t Table) Lookup(provider, model string) (ModelPricing, bool) {
	p, ok := t[key(provider, model)]
	return p, ok
}

// Set installs or replaces the pricing for one provider/model pair.
func (t Table) Set(provider, model string, pricing ModelPricing) {
	t[key(provider, model)] = pricing
}

// rateFor selects the bracket applicable to inputTokens. Brackets must be
// sorted ascending; the last bracket whose MinInputTokens <= inputTokens
// wins.
func (p ModelPricing) rateFor(inputTokens int) RateUSDPerMillion {
	if len(p.Brackets) == 0 {
		return RateUSDPerMillion{}
	}

	selected := p.Brackets[0].Rate
	for _, b := range p.Brackets {
		if inputTokens >= b.MinInputTokens {
			selected = b.Rate
		}
	}
	return selected
}

// Cost computes the dollar cost of one request's usage per spec.md §4.10:
// per-million rate for each of {input, output, cached-input, reasoning},
// tiered by input-token bucket, with the provider discount applied last.
func Cost(pricing ModelPricing, inputTokens, outputTokens, cachedInputTokens, reasoningTokens int) float64 {
	rate := pricing.rateFor(inputTokens)

	const perMillion = 1_000_000.0

	cost := float64(inputTokens)*rate.Input/perMillion +
		float64(outputTokens)*rate.Output/perMillion +
		float64(cachedInputTokens)*rate.CachedInput/perMillion +
		float64(reasoningTokens)*rate.Reasoning/perMillion

	discount := pricing.Discount
	if discount <= 0 {
		discount = 1.0
	}

	return cost * discount
}
