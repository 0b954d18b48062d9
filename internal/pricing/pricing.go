// Package pricing holds the per-model token→cost table used by the memory
// writer (to populate api_usage.cost) and the retrieval layer's lifetime
// stats. Pricing is advisory only — see spec Non-goals: this is not an
// authoritative cost oracle.
package pricing

import "log/slog"

// Rates expresses cost in USD per one million tokens of each kind, following
// the per-model-rate-table shape used throughout the example pack's cost
// modules (leofalp-aigo/core/cost, leofalp-aigo/providers/ai/gemini).
type Rates struct {
	InputPerMTok         float64
	OutputPerMTok        float64
	CacheReadPerMTok     float64
	CacheCreationPerMTok float64
}

// Usage is the subset of event.ApiUsage pricing needs, decoupled from the
// event package so pricing has no import cycle back to it.
type Usage struct {
	Model         string
	InputTokens   int
	OutputTokens  int
	CacheRead     int
	CacheCreation int
}

// Table maps model name to its rate card. Unrecognized models fall back to
// a zero-rate entry via Estimate rather than failing stats computation.
type Table struct {
	rates map[string]Rates
}

// DefaultTable returns the built-in rate card for commonly proxied models.
// Rates are approximate list prices and are expected to be overridden by an
// operator's config for anything that matters financially.
func DefaultTable() *Table {
	return &Table{rates: map[string]Rates{
		"claude-opus-4":              {InputPerMTok: 15, OutputPerMTok: 75, CacheReadPerMTok: 1.5, CacheCreationPerMTok: 18.75},
		"claude-sonnet-4":            {InputPerMTok: 3, OutputPerMTok: 15, CacheReadPerMTok: 0.3, CacheCreationPerMTok: 3.75},
		"claude-haiku-4":             {InputPerMTok: 0.8, OutputPerMTok: 4, CacheReadPerMTok: 0.08, CacheCreationPerMTok: 1},
		"gpt-4o":                     {InputPerMTok: 2.5, OutputPerMTok: 10},
		"gpt-4o-mini":                {InputPerMTok: 0.15, OutputPerMTok: 0.6},
		"gpt-4.1":                    {InputPerMTok: 2, OutputPerMTok: 8},
		"gpt-4.1-mini":               {InputPerMTok: 0.4, OutputPerMTok: 1.6},
		"gemini-2.5-pro":             {InputPerMTok: 1.25, OutputPerMTok: 10},
		"gemini-2.5-flash":           {InputPerMTok: 0.3, OutputPerMTok: 2.5},
	}}
}

// Set overrides or adds a rate card for a model, used when config.toml
// supplies custom pricing.
func (t *Table) Set(model string, r Rates) {
	if t.rates == nil {
		t.rates = make(map[string]Rates)
	}
	t.rates[model] = r
}

// Estimate computes the advisory USD cost for one ApiUsage observation.
// known is false when the model has no rate card; the returned cost is then
// zero rather than a guess, and the caller is expected to log/record that the
// figure is not included in aggregate totals.
func (t *Table) Estimate(u Usage) (costUSD float64, known bool) {
	r, ok := t.rates[u.Model]
	if !ok {
		slog.Debug("pricing: no rate card for model", "model", u.Model)
		return 0, false
	}
	cost := perMillion(u.InputTokens, r.InputPerMTok) +
		perMillion(u.OutputTokens, r.OutputPerMTok) +
		perMillion(u.CacheRead, r.CacheReadPerMTok) +
		perMillion(u.CacheCreation, r.CacheCreationPerMTok)
	return cost, true
}

func perMillion(tokens int, ratePerMTok float64) float64 {
	return (float64(tokens) / 1_000_000.0) * ratePerMTok
}
