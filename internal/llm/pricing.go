package llm

import "strings"

// Price is USD per 1K tokens.
type Price struct {
	InputPer1K  float64
	OutputPer1K float64
}

// Pricing resolves a model id to its token price. Entries are matched by
// substring so region-prefixed inference profile ids ("us.anthropic...") resolve.
type Pricing struct {
	entries  []pricingEntry
	fallback Price
}

type pricingEntry struct {
	match string
	price Price
}

// DefaultPricing covers the models the provider is normally configured with.
// Unknown models are priced at the most expensive tier so budgets stay conservative.
func DefaultPricing() *Pricing {
	return &Pricing{
		entries: []pricingEntry{
			{"claude-3-5-haiku", Price{0.0008, 0.004}},
			{"claude-3-haiku", Price{0.00025, 0.00125}},
			{"claude-haiku-4", Price{0.001, 0.005}},
			{"claude-3-5-sonnet", Price{0.003, 0.015}},
			{"claude-sonnet-4", Price{0.003, 0.015}},
			{"nova-micro", Price{0.000035, 0.00014}},
			{"nova-lite", Price{0.00006, 0.00024}},
			{"nova-pro", Price{0.0008, 0.0032}},
			{"gemini-2.0-flash", Price{0.0001, 0.0004}},
			{"gemini-2.5-flash", Price{0.0003, 0.0025}},
		},
		fallback: Price{0.003, 0.015},
	}
}

// With adds or overrides a model price. Entries added here take precedence.
func (p *Pricing) With(match string, price Price) *Pricing {
	p.entries = append([]pricingEntry{{strings.ToLower(match), price}}, p.entries...)
	return p
}

// Cost returns the USD cost of usage on model.
func (p *Pricing) Cost(model string, usage TokenUsage) float64 {
	price := p.lookup(model)
	return float64(usage.InputTokens)/1000*price.InputPer1K + float64(usage.OutputTokens)/1000*price.OutputPer1K
}

// Estimate prices a request before it is sent, assuming maxTokens of output.
func (p *Pricing) Estimate(model string, promptChars, maxTokens int) float64 {
	// ~4 characters per token for English text.
	return p.Cost(model, TokenUsage{InputTokens: int32(promptChars/4 + 1), OutputTokens: int32(maxTokens)})
}

func (p *Pricing) lookup(model string) Price {
	model = strings.ToLower(model)
	for _, e := range p.entries {
		if strings.Contains(model, e.match) {
			return e.price
		}
	}
	return p.fallback
}
