// Package pricing provides per-model cost estimation for token usage.
package pricing

// ModelPricing holds per-million-token costs in CNY, with distinct
// input and output unit prices.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Known model pricing as of mid 2026. Add new models as needed.
var knownModels = map[string]ModelPricing{
	// DeepSeek
	"deepseek-chat":     {2.00, 8.00},
	"deepseek-reasoner": {4.00, 16.00},
	// Qwen (dashscope)
	"qwen-plus": {0.80, 2.00},
	"qwen-max":  {20.00, 60.00},
	// OpenAI (converted)
	"gpt-4o":      {18.00, 72.00},
	"gpt-4o-mini": {1.10, 4.30},
}

// defaultPricing is applied to unknown models so cost tracking never
// silently records zero for a paid backend.
var defaultPricing = ModelPricing{2.00, 8.00}

// Lookup returns the pricing for a model, falling back to the default
// entry for unknown names. The second return reports whether the model
// was known.
func Lookup(model string) (ModelPricing, bool) {
	p, ok := knownModels[model]
	if !ok {
		return defaultPricing, false
	}
	return p, true
}

// Cost returns the CNY cost for the given token count at the model's
// input or output unit price.
func Cost(model string, tokens int, output bool) float64 {
	p, _ := Lookup(model)
	per1M := p.InputPer1M
	if output {
		per1M = p.OutputPer1M
	}
	return float64(tokens) / 1_000_000 * per1M
}

// EstimateCost returns the combined CNY cost for a prompt/completion pair.
func EstimateCost(model string, promptTokens, completionTokens int) float64 {
	return Cost(model, promptTokens, false) + Cost(model, completionTokens, true)
}
