package usage

// rates are dollars per token. Coarse per-provider pricing keeps session
// cost totals meaningful without tracking every published SKU.
type rates struct {
	input  float64
	output float64
}

var providerRates = map[string]rates{
	"OPENAI":    {input: 0.40e-6, output: 1.60e-6},
	"ANTHROPIC": {input: 3.00e-6, output: 15.00e-6},
	"GOOGLE":    {input: 0.35e-6, output: 0.53e-6},
}

var defaultRates = rates{input: 0.35e-6, output: 0.53e-6}

// Cost estimates the dollar cost of one usage event. Cached tokens are
// billed as input.
func Cost(e Event) float64 {
	r, ok := providerRates[e.Provider]
	if !ok {
		r = defaultRates
	}
	return float64(e.InputTokens+e.CachedTokens)*r.input + float64(e.OutputTokens)*r.output
}
