package cost

import "strings"

// Rates holds per-provider pricing configuration.
type Rates struct {
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	BatchDiscount float64 `yaml:"batch_discount" mapstructure:"batch_discount"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Usage is a token count for one model over some period.
type Usage struct {
	Model      string
	Batch      bool
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

// Tokens sums every token class.
func (u Usage) Tokens() int64 {
	return u.Input + u.Output + u.CacheWrite + u.CacheRead
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// rate finds the pricing for a model: an exact key first, then the
// longest key that prefixes the model name, so "claude-sonnet-4-5"
// prices "claude-sonnet-4-5-20250929".
func (c *Calculator) rate(model string) (ModelRate, bool) {
	if r, ok := c.rates.Anthropic[model]; ok {
		return r, true
	}
	best := ""
	for k := range c.rates.Anthropic {
		if strings.HasPrefix(model, k) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return ModelRate{}, false
	}
	return c.rates.Anthropic[best], true
}

// Claude computes the USD cost of a usage record. ok is false when no
// rate matches the model; the cost is then 0.
func (c *Calculator) Claude(u Usage) (usd float64, ok bool) {
	rate, ok := c.rate(u.Model)
	if !ok {
		return 0, false
	}

	batchMul := 1.0
	if u.Batch && rate.BatchDiscount > 0 {
		batchMul = rate.BatchDiscount
	}

	inCost := (float64(u.Input) / 1e6) * rate.Input * batchMul
	outCost := (float64(u.Output) / 1e6) * rate.Output * batchMul
	cwCost := (float64(u.CacheWrite) / 1e6) * rate.Input * rate.CacheWriteMul * batchMul
	crCost := (float64(u.CacheRead) / 1e6) * rate.Input * rate.CacheReadMul * batchMul

	return inCost + outCost + cwCost + crCost, true
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	std := func(in, out float64) ModelRate {
		return ModelRate{Input: in, Output: out, BatchDiscount: 0.5, CacheWriteMul: 1.25, CacheReadMul: 0.1}
	}
	return Rates{
		Anthropic: map[string]ModelRate{
			"claude-3-5-haiku":  std(0.80, 4.00),
			"claude-haiku-4-5":  std(1.00, 5.00),
			"claude-sonnet-4":   std(3.00, 15.00),
			"claude-sonnet-4-5": std(3.00, 15.00),
			"claude-opus-4":     std(15.00, 75.00),
			"claude-opus-4-1":   std(15.00, 75.00),
			"claude-opus-4-5":   std(5.00, 25.00),
		},
	}
}
