// internal/analysis/cost.go
package analysis

import "strings"

// modelRates holds USD prices per million tokens. Models missing from
// the table price at zero rather than failing a scan; pricing is
// bookkeeping, not a correctness concern.
type modelRates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

var costTable = map[string]modelRates{
	"gemini-2.0-flash-lite": {InputPerMillion: 0.075, OutputPerMillion: 0.30},
	"gemini-2.0-flash":      {InputPerMillion: 0.10, OutputPerMillion: 0.40},
	"gemini-1.5-pro":        {InputPerMillion: 1.25, OutputPerMillion: 5.00},
	"gemini-1.5-flash":      {InputPerMillion: 0.075, OutputPerMillion: 0.30},
}

// CalculateCost prices one call. Model names are matched by prefix so
// dated variants (gemini-2.0-flash-lite-001) share their family's rate.
func CalculateCost(model string, inputTokens, outputTokens int) float64 {
	var rates modelRates
	best := 0
	for family, r := range costTable {
		if strings.HasPrefix(model, family) && len(family) > best {
			rates = r
			best = len(family)
		}
	}
	return float64(inputTokens)/1e6*rates.InputPerMillion +
		float64(outputTokens)/1e6*rates.OutputPerMillion
}
