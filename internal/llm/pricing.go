// Horadus - Geopolitical Intelligence Platform
// Copyright 2026 Horadus Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/s5unanow/horadus

package llm

import "strings"

// modelPricing is USD per 1M (input, output) tokens by model name.
var modelPricing = map[string][2]float64{
	"gpt-4.1-nano":           {0.10, 0.40},
	"gpt-4.1-mini":           {0.40, 1.60},
	"gpt-4o-mini":            {0.15, 0.60},
	"text-embedding-3-small": {0.02, 0.00},
	"text-embedding-3-large": {0.13, 0.00},
}

// PriceForModel resolves input/output price per 1M tokens. Dated deployment
// names resolve by prefix (gpt-4o-mini-2024-07-18 matches gpt-4o-mini).
// Unknown models price at zero.
func PriceForModel(model string) (inputPer1M, outputPer1M float64) {
	if price, ok := modelPricing[model]; ok {
		return price[0], price[1]
	}
	for known, price := range modelPricing {
		if strings.HasPrefix(model, known) {
			return price[0], price[1]
		}
	}
	return 0, 0
}

// EstimateModelCostUSD prices one request from its token counts.
func EstimateModelCostUSD(model string, promptTokens, completionTokens int) float64 {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if completionTokens < 0 {
		completionTokens = 0
	}
	inputPrice, outputPrice := PriceForModel(model)
	return float64(promptTokens)*inputPrice/1_000_000 +
		float64(completionTokens)*outputPrice/1_000_000
}
