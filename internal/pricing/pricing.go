// Package pricing implements the deterministic cost model for metered
// provider calls. All amounts are int64 micro-USD; float64 only appears in
// the per-million price table and is rounded exactly once per computation.
package pricing

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// ModelPrice holds wholesale prices in USD per one million units. Units are
// provider-defined: tokens for text models, characters for TTS.
type ModelPrice struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// DefaultMargin is the markup multiplier applied over wholesale prices.
const DefaultMargin = 1.3

// nominalCostMicros is charged when the provider has no price table entry.
// A missing entry must never make a call free, and must never fail pricing.
const nominalCostMicros = 1_000

// Pricer computes call costs from a price table and a margin multiplier.
type Pricer struct {
	prices map[string]map[string]ModelPrice
	margin float64
}

// NewPricer builds a Pricer from the built-in table merged with overrides.
// Override entries replace built-in entries per provider/model. A margin
// of zero or less falls back to DefaultMargin.
func NewPricer(overrides map[string]map[string]ModelPrice, margin float64) *Pricer {
	if margin <= 0 {
		margin = DefaultMargin
	}

	merged := make(map[string]map[string]ModelPrice, len(defaultPrices))
	for provider, entries := range defaultPrices {
		providerEntries := make(map[string]ModelPrice, len(entries))
		for model, price := range entries {
			providerEntries[model] = price
		}
		merged[strings.ToLower(provider)] = providerEntries
	}
	for provider, entries := range overrides {
		providerKey := strings.ToLower(strings.TrimSpace(provider))
		if providerKey == "" {
			continue
		}
		providerEntries := merged[providerKey]
		if providerEntries == nil {
			providerEntries = make(map[string]ModelPrice, len(entries))
			merged[providerKey] = providerEntries
		}
		for model, price := range entries {
			modelKey := strings.TrimSpace(model)
			if modelKey == "" {
				continue
			}
			providerEntries[modelKey] = price
		}
	}

	return &Pricer{prices: merged, margin: margin}
}

// Margin returns the configured markup multiplier.
func (p *Pricer) Margin() float64 { return p.margin }

// Lookup resolves the price entry for a provider/model pair. When the model
// has no entry but the provider is known, the entry with the smallest model
// name is used so that degradation stays deterministic. The second return
// is false only when the provider itself is unknown.
func (p *Pricer) Lookup(provider, model string) (ModelPrice, bool) {
	entries, ok := p.prices[strings.ToLower(strings.TrimSpace(provider))]
	if !ok || len(entries) == 0 {
		return ModelPrice{}, false
	}

	if price, found := entries[strings.TrimSpace(model)]; found {
		return price, true
	}

	names := make([]string, 0, len(entries))
	for name := range entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return entries[names[0]], true
}

// CostMicros prices a call in micro-USD:
//
//	cost = (inputUnits/1e6*inputPrice + outputUnits/1e6*outputPrice) * margin
//
// An unknown provider yields the fixed nominal cost. A priced call with a
// non-zero unit count never rounds down to zero.
func (p *Pricer) CostMicros(provider, model string, inputUnits, outputUnits int64) int64 {
	price, ok := p.Lookup(provider, model)
	if !ok {
		return nominalCostMicros
	}

	// Prices are USD per million units, so units * price is already micro-USD.
	total := (float64(inputUnits)*price.InputPerMillion + float64(outputUnits)*price.OutputPerMillion) * p.margin
	cost := int64(math.Round(total))
	if cost < 1 && inputUnits+outputUnits > 0 {
		cost = 1
	}
	return cost
}

// USDToMicros converts a USD amount to micro-USD.
func USDToMicros(usd float64) int64 {
	return int64(math.Round(usd * 1_000_000))
}

// MicrosToUSD converts a micro-USD amount to USD.
func MicrosToUSD(micros int64) float64 {
	return float64(micros) / 1_000_000
}

// FormatUSD renders a micro-USD amount as a dollar string, e.g. "$0.78".
func FormatUSD(micros int64) string {
	return fmt.Sprintf("$%.2f", MicrosToUSD(micros))
}
