// Package refprice computes the per-matched-market consensus reference
// probability from fresh cross-venue quotes, weighting sources by category
// and guarding against a single stale or disagreeing source dominating the
// result.
package refprice

import (
	"math"
	"sort"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

const (
	disagreementThreshold = 0.40
	outlierDownWeightDefault = 0.10
)

// Source is one named, weighted probability contribution for a cycle.
type Source struct {
	Name        string
	Probability float64
	Weight      float64
}

// categoryWeights returns the nominal per-category source weights. Sources
// not present in a given cycle have their weight redistributed
// proportionally among present sources.
func categoryWeights(category types.Category) map[string]float64 {
	switch category {
	case types.CategoryCrypto:
		return map[string]float64{"C": 0.70, "BS": 0.30}
	case types.CategoryPolitics, types.CategoryElections:
		return map[string]float64{"B": 0.45, "C": 0.30, "oracle": 0.25}
	case types.CategorySports:
		return map[string]float64{"oracle": 0.40, "B": 0.35, "C": 0.25}
	default:
		return map[string]float64{"B": 0.50, "C": 0.50}
	}
}

// Builder computes weighted-mean reference prices per matched market.
type Builder struct {
	cfg config.RefPriceConfig
}

func NewBuilder(cfg config.RefPriceConfig) *Builder {
	return &Builder{cfg: cfg}
}

// Compute builds the consensus reference probability for one matched
// market from the present sources.
func (b *Builder) Compute(matchedID string, category types.Category, present map[string]float64) types.ReferencePrice {
	nominal := categoryWeights(category)

	sources := make([]Source, 0, len(present))
	presentWeightSum := 0.0
	for name, prob := range present {
		w, ok := nominal[name]
		if !ok {
			w = 1.0 / float64(len(present)) // unrecognized source: equal share
		}
		sources = append(sources, Source{Name: name, Probability: prob, Weight: w})
		presentWeightSum += w
	}
	if presentWeightSum <= 0 || len(sources) == 0 {
		return types.ReferencePrice{MatchedID: matchedID, Probability: 0.5}
	}

	// Redistribute proportionally to present weights.
	for i := range sources {
		sources[i].Weight /= presentWeightSum
	}

	applyDisagreementDownweight(sources)

	weightedSum, weightTotal := 0.0, 0.0
	names := make([]string, 0, len(sources))
	for _, s := range sources {
		weightedSum += s.Probability * s.Weight
		weightTotal += s.Weight
		names = append(names, s.Name)
	}

	prob := 0.5
	if weightTotal > 0 {
		prob = weightedSum / weightTotal
	}

	return types.ReferencePrice{
		MatchedID:   matchedID,
		Probability: clamp01(prob),
		Sources:     names,
	}
}

// applyDisagreementDownweight implements the max-min > 0.40 guard: the
// source furthest from the median is downweighted to 10% of its nominal
// weight, then all weights are re-normalized by the caller's sum step.
func applyDisagreementDownweight(sources []Source) {
	if len(sources) < 2 {
		return
	}
	probs := make([]float64, len(sources))
	for i, s := range sources {
		probs[i] = s.Probability
	}
	sorted := append([]float64(nil), probs...)
	sort.Float64s(sorted)
	spread := sorted[len(sorted)-1] - sorted[0]
	if spread <= disagreementThreshold {
		return
	}

	median := medianOf(sorted)
	worstIdx, worstDist := -1, -1.0
	for i, p := range probs {
		d := math.Abs(p - median)
		if d > worstDist {
			worstDist, worstIdx = d, i
		}
	}
	if worstIdx >= 0 {
		sources[worstIdx].Weight *= outlierDownWeightDefault
	}
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
