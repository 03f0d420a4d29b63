package refprice

import (
	"predxarb/pkg/types"
)

// BracketQuote is the subset of a venue-C bracket quote the synthetic
// probability sum needs.
type BracketQuote struct {
	Mid    float64
	Spread float64
	Volume float64
}

const (
	bracketMaxSpread = 0.50
)

// VenueCSynthetic sums the mid prices of bracket markets covering the strike
// and above (for an above-strike payoff) into a synthetic probability,
// excluding brackets with spread > 0.50 or zero reported volume, and
// clamping the result to [0, 1].
func VenueCSynthetic(brackets []BracketQuote, payoff types.PayoffDirection) float64 {
	sum := 0.0
	for _, br := range brackets {
		if br.Spread > bracketMaxSpread || br.Volume == 0 {
			continue
		}
		sum += br.Mid
	}
	if payoff == types.PayoffBelow {
		sum = 1 - sum
	}
	return clamp01(sum)
}
