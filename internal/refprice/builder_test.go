package refprice

import (
	"math"
	"testing"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

func TestComputeWeightsCryptoSourcesPerNominal(t *testing.T) {
	b := NewBuilder(config.RefPriceConfig{})
	rp := b.Compute("m1", types.CategoryCrypto, map[string]float64{"C": 0.80, "BS": 0.50})
	want := 0.80*0.70 + 0.50*0.30
	if diff := rp.Probability - want; diff > 0.001 || diff < -0.001 {
		t.Errorf("probability = %v, want %v", rp.Probability, want)
	}
}

func TestComputeRedistributesMissingSourceWeight(t *testing.T) {
	b := NewBuilder(config.RefPriceConfig{})
	rp := b.Compute("m1", types.CategoryCrypto, map[string]float64{"C": 0.9})
	if rp.Probability != 0.9 {
		t.Errorf("single-source probability = %v, want 0.9 after full redistribution", rp.Probability)
	}
}

func TestComputeDownweightsDisagreeingOutlier(t *testing.T) {
	b := NewBuilder(config.RefPriceConfig{})
	// oracle at 0.95 disagrees sharply with B=0.50, C=0.52 (spread > 0.40).
	rp := b.Compute("m1", types.CategoryPolitics, map[string]float64{"B": 0.50, "C": 0.52, "oracle": 0.95})
	if rp.Probability > 0.65 {
		t.Errorf("probability = %v, want outlier oracle downweighted toward B/C consensus", rp.Probability)
	}
}

func TestComputeNoSourcesReturnsNeutral(t *testing.T) {
	b := NewBuilder(config.RefPriceConfig{})
	rp := b.Compute("m1", types.CategoryCrypto, map[string]float64{})
	if rp.Probability != 0.5 {
		t.Errorf("probability = %v, want 0.5 neutral fallback", rp.Probability)
	}
}

func TestVenueCSyntheticExcludesWideSpreadAndZeroVolume(t *testing.T) {
	brackets := []BracketQuote{
		{Mid: 0.3, Spread: 0.10, Volume: 100},
		{Mid: 0.2, Spread: 0.60, Volume: 100}, // excluded: spread too wide
		{Mid: 0.1, Spread: 0.05, Volume: 0},   // excluded: zero volume
	}
	got := VenueCSynthetic(brackets, types.PayoffAbove)
	if got != 0.3 {
		t.Errorf("synthetic = %v, want 0.3", got)
	}
}

func TestVenueCSyntheticClampsAndInvertsForBelow(t *testing.T) {
	brackets := []BracketQuote{{Mid: 0.9, Spread: 0.05, Volume: 10}}
	got := VenueCSynthetic(brackets, types.PayoffBelow)
	if math.Abs(got-0.1) > 1e-9 {
		t.Errorf("below-strike synthetic = %v, want 0.1", got)
	}
}
