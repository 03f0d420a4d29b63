package fairvalue

import (
	"math"
	"time"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

const (
	moneynessGateRatio    = 1.30
	moneynessGateMinProb  = 0.45
	defaultKellyCeiling   = 0.25
)

// ModelInput is one contributing probability estimate for the ensemble.
type ModelInput struct {
	Name        string
	Probability float64
	Weight      float64
}

// Engine prices crypto above/below-strike binaries and produces the
// ensemble fair value the trading engine sizes against.
type Engine struct {
	cfg config.FairValueConfig
}

func NewEngine(cfg config.FairValueConfig) *Engine {
	return &Engine{cfg: cfg}
}

// BlackScholesModel prices one matched crypto market via the binary pricer,
// applying the spot-reality gate for deep in-the-money moneyness.
func (e *Engine) BlackScholesModel(spot, strike float64, payoff types.PayoffDirection, timeToExpiry time.Duration, vol float64) (prob float64, weight float64) {
	if vol <= 0 {
		vol = e.cfg.DefaultVolatility
	}
	if vol <= 0 {
		vol = 0.50
	}
	years := timeToExpiry.Hours() / (24 * 365)
	if years <= 0 {
		years = 1.0 / (365 * 24 * 60) // one minute floor, avoids div-by-zero at imminent expiry
	}

	aboveProb := BinaryCallProbability(spot, strike, e.cfg.RiskFreeRate, vol, years)

	weight = 1.0
	if strike > 0 && spot/strike > moneynessGateRatio && aboveProb <= moneynessGateMinProb {
		weight = 0
	}

	p := aboveProb
	if payoff == types.PayoffBelow {
		p = 1 - aboveProb
	}
	return p, weight
}

// Combine produces the ensemble fair value from a set of weighted model
// inputs plus category weighting, then derives edge, Kelly fraction, and
// confidence against the current venue-A market.
func (e *Engine) Combine(inputs []ModelInput, midA, halfSpreadA float64, direction types.Direction, sourceAgreement, liquidityScore, expiryHealth float64) types.FairValue {
	var weightedSum, weightTotal float64
	for _, in := range inputs {
		if in.Weight <= 0 {
			continue
		}
		weightedSum += in.Probability * in.Weight
		weightTotal += in.Weight
	}

	var fv float64
	if weightTotal > 0 {
		fv = weightedSum / weightTotal
	} else if len(inputs) > 0 {
		fv = inputs[0].Probability
	}

	var edge float64
	switch direction {
	case types.DirNO:
		edge = (1 - fv) - (1 - midA) - halfSpreadA
	default:
		edge = fv - midA - halfSpreadA
	}

	ceiling := defaultKellyCeiling
	kelly := 0.0
	denom := 1 - midA
	if direction == types.DirNO {
		denom = midA
	}
	if denom > 0 && edge > 0 {
		kelly = edge / denom
		if kelly > ceiling {
			kelly = ceiling
		}
		if kelly < 0 {
			kelly = 0
		}
	}

	confidence := clamp01((sourceAgreement + liquidityScore + expiryHealth) / 3)

	return types.FairValue{
		FairValue:     fv,
		Edge:          edge,
		KellyFraction: kelly,
		Confidence:    confidence,
		ComputedAt:    time.Now(),
	}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
