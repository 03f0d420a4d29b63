package signal

import (
	"time"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

// Candidate is one strategy's proposed signal for a matched market, before
// the actionable-set merge decides which strategy wins per market.
type Candidate struct {
	types.Signal
}

// BuildActionable merges composite, fair-value, and synthetic-arb candidates
// into the actionable set the trading engine consumes: at most one signal per
// matched market, filtered by composite-score threshold and net-edge floor.
//
// Per market: the fair-value signal replaces the composite signal when it
// carries a strictly larger net edge. Synthetic-arb signals are normalized to
// YES/NO (an arb candidate implies direction from which leg is mispriced, not
// from absolute price level) before entering the merge.
func BuildActionable(candidates []Candidate, cfg config.SignalConfig, mode types.Mode, now time.Time) []types.Signal {
	minEdge := cfg.MinEdgePaper
	if mode == types.ModeLive {
		minEdge = cfg.MinEdgeLive
	}
	if minEdge <= 0 {
		if mode == types.ModeLive {
			minEdge = 0.08
		} else {
			minEdge = 0.03
		}
	}

	byMarket := make(map[string]types.Signal)
	for _, c := range candidates {
		normalized := normalizeDirection(c.Signal)

		existing, ok := byMarket[normalized.MatchedID]
		if !ok {
			byMarket[normalized.MatchedID] = normalized
			continue
		}

		// Fair-value replaces composite only when strictly larger edge for
		// the same market (and vice versa); any other pairing likewise keeps
		// the higher-edge candidate.
		if normalized.Strategy == types.StrategyFairValue && existing.Strategy == types.StrategyComposite {
			if normalized.NetEdge > existing.NetEdge {
				byMarket[normalized.MatchedID] = normalized
			}
			continue
		}
		if existing.Strategy == types.StrategyFairValue && normalized.Strategy == types.StrategyComposite {
			if normalized.NetEdge > existing.NetEdge {
				byMarket[normalized.MatchedID] = normalized
			}
			continue
		}
		// Otherwise keep the higher-edge candidate.
		if normalized.NetEdge > existing.NetEdge {
			byMarket[normalized.MatchedID] = normalized
		}
	}

	minScore := cfg.MinCompositeScore
	if minScore <= 0 {
		minScore = 60
	}

	actionable := make([]types.Signal, 0, len(byMarket))
	for _, sig := range byMarket {
		if sig.Strategy == types.StrategyComposite && sig.Score < minScore {
			continue
		}
		if sig.NetEdge < minEdge {
			continue
		}
		actionable = append(actionable, sig)
	}
	return actionable
}

// normalizeDirection ensures a synthetic-arb candidate's direction is
// YES/NO rather than whatever leg-relative sign the arb detector produced.
func normalizeDirection(s types.Signal) types.Signal {
	if s.Strategy != types.StrategySyntheticArb {
		return s
	}
	if s.Direction != types.DirYES && s.Direction != types.DirNO {
		s.Direction = types.DirYES
	}
	return s
}
