package trading

import (
	"context"
	"encoding/json"
	"time"

	"predxarb/pkg/types"
)

const (
	thresholdFloor          = 45.0
	thresholdCeilingLive    = 65.0
	thresholdLooseningStep  = 5.0
	thresholdTighteningStep = 5.0
	kellyStep               = 0.02
	kellyCeilingLive        = 0.20
	winRateLooseningFloor   = 0.65
	winRateTighteningCeil   = 0.50
	starvationStreakLimit   = 5
	pnlFloor                = 0.0
)

// RunLearningLoop re-tunes scoreThreshold and kellyFraction every
// LearningInterval from the outcomes of the last LearningSampleSize trades.
// Never touches fee constants, nonce persistence, or hard safety caps; every
// change is clamped and logged to the audit trail.
func (e *Engine) RunLearningLoop(ctx context.Context) {
	interval := e.cfg.LearningInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.adapt(ctx)
		}
	}
}

func (e *Engine) adapt(ctx context.Context) {
	sampleSize := e.cfg.LearningSampleSize
	if sampleSize <= 0 {
		sampleSize = 50
	}
	trades, err := e.store.RecentClosedTrades(ctx, sampleSize)
	if err != nil {
		e.logger.Warn("adaptive learning: failed to load recent trades", "error", err)
		return
	}
	minTrades := e.cfg.MinTradesToAdapt
	if minTrades <= 0 {
		minTrades = 10
	}
	if len(trades) < minTrades {
		return
	}

	wins := 0
	var totalPnL float64
	for _, t := range trades {
		pnl := decimalToFloat(t.NetPnL)
		totalPnL += pnl
		if pnl > 0 {
			wins++
		}
	}
	winRate := float64(wins) / float64(len(trades))
	avgPnL := totalPnL / float64(len(trades))

	e.paramsMu.Lock()
	defer e.paramsMu.Unlock()

	switch {
	case winRate > winRateLooseningFloor && avgPnL > pnlFloor:
		e.scoreThreshold = clampFloat(e.scoreThreshold-thresholdLooseningStep, thresholdFloor, thresholdCeilingLive)
		if e.mode == types.ModeLive {
			e.kellyFraction = clampFloat(e.kellyFraction+kellyStep, 0, kellyCeilingLive)
		}
		e.tighteningStreak = 0
		e.auditParamChange(ctx, "loosen", winRate, avgPnL)

	case winRate < winRateTighteningCeil:
		e.scoreThreshold = clampFloat(e.scoreThreshold+thresholdTighteningStep, thresholdFloor, thresholdCeilingLive)
		e.kellyFraction = clampFloat(e.kellyFraction-kellyStep, 0, kellyCeilingLive)
		e.tighteningStreak++
		if e.tighteningStreak >= starvationStreakLimit {
			// Starvation reset: five consecutive tightenings return the
			// threshold to the floor. Whether any entries were made between
			// the tightenings is not checked.
			e.scoreThreshold = thresholdFloor
			e.tighteningStreak = 0
		}
		e.auditParamChange(ctx, "tighten", winRate, avgPnL)
	}
}

func (e *Engine) auditParamChange(ctx context.Context, direction string, winRate, avgPnL float64) {
	payload, _ := json.Marshal(struct {
		Direction      string  `json:"direction"`
		WinRate        float64 `json:"win_rate"`
		AvgPnL         float64 `json:"avg_pnl"`
		ScoreThreshold float64 `json:"score_threshold"`
		KellyFraction  float64 `json:"kelly_fraction"`
	}{direction, winRate, avgPnL, e.scoreThreshold, e.kellyFraction})

	if err := e.store.AppendAudit(ctx, "adaptive_learning", string(payload)); err != nil {
		e.logger.Warn("failed to audit adaptive learning change", "error", err)
	}
	e.logger.Info("adaptive learning adjusted parameters",
		"direction", direction, "win_rate", winRate, "avg_pnl", avgPnL,
		"score_threshold", e.scoreThreshold, "kelly_fraction", e.kellyFraction,
	)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
