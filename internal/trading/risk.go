// Package trading implements the trading engine: pre-trade guards, Kelly
// sizing, entry/exit management, and the adaptive learning loop that tunes
// thresholds from recent trade outcomes.
package trading

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"predxarb/internal/config"
)

// KillSignal is emitted when the drawdown kill-switch trips or the operator
// stops trading manually; the circuit breaker opening emits none. The engine
// reads this and halts new entries until cleared.
type KillSignal struct {
	Reason string
	At     time.Time
}

// RiskManager tracks wallet drawdown, daily loss, and consecutive venue
// failures, tripping a kill switch / circuit breaker that gates guard (1) of
// the trading engine's pre-trade checks.
type RiskManager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	mu                 sync.Mutex
	peakBalance        float64
	dailyStartBalance  float64
	dailyLoss          float64
	consecutiveFailures int
	circuitOpenUntil   time.Time
	killSwitchTripped  bool
	killReason         string

	killCh chan KillSignal
}

// NewRiskManager creates a risk manager.
func NewRiskManager(cfg config.RiskConfig, logger *slog.Logger) *RiskManager {
	return &RiskManager{
		cfg:    cfg,
		logger: logger.With("component", "risk"),
		killCh: make(chan KillSignal, 10),
	}
}

// KillCh returns the channel emitting kill signals.
func (rm *RiskManager) KillCh() <-chan KillSignal { return rm.killCh }

// ObserveBalance updates peak balance and checks the drawdown kill-switch.
// DrawdownKillSwitchPct is expressed as a fraction of peak (e.g. 0.20 = 20%).
func (rm *RiskManager) ObserveBalance(balance float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if balance > rm.peakBalance {
		rm.peakBalance = balance
	}
	if rm.peakBalance <= 0 {
		return
	}

	drawdown := (rm.peakBalance - balance) / rm.peakBalance
	if drawdown >= rm.cfg.DrawdownKillSwitchPct && !rm.killSwitchTripped {
		rm.trip(fmt.Sprintf("drawdown kill-switch: %.1f%% from peak", drawdown*100))
	}
}

// RecordDailyPnL accrues today's realized PnL; resets at ResetDaily.
func (rm *RiskManager) RecordDailyPnL(delta float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyLoss -= delta // delta is signed PnL; losses accumulate positive
}

// ResetDaily clears the rolling daily loss counter (called by the scheduler's
// hourly reconciliation pass on its first run after the UTC date changes).
func (rm *RiskManager) ResetDaily() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.dailyLoss = 0
}

// DailyLossOK reports whether today's realized loss is still within budget.
func (rm *RiskManager) DailyLossOK() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.dailyLoss < rm.cfg.MaxDailyLoss
}

// RecordVenueFailure tracks consecutive upstream failures; CircuitBreakerFailures
// consecutive failures open the circuit for CircuitBreakerCooldown.
func (rm *RiskManager) RecordVenueFailure() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.consecutiveFailures++
	if rm.consecutiveFailures >= rm.cfg.CircuitBreakerFailures {
		rm.circuitOpenUntil = time.Now().Add(rm.cfg.CircuitBreakerCooldown)
		rm.logger.Warn("circuit breaker opened", "consecutive_failures", rm.consecutiveFailures, "cooldown", rm.cfg.CircuitBreakerCooldown)
	}
}

// RecordVenueSuccess clears the consecutive-failure counter.
func (rm *RiskManager) RecordVenueSuccess() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.consecutiveFailures = 0
}

// CircuitClosed reports whether the circuit breaker currently allows new
// venue calls (guard 1's "circuit-breaker-closed" condition).
func (rm *RiskManager) CircuitClosed() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.circuitOpenUntil.IsZero() {
		return true
	}
	if time.Now().After(rm.circuitOpenUntil) {
		rm.circuitOpenUntil = time.Time{}
		return true
	}
	return false
}

// KillSwitchTripped reports whether the drawdown kill-switch is active. It
// only clears via manual operator reset (EmergencyReset), never automatically.
func (rm *RiskManager) KillSwitchTripped() bool {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	return rm.killSwitchTripped
}

// ManualStop trips the kill switch on operator demand, halting new entries
// immediately regardless of drawdown or circuit-breaker state.
func (rm *RiskManager) ManualStop(reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.trip("manual operator stop: " + reason)
}

// EmergencyReset clears the kill switch; only the operator surface should call this.
func (rm *RiskManager) EmergencyReset() {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.killSwitchTripped = false
	rm.killReason = ""
	rm.logger.Info("kill switch manually reset by operator")
}

func (rm *RiskManager) trip(reason string) {
	rm.killSwitchTripped = true
	rm.killReason = reason
	rm.logger.Error("KILL SWITCH TRIPPED", "reason", reason)

	sig := KillSignal{Reason: reason, At: time.Now()}
	select {
	case rm.killCh <- sig:
	default:
		select {
		case <-rm.killCh:
		default:
		}
		rm.killCh <- sig
	}
}

// Run periodically logs risk state; kept for parity with the scheduler's
// other cooperative loops even though most checks are event-driven via
// ObserveBalance/RecordVenueFailure.
func (rm *RiskManager) Run(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.mu.Lock()
			tripped := rm.killSwitchTripped
			rm.mu.Unlock()
			if tripped {
				rm.logger.Warn("kill switch remains active, awaiting operator reset")
			}
		}
	}
}
