package trading

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"predxarb/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRiskManagerDrawdownTripsKillSwitch(t *testing.T) {
	rm := NewRiskManager(config.RiskConfig{DrawdownKillSwitchPct: 0.20}, discardLogger())
	rm.ObserveBalance(1000)
	rm.ObserveBalance(750) // 25% drawdown from peak

	if !rm.KillSwitchTripped() {
		t.Error("expected kill switch to trip on 25% drawdown with 20% limit")
	}
}

func TestRiskManagerEmergencyResetClears(t *testing.T) {
	rm := NewRiskManager(config.RiskConfig{DrawdownKillSwitchPct: 0.10}, discardLogger())
	rm.ObserveBalance(1000)
	rm.ObserveBalance(800)
	if !rm.KillSwitchTripped() {
		t.Fatal("expected kill switch tripped before reset")
	}
	rm.EmergencyReset()
	if rm.KillSwitchTripped() {
		t.Error("expected kill switch cleared after reset")
	}
}

func TestRiskManagerDailyLossOK(t *testing.T) {
	rm := NewRiskManager(config.RiskConfig{MaxDailyLoss: 100}, discardLogger())
	rm.RecordDailyPnL(-50)
	if !rm.DailyLossOK() {
		t.Error("expected daily loss within budget")
	}
	rm.RecordDailyPnL(-60)
	if rm.DailyLossOK() {
		t.Error("expected daily loss to breach budget")
	}
}

func TestRiskManagerCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	rm := NewRiskManager(config.RiskConfig{CircuitBreakerFailures: 3, CircuitBreakerCooldown: time.Minute}, discardLogger())
	for i := 0; i < 3; i++ {
		rm.RecordVenueFailure()
	}
	if rm.CircuitClosed() {
		t.Error("expected circuit breaker open after 3 consecutive failures")
	}
}

func TestRiskManagerCircuitBreakerClosesOnSuccess(t *testing.T) {
	rm := NewRiskManager(config.RiskConfig{CircuitBreakerFailures: 2, CircuitBreakerCooldown: time.Minute}, discardLogger())
	rm.RecordVenueFailure()
	rm.RecordVenueFailure()
	if rm.CircuitClosed() {
		t.Fatal("expected circuit open")
	}
	rm.RecordVenueSuccess()
	rm.RecordVenueFailure()
	if !rm.CircuitClosed() {
		t.Error("expected circuit still closed after single failure post-reset")
	}
}
