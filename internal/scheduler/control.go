package scheduler

import (
	"context"
	"time"

	"predxarb/pkg/types"
)

// HealthInfo is the operator health endpoint's snapshot of bot state.
type HealthInfo struct {
	Mode             types.Mode
	Paused           bool
	CircuitClosed    bool
	KillSwitchActive bool
	OpenPositions    int
	Wallet           types.Wallet
	AsOf             time.Time
}

// Health reports the current bot state for the operator's health endpoint.
func (e *Engine) Health(ctx context.Context) (HealthInfo, error) {
	wallet, err := e.store.GetWallet(ctx)
	if err != nil {
		return HealthInfo{}, err
	}
	return HealthInfo{
		Mode:             types.Mode(e.cfg.Mode),
		Paused:           e.isPaused(),
		CircuitClosed:    e.risk.CircuitClosed(),
		KillSwitchActive: e.risk.KillSwitchTripped(),
		OpenPositions:    e.books.Count(),
		Wallet:           wallet,
		AsOf:             time.Now(),
	}, nil
}

// EmergencyStop trips the kill switch, pauses new entries, and closes every
// open position at the best available quote (spec §6).
func (e *Engine) EmergencyStop(reason string) {
	e.risk.ManualStop(reason)
	e.pausedMu.Lock()
	e.paused = true
	e.pausedMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownOrderDrainTimeout)
	defer cancel()
	for _, pos := range e.books.Open() {
		if err := e.trading.ManualClose(ctx, pos.ID, e.quoteLookup); err != nil {
			e.logger.Error("emergency stop: failed to close position", "position", pos.ID, "error", err)
		}
	}

	e.notifyWebhook("emergency_stop", reason)
}

// Resume clears the kill switch and resumes new entries.
func (e *Engine) Resume() {
	e.risk.EmergencyReset()
	e.pausedMu.Lock()
	e.paused = false
	e.pausedMu.Unlock()
}

// ClosePosition exits one open position immediately, using the most recent
// quote in the shared quote cache.
func (e *Engine) ClosePosition(ctx context.Context, positionID int64) error {
	return e.trading.ManualClose(ctx, positionID, e.quoteLookup)
}

// TriggerRematch requests an out-of-cycle market-matcher pass.
func (e *Engine) TriggerRematch() {
	e.matcher.TriggerNow()
}

// GetParameter, SetParameter, and ListParameters proxy the tunable-parameter
// store for the operator's parameter endpoints.
func (e *Engine) GetParameter(ctx context.Context, key string) (types.Parameter, bool, error) {
	return e.store.GetParameter(ctx, key)
}

func (e *Engine) SetParameter(ctx context.Context, p types.Parameter) error {
	return e.store.SetParameter(ctx, p)
}

func (e *Engine) ListParameters(ctx context.Context) ([]types.Parameter, error) {
	return e.store.ListParameters(ctx)
}
