package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/pkg/types"
)

func newTestPosition(direction types.Direction, entry, tp, sl float64, holdWindow time.Duration) types.Position {
	now := time.Now()
	return types.Position{
		ID:             1,
		MatchedID:      "m1",
		VenueAMarket:   "GEMI-BTC2512311200-HI67D5",
		Direction:      direction,
		EntryPrice:     decimal.NewFromFloat(entry),
		Quantity:       decimal.NewFromFloat(100),
		EntryTimestamp: now.Add(-holdWindow / 2),
		Mode:           types.ModePaper,
		State:          types.StateOpen,
		TakeProfit:     decimal.NewFromFloat(tp),
		StopLoss:       decimal.NewFromFloat(sl),
		MaxHoldUntil:   now.Add(-holdWindow/2 + holdWindow),
		HighWater:      decimal.NewFromFloat(entry),
		LowWater:       decimal.NewFromFloat(entry),
	}
}

func TestExitReasonTakeProfitWinsOverStopLoss(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	pos := newTestPosition(types.DirYES, 0.50, 0.55, 0.45, time.Hour)

	reason, exit := e.exitReason(pos, 0.56)
	if !exit || reason != types.ExitTakeProfit {
		t.Errorf("reason = %v, exit = %v; want take-profit", reason, exit)
	}
}

func TestExitReasonStopLossTriggersBelowFloor(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	pos := newTestPosition(types.DirYES, 0.50, 0.55, 0.45, time.Hour)

	reason, exit := e.exitReason(pos, 0.44)
	if !exit || reason != types.ExitStopLoss {
		t.Errorf("reason = %v, exit = %v; want stop-loss", reason, exit)
	}
}

func TestExitReasonTimeDecayRequiresProfitInFinalStretch(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	now := time.Now()
	pos := types.Position{
		Direction:      types.DirYES,
		EntryPrice:     decimal.NewFromFloat(0.50),
		EntryTimestamp: now.Add(-90 * time.Minute),
		TakeProfit:     decimal.NewFromFloat(0.80),
		StopLoss:       decimal.NewFromFloat(0.20),
		MaxHoldUntil:   now.Add(10 * time.Minute), // 90/100 min = 90% elapsed, in final 20%
	}

	reason, exit := e.exitReason(pos, 0.52) // unrealized profit > 0, mid between TP/SL
	if !exit || reason != types.ExitTimeDecay {
		t.Errorf("reason = %v, exit = %v; want time-decay", reason, exit)
	}
}

func TestExitReasonNoExitWhenNoConditionMet(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	pos := newTestPosition(types.DirYES, 0.50, 0.55, 0.45, time.Hour)

	_, exit := e.exitReason(pos, 0.50)
	if exit {
		t.Error("expected no exit when mid sits between TP and SL, mid-hold")
	}
}

func TestExitReasonMaxHoldExpiry(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	now := time.Now()
	pos := types.Position{
		Direction:      types.DirYES,
		EntryPrice:     decimal.NewFromFloat(0.50),
		EntryTimestamp: now.Add(-2 * time.Hour),
		TakeProfit:     decimal.NewFromFloat(0.80),
		StopLoss:       decimal.NewFromFloat(0.20),
		MaxHoldUntil:   now.Add(-time.Minute),
	}

	reason, exit := e.exitReason(pos, 0.50)
	if !exit || reason != types.ExitExpiry {
		t.Errorf("reason = %v, exit = %v; want expiry", reason, exit)
	}
}

func TestUpdateWaterMarksTrailsStopLossUpward(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	pos := newTestPosition(types.DirYES, 0.50, 0.70, 0.45, time.Hour)

	e.updateWaterMarks(&pos, 0.60)

	if decimalToFloat(pos.HighWater) != 0.60 {
		t.Errorf("high water = %v, want 0.60", decimalToFloat(pos.HighWater))
	}
	wantSL := 0.60 - e.cfg.StopLossPct
	if decimalToFloat(pos.StopLoss) != wantSL {
		t.Errorf("stop loss = %v, want %v", decimalToFloat(pos.StopLoss), wantSL)
	}
}

func TestUpdateWaterMarksNeverTrailsStopLossDownward(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	pos := newTestPosition(types.DirYES, 0.50, 0.70, 0.45, time.Hour)
	e.updateWaterMarks(&pos, 0.60)
	trailedSL := decimalToFloat(pos.StopLoss)

	e.updateWaterMarks(&pos, 0.55) // pullback, should not loosen stop

	if decimalToFloat(pos.StopLoss) != trailedSL {
		t.Errorf("stop loss = %v, want unchanged at %v after pullback", decimalToFloat(pos.StopLoss), trailedSL)
	}
}

func TestExitPositionPaperModeClosesAndRecordsPnL(t *testing.T) {
	e, store, venueA := newTestEngine(types.ModePaper)
	pos := newTestPosition(types.DirYES, 0.50, 0.55, 0.45, time.Hour)
	pos.ID = 7
	e.books.Put(pos)

	q := MonitorQuote{Mid: 0.58, BestBid: 0.57, BestAsk: 0.59}
	if err := e.exitPosition(context.Background(), pos, q, types.ExitTakeProfit); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(store.closedTrades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(store.closedTrades))
	}
	if store.closedTrades[0].NetPnL.Sign() <= 0 {
		t.Error("expected positive net pnl on profitable exit")
	}
	if len(venueA.placedOrders) != 0 {
		t.Error("expected no live order placed in paper mode exit")
	}
}
