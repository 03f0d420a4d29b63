package trading

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/pkg/types"
)

// MonitorQuote is the minimal live-quote input the exit monitor needs per open position.
type MonitorQuote struct {
	Mid      float64
	BestBid  float64
	BestAsk  float64
	Last     float64
}

// MonitorQuoteLookup resolves a venue-A market id to its current quote.
type MonitorQuoteLookup func(venueAMarketID string) (MonitorQuote, bool)

// Monitor evaluates every open position's exit conditions in the spec order:
// take-profit -> stop-loss -> expiry-aware time-decay -> max-hold.
func (e *Engine) Monitor(ctx context.Context, lookup MonitorQuoteLookup) {
	for _, pos := range e.books.Open() {
		if pos.State != types.StateOpen {
			continue
		}
		q, ok := lookup(pos.VenueAMarket)
		if !ok {
			continue
		}
		e.evaluateExit(ctx, pos, q)
	}
}

func (e *Engine) evaluateExit(ctx context.Context, pos types.Position, q MonitorQuote) {
	mid := q.Mid
	e.updateWaterMarks(&pos, mid)

	reason, shouldExit := e.exitReason(pos, mid)
	if !shouldExit {
		e.books.Put(pos)
		return
	}

	if err := e.exitPosition(ctx, pos, q, reason); err != nil {
		e.logger.Warn("exit attempt failed, will retry next cycle", "position", pos.ID, "reason", reason, "error", err)
		// Exit failures never mark the position closed; retry next monitor pass.
		e.books.Put(pos)
	}
}

func (e *Engine) updateWaterMarks(pos *types.Position, mid float64) {
	if mid > decimalToFloat(pos.HighWater) {
		pos.HighWater = decimal.NewFromFloat(mid)
	}
	if mid < decimalToFloat(pos.LowWater) || decimalToFloat(pos.LowWater) == 0 {
		pos.LowWater = decimal.NewFromFloat(mid)
	}
	// Stop-loss trails the running mid, not the fill price; recomputed every pass.
	trail := e.cfg.StopLossPct
	if pos.Direction == types.DirYES {
		trailed := decimalToFloat(pos.HighWater) - trail
		if trailed > decimalToFloat(pos.StopLoss) {
			pos.StopLoss = decimal.NewFromFloat(trailed)
		}
	} else {
		trailed := decimalToFloat(pos.LowWater) + trail
		if trailed < decimalToFloat(pos.StopLoss) {
			pos.StopLoss = decimal.NewFromFloat(trailed)
		}
	}
}

// exitReason implements the monitoring order: TP -> SL -> time-decay -> max-hold.
func (e *Engine) exitReason(pos types.Position, mid float64) (types.ExitReason, bool) {
	tp := decimalToFloat(pos.TakeProfit)
	sl := decimalToFloat(pos.StopLoss)
	entry := decimalToFloat(pos.EntryPrice)

	if pos.Direction == types.DirYES {
		if mid >= tp {
			return types.ExitTakeProfit, true
		}
		if mid <= sl {
			return types.ExitStopLoss, true
		}
	} else {
		if mid <= tp {
			return types.ExitTakeProfit, true
		}
		if mid >= sl {
			return types.ExitStopLoss, true
		}
	}

	holdWindow := pos.MaxHoldUntil.Sub(pos.EntryTimestamp)
	elapsed := time.Since(pos.EntryTimestamp)
	inFinalStretch := holdWindow > 0 && elapsed >= time.Duration(float64(holdWindow)*0.80)
	unrealizedProfit := (mid - entry)
	if pos.Direction == types.DirNO {
		unrealizedProfit = entry - mid
	}
	if inFinalStretch && unrealizedProfit > 0 {
		return types.ExitTimeDecay, true
	}

	if time.Now().After(pos.MaxHoldUntil) {
		return types.ExitExpiry, true
	}
	return "", false
}

func (e *Engine) exitPosition(ctx context.Context, pos types.Position, q MonitorQuote, reason types.ExitReason) error {
	exitPrice := q.Mid
	live := pos.Mode == types.ModeLive

	if live {
		side := types.SELL
		outcome := types.YES
		if pos.Direction == types.DirNO {
			outcome = types.NO
		}
		if outcome == types.YES {
			exitPrice = q.BestBid
		} else {
			exitPrice = 1 - q.BestAsk
		}
		req := types.OrderRequest{
			MarketID:    pos.VenueAMarket,
			Side:        side,
			Outcome:     outcome,
			Type:        types.OrderTypeLimit,
			Quantity:    pos.Quantity,
			Price:       decimal.NewFromFloat(exitPrice),
			TimeInForce: types.TIFGoodTilCancel,
		}
		report, err := e.venueA.PlaceOrder(ctx, req)
		if err != nil {
			e.risk.RecordVenueFailure()
			return fmt.Errorf("exit order: %w", err)
		}
		e.risk.RecordVenueSuccess()
		if ap := decimalToFloat(report.AvgExecutionPrice); ap > 0 {
			exitPrice = ap
		}
	}

	entry := decimalToFloat(pos.EntryPrice)
	qty := decimalToFloat(pos.Quantity)
	grossPnL := (exitPrice - entry) * qty
	fees := 0.0
	if pos.Mode == types.ModePaper {
		fees = qty * entryPrice(pos) * 0.001 // paper maker fee proxy, matches synthetic-fill assumption on entry
	}
	netPnL := grossPnL - fees

	trade := types.ClosedTrade{
		PositionID:  pos.ID,
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   decimal.NewFromFloat(exitPrice),
		Quantity:    pos.Quantity,
		GrossPnL:    decimal.NewFromFloat(grossPnL),
		NetPnL:      decimal.NewFromFloat(netPnL),
		Fees:        decimal.NewFromFloat(fees),
		ExitReason:  reason,
		HoldSeconds: int64(time.Since(pos.EntryTimestamp).Seconds()),
		Mode:        pos.Mode,
		ClosedAt:    time.Now(),
	}

	pos.State = types.StateClosed
	if err := e.store.ClosePosition(ctx, pos, trade); err != nil {
		return fmt.Errorf("persist close: %w", err)
	}
	e.books.Remove(pos.ID)
	e.risk.RecordDailyPnL(netPnL)
	if e.winRates != nil {
		e.winRates.Record(pos.Category, netPnL > 0)
	}

	e.logger.Info("position closed",
		"position", pos.ID, "market", pos.MatchedID, "reason", reason,
		"net_pnl", netPnL, "hold_seconds", trade.HoldSeconds,
	)
	return nil
}

// ManualClose exits one open position immediately on operator demand,
// bypassing the TP/SL/time-decay/expiry schedule. Used by the close-position
// endpoint.
func (e *Engine) ManualClose(ctx context.Context, positionID int64, lookup MonitorQuoteLookup) error {
	pos, ok := e.books.Get(positionID)
	if !ok {
		return fmt.Errorf("position %d not open", positionID)
	}
	q, ok := lookup(pos.VenueAMarket)
	if !ok {
		return fmt.Errorf("no current quote for market %s", pos.VenueAMarket)
	}
	return e.exitPosition(ctx, pos, q, types.ExitManual)
}

func entryPrice(pos types.Position) float64 {
	return decimalToFloat(pos.EntryPrice)
}
