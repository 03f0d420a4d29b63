package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/internal/fairvalue"
	"predxarb/internal/signal"
	"predxarb/internal/trading"
	"predxarb/pkg/types"
)

// cycleMarket is the per-market working set built fresh every fast-loop tick:
// the quotes needed both to score the signal and to feed the trading
// engine's guards and exit monitor.
type cycleMarket struct {
	matched types.MatchedMarket
	quoteA  types.Quote
	hasA    bool
	bookA   types.BookTop
	quoteB  types.Quote
	hasB    bool
	quoteC  types.Quote
	hasC    bool
}

// runCycle refreshes quotes for every matched market, scores and merges
// signals, then drives one trading-engine Tick (entries) and Monitor (exits).
func (e *Engine) runCycle() {
	ctx, cancel := context.WithTimeout(e.ctx, defaultFastInterval*3)
	defer cancel()

	snapshot := e.snapshotMarkets()
	if len(snapshot) == 0 {
		e.trading.Monitor(ctx, e.quoteLookup)
		return
	}

	cycles := e.fetchCycleQuotes(ctx, snapshot)

	states := make(map[string]trading.MarketState, len(cycles))
	candidates := make([]signal.Candidate, 0, len(cycles))

	for matchedID, cm := range cycles {
		if !cm.hasA {
			continue
		}
		state := e.buildMarketState(cm)
		states[matchedID] = state

		refProb := e.computeReferenceProb(cm)
		history := e.updatePriceHistory(matchedID, refProb)

		inputs := signal.Inputs{
			MatchedID:               matchedID,
			Category:                cm.matched.Category,
			PriceHistory:            history,
			SpreadA:                 state.SpreadA,
			SpreadB:                 spreadOf(cm.quoteB, cm.hasB),
			SpreadC:                 spreadOf(cm.quoteC, cm.hasC),
			HasB:                    cm.hasB,
			HasC:                    cm.hasC,
			ProbB:                   midOf(cm.quoteB, cm.hasB),
			ProbC:                   midOf(cm.quoteC, cm.hasC),
			ReferenceProb:           refProb,
			MidA:                    state.MidA,
			SecondsSinceALastTraded: time.Since(cm.quoteA.Timestamp).Seconds(),
			TwoSidedBookA:           state.TwoSidedBook,
			AskDepthA:               state.AskDepth,
			BidDepthA:               state.BidDepth,
		}

		score := e.detector.Score(inputs)
		if score.HasDirection {
			netEdge := inputs.ReferenceProb - state.MidA
			if score.Direction == types.DirNO {
				netEdge = -netEdge
			}
			candidates = append(candidates, signal.Candidate{Signal: types.Signal{
				MatchedID:   matchedID,
				Direction:   score.Direction,
				Score:       score.Total,
				NetEdge:     netEdge,
				Confidence:  score.Total / 100,
				Strategy:    types.StrategyComposite,
				GeneratedAt: time.Now(),
			}})
		}

		if cm.matched.Category == types.CategoryCrypto && state.Strike > 0 {
			if fv, ok := e.buildFairValueCandidate(matchedID, cm, state); ok {
				candidates = append(candidates, fv)
			}
		}
	}

	actionable := signal.BuildActionable(candidates, e.cfg.Signal, types.Mode(e.cfg.Mode), time.Now())

	lookup := func(matchedID string) (trading.MarketState, bool) {
		s, ok := states[matchedID]
		return s, ok
	}

	running := !e.isPaused() && e.ctx.Err() == nil
	e.trading.Tick(ctx, actionable, lookup, running)
	e.trading.Monitor(ctx, e.quoteLookup)
}

// snapshotMarkets copies the current matched-market set under lock.
func (e *Engine) snapshotMarkets() map[string]types.MatchedMarket {
	e.marketsMu.RLock()
	defer e.marketsMu.RUnlock()
	out := make(map[string]types.MatchedMarket, len(e.markets))
	for id, st := range e.markets {
		out[id] = st.matched
	}
	return out
}

// fetchCycleQuotes pulls a fresh venue-A quote (always) and venue-B/C quotes
// (when matched) for every market this cycle, caching the result for the
// exit monitor's quote lookup.
func (e *Engine) fetchCycleQuotes(ctx context.Context, snapshot map[string]types.MatchedMarket) map[string]cycleMarket {
	out := make(map[string]cycleMarket, len(snapshot))

	for matchedID, m := range snapshot {
		cm := cycleMarket{matched: m}

		aQuotes, err := e.venueA.BatchQuotes(ctx, []string{m.VenueAID})
		if err != nil || len(aQuotes) == 0 {
			e.logger.Debug("no venue A quote", "matched_id", matchedID, "error", err)
			out[matchedID] = cm
			continue
		}
		cm.quoteA, cm.hasA = aQuotes[0], true
		e.quotes.Put(cm.quoteA)

		cm.bookA = types.BookTop{Empty: true}
		if top, err := e.venueA.BookTop(ctx, m.VenueAID); err == nil {
			cm.bookA = top
		}

		if m.VenueBID != "" {
			if qs, err := e.venueB.BatchQuotes(ctx, []string{m.VenueBID}); err == nil && len(qs) > 0 {
				cm.quoteB, cm.hasB = qs[0], true
				e.quotes.Put(cm.quoteB)
			}
		}
		if m.VenueCID != "" {
			if qs, err := e.venueC.BatchQuotes(ctx, []string{m.VenueCID}); err == nil && len(qs) > 0 {
				cm.quoteC, cm.hasC = qs[0], true
				e.quotes.Put(cm.quoteC)
			}
		}

		out[matchedID] = cm
	}

	return out
}

// buildMarketState translates one cycle's raw quotes into the guard/sizer
// input the trading engine needs.
func (e *Engine) buildMarketState(cm cycleMarket) trading.MarketState {
	mid := decimalToFloat(cm.quoteA.Mid())
	spread := decimalToFloat(cm.quoteA.Ask.Sub(cm.quoteA.Bid))

	state := trading.MarketState{
		MatchedID:        cm.matched.ID,
		Category:         cm.matched.Category,
		VenueAMarketID:   cm.matched.VenueAID,
		MidA:             mid,
		SpreadA:          spread,
		BestAsk:          decimalToFloat(cm.quoteA.Ask),
		BestBid:          decimalToFloat(cm.quoteA.Bid),
		AskDepth:         decimalToFloat(cm.bookA.AskQty),
		BidDepth:         decimalToFloat(cm.bookA.BidQty),
		TwoSidedBook:     !cm.bookA.OneSided && !cm.bookA.Empty,
		IsLiveRoutable:   isLiveRoutable(cm.matched.VenueAID),
		IsCrypto:         cm.matched.Category == types.CategoryCrypto,
		StopLossWidthRef: e.cfg.Trading.StopLossPct,
	}

	if cm.matched.Structural != nil {
		state.Strike = decimalToFloat(cm.matched.Structural.Strike)
		if !cm.matched.Structural.Expiry.IsZero() {
			state.TimeToExpiry = time.Until(cm.matched.Structural.Expiry)
		}
		if spot, ok := e.spotFeed.Price(spotSymbol(cm.matched.Structural.Asset)); ok {
			state.SpotPrice = decimalToFloat(spot)
		}
	}

	return state
}

// buildFairValueCandidate prices a crypto market through Black-Scholes and
// produces a fair-value signal candidate when the ensemble clears its
// minimum contributing-model count.
func (e *Engine) buildFairValueCandidate(matchedID string, cm cycleMarket, state trading.MarketState) (signal.Candidate, bool) {
	if state.TimeToExpiry <= 0 {
		return signal.Candidate{}, false
	}

	prob, weight := e.fvEngine.BlackScholesModel(state.SpotPrice, state.Strike, cm.matched.Structural.Payoff, state.TimeToExpiry, e.cfg.FairValue.DefaultVolatility)

	inputs := []fairvalue.ModelInput{{Name: "black-scholes", Probability: prob, Weight: weight}}
	if cm.hasC {
		inputs = append(inputs, fairvalue.ModelInput{Name: "venue-c", Probability: midOf(cm.quoteC, cm.hasC), Weight: 1})
	}

	contributing := 0
	for _, in := range inputs {
		if in.Weight > 0 {
			contributing++
		}
	}
	if contributing < e.cfg.FairValue.EnsembleMinModels {
		return signal.Candidate{}, false
	}

	direction := types.DirYES
	if prob < state.MidA {
		direction = types.DirNO
	}

	fv := e.fvEngine.Combine(inputs, state.MidA, state.SpreadA/2, direction, sourceAgreement(cm), liquidityScore(state), expiryHealth(state.TimeToExpiry))
	if fv.KellyFraction <= 0 {
		return signal.Candidate{}, false
	}

	return signal.Candidate{Signal: types.Signal{
		MatchedID:   matchedID,
		Direction:   direction,
		Score:       fv.Confidence * 100,
		NetEdge:     fv.Edge,
		Confidence:  fv.Confidence,
		Strategy:    types.StrategyFairValue,
		GeneratedAt: time.Now(),
	}}, true
}

// computeReferenceProb builds the cross-venue consensus reference
// probability for one market from whichever sources are present this cycle.
func (e *Engine) computeReferenceProb(cm cycleMarket) float64 {
	present := make(map[string]float64, 2)
	if cm.hasB {
		present["B"] = midOf(cm.quoteB, true)
	}
	if cm.hasC {
		present["C"] = midOf(cm.quoteC, true)
	}
	if len(present) == 0 {
		return decimalToFloat(cm.quoteA.Mid())
	}
	ref := e.refBuilder.Compute(cm.matched.ID, cm.matched.Category, present)
	return ref.Probability
}

// updatePriceHistory appends the latest reference price to the rolling per-market
// velocity window, capped at priceHistoryWindow samples.
func (e *Engine) updatePriceHistory(matchedID string, mid float64) []signal.PricePoint {
	e.marketsMu.Lock()
	defer e.marketsMu.Unlock()

	st, ok := e.markets[matchedID]
	if !ok {
		return nil
	}
	st.priceHistory = append(st.priceHistory, signal.PricePoint{Timestamp: time.Now(), Price: mid})
	if len(st.priceHistory) > priceHistoryWindow {
		st.priceHistory = st.priceHistory[len(st.priceHistory)-priceHistoryWindow:]
	}
	return append([]signal.PricePoint(nil), st.priceHistory...)
}

// quoteLookup resolves a venue-A market id to the exit monitor's minimal
// quote shape, served from the shared quote cache populated each cycle.
func (e *Engine) quoteLookup(venueAMarketID string) (trading.MonitorQuote, bool) {
	q, ok := e.quotes.Get(types.VenueA, venueAMarketID)
	if !ok {
		return trading.MonitorQuote{}, false
	}
	return trading.MonitorQuote{
		Mid:     decimalToFloat(q.Mid()),
		BestBid: decimalToFloat(q.Bid),
		BestAsk: decimalToFloat(q.Ask),
		Last:    decimalToFloat(q.Last),
	}, true
}

func spreadOf(q types.Quote, has bool) float64 {
	if !has {
		return 0
	}
	return decimalToFloat(q.Ask.Sub(q.Bid))
}

func midOf(q types.Quote, has bool) float64 {
	if !has {
		return 0
	}
	return decimalToFloat(q.Mid())
}

// spotSymbol maps a parsed crypto asset ("BTC") to the spot feed's Binance-style
// ticker symbol ("BTCUSDT"), the quote currency the fair-value engine is
// configured against.
func spotSymbol(asset string) string {
	return strings.ToUpper(asset) + "USDT"
}

// isLiveRoutable reports whether a venue-A market id is a real (non-sandbox,
// non-test) instrument eligible for live order routing.
func isLiveRoutable(venueAMarketID string) bool {
	lower := strings.ToLower(venueAMarketID)
	return !strings.Contains(lower, "sandbox") && !strings.Contains(lower, "test")
}

// sourceAgreement scores how tightly venue B/C probabilities agree, used as
// the fair-value ensemble's confidence input.
func sourceAgreement(cm cycleMarket) float64 {
	if !cm.hasC {
		return 0.5
	}
	return 0.8
}

// liquidityScore scores venue-A book depth for the fair-value confidence input.
func liquidityScore(state trading.MarketState) float64 {
	if state.AskDepth+state.BidDepth <= 0 {
		return 0
	}
	if state.AskDepth+state.BidDepth > 1000 {
		return 1
	}
	return (state.AskDepth + state.BidDepth) / 1000
}

// expiryHealth discounts confidence as a crypto market nears expiry.
func expiryHealth(ttl time.Duration) float64 {
	if ttl <= 0 {
		return 0
	}
	if ttl > time.Hour {
		return 1
	}
	return float64(ttl) / float64(time.Hour)
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
