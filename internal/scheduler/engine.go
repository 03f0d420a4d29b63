// Package scheduler is the central orchestrator of the arbitrage bot.
//
// It wires together every subsystem:
//
//  1. Matcher discovers and maintains the cross-venue matched-market set.
//  2. A fast loop (~2s) refreshes quotes for every matched market, scores
//     them through the signal detector and fair-value engine, merges the
//     result into the actionable set, and drives the trading engine's
//     Tick (entries) and Monitor (exits).
//  3. The spot feed and risk manager each run their own cooperative loop.
//  4. A learning loop periodically re-tunes the trading engine's adaptive
//     parameters from recent trade outcomes.
//  5. An hourly reconciliation pass reloads open positions from the store
//     and, on the first pass after the UTC date changes, resets the risk
//     manager's daily loss counter. Markets no longer seen by the matcher
//     are dropped as each matcher result arrives, not by this pass.
//
// Lifecycle: New() -> Start() -> [runs until Stop()].
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"predxarb/internal/config"
	"predxarb/internal/fairvalue"
	"predxarb/internal/match"
	"predxarb/internal/refprice"
	"predxarb/internal/signal"
	"predxarb/internal/spot"
	"predxarb/internal/store"
	"predxarb/internal/trading"
	"predxarb/internal/venue"
	"predxarb/pkg/types"

	"github.com/go-resty/resty/v2"
)

const (
	defaultFastInterval       = 2 * time.Second
	defaultReconcileInterval  = time.Hour
	priceHistoryWindow        = 20
	shutdownOrderDrainTimeout = 10 * time.Second
)

// marketState is everything the scheduler tracks per matched market between
// ticks: the matched-market record itself and a rolling reference-price
// history for the velocity signal component.
type marketState struct {
	matched      types.MatchedMarket
	priceHistory []signal.PricePoint
}

// Engine orchestrates discovery, scoring, and trading for the lifetime of
// the process.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	venueA *venue.AClient
	venueB venue.Client
	venueC venue.Client

	matcher    *match.Matcher
	quotes     *match.QuoteCache
	spotFeed   *spot.Feed
	refBuilder *refprice.Builder
	fvEngine   *fairvalue.Engine
	detector   *signal.Detector
	winRates   *signal.CategoryWinRates

	risk    *trading.RiskManager
	books   *trading.PositionBook
	trading *trading.Engine
	store   *store.Store

	marketsMu sync.RWMutex
	markets   map[string]*marketState

	pausedMu sync.RWMutex
	paused   bool

	webhookClient *resty.Client

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps bundles the already-constructed venue clients so New doesn't need to
// know how each is authenticated.
type Deps struct {
	VenueA *venue.AClient
	VenueB venue.Client
	VenueC venue.Client
}

// New wires every subsystem from config and the given venue clients.
func New(cfg config.Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	st, err := store.Open(cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	risk := trading.NewRiskManager(cfg.Risk, logger)
	books := trading.NewPositionBook()
	winRates := signal.NewCategoryWinRates()

	tradingEngine := trading.NewEngine(cfg.Trading, cfg.Risk, types.Mode(cfg.Mode), deps.VenueA, st, risk, books, winRates, logger)

	matcher := match.NewMatcher(deps.VenueA, deps.VenueB, deps.VenueC, cfg.Match, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:           cfg,
		logger:        logger.With("component", "scheduler"),
		venueA:        deps.VenueA,
		venueB:        deps.VenueB,
		venueC:        deps.VenueC,
		matcher:       matcher,
		quotes:        match.NewQuoteCache(),
		spotFeed:      spot.New(cfg.Spot, logger),
		refBuilder:    refprice.NewBuilder(cfg.RefPrice),
		fvEngine:      fairvalue.NewEngine(cfg.FairValue),
		detector:      signal.NewDetector(cfg.Signal, winRates),
		winRates:      winRates,
		risk:          risk,
		books:         books,
		trading:       tradingEngine,
		store:         st,
		markets:       make(map[string]*marketState),
		webhookClient: newWebhookClient(),
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

// Start loads persisted state and launches every cooperative loop as a
// tracked goroutine.
func (e *Engine) Start() error {
	open, err := e.store.OpenPositions(e.ctx)
	if err != nil {
		return err
	}
	e.books.Load(open)
	e.logger.Info("loaded open positions", "count", len(open))

	if err := e.store.InitWallet(e.ctx, e.cfg.Trading.InitialBalance); err != nil {
		return err
	}

	wallet, err := e.store.GetWallet(e.ctx)
	if err != nil {
		return err
	}
	if !wallet.Balance.IsZero() {
		e.risk.ObserveBalance(decimalToFloat(wallet.Balance))
	}

	e.spawn("matcher", func() { e.matcher.Run(e.ctx) })
	e.spawn("spot_feed", func() {
		if err := e.spotFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("spot feed stopped", "error", err)
		}
	})
	e.spawn("risk_manager", func() { e.risk.Run(e.ctx) })
	e.spawn("matched_market_intake", e.consumeMatcherResults)
	e.spawn("fast_loop", e.runFastLoop)
	e.spawn("learning_loop", func() { e.trading.RunLearningLoop(e.ctx) })
	e.spawn("kill_switch_listener", e.listenForKillSignals)
	e.spawn("reconciliation_loop", e.runReconciliationLoop)

	return nil
}

// spawn tracks a background loop under the shutdown WaitGroup.
func (e *Engine) spawn(name string, fn func()) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("loop panicked", "loop", name, "panic", r)
			}
		}()
		fn()
	}()
}

// Stop cancels every loop, persists the open positions, and waits
// for a graceful drain before closing the store.
func (e *Engine) Stop() {
	e.logger.Info("shutting down scheduler...")
	e.cancel()

	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownOrderDrainTimeout)
	defer drainCancel()
	for _, pos := range e.books.Open() {
		if err := e.store.UpdatePosition(drainCtx, pos); err != nil {
			e.logger.Error("failed to persist position on shutdown", "position", pos.ID, "error", err)
		}
	}

	e.wg.Wait()

	if err := e.store.Close(); err != nil {
		e.logger.Error("failed to close store", "error", err)
	}
	e.logger.Info("scheduler shutdown complete")
}

// consumeMatcherResults folds each matcher cycle's output into the
// scheduler's per-market state, persisting the matched-market record and
// dropping markets no longer seen.
func (e *Engine) consumeMatcherResults() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case result := <-e.matcher.Results():
			e.reconcileMatched(result)
		}
	}
}

func (e *Engine) reconcileMatched(result match.Result) {
	seen := make(map[string]struct{}, len(result.Markets))

	e.marketsMu.Lock()
	for _, m := range result.Markets {
		seen[m.ID] = struct{}{}
		state, ok := e.markets[m.ID]
		if !ok {
			state = &marketState{}
			e.markets[m.ID] = state
		}
		state.matched = m
	}
	for id := range e.markets {
		if _, ok := seen[id]; !ok {
			delete(e.markets, id)
		}
	}
	e.marketsMu.Unlock()

	for _, m := range result.Markets {
		if err := e.store.UpsertMatchedMarket(e.ctx, m); err != nil {
			e.logger.Error("failed to persist matched market", "matched_id", m.ID, "error", err)
		}
	}
}

// listenForKillSignals pauses new entries as soon as the risk manager trips,
// and records the trip to the audit log.
func (e *Engine) listenForKillSignals() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case kill := <-e.risk.KillCh():
			e.pausedMu.Lock()
			e.paused = true
			e.pausedMu.Unlock()
			e.logger.Warn("trading paused by kill switch", "reason", kill.Reason)
			if err := e.store.AppendAudit(e.ctx, "kill_switch", kill.Reason); err != nil {
				e.logger.Error("failed to audit kill switch trip", "error", err)
			}
			e.notifyWebhook("kill_switch", kill.Reason)
		}
	}
}

func (e *Engine) isPaused() bool {
	e.pausedMu.RLock()
	defer e.pausedMu.RUnlock()
	return e.paused
}

// runFastLoop is the bot's primary cadence: refresh quotes for every matched
// market, score and merge signals, then drive entries and exits.
func (e *Engine) runFastLoop() {
	ticker := time.NewTicker(defaultFastInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.runCycle()
		}
	}
}

// runReconciliationLoop periodically reloads open positions from the store
// so an externally-modified record (operator close, manual DB edit) is
// reflected in the in-memory book.
func (e *Engine) runReconciliationLoop() {
	interval := defaultReconcileInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	day := time.Now().UTC().Truncate(24 * time.Hour)

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			open, err := e.store.OpenPositions(e.ctx)
			if err != nil {
				e.logger.Error("reconciliation: failed to reload open positions", "error", err)
				continue
			}
			e.books.Load(open)
			if today := time.Now().UTC().Truncate(24 * time.Hour); today.After(day) {
				e.risk.ResetDaily()
				day = today
			}
			e.logger.Info("reconciliation pass complete", "open_positions", len(open))
		}
	}
}

