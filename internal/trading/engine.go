package trading

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

const (
	directionSanityHighMultiple = 1.20
	directionSanityLowMultiple  = 0.80
	noLeverageFloor             = 0.05
	maxLiveOrderAttemptsPerTick = 3
	spreadEdgeBuffer            = 0.01
	takeProfitFloor             = 0.015
	liquidityCapFraction        = 0.10
	minOrderNotional            = 1.0
	liveMarketSpreadCeiling     = 0.15
)

// MarketState is everything the guards and sizer need about a matched
// market's current venue-A book, separate from the transient Signal.
type MarketState struct {
	MatchedID        string
	Category         types.Category
	VenueAMarketID   string
	MidA             float64
	SpreadA          float64
	BestAsk          float64
	BestBid          float64
	AskDepth         float64
	BidDepth         float64
	TwoSidedBook     bool
	IsLiveRoutable   bool // venue-A market id carries a real (non-sandbox/test) prefix
	SpotPrice        float64
	Strike           float64
	IsCrypto         bool
	TimeToExpiry     time.Duration
	StopLossWidthRef float64 // configured stop-loss width, cents
}

// MarketStateLookup resolves a matched market id to its current state.
type MarketStateLookup func(matchedID string) (MarketState, bool)

// Store is the persistence surface the engine needs.
type Store interface {
	InsertPosition(ctx context.Context, p types.Position) (int64, error)
	UpdatePosition(ctx context.Context, p types.Position) error
	ClosePosition(ctx context.Context, p types.Position, trade types.ClosedTrade) error
	OpenPositions(ctx context.Context) ([]types.Position, error)
	RecentClosedTrades(ctx context.Context, n int) ([]types.ClosedTrade, error)
	GetWallet(ctx context.Context) (types.Wallet, error)
	SaveWallet(ctx context.Context, w types.Wallet) error
	AppendAudit(ctx context.Context, kind string, payload string) error
}

// VenueAOrders is the subset of the venue A writable client the engine drives orders through.
type VenueAOrders interface {
	PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderReport, error)
	CancelOrder(ctx context.Context, orderID string) error
	AvailableBalance(ctx context.Context) (types.Balance, error)
}

// Engine is the trading engine: guards, sizing, entries, exits, and the
// adaptive learning loop, all gated on mode (paper vs live).
type Engine struct {
	cfg    config.TradingConfig
	riskCfg config.RiskConfig
	mode   types.Mode

	venueA VenueAOrders
	store  Store
	risk   *RiskManager
	books  *PositionBook

	winRates categoryWinRateRecorder

	logger *slog.Logger

	paramsMu         sync.Mutex
	scoreThreshold   float64
	kellyFraction    float64
	tighteningStreak int

	liveOrderAttemptsThisTick int
}

// categoryWinRateRecorder decouples the engine from the signal package's
// concrete type while still letting adaptive learning feed win-rate history.
type categoryWinRateRecorder interface {
	Record(category types.Category, won bool)
}

// NewEngine builds a trading engine.
func NewEngine(cfg config.TradingConfig, riskCfg config.RiskConfig, mode types.Mode, venueA VenueAOrders, store Store, risk *RiskManager, books *PositionBook, winRates categoryWinRateRecorder, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:            cfg,
		riskCfg:        riskCfg,
		mode:           mode,
		venueA:         venueA,
		store:          store,
		risk:           risk,
		books:          books,
		winRates:       winRates,
		logger:         logger.With("component", "trading_engine"),
		scoreThreshold: 60,
		kellyFraction:  cfg.KellyFraction,
	}
}

// Tick runs one trading cycle: evaluates every actionable signal against the
// ordered pre-trade guards, sizes and places entries for the survivors.
func (e *Engine) Tick(ctx context.Context, actionables []types.Signal, lookup MarketStateLookup, running bool) {
	e.liveOrderAttemptsThisTick = 0

	if !e.guardGlobal(ctx, running) {
		return
	}

	for _, sig := range actionables {
		state, ok := lookup(sig.MatchedID)
		if !ok {
			continue
		}
		if err := e.evaluateAndEnter(ctx, sig, state); err != nil {
			e.logger.Warn("entry skipped", "market", sig.MatchedID, "error", err)
		}
	}
}

// guardGlobal is pre-trade guard (1): running, circuit-breaker-closed,
// kill-switch-untripped, daily-loss-ok.
func (e *Engine) guardGlobal(ctx context.Context, running bool) bool {
	if !running {
		return false
	}
	if !e.risk.CircuitClosed() {
		e.logger.Debug("guard: circuit breaker open")
		return false
	}
	if e.risk.KillSwitchTripped() {
		e.logger.Debug("guard: kill switch tripped")
		return false
	}
	if !e.risk.DailyLossOK() {
		e.logger.Debug("guard: daily loss limit reached")
		return false
	}
	return true
}

func (e *Engine) evaluateAndEnter(ctx context.Context, sig types.Signal, state MarketState) error {
	if !e.guardConcurrency(sig, state) {
		return fmt.Errorf("concurrency guard rejected")
	}
	if !e.guardLiquidity(state) {
		return fmt.Errorf("liquidity guard rejected")
	}
	if !e.guardEdge(sig, state) {
		return fmt.Errorf("edge guard rejected")
	}
	if !e.guardDirectionSanity(sig, state) {
		return fmt.Errorf("direction sanity guard rejected")
	}
	if !e.guardNoLeverage(sig, state) {
		return fmt.Errorf("NO-leverage guard rejected")
	}
	routeLive := e.mode == types.ModeLive && e.guardModeGate(state)
	if e.mode == types.ModeLive && !routeLive {
		return fmt.Errorf("mode gate rejected live routing")
	}

	balance := 0.0
	if routeLive {
		bal, ok, err := e.guardBalance(ctx)
		if err != nil {
			return fmt.Errorf("balance guard: %w", err)
		}
		if !ok {
			return fmt.Errorf("balance guard rejected")
		}
		balance = bal
	} else {
		wallet, err := e.store.GetWallet(ctx)
		if err != nil {
			return fmt.Errorf("load wallet: %w", err)
		}
		balance = decimalToFloat(wallet.Balance)
	}

	size := e.sizePosition(sig, state, balance)
	if size*state.MidA < minOrderNotional && size*(1-state.MidA) < minOrderNotional {
		return fmt.Errorf("sized position below minimum notional")
	}

	return e.enter(ctx, sig, state, size, routeLive)
}

// guardConcurrency is pre-trade guard (2): global cap, per-category cap, no
// duplicate position in the same market, and a per-tick live-attempt cap.
func (e *Engine) guardConcurrency(sig types.Signal, state MarketState) bool {
	if e.books.HasMarket(sig.MatchedID) {
		return false
	}
	if e.books.Count() >= e.riskCfg.MaxConcurrentPositions {
		return false
	}
	if e.books.CountCategory(state.Category) >= e.riskCfg.MaxPositionsPerCategory {
		return false
	}
	if e.mode == types.ModeLive && e.liveOrderAttemptsThisTick >= maxLiveOrderAttemptsPerTick {
		return false
	}
	return true
}

// guardLiquidity is pre-trade guard (3): live mode requires a two-sided book
// with spread <= 15c and non-zero depth on at least one side. Depth is not
// compared with the order size here.
func (e *Engine) guardLiquidity(state MarketState) bool {
	if e.mode != types.ModeLive {
		return true
	}
	if !state.TwoSidedBook {
		return false
	}
	if state.SpreadA > liveMarketSpreadCeiling {
		return false
	}
	if state.AskDepth <= 0 && state.BidDepth <= 0 {
		return false
	}
	return true
}

// guardEdge is pre-trade guard (4): spread-aware edge floor.
// edge > max(stopLossWidth, spreadA*2 + 0.01)
func (e *Engine) guardEdge(sig types.Signal, state MarketState) bool {
	floor := math.Max(state.StopLossWidthRef, state.SpreadA*2+spreadEdgeBuffer)
	return sig.NetEdge > floor
}

// guardDirectionSanity is pre-trade guard (5), crypto only: reject NO when
// spot > strike*1.20, reject YES when spot < strike*0.80.
func (e *Engine) guardDirectionSanity(sig types.Signal, state MarketState) bool {
	if !state.IsCrypto || state.Strike <= 0 {
		return true
	}
	if sig.Direction == types.DirNO && state.SpotPrice > state.Strike*directionSanityHighMultiple {
		return false
	}
	if sig.Direction == types.DirYES && state.SpotPrice < state.Strike*directionSanityLowMultiple {
		return false
	}
	return true
}

// guardNoLeverage is pre-trade guard (6): reject NO entries priced below 5 cents.
func (e *Engine) guardNoLeverage(sig types.Signal, state MarketState) bool {
	if sig.Direction != types.DirNO {
		return true
	}
	noPrice := 1 - state.MidA
	return noPrice >= noLeverageFloor
}

// guardModeGate is pre-trade guard (7): only real-instrument-prefix ids route to live.
func (e *Engine) guardModeGate(state MarketState) bool {
	return state.IsLiveRoutable
}

// guardBalance is pre-trade guard (8): live entries require a fresh balance
// check against the configured minimum.
func (e *Engine) guardBalance(ctx context.Context) (float64, bool, error) {
	bal, err := e.venueA.AvailableBalance(ctx)
	if err != nil {
		return 0, false, err
	}
	avail := decimalToFloat(bal.Available)
	return avail, avail >= e.riskCfg.MinBalanceForLiveEntry, nil
}

// sizePosition computes f = kellyFraction * edge / (1 - midA), then
// size = min(maxPositionSize, wallet*maxPositionPct, liquidityCap, f*wallet).
func (e *Engine) sizePosition(sig types.Signal, state MarketState, balance float64) float64 {
	e.paramsMu.Lock()
	kelly := e.kellyFraction
	e.paramsMu.Unlock()

	denom := 1 - state.MidA
	if sig.Direction == types.DirNO {
		denom = state.MidA
	}
	if denom <= 0 {
		denom = 0.01
	}
	f := kelly * sig.NetEdge / denom

	liquidityCap := liquidityCapFraction * state.AskDepth
	if sig.Direction == types.DirNO {
		liquidityCap = liquidityCapFraction * state.BidDepth
	}

	candidates := []float64{
		e.cfg.MaxPositionSize,
		balance * e.cfg.MaxPositionPct,
		liquidityCap,
		f * balance,
	}
	size := candidates[0]
	for _, c := range candidates[1:] {
		if c < size {
			size = c
		}
	}
	if size < 0 {
		size = 0
	}
	return size
}

// enter places the live limit order or synthetic paper fill and persists the
// resulting open position.
func (e *Engine) enter(ctx context.Context, sig types.Signal, state MarketState, sizeNotional float64, live bool) error {
	price := state.MidA
	side := types.BUY
	outcome := types.YES
	if sig.Direction == types.DirNO {
		outcome = types.NO
	}

	entryPrice := price
	if live {
		if outcome == types.YES {
			entryPrice = state.BestAsk
		} else {
			entryPrice = 1 - state.BestBid
		}
	} else {
		entryPrice = state.MidA + 0.001 // synthetic paper fill: mid + maker fee proxy
	}

	if entryPrice <= 0 {
		return fmt.Errorf("non-positive entry price")
	}
	quantity := sizeNotional / entryPrice

	idempotencyKey := uuid.NewString()

	if live {
		e.liveOrderAttemptsThisTick++
		req := types.OrderRequest{
			MarketID:       state.VenueAMarketID,
			Side:           side,
			Outcome:        outcome,
			Type:           types.OrderTypeLimit,
			Quantity:       decimal.NewFromFloat(quantity),
			Price:          decimal.NewFromFloat(entryPrice),
			TimeInForce:    types.TIFGoodTilCancel,
			IdempotencyKey: idempotencyKey,
		}
		report, err := e.venueA.PlaceOrder(ctx, req)
		if err != nil {
			e.risk.RecordVenueFailure()
			return fmt.Errorf("place order: %w", err)
		}
		e.risk.RecordVenueSuccess()
		if fq := decimalToFloat(report.FilledQuantity); fq > 0 {
			quantity = fq
		}
		if ap := decimalToFloat(report.AvgExecutionPrice); ap > 0 {
			entryPrice = ap
		}
	}

	now := time.Now()
	tp, sl := e.initialTargets(sig, entryPrice)
	maxHold := e.cfg.MaxHoldDuration
	if refMax := time.Duration(float64(state.TimeToExpiry) * 0.80); refMax > maxHold {
		maxHold = refMax
	}

	pos := types.Position{
		MatchedID:      sig.MatchedID,
		VenueAMarket:   state.VenueAMarketID,
		Direction:      sig.Direction,
		EntryPrice:     decimal.NewFromFloat(entryPrice),
		Quantity:       decimal.NewFromFloat(quantity),
		Notional:       decimal.NewFromFloat(quantity * entryPrice),
		EntryTimestamp: now,
		Mode:           e.mode,
		Category:       state.Category,
		TakeProfit:     decimal.NewFromFloat(tp),
		StopLoss:       decimal.NewFromFloat(sl),
		MaxHoldUntil:   now.Add(maxHold),
		HighWater:      decimal.NewFromFloat(entryPrice),
		LowWater:       decimal.NewFromFloat(entryPrice),
		State:          types.StateOpen,
		IdempotencyKey: idempotencyKey,
	}

	id, err := e.store.InsertPosition(ctx, pos)
	if err != nil {
		return fmt.Errorf("persist position: %w", err)
	}
	pos.ID = id
	e.books.Put(pos)

	e.logger.Info("position opened",
		"market", sig.MatchedID, "direction", sig.Direction, "entry", entryPrice,
		"quantity", quantity, "mode", e.mode, "live", live,
	)
	return nil
}

// initialTargets computes TP = max(targetFromSignal, entry+0.015), symmetric for NO.
func (e *Engine) initialTargets(sig types.Signal, entryPrice float64) (tp, sl float64) {
	targetFromSignal := entryPrice + e.cfg.TakeProfitPct
	floorTarget := entryPrice + takeProfitFloor
	tp = math.Max(targetFromSignal, floorTarget)
	sl = entryPrice - e.cfg.StopLossPct
	if sig.Direction == types.DirNO {
		targetFromSignal = entryPrice - e.cfg.TakeProfitPct
		floorTarget = entryPrice - takeProfitFloor
		tp = math.Min(targetFromSignal, floorTarget)
		sl = entryPrice + e.cfg.StopLossPct
	}
	return tp, sl
}

func decimalToFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
