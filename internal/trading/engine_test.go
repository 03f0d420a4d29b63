package trading

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

type fakeStore struct {
	positions    map[int64]types.Position
	nextID       int64
	wallet       types.Wallet
	closedTrades []types.ClosedTrade
	auditEntries []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		positions: make(map[int64]types.Position),
		wallet:    types.Wallet{Balance: decimal.NewFromFloat(1000)},
	}
}

func (f *fakeStore) InsertPosition(ctx context.Context, p types.Position) (int64, error) {
	f.nextID++
	p.ID = f.nextID
	f.positions[p.ID] = p
	return p.ID, nil
}
func (f *fakeStore) UpdatePosition(ctx context.Context, p types.Position) error {
	f.positions[p.ID] = p
	return nil
}
func (f *fakeStore) ClosePosition(ctx context.Context, p types.Position, trade types.ClosedTrade) error {
	delete(f.positions, p.ID)
	f.closedTrades = append(f.closedTrades, trade)
	return nil
}
func (f *fakeStore) OpenPositions(ctx context.Context) ([]types.Position, error) {
	out := make([]types.Position, 0, len(f.positions))
	for _, p := range f.positions {
		out = append(out, p)
	}
	return out, nil
}
func (f *fakeStore) RecentClosedTrades(ctx context.Context, n int) ([]types.ClosedTrade, error) {
	return f.closedTrades, nil
}
func (f *fakeStore) GetWallet(ctx context.Context) (types.Wallet, error) { return f.wallet, nil }
func (f *fakeStore) SaveWallet(ctx context.Context, w types.Wallet) error {
	f.wallet = w
	return nil
}
func (f *fakeStore) AppendAudit(ctx context.Context, kind, payload string) error {
	f.auditEntries = append(f.auditEntries, kind+":"+payload)
	return nil
}

type fakeVenueA struct {
	balance     float64
	placeErr    error
	placedOrders []types.OrderRequest
}

func (f *fakeVenueA) PlaceOrder(ctx context.Context, req types.OrderRequest) (types.OrderReport, error) {
	if f.placeErr != nil {
		return types.OrderReport{}, f.placeErr
	}
	f.placedOrders = append(f.placedOrders, req)
	return types.OrderReport{OrderID: "o1", Status: "filled", AvgExecutionPrice: req.Price, FilledQuantity: req.Quantity}, nil
}
func (f *fakeVenueA) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeVenueA) AvailableBalance(ctx context.Context) (types.Balance, error) {
	return types.Balance{Available: decimal.NewFromFloat(f.balance)}, nil
}

type fakeWinRates struct{ calls int }

func (f *fakeWinRates) Record(category types.Category, won bool) { f.calls++ }

func newTestEngine(mode types.Mode) (*Engine, *fakeStore, *fakeVenueA) {
	store := newFakeStore()
	venueA := &fakeVenueA{balance: 1000}
	risk := NewRiskManager(config.RiskConfig{MaxConcurrentPositions: 5, MaxPositionsPerCategory: 5, MinBalanceForLiveEntry: 10, MaxDailyLoss: 1000}, discardLogger())
	books := NewPositionBook()
	cfg := config.TradingConfig{
		KellyFraction:   0.1,
		MaxPositionSize: 100,
		MaxPositionPct:  0.5,
		TakeProfitPct:   0.05,
		StopLossPct:     0.05,
		MaxHoldDuration: time.Hour,
	}
	e := NewEngine(cfg, config.RiskConfig{MaxConcurrentPositions: 5, MaxPositionsPerCategory: 5, MinBalanceForLiveEntry: 10, MaxDailyLoss: 1000}, mode, venueA, store, risk, books, &fakeWinRates{}, discardLogger())
	return e, store, venueA
}

func baseState() MarketState {
	return MarketState{
		MatchedID:      "m1",
		Category:       types.CategoryCrypto,
		VenueAMarketID: "GEMI-BTC2512311200-HI67D5",
		MidA:           0.50,
		SpreadA:        0.02,
		BestAsk:        0.51,
		BestBid:        0.49,
		AskDepth:       500,
		BidDepth:       500,
		TwoSidedBook:   true,
		IsLiveRoutable: true,
		IsCrypto:       true,
		SpotPrice:      67000,
		Strike:         67000,
		TimeToExpiry:   time.Hour,
	}
}

func TestGuardEdgeRejectsBelowFloor(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	sig := types.Signal{Direction: types.DirYES, NetEdge: 0.01}
	state := baseState()
	state.StopLossWidthRef = 0.05
	if e.guardEdge(sig, state) {
		t.Error("expected edge guard to reject small edge")
	}
}

func TestGuardNoLeverageRejectsCheapNO(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	sig := types.Signal{Direction: types.DirNO}
	state := baseState()
	state.MidA = 0.97 // NO price = 0.03, below 0.05 floor
	if e.guardNoLeverage(sig, state) {
		t.Error("expected NO-leverage guard to reject cheap NO")
	}
}

func TestGuardDirectionSanityRejectsDeepOTMDirection(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	state := baseState()
	state.SpotPrice = 90000 // spot/strike = 1.34 > 1.20
	sig := types.Signal{Direction: types.DirNO}
	if e.guardDirectionSanity(sig, state) {
		t.Error("expected direction sanity guard to reject NO when spot deep above strike")
	}
}

func TestSizePositionRespectsLiquidityCap(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	state := baseState()
	state.AskDepth = 10 // liquidityCap = 1.0
	sig := types.Signal{Direction: types.DirYES, NetEdge: 0.5}
	size := e.sizePosition(sig, state, 1000)
	if size > 1.0+1e-9 {
		t.Errorf("size = %v, want capped near liquidity cap (1.0)", size)
	}
}

func TestEnterPaperModeCreatesSyntheticFill(t *testing.T) {
	e, store, venueA := newTestEngine(types.ModePaper)
	state := baseState()
	sig := types.Signal{MatchedID: "m1", Direction: types.DirYES, NetEdge: 0.5, Score: 90}

	if err := e.evaluateAndEnter(context.Background(), sig, state); err != nil {
		t.Fatalf("unexpected error entering paper position: %v", err)
	}
	if len(store.positions) != 1 {
		t.Fatalf("expected 1 position persisted, got %d", len(store.positions))
	}
	if len(venueA.placedOrders) != 0 {
		t.Error("expected no live orders placed in paper mode")
	}
}

func TestGuardConcurrencyRejectsDuplicateMarket(t *testing.T) {
	e, _, _ := newTestEngine(types.ModePaper)
	e.books.Put(types.Position{ID: 1, MatchedID: "m1"})
	sig := types.Signal{MatchedID: "m1"}
	state := baseState()
	if e.guardConcurrency(sig, state) {
		t.Error("expected concurrency guard to reject duplicate market")
	}
}
