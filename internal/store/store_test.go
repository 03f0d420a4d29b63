package store

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/internal/config"
	"predxarb/pkg/types"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(config.StoreConfig{Path: filepath.Join(dir, "predx.db")}, discardLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestInsertAndOpenPositions(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.UpsertMatchedMarket(ctx, types.MatchedMarket{ID: "m1", VenueAID: "a1", Category: types.CategoryCrypto, FirstSeen: time.Now(), LastSeenA: time.Now()}); err != nil {
		t.Fatalf("UpsertMatchedMarket: %v", err)
	}

	pos := types.Position{
		MatchedID:      "m1",
		VenueAMarket:   "GEMI-BTC2512311200-HI67D5",
		Direction:      types.DirYES,
		EntryPrice:     decimal.NewFromFloat(0.55),
		Quantity:       decimal.NewFromFloat(100),
		EntryTimestamp: time.Now(),
		Mode:           types.ModePaper,
		State:          types.StateOpen,
		MaxHoldUntil:   time.Now().Add(time.Hour),
	}

	id, err := s.InsertPosition(ctx, pos)
	if err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero position id")
	}

	open, err := s.OpenPositions(ctx)
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 1 {
		t.Fatalf("expected 1 open position, got %d", len(open))
	}
	if open[0].MatchedID != "m1" {
		t.Errorf("matched id = %v, want m1", open[0].MatchedID)
	}
}

func TestClosePositionRemovesFromOpenSet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InitWallet(ctx, 1000); err != nil {
		t.Fatalf("InitWallet: %v", err)
	}
	if err := s.UpsertMatchedMarket(ctx, types.MatchedMarket{ID: "m1", VenueAID: "a1", Category: types.CategoryCrypto, FirstSeen: time.Now(), LastSeenA: time.Now()}); err != nil {
		t.Fatalf("UpsertMatchedMarket: %v", err)
	}

	pos := types.Position{MatchedID: "m1", State: types.StateOpen, EntryTimestamp: time.Now(), MaxHoldUntil: time.Now().Add(time.Hour)}
	id, err := s.InsertPosition(ctx, pos)
	if err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	pos.ID = id

	trade := types.ClosedTrade{
		PositionID: id,
		NetPnL:     decimal.NewFromFloat(5),
		ClosedAt:   time.Now(),
	}
	if err := s.ClosePosition(ctx, pos, trade); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	open, err := s.OpenPositions(ctx)
	if err != nil {
		t.Fatalf("OpenPositions: %v", err)
	}
	if len(open) != 0 {
		t.Errorf("expected 0 open positions after close, got %d", len(open))
	}

	trades, err := s.RecentClosedTrades(ctx, 10)
	if err != nil {
		t.Fatalf("RecentClosedTrades: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("expected 1 closed trade, got %d", len(trades))
	}
	if !trades[0].NetPnL.Equal(decimal.NewFromFloat(5)) {
		t.Errorf("net pnl = %v, want 5", trades[0].NetPnL)
	}
}

func TestClosePositionUpdatesWalletAtomically(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InitWallet(ctx, 1000); err != nil {
		t.Fatalf("InitWallet: %v", err)
	}
	for _, id := range []string{"m1", "m2"} {
		if err := s.UpsertMatchedMarket(ctx, types.MatchedMarket{ID: id, VenueAID: "a-" + id, Category: types.CategoryCrypto, FirstSeen: time.Now(), LastSeenA: time.Now()}); err != nil {
			t.Fatalf("UpsertMatchedMarket: %v", err)
		}
	}

	pos := types.Position{MatchedID: "m1", State: types.StateOpen, EntryTimestamp: time.Now(), MaxHoldUntil: time.Now().Add(time.Hour)}
	id, err := s.InsertPosition(ctx, pos)
	if err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	pos.ID = id

	trade := types.ClosedTrade{PositionID: id, NetPnL: decimal.NewFromFloat(50), ClosedAt: time.Now()}
	if err := s.ClosePosition(ctx, pos, trade); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	w, err := s.GetWallet(ctx)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromFloat(1050)) {
		t.Errorf("balance = %v, want 1050", w.Balance)
	}
	if !w.Peak.Equal(decimal.NewFromFloat(1050)) {
		t.Errorf("peak = %v, want 1050", w.Peak)
	}
	if !w.DailyPnL.Equal(decimal.NewFromFloat(50)) {
		t.Errorf("daily pnl = %v, want 50", w.DailyPnL)
	}

	pos2 := types.Position{MatchedID: "m2", State: types.StateOpen, EntryTimestamp: time.Now(), MaxHoldUntil: time.Now().Add(time.Hour)}
	id2, err := s.InsertPosition(ctx, pos2)
	if err != nil {
		t.Fatalf("InsertPosition: %v", err)
	}
	pos2.ID = id2
	loss := types.ClosedTrade{PositionID: id2, NetPnL: decimal.NewFromFloat(-200), ClosedAt: time.Now()}
	if err := s.ClosePosition(ctx, pos2, loss); err != nil {
		t.Fatalf("ClosePosition: %v", err)
	}

	w2, err := s.GetWallet(ctx)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !w2.Balance.Equal(decimal.NewFromFloat(850)) {
		t.Errorf("balance = %v, want 850", w2.Balance)
	}
	if !w2.Peak.Equal(decimal.NewFromFloat(1050)) {
		t.Errorf("peak should stay at high-water mark, got %v", w2.Peak)
	}
	if w2.DailyLossCount != 1 {
		t.Errorf("daily loss count = %d, want 1", w2.DailyLossCount)
	}
}

func TestInitWalletIsIdempotent(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.InitWallet(ctx, 1000); err != nil {
		t.Fatalf("InitWallet: %v", err)
	}
	if err := s.InitWallet(ctx, 9999); err != nil {
		t.Fatalf("InitWallet (second call): %v", err)
	}

	w, err := s.GetWallet(ctx)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromFloat(1000)) {
		t.Errorf("balance = %v, want 1000 (seed should not be overwritten)", w.Balance)
	}
}

func TestWalletSaveAndGetRoundTrips(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	w := types.Wallet{
		Balance:      decimal.NewFromFloat(950),
		Initial:      decimal.NewFromFloat(1000),
		Peak:         decimal.NewFromFloat(1000),
		DailyPnL:     decimal.NewFromFloat(-50),
		DailyStartTS: time.Now(),
	}
	if err := s.SaveWallet(ctx, w); err != nil {
		t.Fatalf("SaveWallet: %v", err)
	}

	loaded, err := s.GetWallet(ctx)
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !loaded.Balance.Equal(w.Balance) {
		t.Errorf("balance = %v, want %v", loaded.Balance, w.Balance)
	}
	if !loaded.Peak.Equal(w.Peak) {
		t.Errorf("peak = %v, want %v", loaded.Peak, w.Peak)
	}
}

func TestGetWalletMissingReturnsZeroValue(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	w, err := s.GetWallet(context.Background())
	if err != nil {
		t.Fatalf("GetWallet: %v", err)
	}
	if !w.Balance.IsZero() {
		t.Errorf("expected zero-value wallet, got balance %v", w.Balance)
	}
}

func TestSetParameterClampsToRange(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	p := types.Parameter{Key: "kelly_fraction", Value: 5.0, Min: 0, Max: 0.25, UpdatedAt: time.Now()}
	if err := s.SetParameter(ctx, p); err != nil {
		t.Fatalf("SetParameter: %v", err)
	}

	loaded, ok, err := s.GetParameter(ctx, "kelly_fraction")
	if err != nil {
		t.Fatalf("GetParameter: %v", err)
	}
	if !ok {
		t.Fatal("expected parameter to exist")
	}
	if loaded.Value != 0.25 {
		t.Errorf("value = %v, want clamped to 0.25", loaded.Value)
	}
}

func TestAppendAuditAndRecentAudit(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.AppendAudit(ctx, "no_leverage", `{"position":"m1"}`); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	if err := s.AppendAudit(ctx, "deep_itm", `{"position":"m2"}`); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}

	entries, err := s.RecentAudit(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAudit: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 audit entries, got %d", len(entries))
	}
	if entries[0].Kind != "deep_itm" {
		t.Errorf("most recent entry kind = %v, want deep_itm", entries[0].Kind)
	}
}

func TestInsertQuotePurgesRingBuffer(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	m := types.MatchedMarket{ID: "m1", VenueAID: "a1", Category: types.CategoryCrypto, Title: "BTC 67.5k", FirstSeen: time.Now(), LastSeenA: time.Now()}
	if err := s.UpsertMatchedMarket(ctx, m); err != nil {
		t.Fatalf("UpsertMatchedMarket: %v", err)
	}

	for i := 0; i < quoteRingBufferSize+10; i++ {
		q := types.Quote{Venue: types.VenueA, Bid: decimal.NewFromFloat(0.5), Ask: decimal.NewFromFloat(0.51), Timestamp: time.Now()}
		if err := s.InsertQuote(ctx, "m1", q); err != nil {
			t.Fatalf("InsertQuote: %v", err)
		}
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM market_quotes WHERE matched_id = ?`, "m1").Scan(&count); err != nil {
		t.Fatalf("count quotes: %v", err)
	}
	if count != quoteRingBufferSize {
		t.Errorf("quote count = %d, want ring buffer capped at %d", count, quoteRingBufferSize)
	}
}
