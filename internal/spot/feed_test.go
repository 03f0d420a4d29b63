package spot

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"predxarb/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFeedPollOnceStoresPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"symbol":"BTCUSDT","price":"67890.12"}]`))
	}))
	defer srv.Close()

	cfg := config.SpotConfig{BaseURL: srv.URL, Symbols: []string{"BTCUSDT"}, StalenessWindow: time.Minute}
	f := New(cfg, discardLogger())

	f.pollOnce(context.Background())

	got, ok := f.Price("BTCUSDT")
	if !ok {
		t.Fatal("expected price to be present after poll")
	}
	if got.StringFixed(2) != "67890.12" {
		t.Errorf("price = %s, want 67890.12", got)
	}
}

func TestFeedPriceIsStaleOutsideWindow(t *testing.T) {
	cfg := config.SpotConfig{Symbols: []string{"BTCUSDT"}, StalenessWindow: time.Millisecond}
	f := New(cfg, discardLogger())

	f.mu.Lock()
	f.prices["BTCUSDT"] = price{fetchedAt: time.Now().Add(-time.Hour)}
	f.mu.Unlock()

	if _, ok := f.Price("BTCUSDT"); ok {
		t.Error("expected stale price to be rejected")
	}
}

func TestFeedPriceMissingSymbol(t *testing.T) {
	f := New(config.SpotConfig{Symbols: []string{"BTCUSDT"}}, discardLogger())
	if _, ok := f.Price("ETHUSDT"); ok {
		t.Error("expected missing symbol to report absent")
	}
}
