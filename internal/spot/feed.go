// Package spot polls live crypto spot prices used by the fair-value engine's
// Black-Scholes pricer. Prices are cached in memory and exposed with a
// staleness cutoff so a dead upstream degrades visibly instead of silently
// freezing stale marks.
package spot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/shopspring/decimal"

	"predxarb/internal/config"
)

// Feed polls binance spot ticker prices for the configured symbols on a
// fixed interval and caches the latest print per symbol.
type Feed struct {
	client *binance.Client
	cfg    config.SpotConfig
	logger *slog.Logger

	mu     sync.RWMutex
	prices map[string]price
}

type price struct {
	value     decimal.Decimal
	fetchedAt time.Time
}

// New builds a spot feed. Requests go through a retrying HTTP client (per
// hashicorp/go-retryablehttp) so transient 5xx/network blips don't starve
// the fair-value engine of a spot print for an entire poll cycle.
func New(cfg config.SpotConfig, logger *slog.Logger) *Feed {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = 3
	retryClient.Logger = nil

	client := binance.NewClient("", "")
	if cfg.BaseURL != "" {
		client.BaseURL = cfg.BaseURL
	}
	client.HTTPClient = retryClient.StandardClient()

	return &Feed{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "spot_feed"),
		prices: make(map[string]price),
	}
}

// Run polls every cfg.PollInterval until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	interval := f.cfg.PollInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	f.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

func (f *Feed) pollOnce(ctx context.Context) {
	for _, symbol := range f.cfg.Symbols {
		reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		prices, err := f.client.NewListPricesService().Symbol(symbol).Do(reqCtx)
		cancel()
		if err != nil {
			f.logger.Warn("spot price fetch failed", "symbol", symbol, "error", err)
			continue
		}
		if len(prices) == 0 {
			continue
		}
		val, err := decimal.NewFromString(prices[0].Price)
		if err != nil {
			f.logger.Warn("unparseable spot price", "symbol", symbol, "raw", prices[0].Price, "error", err)
			continue
		}

		f.mu.Lock()
		f.prices[symbol] = price{value: val, fetchedAt: time.Now()}
		f.mu.Unlock()
	}
}

// Price returns the last observed spot price for symbol, and false if it is
// missing or older than the configured staleness window.
func (f *Feed) Price(symbol string) (decimal.Decimal, bool) {
	f.mu.RLock()
	p, ok := f.prices[symbol]
	f.mu.RUnlock()
	if !ok {
		return decimal.Zero, false
	}

	window := f.cfg.StalenessWindow
	if window <= 0 {
		window = 60 * time.Second
	}
	if time.Since(p.fetchedAt) > window {
		return decimal.Zero, false
	}
	return p.value, true
}
