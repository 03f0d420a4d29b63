// predxbot is a cross-venue prediction-market arbitrage bot.
//
// Architecture:
//
//	main.go                 — entry point: loads config, wires venues, starts the scheduler
//	internal/venue          — REST/WS clients for the writable execution venue and two
//	                          read-only reference venues
//	internal/match          — discovers and maintains the cross-venue matched-market set
//	internal/spot           — crypto spot price feed backing the fair-value engine
//	internal/refprice       — consensus reference price across reference venues
//	internal/fairvalue      — Black-Scholes binary pricer + ensemble combiner
//	internal/signal         — six-component composite signal detector and merge
//	internal/trading        — pre-trade guards, Kelly sizing, exits, adaptive learning
//	internal/store          — embedded sqlite persistence for positions, trades, and params
//	internal/scheduler      — orchestrates every subsystem's cooperative loop
//	internal/operator       — operator HTTP control surface (health, stop, close, rematch)
//
// How it makes money:
//
//	The bot prices each matched market's fair value from a venue-weighted
//	consensus and, for crypto strike markets, a Black-Scholes binary model.
//	When a venue's quote diverges from fair value by more than its signal
//	threshold, the bot takes the mispriced side sized by a capped Kelly
//	fraction, then manages the position to a take-profit, stop-loss, or
//	time-decay exit.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"predxarb/internal/config"
	"predxarb/internal/operator"
	"predxarb/internal/scheduler"
	"predxarb/internal/venue"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("PREDX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	deps, err := buildVenueClients(*cfg, logger)
	if err != nil {
		logger.Error("failed to build venue clients", "error", err)
		os.Exit(1)
	}

	sched, err := scheduler.New(*cfg, deps, logger)
	if err != nil {
		logger.Error("failed to create scheduler", "error", err)
		os.Exit(1)
	}

	var opServer *operator.Server
	if cfg.Operator.Enabled {
		opServer = operator.NewServer(cfg.Operator, sched, logger)
		go func() {
			if err := opServer.Start(); err != nil {
				logger.Error("operator server failed", "error", err)
			}
		}()
		logger.Info("operator surface started", "url", fmt.Sprintf("http://localhost:%d", cfg.Operator.Port))
	}

	if err := sched.Start(); err != nil {
		logger.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}

	logger.Info("predxbot started",
		"mode", cfg.Mode,
		"kelly_fraction", cfg.Trading.KellyFraction,
		"max_concurrent_positions", cfg.Risk.MaxConcurrentPositions,
		"max_daily_loss", cfg.Risk.MaxDailyLoss,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	if opServer != nil {
		if err := opServer.Stop(); err != nil {
			logger.Error("failed to stop operator server", "error", err)
		}
	}

	sched.Stop()
}

// buildVenueClients constructs the writable execution venue and the two
// read-only reference venues from config, resolving each venue's auth
// scheme along the way.
func buildVenueClients(cfg config.Config, logger *slog.Logger) (scheduler.Deps, error) {
	authA, err := venue.NewVenueAAuth(cfg.VenueA)
	if err != nil {
		return scheduler.Deps{}, fmt.Errorf("venue a auth: %w", err)
	}
	venueA := venue.NewAClient(cfg.VenueA, authA, logger)

	venueB := venue.NewBClient(cfg.VenueB, logger)

	authC, err := venue.NewVenueCAuth(cfg.VenueC)
	if err != nil {
		return scheduler.Deps{}, fmt.Errorf("venue c auth: %w", err)
	}
	venueC := venue.NewCClient(cfg.VenueC, authC, logger)

	return scheduler.Deps{
		VenueA: venueA,
		VenueB: venueB,
		VenueC: venueC,
	}, nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
