// Package config defines all configuration for the arbitrage bot.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via PREDX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Mode selects how the trading engine executes signals.
type Mode string

const (
	ModePaper   Mode = "paper"
	ModeLive    Mode = "live"
	ModeSandbox Mode = "sandbox" // live credentials, venue A sandbox base URL
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode      Mode            `mapstructure:"mode"`
	VenueA    VenueAConfig    `mapstructure:"venue_a"`
	VenueB    VenueBConfig    `mapstructure:"venue_b"`
	VenueC    VenueCConfig    `mapstructure:"venue_c"`
	Spot      SpotConfig      `mapstructure:"spot"`
	Match     MatchConfig     `mapstructure:"match"`
	RefPrice  RefPriceConfig  `mapstructure:"ref_price"`
	FairValue FairValueConfig `mapstructure:"fair_value"`
	Signal    SignalConfig    `mapstructure:"signal"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Store     StoreConfig     `mapstructure:"store"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Operator  OperatorConfig  `mapstructure:"operator"`
}

// VenueAConfig is the writable execution venue. Auth is HMAC-SHA384 over a
// per-request nonce; NonceStatePath persists the last issued nonce across restarts.
type VenueAConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	APISecret      string `mapstructure:"api_secret"`
	NonceStatePath string `mapstructure:"nonce_state_path"`
}

// VenueBConfig is a read-only reference venue with no authentication.
type VenueBConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// VenueCConfig is a read-only reference venue. Auth is RSA-PSS-SHA256 over
// timestamp‖METHOD‖path, and it additionally pushes bracket-market ticks over WS.
type VenueCConfig struct {
	BaseURL           string `mapstructure:"base_url"`
	WSURL             string `mapstructure:"ws_url"`
	KeyID             string `mapstructure:"key_id"`
	RSAPrivateKeyPath string `mapstructure:"rsa_private_key_path"`
}

// SpotConfig controls the crypto spot price feed used by the fair-value engine.
type SpotConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Symbols         []string      `mapstructure:"symbols"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	StalenessWindow time.Duration `mapstructure:"staleness_window"`
}

// MatchConfig tunes the market matcher.
//
//   - PollInterval: how often to re-run listMarkets across venues and re-match.
//   - TitleSimilarityThreshold: minimum Jaccard+edit-distance blended score to
//     accept a non-crypto title match.
//   - SyntheticArbCategories: loaded from config but read by no component;
//     no synthetic-arb signals are generated, whatever its value.
type MatchConfig struct {
	PollInterval             time.Duration `mapstructure:"poll_interval"`
	TitleSimilarityThreshold float64       `mapstructure:"title_similarity_threshold"`
	SyntheticArbCategories   []string      `mapstructure:"synthetic_arb_categories"`
}

// RefPriceConfig is handed to the reference-price builder, which does not read
// these fields: it weights sources by its fixed per-category table and uses
// fixed disagreement (0.40) and outlier down-weight (10%) constants.
type RefPriceConfig struct {
	WeightVenueA     float64 `mapstructure:"weight_venue_a"`
	WeightVenueB     float64 `mapstructure:"weight_venue_b"`
	WeightVenueC     float64 `mapstructure:"weight_venue_c"`
	OutlierThreshold float64 `mapstructure:"outlier_threshold"` // abs probability delta from consensus
	OutlierDownWeight float64 `mapstructure:"outlier_down_weight"`
}

// FairValueConfig tunes the Black-Scholes binary-option pricer and ensemble combiner.
//
//   - ImpliedVolEnabled is loaded but not read: the Black-Scholes pricer
//     always uses DefaultVolatility, and no implied-vol path exists.
type FairValueConfig struct {
	RiskFreeRate      float64 `mapstructure:"risk_free_rate"`
	DefaultVolatility float64 `mapstructure:"default_volatility"`
	ImpliedVolEnabled bool    `mapstructure:"implied_vol_enabled"`
	EnsembleMinModels int     `mapstructure:"ensemble_min_models"`
}

// SignalConfig tunes the six-component composite signal detector.
//
//   - DirectionEdge (E) is the minimum reference-vs-mid gap required before a
//     direction is assigned at all; defaults to 0.015 (1.5 cents).
//   - MinEdgePaper / MinEdgeLive are the separate actionable-set net-edge
//     floors for paper and live mode (defaults 0.03 / 0.08).
type SignalConfig struct {
	MinCompositeScore    float64       `mapstructure:"min_composite_score"`
	VelocityWindow       time.Duration `mapstructure:"velocity_window"`
	VenueAStaleThreshold time.Duration `mapstructure:"venue_a_stale_threshold"`
	CategoryWinRateFloor float64       `mapstructure:"category_win_rate_floor"`
	DirectionEdge        float64       `mapstructure:"direction_edge"`
	MinEdgePaper         float64       `mapstructure:"min_edge_paper"`
	MinEdgeLive          float64       `mapstructure:"min_edge_live"`
}

// TradingConfig tunes sizing, exits, and the adaptive learning cycle.
type TradingConfig struct {
	KellyFraction       float64       `mapstructure:"kelly_fraction"`
	MaxPositionSize     float64       `mapstructure:"max_position_size"`
	MaxPositionPct      float64       `mapstructure:"max_position_pct"`
	LiquidityCapPct     float64       `mapstructure:"liquidity_cap_pct"`
	TakeProfitPct       float64       `mapstructure:"take_profit_pct"`
	StopLossPct         float64       `mapstructure:"stop_loss_pct"`
	TimeDecayWindow     time.Duration `mapstructure:"time_decay_window"`
	MaxHoldDuration     time.Duration `mapstructure:"max_hold_duration"`
	LearningInterval    time.Duration `mapstructure:"learning_interval"`
	LearningSampleSize  int           `mapstructure:"learning_sample_size"`
	MinTradesToAdapt    int           `mapstructure:"min_trades_to_adapt"`
	// InitialBalance seeds the wallet singleton's balance/initial/peak on the
	// very first start (paper mode's simulated bankroll).
	InitialBalance float64 `mapstructure:"initial_balance"`
}

// RiskConfig sets hard limits enforced by the pre-trade guards and the
// scheduler's drawdown kill-switch / circuit breaker.
type RiskConfig struct {
	MaxDailyLoss           float64       `mapstructure:"max_daily_loss"`
	DrawdownKillSwitchPct  float64       `mapstructure:"drawdown_kill_switch_pct"`
	MaxConcurrentPositions int           `mapstructure:"max_concurrent_positions"`
	CircuitBreakerFailures int           `mapstructure:"circuit_breaker_failures"`
	CircuitBreakerCooldown time.Duration `mapstructure:"circuit_breaker_cooldown"`
	// MaxPositionsPerCategory is guard (2)'s independent per-category concurrency
	// cap (spec Parameter Set), separate from MaxConcurrentPositions.
	MaxPositionsPerCategory int `mapstructure:"max_positions_per_category"`
	// MinBalanceForLiveEntry is guard (8)'s configured minimum available
	// balance required before a live entry is allowed to route.
	MinBalanceForLiveEntry float64 `mapstructure:"min_balance_for_live_entry"`
}

// StoreConfig points at the embedded sqlite database file.
type StoreConfig struct {
	Path           string `mapstructure:"path"`
	BusyTimeoutMS  int    `mapstructure:"busy_timeout_ms"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// OperatorConfig controls the operator HTTP surface (health, emergency-stop,
// close-position, rematch, parameter get/post). WebhookURL is optional and,
// when set, receives a POST on every emergency-stop and kill-switch trip.
type OperatorConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Port       int    `mapstructure:"port"`
	WebhookURL string `mapstructure:"webhook_url"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: PREDX_VENUE_A_API_KEY, PREDX_VENUE_A_API_SECRET,
// PREDX_VENUE_C_KEY_ID, PREDX_VENUE_C_RSA_PRIVATE_KEY_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("PREDX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("PREDX_VENUE_A_API_KEY"); key != "" {
		cfg.VenueA.APIKey = key
	}
	if secret := os.Getenv("PREDX_VENUE_A_API_SECRET"); secret != "" {
		cfg.VenueA.APISecret = secret
	}
	if keyID := os.Getenv("PREDX_VENUE_C_KEY_ID"); keyID != "" {
		cfg.VenueC.KeyID = keyID
	}
	if p := os.Getenv("PREDX_VENUE_C_RSA_PRIVATE_KEY_PATH"); p != "" {
		cfg.VenueC.RSAPrivateKeyPath = p
	}
	if mode := os.Getenv("PREDX_MODE"); mode != "" {
		cfg.Mode = Mode(mode)
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModePaper, ModeLive, ModeSandbox:
	default:
		return fmt.Errorf("mode must be one of: paper, live, sandbox")
	}
	if c.VenueA.BaseURL == "" {
		return fmt.Errorf("venue_a.base_url is required")
	}
	if c.Mode != ModePaper {
		if c.VenueA.APIKey == "" || c.VenueA.APISecret == "" {
			return fmt.Errorf("venue_a.api_key and venue_a.api_secret are required outside paper mode")
		}
	}
	if c.VenueB.BaseURL == "" {
		return fmt.Errorf("venue_b.base_url is required")
	}
	if c.VenueC.BaseURL == "" {
		return fmt.Errorf("venue_c.base_url is required")
	}
	if len(c.Spot.Symbols) == 0 {
		return fmt.Errorf("spot.symbols must name at least one ticker")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Store.BusyTimeoutMS < 10000 {
		return fmt.Errorf("store.busy_timeout_ms must be >= 10000")
	}
	if c.Trading.KellyFraction <= 0 || c.Trading.KellyFraction > 1 {
		return fmt.Errorf("trading.kelly_fraction must be in (0, 1]")
	}
	if c.Trading.MaxPositionSize <= 0 {
		return fmt.Errorf("trading.max_position_size must be > 0")
	}
	if c.Trading.InitialBalance <= 0 {
		return fmt.Errorf("trading.initial_balance must be > 0")
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxConcurrentPositions <= 0 {
		return fmt.Errorf("risk.max_concurrent_positions must be > 0")
	}
	if c.Risk.MaxPositionsPerCategory <= 0 {
		return fmt.Errorf("risk.max_positions_per_category must be > 0")
	}
	if c.Risk.MinBalanceForLiveEntry <= 0 {
		return fmt.Errorf("risk.min_balance_for_live_entry must be > 0")
	}
	if c.Risk.CircuitBreakerFailures <= 0 {
		return fmt.Errorf("risk.circuit_breaker_failures must be > 0")
	}
	return nil
}
