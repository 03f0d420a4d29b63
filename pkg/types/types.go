// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the bot — venue identifiers,
// market metadata, quotes, signals, positions, and persisted records. It has
// no dependencies on internal packages, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Venue identifies one of the three venues the pipeline talks to.
type Venue string

const (
	VenueA Venue = "A" // writable, used for execution
	VenueB Venue = "B" // read-only reference
	VenueC Venue = "C" // read-only reference, bracket markets + websocket push
)

// Side is the direction of an order.
type Side string

const (
	BUY  Side = "buy"
	SELL Side = "sell"
)

// Outcome is the binary contract side.
type Outcome string

const (
	YES Outcome = "yes"
	NO  Outcome = "no"
)

// Direction mirrors Outcome for signal/position direction, kept distinct
// because a signal exists before any order is built.
type Direction string

const (
	DirYES Direction = "YES"
	DirNO  Direction = "NO"
)

// Category classifies a matched market for weighting and guard purposes.
type Category string

const (
	CategoryCrypto    Category = "crypto"
	CategorySports    Category = "sports"
	CategoryPolitics  Category = "politics"
	CategoryFinance   Category = "finance"
	CategoryElections Category = "elections"
	CategoryCulture   Category = "culture"
	CategoryTech      Category = "tech"
	CategoryOther     Category = "other"
)

// PayoffDirection distinguishes above-strike from below-strike crypto binaries.
type PayoffDirection string

const (
	PayoffAbove PayoffDirection = "above"
	PayoffBelow PayoffDirection = "below"
)

// Mode is fixed for the lifetime of a position: paper or live. It is never
// flipped mid-flight; the trading engine's exit path picks paper or live
// bookkeeping from the position's Mode.
type Mode string

const (
	ModePaper Mode = "paper"
	ModeLive  Mode = "live"
)

// PositionState is the position state machine: open -> exiting -> closed,
// with phantom reserved for reconciliation orphans.
type PositionState string

const (
	StateOpen     PositionState = "open"
	StateExiting  PositionState = "exiting"
	StateClosed   PositionState = "closed"
	StatePhantom  PositionState = "phantom"
)

// ExitReason records why a position was closed.
type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTimeDecay  ExitReason = "time_decay"
	ExitExpiry     ExitReason = "expiry"
	ExitEmergency  ExitReason = "emergency"
	ExitManual     ExitReason = "manual"
)

// StrategyTag labels which subsystem produced a signal.
type StrategyTag string

const (
	StrategyComposite     StrategyTag = "composite"
	StrategyFairValue     StrategyTag = "fair-value"
	StrategyMomentum      StrategyTag = "momentum"
	StrategySyntheticArb  StrategyTag = "synthetic-arb"
	StrategyMultiSource   StrategyTag = "multi-source"
)

// TimeInForce mirrors the venue A order contract.
type TimeInForce string

const (
	TIFGoodTilCancel TimeInForce = "good-til-cancel"
)

// OrderTypeKind is always "limit" per spec §6, kept as a type for clarity
// at call sites rather than a bare string literal.
type OrderTypeKind string

const (
	OrderTypeLimit OrderTypeKind = "limit"
)

// ————————————————————————————————————————————————————————————————————————
// Venue contract types (§4.1, §6)
// ————————————————————————————————————————————————————————————————————————

// MarketDescriptor is what listMarkets returns: enough to identify and
// categorize a market on a given venue, before matching.
type MarketDescriptor struct {
	VenueMarketID string
	Venue         Venue
	Category      Category
	Title         string
	// Structural metadata, populated only when the venue's symbol syntax is parseable.
	Asset      string
	Strike     decimal.Decimal
	Expiry     time.Time
	Payoff     PayoffDirection
	HasStrike  bool
}

// Quote is a per-market, per-venue, per-sampling-instant price snapshot (§3).
type Quote struct {
	Venue     Venue
	MarketID  string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	BidDepth  decimal.Decimal // zero value on read-only venues that omit depth
	AskDepth  decimal.Decimal
	HasDepth  bool
	Timestamp time.Time
}

// Mid returns (bid+ask)/2. Caller must check the quote is two-sided first.
func (q Quote) Mid() decimal.Decimal {
	return q.Bid.Add(q.Ask).Div(decimal.NewFromInt(2))
}

// IsStale reports whether this quote is older than maxAge as of now.
func (q Quote) IsStale(now time.Time, maxAge time.Duration) bool {
	if q.Timestamp.IsZero() {
		return true
	}
	return now.Sub(q.Timestamp) > maxAge
}

// BookTop is the top-of-book result from a bookTop(marketId) call.
type BookTop struct {
	Bid      decimal.Decimal
	BidQty   decimal.Decimal
	Ask      decimal.Decimal
	AskQty   decimal.Decimal
	OneSided bool
	Empty    bool
}

// OrderRequest is the high-level order the trading engine builds; the venue
// A client converts it to the wire shape in §6.
type OrderRequest struct {
	MarketID       string
	Side           Side
	Outcome        Outcome
	Type           OrderTypeKind
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	TimeInForce    TimeInForce
	IdempotencyKey string // client-generated, survives process restart for reconciliation
}

// OrderReport is the venue's response to placeOrder.
type OrderReport struct {
	OrderID           string
	Status            string
	AvgExecutionPrice decimal.Decimal
	FilledQuantity    decimal.Decimal
	RemainingQuantity decimal.Decimal
}

// Balance is the writable venue's availableBalance() response (30s cached by the client).
type Balance struct {
	Available decimal.Decimal
	AsOf      time.Time
}

// ————————————————————————————————————————————————————————————————————————
// Domain records (§3)
// ————————————————————————————————————————————————————————————————————————

// StructuralMeta is the crypto-binary structural metadata carried by a MatchedMarket.
type StructuralMeta struct {
	Asset     string
	Strike    decimal.Decimal
	Expiry    time.Time
	Payoff    PayoffDirection
	HasStrike bool
}

// MatchedMarket ties together the (A, B?, C?) triple representing one prediction.
type MatchedMarket struct {
	ID         string // stable opaque id
	VenueAID   string
	VenueBID   string // empty if unmatched
	VenueCID   string // empty if unmatched
	// VenueCBrackets holds the set of venue-C bracket market ids bound to this
	// A-market for above/below-strike crypto contracts (§4.3).
	VenueCBrackets []string
	Category       Category
	Title          string
	Confidence     float64
	Structural     *StructuralMeta
	FirstSeen      time.Time
	LastSeenA      time.Time
	LastSeenB      time.Time
	LastSeenC      time.Time
}

// ReferencePrice is the per-matched-market, per-cycle weighted probability (§3, §4.4).
type ReferencePrice struct {
	MatchedID     string
	Probability   float64
	Sources       []string // which sources contributed after weighting
	ComputedAt    time.Time
}

// FairValue is the per-cycle ensemble output for a matched crypto market (§3, §4.5).
type FairValue struct {
	MatchedID     string
	FairValue     float64
	Edge          float64
	KellyFraction float64
	Confidence    float64
	ComputedAt    time.Time
}

// Signal is transient: produced each cycle, expires at cycle end (§3, §4.6).
type Signal struct {
	MatchedID     string
	Direction     Direction
	Score         float64
	NetEdge       float64
	Confidence    float64
	Strategy      StrategyTag
	SourceQuotes  map[Venue]Quote
	GeneratedAt   time.Time
}

// Position is persistent until closed (§3).
type Position struct {
	ID             int64
	MatchedID      string
	VenueAMarket   string
	Direction      Direction
	EntryPrice     decimal.Decimal
	Quantity       decimal.Decimal
	Notional       decimal.Decimal
	EntryTimestamp time.Time
	Mode           Mode
	Category       Category
	TakeProfit     decimal.Decimal
	StopLoss       decimal.Decimal
	MaxHoldUntil   time.Time
	HighWater      decimal.Decimal
	LowWater       decimal.Decimal
	State          PositionState
	IdempotencyKey string
}

// ClosedTrade is the final record for a closed position (§3).
type ClosedTrade struct {
	ID             int64
	PositionID     int64
	EntryPrice     decimal.Decimal
	ExitPrice      decimal.Decimal
	Quantity       decimal.Decimal
	GrossPnL       decimal.Decimal
	NetPnL         decimal.Decimal
	Fees           decimal.Decimal
	ExitReason     ExitReason
	HoldSeconds    int64
	Mode           Mode
	ClosedAt       time.Time
}

// Wallet is a single row: current/initial/peak balance and daily PnL accounting (§3).
type Wallet struct {
	Balance        decimal.Decimal
	Initial        decimal.Decimal
	Peak           decimal.Decimal
	DailyPnL       decimal.Decimal
	DailyLossCount int
	DailyStartTS   time.Time
}

// Parameter is one row of the tunable clamp-bound parameter set (§3).
type Parameter struct {
	Key       string
	Value     float64
	Min       float64
	Max       float64
	UpdatedAt time.Time
}

// AuditEntry is one append-only audit log row (§3).
type AuditEntry struct {
	ID        int64
	Timestamp time.Time
	Kind      string
	Payload   string // JSON
}
