// Package operator implements the bot's operator-facing HTTP control surface:
// health, emergency-stop, close-position, rematch, and the tunable-parameter
// get/set endpoints. It has no live-push dashboard — every response is a
// single JSON snapshot fetched on demand.
package operator

import (
	"time"

	"github.com/dustin/go-humanize"

	"predxarb/internal/scheduler"
	"predxarb/pkg/types"
)

// HealthResponse is the /health endpoint's payload. Numeric fields are
// always present; the humanized fields are additive, for a human reading
// logs or curling the endpoint directly.
type HealthResponse struct {
	Mode             types.Mode `json:"mode"`
	Paused           bool       `json:"paused"`
	CircuitClosed    bool       `json:"circuit_closed"`
	KillSwitchActive bool       `json:"kill_switch_active"`
	OpenPositions    int        `json:"open_positions"`

	Balance       float64 `json:"balance"`
	BalanceHuman  string  `json:"balance_human"`
	DailyPnL      float64 `json:"daily_pnl"`
	DailyPnLHuman string  `json:"daily_pnl_human"`

	AsOf time.Time `json:"as_of"`
}

// NewHealthResponse builds the humanized health payload from the scheduler's
// raw health snapshot.
func NewHealthResponse(h scheduler.HealthInfo) HealthResponse {
	balance, _ := h.Wallet.Balance.Float64()
	dailyPnL, _ := h.Wallet.DailyPnL.Float64()

	return HealthResponse{
		Mode:             h.Mode,
		Paused:           h.Paused,
		CircuitClosed:    h.CircuitClosed,
		KillSwitchActive: h.KillSwitchActive,
		OpenPositions:    h.OpenPositions,
		Balance:          balance,
		BalanceHuman:     humanize.Commaf(balance),
		DailyPnL:         dailyPnL,
		DailyPnLHuman:    humanize.Commaf(dailyPnL),
		AsOf:             h.AsOf,
	}
}

// EmergencyStopRequest is the /emergency-stop POST body.
type EmergencyStopRequest struct {
	Reason string `json:"reason"`
}

// ClosePositionRequest is the /close-position POST body.
type ClosePositionRequest struct {
	PositionID int64 `json:"position_id"`
}

// ParameterRequest is the /parameters POST body: set one tunable parameter's
// value, clamped server-side to its configured [min, max] range.
type ParameterRequest struct {
	Key   string  `json:"key"`
	Value float64 `json:"value"`
}

// ParameterResponse mirrors types.Parameter for the GET/POST parameter endpoints.
type ParameterResponse struct {
	Key       string    `json:"key"`
	Value     float64   `json:"value"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newParameterResponse(p types.Parameter) ParameterResponse {
	return ParameterResponse{Key: p.Key, Value: p.Value, Min: p.Min, Max: p.Max, UpdatedAt: p.UpdatedAt}
}
