package operator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"predxarb/internal/scheduler"
	"predxarb/pkg/types"
)

// Controller is the subset of the scheduler the operator surface drives.
// Kept as an interface so handlers can be tested against a fake.
type Controller interface {
	Health(ctx context.Context) (scheduler.HealthInfo, error)
	EmergencyStop(reason string)
	Resume()
	ClosePosition(ctx context.Context, positionID int64) error
	TriggerRematch()
	GetParameter(ctx context.Context, key string) (types.Parameter, bool, error)
	SetParameter(ctx context.Context, p types.Parameter) error
	ListParameters(ctx context.Context) ([]types.Parameter, error)
}

// Handlers holds all HTTP handler dependencies.
type Handlers struct {
	ctrl   Controller
	logger *slog.Logger
}

func NewHandlers(ctrl Controller, logger *slog.Logger) *Handlers {
	return &Handlers{ctrl: ctrl, logger: logger.With("component", "operator_handlers")}
}

// HandleHealth reports wallet, position count, and risk-gate state.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	info, err := h.ctrl.Health(r.Context())
	if err != nil {
		h.logger.Error("health check failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, NewHealthResponse(info))
}

// HandleEmergencyStop trips the kill switch on operator demand.
func (h *Handlers) HandleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req EmergencyStopRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = "operator requested stop"
	}
	h.ctrl.EmergencyStop(req.Reason)
	h.logger.Warn("emergency stop triggered via operator surface", "reason", req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

// HandleResume clears the kill switch.
func (h *Handlers) HandleResume(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ctrl.Resume()
	h.logger.Info("trading resumed via operator surface")
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

// HandleClosePosition exits one open position immediately.
func (h *Handlers) HandleClosePosition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ClosePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := h.ctrl.ClosePosition(r.Context(), req.PositionID); err != nil {
		h.logger.Error("manual close failed", "position", req.PositionID, "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
}

// HandleRematch requests an out-of-cycle market-matcher pass.
func (h *Handlers) HandleRematch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	h.ctrl.TriggerRematch()
	writeJSON(w, http.StatusOK, map[string]string{"status": "triggered"})
}

// HandleParameters serves GET (list, or ?key= for one) and POST (set) on the
// tunable-parameter surface.
func (h *Handlers) HandleParameters(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getParameters(w, r)
	case http.MethodPost:
		h.setParameter(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handlers) getParameters(w http.ResponseWriter, r *http.Request) {
	if key := r.URL.Query().Get("key"); key != "" {
		p, ok, err := h.ctrl.GetParameter(r.Context(), key)
		if err != nil {
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
		if !ok {
			http.Error(w, "parameter not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, newParameterResponse(p))
		return
	}

	params, err := h.ctrl.ListParameters(r.Context())
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]ParameterResponse, 0, len(params))
	for _, p := range params {
		out = append(out, newParameterResponse(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) setParameter(w http.ResponseWriter, r *http.Request) {
	var req ParameterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if req.Key == "" {
		http.Error(w, "key required", http.StatusBadRequest)
		return
	}

	existing, ok, err := h.ctrl.GetParameter(r.Context(), req.Key)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "parameter not found, cannot infer its bounds", http.StatusNotFound)
		return
	}

	updated := existing
	updated.Value = req.Value
	updated.UpdatedAt = time.Now()
	if err := h.ctrl.SetParameter(r.Context(), updated); err != nil {
		h.logger.Error("set parameter failed", "key", req.Key, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	stored, _, err := h.ctrl.GetParameter(r.Context(), req.Key)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, newParameterResponse(stored))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
