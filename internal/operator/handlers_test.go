package operator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"predxarb/internal/scheduler"
	"predxarb/pkg/types"
)

type fakeController struct {
	health       scheduler.HealthInfo
	healthErr    error
	stopReason   string
	resumed      bool
	closedID     int64
	closeErr     error
	rematched    bool
	params       map[string]types.Parameter
	setParamErr  error
}

func newFakeController() *fakeController {
	return &fakeController{params: map[string]types.Parameter{
		"kelly_fraction": {Key: "kelly_fraction", Value: 0.25, Min: 0, Max: 1, UpdatedAt: time.Unix(0, 0)},
	}}
}

func (f *fakeController) Health(ctx context.Context) (scheduler.HealthInfo, error) {
	return f.health, f.healthErr
}
func (f *fakeController) EmergencyStop(reason string) { f.stopReason = reason }
func (f *fakeController) Resume()                     { f.resumed = true }
func (f *fakeController) ClosePosition(ctx context.Context, positionID int64) error {
	f.closedID = positionID
	return f.closeErr
}
func (f *fakeController) TriggerRematch() { f.rematched = true }
func (f *fakeController) GetParameter(ctx context.Context, key string) (types.Parameter, bool, error) {
	p, ok := f.params[key]
	return p, ok, nil
}
func (f *fakeController) SetParameter(ctx context.Context, p types.Parameter) error {
	if f.setParamErr != nil {
		return f.setParamErr
	}
	f.params[p.Key] = p
	return nil
}
func (f *fakeController) ListParameters(ctx context.Context) ([]types.Parameter, error) {
	out := make([]types.Parameter, 0, len(f.params))
	for _, p := range f.params {
		out = append(out, p)
	}
	return out, nil
}

func newTestHandlers(ctrl Controller) *Handlers {
	return NewHandlers(ctrl, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestHandleHealth(t *testing.T) {
	fc := newFakeController()
	fc.health = scheduler.HealthInfo{
		Mode:          types.ModePaper,
		OpenPositions: 3,
		Wallet:        types.Wallet{Balance: decimal.NewFromFloat(1234.5)},
	}
	h := newTestHandlers(fc)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HandleHealth(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OpenPositions != 3 {
		t.Errorf("OpenPositions = %d, want 3", resp.OpenPositions)
	}
	if resp.BalanceHuman == "" {
		t.Error("BalanceHuman should not be empty")
	}
}

func TestHandleHealthError(t *testing.T) {
	fc := newFakeController()
	fc.healthErr = errors.New("store down")
	h := newTestHandlers(fc)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.HandleHealth(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestHandleEmergencyStopDefaultsReason(t *testing.T) {
	fc := newFakeController()
	h := newTestHandlers(fc)

	req := httptest.NewRequest(http.MethodPost, "/emergency-stop", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()
	h.HandleEmergencyStop(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if fc.stopReason != "operator requested stop" {
		t.Errorf("stopReason = %q, want default", fc.stopReason)
	}
}

func TestHandleEmergencyStopRejectsGet(t *testing.T) {
	h := newTestHandlers(newFakeController())
	req := httptest.NewRequest(http.MethodGet, "/emergency-stop", nil)
	w := httptest.NewRecorder()
	h.HandleEmergencyStop(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}

func TestHandleClosePosition(t *testing.T) {
	fc := newFakeController()
	h := newTestHandlers(fc)

	body, _ := json.Marshal(ClosePositionRequest{PositionID: 42})
	req := httptest.NewRequest(http.MethodPost, "/close-position", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleClosePosition(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if fc.closedID != 42 {
		t.Errorf("closedID = %d, want 42", fc.closedID)
	}
}

func TestHandleClosePositionFailure(t *testing.T) {
	fc := newFakeController()
	fc.closeErr = errors.New("position not open")
	h := newTestHandlers(fc)

	body, _ := json.Marshal(ClosePositionRequest{PositionID: 7})
	req := httptest.NewRequest(http.MethodPost, "/close-position", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleClosePosition(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleRematch(t *testing.T) {
	fc := newFakeController()
	h := newTestHandlers(fc)

	req := httptest.NewRequest(http.MethodPost, "/rematch", nil)
	w := httptest.NewRecorder()
	h.HandleRematch(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !fc.rematched {
		t.Error("expected TriggerRematch to be called")
	}
}

func TestHandleParametersGetSingle(t *testing.T) {
	h := newTestHandlers(newFakeController())

	req := httptest.NewRequest(http.MethodGet, "/parameters?key=kelly_fraction", nil)
	w := httptest.NewRecorder()
	h.HandleParameters(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp ParameterResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Value != 0.25 {
		t.Errorf("Value = %v, want 0.25", resp.Value)
	}
}

func TestHandleParametersGetUnknownKey(t *testing.T) {
	h := newTestHandlers(newFakeController())

	req := httptest.NewRequest(http.MethodGet, "/parameters?key=does_not_exist", nil)
	w := httptest.NewRecorder()
	h.HandleParameters(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleParametersList(t *testing.T) {
	h := newTestHandlers(newFakeController())

	req := httptest.NewRequest(http.MethodGet, "/parameters", nil)
	w := httptest.NewRecorder()
	h.HandleParameters(w, req)

	var resp []ParameterResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp) != 1 {
		t.Fatalf("len(resp) = %d, want 1", len(resp))
	}
}

func TestHandleParametersSetInheritsBoundsAndStampsUpdatedAt(t *testing.T) {
	fc := newFakeController()
	h := newTestHandlers(fc)

	body, _ := json.Marshal(ParameterRequest{Key: "kelly_fraction", Value: 0.5})
	req := httptest.NewRequest(http.MethodPost, "/parameters", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleParameters(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp ParameterResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Value != 0.5 {
		t.Errorf("Value = %v, want 0.5", resp.Value)
	}
	if resp.Min != 0 || resp.Max != 1 {
		t.Errorf("bounds should be inherited from existing parameter, got min=%v max=%v", resp.Min, resp.Max)
	}
	if fc.params["kelly_fraction"].UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped on set")
	}
}

func TestHandleParametersSetUnknownKey(t *testing.T) {
	h := newTestHandlers(newFakeController())

	body, _ := json.Marshal(ParameterRequest{Key: "does_not_exist", Value: 1})
	req := httptest.NewRequest(http.MethodPost, "/parameters", bytes.NewReader(body))
	w := httptest.NewRecorder()
	h.HandleParameters(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404, since bounds cannot be inferred for an unknown key", w.Code)
	}
}

func TestHandleParametersRejectsDelete(t *testing.T) {
	h := newTestHandlers(newFakeController())
	req := httptest.NewRequest(http.MethodDelete, "/parameters", nil)
	w := httptest.NewRecorder()
	h.HandleParameters(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", w.Code)
	}
}
