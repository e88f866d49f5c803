package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"factor-heston-sim/internal/monitor"
	"factor-heston-sim/internal/simulation"
	"factor-heston-sim/internal/storage"
)

// mockSimulator implements Simulator for handler tests.
type mockSimulator struct {
	mu     sync.Mutex
	calls  []simulation.Request
	result simulation.SimulationResult
	err    error
}

func (m *mockSimulator) Run(_ context.Context, req simulation.Request) (simulation.SimulationResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	return m.result, m.err
}

// mockRunStore implements RunStore for handler tests.
type mockRunStore struct {
	runs    map[string]*storage.RunRecord
	filter  storage.RunFilter
	err     error
	healthy bool
}

func (m *mockRunStore) GetRun(_ context.Context, id string) (*storage.RunRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	run, ok := m.runs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return run, nil
}

func (m *mockRunStore) ListRuns(_ context.Context, filter storage.RunFilter) ([]storage.RunRecord, error) {
	m.filter = filter
	if m.err != nil {
		return nil, m.err
	}
	out := make([]storage.RunRecord, 0, len(m.runs))
	for _, r := range m.runs {
		out = append(out, *r)
	}
	return out, nil
}

func (m *mockRunStore) Healthy(context.Context) bool { return m.healthy }

// recordingLogger implements storage.RunLogger.
type recordingLogger struct {
	mu   sync.Mutex
	runs []*storage.RunRecord
}

func (l *recordingLogger) LogRun(_ context.Context, run *storage.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runs = append(l.runs, run)
	return nil
}

func newTestHandlers(sim Simulator, runs RunStore) *Handlers {
	return NewHandlers(sim, runs, nil, monitor.NewMetrics(), simulation.NewRedactor("/srv/engines"))
}

func get(t *testing.T, handler http.HandlerFunc, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decoding error response: %v", err)
	}
	return resp
}

func TestHandleSimulate_Success(t *testing.T) {
	runID := simulation.NewRunID()
	sim := &mockSimulator{result: simulation.SimulationResult{
		FactorLevels:    []float64{1, 2, 3},
		HestonPrices:    []float64{100, 101, 99.5},
		HestonVariances: []float64{0.04, 0.041, 0.039},
		RunID:           runID,
	}}
	h := newTestHandlers(sim, nil)

	rec := get(t, h.HandleSimulate, "/simulate?duration=3&seed=7&factor_exposures=0.5,%201.5")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body)
	}
	if got := rec.Header().Get("X-Run-ID"); got != runID {
		t.Errorf("X-Run-ID = %q, want %q", got, runID)
	}

	var body map[string][]float64
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"factor_levels", "heston_prices", "heston_variances"} {
		if len(body[key]) != 3 {
			t.Errorf("%s has %d values, want 3", key, len(body[key]))
		}
	}
	if len(body) != 3 {
		t.Errorf("response has %d keys, want 3", len(body))
	}

	if len(sim.calls) != 1 {
		t.Fatalf("simulator called %d times, want 1", len(sim.calls))
	}
	req := sim.calls[0]
	if req.Duration != 3 || req.Seed != 7 || len(req.Exposures) != 2 || req.Exposures[1] != 1.5 {
		t.Errorf("parsed request = %+v", req)
	}
}

func TestHandleSimulate_ValidationInvokesNothing(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{"non-numeric duration", "duration=abc"},
		{"zero duration", "duration=0"},
		{"bad exposures", "factor_exposures=1,x"},
		{"empty exposure token", "factor_exposures=1,,2"},
		{"rho out of range", "rho=1.5"},
		{"negative volatility", "volatility=-0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sim := &mockSimulator{}
			h := newTestHandlers(sim, nil)

			rec := get(t, h.HandleSimulate, "/simulate?"+tt.query)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp := decodeError(t, rec); resp.Code != "VALIDATION_ERROR" || resp.Error == "" {
				t.Errorf("error response = %+v", resp)
			}
			if len(sim.calls) != 0 {
				t.Errorf("simulator invoked for an invalid request")
			}
			if rec.Header().Get("X-Run-ID") != "" {
				t.Error("X-Run-ID set for a rejected request")
			}
		})
	}
}

func TestHandleSimulate_ErrorMapping(t *testing.T) {
	runID := simulation.NewRunID()
	wrap := func(state simulation.State, err error) error {
		return &simulation.PipelineError{RunID: runID, State: state, Err: err}
	}

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "factor non-zero exit",
			err:        wrap(simulation.StateRunningFactor, &simulation.EngineError{Engine: "Factor model", ExitCode: 1, Stderr: "bad input", Err: simulation.ErrEngineExecution}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "ENGINE_FAILED",
			wantMsg:    "Factor model error: bad input",
		},
		{
			name:       "missing engine",
			err:        wrap(simulation.StateRunningFactor, &simulation.EngineError{Engine: "Factor model", ExitCode: -1, Err: fmt.Errorf("%w: factor_model", simulation.ErrEngineNotFound)}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "ENGINE_NOT_FOUND",
		},
		{
			name:       "timeout",
			err:        wrap(simulation.StateRunningHeston, &simulation.EngineError{Engine: "Heston model", ExitCode: -1, Err: simulation.ErrEngineTimeout}),
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "ENGINE_TIMEOUT",
		},
		{
			name:       "missing artifact",
			err:        wrap(simulation.StateRunningFactor, &simulation.ArtifactError{Engine: "Factor model", Name: "factor_output.csv", Err: simulation.ErrMissingArtifact}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "MISSING_ARTIFACT",
			wantMsg:    "Missing factor_output.csv",
		},
		{
			name:       "parse failure",
			err:        wrap(simulation.StateRunningHeston, &simulation.ArtifactError{Engine: "Heston model", Name: "heston_output.csv", Detail: "missing column variance", Err: simulation.ErrOutputParse}),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "OUTPUT_PARSE_ERROR",
		},
		{
			name:       "pool stopped",
			err:        wrap(simulation.StateRunningFactor, simulation.ErrPoolClosed),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "UNAVAILABLE",
		},
		{
			name:       "unclassified",
			err:        wrap(simulation.StateAssembling, errors.New("boom")),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL",
			wantMsg:    "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandlers(&mockSimulator{err: tt.err}, nil)

			rec := get(t, h.HandleSimulate, "/simulate")
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if got := rec.Header().Get("X-Run-ID"); got != runID {
				t.Errorf("X-Run-ID = %q, want %q", got, runID)
			}
			resp := decodeError(t, rec)
			if resp.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", resp.Code, tt.wantCode)
			}
			if resp.RunID != runID {
				t.Errorf("run_id = %q, want %q", resp.RunID, runID)
			}
			if tt.wantMsg != "" && resp.Error != tt.wantMsg {
				t.Errorf("error = %q, want %q", resp.Error, tt.wantMsg)
			}
			if strings.Contains(resp.Error, runID) {
				t.Errorf("error message %q repeats the run ID", resp.Error)
			}
		})
	}
}

func TestHandleSimulate_RedactsPaths(t *testing.T) {
	err := &simulation.PipelineError{
		RunID: simulation.NewRunID(),
		State: simulation.StateRunningHeston,
		Err: &simulation.EngineError{
			Engine:   "Heston model",
			ExitCode: 2,
			Stderr:   "cannot open /srv/engines/lib/libheston.so",
			Err:      simulation.ErrEngineExecution,
		},
	}
	h := newTestHandlers(&mockSimulator{err: err}, nil)

	rec := get(t, h.HandleSimulate, "/simulate")
	resp := decodeError(t, rec)
	if strings.Contains(resp.Error, "/srv/engines") {
		t.Errorf("error %q leaks the engine directory", resp.Error)
	}
	if !strings.Contains(resp.Error, "libheston.so") {
		t.Errorf("error %q lost the engine's diagnostic", resp.Error)
	}
}

func TestHandleSimulate_NoPipeline(t *testing.T) {
	h := newTestHandlers(nil, nil)
	rec := get(t, h.HandleSimulate, "/simulate")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHandleSimulate_WritesAuditRecord(t *testing.T) {
	logger := &recordingLogger{}
	writer := storage.NewAuditWriter(logger, 10, nil)
	writer.Start()

	runID := simulation.NewRunID()
	sim := &mockSimulator{err: &simulation.PipelineError{
		RunID: runID,
		State: simulation.StateRunningFactor,
		Err:   &simulation.EngineError{Engine: "Factor model", ExitCode: 1, Stderr: "bad seed", Err: simulation.ErrEngineExecution},
	}}
	h := NewHandlers(sim, nil, writer, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/simulate?seed=9", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	h.HandleSimulate(httptest.NewRecorder(), req)
	writer.Flush(2 * time.Second)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	if len(logger.runs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(logger.runs))
	}
	run := logger.runs[0]
	if run.ID != runID || run.Seed != 9 || run.ClientIP != "203.0.113.7" {
		t.Errorf("audit record = %+v", run)
	}
	if run.Status != "engine_failed" {
		t.Errorf("status = %q", run.Status)
	}
	if run.FailedState != simulation.StateRunningFactor.String() {
		t.Errorf("failed_state = %q", run.FailedState)
	}
	if run.Error != "Factor model error: bad seed" {
		t.Errorf("error = %q", run.Error)
	}
}

func TestHandleGetRun(t *testing.T) {
	known := simulation.NewRunID()
	store := &mockRunStore{runs: map[string]*storage.RunRecord{
		known: {ID: known, Status: "success", Points: 100},
	}}
	h := newTestHandlers(nil, store)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs/{id}", h.HandleGetRun)

	tests := []struct {
		name   string
		id     string
		status int
	}{
		{"found", known, http.StatusOK},
		{"not found", simulation.NewRunID(), http.StatusNotFound},
		{"malformed", "not-a-run-id", http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+tt.id, nil))
			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
		})
	}
}

func TestHandleGetRun_NoDatabase(t *testing.T) {
	h := newTestHandlers(nil, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /runs/{id}", h.HandleGetRun)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/runs/"+simulation.NewRunID(), nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	if resp := decodeError(t, rec); resp.Code != "DB_UNAVAILABLE" {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestHandleListRuns(t *testing.T) {
	store := &mockRunStore{runs: map[string]*storage.RunRecord{
		"a": {ID: "a", Status: "success"},
	}}
	h := newTestHandlers(nil, store)

	rec := get(t, h.HandleListRuns, "/runs?status=success&limit=5&offset=10&since=2026-01-02T15:04:05Z")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	var resp RunListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Runs) != 1 || resp.Limit != 5 || resp.Offset != 10 {
		t.Errorf("response = %+v", resp)
	}
	if store.filter.Status != "success" || store.filter.Since == nil {
		t.Errorf("filter = %+v", store.filter)
	}
}

func TestHandleListRuns_BadParams(t *testing.T) {
	h := newTestHandlers(nil, &mockRunStore{})
	for _, q := range []string{"limit=0", "limit=5000", "limit=x", "offset=-1", "since=yesterday"} {
		rec := get(t, h.HandleListRuns, "/runs?"+q)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, rec.Code)
		}
	}
}

func TestHandleListRuns_StoreFailure(t *testing.T) {
	h := newTestHandlers(nil, &mockRunStore{err: errors.New("connection reset")})
	rec := get(t, h.HandleListRuns, "/runs")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if resp := decodeError(t, rec); strings.Contains(resp.Error, "connection reset") {
		t.Errorf("driver error leaked: %q", resp.Error)
	}
}
