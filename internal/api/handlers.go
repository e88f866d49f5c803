package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/monitor"
	"factor-heston-sim/internal/simulation"
	"factor-heston-sim/internal/storage"
)

// Simulator runs one simulation pipeline. *simulation.Pipeline implements it.
type Simulator interface {
	Run(ctx context.Context, req simulation.Request) (simulation.SimulationResult, error)
}

// RunStore reads the run audit log. *storage.DB implements it.
type RunStore interface {
	GetRun(ctx context.Context, id string) (*storage.RunRecord, error)
	ListRuns(ctx context.Context, filter storage.RunFilter) ([]storage.RunRecord, error)
	Healthy(ctx context.Context) bool
}

type Handlers struct {
	sim         Simulator
	runs        RunStore
	auditWriter *storage.AuditWriter
	metrics     *monitor.Metrics
	redactor    *simulation.Redactor
}

func NewHandlers(sim Simulator, runs RunStore, auditWriter *storage.AuditWriter, metrics *monitor.Metrics, redactor *simulation.Redactor) *Handlers {
	return &Handlers{
		sim:         sim,
		runs:        runs,
		auditWriter: auditWriter,
		metrics:     metrics,
		redactor:    redactor,
	}
}

// HandleSimulate runs the factor and Heston engines for the query's
// parameters and returns both series.
func (h *Handlers) HandleSimulate(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, err := simulation.ParseQuery(r.URL.Query())
	if err != nil {
		h.metrics.RecordSimulation(simulation.Kind(err), 0)
		h.writeSimulationError(w, r, err, "")
		return
	}

	if h.sim == nil {
		writeError(w, "simulation pipeline unavailable", "UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	result, err := h.sim.Run(r.Context(), req)

	runID := result.RunID
	var pe *simulation.PipelineError
	if errors.As(err, &pe) {
		runID = pe.RunID
	}
	if runID != "" {
		w.Header().Set("X-Run-ID", runID)
	}

	h.logAudit(runID, req, result, err, start, r)

	if err != nil {
		h.writeSimulationError(w, r, err, runID)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !simulation.ValidRunID(id) {
		writeError(w, "invalid run ID", "VALIDATION_ERROR", http.StatusBadRequest, r)
		return
	}

	if h.runs == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	run, err := h.runs.GetRun(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, "run not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("run_id", id).Msg("run lookup failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, run)
}

func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	q := r.URL.Query()
	filter := storage.RunFilter{
		Status: q.Get("status"),
		Limit:  100,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, "limit must be between 1 and 1000", "VALIDATION_ERROR", http.StatusBadRequest, r)
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, "offset must be a non-negative integer", "VALIDATION_ERROR", http.StatusBadRequest, r)
			return
		}
		filter.Offset = n
	}
	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, "since must be an RFC 3339 timestamp", "VALIDATION_ERROR", http.StatusBadRequest, r)
			return
		}
		filter.Since = &since
	}

	runs, err := h.runs.ListRuns(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Msg("run listing failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs, Limit: filter.Limit, Offset: filter.Offset})
}

// writeSimulationError maps a pipeline error onto a status code and a
// client-safe message.
func (h *Handlers) writeSimulationError(w http.ResponseWriter, r *http.Request, err error, runID string) {
	status, code := errorStatus(err)

	msg := err.Error()
	var pe *simulation.PipelineError
	if errors.As(err, &pe) {
		msg = pe.Err.Error()
	}
	if status >= 500 {
		msg = h.redactor.Redact(msg)
	}

	writeJSON(w, status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
		RunID:     runID,
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, simulation.ErrInvalidRequest):
		return http.StatusBadRequest, "VALIDATION_ERROR"
	case errors.Is(err, simulation.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED"
	case errors.Is(err, simulation.ErrEngineNotFound):
		return http.StatusInternalServerError, "ENGINE_NOT_FOUND"
	case errors.Is(err, simulation.ErrEngineTimeout):
		return http.StatusGatewayTimeout, "ENGINE_TIMEOUT"
	case errors.Is(err, simulation.ErrEngineExecution):
		return http.StatusInternalServerError, "ENGINE_FAILED"
	case errors.Is(err, simulation.ErrMissingArtifact):
		return http.StatusInternalServerError, "MISSING_ARTIFACT"
	case errors.Is(err, simulation.ErrOutputParse):
		return http.StatusInternalServerError, "OUTPUT_PARSE_ERROR"
	case errors.Is(err, simulation.ErrPoolClosed):
		return http.StatusServiceUnavailable, "UNAVAILABLE"
	default:
		return http.StatusInternalServerError, "INTERNAL"
	}
}

func (h *Handlers) logAudit(runID string, req simulation.Request, result simulation.SimulationResult, err error, start time.Time, r *http.Request) {
	if h.auditWriter == nil || runID == "" {
		return
	}

	completedAt := time.Now()
	rec := &storage.RunRecord{
		ID:          runID,
		RequestID:   RequestIDFromContext(r.Context()),
		Status:      simulation.Kind(err),
		Duration:    req.Duration,
		Volatility:  req.Volatility,
		Seed:        req.Seed,
		NumAssets:   req.NumAssets,
		Exposures:   req.Exposures,
		Points:      len(result.HestonPrices),
		DurationMS:  completedAt.Sub(start).Milliseconds(),
		ClientIP:    clientIP(r),
		CreatedAt:   start,
		CompletedAt: &completedAt,
	}
	var pe *simulation.PipelineError
	if errors.As(err, &pe) {
		rec.FailedState = pe.State.String()
		rec.Error = h.redactor.Redact(pe.Err.Error())
	}
	h.auditWriter.Log(rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
