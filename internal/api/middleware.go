package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/monitor"
)

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// RequestIDFromContext returns the ID RequestIDMiddleware assigned, or "".
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// RequestIDMiddleware tags each request with an ID, echoes it in
// X-Request-ID and attaches a logger carrying it to the request context.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if !validRequestID(id) {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)
		ctx = log.With().Str("request_id", id).Logger().WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// validRequestID accepts client IDs of up to 128 printable ASCII bytes so
// they are safe to echo in headers and logs.
func validRequestID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return false
		}
	}
	return true
}

// requestLogger returns the logger RequestIDMiddleware attached to r.
func requestLogger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

// LoggingMiddleware writes one access log line per request. Simulations
// carry the run ID the handler put in X-Run-ID; health probes log at debug.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		logger := requestLogger(r)
		var event *zerolog.Event
		switch {
		case rec.status >= 500:
			event = logger.Error()
		case rec.status >= 400:
			event = logger.Warn()
		case r.URL.Path == "/health":
			event = logger.Debug()
		default:
			event = logger.Info()
		}
		if runID := rec.Header().Get("X-Run-ID"); runID != "" {
			event = event.Str("run_id", runID)
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Int64("bytes", rec.bytes).
			Dur("duration", time.Since(start)).
			Str("client_ip", clientIP(r)).
			Msg("request completed")
	})
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += int64(n)
	return n, err
}

func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// MetricsMiddleware tracks requests in flight.
func MetricsMiddleware(metrics *monitor.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics != nil {
				metrics.RequestsInFlight.Inc()
				defer metrics.RequestsInFlight.Dec()
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RecoveryMiddleware turns a handler panic into a 500 without leaking the
// panic value to the client.
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				requestLogger(r).Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Str("request_id", RequestIDFromContext(r.Context())).
					Str("run_id", w.Header().Get("X-Run-ID")).
					Msg("panic recovered")
				writeError(w, "internal server error", "INTERNAL", http.StatusInternalServerError, r)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
