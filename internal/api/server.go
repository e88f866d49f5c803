package api

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/config"
	"factor-heston-sim/internal/engine"
	"factor-heston-sim/internal/monitor"
	"factor-heston-sim/internal/simulation"
	"factor-heston-sim/internal/storage"
)

// Deps are the collaborators the HTTP layer serves. Only Registry is
// required; nil members disable the routes that need them.
type Deps struct {
	Simulator   Simulator
	Registry    *engine.Registry
	Pool        *simulation.Pool
	Runs        RunStore
	AuditWriter *storage.AuditWriter
	Metrics     *monitor.Metrics
	Redactor    *simulation.Redactor
}

// Server is the main HTTP server for the simulation API.
type Server struct {
	httpServer *http.Server
	handlers   *Handlers
	cfg        *config.Config
	deps       Deps
	startTime  time.Time

	defaultLimiter  *ClientLimiter
	simulateLimiter *ClientLimiter

	// Every request context derives from runCtx; cancelRuns aborts the
	// simulations still in flight when graceful shutdown runs out of time.
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// NewServer creates and configures the HTTP server with all routes and middleware.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		handlers:        NewHandlers(deps.Simulator, deps.Runs, deps.AuditWriter, deps.Metrics, deps.Redactor),
		cfg:             cfg,
		deps:            deps,
		startTime:       time.Now(),
		defaultLimiter:  NewClientLimiter("default", PerMinute(cfg.RateLimit.DefaultPerMinute)),
		simulateLimiter: NewClientLimiter("simulate", PerMinute(cfg.RateLimit.SimulatePerMinute)),
	}
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())

	s.httpServer = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return s.runCtx },
	}

	return s
}

// Handler builds the routed, middleware-wrapped handler.
func (s *Server) Handler() http.Handler {
	limited := RateLimitMiddleware(s.defaultLimiter, s.deps.Metrics)
	simulateLimited := RateLimitMiddleware(s.simulateLimiter, s.deps.Metrics)

	mux := http.NewServeMux()
	mux.Handle("GET /simulate", simulateLimited(http.HandlerFunc(s.handlers.HandleSimulate)))
	mux.Handle("GET /runs", limited(http.HandlerFunc(s.handlers.HandleListRuns)))
	mux.Handle("GET /runs/{id}", limited(http.HandlerFunc(s.handlers.HandleGetRun)))

	// Operational endpoints are not rate limited.
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.cfg.Metrics.Enabled && s.deps.Metrics != nil {
		mux.Handle("GET "+s.cfg.Metrics.Path, promhttp.HandlerFor(s.deps.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	if s.cfg.Static.Enabled {
		if info, err := os.Stat(s.cfg.Static.Dir); err == nil && info.IsDir() {
			mux.Handle("GET /static/", limited(http.StripPrefix("/static/", http.FileServer(http.Dir(s.cfg.Static.Dir)))))
			mux.Handle("GET /{$}", limited(http.RedirectHandler("/static/index.html", http.StatusTemporaryRedirect)))
		} else {
			log.Warn().Str("dir", s.cfg.Static.Dir).Msg("static directory not found, UI disabled")
		}
	}

	// Apply middleware chain (outermost first)
	var handler http.Handler = mux
	handler = cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.CORS.AllowedOrigins,
		AllowedMethods:   s.cfg.CORS.AllowedMethods,
		AllowedHeaders:   s.cfg.CORS.AllowedHeaders,
		ExposedHeaders:   []string{"X-Request-ID", "X-Run-ID"},
		AllowCredentials: s.cfg.CORS.AllowCredentials,
		MaxAge:           300,
	})(handler)
	handler = MetricsMiddleware(s.deps.Metrics)(handler)
	handler = LoggingMiddleware(handler)
	handler = RequestIDMiddleware(handler)
	handler = RecoveryMiddleware(handler)

	return handler
}

// Start begins listening for requests. Uses TLS if configured.
func (s *Server) Start() error {
	if s.cfg.TLS.Enabled {
		log.Info().
			Str("addr", s.httpServer.Addr).
			Str("cert", s.cfg.TLS.CertFile).
			Msg("starting HTTPS server with TLS")

		s.httpServer.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		return s.httpServer.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	log.Info().
		Str("addr", s.httpServer.Addr).
		Msg("starting HTTP server")
	return s.httpServer.ListenAndServe()
}

// StartBackground starts limiter housekeeping tied to ctx.
func (s *Server) StartBackground(ctx context.Context) {
	s.defaultLimiter.StartCleanup(ctx, time.Minute, 5*time.Minute)
	s.simulateLimiter.StartCleanup(ctx, time.Minute, 5*time.Minute)
}

// Shutdown gracefully stops the server. Requests still running when ctx
// ends are cancelled, which kills their engine processes.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("cancelling in-flight simulations")
	}
	s.cancelRuns()
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status: "ok",
		Uptime: time.Since(s.startTime).Round(time.Second).String(),
	}

	if s.deps.Registry != nil {
		resp.Engines = s.deps.Registry.Check()
		if !engine.AllAvailable(resp.Engines) {
			resp.Status = "degraded"
		}
	}

	if s.deps.Runs != nil {
		ok := s.deps.Runs.Healthy(r.Context())
		resp.Database = &ok
		if !ok {
			resp.Status = "degraded"
		}
	}

	if p := s.deps.Pool; p != nil {
		resp.Pool = &PoolStatus{
			Workers: p.Workers(),
			Active:  p.ActiveCount(),
			Waiting: p.WaitingCount(),
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, resp)
}
