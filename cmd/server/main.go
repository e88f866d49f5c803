package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/api"
	"factor-heston-sim/internal/config"
	"factor-heston-sim/internal/engine"
	"factor-heston-sim/internal/monitor"
	"factor-heston-sim/internal/simulation"
	"factor-heston-sim/internal/storage"
)

func main() {
	// Structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	if lvl, err := zerolog.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil && lvl != zerolog.NoLevel {
		zerolog.SetGlobalLevel(lvl)
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	var cfg *config.Config
	var err error

	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", configPath).Msg("failed to load config")
		}
	} else {
		log.Info().Msg("no config file found, using defaults")
		cfg = config.DefaultConfig()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics := monitor.NewMetrics()
	tracer := monitor.NewNoopTracer()
	if cfg.Tracing.Enabled {
		tracer = monitor.NewTracer()
	}

	// Engines are resolved per run; a missing binary only fails the requests that need it.
	registry := engine.NewRegistry(cfg.Engines.Dir)
	registry.SetBinary(engine.Factor, cfg.Engines.FactorBinary)
	registry.SetBinary(engine.Heston, cfg.Engines.HestonBinary)
	for _, st := range registry.Check() {
		if !st.Available {
			log.Warn().Str("engine", st.Name).Str("problem", st.Problem).Msg("engine unavailable")
		}
	}

	store, err := simulation.NewArtifactStore(cfg.Engines.WorkDir, metrics)
	if err != nil {
		log.Fatal().Err(err).Str("work_dir", cfg.Engines.WorkDir).Msg("failed to prepare working area root")
	}
	go store.SweepOrphans(ctx, cfg.Engines.OrphanMaxAge/2, cfg.Engines.OrphanMaxAge)

	limits := simulation.DefaultLimits()
	limits.MaxStderrBytes = cfg.Engines.MaxStderrBytes
	limits.MaxArtifactBytes = cfg.Engines.MaxArtifactBytes
	if err := limits.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid engine limits")
	}

	pool := simulation.NewPool(cfg.Engines.Workers, metrics)
	redactor := simulation.NewRedactor(cfg.Engines.Dir, store.Root())

	pipeline, err := simulation.NewPipeline(simulation.PipelineConfig{
		Store:            store,
		Invoker:          simulation.NewProcessInvoker(registry, pool, limits, redactor),
		Registry:         registry,
		EngineTimeout:    cfg.Engines.EngineTimeout,
		PipelineTimeout:  cfg.Engines.PipelineTimeout,
		MaxArtifactBytes: cfg.Engines.MaxArtifactBytes,
		Metrics:          metrics,
		Tracer:           tracer,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build simulation pipeline")
	}

	// Initialize database (optional, runs without it for development)
	var db *storage.DB
	if cfg.Database.DSN != "" {
		db, err = storage.New(ctx, cfg.Database.DSN, storage.PoolOptions{
			MaxConns:        cfg.Database.MaxConns,
			MinConns:        cfg.Database.MinConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, audit logging disabled")
		} else {
			defer db.Close()
		}
	}

	deps := api.Deps{
		Simulator: pipeline,
		Registry:  registry,
		Pool:      pool,
		Metrics:   metrics,
		Redactor:  redactor,
	}

	// Buffered, retrying audit log
	if db != nil {
		deps.Runs = db
		deps.AuditWriter = storage.NewAuditWriter(db, cfg.Database.AuditBuffer, metrics)
		deps.AuditWriter.Start()
		defer deps.AuditWriter.Flush(10 * time.Second)
	}

	server := api.NewServer(cfg, deps)
	server.StartBackground(ctx)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh

		log.Info().Str("signal", sig.String()).Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}

		// Cancelled runs kill their process groups; give the workers a moment to reap them.
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer drainCancel()
		if err := pool.Stop(drainCtx); err != nil {
			log.Error().Err(err).Msg("worker pool did not drain")
		}

		cancel()
	}()

	log.Info().
		Str("addr", cfg.Address()).
		Bool("db_enabled", db != nil).
		Bool("engines_available", engine.AllAvailable(registry.Check())).
		Int("workers", cfg.Engines.Workers).
		Msg("server starting")

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server failed")
	}

	<-ctx.Done()
	log.Info().Msg("server stopped")
}
