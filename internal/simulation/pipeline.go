package simulation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/engine"
	"factor-heston-sim/internal/monitor"
)

// State is a pipeline run's position in its lifecycle.
type State int

const (
	StateValidating State = iota
	StateRunningFactor
	StateRunningHeston
	StateAssembling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateRunningFactor:
		return "running_factor"
	case StateRunningHeston:
		return "running_heston"
	case StateAssembling:
		return "assembling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transitions can happen from s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// PipelineConfig wires a Pipeline. Store, Invoker and Registry are required.
type PipelineConfig struct {
	Store            *ArtifactStore
	Invoker          Invoker
	Registry         *engine.Registry
	EngineTimeout    time.Duration
	PipelineTimeout  time.Duration
	MaxArtifactBytes int64

	Metrics *monitor.Metrics
	Tracer  *monitor.Tracer

	// OnTransition, if set, is called on every state change. It may be
	// called from many runs at once.
	OnTransition func(runID string, from, to State)
}

// Pipeline runs the factor engine then the Heston engine for one request,
// each run in its own working area.
type Pipeline struct {
	store        *ArtifactStore
	invoker      Invoker
	factor       *FactorStage
	heston       *HestonStage
	timeout      time.Duration
	metrics      *monitor.Metrics
	tracer       *monitor.Tracer
	onTransition func(runID string, from, to State)
}

func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Store == nil || cfg.Invoker == nil || cfg.Registry == nil {
		return nil, errors.New("pipeline requires a store, an invoker and an engine registry")
	}
	factorEngine, err := cfg.Registry.Get(engine.Factor)
	if err != nil {
		return nil, err
	}
	hestonEngine, err := cfg.Registry.Get(engine.Heston)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		store:        cfg.Store,
		invoker:      cfg.Invoker,
		factor:       NewFactorStage(cfg.Invoker, factorEngine, cfg.EngineTimeout, cfg.MaxArtifactBytes),
		heston:       NewHestonStage(cfg.Invoker, hestonEngine, cfg.EngineTimeout, cfg.MaxArtifactBytes),
		timeout:      cfg.PipelineTimeout,
		metrics:      cfg.Metrics,
		tracer:       cfg.Tracer,
		onTransition: cfg.OnTransition,
	}, nil
}

// Run executes one simulation. Either both stages succeed and a complete
// result is returned, or a *PipelineError is returned. The working area is
// removed before Run returns in both cases.
func (p *Pipeline) Run(ctx context.Context, req Request) (result SimulationResult, err error) {
	req = req.Clone()
	run := &pipelineRun{
		p:     p,
		id:    NewRunID(),
		state: StateValidating,
	}
	run.logger = loggerFrom(ctx).With().
		Str("run_id", run.id).
		Int("duration", req.Duration).
		Int("num_assets", req.NumAssets).
		Int64("seed", req.Seed).
		Logger()

	start := time.Now()
	if p.metrics != nil {
		p.metrics.ActivePipelines.Inc()
		defer p.metrics.ActivePipelines.Dec()
	}
	defer func() {
		p.metrics.RecordSimulation(Kind(err), time.Since(start).Seconds())
	}()

	ctx, span := p.tracer.StartSpan(ctx, "pipeline",
		monitor.AttrRunID.String(run.id),
		monitor.AttrDuration.Int(req.Duration),
		monitor.AttrNumAssets.Int(req.NumAssets),
	)
	defer func() { monitor.EndSpan(span, err) }()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if err := req.Validate(); err != nil {
		return SimulationResult{}, run.fail(err)
	}

	// Both engines must be installed before either one runs.
	if checker, ok := p.invoker.(EngineChecker); ok {
		if err := checker.CheckEngines(engine.Factor, engine.Heston); err != nil {
			return SimulationResult{}, run.fail(err)
		}
	}

	area, err := p.store.Acquire(run.id)
	if err != nil {
		return SimulationResult{}, run.fail(err)
	}
	defer p.store.Release(area)

	run.transition(StateRunningFactor)
	var factor FactorSeries
	err = run.stage(ctx, engine.Factor, func(ctx context.Context) error {
		var err error
		factor, err = p.factor.Run(ctx, area, req)
		return err
	})
	if err != nil {
		return SimulationResult{}, run.fail(err)
	}

	run.transition(StateRunningHeston)
	var heston HestonSeries
	err = run.stage(ctx, engine.Heston, func(ctx context.Context) error {
		var err error
		heston, err = p.heston.Run(ctx, area, req)
		return err
	})
	if err != nil {
		return SimulationResult{}, run.fail(err)
	}

	run.transition(StateAssembling)
	result = Assemble(factor, heston)
	result.RunID = run.id
	if p.metrics != nil {
		p.metrics.SeriesPoints.Observe(float64(len(result.HestonPrices)))
	}

	run.transition(StateDone)
	run.logger.Info().
		Int("points", len(result.HestonPrices)).
		Dur("elapsed", time.Since(start)).
		Msg("simulation completed")
	return result, nil
}

type pipelineRun struct {
	p      *Pipeline
	id     string
	state  State
	logger zerolog.Logger
}

func (r *pipelineRun) transition(to State) {
	from := r.state
	r.state = to
	r.logger.Debug().Stringer("from", from).Stringer("to", to).Msg("pipeline transition")
	if r.p.onTransition != nil {
		r.p.onTransition(r.id, from, to)
	}
}

// fail moves the run to StateFailed and wraps err with the state it
// failed in.
func (r *pipelineRun) fail(err error) error {
	failedIn := r.state
	r.transition(StateFailed)

	event := r.logger.Error()
	if IsValidation(err) {
		event = r.logger.Warn()
	}
	event.Err(err).Stringer("state", failedIn).Str("kind", Kind(err)).Msg("simulation failed")

	return &PipelineError{RunID: r.id, State: failedIn, Err: err}
}

func (r *pipelineRun) stage(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := r.p.tracer.StartSpan(ctx, name,
		monitor.AttrRunID.String(r.id),
		monitor.AttrEngine.String(name),
	)
	start := time.Now()
	err := fn(ctx)
	r.p.metrics.RecordStage(name, time.Since(start).Seconds())
	if err != nil {
		r.p.metrics.RecordEngineError(name, Kind(err))
	}
	monitor.EndSpan(span, err)
	return err
}

// loggerFrom returns the request-scoped logger attached to ctx, falling
// back to the global logger.
func loggerFrom(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return log.Logger
}
