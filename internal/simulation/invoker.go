package simulation

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"factor-heston-sim/internal/engine"
	"factor-heston-sim/internal/monitor"
)

// DefaultEngineTimeout applies when an InvokeRequest carries no timeout.
const DefaultEngineTimeout = 60 * time.Second

// InvokeRequest describes one engine run.
type InvokeRequest struct {
	Engine  string        // Registry name, e.g. engine.Factor
	Args    []string      // Positional arguments in engine order
	Dir     string        // Working area the engine writes into
	Timeout time.Duration // Zero means DefaultEngineTimeout
}

// Invocation is the captured outcome of a completed engine run.
type Invocation struct {
	InvokeRequest
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Invoker runs external engines. Implementations must not spawn anything
// for an engine that cannot be resolved.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error)
}

// EngineChecker is implemented by invokers that can confirm engines are
// installed without running them.
type EngineChecker interface {
	CheckEngines(names ...string) error
}

// ProcessInvoker runs engines as host processes on a worker pool.
type ProcessInvoker struct {
	registry *engine.Registry
	pool     *Pool
	limits   Limits
	redactor *Redactor
}

func NewProcessInvoker(registry *engine.Registry, pool *Pool, limits Limits, redactor *Redactor) *ProcessInvoker {
	return &ProcessInvoker{
		registry: registry,
		pool:     pool,
		limits:   limits,
		redactor: redactor,
	}
}

// Invoke resolves the engine, waits for a worker and runs it. It returns an
// *EngineError wrapping ErrEngineNotFound, ErrEngineTimeout or
// ErrEngineExecution on failure.
func (p *ProcessInvoker) Invoke(ctx context.Context, req InvokeRequest) (*Invocation, error) {
	eng, path, err := p.resolve(req.Engine)
	if err != nil {
		return nil, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultEngineTimeout
	}

	var (
		inv    *Invocation
		runErr error
	)
	err = p.pool.Submit(ctx, func(ctx context.Context) error {
		inv, runErr = p.run(ctx, eng, path, req, timeout)
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &EngineError{
				Engine:   eng.Label(),
				ExitCode: -1,
				Err:      fmt.Errorf("%w while waiting for a worker", ErrEngineTimeout),
			}
		}
		if errors.Is(err, ErrPoolClosed) {
			return nil, err
		}
		return nil, &EngineError{Engine: eng.Label(), ExitCode: -1, Err: fmt.Errorf("%w: %w", ErrEngineExecution, err)}
	}
	if inv != nil {
		monitor.SpanFromContext(ctx).SetAttributes(
			monitor.AttrExitCode.Int(inv.ExitCode),
			monitor.AttrDurationMS.Int64(inv.Duration.Milliseconds()),
		)
	}
	return inv, runErr
}

// CheckEngines resolves every named engine and returns the first failure
// as an *EngineError wrapping ErrEngineNotFound.
func (p *ProcessInvoker) CheckEngines(names ...string) error {
	for _, name := range names {
		if _, _, err := p.resolve(name); err != nil {
			return err
		}
	}
	return nil
}

func (p *ProcessInvoker) resolve(name string) (engine.Engine, string, error) {
	eng, err := p.registry.Get(name)
	if err != nil {
		return nil, "", &EngineError{Engine: name, ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrEngineNotFound, err)}
	}
	path, err := p.registry.Resolve(name)
	if err != nil {
		return nil, "", &EngineError{Engine: eng.Label(), ExitCode: -1, Err: fmt.Errorf("%w: %v", ErrEngineNotFound, err)}
	}
	return eng, path, nil
}

func (p *ProcessInvoker) run(ctx context.Context, eng engine.Engine, path string, req InvokeRequest, timeout time.Duration) (*Invocation, error) {
	logger := log.With().
		Str("engine", eng.Name()).
		Strs("args", req.Args).
		Logger()

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout := newCappedBuffer(p.limits.MaxStdoutBytes)
	stderr := newCappedBuffer(p.limits.MaxStderrBytes)

	cmd := exec.CommandContext(execCtx, path, req.Args...) // #nosec G204 -- path from the engine registry, args are validated numbers
	cmd.Dir = req.Dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = 2 * time.Second
	configureProcess(cmd)

	logger.Debug().Msg("starting engine")

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	inv := &Invocation{
		InvokeRequest: req,
		Stdout:        stdout.String(),
		Stderr:        stderr.String(),
		Duration:      duration,
	}
	if cmd.ProcessState != nil {
		inv.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			inv.ExitCode = -1
			logger.Warn().Dur("timeout", timeout).Msg("engine timed out, process killed")
			return inv, &EngineError{
				Engine:   eng.Label(),
				ExitCode: -1,
				Err:      fmt.Errorf("%w after %s", ErrEngineTimeout, timeout),
			}
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return inv, &EngineError{Engine: eng.Label(), ExitCode: -1, Err: fmt.Errorf("%w: %w", ErrEngineExecution, ctxErr)}
		}

		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			logger.Warn().Int("exit_code", inv.ExitCode).Dur("duration", duration).Msg("engine exited non-zero")
			return inv, &EngineError{
				Engine:   eng.Label(),
				ExitCode: inv.ExitCode,
				Stderr:   p.redactor.Redact(strings.TrimSpace(inv.Stderr)),
				Err:      fmt.Errorf("%w: exit status %d", ErrEngineExecution, inv.ExitCode),
			}
		}

		return inv, &EngineError{
			Engine:   eng.Label(),
			ExitCode: -1,
			Err:      fmt.Errorf("%w: %s", ErrEngineExecution, p.redactor.Redact(err.Error())),
		}
	}

	logger.Debug().Dur("duration", duration).Msg("engine completed")
	return inv, nil
}
