package simulation

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"factor-heston-sim/internal/engine"
)

// FactorSeries is the factor level for each simulated period.
type FactorSeries []float64

// HestonSeries holds the price and variance paths, indexed by period.
type HestonSeries struct {
	Prices    []float64
	Variances []float64
}

// Len returns the number of periods in the series.
func (h HestonSeries) Len() int { return len(h.Prices) }

// FactorStage runs the factor engine and reads the last column of its table.
type FactorStage struct {
	invoker  Invoker
	engine   engine.Engine
	timeout  time.Duration
	maxBytes int64
}

func NewFactorStage(invoker Invoker, eng engine.Engine, timeout time.Duration, maxArtifactBytes int64) *FactorStage {
	return &FactorStage{invoker: invoker, engine: eng, timeout: timeout, maxBytes: maxArtifactBytes}
}

// Run invokes the engine in area and returns exactly req.Duration levels.
func (s *FactorStage) Run(ctx context.Context, area *WorkingArea, req Request) (FactorSeries, error) {
	_, err := s.invoker.Invoke(ctx, InvokeRequest{
		Engine:  s.engine.Name(),
		Args:    req.FactorArgs(),
		Dir:     area.Dir,
		Timeout: s.timeout,
	})
	if err != nil {
		return nil, err
	}

	t, err := openArtifact(area, s.engine, s.maxBytes)
	if err != nil {
		return nil, err
	}

	levels, err := t.floats(len(t.header) - 1)
	if err != nil {
		return nil, parseError(s.engine, err.Error())
	}
	if len(levels) != req.Duration {
		return nil, parseError(s.engine, fmt.Sprintf("expected %d rows, got %d", req.Duration, len(levels)))
	}
	return FactorSeries(levels), nil
}

// HestonStage runs the Heston engine and reads its price and variance columns.
type HestonStage struct {
	invoker  Invoker
	engine   engine.Engine
	timeout  time.Duration
	maxBytes int64
}

func NewHestonStage(invoker Invoker, eng engine.Engine, timeout time.Duration, maxArtifactBytes int64) *HestonStage {
	return &HestonStage{invoker: invoker, engine: eng, timeout: timeout, maxBytes: maxArtifactBytes}
}

// Run invokes the engine in area with the request's model parameters and
// exposure weights.
func (s *HestonStage) Run(ctx context.Context, area *WorkingArea, req Request) (HestonSeries, error) {
	_, err := s.invoker.Invoke(ctx, InvokeRequest{
		Engine:  s.engine.Name(),
		Args:    req.HestonArgs(),
		Dir:     area.Dir,
		Timeout: s.timeout,
	})
	if err != nil {
		return HestonSeries{}, err
	}

	t, err := openArtifact(area, s.engine, s.maxBytes)
	if err != nil {
		return HestonSeries{}, err
	}

	var series HestonSeries
	for _, col := range []struct {
		name string
		dst  *[]float64
	}{
		{"price", &series.Prices},
		{"variance", &series.Variances},
	} {
		i, ok := t.columnIndex(col.name)
		if !ok {
			return HestonSeries{}, parseError(s.engine, fmt.Sprintf("missing column %q", col.name))
		}
		values, err := t.floats(i)
		if err != nil {
			return HestonSeries{}, parseError(s.engine, err.Error())
		}
		*col.dst = values
	}
	return series, nil
}

func openArtifact(area *WorkingArea, eng engine.Engine, maxBytes int64) (*table, error) {
	t, err := readTable(area.Path(eng.OutputFile()), maxBytes)
	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, fs.ErrNotExist):
		return nil, &ArtifactError{Engine: eng.Label(), Name: eng.OutputFile(), Err: ErrMissingArtifact}
	default:
		return nil, parseError(eng, err.Error())
	}
}

func parseError(eng engine.Engine, detail string) error {
	return &ArtifactError{Engine: eng.Label(), Name: eng.OutputFile(), Detail: detail, Err: ErrOutputParse}
}
