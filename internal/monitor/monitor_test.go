package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.RecordSimulation("success", 1)
	m.RecordStage("factor", 0.5)
	m.RecordEngineError("heston", "timeout")
	m.RecordRateLimited("simulate")
	m.RecordCleanupFailure()
	m.RecordAuditDropped()
}

func TestMetrics_Record(t *testing.T) {
	m := NewMetrics()
	m.RecordSimulation("success", 0.2)
	m.RecordSimulation("success", 0.3)
	m.RecordSimulation("timeout", 60)
	m.RecordRateLimited("simulate")

	if got := testutil.ToFloat64(m.SimulationsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("success count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RateLimited.WithLabelValues("simulate")); got != 1 {
		t.Errorf("rate limited count = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(m.Registry, "simulator_pipeline_duration_seconds"); err != nil || n != 1 {
		t.Errorf("pipeline duration series = %d, %v", n, err)
	}
}

func TestTracer_NilAndNoop(t *testing.T) {
	var nilTracer *Tracer
	for _, tr := range []*Tracer{nilTracer, NewNoopTracer(), NewTracer()} {
		ctx, span := tr.StartSpan(context.Background(), "pipeline", AttrRunID.String("01J"))
		if span == nil || SpanFromContext(ctx) == nil {
			t.Fatal("StartSpan returned no span")
		}
		EndSpan(span, errors.New("engine failed"))
	}
}
