package telemetry

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.TaskRunFinished("FAILED")
	m.TaskRunFinished("FAILED")
	m.RetryScheduled()
	m.FabricUnit("task", errors.New("boom"))

	if v := testutil.ToFloat64(m.taskRunsFinished.WithLabelValues("FAILED")); v != 2 {
		t.Errorf("expected 2 failed runs, got %v", v)
	}
	if v := testutil.ToFloat64(m.retriesScheduled); v != 1 {
		t.Errorf("expected 1 retry, got %v", v)
	}
	if v := testutil.ToFloat64(m.fabricUnits.WithLabelValues("task", "error")); v != 1 {
		t.Errorf("expected 1 failed unit, got %v", v)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics

	// Не должно паниковать
	m.TaskRunFinished("SUCCESS")
	m.RetryScheduled()
	m.ExpansionUnit("flow")
	m.ObserveGather(0)
	m.FabricUnit("task", nil)
	m.SweepDispatched()
}
