package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — набор Prometheus метрик.
//
// Компоненты принимают *Metrics через Config; nil означает "не собирать".
// Все методы безопасны для вызова на nil.
type Metrics struct {
	taskRunsFinished *prometheus.CounterVec
	retriesScheduled prometheus.Counter
	expansionUnits   *prometheus.CounterVec
	gatherDuration   prometheus.Histogram
	fabricUnits      *prometheus.CounterVec
	sweepDispatched  prometheus.Counter
}

// NewMetrics регистрирует метрики в reg.
// Для глобального реестра передайте prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		taskRunsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskrunner_taskruns_finished_total",
			Help: "Task run attempts finished, by terminal state.",
		}, []string{"state"}),
		retriesScheduled: f.NewCounter(prometheus.CounterOpts{
			Name: "taskrunner_retries_scheduled_total",
			Help: "Follow-up attempts created for failed task runs.",
		}),
		expansionUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskrunner_expansion_units_total",
			Help: "Units submitted by dynamic expansion, by kind.",
		}, []string{"kind"}),
		gatherDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "taskrunner_gather_duration_seconds",
			Help:    "Time spent waiting for dynamically expanded units.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		fabricUnits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskrunner_fabric_units_total",
			Help: "Units executed by workers, by kind and result.",
		}, []string{"kind", "result"}),
		sweepDispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "taskrunner_retry_sweep_dispatched_total",
			Help: "Due follow-up attempts submitted by the retry sweep.",
		}),
	}
}

// TaskRunFinished учитывает завершённую попытку.
func (m *Metrics) TaskRunFinished(state string) {
	if m == nil {
		return
	}
	m.taskRunsFinished.WithLabelValues(state).Inc()
}

// RetryScheduled учитывает созданную повторную попытку.
func (m *Metrics) RetryScheduled() {
	if m == nil {
		return
	}
	m.retriesScheduled.Inc()
}

// ExpansionUnit учитывает unit, отправленный при dynamic expansion.
func (m *Metrics) ExpansionUnit(kind string) {
	if m == nil {
		return
	}
	m.expansionUnits.WithLabelValues(kind).Inc()
}

// ObserveGather учитывает длительность ожидания дочерних units.
func (m *Metrics) ObserveGather(d time.Duration) {
	if m == nil {
		return
	}
	m.gatherDuration.Observe(d.Seconds())
}

// FabricUnit учитывает unit, выполненный воркером.
func (m *Metrics) FabricUnit(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.fabricUnits.WithLabelValues(kind, result).Inc()
}

// SweepDispatched учитывает попытку, отправленную планировщиком retry.
func (m *Metrics) SweepDispatched() {
	if m == nil {
		return
	}
	m.sweepDispatched.Inc()
}
