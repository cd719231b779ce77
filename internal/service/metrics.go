package service

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Template lookup outcomes.
const (
	lookupHit     = "hit"
	lookupMiss    = "miss"
	lookupSkipped = "skipped"
	lookupError   = "error"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	stageDuration *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	lookups       *prometheus.CounterVec
	writes        *prometheus.CounterVec
}

// NewMetrics creates the pipeline collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "illustration_stage_duration_seconds",
				Help:    "Duration of a pipeline stage including the model call.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
			},
			[]string{"stage"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "illustration_stage_fallbacks_total",
				Help: "Stages whose reply could not be parsed and fell back to the default value.",
			},
			[]string{"stage"},
		),
		lookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "illustration_template_lookups_total",
				Help: "Template cache lookups by outcome.",
			},
			[]string{"result"},
		),
		writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "illustration_template_writes_total",
				Help: "Template cache writes by operation and outcome.",
			},
			[]string{"op", "result"},
		),
	}

	for _, c := range []prometheus.Collector{m.stageDuration, m.fallbacks, m.lookups, m.writes} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) observeStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) fallback(stage string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage).Inc()
}

func (m *Metrics) lookup(result string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(result).Inc()
}

func (m *Metrics) write(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.writes.WithLabelValues(op, result).Inc()
}
