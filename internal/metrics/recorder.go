// Package metrics exposes engine events as Prometheus series.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/wonny/autocast/internal/contracts"
)

const namespace = "autocast"

// Recorder implements engine.Metrics using Prometheus.
// ⭐ SSOT: 모든 메트릭 이름은 이 파일에서만 정의
type Recorder struct {
	registry *prometheus.Registry

	cycles         *prometheus.CounterVec
	cycleDuration  *prometheus.HistogramVec
	fetchFailures  *prometheus.CounterVec
	fitFailures    *prometheus.CounterVec
	published      *prometheus.CounterVec
	degraded       *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	persistFailure prometheus.Counter
	modelWeight    *prometheus.GaugeVec
	lastPoint      *prometheus.GaugeVec
}

// New creates a recorder on its own registry (Go/process collectors included)
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a recorder registering into reg
func NewWithRegistry(reg *prometheus.Registry) *Recorder {
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		cycles: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Completed engine cycles by kind",
			},
			[]string{"kind"},
		),
		cycleDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Duration of engine cycles in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),
		fetchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_failures_total",
				Help:      "Data source fetch failures by observation kind",
			},
			[]string{"kind"},
		),
		fitFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fit_failures_total",
				Help:      "Model fits that abstained, by order and reason",
			},
			[]string{"order_id", "reason"},
		),
		published: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "forecasts_published_total",
				Help:      "Published ensemble forecasts",
			},
			[]string{"instrument", "horizon"},
		),
		degraded: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "horizons_degraded_total",
				Help:      "Horizons skipped because no model converged",
			},
			[]string{"instrument", "horizon"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_total",
				Help:      "Alert events by direction",
			},
			[]string{"instrument", "direction"},
		),
		persistFailure: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persist_failures_total",
				Help:      "Snapshot persistence failures",
			},
		),
		modelWeight: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "model_weight",
				Help:      "Current ensemble weight per model order",
			},
			[]string{"instrument", "horizon", "order_id"},
		),
		lastPoint: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "forecast_point_estimate",
				Help:      "Latest published point estimate",
			},
			[]string{"instrument", "horizon"},
		),
	}
}

// Registry returns the registry backing /metrics
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// CycleCompleted records one cycle and its duration
func (r *Recorder) CycleCompleted(kind string, d time.Duration) {
	r.cycles.WithLabelValues(kind).Inc()
	r.cycleDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// FetchFailed records a failed fetch
func (r *Recorder) FetchFailed(kind contracts.ObservationKind) {
	r.fetchFailures.WithLabelValues(string(kind)).Inc()
}

// ModelAbstained records a model that did not converge
func (r *Recorder) ModelAbstained(orderID, reason string) {
	r.fitFailures.WithLabelValues(orderID, reason).Inc()
}

// ForecastPublished records a published forecast
func (r *Recorder) ForecastPublished(f contracts.Forecast) {
	h := strconv.Itoa(f.HorizonDays)
	r.published.WithLabelValues(f.Instrument, h).Inc()
	r.lastPoint.WithLabelValues(f.Instrument, h).Set(f.PointEstimate)
}

// HorizonDegraded records a horizon without any converged model
func (r *Recorder) HorizonDegraded(key contracts.SeriesKey) {
	r.degraded.WithLabelValues(key.Instrument, strconv.Itoa(key.HorizonDays)).Inc()
}

// AlertFired records an alert event
func (r *Recorder) AlertFired(e contracts.AlertEvent) {
	r.alerts.WithLabelValues(e.Instrument, e.Direction()).Inc()
}

// PersistFailed records a snapshot persistence failure
func (r *Recorder) PersistFailed() {
	r.persistFailure.Inc()
}

// WeightsUpdated replaces the weight gauges of one (instrument, horizon)
func (r *Recorder) WeightsUpdated(key contracts.SeriesKey, weights map[string]float64) {
	h := strconv.Itoa(key.HorizonDays)
	r.modelWeight.DeletePartialMatch(prometheus.Labels{"instrument": key.Instrument, "horizon": h})
	for orderID, w := range weights {
		r.modelWeight.WithLabelValues(key.Instrument, h, orderID).Set(w)
	}
}
