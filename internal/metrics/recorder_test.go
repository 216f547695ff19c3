package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/engine"
)

var _ engine.Metrics = (*Recorder)(nil)

func TestRecorder_Counters(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.CycleCompleted(engine.CycleForecast, 2*time.Second)
	r.CycleCompleted(engine.CycleForecast, time.Second)
	r.CycleCompleted(engine.CycleBacktest, time.Second)
	r.FetchFailed(contracts.KindHeadlines)
	r.ModelAbstained("arima_313", "singular")
	r.PersistFailed()
	r.AlertFired(contracts.AlertEvent{Instrument: "AAPL.US", PctChange: -1.5})

	assert.Equal(t, 2.0, testutil.ToFloat64(r.cycles.WithLabelValues("forecast")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.cycles.WithLabelValues("backtest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fetchFailures.WithLabelValues(string(contracts.KindHeadlines))))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.fitFailures.WithLabelValues("arima_313", "singular")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.persistFailure))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.alerts.WithLabelValues("AAPL.US", "DOWN")))
	assert.Equal(t, 2, testutil.CollectAndCount(r.cycleDuration))
}

func TestRecorder_ForecastPublished(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())

	r.ForecastPublished(contracts.Forecast{Instrument: "AAPL.US", HorizonDays: 5, PointEstimate: 101.5})
	r.HorizonDegraded(contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 20})

	assert.Equal(t, 1.0, testutil.ToFloat64(r.published.WithLabelValues("AAPL.US", "5")))
	assert.Equal(t, 101.5, testutil.ToFloat64(r.lastPoint.WithLabelValues("AAPL.US", "5")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.degraded.WithLabelValues("AAPL.US", "20")))
}

func TestRecorder_WeightsReplaced(t *testing.T) {
	r := NewWithRegistry(prometheus.NewRegistry())
	key := contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 1}

	r.WeightsUpdated(key, map[string]float64{"arima_111": 0.6, "arima_212": 0.4})
	r.WeightsUpdated(contracts.SeriesKey{Instrument: "MSFT.US", HorizonDays: 1}, map[string]float64{"arima_111": 1})
	r.WeightsUpdated(key, map[string]float64{"arima_111": 1})

	assert.Equal(t, 2, testutil.CollectAndCount(r.modelWeight))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.modelWeight.WithLabelValues("AAPL.US", "1", "arima_111")))
}

func TestRecorder_Exposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg)
	r.PersistFailed()

	expected := `
# HELP autocast_persist_failures_total Snapshot persistence failures
# TYPE autocast_persist_failures_total counter
autocast_persist_failures_total 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "autocast_persist_failures_total"))
	assert.Same(t, reg, r.Registry())
}
