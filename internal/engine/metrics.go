package engine

import (
	"time"

	"github.com/wonny/autocast/internal/contracts"
)

// Metrics 엔진 이벤트 계측 (internal/metrics.Recorder가 구현)
type Metrics interface {
	CycleCompleted(kind string, d time.Duration)
	FetchFailed(kind contracts.ObservationKind)
	ModelAbstained(orderID, reason string)
	ForecastPublished(f contracts.Forecast)
	HorizonDegraded(key contracts.SeriesKey)
	AlertFired(e contracts.AlertEvent)
	PersistFailed()
	WeightsUpdated(key contracts.SeriesKey, weights map[string]float64)
}

type nopMetrics struct{}

func (nopMetrics) CycleCompleted(string, time.Duration)                   {}
func (nopMetrics) FetchFailed(contracts.ObservationKind)                  {}
func (nopMetrics) ModelAbstained(string, string)                          {}
func (nopMetrics) ForecastPublished(contracts.Forecast)                   {}
func (nopMetrics) HorizonDegraded(contracts.SeriesKey)                    {}
func (nopMetrics) AlertFired(contracts.AlertEvent)                        {}
func (nopMetrics) PersistFailed()                                         {}
func (nopMetrics) WeightsUpdated(contracts.SeriesKey, map[string]float64) {}
