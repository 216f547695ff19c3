// Package backtest scores each model order against realized prices with a
// walk-forward replay and classifies the per-instrument error trend.
package backtest

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/forecast"
	"github.com/wonny/autocast/internal/strategyconfig"
)

// Backtester walk-forward 백테스터
// ⭐ SSOT: 모델은 적합 시점 이후의 데이터로만 평가
type Backtester struct {
	forecaster *forecast.Forecaster
	window     int
	log        zerolog.Logger
	now        func() time.Time
}

// NewBacktester 새 백테스터 생성
func NewBacktester(f *forecast.Forecaster, params strategyconfig.BacktestParams, log zerolog.Logger) *Backtester {
	return &Backtester{
		forecaster: f,
		window:     params.Window,
		log:        log.With().Str("component", "backtest.walkforward").Logger(),
		now:        time.Now,
	}
}

// Run scores one model order at one horizon over a held-out window.
// A model that cannot be fit returns a *forecast.FitFailure and no sample.
// Replaying the same series yields identical metrics; only MeasuredAt, the
// wall-clock time of the run, differs between replays.
func (b *Backtester) Run(instrument string, series []float64, spec contracts.ModelSpec, horizon, window int) (contracts.PerformanceSample, error) {
	samples, err := b.evaluate(instrument, series, spec, []int{horizon}, window)
	if err != nil {
		return contracts.PerformanceSample{}, err
	}
	return samples[0], nil
}

// RunAll scores every spec at every horizon using the configured window.
// Samples are ordered by spec then horizon; abstaining models are logged and skipped.
// All samples of one call share a MeasuredAt.
func (b *Backtester) RunAll(instrument string, series []float64, specs []contracts.ModelSpec, horizons []int) []contracts.PerformanceSample {
	var out []contracts.PerformanceSample
	for _, spec := range specs {
		samples, err := b.evaluate(instrument, series, spec, horizons, b.window)
		if err != nil {
			reason := "unknown"
			var ff *forecast.FitFailure
			if errors.As(err, &ff) {
				reason = ff.Reason
			}
			b.log.Warn().
				Str("instrument", instrument).
				Str("order_id", spec.OrderID).
				Str("reason", reason).
				Err(err).
				Msg("model skipped in backtest")
			continue
		}
		out = append(out, samples...)
	}
	return out
}

// evaluate fits once on the prefix before the held-out window, then forecasts
// from each origin using only data up to that origin.
//
//	series:  [0 ............ split-1 | split ........... n-1]
//	fit:     [0 ............ split-1]
//	origins:                 split-1 ... split+window-2
//	targets: origin + h (always ≥ split)
func (b *Backtester) evaluate(instrument string, series []float64, spec contracts.ModelSpec, horizons []int, window int) ([]contracts.PerformanceSample, error) {
	if len(horizons) == 0 {
		return nil, fmt.Errorf("no horizons")
	}
	hs := append([]int(nil), horizons...)
	sort.Ints(hs)
	maxH := hs[len(hs)-1]

	if window < 1 {
		window = 1
	}
	split := len(series) - window - maxH + 1
	if split < 1 {
		return nil, &forecast.FitFailure{
			OrderID: spec.OrderID,
			Reason:  "insufficient_history",
			Err: fmt.Errorf("%w: %d observations cannot hold window %d at horizon %d",
				contracts.ErrInsufficientHistory, len(series), window, maxH),
		}
	}

	model, err := b.forecaster.Fit(series[:split], spec)
	if err != nil {
		return nil, err
	}

	acc := make(map[int]*errorAccumulator, len(hs))
	for _, h := range hs {
		acc[h] = &errorAccumulator{}
	}

	projectionFailures := 0
	for o := split - 1; o < split-1+window; o++ {
		bands, err := b.forecaster.Project(model, series[:o+1], hs)
		if err != nil {
			projectionFailures++
			continue
		}
		origin := series[o]
		for _, h := range hs {
			band, ok := bands[h]
			if !ok {
				continue
			}
			acc[h].add(band.Point, series[o+h], origin)
		}
	}

	if projectionFailures == window {
		return nil, &forecast.FitFailure{
			OrderID: spec.OrderID,
			Reason:  "fit_error",
			Err:     fmt.Errorf("%w: every origin failed to project", contracts.ErrModelFit),
		}
	}
	if projectionFailures > 0 {
		b.log.Debug().
			Str("instrument", instrument).
			Str("order_id", spec.OrderID).
			Int("failed_origins", projectionFailures).
			Msg("some origins skipped")
	}

	measuredAt := b.now()
	out := make([]contracts.PerformanceSample, 0, len(horizons))
	for _, h := range horizons {
		a := acc[h]
		sample := a.sample()
		sample.Instrument = instrument
		sample.OrderID = spec.OrderID
		sample.HorizonDays = h
		sample.MeasuredAt = measuredAt

		if !sample.RMSE.Valid {
			b.log.Warn().
				Str("instrument", instrument).
				Str("order_id", spec.OrderID).
				Int("horizon", h).
				Err(contracts.ErrInvalidMetric).
				Msg("error metric undefined")
		}
		out = append(out, sample)
	}
	return out, nil
}

// errorAccumulator 예측 오차 누적
type errorAccumulator struct {
	n        int
	sumSq    float64
	sumAbs   float64
	hits     int
	directed int
}

func (a *errorAccumulator) add(predicted, actual, origin float64) {
	e := predicted - actual
	a.n++
	a.sumSq += e * e
	a.sumAbs += math.Abs(e)

	a.directed++
	if sign(predicted-origin) == sign(actual-origin) {
		a.hits++
	}
}

func (a *errorAccumulator) sample() contracts.PerformanceSample {
	if a.n == 0 {
		return contracts.PerformanceSample{
			RMSE:              contracts.InvalidMetric(),
			MAE:               contracts.InvalidMetric(),
			DirectionAccuracy: contracts.InvalidMetric(),
		}
	}
	n := float64(a.n)
	return contracts.PerformanceSample{
		RMSE:              contracts.ValidMetric(math.Sqrt(a.sumSq / n)),
		MAE:               contracts.ValidMetric(a.sumAbs / n),
		DirectionAccuracy: contracts.ValidMetric(float64(a.hits) / float64(a.directed)),
		Samples:           a.n,
	}
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
