package engine

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wonny/autocast/internal/backtest"
	"github.com/wonny/autocast/internal/contracts"
)

// BacktestInstrumentReport 종목 1개의 백테스트 결과
type BacktestInstrumentReport struct {
	Instrument string
	Samples    []contracts.PerformanceSample
	Weights    map[contracts.SeriesKey]map[string]float64
	Trend      *contracts.PerformanceTrend
	Err        error
}

// BacktestReport 백테스트 사이클 결과
type BacktestReport struct {
	Instruments []BacktestInstrumentReport
	Duration    time.Duration
}

// RunBacktestCycle re-scores every model order and updates the weight table
func (e *Engine) RunBacktestCycle(ctx context.Context) BacktestReport {
	report := e.BacktestOnce(ctx, e.opts.Instruments)

	e.store.CompleteBacktestCycle()
	e.metrics.CycleCompleted(CycleBacktest, report.Duration)

	samples := 0
	for _, ir := range report.Instruments {
		samples += len(ir.Samples)
	}
	e.log.Info().
		Int("instruments", len(report.Instruments)).
		Int("samples", samples).
		Dur("duration", report.Duration).
		Msg("backtest cycle completed")

	return report
}

// BacktestOnce backtests the given instruments and applies the weight updates
func (e *Engine) BacktestOnce(ctx context.Context, instruments []string) BacktestReport {
	start := time.Now()

	cycleCtx, cancel := context.WithTimeout(ctx, e.opts.CycleTimeout)
	defer cancel()

	reports := make([]BacktestInstrumentReport, len(instruments))
	g, gctx := errgroup.WithContext(cycleCtx)
	g.SetLimit(e.opts.Concurrency)
	for i, inst := range instruments {
		g.Go(func() error {
			reports[i] = e.backtestInstrument(gctx, inst)
			return nil
		})
	}
	_ = g.Wait()

	return BacktestReport{Instruments: reports, Duration: time.Since(start)}
}

func (e *Engine) backtestInstrument(ctx context.Context, inst string) BacktestInstrumentReport {
	report := BacktestInstrumentReport{
		Instrument: inst,
		Weights:    make(map[contracts.SeriesKey]map[string]float64),
	}

	obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: inst, Kind: contracts.KindPriceHistory, Lookback: e.strategy.Forecast.HistoryDays})
	if err != nil {
		report.Err = err
		return report
	}
	closes := contracts.Closes(obs)

	report.Samples = e.backtester.RunAll(inst, closes, e.strategy.Models, e.strategy.Horizons)
	e.store.AppendPerformance(report.Samples...)

	for _, h := range e.strategy.Horizons {
		key := contracts.SeriesKey{Instrument: inst, HorizonDays: h}
		entry, changed := e.selector.UpdateWeights(key, report.Samples)
		if changed {
			report.Weights[key] = entry.Weights
			e.metrics.WeightsUpdated(key, entry.Weights)
		}
	}

	if agg, ok := backtest.AggregateError(inst, report.Samples); ok {
		trend := e.trends.Classify(inst, agg, e.store.ErrorHistory(inst))
		e.store.RecordTrend(trend)
		report.Trend = &trend

		e.log.Info().
			Str("instrument", inst).
			Str("trend", string(trend.Trend)).
			Float64("aggregate_error", agg).
			Msg("performance trend")
	}

	return report
}
