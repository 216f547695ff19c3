package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/wonny/autocast/internal/alert"
	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/ensemble"
	"github.com/wonny/autocast/internal/factors"
	"github.com/wonny/autocast/internal/forecast"
	"github.com/wonny/autocast/internal/sentiment"
)

// MarketContext 사이클당 1회 조회하여 모든 종목이 공유하는 시장 지표
type MarketContext struct {
	VolatilityLevel factors.Signal
	MarketChangePct factors.Signal
}

// InstrumentReport 종목 1개의 예측-발행 결과
type InstrumentReport struct {
	Instrument string
	Published  []contracts.Forecast
	Alerts     []contracts.AlertEvent
	Adjustment factors.Adjustment
	Sentiment  sentiment.Result
	Abstained  map[string]string // order_id → reason
	Degraded   []int             // horizons with nothing published
	Err        error             // price history unavailable / insufficient
}

// ForecastReport 예측-발행 사이클 결과
type ForecastReport struct {
	CycleID     string
	Cycle       int64
	Market      MarketContext
	Instruments []InstrumentReport
	Duration    time.Duration
	PersistErr  error
}

// Published counts published forecasts across instruments
func (r ForecastReport) Published() int {
	n := 0
	for _, ir := range r.Instruments {
		n += len(ir.Published)
	}
	return n
}

// RunForecastCycle runs one forecast-publish cycle over every instrument,
// then persists a snapshot. Per-instrument failures never abort the cycle.
func (e *Engine) RunForecastCycle(ctx context.Context) ForecastReport {
	start := time.Now()
	report := ForecastReport{CycleID: uuid.NewString()}

	cycleCtx, cancel := context.WithTimeout(ctx, e.opts.CycleTimeout)
	defer cancel()

	report.Market = e.fetchMarket(cycleCtx)
	report.Instruments = e.forecastInstruments(cycleCtx, report.CycleID, report.Market, e.opts.Instruments)

	report.Cycle = e.store.CompleteForecastCycle()
	// 사이클 마감과 무관하게 스냅샷은 부모 ctx로 기록
	report.PersistErr = e.Persist(ctx)
	report.Duration = time.Since(start)
	e.metrics.CycleCompleted(CycleForecast, report.Duration)

	e.log.Info().
		Str("cycle_id", report.CycleID).
		Int64("cycle", report.Cycle).
		Int("instruments", len(report.Instruments)).
		Int("published", report.Published()).
		Dur("duration", report.Duration).
		Msg("forecast cycle completed")

	return report
}

// ForecastOnce runs the forecast path for the given instruments without
// advancing the cycle counter or persisting (CLI one-shot).
func (e *Engine) ForecastOnce(ctx context.Context, instruments []string) ForecastReport {
	start := time.Now()
	report := ForecastReport{CycleID: uuid.NewString()}

	cycleCtx, cancel := context.WithTimeout(ctx, e.opts.CycleTimeout)
	defer cancel()

	report.Market = e.fetchMarket(cycleCtx)
	report.Instruments = e.forecastInstruments(cycleCtx, report.CycleID, report.Market, instruments)
	report.Duration = time.Since(start)
	return report
}

// forecastInstruments fans out per instrument; reports keep instrument order
func (e *Engine) forecastInstruments(ctx context.Context, cycleID string, market MarketContext, instruments []string) []InstrumentReport {
	reports := make([]InstrumentReport, len(instruments))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, inst := range instruments {
		g.Go(func() error {
			reports[i] = e.forecastInstrument(gctx, cycleID, market, inst)
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

// fetchMarket reads the volatility index level and broad index day change
func (e *Engine) fetchMarket(ctx context.Context) MarketContext {
	mc := MarketContext{VolatilityLevel: factors.None(), MarketChangePct: factors.None()}
	m := e.strategy.Market

	var g errgroup.Group
	g.Go(func() error {
		obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: m.VolatilityIndex, Kind: contracts.KindIndexLevel, Lookback: m.IndexLookback})
		if err == nil {
			mc.VolatilityLevel = factors.Latest(contracts.Closes(obs))
		}
		return nil
	})
	g.Go(func() error {
		obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: m.BroadIndex, Kind: contracts.KindIndexLevel, Lookback: m.IndexLookback})
		if err == nil {
			mc.MarketChangePct = factors.DayChangePct(contracts.Closes(obs))
		}
		return nil
	})
	_ = g.Wait()

	e.log.Debug().
		Bool("volatility_ok", mc.VolatilityLevel.OK).
		Float64("volatility", mc.VolatilityLevel.Value).
		Bool("market_ok", mc.MarketChangePct.OK).
		Float64("market_change_pct", mc.MarketChangePct.Value).
		Msg("market context")

	return mc
}

// instrumentInputs 종목별 조회 결과 (조회 실패 항목은 err 보관)
type instrumentInputs struct {
	closes       []float64
	priceErr     error
	headlines    []string
	headlinesErr error
	sector       factors.Signal
	fundamentals []contracts.Observation
}

// gather issues the instrument's fetches concurrently, each under its own deadline
func (e *Engine) gather(ctx context.Context, inst string, class contracts.InstrumentClass) instrumentInputs {
	in := instrumentInputs{sector: factors.None()}
	m := e.strategy.Market

	var g errgroup.Group
	g.Go(func() error {
		obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: inst, Kind: contracts.KindPriceHistory, Lookback: e.strategy.Forecast.HistoryDays})
		in.closes, in.priceErr = contracts.Closes(obs), err
		return nil
	})
	g.Go(func() error {
		obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: inst, Kind: contracts.KindHeadlines, Lookback: m.NewsLookback})
		in.headlines, in.headlinesErr = contracts.Texts(obs), err
		return nil
	})
	if etf := e.strategy.SectorETF(inst); etf != "" && etf != inst {
		g.Go(func() error {
			obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: etf, Kind: contracts.KindPriceHistory, Lookback: m.SectorLookback})
			if err == nil {
				in.sector = factors.Momentum(contracts.Closes(obs))
			}
			return nil
		})
	}
	if class == contracts.ClassEquity {
		g.Go(func() error {
			obs, err := e.fetch(ctx, contracts.FetchRequest{Instrument: inst, Kind: contracts.KindFundamentals})
			if err == nil {
				in.fundamentals = obs
			}
			return nil
		})
	}
	_ = g.Wait()

	return in
}

// forecastInstrument runs fetch → factors → forecast → publish → alert → store
// for one instrument. Stages run strictly in that order.
func (e *Engine) forecastInstrument(ctx context.Context, cycleID string, market MarketContext, inst string) InstrumentReport {
	report := InstrumentReport{Instrument: inst, Abstained: make(map[string]string)}
	class := e.strategy.ClassOf(inst)
	log := e.log.With().Str("instrument", inst).Str("cycle_id", cycleID).Logger()

	in := e.gather(ctx, inst, class)

	if in.priceErr != nil {
		report.Err = in.priceErr
		return report
	}
	if len(in.closes) < e.strategy.Forecast.MinHistory {
		report.Err = fmt.Errorf("%w: %s has %d closes, need %d",
			contracts.ErrInsufficientHistory, inst, len(in.closes), e.strategy.Forecast.MinHistory)
		log.Warn().Err(report.Err).Msg("skipping instrument this cycle")
		return report
	}

	if len(in.fundamentals) > 0 {
		ev := log.Debug()
		for _, o := range in.fundamentals {
			if o.Text != "" {
				ev = ev.Str(o.Field, o.Text)
			} else {
				ev = ev.Float64(o.Field, o.Value)
			}
		}
		ev.Msg("fundamentals")
	}

	sentimentOK := in.headlinesErr == nil
	if sentimentOK {
		report.Sentiment = e.scorer.Score(in.headlines)
	} else {
		report.Sentiment = sentiment.Result{InsufficientData: true}
	}

	report.Adjustment = e.aggregator.Aggregate(factors.Inputs{
		Class:             class,
		VolatilityLevel:   market.VolatilityLevel,
		SectorMomentumPct: in.sector,
		MarketChangePct:   market.MarketChangePct,
		Sentiment:         report.Sentiment,
		SentimentOK:       sentimentOK,
	})

	results := e.forecaster.ForecastAll(inst, in.closes, e.strategy.Models, e.strategy.Horizons)
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		reason := "fit_error"
		var ff *forecast.FitFailure
		if errors.As(r.Err, &ff) {
			reason = ff.Reason
		}
		report.Abstained[r.Spec.OrderID] = reason
		e.metrics.ModelAbstained(r.Spec.OrderID, reason)
	}

	instrument := contracts.Instrument{ID: inst, Class: class, LastClose: in.closes[len(in.closes)-1]}
	e.publish(ctx, log, cycleID, instrument, results, &report)

	log.Info().
		Float64("current", instrument.LastClose).
		Float64("adjustment_pct", report.Adjustment.TotalPct).
		Float64("sentiment", report.Sentiment.Score).
		Int("published", len(report.Published)).
		Int("alerts", len(report.Alerts)).
		Ints("degraded_horizons", report.Degraded).
		Msg("instrument forecast")

	return report
}

// publish combines, alerts and stores one forecast per horizon for instrument
func (e *Engine) publish(ctx context.Context, log zerolog.Logger, cycleID string, instrument contracts.Instrument, results []forecast.Result, report *InstrumentReport) {
	for _, h := range e.strategy.Horizons {
		key := contracts.SeriesKey{Instrument: instrument.ID, HorizonDays: h}

		f, err := e.selector.Publish(ensemble.PublishInput{
			Instrument:    instrument.ID,
			HorizonDays:   h,
			Results:       results,
			AdjustmentPct: report.Adjustment.TotalPct,
			CurrentPrice:  instrument.LastClose,
			CycleID:       cycleID,
		})
		if err != nil {
			report.Degraded = append(report.Degraded, h)
			e.metrics.HorizonDegraded(key)
			continue
		}

		var prev *contracts.Forecast
		if p, ok := e.store.PreviousForecast(key); ok {
			prev = &p
		}
		event, fired := alert.Evaluate(prev, f, e.opts.AlertThresholdPct)

		e.store.AppendForecast(f)
		report.Published = append(report.Published, f)
		e.metrics.ForecastPublished(f)
		e.mirrorForecast(ctx, log, f)

		if fired {
			e.store.AppendAlert(event)
			report.Alerts = append(report.Alerts, event)
			e.metrics.AlertFired(event)
			e.deliver(ctx, log, event)
		}
	}
}

// afterStore detaches ctx from the cycle deadline: once a forecast or alert
// is in the store its side effects run under their own short deadline.
func (e *Engine) afterStore(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), e.opts.PersistTimeout)
}

func (e *Engine) mirrorForecast(ctx context.Context, log zerolog.Logger, f contracts.Forecast) {
	if e.mirror == nil {
		return
	}
	ctx, cancel := e.afterStore(ctx)
	defer cancel()

	if err := e.mirror.Mirror(ctx, f); err != nil {
		log.Warn().Int("horizon", f.HorizonDays).Err(err).Msg("forecast mirror failed")
	}
}

func (e *Engine) deliver(ctx context.Context, log zerolog.Logger, event contracts.AlertEvent) {
	if e.sink == nil {
		return
	}
	ctx, cancel := e.afterStore(ctx)
	defer cancel()

	if err := e.sink.Deliver(ctx, event); err != nil {
		log.Error().Str("alert_id", event.ID).Err(err).Msg("alert delivery failed")
	}
}
