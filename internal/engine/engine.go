// Package engine composes one forecast-publish cycle and one backtest cycle
// over the configured instrument set.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/backtest"
	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/ensemble"
	"github.com/wonny/autocast/internal/factors"
	"github.com/wonny/autocast/internal/forecast"
	"github.com/wonny/autocast/internal/sentiment"
	"github.com/wonny/autocast/internal/state"
	"github.com/wonny/autocast/internal/strategyconfig"
	"github.com/wonny/autocast/pkg/httputil"
)

const (
	CycleForecast = "forecast"
	CycleBacktest = "backtest"
)

// Options 사이클 실행 파라미터
type Options struct {
	Instruments       []string
	CycleTimeout      time.Duration // 사이클 전체 fetch 마감
	FetchTimeout      time.Duration // 개별 fetch 마감
	Concurrency       int           // 종목 동시 처리 수
	AlertThresholdPct float64
	PersistTimeout    time.Duration
}

// Deps 엔진 구성 요소
type Deps struct {
	Strategy  *strategyconfig.Config
	Source    contracts.DataSource
	Store     *state.Store
	Sink      contracts.AlertSink
	Persister contracts.Persister // nil = 영속화 안 함
	Metrics   Metrics             // nil = 계측 안 함
	Mirror    ForecastMirror      // nil = 복제 안 함
}

// ForecastMirror 발행된 예측의 외부 복제 대상 (redis)
type ForecastMirror interface {
	Mirror(ctx context.Context, f contracts.Forecast) error
}

// Engine 예측-발행 / 백테스트 사이클 실행기
// ⭐ SSOT: 공유 상태는 Store와 WeightTable 뿐
type Engine struct {
	opts     Options
	strategy *strategyconfig.Config

	source     contracts.DataSource
	scorer     *sentiment.Scorer
	aggregator *factors.Aggregator
	forecaster *forecast.Forecaster
	selector   *ensemble.Selector
	backtester *backtest.Backtester
	trends     *backtest.TrendClassifier
	store      *state.Store
	sink       contracts.AlertSink
	persister  contracts.Persister
	metrics    Metrics
	mirror     ForecastMirror

	log zerolog.Logger
}

// New wires the engine components
func New(deps Deps, opts Options, log zerolog.Logger) *Engine {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.CycleTimeout <= 0 {
		opts.CycleTimeout = 90 * time.Second
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 10 * time.Second
	}

	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}

	fc := forecast.NewForecaster(deps.Strategy.Forecast, log)

	return &Engine{
		opts:       opts,
		strategy:   deps.Strategy,
		source:     deps.Source,
		scorer:     sentiment.NewScorer(),
		aggregator: factors.NewAggregator(deps.Strategy.Factors, log),
		forecaster: fc,
		selector:   ensemble.NewSelector(deps.Store.Weights(), deps.Strategy.Models, log),
		backtester: backtest.NewBacktester(fc, deps.Strategy.Backtest, log),
		trends:     backtest.NewTrendClassifier(deps.Strategy.Trend),
		store:      deps.Store,
		sink:       deps.Sink,
		persister:  deps.Persister,
		metrics:    m,
		mirror:     deps.Mirror,
		log:        log.With().Str("component", "engine").Logger(),
	}
}

// Store returns the engine state store
func (e *Engine) Store() *state.Store {
	return e.store
}

// Instruments returns the configured instrument set
func (e *Engine) Instruments() []string {
	return append([]string(nil), e.opts.Instruments...)
}

// fetch applies the per-call deadline and records failures.
// Failures are returned, never fatal: callers degrade the dependent term.
func (e *Engine) fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	if e.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.FetchTimeout)
		defer cancel()
	}

	obs, err := e.source.Fetch(ctx, req)
	if err != nil {
		e.metrics.FetchFailed(req.Kind)
		// 4xx 등 재시도 불가 응답은 Error 레벨
		transient := errors.Is(err, contracts.ErrTransientFetch) && httputil.IsTransient(err)
		ev := e.log.Warn()
		if !transient {
			ev = e.log.Error()
		}
		ev.Str("instrument", req.Instrument).
			Bool("transient", transient).
			Str("kind", string(req.Kind)).
			Err(err).
			Msg("fetch failed, degrading")
		return nil, err
	}
	return obs, nil
}

// Persist writes a snapshot. A failure is logged and counted; the in-memory
// store stays authoritative and the next cycle retries.
func (e *Engine) Persist(ctx context.Context) error {
	if e.persister == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.PersistTimeout)
	defer cancel()

	snap := e.store.Snapshot()
	if err := e.persister.Save(ctx, snap); err != nil {
		e.metrics.PersistFailed()
		e.log.Error().
			Int64("cycle", snap.CycleCount).
			Err(err).
			Msg("snapshot persistence failed, will retry next cycle")
		return err
	}

	e.log.Debug().
		Int64("cycle", snap.CycleCount).
		Int("predictions", len(snap.LatestPredictions)).
		Msg("snapshot persisted")
	return nil
}

// LogFinalStats logs cumulative counters (called on shutdown)
func (e *Engine) LogFinalStats() {
	c := e.store.Counters()
	e.log.Info().
		Dur("runtime", e.store.Uptime()).
		Int64("forecast_cycles", c.ForecastCycles).
		Int64("backtest_cycles", c.BacktestCycles).
		Int64("predictions", c.Predictions).
		Int64("backtests", c.Backtests).
		Int64("alerts", c.Alerts).
		Int64("citations", c.Citations).
		Msg("final statistics")
}
