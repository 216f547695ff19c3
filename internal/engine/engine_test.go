package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/factors"
	"github.com/wonny/autocast/internal/state"
	"github.com/wonny/autocast/internal/strategyconfig"
	"github.com/wonny/autocast/pkg/config"
	"github.com/wonny/autocast/pkg/httputil"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

// stubSource 종목별 고정 시계열을 돌려주는 DataSource
type stubSource struct {
	mu        sync.Mutex
	series    map[string][]float64
	headlines []string
	fail      map[contracts.ObservationKind]bool
	block     map[contracts.ObservationKind]bool
	calls     map[contracts.ObservationKind]int
}

func newStub() *stubSource {
	return &stubSource{
		series: make(map[string][]float64),
		fail:   make(map[contracts.ObservationKind]bool),
		block:  make(map[contracts.ObservationKind]bool),
		calls:  make(map[contracts.ObservationKind]int),
	}
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) set(inst string, closes []float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.series[inst] = closes
}

func (s *stubSource) Fetch(ctx context.Context, req contracts.FetchRequest) ([]contracts.Observation, error) {
	s.mu.Lock()
	s.calls[req.Kind]++
	block, fail := s.block[req.Kind], s.fail[req.Kind]
	closes, ok := s.series[req.Instrument]
	headlines := s.headlines
	s.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %v", contracts.ErrTransientFetch, ctx.Err())
	}
	if fail {
		return nil, fmt.Errorf("%w: stub failure", contracts.ErrTransientFetch)
	}

	switch req.Kind {
	case contracts.KindHeadlines:
		var out []contracts.Observation
		for _, h := range headlines {
			out = append(out, contracts.Observation{SourceID: "stub", Kind: req.Kind, Instrument: req.Instrument, Text: h})
		}
		return out, nil
	case contracts.KindFundamentals:
		return []contracts.Observation{{SourceID: "stub", Kind: req.Kind, Instrument: req.Instrument, Field: "pe_ratio", Value: 25}}, nil
	}

	if !ok {
		return nil, fmt.Errorf("%w: unknown instrument %s", contracts.ErrTransientFetch, req.Instrument)
	}
	out := make([]contracts.Observation, len(closes))
	for i, c := range closes {
		out[i] = contracts.Observation{
			SourceID:   "stub",
			Kind:       req.Kind,
			Instrument: req.Instrument,
			Field:      "close",
			Value:      c,
			AsOf:       t0.AddDate(0, 0, i),
		}
	}
	return out, nil
}

// prices AR(1) 수익률 과정으로 만든 결정적 가격 시계열
func prices(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	out[0] = 100
	prev := 0.0
	for i := 1; i < n; i++ {
		r := 0.4*prev + rng.NormFloat64()
		out[i] = out[i-1] + r
		prev = r
	}
	return out
}

func scaled(xs []float64, k float64) []float64 {
	out := make([]float64, len(xs))
	for i, v := range xs {
		out[i] = v * k
	}
	return out
}

func constant(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func testStrategy() *strategyconfig.Config {
	cfg := strategyconfig.Default()
	cfg.Models = []contracts.ModelSpec{
		{OrderID: "arima_110", P: 1, D: 1, Q: 0},
		{OrderID: "arima_210", P: 2, D: 1, Q: 0},
	}
	cfg.Horizons = []int{1, 5}
	cfg.Backtest.Window = 10
	return cfg
}

type recordingPersister struct {
	mu     sync.Mutex
	states []contracts.EngineState
	err    error
}

func (r *recordingPersister) Save(_ context.Context, st contracts.EngineState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, st)
	return r.err
}

type recordingSink struct {
	mu     sync.Mutex
	events []contracts.AlertEvent
}

func (r *recordingSink) Deliver(_ context.Context, e contracts.AlertEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

type harness struct {
	engine    *Engine
	source    *stubSource
	store     *state.Store
	persister *recordingPersister
	sink      *recordingSink
}

func newHarness(t *testing.T, instruments ...string) *harness {
	t.Helper()

	src := newStub()
	cfg := testStrategy()
	src.set(cfg.Market.VolatilityIndex, []float64{18, 19, 20})
	src.set(cfg.Market.BroadIndex, []float64{5000, 5010, 5020})
	for _, etf := range cfg.SectorMap {
		src.set(etf, prices(30, 99))
	}
	src.set(cfg.DefaultSector, prices(30, 98))

	store := state.NewStore(config.CapacityConfig{Predictions: 100, Alerts: 10, Performance: 100, Citations: 10})
	h := &harness{
		source:    src,
		store:     store,
		persister: &recordingPersister{},
		sink:      &recordingSink{},
	}
	h.engine = New(Deps{
		Strategy:  cfg,
		Source:    src,
		Store:     store,
		Sink:      h.sink,
		Persister: h.persister,
	}, Options{
		Instruments:       instruments,
		CycleTimeout:      5 * time.Second,
		FetchTimeout:      time.Second,
		Concurrency:       2,
		AlertThresholdPct: 1,
	}, zerolog.Nop())
	return h
}

func TestForecastCycle_PublishesAndPersists(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	h.source.set("AAPL.US", prices(200, 1))
	h.source.headlines = []string{"Apple shares surge on record growth"}

	report := h.engine.RunForecastCycle(context.Background())

	require.Len(t, report.Instruments, 1)
	ir := report.Instruments[0]
	require.NoError(t, ir.Err)
	require.Len(t, ir.Published, 2)
	assert.Empty(t, ir.Alerts, "first cycle never alerts")
	assert.Empty(t, ir.Degraded)

	for _, f := range ir.Published {
		assert.True(t, f.Valid())
		assert.Equal(t, report.CycleID, f.CycleID)
		sum := 0.0
		for _, w := range f.ContributingModelWeights {
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	sent, ok := ir.Adjustment.Component(factors.FactorSentiment)
	require.True(t, ok)
	assert.True(t, sent.Included)
	assert.Greater(t, ir.Sentiment.Score, 0.0)

	assert.Equal(t, int64(1), report.Cycle)
	require.Len(t, h.persister.states, 1)
	assert.Equal(t, int64(1), h.persister.states[0].CycleCount)
	assert.Len(t, h.persister.states[0].LatestPredictions, 2)
	assert.NoError(t, report.PersistErr)
}

func TestForecastCycle_AlertOnSecondCycle(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	base := prices(200, 2)
	h.source.set("AAPL.US", base)

	first := h.engine.RunForecastCycle(context.Background())
	require.Len(t, first.Instruments[0].Published, 2)

	h.source.set("AAPL.US", scaled(base, 1.05))
	second := h.engine.RunForecastCycle(context.Background())

	alerts := second.Instruments[0].Alerts
	require.Len(t, alerts, 2)
	for _, a := range alerts {
		assert.InDelta(t, 5.0, a.PctChange, 0.01)
		assert.Equal(t, "UP", a.Direction())
	}
	assert.Len(t, h.sink.events, 2)
	assert.Len(t, h.store.Snapshot().Alerts, 2)
}

func TestForecastCycle_AllModelsFail(t *testing.T) {
	h := newHarness(t, "FLAT.US", "AAPL.US")
	h.source.set("FLAT.US", constant(200, 100))
	h.source.set("AAPL.US", prices(200, 3))

	report := h.engine.RunForecastCycle(context.Background())
	require.Len(t, report.Instruments, 2)

	flat := report.Instruments[0]
	assert.Equal(t, "FLAT.US", flat.Instrument)
	assert.Empty(t, flat.Published)
	assert.Empty(t, flat.Alerts)
	assert.Equal(t, []int{1, 5}, flat.Degraded)
	assert.Len(t, flat.Abstained, 2)

	assert.Len(t, report.Instruments[1].Published, 2)

	for _, f := range h.store.Snapshot().LatestPredictions {
		assert.NotEqual(t, "FLAT.US", f.Instrument)
	}
	for _, a := range h.store.Snapshot().Alerts {
		assert.NotEqual(t, "FLAT.US", a.Instrument)
	}

	entry, ok := h.store.Weights().Get(contracts.SeriesKey{Instrument: "FLAT.US", HorizonDays: 1})
	require.True(t, ok)
	assert.Equal(t, contracts.StateDegraded, entry.State)
}

func TestForecastCycle_SentimentTimeout(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	h.engine.opts.FetchTimeout = 50 * time.Millisecond
	h.source.set("AAPL.US", prices(200, 4))
	h.source.headlines = []string{"record surge"}
	h.source.block[contracts.KindHeadlines] = true

	report := h.engine.RunForecastCycle(context.Background())
	ir := report.Instruments[0]

	require.Len(t, ir.Published, 2)
	assert.True(t, ir.Sentiment.InsufficientData)
	assert.Zero(t, ir.Sentiment.Score)

	sent, ok := ir.Adjustment.Component(factors.FactorSentiment)
	require.True(t, ok)
	assert.False(t, sent.Included)
	assert.Zero(t, sent.ContributionPct)

	vol, ok := ir.Adjustment.Component(factors.FactorVolatility)
	require.True(t, ok)
	assert.True(t, vol.Included)
}

func TestForecastCycle_InsufficientHistory(t *testing.T) {
	h := newHarness(t, "NEW.US")
	h.source.set("NEW.US", prices(20, 5))

	report := h.engine.RunForecastCycle(context.Background())
	ir := report.Instruments[0]
	assert.ErrorIs(t, ir.Err, contracts.ErrInsufficientHistory)
	assert.Empty(t, ir.Published)
	assert.Equal(t, int64(1), report.Cycle)
}

func TestForecastCycle_PriceFetchFailure(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	h.source.fail[contracts.KindPriceHistory] = true

	report := h.engine.RunForecastCycle(context.Background())
	ir := report.Instruments[0]
	assert.ErrorIs(t, ir.Err, contracts.ErrTransientFetch)
	assert.Empty(t, ir.Published)
}

func TestForecastCycle_PersistFailureKeepsState(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	h.source.set("AAPL.US", prices(200, 6))
	h.persister.err = fmt.Errorf("%w: disk full", contracts.ErrPersistence)

	report := h.engine.RunForecastCycle(context.Background())
	assert.ErrorIs(t, report.PersistErr, contracts.ErrPersistence)
	assert.Len(t, h.store.Snapshot().LatestPredictions, 2)

	h.persister.err = nil
	report = h.engine.RunForecastCycle(context.Background())
	assert.NoError(t, report.PersistErr)
	assert.Equal(t, int64(2), h.persister.states[1].CycleCount)
}

func TestBacktestCycle_UpdatesWeightsAndTrend(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	h.source.set("AAPL.US", prices(200, 7))

	report := h.engine.RunBacktestCycle(context.Background())
	require.Len(t, report.Instruments, 1)
	ir := report.Instruments[0]
	require.NoError(t, ir.Err)
	assert.Len(t, ir.Samples, 4)
	assert.Len(t, ir.Weights, 2)

	for _, hz := range []int{1, 5} {
		entry, ok := h.store.Weights().Get(contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: hz})
		require.True(t, ok)
		assert.Equal(t, contracts.StateWeighted, entry.State)
		sum := 0.0
		for _, w := range entry.Weights {
			assert.False(t, math.IsNaN(w))
			sum += w
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	}

	require.NotNil(t, ir.Trend)
	assert.Equal(t, contracts.TrendInsufficientData, ir.Trend.Trend)

	again := h.engine.RunBacktestCycle(context.Background())
	require.NotNil(t, again.Instruments[0].Trend)
	assert.Equal(t, contracts.TrendStable, again.Instruments[0].Trend.Trend)
	assert.Equal(t, ir.Samples[0].RMSE, again.Instruments[0].Samples[0].RMSE)

	c := h.store.Counters()
	assert.Equal(t, int64(2), c.BacktestCycles)
	assert.Equal(t, int64(8), c.Backtests)
	assert.Empty(t, h.persister.states, "backtest cycle does not persist")
}

func TestCycles_Concurrent(t *testing.T) {
	h := newHarness(t, "AAPL.US", "MSFT.US")
	h.source.set("AAPL.US", prices(200, 8))
	h.source.set("MSFT.US", prices(200, 9))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.engine.RunForecastCycle(context.Background())
		}()
		go func() {
			defer wg.Done()
			h.engine.RunBacktestCycle(context.Background())
		}()
	}
	wg.Wait()

	for _, w := range h.store.Snapshot().ModelWeights {
		assert.False(t, math.IsNaN(w.Weight))
		assert.GreaterOrEqual(t, w.Weight, 0.0)
	}
	c := h.store.Counters()
	assert.Equal(t, int64(3), c.ForecastCycles)
	assert.Equal(t, int64(3), c.BacktestCycles)
}

type recordingMirror struct {
	mu      sync.Mutex
	keys    []contracts.SeriesKey
	ctxErrs []error
}

func (r *recordingMirror) Mirror(ctx context.Context, f contracts.Forecast) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, f.Key())
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return nil
}

// ctxSink 전달 시점의 ctx 상태를 기록
type ctxSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *ctxSink) Deliver(ctx context.Context, _ contracts.AlertEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, ctx.Err())
	return ctx.Err()
}

func TestForecastCycle_MirrorsPublished(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	h.source.set("AAPL.US", prices(200, 10))
	m := &recordingMirror{}
	h.engine.mirror = m

	report := h.engine.RunForecastCycle(context.Background())
	require.Len(t, report.Instruments[0].Published, 2)

	assert.ElementsMatch(t, []contracts.SeriesKey{
		{Instrument: "AAPL.US", HorizonDays: 1},
		{Instrument: "AAPL.US", HorizonDays: 5},
	}, m.keys)
}

func TestSideEffects_SurviveCycleDeadline(t *testing.T) {
	h := newHarness(t, "AAPL.US")
	sink := &ctxSink{}
	m := &recordingMirror{}
	h.engine.sink = sink
	h.engine.mirror = m

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	h.engine.deliver(ctx, zerolog.Nop(), contracts.AlertEvent{ID: "a1"})
	h.engine.mirrorForecast(ctx, zerolog.Nop(), contracts.Forecast{Instrument: "AAPL.US", HorizonDays: 1})

	require.Len(t, sink.errs, 1)
	assert.NoError(t, sink.errs[0])
	require.Len(t, m.ctxErrs, 1)
	assert.NoError(t, m.ctxErrs[0])
}

// errSource 항상 같은 오류를 돌려주는 DataSource
type errSource struct{ err error }

func (s errSource) Name() string { return "err" }

func (s errSource) Fetch(context.Context, contracts.FetchRequest) ([]contracts.Observation, error) {
	return nil, s.err
}

func TestFetch_LogLevelFollowsRetryability(t *testing.T) {
	tests := []struct {
		name   string
		status int
		level  string
	}{
		{"server error", 503, `"level":"warn"`},
		{"rate limited", 429, `"level":"warn"`},
		{"not found", 404, `"level":"error"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, "AAPL.US")
			var buf bytes.Buffer
			h.engine.log = zerolog.New(&buf)
			h.engine.source = errSource{err: fmt.Errorf("%w: %w", contracts.ErrTransientFetch, &httputil.StatusError{StatusCode: tt.status})}

			_, err := h.engine.fetch(context.Background(), contracts.FetchRequest{Instrument: "AAPL.US", Kind: contracts.KindPriceHistory})
			require.Error(t, err)
			assert.Contains(t, buf.String(), tt.level)
		})
	}
}
