package state

import (
	"sync"
	"time"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/config"
)

// maxErrorHistory 종목별 집계 오차 보관 개수
const maxErrorHistory = 50

// Store 엔진 상태 (bounded ring buffers + weight table)
// ⭐ SSOT: EngineState의 유일한 소유자, 외부에는 복사본만 노출
type Store struct {
	mu sync.RWMutex

	predictions *Ring[contracts.Forecast]
	alerts      *Ring[contracts.AlertEvent]
	performance *Ring[contracts.PerformanceSample]
	citations   *Ring[contracts.Citation]

	weights *WeightTable

	latest       map[contracts.SeriesKey]contracts.Forecast
	trends       map[string]contracts.PerformanceTrend
	errorHistory map[string][]float64

	cycleCount int64
	counters   contracts.EngineCounters
	startedAt  time.Time

	now func() time.Time
}

// NewStore creates an empty store with the configured capacities
func NewStore(capacity config.CapacityConfig) *Store {
	return &Store{
		predictions:  NewRing[contracts.Forecast](capacity.Predictions),
		alerts:       NewRing[contracts.AlertEvent](capacity.Alerts),
		performance:  NewRing[contracts.PerformanceSample](capacity.Performance),
		citations:    NewRing[contracts.Citation](capacity.Citations),
		weights:      NewWeightTable(),
		latest:       make(map[contracts.SeriesKey]contracts.Forecast),
		trends:       make(map[string]contracts.PerformanceTrend),
		errorHistory: make(map[string][]float64),
		startedAt:    time.Now(),
		now:          time.Now,
	}
}

// Weights returns the shared weight table
func (s *Store) Weights() *WeightTable {
	return s.weights
}

// PreviousForecast returns the last published forecast for key
func (s *Store) PreviousForecast(key contracts.SeriesKey) (contracts.Forecast, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.latest[key]
	if !ok {
		return contracts.Forecast{}, false
	}
	return f.Clone(), true
}

// AppendForecast records a published forecast
func (s *Store) AppendForecast(f contracts.Forecast) {
	f = f.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions.Push(f)
	s.latest[f.Key()] = f
	s.counters.Predictions++
}

// AppendAlert records a fired alert
func (s *Store) AppendAlert(a contracts.AlertEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alerts.Push(a)
	s.counters.Alerts++
}

// AppendPerformance records backtest samples in order
func (s *Store) AppendPerformance(samples ...contracts.PerformanceSample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sample := range samples {
		s.performance.Push(sample)
	}
	s.counters.Backtests += int64(len(samples))
}

// RecordCitations implements contracts.CitationRecorder
func (s *Store) RecordCitations(citations ...contracts.Citation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range citations {
		s.citations.Push(c)
	}
	s.counters.Citations += int64(len(citations))
}

// ErrorHistory returns prior aggregate errors for instrument (oldest first)
func (s *Store) ErrorHistory(instrument string) []float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]float64(nil), s.errorHistory[instrument]...)
}

// RecordTrend stores a trend classification and appends its aggregate error
func (s *Store) RecordTrend(trend contracts.PerformanceTrend) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.trends[trend.Instrument] = trend

	h := append(s.errorHistory[trend.Instrument], trend.LatestError)
	if len(h) > maxErrorHistory {
		h = append([]float64(nil), h[len(h)-maxErrorHistory:]...)
	}
	s.errorHistory[trend.Instrument] = h
}

// Trend returns the latest trend classification for instrument
func (s *Store) Trend(instrument string) (contracts.PerformanceTrend, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.trends[instrument]
	return t, ok
}

// CompleteForecastCycle increments the cycle counter and returns the new value
func (s *Store) CompleteForecastCycle() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cycleCount++
	s.counters.ForecastCycles++
	return s.cycleCount
}

// CompleteBacktestCycle increments the backtest cycle counter
func (s *Store) CompleteBacktestCycle() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.BacktestCycles++
}

// Counters returns the cumulative counters
func (s *Store) Counters() contracts.EngineCounters {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.counters
}

// Uptime since the store was created
func (s *Store) Uptime() time.Duration {
	return s.now().Sub(s.startedAt)
}

// Snapshot returns a consistent deep copy of the engine state
func (s *Store) Snapshot() contracts.EngineState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	st := contracts.EngineState{
		Timestamp:          now,
		StartedAt:          s.startedAt,
		CycleCount:         s.cycleCount,
		LatestPredictions:  s.predictions.Newest(),
		ModelWeights:       s.weights.Snapshot(),
		WeightStates:       s.weights.States(),
		PerformanceHistory: s.performance.Newest(),
		Alerts:             s.alerts.Newest(),
		Citations:          s.citations.Newest(),
		PerformanceTrends:  make(map[string]contracts.PerformanceTrend, len(s.trends)),
		ErrorHistory:       make(map[string][]float64, len(s.errorHistory)),
		Counters:           s.counters,
		UptimeSeconds:      now.Sub(s.startedAt).Seconds(),
	}
	for i := range st.LatestPredictions {
		st.LatestPredictions[i] = st.LatestPredictions[i].Clone()
	}
	for k, v := range s.trends {
		st.PerformanceTrends[k] = v
	}
	for k, v := range s.errorHistory {
		st.ErrorHistory[k] = append([]float64(nil), v...)
	}
	st.BestModels = s.bestModelsLocked(st.ModelWeights)

	return st
}

// bestModelsLocked picks the highest-weight order per (instrument, horizon)
func (s *Store) bestModelsLocked(rows []contracts.ModelWeight) []contracts.BestModel {
	best := make(map[contracts.SeriesKey]contracts.ModelWeight)
	var keys []contracts.SeriesKey
	for _, r := range rows {
		key := contracts.SeriesKey{Instrument: r.Instrument, HorizonDays: r.HorizonDays}
		cur, ok := best[key]
		if !ok {
			keys = append(keys, key)
		}
		// rows는 order_id 순 정렬: 동점이면 앞선 order 유지
		if !ok || r.Weight > cur.Weight {
			best[key] = r
		}
	}

	out := make([]contracts.BestModel, 0, len(keys))
	for _, key := range keys {
		w := best[key]
		bm := contracts.BestModel{
			Instrument:  w.Instrument,
			HorizonDays: w.HorizonDays,
			OrderID:     w.OrderID,
			Weight:      w.Weight,
		}
		s.performance.Each(func(p contracts.PerformanceSample) bool {
			if p.Instrument == w.Instrument && p.HorizonDays == w.HorizonDays && p.OrderID == w.OrderID {
				bm.RMSE = p.RMSE
				return false
			}
			return true
		})
		out = append(out, bm)
	}
	return out
}

// Load replaces the store contents with a persisted state (warm start).
// Capacities stay as configured; older items beyond capacity are dropped.
// StartedAt is not restored: uptime always describes the running process.
func (s *Store) Load(st contracts.EngineState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.predictions.Reset(st.LatestPredictions)
	s.alerts.Reset(st.Alerts)
	s.performance.Reset(st.PerformanceHistory)
	s.citations.Reset(st.Citations)
	s.weights.Restore(st.ModelWeights, st.WeightStates, st.Timestamp)

	// 최신순이므로 키별 첫 항목이 직전 예측
	s.latest = make(map[contracts.SeriesKey]contracts.Forecast)
	for _, f := range st.LatestPredictions {
		if _, ok := s.latest[f.Key()]; !ok {
			s.latest[f.Key()] = f.Clone()
		}
	}

	s.trends = make(map[string]contracts.PerformanceTrend, len(st.PerformanceTrends))
	for k, v := range st.PerformanceTrends {
		s.trends[k] = v
	}
	s.errorHistory = make(map[string][]float64, len(st.ErrorHistory))
	for k, v := range st.ErrorHistory {
		s.errorHistory[k] = append([]float64(nil), v...)
	}

	s.cycleCount = st.CycleCount
	s.counters = st.Counters
}
