package state

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/pkg/config"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func testCapacity() config.CapacityConfig {
	return config.CapacityConfig{Predictions: 4, Alerts: 2, Performance: 6, Citations: 3}
}

func forecastAt(inst string, h int, point float64, at time.Time) contracts.Forecast {
	return contracts.Forecast{
		Instrument:               inst,
		HorizonDays:              h,
		PointEstimate:            point,
		LowerBound:               point - 1,
		UpperBound:               point + 1,
		BaseEstimate:             point,
		CurrentPrice:             point,
		ContributingModelWeights: map[string]float64{"arima_111": 1},
		PublishedAt:              at,
	}
}

func TestRing(t *testing.T) {
	r := NewRing[int](3)
	assert.Empty(t, r.Newest())

	for i := 1; i <= 5; i++ {
		r.Push(i)
	}
	assert.Equal(t, []int{5, 4, 3}, r.Newest())

	var seen []int
	r.Each(func(v int) bool {
		seen = append(seen, v)
		return v != 4
	})
	assert.Equal(t, []int{5, 4}, seen)
}

func TestRing_ResetTruncatesOldest(t *testing.T) {
	r := NewRing[string](2)
	r.Reset([]string{"c", "b", "a"})
	assert.Equal(t, []string{"c", "b"}, r.Newest())

	r.Push("d")
	assert.Equal(t, []string{"d", "c"}, r.Newest())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[int](0)
	r.Push(1)
	r.Push(2)
	assert.Equal(t, []int{2}, r.Newest())
}

func TestWeightTable_CopyOnRead(t *testing.T) {
	table := NewWeightTable()
	key := contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 5}

	_, ok := table.Get(key)
	assert.False(t, ok)

	table.Update(key, func(cur WeightEntry, exists bool) WeightEntry {
		assert.False(t, exists)
		assert.Equal(t, contracts.StateUninitialized, cur.State)
		return WeightEntry{State: contracts.StateWeighted, Weights: map[string]float64{"a": 0.25, "b": 0.75}}
	})

	got, ok := table.Get(key)
	require.True(t, ok)
	got.Weights["a"] = 99

	again, _ := table.Get(key)
	assert.Equal(t, 0.25, again.Weights["a"])
}

func TestWeightTable_NoTornReads(t *testing.T) {
	table := NewWeightTable()
	key := contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 1}

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			x := float64(i%100) / 100
			table.Update(key, func(cur WeightEntry, _ bool) WeightEntry {
				cur.State = contracts.StateWeighted
				cur.Weights = map[string]float64{"a": x, "b": 1 - x}
				return cur
			})
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				e, ok := table.Get(key)
				if !ok {
					continue
				}
				sum := 0.0
				for _, w := range e.Weights {
					sum += w
				}
				assert.InDelta(t, 1.0, sum, 1e-12)
			}
		}()
	}

	wg.Wait()
}

func TestWeightTable_SnapshotRestore(t *testing.T) {
	table := NewWeightTable()
	for _, h := range []int{5, 1} {
		key := contracts.SeriesKey{Instrument: "MSFT.US", HorizonDays: h}
		table.Update(key, func(cur WeightEntry, _ bool) WeightEntry {
			return WeightEntry{State: contracts.StateWeighted, Weights: map[string]float64{"b": 0.4, "a": 0.6}}
		})
	}

	rows := table.Snapshot()
	require.Len(t, rows, 4)
	assert.Equal(t, 1, rows[0].HorizonDays)
	assert.Equal(t, "a", rows[0].OrderID)
	assert.Equal(t, "b", rows[1].OrderID)

	restored := NewWeightTable()
	restored.Restore(rows, nil, t0)
	assert.Equal(t, rows, restored.Snapshot())

	e, ok := restored.Get(contracts.SeriesKey{Instrument: "MSFT.US", HorizonDays: 5})
	require.True(t, ok)
	assert.Equal(t, contracts.StateWeighted, e.State)
}

func TestWeightTable_RestoreKeepsStates(t *testing.T) {
	degraded := contracts.SeriesKey{Instrument: "MSFT.US", HorizonDays: 1}
	degradedEmpty := contracts.SeriesKey{Instrument: "MSFT.US", HorizonDays: 5}
	weighted := contracts.SeriesKey{Instrument: "NVDA.US", HorizonDays: 1}

	table := NewWeightTable()
	table.Update(degraded, func(WeightEntry, bool) WeightEntry {
		return WeightEntry{State: contracts.StateDegraded, Weights: map[string]float64{"a": 1}}
	})
	table.Update(degradedEmpty, func(WeightEntry, bool) WeightEntry {
		return WeightEntry{State: contracts.StateDegraded}
	})
	table.Update(weighted, func(WeightEntry, bool) WeightEntry {
		return WeightEntry{State: contracts.StateWeighted, Weights: map[string]float64{"a": 0.5, "b": 0.5}}
	})

	states := table.States()
	require.Len(t, states, 3)

	restored := NewWeightTable()
	restored.Restore(table.Snapshot(), states, t0)

	tests := []struct {
		key  contracts.SeriesKey
		want contracts.WeightState
	}{
		{degraded, contracts.StateDegraded},
		{degradedEmpty, contracts.StateDegraded},
		{weighted, contracts.StateWeighted},
	}
	for _, tt := range tests {
		e, ok := restored.Get(tt.key)
		require.True(t, ok, tt.key)
		assert.Equal(t, tt.want, e.State, tt.key)
	}
	assert.Equal(t, table.Snapshot(), restored.Snapshot())
	assert.Equal(t, states, restored.States())
}

func TestStore_CapacityEnforced(t *testing.T) {
	s := NewStore(testCapacity())

	for i := 0; i < 10; i++ {
		s.AppendForecast(forecastAt("AAPL.US", 1, float64(100+i), t0.Add(time.Duration(i)*time.Minute)))
		s.AppendAlert(contracts.AlertEvent{ID: fmt.Sprint(i)})
		s.RecordCitations(contracts.Citation{SourceID: "EODHD_API", Value: fmt.Sprint(i)})
	}

	snap := s.Snapshot()
	require.Len(t, snap.LatestPredictions, 4)
	assert.Equal(t, 109.0, snap.LatestPredictions[0].PointEstimate)
	assert.Equal(t, 106.0, snap.LatestPredictions[3].PointEstimate)

	require.Len(t, snap.Alerts, 2)
	assert.Equal(t, "9", snap.Alerts[0].ID)
	require.Len(t, snap.Citations, 3)

	assert.Equal(t, int64(10), snap.Counters.Predictions)
	assert.Equal(t, int64(10), snap.Counters.Alerts)
	assert.Equal(t, int64(10), snap.Counters.Citations)
}

func TestStore_PreviousForecast(t *testing.T) {
	s := NewStore(testCapacity())
	key := contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 5}

	_, ok := s.PreviousForecast(key)
	assert.False(t, ok)

	s.AppendForecast(forecastAt("AAPL.US", 5, 100, t0))
	s.AppendForecast(forecastAt("AAPL.US", 1, 50, t0))
	s.AppendForecast(forecastAt("AAPL.US", 5, 101.5, t0.Add(time.Minute)))

	prev, ok := s.PreviousForecast(key)
	require.True(t, ok)
	assert.Equal(t, 101.5, prev.PointEstimate)

	prev.ContributingModelWeights["arima_111"] = 0
	again, _ := s.PreviousForecast(key)
	assert.Equal(t, 1.0, again.ContributingModelWeights["arima_111"])
}

func TestStore_ErrorHistoryBounded(t *testing.T) {
	s := NewStore(testCapacity())
	for i := 0; i < maxErrorHistory+10; i++ {
		s.RecordTrend(contracts.PerformanceTrend{Instrument: "AAPL.US", LatestError: float64(i)})
	}

	h := s.ErrorHistory("AAPL.US")
	require.Len(t, h, maxErrorHistory)
	assert.Equal(t, 10.0, h[0])
	assert.Equal(t, float64(maxErrorHistory+9), h[len(h)-1])

	h[0] = -1
	assert.Equal(t, 10.0, s.ErrorHistory("AAPL.US")[0])
}

func TestStore_BestModels(t *testing.T) {
	s := NewStore(testCapacity())
	key := contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 5}
	s.Weights().Update(key, func(WeightEntry, bool) WeightEntry {
		return WeightEntry{State: contracts.StateWeighted, Weights: map[string]float64{"a": 0.2, "b": 0.5, "c": 0.3}}
	})
	s.AppendPerformance(
		contracts.PerformanceSample{Instrument: "AAPL.US", OrderID: "b", HorizonDays: 5, RMSE: contracts.ValidMetric(4)},
		contracts.PerformanceSample{Instrument: "AAPL.US", OrderID: "b", HorizonDays: 5, RMSE: contracts.ValidMetric(3)},
	)

	best := s.Snapshot().BestModels
	require.Len(t, best, 1)
	assert.Equal(t, "b", best[0].OrderID)
	assert.Equal(t, 0.5, best[0].Weight)
	rmse, ok := best[0].RMSE.Get()
	assert.True(t, ok)
	assert.Equal(t, 3.0, rmse)
}

// populate fills every collection of s
func populate(s *Store) {
	change := -1.0
	s.AppendForecast(forecastAt("AAPL.US", 1, 100, t0))
	s.AppendForecast(forecastAt("AAPL.US", 5, 102, t0))
	s.AppendForecast(forecastAt("AAPL.US", 1, 101, t0.Add(5*time.Minute)))
	s.AppendAlert(contracts.AlertEvent{ID: "x", Instrument: "AAPL.US", HorizonDays: 1, PreviousPointEstimate: 100, NewPointEstimate: 101, PctChange: 1, ThresholdPct: 1, TriggeredAt: t0})
	s.AppendPerformance(
		contracts.PerformanceSample{Instrument: "AAPL.US", OrderID: "arima_111", HorizonDays: 1, RMSE: contracts.ValidMetric(2), MAE: contracts.ValidMetric(1.5), DirectionAccuracy: contracts.ValidMetric(0.6), Samples: 20, MeasuredAt: t0},
		contracts.PerformanceSample{Instrument: "AAPL.US", OrderID: "arima_212", HorizonDays: 1, RMSE: contracts.InvalidMetric(), MAE: contracts.InvalidMetric(), DirectionAccuracy: contracts.InvalidMetric(), MeasuredAt: t0},
	)
	s.RecordCitations(contracts.Citation{SourceID: "EODHD_API", DataType: "price_history", Instrument: "AAPL.US", Value: "close=101", Timestamp: t0, Reliability: 0.95})
	s.RecordTrend(contracts.PerformanceTrend{Instrument: "AAPL.US", Trend: contracts.TrendStable, LatestError: 2, BaselineError: contracts.ValidMetric(2.02), ChangePct: &change, ClassifiedAt: t0})
	s.Weights().Update(contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 1}, func(WeightEntry, bool) WeightEntry {
		return WeightEntry{State: contracts.StateWeighted, Weights: map[string]float64{"arima_111": 1, "arima_212": 0}}
	})
	s.CompleteForecastCycle()
	s.CompleteBacktestCycle()
}

func stable(st contracts.EngineState) contracts.EngineState {
	st.Timestamp = time.Time{}
	st.StartedAt = time.Time{}
	st.UptimeSeconds = 0
	return st
}

func TestStore_RoundTrip(t *testing.T) {
	s := NewStore(testCapacity())
	populate(s)
	snap := s.Snapshot()

	restored := NewStore(testCapacity())
	restored.Load(snap)

	assert.Equal(t, stable(snap), stable(restored.Snapshot()))

	prev, ok := restored.PreviousForecast(contracts.SeriesKey{Instrument: "AAPL.US", HorizonDays: 1})
	require.True(t, ok)
	assert.Equal(t, 101.0, prev.PointEstimate)
}

func TestFilePersister_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine_state.json")
	p := NewFilePersister(path)

	_, found, err := p.Load()
	require.NoError(t, err)
	assert.False(t, found)

	s := NewStore(testCapacity())
	populate(s)
	snap := s.Snapshot()
	require.NoError(t, p.Save(context.Background(), snap))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, key := range []string{`"timestamp"`, `"latest_predictions"`, `"model_weights"`, `"performance_history"`, `"alerts"`, `"citations"`, `"uptime_seconds"`, `"rmse": null`} {
		assert.Contains(t, string(raw), key)
	}

	loaded, found, err := p.Load()
	require.NoError(t, err)
	require.True(t, found)

	restored := NewStore(testCapacity())
	restored.Load(loaded)
	assert.Equal(t, stable(snap), stable(restored.Snapshot()))
}

func TestFilePersister_Failure(t *testing.T) {
	p := NewFilePersister(filepath.Join(t.TempDir(), "missing", "state.json"))
	err := p.Save(context.Background(), contracts.EngineState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, contracts.ErrPersistence)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = NewFilePersister(filepath.Join(t.TempDir(), "s.json")).Save(ctx, contracts.EngineState{})
	assert.ErrorIs(t, err, contracts.ErrPersistence)
}

func TestFilePersister_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, _, err := NewFilePersister(path).Load()
	assert.Error(t, err)
}

type recordingPersister struct {
	calls int
	err   error
}

func (r *recordingPersister) Save(context.Context, contracts.EngineState) error {
	r.calls++
	return r.err
}

func TestMultiPersister(t *testing.T) {
	failing := &recordingPersister{err: fmt.Errorf("%w: disk full", contracts.ErrPersistence)}
	ok := &recordingPersister{}

	err := MultiPersister{failing, nil, ok}.Save(context.Background(), contracts.EngineState{})
	assert.ErrorIs(t, err, contracts.ErrPersistence)
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)

	assert.NoError(t, MultiPersister{ok}.Save(context.Background(), contracts.EngineState{}))
}

type fakeRow struct {
	doc []byte
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.doc
	return nil
}

type fakeDB struct {
	execArgs []any
	execErr  error
	row      fakeRow
}

func (f *fakeDB) Exec(_ context.Context, _ string, args ...any) (pgconn.CommandTag, error) {
	f.execArgs = args
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeDB) QueryRow(context.Context, string, ...any) pgx.Row {
	return f.row
}

func TestPostgresArchive_Save(t *testing.T) {
	db := &fakeDB{}
	a := &PostgresArchive{db: db}

	st := contracts.EngineState{Timestamp: t0, CycleCount: 7}
	require.NoError(t, a.Save(context.Background(), st))
	require.Len(t, db.execArgs, 3)
	assert.Equal(t, t0, db.execArgs[0])
	assert.Equal(t, int64(7), db.execArgs[1])

	db.execErr = errors.New("connection refused")
	assert.ErrorIs(t, a.Save(context.Background(), st), contracts.ErrPersistence)
}

func TestPostgresArchive_Latest(t *testing.T) {
	db := &fakeDB{row: fakeRow{err: pgx.ErrNoRows}}
	a := &PostgresArchive{db: db}

	_, found, err := a.Latest(context.Background())
	require.NoError(t, err)
	assert.False(t, found)

	db.row = fakeRow{doc: []byte(`{"cycle_count": 3, "uptime_seconds": 1.5}`)}
	st, found, err := a.Latest(context.Background())
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, int64(3), st.CycleCount)
	assert.False(t, math.IsNaN(st.UptimeSeconds))
}
