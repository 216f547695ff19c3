// Package ensemble blends per-model forecasts into one published forecast per
// (instrument, horizon) and adapts the blend weights from backtest errors.
//
// Per-key states:
//
//	UNINITIALIZED  no valid performance sample yet, every model weighs equally
//	WEIGHTED       weights derived from the latest valid samples (1/(rmse+ε), normalized)
//	DEGRADED       no model converged this cycle, nothing is published for the key
package ensemble

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/forecast"
	"github.com/wonny/autocast/internal/state"
)

// scoreEpsilon rmse=0 에서 0 나눗셈 방지
const scoreEpsilon = 1e-9

// Selector 앙상블 가중치 관리 + 발행
type Selector struct {
	table *state.WeightTable
	specs []contracts.ModelSpec
	log   zerolog.Logger
	now   func() time.Time
}

// NewSelector 새 선택기 생성
func NewSelector(table *state.WeightTable, specs []contracts.ModelSpec, log zerolog.Logger) *Selector {
	return &Selector{
		table: table,
		specs: specs,
		log:   log.With().Str("component", "ensemble.selector").Logger(),
		now:   time.Now,
	}
}

// Weights returns the effective weight vector for key.
// An uninitialized key gets equal weights across all configured models.
func (s *Selector) Weights(key contracts.SeriesKey) (map[string]float64, contracts.WeightState) {
	entry, ok := s.table.Get(key)
	if !ok || entry.Weights == nil {
		return s.equalWeights(), contracts.StateUninitialized
	}
	return entry.Weights, entry.State
}

func (s *Selector) equalWeights() map[string]float64 {
	w := make(map[string]float64, len(s.specs))
	for _, spec := range s.specs {
		w[spec.OrderID] = 1 / float64(len(s.specs))
	}
	return w
}

// UpdateWeights derives a new weight vector for key from one backtest cycle's samples.
// Samples with an invalid rmse score zero. When no sample is valid the previous
// vector is kept unchanged. Returns the stored entry and whether it changed.
func (s *Selector) UpdateWeights(key contracts.SeriesKey, samples []contracts.PerformanceSample) (state.WeightEntry, bool) {
	scores := make(map[string]float64)
	total := 0.0
	for _, sample := range samples {
		if sample.Instrument != key.Instrument || sample.HorizonDays != key.HorizonDays {
			continue
		}
		rmse, ok := sample.RMSE.Get()
		if !ok {
			s.log.Warn().
				Str("series", key.String()).
				Str("order_id", sample.OrderID).
				Err(contracts.ErrInvalidMetric).
				Msg("excluded from weighting")
			continue
		}
		score := 1 / (rmse + scoreEpsilon)
		scores[sample.OrderID] = score
		total += score
	}

	if len(scores) == 0 || total <= 0 || math.IsInf(total, 0) || math.IsNaN(total) {
		entry, _ := s.table.Get(key)
		s.log.Warn().
			Str("series", key.String()).
			Str("state", string(entry.State)).
			Msg("no valid performance sample, keeping previous weights")
		return entry, false
	}

	next := make(map[string]float64, len(s.specs))
	for _, spec := range s.specs {
		next[spec.OrderID] = scores[spec.OrderID] / total
	}
	// 설정에 없는 order_id의 샘플도 정규화에 포함되었으면 보존
	for id, score := range scores {
		if _, ok := next[id]; !ok {
			next[id] = score / total
		}
	}

	entry := s.table.Update(key, func(cur state.WeightEntry, _ bool) state.WeightEntry {
		cur.State = contracts.StateWeighted
		cur.Weights = next
		cur.UpdatedAt = s.now()
		return cur
	})

	s.log.Info().
		Str("series", key.String()).
		Interface("weights", entry.Weights).
		Msg("weights updated")

	return entry, true
}

// PublishInput 발행에 필요한 사이클 입력
type PublishInput struct {
	Instrument    string
	HorizonDays   int
	Results       []forecast.Result
	AdjustmentPct float64
	CurrentPrice  float64
	CycleID       string
}

type contribution struct {
	orderID string
	weight  float64
	band    contracts.Band
}

// Publish blends converged model outputs for one horizon.
// With no converged model the key turns DEGRADED and ErrDegraded is returned.
func (s *Selector) Publish(in PublishInput) (contracts.Forecast, error) {
	key := contracts.SeriesKey{Instrument: in.Instrument, HorizonDays: in.HorizonDays}
	weights, _ := s.Weights(key)

	var candidates []contribution
	for _, r := range in.Results {
		if !r.Converged() {
			continue
		}
		band, ok := r.Bands[in.HorizonDays]
		if !ok || !band.Contains() {
			continue
		}
		candidates = append(candidates, contribution{
			orderID: r.Spec.OrderID,
			weight:  weights[r.Spec.OrderID],
			band:    band,
		})
	}

	if len(candidates) == 0 {
		s.markDegraded(key)
		return contracts.Forecast{}, fmt.Errorf("%w: %s has no converged model", contracts.ErrDegraded, key)
	}

	total := 0.0
	for _, c := range candidates {
		if c.weight > 0 && !math.IsInf(c.weight, 0) {
			total += c.weight
		}
	}
	// 수렴한 모델이 모두 가중치 0이면 균등 배분
	if total <= 0 {
		for i := range candidates {
			candidates[i].weight = 1
		}
		total = float64(len(candidates))
	}

	var (
		point        float64
		lower, upper = math.Inf(1), math.Inf(-1)
		contributing = make(map[string]float64)
	)
	for _, c := range candidates {
		if c.weight <= 0 || math.IsInf(c.weight, 0) {
			continue
		}
		w := c.weight / total
		contributing[c.orderID] = w
		point += w * c.band.Point
		lower = math.Min(lower, c.band.Lower)
		upper = math.Max(upper, c.band.Upper)
	}

	adjusted := point * (1 + in.AdjustmentPct/100)
	// 팩터 조정은 점 추정에만, 구간은 합집합 후 조정된 점을 포함하도록만 확장
	lower = math.Min(lower, adjusted)
	upper = math.Max(upper, adjusted)

	f := contracts.Forecast{
		Instrument:               in.Instrument,
		HorizonDays:              in.HorizonDays,
		PointEstimate:            adjusted,
		LowerBound:               lower,
		UpperBound:               upper,
		BaseEstimate:             point,
		CurrentPrice:             in.CurrentPrice,
		ContributingModelWeights: contributing,
		FactorAdjustmentPct:      in.AdjustmentPct,
		CycleID:                  in.CycleID,
		PublishedAt:              s.now(),
	}
	if !f.Valid() {
		s.markDegraded(key)
		return contracts.Forecast{}, fmt.Errorf("%w: %s blended forecast is not finite", contracts.ErrDegraded, key)
	}

	s.clearDegraded(key)

	s.log.Debug().
		Str("series", key.String()).
		Strs("models", sortedKeys(contributing)).
		Float64("base", point).
		Float64("point", adjusted).
		Float64("lower", lower).
		Float64("upper", upper).
		Float64("adjustment_pct", in.AdjustmentPct).
		Msg("forecast published")

	return f, nil
}

// markDegraded records the DEGRADED state, keeping any learned weights
func (s *Selector) markDegraded(key contracts.SeriesKey) {
	s.table.Update(key, func(cur state.WeightEntry, _ bool) state.WeightEntry {
		cur.State = contracts.StateDegraded
		return cur
	})
	s.log.Warn().
		Str("series", key.String()).
		Err(contracts.ErrDegraded).
		Msg("no converged model, nothing published")
}

// clearDegraded returns a DEGRADED key to the state its weights imply
func (s *Selector) clearDegraded(key contracts.SeriesKey) {
	entry, ok := s.table.Get(key)
	if !ok || entry.State != contracts.StateDegraded {
		return
	}
	s.table.Update(key, func(cur state.WeightEntry, _ bool) state.WeightEntry {
		if cur.State != contracts.StateDegraded {
			return cur
		}
		if cur.Weights == nil {
			cur.State = contracts.StateUninitialized
		} else {
			cur.State = contracts.StateWeighted
		}
		return cur
	})
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
