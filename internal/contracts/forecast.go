package contracts

import (
	"fmt"
	"math"
	"time"
)

// ModelSpec 사전 설정된 ARIMA(p,d,q) 모델 (학습 대상 아님)
type ModelSpec struct {
	OrderID string `yaml:"order_id" json:"order_id"`
	P       int    `yaml:"p" json:"p"`
	D       int    `yaml:"d" json:"d"`
	Q       int    `yaml:"q" json:"q"`
}

func (m ModelSpec) String() string {
	return fmt.Sprintf("ARIMA(%d,%d,%d)", m.P, m.D, m.Q)
}

// Band 단일 모델의 특정 horizon 예측 (점 + 구간)
type Band struct {
	Point float64 `json:"point"`
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// Contains reports lower ≤ point ≤ upper with all values finite
func (b Band) Contains() bool {
	if !isFinite(b.Point) || !isFinite(b.Lower) || !isFinite(b.Upper) {
		return false
	}
	return b.Lower <= b.Point && b.Point <= b.Upper
}

// Forecast 발행된 앙상블 예측
type Forecast struct {
	Instrument               string             `json:"instrument"`
	HorizonDays              int                `json:"horizon_days"`
	PointEstimate            float64            `json:"point_estimate"`
	LowerBound               float64            `json:"lower_bound"`
	UpperBound               float64            `json:"upper_bound"`
	BaseEstimate             float64            `json:"base_estimate"` // 팩터 조정 전
	CurrentPrice             float64            `json:"current_price"`
	ContributingModelWeights map[string]float64 `json:"contributing_model_weights"`
	FactorAdjustmentPct      float64            `json:"factor_adjustment_pct"`
	CycleID                  string             `json:"cycle_id,omitempty"`
	PublishedAt              time.Time          `json:"published_at"`
}

// Valid reports whether the forecast satisfies the bound invariant
func (f Forecast) Valid() bool {
	return Band{Point: f.PointEstimate, Lower: f.LowerBound, Upper: f.UpperBound}.Contains()
}

// ExpectedChangePct 현재가 대비 예상 변화율 (%)
func (f Forecast) ExpectedChangePct() float64 {
	if f.CurrentPrice == 0 {
		return 0
	}
	return (f.PointEstimate - f.CurrentPrice) * 100 / f.CurrentPrice
}

// Clone returns a deep copy (weights map included)
func (f Forecast) Clone() Forecast {
	out := f
	if f.ContributingModelWeights != nil {
		out.ContributingModelWeights = make(map[string]float64, len(f.ContributingModelWeights))
		for k, v := range f.ContributingModelWeights {
			out.ContributingModelWeights[k] = v
		}
	}
	return out
}

// SeriesKey (instrument, horizon) 식별자
type SeriesKey struct {
	Instrument  string `json:"instrument"`
	HorizonDays int    `json:"horizon_days"`
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s@%dd", k.Instrument, k.HorizonDays)
}

// Key returns the (instrument, horizon) key of f
func (f Forecast) Key() SeriesKey {
	return SeriesKey{Instrument: f.Instrument, HorizonDays: f.HorizonDays}
}

// WeightState (instrument, horizon)별 앙상블 상태
type WeightState string

const (
	StateUninitialized WeightState = "UNINITIALIZED"
	StateWeighted      WeightState = "WEIGHTED"
	StateDegraded      WeightState = "DEGRADED"
)

// ModelWeight 단일 모델의 앙상블 가중치
type ModelWeight struct {
	Instrument  string  `json:"instrument"`
	HorizonDays int     `json:"horizon_days"`
	OrderID     string  `json:"order_id"`
	Weight      float64 `json:"weight"`
}

// SeriesState (instrument, horizon) 앙상블 상태 (가중치 없는 DEGRADED 키 포함)
type SeriesState struct {
	Instrument  string      `json:"instrument"`
	HorizonDays int         `json:"horizon_days"`
	State       WeightState `json:"state"`
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
