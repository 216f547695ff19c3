package contracts

import (
	"encoding/json"
	"math"
	"time"
)

// Metric 유효/무효를 명시하는 오차 지표 (NaN 전파 방지)
// 무효 값은 JSON null로 직렬화됨
type Metric struct {
	Value float64
	Valid bool
}

// ValidMetric wraps v; non-finite or negative values become Invalid
func ValidMetric(v float64) Metric {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return Metric{}
	}
	return Metric{Value: v, Valid: true}
}

// InvalidMetric returns the undefined metric
func InvalidMetric() Metric {
	return Metric{}
}

// Get returns the value and whether it is defined
func (m Metric) Get() (float64, bool) {
	return m.Value, m.Valid
}

// MarshalJSON encodes Invalid as null
func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(m.Value)
}

// UnmarshalJSON decodes null as Invalid
func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Metric{}
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*m = ValidMetric(v)
	return nil
}

// PerformanceSample 백테스트 1회 결과 (모델, horizon 단위)
type PerformanceSample struct {
	Instrument        string    `json:"instrument"`
	OrderID           string    `json:"order_id"`
	HorizonDays       int       `json:"horizon_days"`
	RMSE              Metric    `json:"rmse"`
	MAE               Metric    `json:"mae"`
	DirectionAccuracy Metric    `json:"direction_accuracy"`
	Samples           int       `json:"samples"`
	MeasuredAt        time.Time `json:"measured_at"`
}

// Trend 종목별 성과 추세
type Trend string

const (
	TrendImproving        Trend = "IMPROVING"
	TrendStable           Trend = "STABLE"
	TrendDegrading        Trend = "DEGRADING"
	TrendInsufficientData Trend = "INSUFFICIENT_DATA"
)

// PerformanceTrend 최근 집계 오차 vs 이전 사이클 이동평균
type PerformanceTrend struct {
	Instrument    string    `json:"instrument"`
	Trend         Trend     `json:"trend"`
	LatestError   float64   `json:"latest_error"`
	BaselineError Metric    `json:"baseline_error"`
	ChangePct     *float64  `json:"change_pct"` // 기준 없음 = null, 음수 = 개선
	ClassifiedAt  time.Time `json:"classified_at"`
}

// BestModel (instrument, horizon)별 현재 최고 가중치 모델
type BestModel struct {
	Instrument  string  `json:"instrument"`
	HorizonDays int     `json:"horizon_days"`
	OrderID     string  `json:"order_id"`
	Weight      float64 `json:"weight"`
	RMSE        Metric  `json:"rmse"`
}
