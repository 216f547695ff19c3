package backtest

import (
	"time"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/strategyconfig"
)

// TrendClassifier 종목별 성과 추세 분류
// 최근 집계 오차를 직전 K 사이클 이동평균과 비교, ±dead band 이내는 STABLE
type TrendClassifier struct {
	window      int
	deadBandPct float64
	now         func() time.Time
}

// NewTrendClassifier 새 분류기 생성
func NewTrendClassifier(params strategyconfig.TrendParams) *TrendClassifier {
	return &TrendClassifier{
		window:      params.Window,
		deadBandPct: params.DeadBandPct,
		now:         time.Now,
	}
}

// AggregateError is the mean of valid RMSE values of instrument's samples
func AggregateError(instrument string, samples []contracts.PerformanceSample) (float64, bool) {
	sum, n := 0.0, 0
	for _, s := range samples {
		if s.Instrument != instrument {
			continue
		}
		if v, ok := s.RMSE.Get(); ok {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// Classify compares latest against the moving average of prior (oldest first)
func (c *TrendClassifier) Classify(instrument string, latest float64, prior []float64) contracts.PerformanceTrend {
	t := contracts.PerformanceTrend{
		Instrument:    instrument,
		Trend:         contracts.TrendInsufficientData,
		LatestError:   latest,
		BaselineError: contracts.InvalidMetric(),
		ClassifiedAt:  c.now(),
	}
	if len(prior) == 0 {
		return t
	}

	recent := prior
	if c.window > 0 && len(recent) > c.window {
		recent = recent[len(recent)-c.window:]
	}
	sum := 0.0
	for _, v := range recent {
		sum += v
	}
	baseline := sum / float64(len(recent))
	t.BaselineError = contracts.ValidMetric(baseline)

	if baseline == 0 {
		if latest == 0 {
			t.Trend = contracts.TrendStable
		} else {
			t.Trend = contracts.TrendDegrading
		}
		return t
	}

	change := (latest - baseline) * 100 / baseline
	t.ChangePct = &change
	switch {
	case change < -c.deadBandPct:
		t.Trend = contracts.TrendImproving
	case change > c.deadBandPct:
		t.Trend = contracts.TrendDegrading
	default:
		t.Trend = contracts.TrendStable
	}
	return t
}
