// Package alert compares consecutive published forecasts and fans fired
// alerts out to sinks.
package alert

import (
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/wonny/autocast/internal/contracts"
)

// Evaluate returns an alert when the point estimate moved by at least
// thresholdPct percent since previous. The comparison is inclusive
// (exactly-at-threshold fires). Without a previous forecast, or when the
// previous point estimate is zero, nothing fires.
func Evaluate(previous *contracts.Forecast, next contracts.Forecast, thresholdPct float64) (contracts.AlertEvent, bool) {
	if previous == nil || previous.PointEstimate == 0 {
		return contracts.AlertEvent{}, false
	}
	if previous.Instrument != next.Instrument || previous.HorizonDays != next.HorizonDays {
		return contracts.AlertEvent{}, false
	}

	pct := (next.PointEstimate - previous.PointEstimate) * 100 / previous.PointEstimate
	if math.IsNaN(pct) || math.IsInf(pct, 0) {
		return contracts.AlertEvent{}, false
	}
	// 100 → 101.5 같은 경계값이 부동소수 오차로 임계치 아래로 떨어지지 않도록 반올림
	pct = math.Round(pct*1e9) / 1e9
	if math.Abs(pct) < thresholdPct {
		return contracts.AlertEvent{}, false
	}

	triggeredAt := next.PublishedAt
	if triggeredAt.IsZero() {
		triggeredAt = time.Now()
	}

	return contracts.AlertEvent{
		ID:                    uuid.NewString(),
		Instrument:            next.Instrument,
		HorizonDays:           next.HorizonDays,
		PreviousPointEstimate: previous.PointEstimate,
		NewPointEstimate:      next.PointEstimate,
		PctChange:             pct,
		ThresholdPct:          thresholdPct,
		TriggeredAt:           triggeredAt,
	}, true
}
