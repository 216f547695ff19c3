package contracts

import (
	"fmt"
	"time"
)

// AlertEvent 예측 변화율이 임계치 이상일 때 생성 (append-only)
type AlertEvent struct {
	ID                    string    `json:"id"`
	Instrument            string    `json:"instrument"`
	HorizonDays           int       `json:"horizon_days"`
	PreviousPointEstimate float64   `json:"previous_point_estimate"`
	NewPointEstimate      float64   `json:"new_point_estimate"`
	PctChange             float64   `json:"pct_change"`
	ThresholdPct          float64   `json:"threshold_pct"`
	TriggeredAt           time.Time `json:"triggered_at"`
}

// Direction returns "UP" or "DOWN"
func (a AlertEvent) Direction() string {
	if a.PctChange >= 0 {
		return "UP"
	}
	return "DOWN"
}

func (a AlertEvent) String() string {
	return fmt.Sprintf("%s %dd %s %.2f -> %.2f (%+.2f%%)",
		a.Instrument, a.HorizonDays, a.Direction(),
		a.PreviousPointEstimate, a.NewPointEstimate, a.PctChange)
}
