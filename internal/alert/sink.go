package alert

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
)

// ConsoleSink 알림을 구조화 로그 한 줄로 출력
type ConsoleSink struct {
	log zerolog.Logger
}

// NewConsoleSink 새 콘솔 싱크 생성
func NewConsoleSink(log zerolog.Logger) *ConsoleSink {
	return &ConsoleSink{log: log.With().Str("component", "alert.console").Logger()}
}

// Deliver implements contracts.AlertSink
func (s *ConsoleSink) Deliver(_ context.Context, e contracts.AlertEvent) error {
	s.log.Warn().
		Str("alert_id", e.ID).
		Str("instrument", e.Instrument).
		Int("horizon", e.HorizonDays).
		Str("direction", e.Direction()).
		Float64("previous", e.PreviousPointEstimate).
		Float64("new", e.NewPointEstimate).
		Float64("pct_change", e.PctChange).
		Float64("threshold_pct", e.ThresholdPct).
		Msg(e.String())
	return nil
}

// MultiSink delivers to every sink; one failing sink does not block the others
type MultiSink []contracts.AlertSink

// Deliver implements contracts.AlertSink
func (m MultiSink) Deliver(ctx context.Context, e contracts.AlertEvent) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.Deliver(ctx, e); err != nil {
			errs = append(errs, fmt.Errorf("deliver alert %s: %w", e.ID, err))
		}
	}
	return errors.Join(errs...)
}
