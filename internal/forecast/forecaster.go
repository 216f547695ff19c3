package forecast

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/wonny/autocast/internal/contracts"
	"github.com/wonny/autocast/internal/strategyconfig"
)

// FitFailure 단일 모델의 적합/예측 실패 (이번 사이클 기권)
type FitFailure struct {
	OrderID string
	Reason  string // insufficient_history, non_finite_input, singular, unstable, panic
	Err     error
}

func (f *FitFailure) Error() string {
	return fmt.Sprintf("model %s abstains (%s): %v", f.OrderID, f.Reason, f.Err)
}

func (f *FitFailure) Unwrap() error {
	return f.Err
}

// Result 모델 1개의 예측 결과 (Err != nil이면 기권)
type Result struct {
	Spec  contracts.ModelSpec
	Model *Model
	Bands map[int]contracts.Band
	Err   error
}

// Converged reports whether the model produced bands
func (r Result) Converged() bool {
	return r.Err == nil && r.Bands != nil
}

// Forecaster ARIMA 예측기
type Forecaster struct {
	minHistory int
	intervalZ  float64
	log        zerolog.Logger
}

// NewForecaster 새 예측기 생성
func NewForecaster(params strategyconfig.ForecastParams, log zerolog.Logger) *Forecaster {
	return &Forecaster{
		minHistory: params.MinHistory,
		intervalZ:  params.IntervalZ,
		log:        log.With().Str("component", "forecast.arima").Logger(),
	}
}

// Fit estimates one model on series. Any failure, including a panic, is a *FitFailure.
func (f *Forecaster) Fit(series []float64, spec contracts.ModelSpec) (m *Model, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = &FitFailure{
				OrderID: spec.OrderID,
				Reason:  "panic",
				Err:     fmt.Errorf("%w: panic: %v", contracts.ErrModelFit, r),
			}
		}
	}()

	if len(series) < f.minHistory {
		return nil, &FitFailure{
			OrderID: spec.OrderID,
			Reason:  "insufficient_history",
			Err:     fmt.Errorf("%w: have %d observations, need %d", contracts.ErrInsufficientHistory, len(series), f.minHistory),
		}
	}
	if !finiteAll(series) {
		return nil, &FitFailure{
			OrderID: spec.OrderID,
			Reason:  "non_finite_input",
			Err:     fmt.Errorf("%w: series contains NaN/Inf", contracts.ErrModelFit),
		}
	}

	m, err = fitARIMA(series, spec, f.intervalZ)
	if err != nil {
		return nil, classify(spec.OrderID, err)
	}
	return m, nil
}

// Project forecasts from history with a fitted model. Failures are *FitFailure.
func (f *Forecaster) Project(m *Model, history []float64, horizons []int) (bands map[int]contracts.Band, err error) {
	defer func() {
		if r := recover(); r != nil {
			bands = nil
			err = &FitFailure{
				OrderID: m.Spec.OrderID,
				Reason:  "panic",
				Err:     fmt.Errorf("%w: panic: %v", contracts.ErrModelFit, r),
			}
		}
	}()

	bands, err = m.Forecast(history, horizons)
	if err != nil {
		return nil, classify(m.Spec.OrderID, err)
	}
	return bands, nil
}

// Forecast fits spec on series and returns one band per horizon
func (f *Forecaster) Forecast(series []float64, spec contracts.ModelSpec, horizons []int) (map[int]contracts.Band, error) {
	m, err := f.Fit(series, spec)
	if err != nil {
		return nil, err
	}
	return f.Project(m, series, horizons)
}

// ForecastAll runs every spec independently; one model failing never affects the others
func (f *Forecaster) ForecastAll(instrument string, series []float64, specs []contracts.ModelSpec, horizons []int) []Result {
	results := make([]Result, 0, len(specs))
	for _, spec := range specs {
		res := Result{Spec: spec}

		m, err := f.Fit(series, spec)
		if err == nil {
			res.Model = m
			res.Bands, err = f.Project(m, series, horizons)
		}
		res.Err = err

		if err != nil {
			var ff *FitFailure
			reason := "unknown"
			if errors.As(err, &ff) {
				reason = ff.Reason
			}
			f.log.Warn().
				Str("instrument", instrument).
				Str("order_id", spec.OrderID).
				Str("order", spec.String()).
				Str("reason", reason).
				Err(err).
				Msg("model abstains this cycle")
		}
		results = append(results, res)
	}
	return results
}

func classify(orderID string, err error) *FitFailure {
	var ff *FitFailure
	if errors.As(err, &ff) {
		return ff
	}

	switch {
	case errors.Is(err, errTooShort):
		return &FitFailure{OrderID: orderID, Reason: "insufficient_history",
			Err: fmt.Errorf("%w: %v", contracts.ErrInsufficientHistory, err)}
	case errors.Is(err, errSingular):
		return &FitFailure{OrderID: orderID, Reason: "singular",
			Err: fmt.Errorf("%w: %v", contracts.ErrModelFit, err)}
	case errors.Is(err, errUnstable):
		return &FitFailure{OrderID: orderID, Reason: "unstable",
			Err: fmt.Errorf("%w: %v", contracts.ErrModelFit, err)}
	default:
		return &FitFailure{OrderID: orderID, Reason: "fit_error",
			Err: fmt.Errorf("%w: %v", contracts.ErrModelFit, err)}
	}
}
