package strategyconfig

import (
	"fmt"
	"math"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks all required constraints
// 실패 시 error 반환 (프로그램 중단)
func Validate(cfg *Config) error {
	// === Models ===
	if len(cfg.Models) == 0 {
		return ValidationError{"models", "at least one model order required"}
	}
	seen := make(map[string]bool, len(cfg.Models))
	for i, m := range cfg.Models {
		field := fmt.Sprintf("models[%d]", i)
		if m.OrderID == "" {
			return ValidationError{field + ".order_id", "required"}
		}
		if seen[m.OrderID] {
			return ValidationError{field + ".order_id", "duplicate " + m.OrderID}
		}
		seen[m.OrderID] = true
		if m.P < 0 || m.P > 5 || m.Q < 0 || m.Q > 5 {
			return ValidationError{field, "p and q must be in [0, 5]"}
		}
		if m.D < 0 || m.D > 2 {
			return ValidationError{field + ".d", "must be in [0, 2]"}
		}
	}

	// === Horizons === (strictly increasing)
	if len(cfg.Horizons) == 0 {
		return ValidationError{"horizons", "at least one horizon required"}
	}
	for i, h := range cfg.Horizons {
		if h <= 0 {
			return ValidationError{"horizons", "must be positive"}
		}
		if i > 0 && h <= cfg.Horizons[i-1] {
			return ValidationError{"horizons", "must be strictly increasing"}
		}
	}

	// === Forecast / Backtest ===
	if cfg.Forecast.MinHistory < 10 {
		return ValidationError{"forecast.min_history", "must be >= 10"}
	}
	if cfg.Forecast.HistoryDays < cfg.Forecast.MinHistory {
		return ValidationError{"forecast.history_days", "must be >= min_history"}
	}
	if cfg.Forecast.IntervalZ <= 0 || !isFinite(cfg.Forecast.IntervalZ) {
		return ValidationError{"forecast.interval_z", "must be > 0"}
	}
	if cfg.Backtest.Window <= 0 {
		return ValidationError{"backtest.window", "must be > 0"}
	}
	// walk-forward 적합 구간: history_days - window - max_horizon + 1
	if cfg.Forecast.HistoryDays-cfg.Backtest.Window-cfg.MaxHorizon()+1 < cfg.Forecast.MinHistory {
		return ValidationError{"backtest.window", "window and max horizon leave fewer than min_history observations to fit"}
	}

	// === Trend ===
	if cfg.Trend.Window <= 0 {
		return ValidationError{"trend.window", "must be > 0"}
	}
	if cfg.Trend.DeadBandPct < 0 {
		return ValidationError{"trend.dead_band_pct", "must be >= 0"}
	}

	// === Market ===
	if cfg.Market.VolatilityIndex == "" || cfg.Market.BroadIndex == "" {
		return ValidationError{"market", "volatility_index and broad_index required"}
	}
	if cfg.Market.IndexLookback < 2 || cfg.Market.SectorLookback < 2 {
		return ValidationError{"market", "lookbacks must be >= 2"}
	}

	// === Factors ===
	if err := validateFactors(&cfg.Factors); err != nil {
		return err
	}

	// === Reliability ===
	if err := validateUnit("default_reliability", cfg.DefaultReliability); err != nil {
		return err
	}
	for source, r := range cfg.Reliability {
		if err := validateUnit("reliability."+source, r); err != nil {
			return err
		}
	}

	if cfg.DefaultSector == "" {
		return ValidationError{"default_sector", "required"}
	}

	return nil
}

func validateFactors(f *Factors) error {
	caps := map[string]float64{
		"factors.sentiment.cap":       f.Sentiment.Cap,
		"factors.sector.abs_cap":      f.Sector.AbsCap,
		"factors.sector.fraction_cap": f.Sector.FractionCap,
		"factors.market.cap":          f.Market.Cap,
		"factors.total_cap":           f.TotalCap,
		"factors.volatility.calm":     f.Volatility.Calm,
		"factors.volatility.high":     f.Volatility.High,
		"factors.volatility.extreme":  f.Volatility.Extreme,
	}
	for field, v := range caps {
		if v < 0 || !isFinite(v) {
			return ValidationError{field, "must be finite and >= 0"}
		}
	}

	v := f.Volatility
	if !(v.Calm < v.High && v.High < v.Extreme) {
		return ValidationError{"factors.volatility", "thresholds must satisfy calm < high < extreme"}
	}
	return nil
}

func validateUnit(field string, v float64) error {
	if v < 0 || v > 1 || !isFinite(v) {
		return ValidationError{field, "must be in [0, 1]"}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
