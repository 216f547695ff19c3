package factors

import "math"

// Signal 결측 가능 입력 (제공자 실패 = OK false, 중립 처리)
type Signal struct {
	Value float64 `json:"value"`
	OK    bool    `json:"ok"`
}

// Some wraps a finite value; NaN/Inf become missing
func Some(v float64) Signal {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Signal{}
	}
	return Signal{Value: v, OK: true}
}

// None is the missing signal
func None() Signal {
	return Signal{}
}

// Momentum returns the sector trend strength in percent: the mean of the
// 5-day, 10-day and full-window returns (windows longer than the series are skipped).
func Momentum(closes []float64) Signal {
	n := len(closes)
	if n < 2 {
		return None()
	}

	last := closes[n-1]
	var sum float64
	var count int
	for _, k := range []int{5, 10, n - 1} {
		if k <= 0 || k > n-1 {
			continue
		}
		base := closes[n-1-k]
		if base == 0 {
			continue
		}
		sum += (last - base) * 100 / base
		count++
	}

	if count == 0 {
		return None()
	}
	return Some(sum / float64(count))
}

// DayChangePct returns the last day-over-day change in percent
func DayChangePct(closes []float64) Signal {
	n := len(closes)
	if n < 2 || closes[n-2] == 0 {
		return None()
	}
	return Some((closes[n-1] - closes[n-2]) * 100 / closes[n-2])
}

// Latest returns the last value of a series
func Latest(closes []float64) Signal {
	if len(closes) == 0 {
		return None()
	}
	return Some(closes[len(closes)-1])
}
