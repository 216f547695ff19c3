package forecast

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/wonny/autocast/internal/contracts"
)

// Model 적합 완료된 ARIMA(p,d,q) (계수 고정, 재적합 없이 예측 가능)
type Model struct {
	Spec         contracts.ModelSpec `json:"spec"`
	Phi          []float64           `json:"phi"`
	Theta        []float64           `json:"theta"`
	Mean         float64             `json:"mean"` // 차분 시계열 평균 (d≥1이면 drift)
	Sigma2       float64             `json:"sigma2"`
	Observations int                 `json:"observations"`
	IntervalZ    float64             `json:"interval_z"`
}

var (
	errTooShort = errors.New("series too short for model order")
	errUnstable = errors.New("residual recursion diverged")
)

// fitARIMA estimates φ and θ by Hannan-Rissanen two-stage least squares:
// a long AR fit supplies innovation estimates, then z_t is regressed on
// p lags of itself and q lags of those innovations.
func fitARIMA(series []float64, spec contracts.ModelSpec, intervalZ float64) (*Model, error) {
	p, q := spec.P, spec.Q
	y := difference(series, spec.D)
	n := len(y)
	if n < 2*(p+q+2) {
		return nil, errTooShort
	}

	mu := mean(y)
	z := make([]float64, n)
	for i, v := range y {
		z[i] = v - mu
	}

	start := p
	innov := make([]float64, n)
	if q > 0 {
		m := p + q + 2
		if alt := n / 5; alt > m && alt <= 10 {
			m = alt
		} else if alt > 10 && m < 10 {
			m = 10
		}
		if n-m < 2*m {
			return nil, errTooShort
		}

		X := make([][]float64, 0, n-m)
		target := make([]float64, 0, n-m)
		for t := m; t < n; t++ {
			X = append(X, lags(z, t, m))
			target = append(target, z[t])
		}
		a, err := leastSquares(X, target)
		if err != nil {
			return nil, fmt.Errorf("long AR stage: %w", err)
		}
		for t := m; t < n; t++ {
			innov[t] = z[t] - dot(a, lags(z, t, m))
		}
		start = m + q
	}

	k := p + q
	var phi, theta []float64
	if k > 0 {
		if n-start < k+2 {
			return nil, errTooShort
		}
		X := make([][]float64, 0, n-start)
		target := make([]float64, 0, n-start)
		for t := start; t < n; t++ {
			row := make([]float64, 0, k)
			row = append(row, lags(z, t, p)...)
			row = append(row, lags(innov, t, q)...)
			X = append(X, row)
			target = append(target, z[t])
		}
		beta, err := leastSquares(X, target)
		if err != nil {
			return nil, fmt.Errorf("regression stage: %w", err)
		}
		phi, theta = beta[:p], beta[p:]
	}

	m := &Model{
		Spec:         spec,
		Phi:          phi,
		Theta:        theta,
		Mean:         mu,
		Observations: len(series),
		IntervalZ:    intervalZ,
	}

	eps := m.residuals(z)
	var ss float64
	var cnt int
	for t := p + q; t < n; t++ {
		ss += eps[t] * eps[t]
		cnt++
	}
	if cnt == 0 {
		return nil, errTooShort
	}
	m.Sigma2 = ss / float64(cnt)

	if !finiteAll(phi) || !finiteAll(theta) || !isFinite(m.Sigma2) {
		return nil, errUnstable
	}

	// 비가역 MA는 잔차가 발산: 원 시계열 분산의 100배를 넘으면 실패 처리
	var varZ float64
	for _, v := range z {
		varZ += v * v
	}
	varZ /= float64(n)
	if varZ > 0 && m.Sigma2 > 100*varZ {
		return nil, errUnstable
	}

	return m, nil
}

// residuals runs the ARMA recursion over centered data with zero pre-sample innovations
func (m *Model) residuals(z []float64) []float64 {
	p := len(m.Phi)
	eps := make([]float64, len(z))
	for t := p; t < len(z); t++ {
		v := z[t] - dot(m.Phi, lags(z, t, p))
		for j, th := range m.Theta {
			if t-j-1 >= 0 {
				v -= th * eps[t-j-1]
			}
		}
		eps[t] = v
	}
	return eps
}

// Forecast projects history forward with the fitted coefficients.
// Half-widths are z·σ·sqrt(Σψ²) of φ(B)(1−B)^d and strictly increase with horizon.
func (m *Model) Forecast(history []float64, horizons []int) (map[int]contracts.Band, error) {
	if len(horizons) == 0 {
		return map[int]contracts.Band{}, nil
	}
	hs := append([]int(nil), horizons...)
	sort.Ints(hs)
	maxH := hs[len(hs)-1]
	if hs[0] <= 0 {
		return nil, fmt.Errorf("horizon must be positive, got %d", hs[0])
	}

	p := len(m.Phi)
	minLen := m.Spec.D + p + 1
	if len(history) < minLen {
		return nil, errTooShort
	}

	// levels[j] = (1−B)^j history
	levels := make([][]float64, m.Spec.D+1)
	levels[0] = history
	for j := 1; j <= m.Spec.D; j++ {
		levels[j] = difference(levels[j-1], 1)
	}

	y := levels[m.Spec.D]
	n := len(y)
	z := make([]float64, n, n+maxH)
	for i, v := range y {
		z[i] = v - m.Mean
	}
	eps := m.residuals(z)
	eps = append(eps, make([]float64, maxH)...)

	for k := 1; k <= maxH; k++ {
		t := n - 1 + k
		v := dot(m.Phi, lags(z, t, p))
		for j, th := range m.Theta {
			if t-j-1 >= 0 {
				v += th * eps[t-j-1]
			}
		}
		z = append(z, v)
	}

	// 차분 역변환
	cur := make([]float64, maxH)
	for k := 0; k < maxH; k++ {
		cur[k] = z[n+k] + m.Mean
	}
	for j := m.Spec.D - 1; j >= 0; j-- {
		acc := levels[j][len(levels[j])-1]
		next := make([]float64, maxH)
		for k := 0; k < maxH; k++ {
			acc += cur[k]
			next[k] = acc
		}
		cur = next
	}

	psi := m.psiWeights(maxH)
	bands := make(map[int]contracts.Band, len(hs))
	var cum, prevHalf float64
	h := 0
	for _, target := range hs {
		for ; h < target; h++ {
			cum += psi[h] * psi[h]
		}
		half := m.IntervalZ * math.Sqrt(m.Sigma2*cum)
		if half <= prevHalf {
			half = math.Nextafter(prevHalf, math.Inf(1))
		}
		prevHalf = half

		point := cur[target-1]
		b := contracts.Band{Point: point, Lower: point - half, Upper: point + half}
		if !b.Contains() {
			return nil, errUnstable
		}
		bands[target] = b
	}
	return bands, nil
}

// psiWeights returns ψ_0..ψ_{n−1} of θ(B)/(φ(B)(1−B)^d)
func (m *Model) psiWeights(n int) []float64 {
	// φ(B)(1−B)^d as polynomial coefficients [1, c1, c2, ...]
	poly := make([]float64, len(m.Phi)+1)
	poly[0] = 1
	for i, v := range m.Phi {
		poly[i+1] = -v
	}
	for k := 0; k < m.Spec.D; k++ {
		next := make([]float64, len(poly)+1)
		for i, c := range poly {
			next[i] += c
			next[i+1] -= c
		}
		poly = next
	}

	psi := make([]float64, n)
	if n == 0 {
		return psi
	}
	psi[0] = 1
	for j := 1; j < n; j++ {
		var v float64
		if j <= len(m.Theta) {
			v = m.Theta[j-1]
		}
		for i := 1; i < len(poly) && i <= j; i++ {
			v -= poly[i] * psi[j-i]
		}
		psi[j] = v
	}
	return psi
}

// lags returns [x[t-1], ..., x[t-k]]
func lags(x []float64, t, k int) []float64 {
	out := make([]float64, k)
	for i := 0; i < k; i++ {
		if t-i-1 >= 0 {
			out[i] = x[t-i-1]
		}
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func finiteAll(xs []float64) bool {
	for _, v := range xs {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
