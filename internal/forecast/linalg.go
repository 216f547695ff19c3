package forecast

import (
	"errors"
	"math"
)

var errSingular = errors.New("singular normal equations")

// leastSquares solves min ||X·β − y|| through the normal equations.
// X is row-major with len(X) observations of len(X[0]) regressors.
func leastSquares(X [][]float64, y []float64) ([]float64, error) {
	if len(X) == 0 || len(X) != len(y) {
		return nil, errors.New("dimension mismatch")
	}
	k := len(X[0])
	if k == 0 {
		return []float64{}, nil
	}
	if len(X) < k {
		return nil, errSingular
	}

	// A = XᵀX, b = Xᵀy
	A := make([][]float64, k)
	for i := range A {
		A[i] = make([]float64, k)
	}
	b := make([]float64, k)
	for r, row := range X {
		for i := 0; i < k; i++ {
			b[i] += row[i] * y[r]
			for j := i; j < k; j++ {
				A[i][j] += row[i] * row[j]
			}
		}
	}
	for i := 0; i < k; i++ {
		for j := 0; j < i; j++ {
			A[i][j] = A[j][i]
		}
	}

	return solve(A, b)
}

// solve runs Gaussian elimination with partial pivoting (A and b are overwritten)
func solve(A [][]float64, b []float64) ([]float64, error) {
	n := len(b)

	var scale float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			scale = math.Max(scale, math.Abs(A[i][j]))
		}
	}
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return nil, errSingular
	}
	tol := scale * 1e-12

	for col := 0; col < n; col++ {
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(A[r][col]) > math.Abs(A[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(A[pivot][col]) <= tol {
			return nil, errSingular
		}
		A[col], A[pivot] = A[pivot], A[col]
		b[col], b[pivot] = b[pivot], b[col]

		for r := col + 1; r < n; r++ {
			f := A[r][col] / A[col][col]
			if f == 0 {
				continue
			}
			for c := col; c < n; c++ {
				A[r][c] -= f * A[col][c]
			}
			b[r] -= f * b[col]
		}
	}

	x := make([]float64, n)
	for i := n - 1; i >= 0; i-- {
		sum := b[i]
		for j := i + 1; j < n; j++ {
			sum -= A[i][j] * x[j]
		}
		x[i] = sum / A[i][i]
		if math.IsNaN(x[i]) || math.IsInf(x[i], 0) {
			return nil, errSingular
		}
	}
	return x, nil
}

// difference applies (1−B)^d
func difference(x []float64, d int) []float64 {
	out := append([]float64(nil), x...)
	for k := 0; k < d; k++ {
		if len(out) < 2 {
			return nil
		}
		next := make([]float64, len(out)-1)
		for i := 1; i < len(out); i++ {
			next[i-1] = out[i] - out[i-1]
		}
		out = next
	}
	return out
}

func mean(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var s float64
	for _, v := range x {
		s += v
	}
	return s / float64(len(x))
}
