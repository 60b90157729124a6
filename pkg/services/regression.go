package services

import (
	"math"

	"github.com/voltwise/enpi-engine/pkg/apperrors"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// fitOLS fits ordinary least squares via the normal equations
// (X'X)b = X'y with an implicit intercept column. X is row-major, one row
// per sample. Returns apperrors.ErrDegenerateFeatures when the system is
// singular (e.g. a constant or duplicated driver).
func fitOLS(x [][]float64, y []float64) (coefficients []float64, intercept float64, err error) {
	n := len(y)
	if n == 0 || len(x) != n {
		return nil, 0, apperrors.ErrInsufficientSamples
	}
	k := len(x[0]) + 1 // features + intercept

	// Build the k x k normal matrix and k-vector in one pass.
	xtx := make([][]float64, k)
	for i := range xtx {
		xtx[i] = make([]float64, k)
	}
	xty := make([]float64, k)

	row := make([]float64, k)
	for s := 0; s < n; s++ {
		row[0] = 1
		copy(row[1:], x[s])
		for i := 0; i < k; i++ {
			xty[i] += row[i] * y[s]
			for j := i; j < k; j++ {
				xtx[i][j] += row[i] * row[j]
			}
		}
	}
	// Mirror the upper triangle.
	for i := 1; i < k; i++ {
		for j := 0; j < i; j++ {
			xtx[i][j] = xtx[j][i]
		}
	}

	beta, err := solveLinear(xtx, xty)
	if err != nil {
		return nil, 0, err
	}
	return beta[1:], beta[0], nil
}

// solveLinear solves Ab = v by Gaussian elimination with partial pivoting.
// A and v are modified in place.
func solveLinear(a [][]float64, v []float64) ([]float64, error) {
	n := len(v)
	for col := 0; col < n; col++ {
		// Pivot on the largest remaining magnitude in this column.
		pivot := col
		for r := col + 1; r < n; r++ {
			if math.Abs(a[r][col]) > math.Abs(a[pivot][col]) {
				pivot = r
			}
		}
		if math.Abs(a[pivot][col]) < 1e-12 {
			return nil, apperrors.ErrDegenerateFeatures
		}
		a[col], a[pivot] = a[pivot], a[col]
		v[col], v[pivot] = v[pivot], v[col]

		for r := col + 1; r < n; r++ {
			factor := a[r][col] / a[col][col]
			if factor == 0 {
				continue
			}
			for c := col; c < n; c++ {
				a[r][c] -= factor * a[col][c]
			}
			v[r] -= factor * v[col]
		}
	}

	// Back substitution.
	solution := make([]float64, n)
	for r := n - 1; r >= 0; r-- {
		sum := v[r]
		for c := r + 1; c < n; c++ {
			sum -= a[r][c] * solution[c]
		}
		solution[r] = sum / a[r][r]
	}
	return solution, nil
}

// fitQuality computes R², RMSE and MAE of predictions against observations.
func fitQuality(predicted, observed []float64) models.FitQuality {
	n := len(observed)
	if n == 0 {
		return models.FitQuality{}
	}

	var mean float64
	for _, v := range observed {
		mean += v
	}
	mean /= float64(n)

	var ssRes, ssTot, absSum float64
	for i := range observed {
		residual := observed[i] - predicted[i]
		ssRes += residual * residual
		ssTot += (observed[i] - mean) * (observed[i] - mean)
		absSum += math.Abs(residual)
	}

	r2 := 0.0
	if ssTot > 0 {
		r2 = 1 - ssRes/ssTot
	}

	return models.FitQuality{
		R2:   r2,
		RMSE: math.Sqrt(ssRes / float64(n)),
		MAE:  absSum / float64(n),
	}
}

// adjustedR2 penalizes R² for the number of fitted features, used by
// auto-select to compare candidate subsets of different sizes.
func adjustedR2(r2 float64, samples, features int) float64 {
	denom := samples - features - 1
	if denom <= 0 {
		return math.Inf(-1)
	}
	return 1 - (1-r2)*float64(samples-1)/float64(denom)
}
