// Package stats provides small statistics helpers: mean, population
// stdev, percentile, CVaR, beta, and downside deviation. These back the
// backtest summary's Sharpe/Sortino/CVaR/beta calculations and the
// blended-volatility primitive.
package stats

import "math"

// Mean returns the arithmetic mean of xs, or 0 for an empty slice.
func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// StdDev returns the population standard deviation of xs (ddof=0), the
// convention the blended volatility and z-score calculations both use.
func StdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := Mean(xs)
	var sumSq float64
	for _, x := range xs {
		d := x - m
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(xs)))
}

// DownsideDeviation returns the stdev of the negative-return subset only
// (relative to target, default 0), used by the Sortino ratio.
func DownsideDeviation(xs []float64, target float64) float64 {
	var downside []float64
	for _, x := range xs {
		if x < target {
			downside = append(downside, x-target)
		}
	}
	if len(downside) == 0 {
		return 0
	}
	var sumSq float64
	for _, d := range downside {
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(len(downside)))
}

// Percentile returns the linear-interpolated p-th percentile (0<=p<=100)
// of xs. xs is not mutated; a sorted copy is taken internally.
func Percentile(xs []float64, p float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	insertionSort(sorted)

	if p <= 0 {
		return sorted[0]
	}
	if p >= 100 {
		return sorted[n-1]
	}
	rank := (p / 100) * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// CVaR (Conditional VaR / Expected Shortfall) at confidence c (e.g. 0.95)
// is the mean of the worst (1-c) tail of xs.
func CVaR(xs []float64, confidence float64) float64 {
	n := len(xs)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, xs)
	insertionSort(sorted)

	tailCount := int(math.Ceil(float64(n) * (1 - confidence)))
	if tailCount < 1 {
		tailCount = 1
	}
	if tailCount > n {
		tailCount = n
	}
	return Mean(sorted[:tailCount])
}

// insertionSort avoids importing sort.Float64s just for this small
// package-internal use; fine for the bounded windows stats is called on.
func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
}

// Beta computes the regression beta of returns against benchmark returns
// (equal-length slices), used by the backtest summary's optional
// benchmark comparison.
func Beta(returns, benchmark []float64) float64 {
	if len(returns) != len(benchmark) || len(returns) < 2 {
		return 0
	}
	mr, mb := Mean(returns), Mean(benchmark)
	var cov, varB float64
	for i := range returns {
		dr := returns[i] - mr
		db := benchmark[i] - mb
		cov += dr * db
		varB += db * db
	}
	if varB == 0 {
		return 0
	}
	return cov / varB
}
