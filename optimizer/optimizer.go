// Package optimizer implements a cost-penalized greedy coordinate-descent
// dynamic optimizer: it nudges ideal strategy positions toward tradeable
// integer contract counts under a risk cap and a per-contract cost
// penalty.
package optimizer

import "math"

// Config parameterizes one optimization cycle.
type Config struct {
	RiskTarget           float64 // tau
	Capital              float64
	RiskBuffer           float64 // gamma, asymmetric risk cap multiplier
	CostPenalty          float64 // kappa
	MaxIterations        int
	ConvergenceThreshold float64
}

// DefaultConfig returns reasonable defaults for the optimizer loop.
func DefaultConfig() Config {
	return Config{
		RiskTarget:           0.20,
		RiskBuffer:           0.1,
		CostPenalty:          0.01,
		MaxIterations:        10000,
		ConvergenceThreshold: 1e-6,
	}
}

// Input is one optimization cycle's data.
type Input struct {
	Symbols    []string
	Ideal      map[string]float64 // x*
	Held       map[string]float64 // x0
	Cost       map[string]float64 // c, per-contract dollar cost
	Weight     map[string]float64 // w, per-contract risk weight
	Covariance [][]float64        // Sigma, aligned to Symbols order
}

// Result is the optimizer's output.
type Result struct {
	Positions  map[string]float64
	Iterations int
	Converged  bool
	ObjectiveJ float64
}

// weightedQuadForm computes xᵀ W Σ W x for a position vector x (aligned to
// symbols), used both in the objective and the risk cap.
func weightedQuadForm(x []float64, w []float64, sigma [][]float64) float64 {
	n := len(x)
	wx := make([]float64, n)
	for i := 0; i < n; i++ {
		wx[i] = w[i] * x[i]
	}
	var total float64
	for i := 0; i < n; i++ {
		var rowSum float64
		for j := 0; j < n; j++ {
			rowSum += sigma[i][j] * wx[j]
		}
		total += wx[i] * rowSum
	}
	return total
}

func norm2(w []float64) float64 {
	var sum float64
	for _, v := range w {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// objective computes J(x) = 0.5*(x-x*)^T W Sigma W (x-x*) / tau^2 +
// kappa * c^T |x - x0|.
func objective(x, ideal, held, cost, weight []float64, sigma [][]float64, cfg Config) float64 {
	n := len(x)
	diffIdeal := make([]float64, n)
	for i := 0; i < n; i++ {
		diffIdeal[i] = x[i] - ideal[i]
	}
	risk := weightedQuadForm(diffIdeal, weight, sigma) / (cfg.RiskTarget * cfg.RiskTarget)

	var turnoverCost float64
	for i := 0; i < n; i++ {
		turnoverCost += cost[i] * math.Abs(x[i]-held[i])
	}
	return 0.5*risk + cfg.CostPenalty*turnoverCost
}

// riskCapOK reports whether x satisfies the asymmetric risk cap:
// sqrt(x^T W Sigma W x) <= (1+gamma) * tau * capital / ||w||.
func riskCapOK(x, weight []float64, sigma [][]float64, cfg Config) bool {
	lhs := math.Sqrt(math.Max(0, weightedQuadForm(x, weight, sigma)))
	n := norm2(weight)
	if n == 0 {
		return true
	}
	rhs := (1 + cfg.RiskBuffer) * cfg.RiskTarget * cfg.Capital / n
	return lhs <= rhs+1e-9
}

// Optimize runs the greedy coordinate-descent algorithm: at each iteration
// it evaluates, for every symbol, a +1 and -1 contract move, and applies
// the single change that most decreases J while respecting the risk cap;
// it stops when no such move improves J by more than
// ConvergenceThreshold, or at MaxIterations (reporting non-convergence
// via Result.Converged=false). Either way the result is then checked
// against the integerized ideal, as described below.
// Tie-breaking between equally-good moves favors the lowest-index symbol,
// chosen here for determinism.
func Optimize(in Input, cfg Config) Result {
	n := len(in.Symbols)
	if n == 0 {
		return Result{Positions: map[string]float64{}, Converged: true}
	}

	ideal := make([]float64, n)
	held := make([]float64, n)
	cost := make([]float64, n)
	weight := make([]float64, n)
	x := make([]float64, n)
	for i, sym := range in.Symbols {
		ideal[i] = in.Ideal[sym]
		held[i] = in.Held[sym]
		cost[i] = in.Cost[sym]
		weight[i] = in.Weight[sym]
		x[i] = math.Round(held[i]) // start from the held, integerized position
	}

	currentJ := objective(x, ideal, held, cost, weight, in.Covariance, cfg)
	converged := false
	iter := 0

	for ; iter < cfg.MaxIterations; iter++ {
		bestDelta := 0.0
		bestIdx := -1
		bestJ := currentJ

		for i := 0; i < n; i++ {
			for _, step := range [2]float64{1, -1} {
				x[i] += step
				if !riskCapOK(x, weight, in.Covariance, cfg) {
					x[i] -= step
					continue
				}
				j := objective(x, ideal, held, cost, weight, in.Covariance, cfg)
				x[i] -= step
				if j < bestJ-1e-15 {
					bestJ = j
					bestIdx = i
					bestDelta = step
				}
			}
		}

		if bestIdx == -1 || currentJ-bestJ <= cfg.ConvergenceThreshold {
			converged = true
			break
		}
		x[bestIdx] += bestDelta
		currentJ = bestJ
	}

	// The returned J must never exceed J(x*): the greedy walk from the
	// held position is not guaranteed globally optimal, so as a floor,
	// compare against trading straight to the integerized ideal and keep
	// whichever satisfies the risk cap with the lower J.
	idealRounded := make([]float64, n)
	for i := range ideal {
		idealRounded[i] = math.Round(ideal[i])
	}
	if riskCapOK(idealRounded, weight, in.Covariance, cfg) {
		idealJ := objective(idealRounded, ideal, held, cost, weight, in.Covariance, cfg)
		if idealJ < currentJ {
			x = idealRounded
			currentJ = idealJ
		}
	}

	out := make(map[string]float64, n)
	for i, sym := range in.Symbols {
		out[sym] = x[i]
	}
	return Result{Positions: out, Iterations: iter, Converged: converged, ObjectiveJ: currentJ}
}
