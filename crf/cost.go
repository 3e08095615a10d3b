package crf

import "math"

// Costs are negative log-probabilities. Multiplying probabilities is adding
// costs; adding probabilities is Combine.

// InfiniteCost marks an impossible transition or path.
var InfiniteCost = math.Inf(1)

// IsInfinite reports whether c is the infinite cost sentinel (or overflowed to it).
func IsInfinite(c float64) bool {
	return math.IsInf(c, 1)
}

// AddCost adds two costs, saturating at InfiniteCost.
func AddCost(a, b float64) float64 {
	if IsInfinite(a) || IsInfinite(b) {
		return InfiniteCost
	}
	return a + b
}

// Combine returns -log(exp(-a) + exp(-b)) without overflow.
func Combine(a, b float64) float64 {
	if IsInfinite(a) {
		return b
	}
	if IsInfinite(b) {
		return a
	}
	if a < b {
		return a - math.Log1p(math.Exp(a-b))
	}
	return b - math.Log1p(math.Exp(b-a))
}

// CombineAll folds Combine over costs. An empty slice yields InfiniteCost.
func CombineAll(costs []float64) float64 {
	total := InfiniteCost
	for _, c := range costs {
		total = Combine(total, c)
	}
	return total
}

// Probability converts a cost back to probability space.
func Probability(c float64) float64 {
	if IsInfinite(c) {
		return 0
	}
	return math.Exp(-c)
}
