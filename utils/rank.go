package utils

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Ranks returns the dense rank of every element (argsort of the argsort),
// as float64 so it can feed straight into correlation measures.
func Ranks(x []float64) []float64 {
	n := len(x)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })
	ranks := make([]float64, n)
	for r, idx := range order {
		ranks[idx] = float64(r)
	}
	return ranks
}

// PearsonRankCorrelation is the Pearson correlation of the rank transforms
// of pred and target, the differentiability-free ranking diagnostic logged
// as avg_ranking_loss.
func PearsonRankCorrelation(pred, target []float64) float64 {
	if len(pred) != len(target) {
		panic("PearsonRankCorrelation: length mismatch")
	}
	return stat.Correlation(Ranks(pred), Ranks(target), nil)
}

// KendallPairwise computes the pairwise-sign Kendall correlation
// 2*ratio - 1, where ratio is the fraction of ordered pairs (i != j) whose
// prediction difference and target difference do not disagree in sign.
// Tied pairs count as concordant.
func KendallPairwise(pred, target []float64) float64 {
	n := len(pred)
	if n != len(target) {
		panic("KendallPairwise: length mismatch")
	}
	if n < 2 {
		return 0
	}
	positive := 0.0
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			product := sign(pred[i]-pred[j]) * sign(target[i]-target[j])
			if product >= 0 {
				positive++
			}
		}
	}
	// the diagonal is always counted; remove it
	positive -= float64(n)
	ratio := positive / float64(n*(n-1))
	return 2*ratio - 1.0
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
