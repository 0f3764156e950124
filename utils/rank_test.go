package utils

import (
	"math"
	"testing"
)

func TestRanks(t *testing.T) {
	got := Ranks([]float64{0.3, -1.0, 2.5, 0.7})
	want := []float64{1, 0, 3, 2}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Ranks[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestCorrelationsOnIdenticalOrder(t *testing.T) {
	pred := []float64{-2, 0, 1, 5}
	target := []float64{10, 20, 30, 40} // same ordering, different scale

	if p := PearsonRankCorrelation(pred, target); math.Abs(p-1) > 1e-12 {
		t.Fatalf("pearson = %g, want 1", p)
	}
	if k := KendallPairwise(pred, target); math.Abs(k-1) > 1e-12 {
		t.Fatalf("kendall = %g, want 1", k)
	}
}

func TestCorrelationsOnReversedOrder(t *testing.T) {
	pred := []float64{4, 3, 2, 1}
	target := []float64{1, 2, 3, 4}

	if p := PearsonRankCorrelation(pred, target); math.Abs(p+1) > 1e-12 {
		t.Fatalf("pearson = %g, want -1", p)
	}
	if k := KendallPairwise(pred, target); math.Abs(k+1) > 1e-12 {
		t.Fatalf("kendall = %g, want -1", k)
	}
}

func TestKendallCountsTiesAsConcordant(t *testing.T) {
	// constant predictions tie every pair
	if k := KendallPairwise([]float64{1, 1, 1}, []float64{1, 2, 3}); k != 1 {
		t.Fatalf("kendall with all ties = %g, want 1", k)
	}
}
