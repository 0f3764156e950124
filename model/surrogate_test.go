package model

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestNewSurrogateRejectsWidthMismatch(t *testing.T) {
	cfg := testModelConfig()
	cfg.NumInputs = 6 // sum(InputSplits) is 5
	if _, err := NewSurrogate(cfg); err == nil {
		t.Fatal("expected config error for NumInputs != sum(InputSplits)")
	}
}

func TestNewSurrogateRejectsBadHeadCount(t *testing.T) {
	cfg := testModelConfig()
	cfg.NumHeads = 3 // EmbedDim 4 not divisible
	if _, err := NewSurrogate(cfg); err == nil {
		t.Fatal("expected config error for EmbedDim % NumHeads != 0")
	}
}

// The prediction must be the vote-weighted mixture of the expert outputs,
// with weights forming a distribution per example.
func TestVotingMixture(t *testing.T) {
	cfg := testModelConfig()
	cfg.NumVotes = 3
	m, err := NewSurrogate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	x := oneHotBatch([]int{0, 1, 2, 0, 1, 1, 0, 0}, []int{3, 2})

	pred, voteEnt := m.Forward(x, nil, false)

	b, _ := x.Dims()
	for i := 0; i < b; i++ {
		probSum := 0.0
		mix := 0.0
		for j := 0; j < cfg.NumVotes; j++ {
			probSum += m.lastA.At(i, j)
			mix += m.lastA.At(i, j) * m.lastEo.At(i, j)
		}
		if math.Abs(probSum-1) > 1e-9 {
			t.Fatalf("row %d: vote probabilities sum to %g", i, probSum)
		}
		if math.Abs(mix-pred.At(i, 0)) > 1e-9 {
			t.Fatalf("row %d: pred %g != mixture %g", i, pred.At(i, 0), mix)
		}
	}
	// mean sum p·log(p) is never positive
	if voteEnt > 1e-12 {
		t.Fatalf("vote entropy diagnostic %g > 0", voteEnt)
	}
}

func TestForwardDeterministicWithoutDropout(t *testing.T) {
	m, err := NewSurrogate(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	x := oneHotBatch([]int{1, 1, 2, 0}, []int{3, 2})

	p1, _ := m.Forward(x, nil, false)
	p2, _ := m.Forward(x, nil, false)
	if !mat.EqualApprox(p1, p2, 1e-12) {
		t.Fatal("two forward passes disagree")
	}
}

// Dropout applies to the embedding output before the first encoder block,
// not just inside the blocks and heads.
func TestEmbeddingDropoutMasksUnits(t *testing.T) {
	cfg := testModelConfig()
	cfg.UseDropout = true
	cfg.DropoutRate = 0.6
	m, err := NewSurrogate(cfg)
	if err != nil {
		t.Fatal(err)
	}
	x := oneHotBatch([]int{1, 0, 2, 1, 0, 0, 1, 1}, []int{3, 2})

	m.Forward(x, nil, true)

	rows := 4 * m.Embed.NumFields()
	ones := mat.NewDense(rows, cfg.EmbedDim, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cfg.EmbedDim; j++ {
			ones.Set(i, j, 1)
		}
	}
	d := m.embDrop.Backward(ones)
	zeros := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cfg.EmbedDim; j++ {
			if d.At(i, j) == 0 {
				zeros++
			}
		}
	}
	if zeros == 0 {
		t.Fatal("training pass left the embedding dropout mask fully open")
	}

	// an eval pass clears the mask
	m.Forward(x, nil, false)
	if !mat.Equal(m.embDrop.Backward(ones), ones) {
		t.Fatal("eval pass should not mask the embedding gradient")
	}
}

func TestParamsBackwardShapeAgreement(t *testing.T) {
	m, err := NewSurrogate(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	x := oneHotBatch([]int{1, 0, 0, 1}, []int{3, 2})
	pred, _ := m.Forward(x, nil, false)
	grads, _ := m.Backward(pred)

	ps := m.Params()
	if len(grads) != len(ps) {
		t.Fatalf("got %d grads for %d params", len(grads), len(ps))
	}
	for i := range ps {
		pr, pc := ps[i].Dims()
		gr, gc := grads[i].Dims()
		if pr != gr || pc != gc {
			t.Fatalf("param %d is (%d x %d) but grad is (%d x %d)", i, pr, pc, gr, gc)
		}
	}
}
