package model

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/dataset"
)

func TestSamplerZeroStepsCopies(t *testing.T) {
	m, err := NewSurrogate(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	b := &dataset.Batch{Design: oneHotBatch([]int{1, 0, 2, 1}, []int{3, 2})}

	s := &GradientAscentSampler{Steps: 0, StepSize: 1e-3}
	neg, err := s.Infer(m, b)
	if err != nil {
		t.Fatal(err)
	}
	if !mat.Equal(neg, b.Design) {
		t.Fatal("zero-step sampler changed the designs")
	}
	neg.Set(0, 0, 7)
	if b.Design.At(0, 0) == 7 {
		t.Fatal("sampler returned the original backing array, not a copy")
	}
}

func TestSamplerClimbsPrediction(t *testing.T) {
	m, err := NewSurrogate(testModelConfig())
	if err != nil {
		t.Fatal(err)
	}
	b := &dataset.Batch{Design: oneHotBatch([]int{1, 0, 2, 1, 0, 0}, []int{3, 2})}

	before, _ := m.Forward(b.Design, nil, false)
	beforeSum := mat.Sum(before)

	s := &GradientAscentSampler{Steps: 10, StepSize: 1e-3}
	neg, err := s.Infer(m, b)
	if err != nil {
		t.Fatal(err)
	}
	if mat.Equal(neg, b.Design) {
		t.Fatal("sampler left the designs untouched")
	}

	after, _ := m.Forward(neg, nil, false)
	if mat.Sum(after) < beforeSum-1e-9 {
		t.Fatalf("ascent lowered the summed prediction: %g -> %g", beforeSum, mat.Sum(after))
	}
}
