package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/dataset"
	"github.com/accelprime/prime/utils"
)

// NegativeSampler produces adversarial design batches whose predictions the
// conservative penalty pushes down. Implementations must not touch model
// parameters.
type NegativeSampler interface {
	Infer(m *Surrogate, b *dataset.Batch) (*mat.Dense, error)
}

// GradientAscentSampler is the reference sampler: it climbs the model's own
// prediction surface on the continuous relaxation of the one-hot inputs,
// yielding designs the current model overvalues. The result is not projected
// back onto the one-hot simplex; it only re-enters training through a fresh
// forward pass.
type GradientAscentSampler struct {
	Steps    int
	StepSize float64
}

// Infer runs Steps ascent iterations starting from the batch's designs.
// Steps == 0 returns an unmodified copy.
func (s *GradientAscentSampler) Infer(m *Surrogate, b *dataset.Batch) (*mat.Dense, error) {
	x := mat.DenseCopyOf(b.Design)
	for i := 0; i < s.Steps; i++ {
		dX := m.InputGradient(x, b.Context)
		x.Add(x, utils.ToDense(utils.Scale(s.StepSize, dX)))
	}
	return x, nil
}
