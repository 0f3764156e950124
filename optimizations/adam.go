package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// AdamUpdateInPlace applies one bias-corrected AdamW update:
// p -= lr * (mhat/(sqrt(vhat)+eps) + wd * p)
func AdamUpdateInPlace(
	p, g, m, v *mat.Dense,
	t int,
	lr, beta1, beta2, eps, weightDecay float64,
) {
	pr, pc := p.Dims()
	if gr, gc := g.Dims(); gr != pr || gc != pc {
		panic("AdamUpdateInPlace: grad shape mismatch")
	}
	if mr, mc := m.Dims(); mr != pr || mc != pc {
		panic("AdamUpdateInPlace: m shape mismatch")
	}
	if vr, vc := v.Dims(); vr != pr || vc != pc {
		panic("AdamUpdateInPlace: v shape mismatch")
	}
	b1t := math.Pow(beta1, float64(t))
	b2t := math.Pow(beta2, float64(t))
	c1 := 1.0 / (1.0 - b1t)
	c2 := 1.0 / (1.0 - b2t)
	for i := 0; i < pr; i++ {
		for j := 0; j < pc; j++ {
			gij := g.At(i, j)
			mij := beta1*m.At(i, j) + (1.0-beta1)*gij
			vij := beta2*v.At(i, j) + (1.0-beta2)*gij*gij
			mhat := mij * c1
			vhat := vij * c2
			denom := math.Sqrt(vhat) + eps
			update := mhat/denom + weightDecay*p.At(i, j)
			m.Set(i, j, mij)
			v.Set(i, j, vij)
			p.Set(i, j, p.At(i, j)-lr*update)
		}
	}
}

// Adam owns the first/second moments for an ordered parameter set and
// applies one combined update per Step. Every trainable matrix of every
// sub-network goes through the same instance, so the whole model moves in
// exactly one optimizer step per training step.
type Adam struct {
	LR          float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64

	T    int
	M, V []*mat.Dense
}

// NewAdam allocates zeroed moments shaped after the given parameter set.
func NewAdam(lr, beta1, beta2, eps, weightDecay float64, params []*mat.Dense) *Adam {
	a := &Adam{
		LR:          lr,
		Beta1:       beta1,
		Beta2:       beta2,
		Eps:         eps,
		WeightDecay: weightDecay,
		M:           make([]*mat.Dense, len(params)),
		V:           make([]*mat.Dense, len(params)),
	}
	for i, p := range params {
		r, c := p.Dims()
		a.M[i] = mat.NewDense(r, c, nil)
		a.V[i] = mat.NewDense(r, c, nil)
	}
	return a
}

// Step applies one update over the full parameter set. params must be the
// same ordered set the optimizer was built with.
func (a *Adam) Step(params, grads []*mat.Dense) {
	if len(params) != len(a.M) || len(grads) != len(a.M) {
		panic("Adam.Step: parameter set size mismatch")
	}
	a.T++
	for i := range params {
		AdamUpdateInPlace(params[i], grads[i], a.M[i], a.V[i],
			a.T, a.LR, a.Beta1, a.Beta2, a.Eps, a.WeightDecay)
	}
}
