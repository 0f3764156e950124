package optimizations

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout with inverted scaling. The mask is cached so backward drops the
// same units it dropped on the way forward.
type Dropout struct {
	Rate float64

	mask *mat.Dense
}

func NewDropout(rate float64) *Dropout {
	return &Dropout{Rate: rate}
}

// Forward returns X untouched when not training (or rate is zero).
func (d *Dropout) Forward(X *mat.Dense, training bool) *mat.Dense {
	if !training || d.Rate <= 0 {
		d.mask = nil
		return X
	}
	r, c := X.Dims()
	keep := 1.0 / (1.0 - d.Rate)
	mask := mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if rand.Float64() >= d.Rate {
				mask.Set(i, j, keep)
				out.Set(i, j, X.At(i, j)*keep)
			}
		}
	}
	d.mask = mask
	return out
}

func (d *Dropout) Backward(dY *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dY
	}
	r, c := dY.Dims()
	out := mat.NewDense(r, c, nil)
	out.MulElem(dY, d.mask)
	return out
}
