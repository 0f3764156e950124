package optimizations

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// LayerNorm normalizes each row of its input across the feature axis.
// Inputs are (positions x d): one field position per row.
type LayerNorm struct {
	D     int
	Eps   float64
	Gamma *mat.Dense // (1 x d)
	Beta  *mat.Dense // (1 x d)

	// cache for backprop
	Xhat   *mat.Dense
	InvStd []float64 // per row
}

func NewLayerNorm(d int, eps float64) *LayerNorm {
	g := mat.NewDense(1, d, nil)
	for j := 0; j < d; j++ {
		g.Set(0, j, 1.0)
	}
	return &LayerNorm{
		D:     d,
		Eps:   eps,
		Gamma: g,
		Beta:  mat.NewDense(1, d, nil),
	}
}

func (ln *LayerNorm) Forward(X *mat.Dense) *mat.Dense {
	n, d := X.Dims()
	if d != ln.D {
		panic("LayerNorm: width mismatch")
	}
	out := mat.NewDense(n, d, nil)
	xhat := mat.NewDense(n, d, nil)
	inv := make([]float64, n)
	for i := 0; i < n; i++ {
		mu := 0.0
		for j := 0; j < d; j++ {
			mu += X.At(i, j)
		}
		mu /= float64(d)
		var v float64
		for j := 0; j < d; j++ {
			diff := X.At(i, j) - mu
			v += diff * diff
		}
		v /= float64(d)
		istd := 1.0 / math.Sqrt(v+ln.Eps)
		inv[i] = istd
		for j := 0; j < d; j++ {
			h := (X.At(i, j) - mu) * istd
			xhat.Set(i, j, h)
			out.Set(i, j, ln.Gamma.At(0, j)*h+ln.Beta.At(0, j))
		}
	}
	ln.Xhat = xhat
	ln.InvStd = inv
	return out
}

// BackwardGradsOnly maps dY back to dX and returns the gamma/beta grads
// without updating anything.
func (ln *LayerNorm) BackwardGradsOnly(dY *mat.Dense) (dX, dGamma, dBeta *mat.Dense) {
	n, d := dY.Dims()
	dGamma = mat.NewDense(1, d, nil)
	dBeta = mat.NewDense(1, d, nil)
	for j := 0; j < d; j++ {
		sumDG := 0.0
		sumDB := 0.0
		for i := 0; i < n; i++ {
			sumDG += dY.At(i, j) * ln.Xhat.At(i, j)
			sumDB += dY.At(i, j)
		}
		dGamma.Set(0, j, sumDG)
		dBeta.Set(0, j, sumDB)
	}

	dX = mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		istd := ln.InvStd[i]
		sum1 := 0.0
		sum2 := 0.0
		for j := 0; j < d; j++ {
			gy := dY.At(i, j) * ln.Gamma.At(0, j)
			sum1 += gy
			sum2 += gy * ln.Xhat.At(i, j)
		}
		for j := 0; j < d; j++ {
			gy := dY.At(i, j) * ln.Gamma.At(0, j)
			dxi := (float64(d)*gy - sum1 - ln.Xhat.At(i, j)*sum2) * (istd / float64(d))
			dX.Set(i, j, dxi)
		}
	}
	return dX, dGamma, dBeta
}
