package utils

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Matrix helpers shared by every layer in the model. All batches are
// row-major: one example (or one field position) per row.

func Dot(m, n mat.Matrix) mat.Matrix {
	r, _ := m.Dims()
	_, c := n.Dims()
	o := mat.NewDense(r, c, nil)
	o.Product(m, n)
	return o
}

func Apply(fn func(i, j int, v float64) float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Apply(fn, m)
	return o
}

func Scale(s float64, m mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Scale(s, m)
	return o
}

func Multiply(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.MulElem(m, n)
	return o
}

func Add(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Add(m, n)
	return o
}

func Subtract(m, n mat.Matrix) mat.Matrix {
	r, c := m.Dims()
	o := mat.NewDense(r, c, nil)
	o.Sub(m, n)
	return o
}

func ToDense(m mat.Matrix) *mat.Dense {
	if d, ok := m.(*mat.Dense); ok {
		return d
	}
	return mat.DenseCopyOf(m)
}

func ZerosLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	return mat.NewDense(r, c, nil)
}

func OnesLike(a *mat.Dense) *mat.Dense {
	r, c := a.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, 1)
		}
	}
	return out
}

// AddInPlace accumulates src into dst.
func AddInPlace(dst, src *mat.Dense) {
	dst.Add(dst, src)
}

// AddRowBias adds a (1 x c) bias row to every row of m.
func AddRowBias(m, bias *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	br, bc := bias.Dims()
	if br != 1 || bc != c {
		panic("AddRowBias: bias must be (1 x c)")
	}
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(i, j, m.At(i, j)+bias.At(0, j))
		}
	}
	return out
}

// ColSums returns the per-column sums of m as a (1 x c) row, the bias
// gradient for row-major layers.
func ColSums(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(1, c, nil)
	for j := 0; j < c; j++ {
		s := 0.0
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		out.Set(0, j, s)
	}
	return out
}

// RowSoftmax applies softmax independently to each row.
func RowSoftmax(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		mx := m.At(i, 0)
		for j := 1; j < c; j++ {
			if v := m.At(i, j); v > mx {
				mx = v
			}
		}
		sum := 0.0
		for j := 0; j < c; j++ {
			e := math.Exp(m.At(i, j) - mx)
			out.Set(i, j, e)
			sum += e
		}
		inv := 1.0 / sum
		for j := 0; j < c; j++ {
			out.Set(i, j, out.At(i, j)*inv)
		}
	}
	return out
}

// SoftmaxBackward maps dA (gradient w.r.t. softmax output A) to the
// gradient w.r.t. the logits, row-wise:
// s = sum_k dA[i,k]*A[i,k]; dS[i,j] = A[i,j]*(dA[i,j]-s)
func SoftmaxBackward(dA mat.Matrix, A *mat.Dense) *mat.Dense {
	r, c := A.Dims()
	dS := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		s := 0.0
		for k := 0; k < c; k++ {
			s += dA.At(i, k) * A.At(i, k)
		}
		for j := 0; j < c; j++ {
			aj := A.At(i, j)
			dS.Set(i, j, aj*(dA.At(i, j)-s))
		}
	}
	return dS
}

// MatrixNorm is the Frobenius norm.
func MatrixNorm(m *mat.Dense) float64 {
	r, c := m.Dims()
	s := 0.0
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			v := m.At(i, j)
			s += v * v
		}
	}
	return math.Sqrt(s)
}

// ClipGrads rescales all grads in place so their joint global norm does not
// exceed maxNorm. Returns the applied scale (1.0 when within bounds).
func ClipGrads(maxNorm float64, grads ...*mat.Dense) float64 {
	total := 0.0
	for _, g := range grads {
		n := MatrixNorm(g)
		total += n * n
	}
	total = math.Sqrt(total)
	if total <= maxNorm || total == 0 {
		return 1.0
	}
	s := maxNorm / total
	for _, g := range grads {
		g.Scale(s, g)
	}
	return s
}

// RandomArray draws size values uniformly from [-1/sqrt(v), 1/sqrt(v)].
func RandomArray(size int, v float64) []float64 {
	min := -1.0 / math.Sqrt(v+1e-12)
	max := 1.0 / math.Sqrt(v+1e-12)
	out := make([]float64, size)
	for i := 0; i < size; i++ {
		out[i] = min + (max-min)*rand.Float64()
	}
	return out
}

// ColToSlice copies a (r x 1) column vector into a plain slice.
func ColToSlice(m *mat.Dense) []float64 {
	r, c := m.Dims()
	if c != 1 {
		panic("ColToSlice expects a (r x 1) column vector")
	}
	out := make([]float64, r)
	for i := 0; i < r; i++ {
		out[i] = m.At(i, 0)
	}
	return out
}

// Mean of a (r x 1) column vector.
func ColMean(m *mat.Dense) float64 {
	r, c := m.Dims()
	if c != 1 {
		panic("ColMean expects a (r x 1) column vector")
	}
	s := 0.0
	for i := 0; i < r; i++ {
		s += m.At(i, 0)
	}
	return s / float64(r)
}

// Clip bounds v to [lo, hi].
func Clip(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// -------- activations --------

func ReluApply(i, j int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0
}

func ReluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) > 0 {
				out.Set(i, j, 1)
			}
		}
	}
	return out
}

// LeakyReluApply uses the 0.1 negative slope the prediction head was
// trained with.
func LeakyReluApply(i, j int, x float64) float64 {
	if x > 0 {
		return x
	}
	return 0.1 * x
}

func LeakyReluPrime(m mat.Matrix) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if m.At(i, j) > 0 {
				out.Set(i, j, 1)
			} else {
				out.Set(i, j, 0.1)
			}
		}
	}
	return out
}
