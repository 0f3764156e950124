package model

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/utils"
)

// maxFields bounds the positional-encoding table; no accelerator design
// space comes close.
const maxFields = 200

// SplitEmbedding splits the concatenated one-hot input into its per-field
// segments, projects each segment through its own dense layer to a common
// embedding width, and tags every field with a fixed sinusoidal positional
// encoding. Output layout is (batch*fields x embed): the rows of example b
// occupy the block b*F .. b*F+F-1.
type SplitEmbedding struct {
	Splits   []int
	EmbedDim int
	W        []*mat.Dense // per field, (k_f x E)
	B        []*mat.Dense // per field, (1 x E)

	PosEnc *mat.Dense // (maxFields x E), non-trainable

	// cache for backprop
	lastInput *mat.Dense // (B x W)
}

func NewSplitEmbedding(splits []int, embedDim int) (*SplitEmbedding, error) {
	if len(splits) == 0 {
		return nil, fmt.Errorf("split embedding: no input splits")
	}
	if len(splits) > maxFields {
		return nil, fmt.Errorf("split embedding: %d fields exceeds positional table (%d)", len(splits), maxFields)
	}
	se := &SplitEmbedding{
		Splits:   append([]int(nil), splits...),
		EmbedDim: embedDim,
		W:        make([]*mat.Dense, len(splits)),
		B:        make([]*mat.Dense, len(splits)),
		PosEnc:   positionalEncoding(maxFields, embedDim),
	}
	for f, k := range splits {
		if k <= 0 {
			return nil, fmt.Errorf("split embedding: split %d has non-positive length %d", f, k)
		}
		se.W[f] = mat.NewDense(k, embedDim, utils.RandomArray(k*embedDim, float64(k)))
		se.B[f] = mat.NewDense(1, embedDim, nil)
	}
	return se, nil
}

// positionalEncoding builds the usual sin/cos table: sine on even columns,
// cosine on odd ones.
func positionalEncoding(positions, d int) *mat.Dense {
	out := mat.NewDense(positions, d, nil)
	for pos := 0; pos < positions; pos++ {
		for i := 0; i < d; i++ {
			angle := float64(pos) / math.Pow(10000, float64(2*(i/2))/float64(d))
			if i%2 == 0 {
				out.Set(pos, i, math.Sin(angle))
			} else {
				out.Set(pos, i, math.Cos(angle))
			}
		}
	}
	return out
}

// InputWidth is the total one-hot width this layer expects.
func (se *SplitEmbedding) InputWidth() int {
	w := 0
	for _, k := range se.Splits {
		w += k
	}
	return w
}

func (se *SplitEmbedding) NumFields() int { return len(se.Splits) }

// Forward maps (B x W) one-hot designs to (B*F x E) field embeddings.
func (se *SplitEmbedding) Forward(X *mat.Dense) *mat.Dense {
	B, w := X.Dims()
	if w != se.InputWidth() {
		panic(fmt.Sprintf("split embedding: input width %d, expected %d", w, se.InputWidth()))
	}
	se.lastInput = X
	F := se.NumFields()
	E := se.EmbedDim
	out := mat.NewDense(B*F, E, nil)

	off := 0
	for f, k := range se.Splits {
		Xf := X.Slice(0, B, off, off+k).(*mat.Dense)
		Ef := utils.ToDense(utils.Dot(Xf, se.W[f])) // (B x E)
		for b := 0; b < B; b++ {
			for j := 0; j < E; j++ {
				out.Set(b*F+f, j, Ef.At(b, j)+se.B[f].At(0, j)+se.PosEnc.At(f, j))
			}
		}
		off += k
	}
	return out
}

// BackwardGradsOnly maps d(output) back to d(input) and the per-field
// weight/bias grads, in Params order.
func (se *SplitEmbedding) BackwardGradsOnly(dOut *mat.Dense) (dX *mat.Dense, grads []*mat.Dense) {
	B, _ := se.lastInput.Dims()
	F := se.NumFields()
	E := se.EmbedDim
	dX = mat.NewDense(B, se.InputWidth(), nil)
	grads = make([]*mat.Dense, 0, 2*F)

	off := 0
	for f, k := range se.Splits {
		// gather this field's rows back into a (B x E) block
		dEf := mat.NewDense(B, E, nil)
		for b := 0; b < B; b++ {
			for j := 0; j < E; j++ {
				dEf.Set(b, j, dOut.At(b*F+f, j))
			}
		}
		Xf := se.lastInput.Slice(0, B, off, off+k).(*mat.Dense)
		dW := utils.ToDense(utils.Dot(Xf.T(), dEf)) // (k x E)
		dB := utils.ColSums(dEf)                    // (1 x E)
		dXf := utils.ToDense(utils.Dot(dEf, se.W[f].T()))
		for b := 0; b < B; b++ {
			for j := 0; j < k; j++ {
				dX.Set(b, off+j, dXf.At(b, j))
			}
		}
		grads = append(grads, dW, dB)
		off += k
	}
	return dX, grads
}

// Params returns the trainable matrices in a stable order: W then bias per
// field, declared field order.
func (se *SplitEmbedding) Params() []*mat.Dense {
	out := make([]*mat.Dense, 0, 2*len(se.W))
	for f := range se.W {
		out = append(out, se.W[f], se.B[f])
	}
	return out
}
