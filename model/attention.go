package model

import (
	"math"
	"os"
	"sync"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/utils"
)

// Attention is multi-head self-attention over the field sequence of each
// example. Fields form an unordered set, so there is no mask; the
// positional encoding added upstream is the only order signal. Input is
// the stacked (batch*fields x embed) layout; attention mixes rows only
// within each example's F-row block.
type Attention struct {
	H      int
	Fields int
	DModel int
	DHead  int

	Wq, Wk, Wv []*mat.Dense // per head, (E x dHead)
	Wo         *mat.Dense   // (E x E)

	// cache for backprop, per example per head
	lastInput *mat.Dense
	q, k, v   [][]*mat.Dense
	a         [][]*mat.Dense
	ocat      []*mat.Dense

	parallel bool // fan out over batch examples
}

func NewAttention(fields, dModel, nHeads int) *Attention {
	if dModel%nHeads != 0 {
		panic("attention: dModel must be divisible by nHeads")
	}
	dHead := dModel / nHeads
	attn := &Attention{
		H:        nHeads,
		Fields:   fields,
		DModel:   dModel,
		DHead:    dHead,
		Wq:       make([]*mat.Dense, nHeads),
		Wk:       make([]*mat.Dense, nHeads),
		Wv:       make([]*mat.Dense, nHeads),
		parallel: os.Getenv("BATCH_PAR") == "1",
	}
	for h := 0; h < nHeads; h++ {
		attn.Wq[h] = mat.NewDense(dModel, dHead, utils.RandomArray(dModel*dHead, float64(dModel)))
		attn.Wk[h] = mat.NewDense(dModel, dHead, utils.RandomArray(dModel*dHead, float64(dModel)))
		attn.Wv[h] = mat.NewDense(dModel, dHead, utils.RandomArray(dModel*dHead, float64(dModel)))
	}
	attn.Wo = mat.NewDense(dModel, dModel, utils.RandomArray(dModel*dModel, float64(dModel)))
	return attn
}

// Forward computes self-attention per example block. X is (B*F x E).
func (attn *Attention) Forward(X *mat.Dense) *mat.Dense {
	rows, _ := X.Dims()
	F := attn.Fields
	B := rows / F
	attn.lastInput = X
	attn.q = make([][]*mat.Dense, B)
	attn.k = make([][]*mat.Dense, B)
	attn.v = make([][]*mat.Dense, B)
	attn.a = make([][]*mat.Dense, B)
	attn.ocat = make([]*mat.Dense, B)
	out := mat.NewDense(rows, attn.DModel, nil)

	rescale := 1.0 / math.Sqrt(float64(attn.DHead))
	work := func(b int) {
		Xb := X.Slice(b*F, (b+1)*F, 0, attn.DModel).(*mat.Dense)
		attn.q[b] = make([]*mat.Dense, attn.H)
		attn.k[b] = make([]*mat.Dense, attn.H)
		attn.v[b] = make([]*mat.Dense, attn.H)
		attn.a[b] = make([]*mat.Dense, attn.H)
		ocat := mat.NewDense(F, attn.DModel, nil)
		for h := 0; h < attn.H; h++ {
			q := utils.ToDense(utils.Dot(Xb, attn.Wq[h])) // (F x dHead)
			k := utils.ToDense(utils.Dot(Xb, attn.Wk[h]))
			v := utils.ToDense(utils.Dot(Xb, attn.Wv[h]))
			scores := utils.ToDense(utils.Scale(rescale, utils.Dot(q, k.T()))) // (F x F)
			a := utils.RowSoftmax(scores)
			o := utils.ToDense(utils.Dot(a, v)) // (F x dHead)
			base := h * attn.DHead
			ocat.Slice(0, F, base, base+attn.DHead).(*mat.Dense).Copy(o)
			attn.q[b][h], attn.k[b][h], attn.v[b][h], attn.a[b][h] = q, k, v, a
		}
		attn.ocat[b] = ocat
		Yb := utils.ToDense(utils.Dot(ocat, attn.Wo)) // (F x E)
		out.Slice(b*F, (b+1)*F, 0, attn.DModel).(*mat.Dense).Copy(Yb)
	}
	if attn.parallel && B > 1 {
		var wg sync.WaitGroup
		wg.Add(B)
		for b := 0; b < B; b++ {
			bb := b
			go func() { defer wg.Done(); work(bb) }()
		}
		wg.Wait()
	} else {
		for b := 0; b < B; b++ {
			work(b)
		}
	}
	return out
}

// BackwardGradsOnly computes dX and the weight grads (summed over the
// batch) without updating anything. Grads are in Params order.
func (attn *Attention) BackwardGradsOnly(dY *mat.Dense) (dX *mat.Dense, grads []*mat.Dense) {
	rows, _ := dY.Dims()
	F := attn.Fields
	B := rows / F
	E := attn.DModel
	rescale := 1.0 / math.Sqrt(float64(attn.DHead))

	dWq := make([]*mat.Dense, attn.H)
	dWk := make([]*mat.Dense, attn.H)
	dWv := make([]*mat.Dense, attn.H)
	for h := 0; h < attn.H; h++ {
		dWq[h] = mat.NewDense(E, attn.DHead, nil)
		dWk[h] = mat.NewDense(E, attn.DHead, nil)
		dWv[h] = mat.NewDense(E, attn.DHead, nil)
	}
	dWo := mat.NewDense(E, E, nil)
	dX = mat.NewDense(rows, E, nil)

	for b := 0; b < B; b++ {
		Xb := attn.lastInput.Slice(b*F, (b+1)*F, 0, E).(*mat.Dense)
		dYb := dY.Slice(b*F, (b+1)*F, 0, E).(*mat.Dense)

		// Y = Ocat * Wo
		dWo.Add(dWo, utils.ToDense(utils.Dot(attn.ocat[b].T(), dYb)))
		dOcat := utils.ToDense(utils.Dot(dYb, attn.Wo.T())) // (F x E)

		dXb := mat.NewDense(F, E, nil)
		for h := 0; h < attn.H; h++ {
			base := h * attn.DHead
			dO := dOcat.Slice(0, F, base, base+attn.DHead).(*mat.Dense)

			// O = A * V
			dA := utils.ToDense(utils.Dot(dO, attn.v[b][h].T())) // (F x F)
			dV := utils.ToDense(utils.Dot(attn.a[b][h].T(), dO)) // (F x dHead)

			// A = softmax_row(S), S = Q K^T / sqrt(dHead)
			dS := utils.SoftmaxBackward(dA, attn.a[b][h])
			dQ := utils.ToDense(utils.Scale(rescale, utils.Dot(dS, attn.k[b][h])))
			dK := utils.ToDense(utils.Scale(rescale, utils.Dot(dS.T(), attn.q[b][h])))

			dWq[h].Add(dWq[h], utils.ToDense(utils.Dot(Xb.T(), dQ)))
			dWk[h].Add(dWk[h], utils.ToDense(utils.Dot(Xb.T(), dK)))
			dWv[h].Add(dWv[h], utils.ToDense(utils.Dot(Xb.T(), dV)))

			dXb.Add(dXb, utils.ToDense(utils.Dot(dQ, attn.Wq[h].T())))
			dXb.Add(dXb, utils.ToDense(utils.Dot(dK, attn.Wk[h].T())))
			dXb.Add(dXb, utils.ToDense(utils.Dot(dV, attn.Wv[h].T())))
		}
		dX.Slice(b*F, (b+1)*F, 0, E).(*mat.Dense).Copy(dXb)
	}

	grads = make([]*mat.Dense, 0, 3*attn.H+1)
	for h := 0; h < attn.H; h++ {
		grads = append(grads, dWq[h], dWk[h], dWv[h])
	}
	grads = append(grads, dWo)
	return dX, grads
}

func (attn *Attention) Params() []*mat.Dense {
	out := make([]*mat.Dense, 0, 3*attn.H+1)
	for h := 0; h < attn.H; h++ {
		out = append(out, attn.Wq[h], attn.Wk[h], attn.Wv[h])
	}
	out = append(out, attn.Wo)
	return out
}
