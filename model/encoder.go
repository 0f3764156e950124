package model

import (
	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/optimizations"
	"github.com/accelprime/prime/utils"
)

// EncoderBlock is a post-norm transformer encoder layer: self-attention and
// a two-layer feed-forward net, each wrapped in residual + LayerNorm.
type EncoderBlock struct {
	Attn *Attention
	FFN  *FFNet
	LN1  *optimizations.LayerNorm
	LN2  *optimizations.LayerNorm

	drop1 *optimizations.Dropout
	drop2 *optimizations.Dropout
}

func NewEncoderBlock(fields, dModel, nHeads, dff int, dropRate float64) *EncoderBlock {
	blk := &EncoderBlock{
		Attn: NewAttention(fields, dModel, nHeads),
		FFN:  newFFNet([]int{dModel, dff, dModel}, reluAct, 0),
		LN1:  optimizations.NewLayerNorm(dModel, 1e-6),
		LN2:  optimizations.NewLayerNorm(dModel, 1e-6),
	}
	if dropRate > 0 {
		blk.drop1 = optimizations.NewDropout(dropRate)
		blk.drop2 = optimizations.NewDropout(dropRate)
	}
	return blk
}

// Forward runs one block over a stacked (B*F x E) sequence batch.
func (blk *EncoderBlock) Forward(X *mat.Dense, training bool) *mat.Dense {
	attnOut := blk.Attn.Forward(X)
	if blk.drop1 != nil {
		attnOut = blk.drop1.Forward(attnOut, training)
	}
	out1 := blk.LN1.Forward(utils.ToDense(utils.Add(X, attnOut)))

	ffnOut := blk.FFN.Forward(out1, training)
	if blk.drop2 != nil {
		ffnOut = blk.drop2.Forward(ffnOut, training)
	}
	return blk.LN2.Forward(utils.ToDense(utils.Add(out1, ffnOut)))
}

// BackwardGradsOnly walks the residual chain in reverse. Grad order matches
// Params: attention weights, FFN weights, LN1 gamma/beta, LN2 gamma/beta.
func (blk *EncoderBlock) BackwardGradsOnly(dY *mat.Dense) (dX *mat.Dense, grads []*mat.Dense) {
	dSum2, dGamma2, dBeta2 := blk.LN2.BackwardGradsOnly(dY)

	dFFNOut := dSum2
	if blk.drop2 != nil {
		dFFNOut = blk.drop2.Backward(dFFNOut)
	}
	dOut1FFN, ffnGrads := blk.FFN.BackwardGradsOnly(dFFNOut)
	dOut1 := utils.ToDense(utils.Add(dSum2, dOut1FFN))

	dSum1, dGamma1, dBeta1 := blk.LN1.BackwardGradsOnly(dOut1)

	dAttnOut := dSum1
	if blk.drop1 != nil {
		dAttnOut = blk.drop1.Backward(dAttnOut)
	}
	dXAttn, attnGrads := blk.Attn.BackwardGradsOnly(dAttnOut)
	dX = utils.ToDense(utils.Add(dSum1, dXAttn))

	grads = append(grads, attnGrads...)
	grads = append(grads, ffnGrads...)
	grads = append(grads, dGamma1, dBeta1, dGamma2, dBeta2)
	return dX, grads
}

func (blk *EncoderBlock) Params() []*mat.Dense {
	out := append([]*mat.Dense{}, blk.Attn.Params()...)
	out = append(out, blk.FFN.Params()...)
	out = append(out, blk.LN1.Gamma, blk.LN1.Beta, blk.LN2.Gamma, blk.LN2.Beta)
	return out
}
