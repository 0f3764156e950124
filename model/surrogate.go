package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/optimizations"
	"github.com/accelprime/prime/params"
	"github.com/accelprime/prime/utils"
)

// Surrogate is the conservative cost model: a split one-hot embedding, a
// stack of encoder blocks over the field sequence, and a mixture of expert
// regressors combined by a softmax voting network. An optional context
// pathway modulates the flattened encoding and feeds the voter.
type Surrogate struct {
	Cfg params.ModelConfig

	Embed   *SplitEmbedding
	embDrop *optimizations.Dropout
	Blocks  []*EncoderBlock

	Experts []*FFNet
	Voting  *FFNet

	// contextual pathway
	CtxProj  *mat.Dense // (C x D), bias-free
	CtxEmbed *FFNet     // [C, 256, D]

	flatDim int

	// caches for backprop
	lastH   *mat.Dense // (B x D) flattened encoding
	lastU   *mat.Dense // (B x D) context projection (contextual only)
	lastCtx *mat.Dense
	lastEo  *mat.Dense // (B x numVotes) expert outputs
	lastA   *mat.Dense // (B x numVotes) vote probabilities
}

// NewSurrogate validates the config and assembles the model.
func NewSurrogate(cfg params.ModelConfig) (*Surrogate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	embed, err := NewSplitEmbedding(cfg.InputSplits, cfg.EmbedDim)
	if err != nil {
		return nil, err
	}
	fields := len(cfg.InputSplits)
	rate := 0.0
	if cfg.UseDropout {
		rate = cfg.DropoutRate
	}
	m := &Surrogate{
		Cfg:     cfg,
		Embed:   embed,
		embDrop: optimizations.NewDropout(rate),
		flatDim: fields * cfg.EmbedDim,
	}
	for i := 0; i < cfg.NumEncoderBlocks; i++ {
		m.Blocks = append(m.Blocks, NewEncoderBlock(fields, cfg.EmbedDim, cfg.NumHeads, cfg.FFDim, rate))
	}

	expertDims := append([]int{m.flatDim}, cfg.Layers[1:]...)
	expertDims = append(expertDims, 1)
	for i := 0; i < cfg.NumVotes; i++ {
		m.Experts = append(m.Experts, newFFNet(expertDims, leakyAct, rate))
	}

	voteIn := m.flatDim
	if cfg.Contextual {
		voteIn = 2 * m.flatDim
		m.CtxProj = mat.NewDense(cfg.NumContexts, m.flatDim,
			utils.RandomArray(cfg.NumContexts*m.flatDim, float64(cfg.NumContexts)))
		m.CtxEmbed = newFFNet([]int{cfg.NumContexts, 256, m.flatDim}, leakyAct, 0)
	}
	m.Voting = newFFNet([]int{voteIn, cfg.Layers[1], cfg.NumVotes}, leakyAct, rate)
	return m, nil
}

// flatten turns a stacked (B*F x E) sequence into (B x F*E) rows.
func (m *Surrogate) flatten(stacked *mat.Dense) *mat.Dense {
	fields := m.Embed.NumFields()
	rows, e := stacked.Dims()
	b := rows / fields
	out := mat.NewDense(b, fields*e, nil)
	for i := 0; i < b; i++ {
		for f := 0; f < fields; f++ {
			for j := 0; j < e; j++ {
				out.Set(i, f*e+j, stacked.At(i*fields+f, j))
			}
		}
	}
	return out
}

func (m *Surrogate) unflatten(flat *mat.Dense) *mat.Dense {
	fields := m.Embed.NumFields()
	b, d := flat.Dims()
	e := d / fields
	out := mat.NewDense(b*fields, e, nil)
	for i := 0; i < b; i++ {
		for f := 0; f < fields; f++ {
			for j := 0; j < e; j++ {
				out.Set(i*fields+f, j, flat.At(i, f*e+j))
			}
		}
	}
	return out
}

// Forward scores a one-hot design batch (B x W). ctx is (B x C) for
// contextual models and ignored otherwise. Returns per-example predictions
// (B x 1) and the mean vote log-likelihood (negated entropy of the voter).
func (m *Surrogate) Forward(X, ctx *mat.Dense, training bool) (*mat.Dense, float64) {
	seq := m.embDrop.Forward(m.Embed.Forward(X), training)
	for _, blk := range m.Blocks {
		seq = blk.Forward(seq, training)
	}
	h := m.flatten(seq)
	m.lastH = h

	expertIn := h
	var voteIn *mat.Dense
	if m.Cfg.Contextual {
		m.lastCtx = ctx
		u := utils.ToDense(utils.Dot(ctx, m.CtxProj))
		hm := utils.ToDense(utils.Multiply(h, u))
		m.lastU = u
		expertIn = hm

		ce := m.CtxEmbed.Forward(ctx, training)
		b, d := hm.Dims()
		voteIn = mat.NewDense(b, 2*d, nil)
		for i := 0; i < b; i++ {
			for j := 0; j < d; j++ {
				voteIn.Set(i, j, hm.At(i, j))
				voteIn.Set(i, d+j, ce.At(i, j))
			}
		}
	} else {
		voteIn = h
	}

	b, _ := X.Dims()
	eo := mat.NewDense(b, m.Cfg.NumVotes, nil)
	for j, ex := range m.Experts {
		col := ex.Forward(expertIn, training)
		for i := 0; i < b; i++ {
			eo.Set(i, j, col.At(i, 0))
		}
	}
	m.lastEo = eo

	logits := m.Voting.Forward(voteIn, training)
	a := utils.RowSoftmax(logits)
	m.lastA = a

	pred := mat.NewDense(b, 1, nil)
	entropy := 0.0
	for i := 0; i < b; i++ {
		p := 0.0
		for j := 0; j < m.Cfg.NumVotes; j++ {
			aij := a.At(i, j)
			p += aij * eo.At(i, j)
			if aij > 0 {
				entropy += aij * math.Log(aij)
			}
		}
		pred.Set(i, 0, p)
	}
	return pred, entropy / float64(b)
}

// Backward propagates dPred (B x 1) through the whole model. Returns the
// parameter gradients in Params order and the gradient on the one-hot input.
func (m *Surrogate) Backward(dPred *mat.Dense) (grads []*mat.Dense, dX *mat.Dense) {
	b, _ := dPred.Dims()
	nv := m.Cfg.NumVotes

	dEo := mat.NewDense(b, nv, nil)
	dA := mat.NewDense(b, nv, nil)
	for i := 0; i < b; i++ {
		dp := dPred.At(i, 0)
		for j := 0; j < nv; j++ {
			dEo.Set(i, j, dp*m.lastA.At(i, j))
			dA.Set(i, j, dp*m.lastEo.At(i, j))
		}
	}
	dLogits := utils.SoftmaxBackward(dA, m.lastA)
	dVoteIn, votingGrads := m.Voting.BackwardGradsOnly(dLogits)

	dExpertIn := mat.NewDense(b, m.flatDim, nil)
	var expertGrads []*mat.Dense
	for j, ex := range m.Experts {
		dCol := mat.NewDense(b, 1, nil)
		for i := 0; i < b; i++ {
			dCol.Set(i, 0, dEo.At(i, j))
		}
		dIn, g := ex.BackwardGradsOnly(dCol)
		utils.AddInPlace(dExpertIn, dIn)
		expertGrads = append(expertGrads, g...)
	}

	var dH *mat.Dense
	var ctxProjGrad *mat.Dense
	var ctxEmbedGrads []*mat.Dense
	if m.Cfg.Contextual {
		// split the voting-input gradient into its modulated-encoding and
		// context-embedding halves
		dHmVote := utils.ToDense(dVoteIn.Slice(0, b, 0, m.flatDim))
		dCE := utils.ToDense(dVoteIn.Slice(0, b, m.flatDim, 2*m.flatDim))

		dHm := utils.ToDense(utils.Add(dExpertIn, dHmVote))
		dH = utils.ToDense(utils.Multiply(dHm, m.lastU))
		dU := utils.ToDense(utils.Multiply(dHm, m.lastH))
		ctxProjGrad = utils.ToDense(utils.Dot(m.lastCtx.T(), dU))

		_, ctxEmbedGrads = m.CtxEmbed.BackwardGradsOnly(dCE)
	} else {
		dH = utils.ToDense(utils.Add(dExpertIn, dVoteIn))
	}

	dSeq := m.unflatten(dH)
	var blockGrads [][]*mat.Dense
	for i := len(m.Blocks) - 1; i >= 0; i-- {
		var g []*mat.Dense
		dSeq, g = m.Blocks[i].BackwardGradsOnly(dSeq)
		blockGrads = append([][]*mat.Dense{g}, blockGrads...)
	}
	dSeq = m.embDrop.Backward(dSeq)
	dX, embGrads := m.Embed.BackwardGradsOnly(dSeq)

	grads = append(grads, embGrads...)
	for _, g := range blockGrads {
		grads = append(grads, g...)
	}
	if m.Cfg.Contextual {
		grads = append(grads, ctxProjGrad)
		grads = append(grads, ctxEmbedGrads...)
	}
	grads = append(grads, expertGrads...)
	grads = append(grads, votingGrads...)
	return grads, dX
}

// Params returns every trainable matrix in a fixed order matching Backward.
func (m *Surrogate) Params() []*mat.Dense {
	out := append([]*mat.Dense{}, m.Embed.Params()...)
	for _, blk := range m.Blocks {
		out = append(out, blk.Params()...)
	}
	if m.Cfg.Contextual {
		out = append(out, m.CtxProj)
		out = append(out, m.CtxEmbed.Params()...)
	}
	for _, ex := range m.Experts {
		out = append(out, ex.Params()...)
	}
	out = append(out, m.Voting.Params()...)
	return out
}

// InputGradient returns d(sum of predictions)/d(input) for a batch without
// touching parameter state. Used by the adversarial sampler.
func (m *Surrogate) InputGradient(X, ctx *mat.Dense) *mat.Dense {
	b, _ := X.Dims()
	m.Forward(X, ctx, false)
	ones := mat.NewDense(b, 1, nil)
	for i := 0; i < b; i++ {
		ones.Set(i, 0, 1)
	}
	_, dX := m.Backward(ones)
	return dX
}
