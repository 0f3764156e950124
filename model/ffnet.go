package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/optimizations"
	"github.com/accelprime/prime/utils"
)

// activation bundles an elementwise function with its derivative evaluated
// at the pre-activation.
type activation struct {
	apply func(i, j int, v float64) float64
	prime func(m mat.Matrix) *mat.Dense
}

var (
	reluAct  = activation{apply: utils.ReluApply, prime: utils.ReluPrime}
	leakyAct = activation{apply: utils.LeakyReluApply, prime: utils.LeakyReluPrime}
)

// FFNet is a dense stack of arbitrary depth: every layer but the last is
// followed by the configured activation (and optional dropout); the last
// layer is linear. It backs the encoder feed-forward sublayer, the expert
// regressors, the voting network and the context embedding network.
type FFNet struct {
	Dims []int
	W    []*mat.Dense // (Dims[i] x Dims[i+1])
	B    []*mat.Dense // (1 x Dims[i+1])

	act   activation
	drops []*optimizations.Dropout // nil entries disable dropout for a layer

	// cache for backprop
	lastInput *mat.Dense
	preacts   []*mat.Dense // linear outputs per layer
	acts      []*mat.Dense // post-activation (and dropout) per hidden layer
}

// newFFNet builds a stack over the given widths. dropRate <= 0 disables
// dropout. The final layer never gets activation or dropout.
func newFFNet(dims []int, act activation, dropRate float64) *FFNet {
	if len(dims) < 2 {
		panic(fmt.Sprintf("ffnet: need at least 2 dims, got %d", len(dims)))
	}
	n := len(dims) - 1
	net := &FFNet{
		Dims:  append([]int(nil), dims...),
		W:     make([]*mat.Dense, n),
		B:     make([]*mat.Dense, n),
		act:   act,
		drops: make([]*optimizations.Dropout, n),
	}
	for i := 0; i < n; i++ {
		in, out := dims[i], dims[i+1]
		net.W[i] = mat.NewDense(in, out, utils.RandomArray(in*out, float64(in)))
		net.B[i] = mat.NewDense(1, out, nil)
		if i < n-1 && dropRate > 0 {
			net.drops[i] = optimizations.NewDropout(dropRate)
		}
	}
	return net
}

// Forward runs the stack on a (B x Dims[0]) batch.
func (net *FFNet) Forward(X *mat.Dense, training bool) *mat.Dense {
	net.lastInput = X
	n := len(net.W)
	net.preacts = make([]*mat.Dense, n)
	net.acts = make([]*mat.Dense, n)

	h := X
	for i := 0; i < n; i++ {
		z := utils.AddRowBias(utils.ToDense(utils.Dot(h, net.W[i])), net.B[i])
		net.preacts[i] = z
		if i == n-1 {
			net.acts[i] = z
			h = z
			continue
		}
		a := utils.ToDense(utils.Apply(net.act.apply, z))
		if net.drops[i] != nil {
			a = net.drops[i].Forward(a, training)
		}
		net.acts[i] = a
		h = a
	}
	return h
}

// BackwardGradsOnly maps dY back to dX and the weight/bias grads in Params
// order.
func (net *FFNet) BackwardGradsOnly(dY *mat.Dense) (dX *mat.Dense, grads []*mat.Dense) {
	n := len(net.W)
	dWs := make([]*mat.Dense, n)
	dBs := make([]*mat.Dense, n)

	d := dY
	for i := n - 1; i >= 0; i-- {
		if i < n-1 {
			if net.drops[i] != nil {
				d = net.drops[i].Backward(d)
			}
			d = utils.ToDense(utils.Multiply(d, net.act.prime(net.preacts[i])))
		}
		in := net.lastInput
		if i > 0 {
			in = net.acts[i-1]
		}
		dWs[i] = utils.ToDense(utils.Dot(in.T(), d))
		dBs[i] = utils.ColSums(d)
		d = utils.ToDense(utils.Dot(d, net.W[i].T()))
	}
	dX = d

	grads = make([]*mat.Dense, 0, 2*n)
	for i := 0; i < n; i++ {
		grads = append(grads, dWs[i], dBs[i])
	}
	return dX, grads
}

func (net *FFNet) Params() []*mat.Dense {
	out := make([]*mat.Dense, 0, 2*len(net.W))
	for i := range net.W {
		out = append(out, net.W[i], net.B[i])
	}
	return out
}
