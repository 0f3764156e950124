package model

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/dataset"
	"github.com/accelprime/prime/optimizations"
	"github.com/accelprime/prime/params"
	"github.com/accelprime/prime/utils"
)

// Clip bounds on the conservative penalty terms. Predictions on negatives
// are clipped per example before averaging; the averaged terms are clipped
// again, and gradients flow only through the unclipped regions.
const (
	negPredClipLo = -4000.0
	negPredClipHi = 4000.0
	cqlClipLo     = -4000.0
	cqlClipHi     = 1e6
	infeasClipLo  = -1000.0
	infeasClipHi  = 1e6
)

// Losses maps scalar metric names to values for one train or eval step.
type Losses map[string]float64

// Trainer owns the model, the optimizer and the negative sampler, and runs
// the conservative objective: one combined gradient over the supervised,
// CQL and infeasibility terms, one Adam step.
type Trainer struct {
	Model   *Surrogate
	Opt     *optimizations.Adam
	Sampler NegativeSampler
	Cfg     params.TrainConfig
}

func NewTrainer(m *Surrogate, sampler NegativeSampler, cfg params.TrainConfig) *Trainer {
	return &Trainer{
		Model:   m,
		Opt:     optimizations.NewAdam(cfg.OptLR, cfg.AdamBeta1, cfg.AdamBeta2, cfg.AdamEps, cfg.WeightDecay, m.Params()),
		Sampler: sampler,
		Cfg:     cfg,
	}
}

// Step runs one training step on a batch. Each sub-pass (negatives, invalid
// designs, valid designs) does forward immediately followed by backward so
// the per-layer caches are never stale; the gradients accumulate into a
// single update.
func (t *Trainer) Step(b *dataset.Batch) (Losses, error) {
	losses := Losses{}
	var acc []*mat.Dense

	negatives, err := t.Sampler.Infer(t.Model, b)
	if err != nil {
		return nil, err
	}

	negPred, _ := t.Model.Forward(negatives, b.Context, true)
	cql, negMean, dNeg := cqlTerm(negPred, t.Model.Cfg.CQLAlpha)
	grads, _ := t.Model.Backward(dNeg)
	acc = accumulate(acc, grads)
	losses["cql_loss"] = cql
	losses["negatives_pred"] = negMean
	losses["negatives_dist"] = clippedMean(negPred, negPredClipLo, negPredClipHi)

	var invPred *mat.Dense
	if b.InvalidDesign != nil {
		invPred, _ = t.Model.Forward(b.InvalidDesign, b.InvalidContext, true)
		yInf, dInv := infeasibleTerm(invPred, t.Model.Cfg.InfeasibleAlpha)
		grads, _ = t.Model.Backward(dInv)
		acc = accumulate(acc, grads)
		losses["y_value_infeasible"] = yInf
		mseInv, _ := weightedMSELoss(invPred, b.InvalidObjective)
		losses["mse_loss_invalid"] = mseInv
		losses["avg_approx_loss_invalid"] = approxLoss(invPred, b.InvalidObjective)
	}

	pred, voteEnt := t.Model.Forward(b.Design, b.Context, true)
	baseLoss, dPred := t.baseLoss(pred, b.Objective)
	rankLoss, dRank := rankingBCE(pred, b.Objective, b.Context)
	if t.Cfg.LossType == params.LossMSERank {
		dPred.Add(dPred, utils.ToDense(utils.Scale(t.Cfg.RankingPenaltyWeight, dRank)))
	}
	grads, _ = t.Model.Backward(dPred)
	acc = accumulate(acc, grads)

	t.fillValidMetrics(losses, pred, b, baseLoss, rankLoss, voteEnt)
	if invPred != nil {
		losses["mse_loss_overall"] = losses["mse_loss"] + losses["mse_loss_invalid"]
	}

	if t.Cfg.GradClip > 0 {
		utils.ClipGrads(t.Cfg.GradClip, acc...)
	}
	t.Opt.Step(t.Model.Params(), acc)
	return losses, nil
}

// Measure computes the same scalar metrics forward-only, for validation.
func (t *Trainer) Measure(b *dataset.Batch) (Losses, error) {
	losses := Losses{}

	negatives, err := t.Sampler.Infer(t.Model, b)
	if err != nil {
		return nil, err
	}
	negPred, _ := t.Model.Forward(negatives, b.Context, false)
	cql, negMean, _ := cqlTerm(negPred, t.Model.Cfg.CQLAlpha)
	losses["cql_loss"] = cql
	losses["negatives_pred"] = negMean
	losses["negatives_dist"] = clippedMean(negPred, negPredClipLo, negPredClipHi)

	if b.InvalidDesign != nil {
		invPred, _ := t.Model.Forward(b.InvalidDesign, b.InvalidContext, false)
		yInf, _ := infeasibleTerm(invPred, t.Model.Cfg.InfeasibleAlpha)
		losses["y_value_infeasible"] = yInf
		mseInv, _ := weightedMSELoss(invPred, b.InvalidObjective)
		losses["mse_loss_invalid"] = mseInv
		losses["avg_approx_loss_invalid"] = approxLoss(invPred, b.InvalidObjective)
	}

	pred, voteEnt := t.Model.Forward(b.Design, b.Context, false)
	baseLoss, _ := t.baseLoss(pred, b.Objective)
	rankLoss, _ := rankingBCE(pred, b.Objective, b.Context)
	t.fillValidMetrics(losses, pred, b, baseLoss, rankLoss, voteEnt)
	if b.InvalidDesign != nil {
		losses["mse_loss_overall"] = losses["mse_loss"] + losses["mse_loss_invalid"]
	}
	return losses, nil
}

func (t *Trainer) baseLoss(pred, y *mat.Dense) (float64, *mat.Dense) {
	if t.Cfg.LossType == params.LossHuber {
		return weightedHuberLoss(pred, y, 1.0)
	}
	return weightedMSELoss(pred, y)
}

func (t *Trainer) fillValidMetrics(losses Losses, pred *mat.Dense, b *dataset.Batch, baseLoss, rankLoss, voteEnt float64) {
	losses["mse_loss"] = baseLoss
	losses["avg_ranking_train_loss"] = rankLoss
	losses["avg_approx_loss"] = approxLoss(pred, b.Objective)
	losses["vote_entropy"] = voteEnt
	losses["model_pred_average"] = utils.ColMean(pred)

	pearson, kendall := rankStats(utils.ColToSlice(pred), utils.ColToSlice(b.Objective), b.Context)
	losses["avg_ranking_loss"] = pearson
	losses["avg_kendall_loss"] = kendall

	yMax, ySum := math.Inf(-1), 0.0
	n, _ := b.Objective.Dims()
	for i := 0; i < n; i++ {
		v := b.Objective.At(i, 0)
		if v > yMax {
			yMax = v
		}
		ySum += v
	}
	losses["y_values_max"] = yMax
	losses["y_values_mean"] = ySum / float64(n)
}

// cqlTerm clips negatives predictions per example, averages, clips the mean
// and returns the gated gradient scaled by alpha.
func cqlTerm(pred *mat.Dense, alpha float64) (cql, rawMean float64, dPred *mat.Dense) {
	b, _ := pred.Dims()
	dPred = mat.NewDense(b, 1, nil)
	clippedSum, rawSum := 0.0, 0.0
	gates := make([]float64, b)
	for i := 0; i < b; i++ {
		v := pred.At(i, 0)
		rawSum += v
		clippedSum += utils.Clip(v, negPredClipLo, negPredClipHi)
		if v > negPredClipLo && v < negPredClipHi {
			gates[i] = 1
		}
	}
	mean := clippedSum / float64(b)
	cql = utils.Clip(mean, cqlClipLo, cqlClipHi)
	outer := 0.0
	if mean > cqlClipLo && mean < cqlClipHi {
		outer = 1
	}
	for i := 0; i < b; i++ {
		dPred.Set(i, 0, alpha*outer*gates[i]/float64(b))
	}
	return cql, rawSum / float64(b), dPred
}

// infeasibleTerm pushes the mean prediction on known-infeasible designs
// down, clipped to keep a diverging model from dominating the update.
func infeasibleTerm(pred *mat.Dense, alpha float64) (yInf float64, dPred *mat.Dense) {
	b, _ := pred.Dims()
	dPred = mat.NewDense(b, 1, nil)
	sum := 0.0
	for i := 0; i < b; i++ {
		sum += pred.At(i, 0)
	}
	mean := sum / float64(b)
	yInf = utils.Clip(mean, infeasClipLo, infeasClipHi)
	outer := 0.0
	if mean > infeasClipLo && mean < infeasClipHi {
		outer = 1
	}
	for i := 0; i < b; i++ {
		dPred.Set(i, 0, alpha*outer/float64(b))
	}
	return yInf, dPred
}

func weightedMSELoss(pred, y *mat.Dense) (float64, *mat.Dense) {
	b, _ := pred.Dims()
	dPred := mat.NewDense(b, 1, nil)
	loss := 0.0
	for i := 0; i < b; i++ {
		d := pred.At(i, 0) - y.At(i, 0)
		loss += d * d
		dPred.Set(i, 0, 2*d/float64(b))
	}
	return loss / float64(b), dPred
}

// weightedHuberLoss is the robust alternative to MSE: quadratic within
// delta, linear outside.
func weightedHuberLoss(pred, y *mat.Dense, delta float64) (float64, *mat.Dense) {
	b, _ := pred.Dims()
	dPred := mat.NewDense(b, 1, nil)
	loss := 0.0
	for i := 0; i < b; i++ {
		d := pred.At(i, 0) - y.At(i, 0)
		if math.Abs(d) <= delta {
			loss += 0.5 * d * d
			dPred.Set(i, 0, d/float64(b))
		} else {
			loss += delta * (math.Abs(d) - 0.5*delta)
			dPred.Set(i, 0, delta*signOf(d)/float64(b))
		}
	}
	return loss / float64(b), dPred
}

// approxLoss is the mean relative error, logging only.
func approxLoss(pred, y *mat.Dense) float64 {
	b, _ := pred.Dims()
	sum := 0.0
	for i := 0; i < b; i++ {
		sum += math.Abs(pred.At(i, 0)-y.At(i, 0)) / (math.Abs(y.At(i, 0)) + 1e-6)
	}
	return sum / float64(b)
}

// rankingBCE scores every ordered pair with logit
// sign(y_i - y_j) * (f_i - f_j) against an all-ones label, so a correctly
// ordered pair with a wide margin costs nothing and a misordered pair is
// penalized in proportion to its margin. The sign factor carries no
// gradient; the prediction difference does. For multi-task batches pairs are
// formed inside each context group and the per-context losses averaged;
// objectives from different workloads are on incomparable scales and never
// meet in a pair.
func rankingBCE(pred, y, ctx *mat.Dense) (float64, *mat.Dense) {
	b, _ := pred.Dims()
	dPred := mat.NewDense(b, 1, nil)
	if ctx == nil {
		all := make([]int, b)
		for i := range all {
			all[i] = i
		}
		return pairwiseBCE(pred, y, all, 1, dPred), dPred
	}
	groups := contextGroups(ctx)
	loss := 0.0
	for _, idxs := range groups {
		loss += pairwiseBCE(pred, y, idxs, float64(len(groups)), dPred)
	}
	return loss / float64(len(groups)), dPred
}

// pairwiseBCE accumulates the pairwise loss and gradient over one index
// group. Gradients are divided by numGroups so grouped calls average.
func pairwiseBCE(pred, y *mat.Dense, idxs []int, numGroups float64, dPred *mat.Dense) float64 {
	n := float64(len(idxs) * len(idxs))
	loss := 0.0
	for _, i := range idxs {
		for _, j := range idxs {
			s := signOf(y.At(i, 0) - y.At(j, 0))
			logit := s * (pred.At(i, 0) - pred.At(j, 0))
			loss += softplus(-logit)
			g := -sigmoid(-logit) * s / (n * numGroups)
			dPred.Set(i, 0, dPred.At(i, 0)+g)
			dPred.Set(j, 0, dPred.At(j, 0)-g)
		}
	}
	return loss / n
}

// contextGroups buckets batch rows by the dominant entry of their context
// one-hot.
func contextGroups(ctx *mat.Dense) map[int][]int {
	r, c := ctx.Dims()
	groups := make(map[int][]int)
	for i := 0; i < r; i++ {
		best := 0
		for j := 1; j < c; j++ {
			if ctx.At(i, j) > ctx.At(i, best) {
				best = j
			}
		}
		groups[best] = append(groups[best], i)
	}
	return groups
}

// rankStats computes Pearson-of-ranks and pairwise Kendall correlation
// between predictions and objectives. For multi-task batches the stats are
// computed per context and averaged over every context that contributed.
func rankStats(pred, y []float64, ctx *mat.Dense) (pearson, kendall float64) {
	if ctx == nil {
		if len(pred) < 2 {
			return 0, 0
		}
		return utils.PearsonRankCorrelation(pred, y), utils.KendallPairwise(pred, y)
	}
	groups := contextGroups(ctx)
	var pSum, kSum float64
	count := 0
	for _, idxs := range groups {
		if len(idxs) < 2 {
			continue
		}
		gp := make([]float64, len(idxs))
		gy := make([]float64, len(idxs))
		for k, i := range idxs {
			gp[k], gy[k] = pred[i], y[i]
		}
		pSum += utils.PearsonRankCorrelation(gp, gy)
		kSum += utils.KendallPairwise(gp, gy)
		count++
	}
	if count == 0 {
		return 0, 0
	}
	return pSum / float64(count), kSum / float64(count)
}

func accumulate(dst, src []*mat.Dense) []*mat.Dense {
	if dst == nil {
		dst = make([]*mat.Dense, len(src))
		for i, g := range src {
			dst[i] = mat.DenseCopyOf(g)
		}
		return dst
	}
	for i, g := range src {
		utils.AddInPlace(dst[i], g)
	}
	return dst
}

// clippedMean averages column-vector entries after clipping each to [lo, hi].
func clippedMean(pred *mat.Dense, lo, hi float64) float64 {
	b, _ := pred.Dims()
	sum := 0.0
	for i := 0; i < b; i++ {
		sum += utils.Clip(pred.At(i, 0), lo, hi)
	}
	return sum / float64(b)
}

func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func signOf(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
