package dataset

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/accelprime/prime/params"
)

// Batch is one training batch of one-hot designs with score objectives.
// Under mixed sampling the invalid fields carry an equally-sized batch of
// infeasible designs; Context is nil for single-task datasets.
type Batch struct {
	Design    *mat.Dense // (B x W)
	Objective *mat.Dense // (B x 1)
	Context   *mat.Dense // (B x C) or nil

	InvalidDesign    *mat.Dense
	InvalidObjective *mat.Dense
	InvalidContext   *mat.Dense
}

// Problem wraps a dataset with a sampling policy and hands out batches.
type Problem struct {
	DS        *Dataset
	BatchSize int
	BatchType string

	validDist   *distuv.Categorical
	invalidDist *distuv.Categorical
	allDist     *distuv.Categorical
}

// NewProblem validates the policy against the dataset composition. The mixed
// policy needs both partitions populated; valid needs at least one feasible
// record.
func NewProblem(ds *Dataset, batchSize int, batchType string, seed uint64) (*Problem, error) {
	p := &Problem{DS: ds, BatchSize: batchSize, BatchType: batchType}
	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)

	switch batchType {
	case params.BatchValid:
		probs, err := partitionProbs(ds, true)
		if err != nil {
			return nil, err
		}
		d := distuv.NewCategorical(probs, rand.New(src))
		p.validDist = &d
	case params.BatchMixed:
		validProbs, invalidProbs, err := ds.FeasibleProbs()
		if err != nil {
			return nil, err
		}
		dv := distuv.NewCategorical(validProbs, rand.New(src))
		di := distuv.NewCategorical(invalidProbs, rand.New(src))
		p.validDist, p.invalidDist = &dv, &di
	case params.BatchAll:
		probs := make([]float64, ds.Len())
		for i := range probs {
			probs[i] = 1 / float64(ds.Len())
		}
		d := distuv.NewCategorical(probs, rand.New(src))
		p.allDist = &d
	default:
		return nil, fmt.Errorf("problem: unknown batch type %q", batchType)
	}
	return p, nil
}

func partitionProbs(ds *Dataset, feasible bool) ([]float64, error) {
	count := 0
	for _, f := range ds.Feasible {
		if f == feasible {
			count++
		}
	}
	if count == 0 {
		return nil, fmt.Errorf("problem: no records with feasible=%v", feasible)
	}
	probs := make([]float64, ds.Len())
	for i, f := range ds.Feasible {
		if f == feasible {
			probs[i] = 1 / float64(count)
		}
	}
	return probs, nil
}

// SampleBatch draws one batch under the configured policy. Mixed batches
// carry BatchSize valid and BatchSize invalid designs.
func (p *Problem) SampleBatch() *Batch {
	switch p.BatchType {
	case params.BatchValid:
		idx := p.draw(p.validDist)
		d, o, c := p.assemble(idx)
		return &Batch{Design: d, Objective: o, Context: c}
	case params.BatchAll:
		idx := p.draw(p.allDist)
		d, o, c := p.assemble(idx)
		return &Batch{Design: d, Objective: o, Context: c}
	default: // mixed
		vi := p.draw(p.validDist)
		ii := p.draw(p.invalidDist)
		d, o, c := p.assemble(vi)
		invD, invO, invC := p.assemble(ii)
		return &Batch{
			Design: d, Objective: o, Context: c,
			InvalidDesign: invD, InvalidObjective: invO, InvalidContext: invC,
		}
	}
}

// TopBatch returns the n highest-scoring feasible designs as a batch.
func (p *Problem) TopBatch(n int) *Batch {
	d, o, c := p.assemble(p.DS.TopIndices(n))
	return &Batch{Design: d, Objective: o, Context: c}
}

func (p *Problem) draw(dist *distuv.Categorical) []int {
	out := make([]int, p.BatchSize)
	for i := range out {
		out[i] = int(dist.Rand())
	}
	return out
}

// assemble builds the one-hot design matrix, objectives and (when the
// dataset is multi-task) context one-hots for the chosen record indices.
func (p *Problem) assemble(recs []int) (design, objective, context *mat.Dense) {
	splits := p.DS.Cfg.Splits()
	width := p.DS.Cfg.NumInputs()
	design = mat.NewDense(len(recs), width, nil)
	objective = mat.NewDense(len(recs), 1, nil)
	multiTask := p.DS.NumContexts > 1
	if multiTask {
		context = mat.NewDense(len(recs), p.DS.NumContexts, nil)
	}
	for b, r := range recs {
		offset := 0
		for f, k := range splits {
			design.Set(b, offset+p.DS.Indices[r][f], 1)
			offset += k
		}
		objective.Set(b, 0, p.DS.Scores[r])
		if multiTask {
			context.Set(b, p.DS.Contexts[r], 1)
		}
	}
	return design, objective, context
}
