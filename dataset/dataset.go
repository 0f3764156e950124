package dataset

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// Record is one raw accelerator evaluation: parameter values keyed by field
// name, the measured runtime, the design area, and the compiler/simulator
// feasibility verdict. ContextID tags the workload for multi-task datasets;
// single-task sources leave it zero.
type Record struct {
	Params     map[string]float64
	Runtime    float64
	Area       float64
	Infeasible bool
	ContextID  int
}

// RecordIter streams records. Next returns io.EOF after the last record.
type RecordIter interface {
	Next() (*Record, error)
}

// Dataset is the fully-materialized training set: dense field indices per
// design, scores (negated runtimes, higher is better), and the feasibility
// partition.
type Dataset struct {
	Cfg *Config

	Indices  [][]int // per design, dense index per active field
	Scores   []float64
	Areas    []float64
	Feasible []bool
	Contexts []int

	NumContexts int
}

// Load drains the iterator and projects every record onto dense field
// indices. A record whose value is outside its field's declared domain is a
// configuration mismatch and fails the whole load. Feasible means the
// simulator accepted the design and, when area constraints are on, its area
// is within the threshold.
func Load(cfg *Config, iter RecordIter, addAreaConstraints bool, areaThreshold float64) (*Dataset, error) {
	ds := &Dataset{Cfg: cfg}
	names := cfg.Names()
	for {
		rec, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("dataset: read record %d: %w", len(ds.Scores), err)
		}
		row := make([]int, len(names))
		for f, name := range names {
			raw, ok := rec.Params[name]
			if !ok {
				return nil, fmt.Errorf("dataset: record %d missing field %s", len(ds.Scores), name)
			}
			idx, err := cfg.IndexOf(name, raw)
			if err != nil {
				return nil, fmt.Errorf("dataset: record %d: %w", len(ds.Scores), err)
			}
			row[f] = idx
		}
		feasible := !rec.Infeasible
		if feasible && addAreaConstraints && rec.Area > areaThreshold {
			feasible = false
		}
		ds.Indices = append(ds.Indices, row)
		ds.Scores = append(ds.Scores, -rec.Runtime)
		ds.Areas = append(ds.Areas, rec.Area)
		ds.Feasible = append(ds.Feasible, feasible)
		ds.Contexts = append(ds.Contexts, rec.ContextID)
		if rec.ContextID+1 > ds.NumContexts {
			ds.NumContexts = rec.ContextID + 1
		}
	}
	if len(ds.Scores) == 0 {
		return nil, fmt.Errorf("dataset: no records")
	}
	ds.printStats()
	return ds, nil
}

func (ds *Dataset) printStats() {
	max, min := math.Inf(-1), math.Inf(1)
	sum := 0.0
	for _, s := range ds.Scores {
		if s > max {
			max = s
		}
		if s < min {
			min = s
		}
		sum += s
	}
	valid, invalid := ds.ValidInvalidSize()
	fmt.Printf("dataset: %d records (%d valid, %d invalid), score max=%.4f mean=%.4f min=%.4f\n",
		len(ds.Scores), valid, invalid, max, sum/float64(len(ds.Scores)), min)
}

func (ds *Dataset) Len() int { return len(ds.Scores) }

// ValidInvalidSize returns the sizes of the feasibility partition.
func (ds *Dataset) ValidInvalidSize() (valid, invalid int) {
	for _, f := range ds.Feasible {
		if f {
			valid++
		} else {
			invalid++
		}
	}
	return valid, invalid
}

// InfeasibleMultiplier is the feasible/infeasible count ratio (damped by one
// so all-feasible datasets stay finite), a rough measure of how hard the
// infeasible penalty has to work on this dataset.
func (ds *Dataset) InfeasibleMultiplier() float64 {
	valid, invalid := ds.ValidInvalidSize()
	return float64(valid) / (float64(invalid) + 1)
}

// FeasibleProbs builds two sampling distributions over the dataset: uniform
// over the feasible records (zero elsewhere) and uniform over the infeasible
// ones. Each vector sums to 1; an empty partition is an error.
func (ds *Dataset) FeasibleProbs() (validProbs, invalidProbs []float64, err error) {
	valid, invalid := ds.ValidInvalidSize()
	if valid == 0 {
		return nil, nil, fmt.Errorf("dataset: no feasible records")
	}
	if invalid == 0 {
		return nil, nil, fmt.Errorf("dataset: no infeasible records")
	}
	validProbs = make([]float64, ds.Len())
	invalidProbs = make([]float64, ds.Len())
	for i, f := range ds.Feasible {
		if f {
			validProbs[i] = 1 / float64(valid)
		} else {
			invalidProbs[i] = 1 / float64(invalid)
		}
	}
	return validProbs, invalidProbs, nil
}

// TopIndices returns the indices of the n highest-scoring feasible designs.
func (ds *Dataset) TopIndices(n int) []int {
	type scored struct {
		idx   int
		score float64
	}
	var all []scored
	for i, f := range ds.Feasible {
		if f {
			all = append(all, scored{i, ds.Scores[i]})
		}
	}
	// selection by repeated max keeps this simple for the small n used here
	var out []int
	for len(out) < n && len(all) > 0 {
		best := 0
		for j := 1; j < len(all); j++ {
			if all[j].score > all[best].score {
				best = j
			}
		}
		out = append(out, all[best].idx)
		all = append(all[:best], all[best+1:]...)
	}
	return out
}
