package dataset

import (
	"io"
	"math"
	"reflect"
	"testing"
)

// sliceIter serves records from memory in order.
type sliceIter struct {
	recs []*Record
	pos  int
}

func (it *sliceIter) Next() (*Record, error) {
	if it.pos >= len(it.recs) {
		return nil, io.EOF
	}
	r := it.recs[it.pos]
	it.pos++
	return r, nil
}

func rec(p1, p2, runtime, area float64, infeasible bool) *Record {
	return &Record{
		Params:     map[string]float64{"param_1": p1, "param_2": p2},
		Runtime:    runtime,
		Area:       area,
		Infeasible: infeasible,
	}
}

const twoFieldConfig = `discrete:param_1:float64:true:1,2,4
discrete:param_2:float64:true:1,2`

func mustConfig(t *testing.T, text string) *Config {
	t.Helper()
	cfg, err := ParseFieldConfig(text)
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLoadProjectsAndNegatesScores(t *testing.T) {
	cfg := mustConfig(t, twoFieldConfig)
	ds, err := Load(cfg, &sliceIter{recs: []*Record{
		rec(4, 1, 3.0, 10, false),
		rec(1, 2, 7.0, 10, false),
	}}, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ds.Indices[0], []int{2, 0}) {
		t.Fatalf("indices[0] = %v", ds.Indices[0])
	}
	if ds.Scores[0] != -3.0 || ds.Scores[1] != -7.0 {
		t.Fatalf("scores = %v, want negated runtimes", ds.Scores)
	}
}

func TestLoadRejectsUnknownValue(t *testing.T) {
	cfg := mustConfig(t, twoFieldConfig)
	_, err := Load(cfg, &sliceIter{recs: []*Record{rec(3, 1, 1, 1, false)}}, false, 0)
	if err == nil {
		t.Fatal("expected lookup error for value outside the field domain")
	}
}

func TestLoadRejectsMissingField(t *testing.T) {
	cfg := mustConfig(t, twoFieldConfig)
	_, err := Load(cfg, &sliceIter{recs: []*Record{{
		Params:  map[string]float64{"param_1": 1},
		Runtime: 1,
	}}}, false, 0)
	if err == nil {
		t.Fatal("expected error for record missing a field")
	}
}

// Designs over the area threshold flip to infeasible only when area
// constraints are on.
func TestAreaConstraintGatesFeasibility(t *testing.T) {
	cfg := mustConfig(t, "discrete:param_1:float64:true:1,2,4")
	records := func() *sliceIter {
		return &sliceIter{recs: []*Record{
			{Params: map[string]float64{"param_1": 1}, Runtime: 1, Area: 20},
			{Params: map[string]float64{"param_1": 2}, Runtime: 1, Area: 30},
			{Params: map[string]float64{"param_1": 4}, Runtime: 1, Area: 25, Infeasible: true},
		}}
	}

	constrained, err := Load(cfg, records(), true, 27.0)
	if err != nil {
		t.Fatal(err)
	}
	if got := constrained.Feasible; !reflect.DeepEqual(got, []bool{true, false, false}) {
		t.Fatalf("with constraints: feasible = %v", got)
	}

	unconstrained, err := Load(cfg, records(), false, 27.0)
	if err != nil {
		t.Fatal(err)
	}
	if got := unconstrained.Feasible; !reflect.DeepEqual(got, []bool{true, true, false}) {
		t.Fatalf("without constraints: feasible = %v", got)
	}
}

func TestFeasibleProbs(t *testing.T) {
	cfg := mustConfig(t, twoFieldConfig)
	ds, err := Load(cfg, &sliceIter{recs: []*Record{
		rec(1, 1, 1, 1, false),
		rec(2, 1, 2, 1, true),
		rec(4, 2, 3, 1, false),
		rec(1, 2, 4, 1, false),
	}}, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	valid, invalid, err := ds.FeasibleProbs()
	if err != nil {
		t.Fatal(err)
	}
	for i, f := range ds.Feasible {
		if f && (valid[i] == 0 || invalid[i] != 0) {
			t.Fatalf("feasible record %d: valid=%g invalid=%g", i, valid[i], invalid[i])
		}
		if !f && (invalid[i] == 0 || valid[i] != 0) {
			t.Fatalf("infeasible record %d: valid=%g invalid=%g", i, valid[i], invalid[i])
		}
	}
	for name, probs := range map[string][]float64{"valid": valid, "invalid": invalid} {
		sum := 0.0
		for _, p := range probs {
			sum += p
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("%s probs sum to %g", name, sum)
		}
	}

	v, inv := ds.ValidInvalidSize()
	if v != 3 || inv != 1 {
		t.Fatalf("ValidInvalidSize = %d, %d", v, inv)
	}
}

func TestFeasibleProbsEmptyPartition(t *testing.T) {
	cfg := mustConfig(t, twoFieldConfig)
	ds, err := Load(cfg, &sliceIter{recs: []*Record{rec(1, 1, 1, 1, false)}}, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := ds.FeasibleProbs(); err == nil {
		t.Fatal("expected error when one partition is empty")
	}
}

func TestTopIndices(t *testing.T) {
	cfg := mustConfig(t, twoFieldConfig)
	ds, err := Load(cfg, &sliceIter{recs: []*Record{
		rec(1, 1, 5, 1, false), // score -5
		rec(2, 1, 1, 1, false), // score -1, best
		rec(4, 1, 3, 1, true),  // infeasible, excluded
		rec(1, 2, 2, 1, false), // score -2
	}}, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got := ds.TopIndices(2); !reflect.DeepEqual(got, []int{1, 3}) {
		t.Fatalf("TopIndices(2) = %v, want [1 3]", got)
	}
}
