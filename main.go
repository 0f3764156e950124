package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"

	"github.com/accelprime/prime/dataset"
	"github.com/accelprime/prime/params"
	"github.com/accelprime/prime/training"
)

// Reference accelerator design space: ten discrete parameters (PE array
// dims, buffer and memory sizes).
const referenceConfig = `discrete:param_1:float64:true:1,2,4,6,8,10,12,14,16,32
discrete:param_2:float64:true:1,2,4,6,8,10,12,14,16,32
discrete:param_3:float64:true:4,8,16,32,64,128,256
discrete:param_7:float64:true:256,512,1024,2048,4096,8192,16384
discrete:param_8:float64:true:8192,16384,32768,65536
discrete:param_9:float64:true:2048,4096,8192,16384,32768
discrete:param_6:float64:true:4096,8192,16384,32768,65536,131072,262144,524288,1048576,2097152,4194304
discrete:param_5:float64:true:262144,524288,1048576,2097152,4194304,8388608,16777216
discrete:param_4:float64:true:1,2,4,6,8,10,12,14,16,32
discrete:param_10:float64:true:5,10,16,20,25,30`

func main() {
	var (
		configArg   = flag.String("config", referenceConfig, "field config: file path or inline text")
		trainCSV    = flag.String("train-csv", "", "training records CSV (empty: synthetic data)")
		valCSV      = flag.String("val-csv", "", "validation records CSV (empty: synthetic data)")
		synthetic   = flag.Int("synthetic", 4096, "synthetic records per split when no CSV is given")
		steps       = flag.Int("steps", 100000, "gradient steps")
		summaryFreq = flag.Int("summary-freq", 1000, "steps between metric summaries")
		evalFreq    = flag.Int("eval-freq", 1000, "steps between validation passes")
		batchSize   = flag.Int("batch-size", 256, "designs per batch")
		batchType   = flag.String("batch-type", params.BatchMixed, "sampling policy: valid, mixed or all")
		lossType    = flag.String("loss-type", params.LossMSE, "mse, mse+rank or huber")
		rankWeight  = flag.Float64("rank-weight", 0.1, "ranking penalty weight for mse+rank")
		lr          = flag.Float64("lr", 1e-4, "Adam learning rate")
		gradClip    = flag.Float64("grad-clip", 0, "global grad-norm clip (0 disables)")
		numVotes    = flag.Int("num-votes", 1, "experts in the prediction head")
		cqlAlpha    = flag.Float64("cql-alpha", 1.0, "conservatism penalty weight")
		infAlpha    = flag.Float64("infeasible-alpha", 1.0, "infeasible prediction penalty weight")
		ascSteps    = flag.Int("grad-ascent-steps", 20, "negative sampler iterations")
		dropout     = flag.Bool("dropout", false, "enable dropout")
		saveDir     = flag.String("save-dir", "", "checkpoint directory (empty disables)")
		seed        = flag.Uint64("seed", 1, "synthetic data seed")
	)
	flag.Parse()

	fieldCfg, err := dataset.LoadFieldConfig(*configArg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cfg := params.DefaultTrainConfig()
	cfg.TrainSteps = *steps
	cfg.SummaryFreq = *summaryFreq
	cfg.EvalFreq = *evalFreq
	cfg.BatchSize = *batchSize
	cfg.BatchType = *batchType
	cfg.LossType = *lossType
	cfg.RankingPenaltyWeight = *rankWeight
	cfg.OptLR = *lr
	cfg.GradClip = *gradClip
	cfg.NumVotes = *numVotes
	cfg.CQLAlpha = *cqlAlpha
	cfg.InfeasibleAlpha = *infAlpha
	cfg.GradAscentSteps = *ascSteps
	cfg.UseDropout = *dropout
	cfg.SaveDir = *saveDir

	trainRecs, err := recordSource(*trainCSV, fieldCfg, *synthetic, *seed)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	valRecs, err := recordSource(*valCSV, fieldCfg, *synthetic/4, *seed+1)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if _, err := training.TrainEvalOffline(cfg, fieldCfg, trainRecs, valRecs); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println("Finished Training")
}

func recordSource(path string, cfg *dataset.Config, synthetic int, seed uint64) (dataset.RecordIter, error) {
	if path == "" {
		return newSyntheticIter(cfg, synthetic, seed), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return newCSVIter(f)
}

// csvIter adapts a CSV file with a header row to the record boundary.
// Columns named after fields carry raw parameter values; runtime, area and
// infeasible are required, context is optional.
type csvIter struct {
	f      io.Closer
	r      *csv.Reader
	header []string
}

func newCSVIter(f *os.File) (*csvIter, error) {
	r := csv.NewReader(f)
	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("csv records: read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	return &csvIter{f: f, r: r, header: header}, nil
}

func (it *csvIter) Next() (*dataset.Record, error) {
	row, err := it.r.Read()
	if errors.Is(err, io.EOF) {
		it.f.Close()
		return nil, io.EOF
	}
	if err != nil {
		return nil, err
	}
	rec := &dataset.Record{Params: make(map[string]float64)}
	for i, name := range it.header {
		v, err := strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		if err != nil {
			return nil, fmt.Errorf("csv records: column %s: %w", name, err)
		}
		switch name {
		case "runtime":
			rec.Runtime = v
		case "area":
			rec.Area = v
		case "infeasible":
			rec.Infeasible = v != 0
		case "context":
			rec.ContextID = int(v)
		default:
			rec.Params[name] = v
		}
	}
	return rec, nil
}

// syntheticIter fabricates plausible evaluations over the configured design
// space so the trainer runs end to end without real simulator data: runtime
// grows with log-scale resource sizes plus noise, area scales with the
// compute parameters, and a slice of designs is marked infeasible outright.
type syntheticIter struct {
	cfg  *dataset.Config
	n    int
	rng  *rand.Rand
	seen int
}

func newSyntheticIter(cfg *dataset.Config, n int, seed uint64) *syntheticIter {
	return &syntheticIter{cfg: cfg, n: n, rng: rand.New(rand.NewPCG(seed, seed<<1|1))}
}

func (it *syntheticIter) Next() (*dataset.Record, error) {
	if it.seen >= it.n {
		return nil, io.EOF
	}
	it.seen++

	rec := &dataset.Record{Params: make(map[string]float64)}
	runtime := 50.0
	area := 5.0
	for _, f := range it.cfg.Active() {
		v := f.Values[it.rng.IntN(len(f.Values))]
		rec.Params[f.Name] = v
		// bigger resources run faster but cost area
		norm := v / f.Values[len(f.Values)-1]
		runtime -= 3 * norm
		area += 3.5 * norm
	}
	rec.Runtime = runtime + it.rng.NormFloat64()
	rec.Area = area + it.rng.NormFloat64()
	rec.Infeasible = it.rng.Float64() < 0.25
	return rec, nil
}
