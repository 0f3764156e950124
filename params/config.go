package params

import "fmt"

// Default area constraint for the accelerator designs we train on.
const AreaThreshold = 27.0

// Batch sampling policies.
const (
	BatchValid = "valid"
	BatchMixed = "mixed"
	BatchAll   = "all"
)

// Loss types.
const (
	LossMSE     = "mse"
	LossMSERank = "mse+rank"
	LossHuber   = "huber"
)

// ModelConfig declares one concrete surrogate variant. Every field is fixed
// at construction; NewSurrogate validates the whole struct once and builds a
// statically-shaped model from it.
type ModelConfig struct {
	NumInputs   int   // total one-hot input width; must equal sum(InputSplits)
	NumOutputs  int   // scalar objectives per design (1)
	InputSplits []int // per-field one-hot segment lengths, training-key order

	// Encoder
	EmbedDim         int // per-field embedding width
	NumHeads         int // attention heads; EmbedDim % NumHeads == 0
	FFDim            int // encoder feed-forward hidden width
	NumEncoderBlocks int

	// Prediction head
	Layers   []int // hidden widths for experts/voting; Layers[0] is forced to the flattened embedding width
	NumVotes int   // number of experts

	// Contextual variant
	Contextual  bool
	NumContexts int // context one-hot width; required when Contextual

	// Regularization
	UseDropout  bool
	DropoutRate float64

	// Conservative objective
	CQLAlpha        float64 // alpha on the CQL penalty
	InfeasibleAlpha float64 // beta on the infeasible-prediction penalty

	// Reference negative sampler
	GradAscentSteps int     // inner gradient-ascent iterations
	SamplerStepSize float64 // inner ascent step size
}

// DefaultModelConfig returns the reference architecture: 64-wide field
// embeddings, 8 heads, two encoder blocks, one expert.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		NumOutputs:       1,
		EmbedDim:         64,
		NumHeads:         8,
		FFDim:            256,
		NumEncoderBlocks: 2,
		Layers:           []int{256, 256, 256},
		NumVotes:         1,
		DropoutRate:      0.1,
		CQLAlpha:         1.0,
		InfeasibleAlpha:  0.01,
		GradAscentSteps:  20,
		SamplerStepSize:  1e-3,
	}
}

func (c *ModelConfig) Validate() error {
	if len(c.InputSplits) == 0 {
		return fmt.Errorf("model config: InputSplits is empty")
	}
	total := 0
	for i, s := range c.InputSplits {
		if s <= 0 {
			return fmt.Errorf("model config: InputSplits[%d] = %d, must be positive", i, s)
		}
		total += s
	}
	if c.NumInputs != total {
		return fmt.Errorf("model config: NumInputs %d != sum(InputSplits) %d", c.NumInputs, total)
	}
	if c.NumOutputs != 1 {
		return fmt.Errorf("model config: NumOutputs must be 1, got %d", c.NumOutputs)
	}
	if c.EmbedDim <= 0 || c.NumHeads <= 0 {
		return fmt.Errorf("model config: EmbedDim and NumHeads must be positive")
	}
	if c.EmbedDim%c.NumHeads != 0 {
		return fmt.Errorf("model config: EmbedDim %d not divisible by NumHeads %d", c.EmbedDim, c.NumHeads)
	}
	if c.FFDim <= 0 || c.NumEncoderBlocks <= 0 {
		return fmt.Errorf("model config: FFDim and NumEncoderBlocks must be positive")
	}
	if len(c.Layers) < 2 {
		return fmt.Errorf("model config: Layers needs at least 2 entries, got %d", len(c.Layers))
	}
	if c.NumVotes <= 0 {
		return fmt.Errorf("model config: NumVotes must be positive, got %d", c.NumVotes)
	}
	if c.Contextual && c.NumContexts <= 0 {
		return fmt.Errorf("model config: contextual model requires NumContexts > 0")
	}
	if c.UseDropout && (c.DropoutRate <= 0 || c.DropoutRate >= 1) {
		return fmt.Errorf("model config: DropoutRate %g out of (0,1)", c.DropoutRate)
	}
	if c.GradAscentSteps < 0 {
		return fmt.Errorf("model config: GradAscentSteps must be >= 0")
	}
	return nil
}

// TrainConfig drives the outer offline training loop.
type TrainConfig struct {
	TrainSteps  int
	SummaryFreq int
	EvalFreq    int

	SaveDir   string // empty disables checkpointing
	SaveEvery int    // weights-only snapshot cadence in steps

	LossType             string // mse, mse+rank or huber
	RankingPenaltyWeight float64

	Layers []int

	// Adam
	OptLR       float64
	AdamBeta1   float64
	AdamBeta2   float64
	AdamEps     float64
	WeightDecay float64
	GradClip    float64 // <=0 disables global grad-norm clipping

	BatchSize int
	BatchType string // valid, mixed or all

	UseDropout bool
	NumVotes   int

	CQLAlpha        float64
	InfeasibleAlpha float64

	AddAreaConstraints bool
	AreaThreshold      float64

	GradAscentSteps int
	SamplerStepSize float64
}

func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		TrainSteps:           100000,
		SummaryFreq:          1000,
		EvalFreq:             1000,
		SaveEvery:            5000,
		LossType:             LossMSE,
		RankingPenaltyWeight: 0.1,
		Layers:               []int{256, 256, 256},
		OptLR:                1e-4,
		AdamBeta1:            0.9,
		AdamBeta2:            0.999,
		AdamEps:              1e-8,
		BatchSize:            256,
		BatchType:            BatchMixed,
		NumVotes:             1,
		CQLAlpha:             1.0,
		InfeasibleAlpha:      1.0,
		AddAreaConstraints:   true,
		AreaThreshold:        AreaThreshold,
		GradAscentSteps:      20,
		SamplerStepSize:      1e-3,
	}
}

func (c *TrainConfig) Validate() error {
	if c.TrainSteps <= 0 {
		return fmt.Errorf("train config: TrainSteps must be positive")
	}
	if c.SummaryFreq <= 0 || c.EvalFreq <= 0 {
		return fmt.Errorf("train config: SummaryFreq and EvalFreq must be positive")
	}
	if c.SaveDir != "" && c.SaveEvery <= 0 {
		return fmt.Errorf("train config: SaveEvery must be positive when SaveDir is set")
	}
	switch c.LossType {
	case LossMSE, LossMSERank, LossHuber:
	default:
		return fmt.Errorf("train config: unknown loss type %q", c.LossType)
	}
	switch c.BatchType {
	case BatchValid, BatchMixed, BatchAll:
	default:
		return fmt.Errorf("train config: unknown batch type %q", c.BatchType)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("train config: BatchSize must be positive")
	}
	if c.OptLR <= 0 {
		return fmt.Errorf("train config: OptLR must be positive")
	}
	if len(c.Layers) < 2 {
		return fmt.Errorf("train config: Layers needs at least 2 entries")
	}
	return nil
}
