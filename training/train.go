package training

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/accelprime/prime/dataset"
	"github.com/accelprime/prime/model"
	"github.com/accelprime/prime/params"
)

// TrainEvalOffline runs the full offline training loop: load both datasets,
// build the surrogate and its trainer, then alternate gradient steps with
// periodic summaries, validation passes and checkpoints. Validation always
// samples feasible records only, whatever the training policy is.
func TrainEvalOffline(cfg params.TrainConfig, fieldCfg *dataset.Config,
	trainRecs, valRecs dataset.RecordIter) (*model.Surrogate, error) {

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	trainDS, err := dataset.Load(fieldCfg, trainRecs, cfg.AddAreaConstraints, cfg.AreaThreshold)
	if err != nil {
		return nil, fmt.Errorf("training: load train set: %w", err)
	}
	valDS, err := dataset.Load(fieldCfg, valRecs, cfg.AddAreaConstraints, cfg.AreaThreshold)
	if err != nil {
		return nil, fmt.Errorf("training: load validation set: %w", err)
	}
	fmt.Printf("training: infeasible_multiplier=%.4f\n", trainDS.InfeasibleMultiplier())

	trainProblem, err := dataset.NewProblem(trainDS, cfg.BatchSize, cfg.BatchType, 1)
	if err != nil {
		return nil, err
	}
	valProblem, err := dataset.NewProblem(valDS, cfg.BatchSize, params.BatchValid, 2)
	if err != nil {
		return nil, err
	}

	mCfg := modelConfigFor(cfg, fieldCfg, trainDS)
	m, err := model.NewSurrogate(mCfg)
	if err != nil {
		return nil, err
	}
	sampler := &model.GradientAscentSampler{Steps: mCfg.GradAscentSteps, StepSize: mCfg.SamplerStepSize}
	trainer := model.NewTrainer(m, sampler, cfg)

	logPath := "training_log.csv"
	if cfg.SaveDir != "" {
		if err := os.MkdirAll(cfg.SaveDir, 0o755); err != nil {
			return nil, fmt.Errorf("training: %w", err)
		}
		logPath = filepath.Join(cfg.SaveDir, "training_log.csv")
	}
	metrics, err := NewMetricsWriter(logPath)
	if err != nil {
		return nil, err
	}
	defer metrics.Close()

	if cfg.SaveDir != "" {
		// the step-0 snapshot is the only one carrying config and optimizer
		// state; later ones are weights-only
		if err := model.SaveCheckpoint(ckptPath(cfg.SaveDir, 0), 0, m, trainer.Opt, true); err != nil {
			return nil, err
		}
	}

	for step := 0; step < cfg.TrainSteps; step++ {
		batch := trainProblem.SampleBatch()
		losses, err := trainer.Step(batch)
		if err != nil {
			return nil, fmt.Errorf("training: step %d: %w", step, err)
		}
		if step%cfg.SummaryFreq == 0 {
			if err := metrics.Write(step, "train", losses); err != nil {
				return nil, err
			}
		}
		if step%cfg.EvalFreq == 0 {
			valLosses, err := trainer.Measure(valProblem.SampleBatch())
			if err != nil {
				return nil, fmt.Errorf("training: eval at step %d: %w", step, err)
			}
			if err := metrics.Write(step, "val", valLosses); err != nil {
				return nil, err
			}
		}
		if cfg.SaveDir != "" && step > 0 && step%cfg.SaveEvery == 0 {
			if err := model.SaveCheckpoint(ckptPath(cfg.SaveDir, step), step, m, nil, false); err != nil {
				return nil, err
			}
		}
	}

	if cfg.SaveDir != "" {
		if err := model.SaveCheckpoint(ckptPath(cfg.SaveDir, cfg.TrainSteps), cfg.TrainSteps, m, nil, false); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// modelConfigFor derives the architecture from the field config, the train
// config and the dataset (multi-task datasets switch on the contextual
// pathway).
func modelConfigFor(cfg params.TrainConfig, fieldCfg *dataset.Config, ds *dataset.Dataset) params.ModelConfig {
	mCfg := params.DefaultModelConfig()
	mCfg.InputSplits = fieldCfg.Splits()
	mCfg.NumInputs = fieldCfg.NumInputs()
	mCfg.Layers = cfg.Layers
	mCfg.NumVotes = cfg.NumVotes
	mCfg.UseDropout = cfg.UseDropout
	mCfg.CQLAlpha = cfg.CQLAlpha
	mCfg.InfeasibleAlpha = cfg.InfeasibleAlpha
	mCfg.GradAscentSteps = cfg.GradAscentSteps
	mCfg.SamplerStepSize = cfg.SamplerStepSize
	if ds.NumContexts > 1 {
		mCfg.Contextual = true
		mCfg.NumContexts = ds.NumContexts
	}
	return mCfg
}

func ckptPath(dir string, step int) string {
	return filepath.Join(dir, fmt.Sprintf("model_%06d.ckpt", step))
}
