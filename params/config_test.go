package params

import "testing"

func validModelConfig() ModelConfig {
	cfg := DefaultModelConfig()
	cfg.InputSplits = []int{3, 2}
	cfg.NumInputs = 5
	return cfg
}

func TestModelConfigValidate(t *testing.T) {
	cfg := validModelConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	mutate := map[string]func(*ModelConfig){
		"splits sum":      func(c *ModelConfig) { c.NumInputs = 6 },
		"empty splits":    func(c *ModelConfig) { c.InputSplits = nil },
		"zero split":      func(c *ModelConfig) { c.InputSplits = []int{5, 0}; c.NumInputs = 5 },
		"head divisor":    func(c *ModelConfig) { c.NumHeads = 7 },
		"outputs":         func(c *ModelConfig) { c.NumOutputs = 2 },
		"short layers":    func(c *ModelConfig) { c.Layers = []int{256} },
		"zero votes":      func(c *ModelConfig) { c.NumVotes = 0 },
		"missing ctx dim": func(c *ModelConfig) { c.Contextual = true },
		"dropout rate":    func(c *ModelConfig) { c.UseDropout = true; c.DropoutRate = 1.5 },
	}
	for name, f := range mutate {
		c := validModelConfig()
		f(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestTrainConfigValidate(t *testing.T) {
	cfg := DefaultTrainConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}

	mutate := map[string]func(*TrainConfig){
		"loss type":       func(c *TrainConfig) { c.LossType = "hinge" },
		"batch type":      func(c *TrainConfig) { c.BatchType = "sometimes" },
		"batch size":      func(c *TrainConfig) { c.BatchSize = 0 },
		"learning rate":   func(c *TrainConfig) { c.OptLR = 0 },
		"steps":           func(c *TrainConfig) { c.TrainSteps = 0 },
		"save cadence":    func(c *TrainConfig) { c.SaveDir = "x"; c.SaveEvery = 0 },
		"summary cadence": func(c *TrainConfig) { c.SummaryFreq = 0 },
	}
	for name, f := range mutate {
		c := DefaultTrainConfig()
		f(&c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLossAndBatchConstantsAccepted(t *testing.T) {
	for _, lt := range []string{LossMSE, LossMSERank, LossHuber} {
		c := DefaultTrainConfig()
		c.LossType = lt
		if err := c.Validate(); err != nil {
			t.Errorf("loss type %s rejected: %v", lt, err)
		}
	}
	for _, bt := range []string{BatchValid, BatchMixed, BatchAll} {
		c := DefaultTrainConfig()
		c.BatchType = bt
		if err := c.Validate(); err != nil {
			t.Errorf("batch type %s rejected: %v", bt, err)
		}
	}
}
