package model

import (
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"github.com/accelprime/prime/optimizations"
	"github.com/accelprime/prime/params"
)

type matData struct {
	Rows, Cols int
	Data       []float64
}

// checkpoint is the gob snapshot layout. Full snapshots carry the model
// config and Adam moments so training can resume; weights-only snapshots
// carry just the parameter matrices.
type checkpoint struct {
	Step   int
	Full   bool
	Cfg    params.ModelConfig
	Params []matData
	AdamT  int
	AdamM  []matData
	AdamV  []matData
}

func packMats(ms []*mat.Dense) []matData {
	out := make([]matData, len(ms))
	for i, m := range ms {
		r, c := m.Dims()
		data := make([]float64, 0, r*c)
		for x := 0; x < r; x++ {
			for y := 0; y < c; y++ {
				data = append(data, m.At(x, y))
			}
		}
		out[i] = matData{Rows: r, Cols: c, Data: data}
	}
	return out
}

func unpackInto(dst []*mat.Dense, src []matData, what string) error {
	if len(dst) != len(src) {
		return fmt.Errorf("checkpoint: %s count mismatch: have %d, snapshot has %d", what, len(dst), len(src))
	}
	for i, md := range src {
		r, c := dst[i].Dims()
		if r != md.Rows || c != md.Cols {
			return fmt.Errorf("checkpoint: %s[%d] shape mismatch: have (%d x %d), snapshot has (%d x %d)",
				what, i, r, c, md.Rows, md.Cols)
		}
		k := 0
		for x := 0; x < r; x++ {
			for y := 0; y < c; y++ {
				dst[i].Set(x, y, md.Data[k])
				k++
			}
		}
	}
	return nil
}

// SaveCheckpoint writes a gob snapshot. full includes the model config and
// optimizer moments; the periodic in-training snapshots are weights-only.
func SaveCheckpoint(path string, step int, m *Surrogate, opt *optimizations.Adam, full bool) error {
	ck := checkpoint{
		Step:   step,
		Full:   full,
		Params: packMats(m.Params()),
	}
	if full {
		ck.Cfg = m.Cfg
		if opt != nil {
			ck.AdamT = opt.T
			ck.AdamM = packMats(opt.M)
			ck.AdamV = packMats(opt.V)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(&ck); err != nil {
		return fmt.Errorf("checkpoint: encode %s: %w", path, err)
	}
	return nil
}

// RestoreCheckpoint loads a snapshot into an existing model (and, for full
// snapshots, optimizer). Shapes must match the model exactly.
func RestoreCheckpoint(path string, m *Surrogate, opt *optimizations.Adam) (step int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	var ck checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return 0, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	if err := unpackInto(m.Params(), ck.Params, "param"); err != nil {
		return 0, err
	}
	if ck.Full && opt != nil {
		opt.T = ck.AdamT
		if err := unpackInto(opt.M, ck.AdamM, "adam m"); err != nil {
			return 0, err
		}
		if err := unpackInto(opt.V, ck.AdamV, "adam v"); err != nil {
			return 0, err
		}
	}
	return ck.Step, nil
}

// LoadCheckpointConfig reads the model config out of a full snapshot,
// letting a caller rebuild the model before restoring weights.
func LoadCheckpointConfig(path string) (params.ModelConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return params.ModelConfig{}, fmt.Errorf("checkpoint: %w", err)
	}
	defer f.Close()
	var ck checkpoint
	if err := gob.NewDecoder(f).Decode(&ck); err != nil {
		return params.ModelConfig{}, fmt.Errorf("checkpoint: decode %s: %w", path, err)
	}
	if !ck.Full {
		return params.ModelConfig{}, fmt.Errorf("checkpoint: %s is weights-only, has no config", path)
	}
	return ck.Cfg, nil
}
