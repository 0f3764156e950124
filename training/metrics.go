package training

import (
	"encoding/csv"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/accelprime/prime/model"
)

// MetricsWriter appends scalar metrics to a CSV log, one row per metric:
// step, phase, name, value. Each batch of metrics is also echoed to stdout
// as a single line.
type MetricsWriter struct {
	f *os.File
	w *csv.Writer
}

func NewMetricsWriter(path string) (*MetricsWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "phase", "name", "value"}); err != nil {
		f.Close()
		return nil, fmt.Errorf("metrics: %w", err)
	}
	return &MetricsWriter{f: f, w: w}, nil
}

// Write logs every scalar in name order so the CSV stays diffable.
func (mw *MetricsWriter) Write(step int, phase string, losses model.Losses) error {
	names := make([]string, 0, len(losses))
	for name := range losses {
		names = append(names, name)
	}
	sort.Strings(names)

	var line strings.Builder
	fmt.Fprintf(&line, "step %d [%s]", step, phase)
	for _, name := range names {
		v := losses[name]
		if err := mw.w.Write([]string{
			strconv.Itoa(step), phase, name,
			strconv.FormatFloat(v, 'g', -1, 64),
		}); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		fmt.Fprintf(&line, " %s=%.6g", name, v)
	}
	mw.w.Flush()
	if err := mw.w.Error(); err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	fmt.Println(line.String())
	return nil
}

func (mw *MetricsWriter) Close() error {
	mw.w.Flush()
	return mw.f.Close()
}
