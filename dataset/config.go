package dataset

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
)

// FieldSpec describes one discrete accelerator parameter: the raw values it
// may take, in declaration order. One-hot width = len(Values).
type FieldSpec struct {
	DataType string // only "discrete" is supported
	Name     string
	DType    string // declared scalar type of the raw values
	Active   bool   // inactive fields are parsed but excluded from training keys
	Values   []float64
}

// Config is a parsed field configuration with fields in training-key order
// (natural sort of names, numeric suffixes compared as numbers, so param_10
// sorts after param_9).
type Config struct {
	Fields []FieldSpec
	byName map[string]int
}

// LoadFieldConfig reads a field configuration from a file path, or treats the
// argument as the inline configuration text when no such file exists.
func LoadFieldConfig(pathOrText string) (*Config, error) {
	if raw, err := os.ReadFile(pathOrText); err == nil {
		return ParseFieldConfig(string(raw))
	}
	return ParseFieldConfig(pathOrText)
}

// ParseFieldConfig parses lines of the form
// <data_type>:<name>:<dtype>:<active>:<v1,v2,...>.
func ParseFieldConfig(text string) (*Config, error) {
	cfg := &Config{byName: make(map[string]int)}
	for lineNo, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("field config line %d: want 5 ':'-separated parts, got %d", lineNo+1, len(parts))
		}
		if parts[0] != "discrete" {
			return nil, fmt.Errorf("field config line %d: unsupported data type %q", lineNo+1, parts[0])
		}
		active, err := strconv.ParseBool(parts[3])
		if err != nil {
			return nil, fmt.Errorf("field config line %d: bad active flag %q: %w", lineNo+1, parts[3], err)
		}
		spec := FieldSpec{
			DataType: parts[0],
			Name:     parts[1],
			DType:    parts[2],
			Active:   active,
		}
		for _, tok := range strings.Split(parts[4], ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
			if err != nil {
				return nil, fmt.Errorf("field config line %d: bad value %q for %s: %w", lineNo+1, tok, spec.Name, err)
			}
			spec.Values = append(spec.Values, v)
		}
		if len(spec.Values) == 0 {
			return nil, fmt.Errorf("field config line %d: field %s has no values", lineNo+1, spec.Name)
		}
		if _, dup := cfg.byName[spec.Name]; dup {
			return nil, fmt.Errorf("field config: duplicate field %s", spec.Name)
		}
		cfg.byName[spec.Name] = 0 // placeholder until sorted
		cfg.Fields = append(cfg.Fields, spec)
	}
	if len(cfg.Fields) == 0 {
		return nil, fmt.Errorf("field config: no fields")
	}
	sort.SliceStable(cfg.Fields, func(i, j int) bool {
		return naturalLess(cfg.Fields[i].Name, cfg.Fields[j].Name)
	})
	for i, f := range cfg.Fields {
		cfg.byName[f.Name] = i
	}
	return cfg, nil
}

// naturalLess compares names with trailing integers as numbers, so that
// param_2 < param_10.
func naturalLess(a, b string) bool {
	pa, na, oka := splitTrailingInt(a)
	pb, nb, okb := splitTrailingInt(b)
	if oka && okb && pa == pb {
		return na < nb
	}
	return a < b
}

func splitTrailingInt(s string) (prefix string, n int, ok bool) {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) {
		return s, 0, false
	}
	n, err := strconv.Atoi(s[i:])
	if err != nil {
		return s, 0, false
	}
	return s[:i], n, true
}

// Active returns the training-key fields in order.
func (c *Config) Active() []FieldSpec {
	out := make([]FieldSpec, 0, len(c.Fields))
	for _, f := range c.Fields {
		if f.Active {
			out = append(out, f)
		}
	}
	return out
}

// Splits returns the one-hot segment widths of the active fields.
func (c *Config) Splits() []int {
	var out []int
	for _, f := range c.Active() {
		out = append(out, len(f.Values))
	}
	return out
}

// NumInputs is the total one-hot width.
func (c *Config) NumInputs() int {
	total := 0
	for _, s := range c.Splits() {
		total += s
	}
	return total
}

// Names returns active field names in training-key order.
func (c *Config) Names() []string {
	var out []string
	for _, f := range c.Active() {
		out = append(out, f.Name)
	}
	return out
}

// IndexOf maps a raw field value to its dense index within the field's
// one-hot segment. Unknown values are fatal configuration mismatches.
func (c *Config) IndexOf(field string, raw float64) (int, error) {
	i, ok := c.byName[field]
	if !ok {
		return 0, fmt.Errorf("field config: unknown field %q", field)
	}
	for j, v := range c.Fields[i].Values {
		if v == raw {
			return j, nil
		}
	}
	return 0, fmt.Errorf("field config: value %g not in domain of %s", raw, field)
}
