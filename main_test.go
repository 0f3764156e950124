package main

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/accelprime/prime/dataset"
)

func TestReferenceConfigParses(t *testing.T) {
	cfg, err := dataset.ParseFieldConfig(referenceConfig)
	if err != nil {
		t.Fatal(err)
	}
	names := cfg.Names()
	if len(names) != 10 {
		t.Fatalf("got %d fields, want 10", len(names))
	}
	if names[0] != "param_1" || names[9] != "param_10" {
		t.Fatalf("training keys out of order: %v", names)
	}
	if cfg.NumInputs() != 10+10+7+10+7+11+7+4+5+6 {
		t.Fatalf("NumInputs = %d", cfg.NumInputs())
	}
}

func TestSyntheticIterStaysInDomain(t *testing.T) {
	cfg, err := dataset.ParseFieldConfig(referenceConfig)
	if err != nil {
		t.Fatal(err)
	}
	it := newSyntheticIter(cfg, 50, 3)
	n := 0
	for {
		rec, err := it.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		n++
		for name, v := range rec.Params {
			if _, err := cfg.IndexOf(name, v); err != nil {
				t.Fatalf("record %d: %v", n, err)
			}
		}
	}
	if n != 50 {
		t.Fatalf("iterator yielded %d records, want 50", n)
	}

	// the whole synthetic split must load cleanly
	ds, err := dataset.Load(cfg, newSyntheticIter(cfg, 200, 4), true, 27.0)
	if err != nil {
		t.Fatal(err)
	}
	if ds.Len() != 200 {
		t.Fatalf("loaded %d records", ds.Len())
	}
}

func TestCSVIter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	csv := "param_1,param_2,runtime,area,infeasible,context\n" +
		"1,2,3.5,20,0,1\n" +
		"4,1,2.0,30,1,0\n"
	if err := os.WriteFile(path, []byte(csv), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	it, err := newCSVIter(f)
	if err != nil {
		t.Fatal(err)
	}

	r1, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if r1.Params["param_1"] != 1 || r1.Runtime != 3.5 || r1.Infeasible || r1.ContextID != 1 {
		t.Fatalf("first record parsed wrongly: %+v", r1)
	}
	r2, err := it.Next()
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Infeasible || r2.Area != 30 {
		t.Fatalf("second record parsed wrongly: %+v", r2)
	}
	if _, err := it.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF, got %v", err)
	}
}
