package nn

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/strato-ml/quantrace/internal/tensor"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	build := func() *Sequential {
		return NewSequential(NewLinear(3, 4, true), ReLU{}, NewLinear(4, 2, false))
	}
	src := build()
	src.NamedChildren()[0].Module.(*Linear).Weight.FillRand(7)
	src.NamedChildren()[0].Module.(*Linear).Bias.FillRand(8)
	src.NamedChildren()[2].Module.(*Linear).Weight.FillRand(9)

	sd := Save(src)
	for _, key := range []string{"0.weight", "0.bias", "2.weight"} {
		if _, ok := sd[key]; !ok {
			t.Fatalf("state dict missing key %s (have %d keys)", key, len(sd))
		}
	}

	dst := build()
	res, err := Load(dst, sd, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(res.MissingKeys) != 0 || len(res.UnexpectedKeys) != 0 {
		t.Fatalf("unreconciled keys: %+v", res)
	}

	want := src.NamedChildren()[0].Module.(*Linear).Weight.Data
	got := dst.NamedChildren()[0].Module.(*Linear).Weight.Data
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("weight value %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestLoadReportsMissingAndUnexpected(t *testing.T) {
	model := NewSequential(NewLinear(2, 2, true))
	sd := Save(model)
	delete(sd, "0.bias")
	sd["0.gamma"] = StringEntry("stray")

	res, err := Load(model, sd, false)
	if err != nil {
		t.Fatalf("non-strict Load: %v", err)
	}
	if len(res.MissingKeys) != 1 || res.MissingKeys[0] != "0.bias" {
		t.Fatalf("missing keys = %v", res.MissingKeys)
	}
	if len(res.UnexpectedKeys) != 1 || res.UnexpectedKeys[0] != "0.gamma" {
		t.Fatalf("unexpected keys = %v", res.UnexpectedKeys)
	}

	if _, err := Load(model, sd, true); err == nil {
		t.Fatal("strict load must fail on unreconciled keys")
	}
}

func TestLoadRejectsShapeMismatch(t *testing.T) {
	sd := Save(NewSequential(NewLinear(2, 2, false)))
	model := NewSequential(NewLinear(2, 3, false))
	if _, err := Load(model, sd, false); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}

func TestHalfTensorEntry(t *testing.T) {
	src := tensor.FromData([]float32{0.5, -1.25, 3}, 3)
	e := HalfTensorEntry(src)
	got, err := e.Tensor()
	if err != nil {
		t.Fatalf("Tensor: %v", err)
	}
	for i := range src.Data {
		if math.Abs(float64(got.Data[i]-src.Data[i])) > 1e-3 {
			t.Fatalf("f16 round trip at %d: got %v, want %v", i, got.Data[i], src.Data[i])
		}
	}
}

func TestSaveLoadFile(t *testing.T) {
	model := NewSequential(NewLinear(2, 2, true))
	model.NamedChildren()[0].Module.(*Linear).Weight.FillRand(4)

	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveFile(path, Save(model)); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}
	sd, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if _, err := Load(model, sd, true); err != nil {
		t.Fatalf("Load after file round trip: %v", err)
	}
}
