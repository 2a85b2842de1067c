package autoquant

import (
	"path/filepath"
	"testing"

	"github.com/strato-ml/quantrace/internal/toy"
)

func TestArtifactRoundTrip(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	obs, err := AddAutoObservation(toy.NewConvNet(cfg, 1), toy.Input(cfg, 1, 2), Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	for seed := int64(5); seed < 8; seed++ {
		if _, err := obs.Forward(toy.Input(cfg, 1, seed)); err != nil {
			t.Fatalf("calibration pass: %v", err)
		}
	}

	a, err := obs.Artifact()
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	if len(a.Ops) != 3 || len(a.Tensors) != 4 {
		t.Fatalf("artifact has %d ops, %d tensors; want 3, 4", len(a.Ops), len(a.Tensors))
	}
	calibrated := 0
	for _, ts := range a.Tensors {
		if ts.Calibrated {
			calibrated++
			if ts.Scale <= 0 {
				t.Fatalf("tensor %d calibrated with scale %v", ts.ID, ts.Scale)
			}
			if ts.Min > ts.Max {
				t.Fatalf("tensor %d range inverted: [%v, %v]", ts.ID, ts.Min, ts.Max)
			}
		}
	}
	if calibrated != 4 {
		t.Fatalf("%d tensors calibrated, want all 4", calibrated)
	}

	path := filepath.Join(t.TempDir(), "calibration.json")
	if err := SaveArtifact(path, a); err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	got, err := LoadArtifact(path)
	if err != nil {
		t.Fatalf("LoadArtifact: %v", err)
	}
	if got.Summary() != a.Summary() {
		t.Fatalf("round trip changed summary: %q != %q", got.Summary(), a.Summary())
	}
	for i, op := range got.Ops {
		if op.String() != a.Ops[i].String() {
			t.Fatalf("op %d changed across round trip: %s != %s", i, op.String(), a.Ops[i].String())
		}
	}
}

func TestUncalibratedArtifact(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	obs, err := AddAutoObservation(toy.NewConvNet(cfg, 1), toy.Input(cfg, 1, 2), Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	a, err := obs.Artifact()
	if err != nil {
		t.Fatalf("Artifact: %v", err)
	}
	for _, ts := range a.Tensors {
		if ts.Calibrated {
			t.Fatalf("tensor %d marked calibrated before any calibration pass", ts.ID)
		}
	}
}
