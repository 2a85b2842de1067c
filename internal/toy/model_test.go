package toy

import (
	"testing"

	"github.com/strato-ml/quantrace/internal/tensor"
)

func TestConvNetForwardShape(t *testing.T) {
	cfg := DefaultConvNetConfig()
	model := NewConvNet(cfg, 1)
	x := Input(cfg, 2, 7)

	y, err := model.Forward(nil, x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	if len(y.Shape) != 2 || y.Shape[0] != 2 || y.Shape[1] != cfg.Classes {
		t.Fatalf("output shape = %v, want [2 %d]", y.Shape, cfg.Classes)
	}
}

func TestConvNetDeterministic(t *testing.T) {
	cfg := DefaultConvNetConfig()
	a := NewConvNet(cfg, 5)
	b := NewConvNet(cfg, 5)
	x := Input(cfg, 1, 9)

	ya, err := a.Forward(nil, x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	yb, err := b.Forward(nil, x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for i := range ya.Data {
		if ya.Data[i] != yb.Data[i] {
			t.Fatalf("same seed produced different outputs at %d", i)
		}
	}
}

func TestGatedNetBranches(t *testing.T) {
	cfg := DefaultConvNetConfig()
	g := NewGatedNet(cfg, 3, 0)

	x := Input(cfg, 1, 17)
	// Force both sides of the gate and check the extra activation only runs
	// on one of them.
	g.Threshold = -1e9
	y, err := g.Forward(nil, x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	for _, v := range y.Data {
		if v < 0 {
			t.Fatalf("extra activation did not run: negative output %v", v)
		}
	}
	g.Threshold = 1e9
	if _, err := g.Forward(nil, x); err != nil {
		t.Fatalf("Forward: %v", err)
	}
}

func TestFlattenKeepsIdentity(t *testing.T) {
	x := tensor.New(2, 3, 4)
	f := Flatten{}
	y, err := f.Forward(nil, x)
	if err != nil {
		t.Fatalf("Flatten: %v", err)
	}
	if y.Tag() != x.Tag() {
		t.Fatal("flatten must be a view, not a new tensor")
	}
	if y.Shape[0] != 2 || y.Shape[1] != 12 {
		t.Fatalf("flattened shape = %v", y.Shape)
	}
}
