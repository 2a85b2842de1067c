package autoquant

import (
	"errors"
	"testing"

	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/nn/reference"
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/toy"
	"github.com/strato-ml/quantrace/internal/trace"
)

func TestObserveStaticModelReplays(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	model := toy.NewConvNet(cfg, 1)
	example := toy.Input(cfg, 2, 2)

	obs, err := AddAutoObservation(model, example, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	if got := obs.Ledger().Len(); got != 3 {
		t.Fatalf("ledger length = %d, want 3 (conv1d, relu, linear)", got)
	}
	if got := obs.Ledger().NumTensors(); got != 4 {
		t.Fatalf("distinct tensors = %d, want 4", got)
	}
	// Flatten is a view, so the linear's input must be the relu's output.
	relu, fc := obs.Ledger().Op(1), obs.Ledger().Op(2)
	if fc.InputTensorIDs[0] != relu.OutputTensorIDs[0] {
		t.Fatalf("flatten broke tensor identity: linear reads %v, relu wrote %v",
			fc.InputTensorIDs, relu.OutputTensorIDs)
	}

	// Verifying passes on same-shaped inputs replay cleanly and compute the
	// same values as an uninstrumented forward.
	for seed := int64(10); seed < 13; seed++ {
		x := toy.Input(cfg, 2, seed)
		got, err := obs.Forward(x)
		if err != nil {
			t.Fatalf("verifying pass (seed %d): %v", seed, err)
		}
		want, err := model.Forward(nil, x)
		if err != nil {
			t.Fatalf("plain forward: %v", err)
		}
		for i := range want.Data {
			if got.Data[i] != want.Data[i] {
				t.Fatalf("observed forward diverged at %d: %v != %v", i, got.Data[i], want.Data[i])
			}
		}
	}
}

func TestExamplePassContributesNoCalibration(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	obs, err := AddAutoObservation(toy.NewConvNet(cfg, 1), toy.Input(cfg, 1, 2), Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	o, ok := obs.Observer(0)
	if !ok {
		t.Fatalf("no observer attached to tensor 0")
	}
	if _, _, seen := o.Range(); seen {
		t.Fatalf("example pass fed the observer; it must only build the trace")
	}
	if _, err := obs.Forward(toy.Input(cfg, 1, 3)); err != nil {
		t.Fatalf("calibration pass: %v", err)
	}
	if _, _, seen := o.Range(); !seen {
		t.Fatalf("calibration pass did not feed the observer")
	}
}

func TestInPlaceRejected(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	model := toy.NewConvNet(cfg, 1)
	example := toy.Input(cfg, 1, 2)

	var merr *MutationNotSupportedError
	if _, err := AddAutoObservation(model, example, Options{InPlace: true}); !errors.As(err, &merr) {
		t.Fatalf("AddAutoObservation inplace: got %v, want MutationNotSupportedError", err)
	}
	if _, err := Prepare(model, example, Options{InPlace: true}); !errors.As(err, &merr) {
		t.Fatalf("Prepare inplace: got %v, want MutationNotSupportedError", err)
	}

	obs, err := AddAutoObservation(model, example, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	if _, err := Convert(obs, WeightOptions{}, Options{InPlace: true}); !errors.As(err, &merr) {
		t.Fatalf("Convert inplace: got %v, want MutationNotSupportedError", err)
	}
}

func TestObserveRequiresExample(t *testing.T) {
	if _, err := AddAutoObservation(toy.NewConvNet(toy.DefaultConvNetConfig(), 1), nil, Options{}); err == nil {
		t.Fatalf("nil example accepted")
	}
}

func TestDivergentBranchExhaustsTrace(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	g := toy.NewGatedNet(cfg, 1, 0)
	x := toy.Input(cfg, 1, 2)

	// Record with the gate closed, then open it so a verifying pass runs one
	// extra activation past the end of the ledger.
	g.Threshold = 1e9
	obs, err := AddAutoObservation(g, x, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	g.Threshold = -1e9

	_, err = obs.Forward(x)
	var exhausted *trace.TraceExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("got %v, want TraceExhaustedError", err)
	}
	if exhausted.Recorded != 3 || exhausted.Kind != "nn.relu" {
		t.Fatalf("exhausted = %+v, want 3 recorded ops and kind nn.relu", exhausted)
	}
}

// flipOp dispatches under a configurable kind, standing in for data-dependent
// control flow that picks a different operation on a later pass.
type flipOp struct {
	kind trace.OpKind
}

func (f *flipOp) OpKind() trace.OpKind { return f.kind }

func (f *flipOp) Forward(ctx *nn.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(f, f.kind, []*tensor.Tensor{x},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return []*tensor.Tensor{tensor.ReLU(in[0])}, nil
		})
}

func TestDivergentBranchMismatchesTrace(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	conv := nn.NewConv1d(cfg.InChannels, cfg.Channels, 3, nn.ConvOpts{Padding: 1})
	conv.Weight.FillRand(5)
	flip := &flipOp{kind: "nn.relu"}
	model := nn.NewSequential(conv, flip)
	x := toy.Input(cfg, 1, 2)

	obs, err := AddAutoObservation(model, x, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	flip.kind = "nn.conv2d"

	_, err = obs.Forward(x)
	var mismatch *trace.TraceMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("got %v, want TraceMismatchError", err)
	}
	if mismatch.Idx != 1 || mismatch.Got != "nn.conv2d" || mismatch.Want != "nn.relu" {
		t.Fatalf("mismatch = %+v, want idx 1 got nn.conv2d want nn.relu", mismatch)
	}
}

func TestConvertSwapsReferenceLayers(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	model := toy.NewConvNet(cfg, 1)
	example := toy.Input(cfg, 2, 2)

	obs, err := AddAutoObservation(model, example, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	for seed := int64(10); seed < 14; seed++ {
		if _, err := obs.Forward(toy.Input(cfg, 2, seed)); err != nil {
			t.Fatalf("calibration pass: %v", err)
		}
	}

	conv, err := Convert(obs, WeightOptions{}, Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	seq, ok := conv.Model().(*nn.Sequential)
	if !ok {
		t.Fatalf("converted model is %T, want *nn.Sequential", conv.Model())
	}
	children := seq.NamedChildren()
	if _, ok := children[0].Module.(*reference.Conv1d); !ok {
		t.Fatalf("child 0 is %T, want *reference.Conv1d", children[0].Module)
	}
	if _, ok := children[3].Module.(*reference.Linear); !ok {
		t.Fatalf("child 3 is %T, want *reference.Linear", children[3].Module)
	}
	if _, ok := children[2].Module.(toy.Flatten); !ok {
		t.Fatalf("child 2 is %T, want untouched toy.Flatten", children[2].Module)
	}
	// Original model keeps its float layers.
	if _, ok := model.NamedChildren()[0].Module.(*nn.Conv1d); !ok {
		t.Fatalf("conversion mutated the source model")
	}

	// Reference layers report the same op kinds, so quantized passes still
	// verify against the float trace.
	for seed := int64(20); seed < 23; seed++ {
		y, err := conv.Forward(toy.Input(cfg, 2, seed))
		if err != nil {
			t.Fatalf("quantized pass (seed %d): %v", seed, err)
		}
		if !y.SameShape(tensor.New(2, cfg.Classes)) {
			t.Fatalf("quantized output shape = %v", y.Shape)
		}
	}
}

func TestConvertAccuracyOnCalibratedRange(t *testing.T) {
	fc := nn.NewLinear(2, 1, true)
	fc.Weight = tensor.FromData([]float32{0.5, -0.25}, 1, 2)
	fc.Bias = tensor.FromData([]float32{0.1}, 1)
	model := nn.NewSequential(fc)

	example := tensor.FromData([]float32{0.2, 0.8}, 1, 2)
	obs, err := AddAutoObservation(model, example, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	for _, vals := range [][]float32{{0.2, 0.8}, {1, 0}, {0.5, 0.5}} {
		if _, err := obs.Forward(tensor.FromData(vals, 1, 2)); err != nil {
			t.Fatalf("calibration pass: %v", err)
		}
	}

	conv, err := Convert(obs, WeightOptions{}, Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	x := tensor.FromData([]float32{0.2, 0.8}, 1, 2)
	got, err := conv.Forward(x)
	if err != nil {
		t.Fatalf("quantized pass: %v", err)
	}
	want, err := model.Forward(nil, x)
	if err != nil {
		t.Fatalf("float forward: %v", err)
	}
	diff := got.Data[0] - want.Data[0]
	if diff < 0 {
		diff = -diff
	}
	if diff > 0.02 {
		t.Fatalf("quantized output %v too far from float %v", got.Data[0], want.Data[0])
	}
}

func TestUncalibratedTensorsStayFloat(t *testing.T) {
	cfg := toy.DefaultConvNetConfig()
	model := toy.NewConvNet(cfg, 1)
	x := toy.Input(cfg, 1, 2)

	// No calibration passes at all: conversion must not invent activation
	// ranges, so the wrapped forward matches the swapped model exactly.
	obs, err := AddAutoObservation(model, x, Options{})
	if err != nil {
		t.Fatalf("AddAutoObservation: %v", err)
	}
	conv, err := Convert(obs, WeightOptions{}, Options{})
	if err != nil {
		t.Fatalf("Convert: %v", err)
	}
	got, err := conv.Forward(x)
	if err != nil {
		t.Fatalf("quantized pass: %v", err)
	}
	want, err := conv.Model().Forward(nil, x)
	if err != nil {
		t.Fatalf("swapped forward: %v", err)
	}
	for i := range want.Data {
		if got.Data[i] != want.Data[i] {
			t.Fatalf("activation fake-quant applied without calibration at %d", i)
		}
	}
}
