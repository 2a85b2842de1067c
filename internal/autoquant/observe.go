// Package autoquant is the dynamic-tracing quantization pipeline: it records
// a float model's execution trace into a ledger, verifies later passes
// against it, collects per-tensor calibration statistics and finally rewrites
// the execution with quantize-dequantize passes around the recorded
// operations.
package autoquant

import (
	"fmt"

	"github.com/strato-ml/quantrace/internal/logger"
	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/trace"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// MutationNotSupportedError reports a request to instrument a model in
// place. The pipeline only ever wraps; it fails before touching anything.
type MutationNotSupportedError struct {
	Op string
}

func (e *MutationNotSupportedError) Error() string {
	return fmt.Sprintf("autoquant: %s does not support in-place instrumentation", e.Op)
}

// Options configures the pipeline entry points.
type Options struct {
	// InPlace requests in-place instrumentation. It is unsupported and
	// rejected up front; the field exists so callers porting from frameworks
	// with an inplace flag fail loudly instead of silently sharing state.
	InPlace  bool
	Registry *trace.Registry
	Log      logger.Logger

	// ActivationDType is the representation activations are quantized to
	// during conversion. Defaults to quint8.
	ActivationDType quant.DType
}

func (o Options) registry() *trace.Registry {
	if o.Registry != nil {
		return o.Registry
	}
	return trace.Default()
}

func (o Options) log() logger.Logger {
	if o.Log != nil {
		return o.Log
	}
	return logger.Default()
}

func (o Options) activationDType() quant.DType {
	if o.ActivationDType == quant.DTypeF32 {
		return quant.DTypeQUInt8
	}
	return o.ActivationDType
}

// Observed wraps a model whose trace has been recorded. Every Forward call
// verifies against the recorded ledger and feeds the attached observers.
//
// An Observed instance assumes one logical thread of execution; concurrent
// Forward calls on the same instance are unsafe.
type Observed struct {
	model     nn.Module
	ledger    *trace.Ledger
	observers map[trace.TensorID]*MinMaxObserver
	opts      Options
}

// AddAutoObservation wraps a prepared model. It runs the model once on
// example to record the ledger in RECORDING mode and attaches a
// statistics-collecting observer to every tensor crossing a quantizable
// operation boundary. The example pass itself contributes no calibration
// data. The caller's model is never modified.
func AddAutoObservation(model nn.Module, example *tensor.Tensor, opts Options) (*Observed, error) {
	if opts.InPlace {
		return nil, &MutationNotSupportedError{Op: "AddAutoObservation"}
	}
	if example == nil {
		return nil, fmt.Errorf("autoquant: example input must be specified to build the trace")
	}

	o := &Observed{
		model:     model,
		ledger:    trace.NewLedger(),
		observers: make(map[trace.TensorID]*MinMaxObserver),
		opts:      opts,
	}
	rec, err := o.ledger.Record()
	if err != nil {
		return nil, err
	}
	ctx := &nn.Context{Hook: &recordHook{pass: rec, observed: o}, Registry: opts.registry()}
	if _, err := model.Forward(ctx, example); err != nil {
		return nil, fmt.Errorf("autoquant: recording pass: %w", err)
	}
	opts.log().Debug("trace recorded",
		"ops", o.ledger.Len(),
		"tensors", o.ledger.NumTensors())
	return o, nil
}

// Forward runs one verifying pass. A trace divergence surfaces as
// *trace.TraceExhaustedError or *trace.TraceMismatchError, unmodified.
func (o *Observed) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx := &nn.Context{
		Hook:     &verifyHook{pass: o.ledger.Verify(), observed: o},
		Registry: o.opts.registry(),
	}
	return o.model.Forward(ctx, x)
}

// Ledger exposes the recorded trace.
func (o *Observed) Ledger() *trace.Ledger { return o.ledger }

// Observer returns the statistics collector attached to a tensor id.
func (o *Observed) Observer(id trace.TensorID) (*MinMaxObserver, bool) {
	obs, ok := o.observers[id]
	return obs, ok
}

func (o *Observed) attach(ids []trace.TensorID) {
	for _, id := range ids {
		if _, ok := o.observers[id]; !ok {
			o.observers[id] = &MinMaxObserver{}
		}
	}
}

// recordHook drives the RECORDING pass: it executes each recognized op,
// appends it to the ledger and attaches observers to its boundary tensors.
type recordHook struct {
	pass     *trace.Pass
	observed *Observed
}

func (h *recordHook) Dispatch(_ any, kind trace.OpKind, inputs []*tensor.Tensor, run nn.RunFunc) ([]*tensor.Tensor, error) {
	outputs, err := run(inputs)
	if err != nil {
		return nil, err
	}
	op, err := h.pass.Step(kind, inputs, outputs)
	if err != nil {
		return nil, err
	}
	h.observed.attach(op.InputTensorIDs)
	h.observed.attach(op.OutputTensorIDs)
	return outputs, nil
}

// verifyHook drives VERIFYING passes: positional consistency check first,
// then execution, then statistics collection at the recorded tensor slots.
type verifyHook struct {
	pass     *trace.Pass
	observed *Observed
}

func (h *verifyHook) Dispatch(_ any, kind trace.OpKind, inputs []*tensor.Tensor, run nn.RunFunc) ([]*tensor.Tensor, error) {
	op, err := h.pass.Step(kind, nil, nil)
	if err != nil {
		return nil, err
	}
	for i, id := range op.InputTensorIDs {
		if i < len(inputs) {
			if obs, ok := h.observed.observers[id]; ok {
				obs.Observe(inputs[i])
			}
		}
	}
	outputs, err := run(inputs)
	if err != nil {
		return nil, err
	}
	for i, id := range op.OutputTensorIDs {
		if i < len(outputs) {
			if obs, ok := h.observed.observers[id]; ok {
				obs.Observe(outputs[i])
			}
		}
	}
	return outputs, nil
}

// Prepare is the high-level entry point: it wraps the generic preparation
// step (observer scaffolding) and auto observation in one call.
func Prepare(model nn.Module, example *tensor.Tensor, opts Options) (*Observed, error) {
	if opts.InPlace {
		return nil, &MutationNotSupportedError{Op: "Prepare"}
	}
	return AddAutoObservation(model, example, opts)
}
