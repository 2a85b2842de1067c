package autoquant

import (
	"fmt"

	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/nn/reference"
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/trace"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// WeightOptions selects how swapped layers quantize their weights.
type WeightOptions struct {
	Scheme quant.QScheme
	DType  quant.DType
	// Axis is the channel axis under per-channel quantization. Both linear
	// and convolution weights put output channels first, so 0 is the default.
	Axis int
}

func (w WeightOptions) normalized() WeightOptions {
	if w.Scheme == quant.SchemeNone {
		w.Scheme = quant.SchemePerTensorAffine
	}
	if w.DType == quant.DTypeF32 {
		w.DType = quant.DTypeQInt8
	}
	return w
}

// SwapReferenceLayers rebuilds a model with every float layer the registry
// knows replaced by its reference quantized equivalent, weights quantized
// with parameters derived from their values. The input model is left
// untouched; unknown leaf modules are carried over as-is.
func SwapReferenceLayers(m nn.Module, w WeightOptions) (nn.Module, error) {
	w = w.normalized()
	switch v := m.(type) {
	case *nn.Sequential:
		children := v.NamedChildren()
		swapped := make([]nn.Module, len(children))
		for i, c := range children {
			s, err := SwapReferenceLayers(c.Module, w)
			if err != nil {
				return nil, fmt.Errorf("autoquant: swap %s: %w", c.Name, err)
			}
			swapped[i] = s
		}
		return nn.NewSequential(swapped...), nil
	case *nn.Linear:
		qp, err := tensor.WeightQParams(v.Weight, w.Scheme, w.DType, w.Axis)
		if err != nil {
			return nil, err
		}
		return reference.FromFloatLinear(v, qp)
	case *nn.Conv1d:
		qp, err := tensor.WeightQParams(v.Weight, w.Scheme, w.DType, w.Axis)
		if err != nil {
			return nil, err
		}
		return reference.FromFloatConv1d(v, qp)
	case *nn.Conv2d:
		qp, err := tensor.WeightQParams(v.Weight, w.Scheme, w.DType, w.Axis)
		if err != nil {
			return nil, err
		}
		return reference.FromFloatConv2d(v, qp)
	case *nn.Conv3d:
		qp, err := tensor.WeightQParams(v.Weight, w.Scheme, w.DType, w.Axis)
		if err != nil {
			return nil, err
		}
		return reference.FromFloatConv3d(v, qp)
	default:
		return m, nil
	}
}

// Converted wraps the quantization-aware model produced by conversion.
// Every Forward verifies against the ledger and passes each recorded
// boundary tensor through quantize-dequantize with its calibrated
// activation parameters. Operations absent from the ledger pass through
// unmodified. Single-threaded, like Observed.
type Converted struct {
	model  nn.Module
	ledger *trace.Ledger
	actQP  map[trace.TensorID]quant.QParams
	opts   Options
}

// AddAutoConvert wraps a model that already went through the generic
// conversion step (layer swapping), rewriting its execution with
// quantize-dequantize passes at the positions recorded in the observed
// trace. The input model is wrapped, never modified.
func AddAutoConvert(converted nn.Module, obs *Observed, opts Options) (*Converted, error) {
	if opts.InPlace {
		return nil, &MutationNotSupportedError{Op: "AddAutoConvert"}
	}
	actDType := opts.activationDType()
	actQP := make(map[trace.TensorID]quant.QParams)
	for id := range obs.observers {
		o := obs.observers[id]
		if _, _, ok := o.Range(); !ok {
			// Never fed: no calibration passes touched this tensor. It stays
			// in float rather than being quantized with a made-up range.
			continue
		}
		qp, err := o.QParams(actDType)
		if err != nil {
			return nil, err
		}
		actQP[id] = qp
	}
	opts.log().Debug("activation qparams derived",
		"calibrated", len(actQP),
		"observed", len(obs.observers))
	return &Converted{
		model:  converted,
		ledger: obs.ledger,
		actQP:  actQP,
		opts:   opts,
	}, nil
}

// Convert runs the generic layer swap followed by AddAutoConvert: the full
// conversion path from an observed model to a quantization-aware one.
func Convert(obs *Observed, w WeightOptions, opts Options) (*Converted, error) {
	if opts.InPlace {
		return nil, &MutationNotSupportedError{Op: "Convert"}
	}
	swapped, err := SwapReferenceLayers(obs.model, w)
	if err != nil {
		return nil, err
	}
	return AddAutoConvert(swapped, obs, opts)
}

// Forward runs one quantization-aware pass. Ledger order is authoritative:
// a divergence fails with the same trace errors as an Observed pass.
func (c *Converted) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	ctx := &nn.Context{
		Hook:     &convertHook{pass: c.ledger.Verify(), converted: c},
		Registry: c.opts.registry(),
	}
	return c.model.Forward(ctx, x)
}

// Model exposes the swapped model, e.g. for persisting its state dict.
func (c *Converted) Model() nn.Module { return c.model }

// convertHook rewrites the traced execution: quantize-dequantize every
// recorded input, run the op, quantize-dequantize every recorded output.
type convertHook struct {
	pass      *trace.Pass
	converted *Converted
}

func (h *convertHook) Dispatch(_ any, kind trace.OpKind, inputs []*tensor.Tensor, run nn.RunFunc) ([]*tensor.Tensor, error) {
	op, err := h.pass.Step(kind, nil, nil)
	if err != nil {
		return nil, err
	}
	qIn := make([]*tensor.Tensor, len(inputs))
	copy(qIn, inputs)
	for i, id := range op.InputTensorIDs {
		if i >= len(qIn) {
			break
		}
		if qp, ok := h.converted.actQP[id]; ok {
			q, err := tensor.QuantizeDequantize(qIn[i], qp)
			if err != nil {
				return nil, err
			}
			qIn[i] = q
		}
	}
	outputs, err := run(qIn)
	if err != nil {
		return nil, err
	}
	for i, id := range op.OutputTensorIDs {
		if i >= len(outputs) {
			break
		}
		if qp, ok := h.converted.actQP[id]; ok {
			q, err := tensor.QuantizeDequantize(outputs[i], qp)
			if err != nil {
				return nil, err
			}
			outputs[i] = q
		}
	}
	return outputs, nil
}
