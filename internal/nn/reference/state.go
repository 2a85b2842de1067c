// Package reference implements reference (non-accelerated) quantized layers.
//
// A reference layer keeps its weight in full precision together with a
// quantization parameter record. GetWeight quantizes and immediately
// dequantizes the weight, so the forward pass computes in float while
// carrying exactly the precision loss a low-precision kernel would introduce.
// Backends that do have packed kernels fuse the quantize/dequantize pairs
// away; this package never packs anything.
package reference

import (
	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// State-dict keys persisted alongside ordinary parameters. weight_axis is
// always written, with 0 as a placeholder outside per-channel, so exported
// state has a uniform key set across schemes.
const (
	keyWeightQScheme   = "weight_qscheme"
	keyWeightDType     = "weight_dtype"
	keyWeightScale     = "weight_scale"
	keyWeightZeroPoint = "weight_zero_point"
	keyWeightAxis      = "weight_axis"
)

func saveWeightQParams(sd nn.StateDict, prefix string, p quant.QParams) {
	sd[prefix+keyWeightQScheme] = nn.StringEntry(p.Scheme.String())
	sd[prefix+keyWeightDType] = nn.StringEntry(p.DType.String())
	sd[prefix+keyWeightScale] = nn.F32sEntry(p.Scale)
	sd[prefix+keyWeightZeroPoint] = nn.I32sEntry(p.ZeroPoint)
	axis := 0
	if p.Scheme == quant.SchemePerChannelAffine {
		axis = p.Axis
	}
	sd[prefix+keyWeightAxis] = nn.IntEntry(axis)
}

// loadWeightQParams reads and strips the quantization keys, so the generic
// parameter loader never sees them as unexpected. Keys that are absent are
// left at their zero values on purpose: a state dict with none of them loads
// as an unquantized (SchemeNone) layer rather than failing.
func loadWeightQParams(sd nn.StateDict, prefix string) (quant.QParams, error) {
	var p quant.QParams
	if e, ok := sd[prefix+keyWeightQScheme]; ok {
		scheme, err := quant.ParseScheme(e.Str)
		if err != nil {
			return p, err
		}
		p.Scheme = scheme
		delete(sd, prefix+keyWeightQScheme)
	}
	if e, ok := sd[prefix+keyWeightDType]; ok {
		dtype, err := quant.ParseDType(e.Str)
		if err != nil {
			return p, err
		}
		p.DType = dtype
		delete(sd, prefix+keyWeightDType)
	}
	if e, ok := sd[prefix+keyWeightScale]; ok {
		p.Scale = append([]float32(nil), e.F32...)
		delete(sd, prefix+keyWeightScale)
	}
	if e, ok := sd[prefix+keyWeightZeroPoint]; ok {
		p.ZeroPoint = append([]int32(nil), e.I32...)
		delete(sd, prefix+keyWeightZeroPoint)
	}
	if e, ok := sd[prefix+keyWeightAxis]; ok {
		p.Axis = e.Int
		delete(sd, prefix+keyWeightAxis)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
