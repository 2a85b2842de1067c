package tensor

import (
	"fmt"
	"math"

	"github.com/strato-ml/quantrace/pkg/quant"
)

// QuantizeDequantize passes t through affine quantization and straight back
// to float using the supplied parameters. The result carries the precision
// loss a true low-precision kernel would introduce, while staying f32 so the
// reference kernels can consume it.
//
// SchemeNone returns t itself, untouched.
func QuantizeDequantize(t *Tensor, p quant.QParams) (*Tensor, error) {
	if p.Scheme == quant.SchemeNone {
		return t, nil
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	qmin, qmax, _ := p.DType.Range()

	out := New(t.Shape...)
	src := t.Float32s()

	switch p.Scheme {
	case quant.SchemePerTensorAffine:
		scale, zp := p.Scale[0], p.ZeroPoint[0]
		for i, v := range src {
			out.Data[i] = roundTrip(v, scale, zp, qmin, qmax)
		}
	case quant.SchemePerChannelAffine:
		if p.Axis >= len(t.Shape) {
			return nil, fmt.Errorf("tensor: channel axis %d out of range for shape %v", p.Axis, t.Shape)
		}
		channels := t.Shape[p.Axis]
		if len(p.Scale) != channels {
			return nil, fmt.Errorf("tensor: %d channel scales for %d channels along axis %d", len(p.Scale), channels, p.Axis)
		}
		axisStride := rowMajorStrides(t.Shape)[p.Axis]
		for i, v := range src {
			c := (i / axisStride) % channels
			out.Data[i] = roundTrip(v, p.Scale[c], p.ZeroPoint[c], qmin, qmax)
		}
	}
	return out, nil
}

func roundTrip(v, scale float32, zp, qmin, qmax int32) float32 {
	q := int32(math.Round(float64(v/scale))) + zp
	if q < qmin {
		q = qmin
	}
	if q > qmax {
		q = qmax
	}
	return float32(q-zp) * scale
}

// WeightQParams derives quantization parameters for a weight tensor, either
// one pair for the whole tensor or one pair per slice along axis.
func WeightQParams(w *Tensor, scheme quant.QScheme, dtype quant.DType, axis int) (quant.QParams, error) {
	switch scheme {
	case quant.SchemeNone:
		return quant.None(), nil
	case quant.SchemePerTensorAffine:
		lo, hi := w.MinMax()
		scale, zp, err := quant.FromMinMax(quant.DomainWeights, dtype, lo, hi)
		if err != nil {
			return quant.QParams{}, err
		}
		return quant.PerTensor(dtype, scale, zp), nil
	case quant.SchemePerChannelAffine:
		if axis < 0 || axis >= len(w.Shape) {
			return quant.QParams{}, &quant.ConfigurationError{Reason: fmt.Sprintf("channel axis %d out of range for weight shape %v", axis, w.Shape)}
		}
		channels := w.Shape[axis]
		scales := make([]float32, channels)
		zps := make([]int32, channels)
		lo := make([]float32, channels)
		hi := make([]float32, channels)
		for c := range lo {
			lo[c] = float32(math.Inf(1))
			hi[c] = float32(math.Inf(-1))
		}
		stride := rowMajorStrides(w.Shape)[axis]
		for i, v := range w.Float32s() {
			c := (i / stride) % channels
			if v < lo[c] {
				lo[c] = v
			}
			if v > hi[c] {
				hi[c] = v
			}
		}
		for c := 0; c < channels; c++ {
			scale, zp, err := quant.FromMinMax(quant.DomainWeights, dtype, lo[c], hi[c])
			if err != nil {
				return quant.QParams{}, err
			}
			scales[c] = scale
			zps[c] = zp
		}
		return quant.PerChannel(dtype, scales, zps, axis), nil
	default:
		return quant.QParams{}, &quant.ConfigurationError{Reason: fmt.Sprintf("qscheme %s is not supported in reference quantized modules", scheme)}
	}
}
