// Package quant defines quantization schemes, target dtypes and the
// per-layer quantization parameter record shared by the tensor kernels,
// the reference quantized layers and the tracing pipeline.
package quant

import "fmt"

// QScheme identifies how scale/zero-point pairs apply to a tensor.
type QScheme uint8

const (
	// SchemeNone leaves the tensor untouched.
	SchemeNone QScheme = iota
	// SchemePerTensorAffine uses one scale/zero-point pair for the whole tensor.
	SchemePerTensorAffine
	// SchemePerChannelAffine uses one scale/zero-point pair per slice along Axis.
	SchemePerChannelAffine
)

func (s QScheme) String() string {
	switch s {
	case SchemeNone:
		return "none"
	case SchemePerTensorAffine:
		return "per_tensor_affine"
	case SchemePerChannelAffine:
		return "per_channel_affine"
	default:
		return fmt.Sprintf("qscheme(%d)", uint8(s))
	}
}

// ParseScheme is the inverse of QScheme.String. It is used when loading
// persisted layer state.
func ParseScheme(s string) (QScheme, error) {
	switch s {
	case "none":
		return SchemeNone, nil
	case "per_tensor_affine":
		return SchemePerTensorAffine, nil
	case "per_channel_affine":
		return SchemePerChannelAffine, nil
	default:
		return SchemeNone, &ConfigurationError{Reason: "unknown qscheme " + s}
	}
}

// DType is a target numeric representation at inference time.
type DType uint8

const (
	DTypeF32 DType = iota
	DTypeF16
	DTypeQUInt8
	DTypeQInt8
)

func (d DType) String() string {
	switch d {
	case DTypeF32:
		return "f32"
	case DTypeF16:
		return "f16"
	case DTypeQUInt8:
		return "quint8"
	case DTypeQInt8:
		return "qint8"
	default:
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
}

// ParseDType is the inverse of DType.String.
func ParseDType(s string) (DType, error) {
	switch s {
	case "f32":
		return DTypeF32, nil
	case "f16":
		return DTypeF16, nil
	case "quint8":
		return DTypeQUInt8, nil
	case "qint8":
		return DTypeQInt8, nil
	default:
		return DTypeF32, &ConfigurationError{Reason: "unknown dtype " + s}
	}
}

// Range returns the representable integer range [qmin, qmax] of a
// low-precision dtype. It reports false for float dtypes.
func (d DType) Range() (qmin, qmax int32, ok bool) {
	switch d {
	case DTypeQUInt8:
		return 0, 255, true
	case DTypeQInt8:
		return -128, 127, true
	default:
		return 0, 0, false
	}
}

// ConfigurationError reports an unsupported quantization configuration.
// It is raised at construction time, never deferred to the first forward.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "quant: " + e.Reason
}

// Domain selects the scale/zero-point derivation rule.
//
// Weights use a symmetric range around zero so that the zero point lands in
// the middle of the integer range and backends can use plain integer dot
// products. Activations use the full asymmetric [min, max] range.
type Domain uint8

const (
	DomainWeights Domain = iota
	DomainActivations
)

// QParams is the per-layer weight quantization record: scheme, target dtype
// and scale/zero-point (one pair per-tensor, or one per channel along Axis).
//
// Axis is meaningful only under SchemePerChannelAffine; it is kept at 0
// otherwise so persisted state has a uniform shape across schemes.
type QParams struct {
	Scheme    QScheme
	DType     DType
	Scale     []float32
	ZeroPoint []int32
	Axis      int
}

// PerTensor builds per-tensor affine parameters from a single pair.
func PerTensor(dtype DType, scale float32, zeroPoint int32) QParams {
	return QParams{
		Scheme:    SchemePerTensorAffine,
		DType:     dtype,
		Scale:     []float32{scale},
		ZeroPoint: []int32{zeroPoint},
	}
}

// PerChannel builds per-channel affine parameters along axis.
func PerChannel(dtype DType, scale []float32, zeroPoint []int32, axis int) QParams {
	return QParams{
		Scheme:    SchemePerChannelAffine,
		DType:     dtype,
		Scale:     scale,
		ZeroPoint: zeroPoint,
		Axis:      axis,
	}
}

// None builds parameters that leave the weight untouched.
func None() QParams {
	return QParams{Scheme: SchemeNone, DType: DTypeF32}
}

// Validate checks the record for internal consistency. It returns a
// *ConfigurationError describing the first problem found.
func (p QParams) Validate() error {
	switch p.Scheme {
	case SchemeNone:
		return nil
	case SchemePerTensorAffine:
		if len(p.Scale) != 1 || len(p.ZeroPoint) != 1 {
			return &ConfigurationError{Reason: "per_tensor_affine requires exactly one scale/zero_point pair"}
		}
	case SchemePerChannelAffine:
		if len(p.Scale) == 0 || len(p.Scale) != len(p.ZeroPoint) {
			return &ConfigurationError{Reason: "per_channel_affine requires matching non-empty scale/zero_point slices"}
		}
		if p.Axis < 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("negative channel axis %d", p.Axis)}
		}
	default:
		return &ConfigurationError{Reason: fmt.Sprintf("qscheme %s is not supported in reference quantized modules", p.Scheme)}
	}
	if _, _, ok := p.DType.Range(); !ok {
		return &ConfigurationError{Reason: fmt.Sprintf("dtype %s is not a quantized dtype", p.DType)}
	}
	for _, s := range p.Scale {
		if s <= 0 {
			return &ConfigurationError{Reason: fmt.Sprintf("non-positive scale %v", s)}
		}
	}
	return nil
}

// FromMinMax derives a scale/zero-point pair from an observed value range.
//
// DomainWeights produces a symmetric mapping; DomainActivations produces an
// affine mapping over [min, max] extended to include zero, so that zero is
// exactly representable.
func FromMinMax(domain Domain, dtype DType, minVal, maxVal float32) (scale float32, zeroPoint int32, err error) {
	qmin, qmax, ok := dtype.Range()
	if !ok {
		return 0, 0, &ConfigurationError{Reason: fmt.Sprintf("dtype %s is not a quantized dtype", dtype)}
	}
	if minVal > maxVal {
		minVal, maxVal = maxVal, minVal
	}

	if domain == DomainWeights {
		amax := maxVal
		if -minVal > amax {
			amax = -minVal
		}
		if amax == 0 {
			amax = 1
		}
		half := float32(qmax-qmin) / 2
		scale = amax / half
		zeroPoint = qmin + int32(half)
		return scale, zeroPoint, nil
	}

	// Extend the range to include zero.
	if minVal > 0 {
		minVal = 0
	}
	if maxVal < 0 {
		maxVal = 0
	}
	if maxVal == minVal {
		return 1, qmin, nil
	}
	scale = (maxVal - minVal) / float32(qmax-qmin)
	zp := float32(qmin) - minVal/scale
	switch {
	case zp < float32(qmin):
		zeroPoint = qmin
	case zp > float32(qmax):
		zeroPoint = qmax
	default:
		zeroPoint = int32(roundHalfAway(zp))
	}
	return scale, zeroPoint, nil
}

func roundHalfAway(v float32) float32 {
	if v >= 0 {
		return float32(int64(v + 0.5))
	}
	return float32(int64(v - 0.5))
}
