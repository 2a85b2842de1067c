package reference

import (
	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/trace"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// Linear is the reference quantized fully-connected layer.
//
// The weight stays in float; the forward pass runs the float kernel on the
// quantize-dequantized weight:
//
//	w (float) -- quant -- dequant \
//	x (float) ----------------- linear --
type Linear struct {
	InFeatures    int
	OutFeatures   int
	Weight        *tensor.Tensor
	Bias          *tensor.Tensor
	WeightQParams quant.QParams
}

// NewLinear constructs a reference quantized linear layer. An unsupported
// scheme fails here, never at the first forward.
func NewLinear(in, out int, bias bool, qp quant.QParams) (*Linear, error) {
	if err := qp.Validate(); err != nil {
		return nil, err
	}
	l := &Linear{
		InFeatures:    in,
		OutFeatures:   out,
		Weight:        tensor.New(out, in),
		WeightQParams: qp,
	}
	if bias {
		l.Bias = tensor.New(out)
	}
	return l, nil
}

// FromFloatLinear copies a float layer's configuration and parameters.
// Weight and bias are cloned, so the reference layer never aliases the
// source layer's storage.
func FromFloatLinear(src *nn.Linear, qp quant.QParams) (*Linear, error) {
	l, err := NewLinear(src.InFeatures, src.OutFeatures, src.Bias != nil, qp)
	if err != nil {
		return nil, err
	}
	l.Weight = src.Weight.Clone()
	if src.Bias != nil {
		l.Bias = src.Bias.Clone()
	}
	return l, nil
}

// OpKind matches the float layer's kind: in the trace this is the same
// arithmetic operation, only its weight precision differs.
func (l *Linear) OpKind() trace.OpKind { return "nn.linear" }

// GetWeight returns the weight after a quantize-dequantize round trip with
// the stored parameters.
func (l *Linear) GetWeight() (*tensor.Tensor, error) {
	return tensor.QuantizeDequantize(l.Weight, l.WeightQParams)
}

func (l *Linear) Forward(ctx *nn.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(l, l.OpKind(), []*tensor.Tensor{x},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			w, err := l.GetWeight()
			if err != nil {
				return nil, err
			}
			y, err := tensor.Linear(in[0], w, l.Bias)
			if err != nil {
				return nil, err
			}
			return []*tensor.Tensor{y}, nil
		})
}

func (l *Linear) NamedParams() map[string]*tensor.Tensor {
	p := map[string]*tensor.Tensor{"weight": l.Weight}
	if l.Bias != nil {
		p["bias"] = l.Bias
	}
	return p
}

func (l *Linear) SaveExtraState(sd nn.StateDict, prefix string) {
	saveWeightQParams(sd, prefix, l.WeightQParams)
}

func (l *Linear) LoadExtraState(sd nn.StateDict, prefix string) error {
	p, err := loadWeightQParams(sd, prefix)
	if err != nil {
		return err
	}
	l.WeightQParams = p
	return nil
}
