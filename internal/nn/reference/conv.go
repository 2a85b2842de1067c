package reference

import (
	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/trace"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// convNd is the shared state of the reference quantized convolutions.
// Weights are never packed here; packed layouts belong to backends.
type convNd struct {
	kind          trace.OpKind
	InChannels    int
	OutChannels   int
	Kernel        []int
	Stride        []int
	Padding       []int
	Dilation      []int
	Groups        int
	Weight        *tensor.Tensor
	Bias          *tensor.Tensor
	WeightQParams quant.QParams
}

func (c *convNd) OpKind() trace.OpKind { return c.kind }

// GetWeight returns the weight after a quantize-dequantize round trip with
// the stored parameters.
func (c *convNd) GetWeight() (*tensor.Tensor, error) {
	return tensor.QuantizeDequantize(c.Weight, c.WeightQParams)
}

func (c *convNd) Forward(ctx *nn.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(c, c.kind, []*tensor.Tensor{x},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			w, err := c.GetWeight()
			if err != nil {
				return nil, err
			}
			y, err := tensor.ConvND(in[0], w, c.Bias, c.Stride, c.Padding, c.Dilation, c.Groups)
			if err != nil {
				return nil, err
			}
			return []*tensor.Tensor{y}, nil
		})
}

func (c *convNd) NamedParams() map[string]*tensor.Tensor {
	p := map[string]*tensor.Tensor{"weight": c.Weight}
	if c.Bias != nil {
		p["bias"] = c.Bias
	}
	return p
}

func (c *convNd) SaveExtraState(sd nn.StateDict, prefix string) {
	saveWeightQParams(sd, prefix, c.WeightQParams)
}

func (c *convNd) LoadExtraState(sd nn.StateDict, prefix string) error {
	p, err := loadWeightQParams(sd, prefix)
	if err != nil {
		return err
	}
	c.WeightQParams = p
	return nil
}

// fromFloat clones configuration and parameters out of a float convolution.
func fromFloat(kind trace.OpKind, in, out int, kernel, stride, padding, dilation []int, groups int,
	weight, bias *tensor.Tensor, qp quant.QParams) (convNd, error) {
	if err := qp.Validate(); err != nil {
		return convNd{}, err
	}
	c := convNd{
		kind:          kind,
		InChannels:    in,
		OutChannels:   out,
		Kernel:        append([]int(nil), kernel...),
		Stride:        append([]int(nil), stride...),
		Padding:       append([]int(nil), padding...),
		Dilation:      append([]int(nil), dilation...),
		Groups:        groups,
		Weight:        weight.Clone(),
		WeightQParams: qp,
	}
	if bias != nil {
		c.Bias = bias.Clone()
	}
	return c, nil
}

// Conv1d is the reference quantized 1-d convolution.
type Conv1d struct{ convNd }

func FromFloatConv1d(src *nn.Conv1d, qp quant.QParams) (*Conv1d, error) {
	base, err := fromFloat("nn.conv1d", src.InChannels, src.OutChannels,
		src.Kernel, src.Stride, src.Padding, src.Dilation, src.Groups,
		src.Weight, src.Bias, qp)
	if err != nil {
		return nil, err
	}
	return &Conv1d{base}, nil
}

// Conv2d is the reference quantized 2-d convolution.
type Conv2d struct{ convNd }

func FromFloatConv2d(src *nn.Conv2d, qp quant.QParams) (*Conv2d, error) {
	base, err := fromFloat("nn.conv2d", src.InChannels, src.OutChannels,
		src.Kernel, src.Stride, src.Padding, src.Dilation, src.Groups,
		src.Weight, src.Bias, qp)
	if err != nil {
		return nil, err
	}
	return &Conv2d{base}, nil
}

// Conv3d is the reference quantized 3-d convolution.
type Conv3d struct{ convNd }

func FromFloatConv3d(src *nn.Conv3d, qp quant.QParams) (*Conv3d, error) {
	base, err := fromFloat("nn.conv3d", src.InChannels, src.OutChannels,
		src.Kernel, src.Stride, src.Padding, src.Dilation, src.Groups,
		src.Weight, src.Bias, qp)
	if err != nil {
		return nil, err
	}
	return &Conv3d{base}, nil
}
