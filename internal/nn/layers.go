package nn

import (
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/trace"
)

// Linear is the float fully-connected layer: y = x @ W^T + b.
type Linear struct {
	InFeatures  int
	OutFeatures int
	Weight      *tensor.Tensor // [out, in]
	Bias        *tensor.Tensor // [out], nil when disabled
}

func NewLinear(in, out int, bias bool) *Linear {
	l := &Linear{
		InFeatures:  in,
		OutFeatures: out,
		Weight:      tensor.New(out, in),
	}
	if bias {
		l.Bias = tensor.New(out)
	}
	return l
}

func (l *Linear) OpKind() trace.OpKind { return "nn.linear" }

func (l *Linear) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(l, l.OpKind(), []*tensor.Tensor{x},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			y, err := tensor.Linear(in[0], l.Weight, l.Bias)
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

// ConvOpts carries the optional convolution hyperparameters. The zero value
// means stride 1, no padding, dilation 1, a single group and a bias term.
type ConvOpts struct {
	Stride   int
	Padding  int
	Dilation int
	Groups   int
	NoBias   bool
}

func (o ConvOpts) normalized() ConvOpts {
	if o.Stride == 0 {
		o.Stride = 1
	}
	if o.Dilation == 0 {
		o.Dilation = 1
	}
	if o.Groups == 0 {
		o.Groups = 1
	}
	return o
}

// convNd is the shared state of the three convolution layers. Stride,
// padding and dilation apply uniformly across the spatial dimensions.
type convNd struct {
	kind        trace.OpKind
	InChannels  int
	OutChannels int
	Kernel      []int
	Stride      []int
	Padding     []int
	Dilation    []int
	Groups      int
	Weight      *tensor.Tensor // [out, in/groups, kernel...]
	Bias        *tensor.Tensor // [out], nil when disabled
}

func newConvNd(kind trace.OpKind, rank, in, out, kernel int, opts ConvOpts) convNd {
	opts = opts.normalized()
	c := convNd{
		kind:        kind,
		InChannels:  in,
		OutChannels: out,
		Kernel:      repeat(kernel, rank),
		Stride:      repeat(opts.Stride, rank),
		Padding:     repeat(opts.Padding, rank),
		Dilation:    repeat(opts.Dilation, rank),
		Groups:      opts.Groups,
	}
	wShape := append([]int{out, in / opts.Groups}, c.Kernel...)
	c.Weight = tensor.New(wShape...)
	if !opts.NoBias {
		c.Bias = tensor.New(out)
	}
	return c
}

func repeat(v, n int) []int {
	s := make([]int, n)
	for i := range s {
		s[i] = v
	}
	return s
}

func (c *convNd) OpKind() trace.OpKind { return c.kind }

func (c *convNd) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(c.self(), c.kind, []*tensor.Tensor{x},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			y, err := tensor.ConvND(in[0], c.Weight, c.Bias, c.Stride, c.Padding, c.Dilation, c.Groups)
			if err != nil {
				return nil, err
			}
			return []*tensor.Tensor{y}, nil
		})
}

// self returns the candidate handed to the registry. convNd itself
// implements trace.Op, so the embedding layer types match polymorphically.
func (c *convNd) self() any { return c }

func (c *convNd) NamedParams() map[string]*tensor.Tensor {
	p := map[string]*tensor.Tensor{"weight": c.Weight}
	if c.Bias != nil {
		p["bias"] = c.Bias
	}
	return p
}

// Conv1d is the float 1-d convolution over [N, C, L] inputs.
type Conv1d struct{ convNd }

func NewConv1d(in, out, kernel int, opts ConvOpts) *Conv1d {
	return &Conv1d{newConvNd("nn.conv1d", 1, in, out, kernel, opts)}
}

// Conv2d is the float 2-d convolution over [N, C, H, W] inputs.
type Conv2d struct{ convNd }

func NewConv2d(in, out, kernel int, opts ConvOpts) *Conv2d {
	return &Conv2d{newConvNd("nn.conv2d", 2, in, out, kernel, opts)}
}

// Conv3d is the float 3-d convolution over [N, C, D, H, W] inputs.
type Conv3d struct{ convNd }

func NewConv3d(in, out, kernel int, opts ConvOpts) *Conv3d {
	return &Conv3d{newConvNd("nn.conv3d", 3, in, out, kernel, opts)}
}

// ReLU applies max(x, 0). It participates in tracing so that activation
// boundaries around it are observed.
type ReLU struct{}

func (ReLU) OpKind() trace.OpKind { return "nn.relu" }

func (r ReLU) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(r, r.OpKind(), []*tensor.Tensor{x},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return []*tensor.Tensor{tensor.ReLU(in[0])}, nil
		})
}
