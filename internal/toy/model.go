// Package toy provides small models used for testing, benchmarking and the
// CLI's built-in demo: a convolutional classifier with static control flow,
// and a gated variant whose forward path depends on the data flowing through
// it, exactly the situation trace verification exists to catch.
package toy

import (
	"fmt"

	"github.com/strato-ml/quantrace/internal/nn"
	"github.com/strato-ml/quantrace/internal/tensor"
)

// Flatten collapses everything after the batch dimension. It is not a
// registered arithmetic operation, so tracing never sees it.
type Flatten struct{}

func (Flatten) Forward(_ *nn.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return x, nil
	}
	rest := 1
	for _, d := range x.Shape[1:] {
		rest *= d
	}
	return x.Reshape(x.Shape[0], rest), nil
}

// ConvNetConfig sizes the demo classifier.
type ConvNetConfig struct {
	InChannels int
	Channels   int
	SeqLen     int
	Classes    int
}

func DefaultConvNetConfig() ConvNetConfig {
	return ConvNetConfig{InChannels: 1, Channels: 4, SeqLen: 16, Classes: 3}
}

// NewConvNet builds conv1d -> relu -> flatten -> linear with reproducible
// weights. Same seed, same model.
func NewConvNet(cfg ConvNetConfig, seed int64) *nn.Sequential {
	conv := nn.NewConv1d(cfg.InChannels, cfg.Channels, 3, nn.ConvOpts{Padding: 1})
	conv.Weight.FillRand(seed + 11)
	conv.Bias.FillRand(seed + 13)

	fc := nn.NewLinear(cfg.Channels*cfg.SeqLen, cfg.Classes, true)
	fc.Weight.FillRand(seed + 23)
	fc.Bias.FillRand(seed + 29)

	return nn.NewSequential(conv, nn.ReLU{}, Flatten{}, fc)
}

// Input allocates a reproducible random input batch for a ConvNet.
func Input(cfg ConvNetConfig, batch int, seed int64) *tensor.Tensor {
	x := tensor.New(batch, cfg.InChannels, cfg.SeqLen)
	x.FillRand(seed)
	return x
}

// GatedNet wraps a body with a data-dependent activation: when the mean of
// the body's output exceeds Threshold, an extra ReLU runs. The executed
// operation sequence therefore depends on the input values, which makes the
// model unquantizable whenever both paths are exercised.
type GatedNet struct {
	Body      *nn.Sequential
	Threshold float32

	extra nn.ReLU
}

func NewGatedNet(cfg ConvNetConfig, seed int64, threshold float32) *GatedNet {
	return &GatedNet{Body: NewConvNet(cfg, seed), Threshold: threshold}
}

func (g *GatedNet) Forward(ctx *nn.Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	y, err := g.Body.Forward(ctx, x)
	if err != nil {
		return nil, err
	}
	if mean(y) > g.Threshold {
		return g.extra.Forward(ctx, y)
	}
	return y, nil
}

func (g *GatedNet) NamedChildren() []nn.Named {
	return []nn.Named{{Name: "body", Module: g.Body}}
}

func (g *GatedNet) ReplaceChild(name string, m nn.Module) error {
	if name != "body" {
		return fmt.Errorf("toy: no child named %q", name)
	}
	body, ok := m.(*nn.Sequential)
	if !ok {
		return fmt.Errorf("toy: gated body must be a sequential")
	}
	g.Body = body
	return nil
}

func mean(t *tensor.Tensor) float32 {
	data := t.Float32s()
	if len(data) == 0 {
		return 0
	}
	var sum float32
	for _, v := range data {
		sum += v
	}
	return sum / float32(len(data))
}
