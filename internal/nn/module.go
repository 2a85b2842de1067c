// Package nn provides the small module system the tracing pipeline
// instruments: a Module interface, a forward Context that routes recognized
// arithmetic operations through an optional trace hook, float reference
// layers and state-dict persistence.
package nn

import (
	"fmt"

	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/internal/trace"
)

// Module is a unit of computation over a single tensor.
type Module interface {
	Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error)
}

// RunFunc executes one arithmetic operation on its (possibly substituted)
// inputs.
type RunFunc func(inputs []*tensor.Tensor) ([]*tensor.Tensor, error)

// Hook surrounds the execution of every operation the registry recognizes.
// The tracing pipeline implements it to record, verify and rewrite traces.
type Hook interface {
	Dispatch(candidate any, kind trace.OpKind, inputs []*tensor.Tensor, run RunFunc) ([]*tensor.Tensor, error)
}

// Context carries per-forward execution state. A nil Context (or one with a
// nil Hook) executes operations directly. The registry is consulted before
// the hook, so operations it does not recognize are invisible to tracing.
type Context struct {
	Hook     Hook
	Registry *trace.Registry
}

func (c *Context) registry() *trace.Registry {
	if c != nil && c.Registry != nil {
		return c.Registry
	}
	return trace.Default()
}

// Dispatch routes one operation through the hook when the candidate is
// recognized as quantizable, and runs it directly otherwise.
func (c *Context) Dispatch(candidate any, kind trace.OpKind, inputs []*tensor.Tensor, run RunFunc) (*tensor.Tensor, error) {
	var (
		outs []*tensor.Tensor
		err  error
	)
	if c == nil || c.Hook == nil || !c.registry().NeedsQuantization(candidate) {
		outs, err = run(inputs)
	} else {
		outs, err = c.Hook.Dispatch(candidate, kind, inputs, run)
	}
	if err != nil {
		return nil, err
	}
	if len(outs) != 1 {
		return nil, fmt.Errorf("nn: operation %s produced %d outputs, want 1", kind, len(outs))
	}
	return outs[0], nil
}

// Add is the traced elementwise addition. It is registered as a quantizable
// tensor function, so the hook sees it when both branches of a residual
// connection carry quantized activations.
func Add(ctx *Context, a, b *tensor.Tensor) (*tensor.Tensor, error) {
	return ctx.Dispatch(trace.OpKind("tensor.add"), "tensor.add",
		[]*tensor.Tensor{a, b},
		func(in []*tensor.Tensor) ([]*tensor.Tensor, error) {
			return []*tensor.Tensor{tensor.Add(in[0], in[1])}, nil
		})
}

// Named pairs a child module with its state-dict name.
type Named struct {
	Name   string
	Module Module
}

// Container is implemented by modules with child modules; state persistence
// and layer swapping walk it.
type Container interface {
	NamedChildren() []Named
	// ReplaceChild swaps the named child for another module. It is how the
	// generic conversion step substitutes reference quantized layers.
	ReplaceChild(name string, m Module) error
}

// Sequential chains modules, feeding each one's output to the next.
// Children are named by position, matching their state-dict prefixes.
type Sequential struct {
	children []Named
}

func NewSequential(mods ...Module) *Sequential {
	s := &Sequential{children: make([]Named, len(mods))}
	for i, m := range mods {
		s.children[i] = Named{Name: fmt.Sprintf("%d", i), Module: m}
	}
	return s
}

func (s *Sequential) Forward(ctx *Context, x *tensor.Tensor) (*tensor.Tensor, error) {
	var err error
	for _, c := range s.children {
		x, err = c.Module.Forward(ctx, x)
		if err != nil {
			return nil, err
		}
	}
	return x, nil
}

func (s *Sequential) NamedChildren() []Named { return s.children }

func (s *Sequential) ReplaceChild(name string, m Module) error {
	for i := range s.children {
		if s.children[i].Name == name {
			s.children[i].Module = m
			return nil
		}
	}
	return fmt.Errorf("nn: no child named %q", name)
}

func init() {
	r := trace.Default()
	r.RegisterFunc("tensor.add")
	r.RegisterModule("nn.linear")
	r.RegisterModule("nn.conv1d")
	r.RegisterModule("nn.conv2d")
	r.RegisterModule("nn.conv3d")
	r.RegisterModule("nn.relu")
}
