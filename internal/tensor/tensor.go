// Package tensor provides the dense float32 n-d tensor used by the reference
// layers and the tracing pipeline, together with the small set of kernels
// this project needs: elementwise ops, linear, convolution and affine
// quantize/dequantize.
//
// Kernels here are deliberately plain loops. Packed or vectorized
// implementations belong to backends, not to this reference core.
package tensor

import (
	"math/rand"

	"github.com/google/uuid"
)

// Tensor is a dense row-major float32 tensor.
//
// Every tensor carries a Tag assigned at allocation. Go gives us no stable
// object identity, so the tracer keys its identity map on the tag instead:
// two views of the same allocation share a tag, a Clone gets a fresh one.
//
// For f32 tensors Data is populated. For f16/bf16 payloads (loaded state
// dicts) Raw holds the encoded bytes and values are decoded on access.
type Tensor struct {
	Shape []int
	DType DType
	Data  []float32
	Raw   []byte

	tag uuid.UUID
}

// New allocates a zero-initialised f32 tensor with the given shape.
func New(shape ...int) *Tensor {
	n := checkShape(shape)
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: F32,
		Data:  make([]float32, n),
		tag:   uuid.New(),
	}
}

// FromData wraps existing data in a tensor. The data length must match the
// shape's element count.
func FromData(data []float32, shape ...int) *Tensor {
	if checkShape(shape) != len(data) {
		panic("tensor: data length does not match shape")
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: F32,
		Data:  data,
		tag:   uuid.New(),
	}
}

// FromRaw wraps an encoded payload in the given dtype. The payload must hold
// exactly the shape's element count.
func FromRaw(raw []byte, dtype DType, shape ...int) (*Tensor, error) {
	n := checkShape(shape)
	size, ok := dtype.ElemSize()
	if !ok {
		return nil, errUnsupportedDType
	}
	if len(raw) != n*size {
		return nil, errRawSizeMismatch
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: dtype,
		Raw:   raw,
		tag:   uuid.New(),
	}, nil
}

// Tag returns the allocation tag identifying this tensor across the lifetime
// of a traced forward pass.
func (t *Tensor) Tag() uuid.UUID { return t.tag }

// Len returns the total number of elements.
func (t *Tensor) Len() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Dim returns the size of dimension i.
func (t *Tensor) Dim(i int) int {
	if i < 0 || i >= len(t.Shape) {
		panic("tensor: dimension out of range")
	}
	return t.Shape[i]
}

// Float32s returns the tensor contents as f32, decoding Raw payloads.
// For f32 tensors the returned slice aliases the tensor storage.
func (t *Tensor) Float32s() []float32 {
	if t.Raw == nil || t.DType == F32 {
		return t.Data
	}
	out := make([]float32, t.Len())
	decodeRaw(out, t.Raw, t.DType)
	return out
}

// Clone returns a deep copy with a fresh allocation tag. Raw payloads are
// decoded to f32 in the copy.
func (t *Tensor) Clone() *Tensor {
	c := New(t.Shape...)
	copy(c.Data, t.Float32s())
	return c
}

// Reshape returns a view with a new shape over the same storage. The view
// keeps the allocation tag: it is the same tensor as far as tracing is
// concerned.
func (t *Tensor) Reshape(shape ...int) *Tensor {
	if checkShape(shape) != t.Len() {
		panic("tensor: reshape changes element count")
	}
	return &Tensor{
		Shape: append([]int(nil), shape...),
		DType: t.DType,
		Data:  t.Data,
		Raw:   t.Raw,
		tag:   t.tag,
	}
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	if len(t.Shape) != len(o.Shape) {
		return false
	}
	for i := range t.Shape {
		if t.Shape[i] != o.Shape[i] {
			return false
		}
	}
	return true
}

// MinMax returns the smallest and largest element. It panics on an empty
// tensor: an empty activation has no meaningful range.
func (t *Tensor) MinMax() (minVal, maxVal float32) {
	data := t.Float32s()
	if len(data) == 0 {
		panic("tensor: MinMax of empty tensor")
	}
	minVal, maxVal = data[0], data[0]
	for _, v := range data[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	return minVal, maxVal
}

// FillRand fills the tensor with reproducible pseudo-random values in a small
// range around zero. The same seed yields the same tensor.
func (t *Tensor) FillRand(seed int64) {
	if t.Raw != nil && t.DType != F32 {
		panic("tensor: FillRand only supports f32 tensors")
	}
	rng := rand.New(rand.NewSource(seed))
	for i := range t.Data {
		t.Data[i] = (rng.Float32() - 0.5) * 2
	}
}

func checkShape(shape []int) int {
	n := 1
	for _, d := range shape {
		if d < 0 {
			panic("tensor: negative dimension")
		}
		n *= d
	}
	return n
}

var (
	errUnsupportedDType = tensorError("unsupported dtype for raw tensor")
	errRawSizeMismatch  = tensorError("raw payload length mismatch")
)

type tensorError string

func (e tensorError) Error() string { return string(e) }
