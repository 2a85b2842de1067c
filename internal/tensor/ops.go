package tensor

import "fmt"

// Add returns the elementwise sum of a and b as a new tensor.
func Add(a, b *Tensor) *Tensor {
	if !a.SameShape(b) {
		panic("tensor: Add shape mismatch")
	}
	out := New(a.Shape...)
	av, bv := a.Float32s(), b.Float32s()
	for i := range out.Data {
		out.Data[i] = av[i] + bv[i]
	}
	return out
}

// ReLU returns max(x, 0) elementwise as a new tensor.
func ReLU(x *Tensor) *Tensor {
	out := New(x.Shape...)
	for i, v := range x.Float32s() {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

// Linear computes x @ w^T + b. x may be [in] or [batch, in]; w is [out, in];
// b is [out] or nil. The result keeps x's batch rank.
func Linear(x, w, b *Tensor) (*Tensor, error) {
	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("linear: weight must be 2-d, got shape %v", w.Shape)
	}
	outF, inF := w.Shape[0], w.Shape[1]
	if b != nil && (len(b.Shape) != 1 || b.Shape[0] != outF) {
		return nil, fmt.Errorf("linear: bias shape %v does not match out features %d", b.Shape, outF)
	}

	var batch int
	switch len(x.Shape) {
	case 1:
		batch = 1
	case 2:
		batch = x.Shape[0]
	default:
		return nil, fmt.Errorf("linear: input must be 1-d or 2-d, got shape %v", x.Shape)
	}
	if x.Shape[len(x.Shape)-1] != inF {
		return nil, fmt.Errorf("linear: input features %d do not match weight in features %d", x.Shape[len(x.Shape)-1], inF)
	}

	var out *Tensor
	if len(x.Shape) == 1 {
		out = New(outF)
	} else {
		out = New(batch, outF)
	}
	xv, wv := x.Float32s(), w.Float32s()
	var bv []float32
	if b != nil {
		bv = b.Float32s()
	}
	for n := 0; n < batch; n++ {
		row := xv[n*inF : (n+1)*inF]
		for o := 0; o < outF; o++ {
			wrow := wv[o*inF : (o+1)*inF]
			var sum float32
			for i, v := range row {
				sum += v * wrow[i]
			}
			if bv != nil {
				sum += bv[o]
			}
			out.Data[n*outF+o] = sum
		}
	}
	return out, nil
}

// Conv1d computes a 1-d convolution. x is [N, Cin, L], w is [Cout, Cin/groups, K].
func Conv1d(x, w, b *Tensor, stride, padding, dilation, groups int) (*Tensor, error) {
	return ConvND(x, w, b, []int{stride}, []int{padding}, []int{dilation}, groups)
}

// Conv2d computes a 2-d convolution. x is [N, Cin, H, W], w is [Cout, Cin/groups, KH, KW].
func Conv2d(x, w, b *Tensor, stride, padding, dilation [2]int, groups int) (*Tensor, error) {
	return ConvND(x, w, b, stride[:], padding[:], dilation[:], groups)
}

// Conv3d computes a 3-d convolution. x is [N, Cin, D, H, W], w is [Cout, Cin/groups, KD, KH, KW].
func Conv3d(x, w, b *Tensor, stride, padding, dilation [3]int, groups int) (*Tensor, error) {
	return ConvND(x, w, b, stride[:], padding[:], dilation[:], groups)
}

// ConvND is the shared reference convolution over an arbitrary spatial rank.
// Zero padding, cross-correlation convention. All slice arguments must have
// length equal to the spatial rank.
func ConvND(x, w, b *Tensor, stride, padding, dilation []int, groups int) (*Tensor, error) {
	rank := len(stride)
	if len(padding) != rank || len(dilation) != rank {
		return nil, fmt.Errorf("conv: stride/padding/dilation rank mismatch")
	}
	if len(x.Shape) != rank+2 || len(w.Shape) != rank+2 {
		return nil, fmt.Errorf("conv: input shape %v and weight shape %v must have rank %d", x.Shape, w.Shape, rank+2)
	}
	n, cin := x.Shape[0], x.Shape[1]
	cout, cinPerGroup := w.Shape[0], w.Shape[1]
	if groups < 1 || cin%groups != 0 || cout%groups != 0 || cinPerGroup != cin/groups {
		return nil, fmt.Errorf("conv: channels (in=%d out=%d) incompatible with groups=%d", cin, cout, groups)
	}
	if b != nil && (len(b.Shape) != 1 || b.Shape[0] != cout) {
		return nil, fmt.Errorf("conv: bias shape %v does not match out channels %d", b.Shape, cout)
	}
	for i := 0; i < rank; i++ {
		if stride[i] < 1 || dilation[i] < 1 || padding[i] < 0 {
			return nil, fmt.Errorf("conv: invalid stride/padding/dilation at dim %d", i)
		}
	}

	inSpatial := x.Shape[2:]
	kernel := w.Shape[2:]
	outSpatial := make([]int, rank)
	for i := 0; i < rank; i++ {
		span := inSpatial[i] + 2*padding[i] - dilation[i]*(kernel[i]-1) - 1
		if span < 0 {
			return nil, fmt.Errorf("conv: kernel dim %d larger than padded input", i)
		}
		outSpatial[i] = span/stride[i] + 1
	}

	outShape := append([]int{n, cout}, outSpatial...)
	out := New(outShape...)

	xStride := rowMajorStrides(x.Shape)
	wStride := rowMajorStrides(w.Shape)
	oStride := rowMajorStrides(outShape)

	xv, wv := x.Float32s(), w.Float32s()
	var bv []float32
	if b != nil {
		bv = b.Float32s()
	}

	coutPerGroup := cout / groups
	opos := make([]int, rank)
	kpos := make([]int, rank)
	for ni := 0; ni < n; ni++ {
		for oc := 0; oc < cout; oc++ {
			g := oc / coutPerGroup
			for i := range opos {
				opos[i] = 0
			}
			for {
				var sum float32
				for ic := 0; ic < cinPerGroup; ic++ {
					xc := g*cinPerGroup + ic
					for i := range kpos {
						kpos[i] = 0
					}
					for {
						xOff := ni*xStride[0] + xc*xStride[1]
						wOff := oc*wStride[0] + ic*wStride[1]
						inside := true
						for i := 0; i < rank; i++ {
							p := opos[i]*stride[i] - padding[i] + kpos[i]*dilation[i]
							if p < 0 || p >= inSpatial[i] {
								inside = false
								break
							}
							xOff += p * xStride[2+i]
							wOff += kpos[i] * wStride[2+i]
						}
						if inside {
							sum += xv[xOff] * wv[wOff]
						}
						if !advance(kpos, kernel) {
							break
						}
					}
				}
				if bv != nil {
					sum += bv[oc]
				}
				oOff := ni*oStride[0] + oc*oStride[1]
				for i := 0; i < rank; i++ {
					oOff += opos[i] * oStride[2+i]
				}
				out.Data[oOff] = sum
				if !advance(opos, outSpatial) {
					break
				}
			}
		}
	}
	return out, nil
}

func rowMajorStrides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// advance increments a multi-index odometer-style; it reports false once the
// index wraps past the final position.
func advance(idx, dims []int) bool {
	for i := len(idx) - 1; i >= 0; i-- {
		idx[i]++
		if idx[i] < dims[i] {
			return true
		}
		idx[i] = 0
	}
	return false
}
