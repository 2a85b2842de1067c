package tensor

import (
	"math"
	"testing"

	"github.com/strato-ml/quantrace/pkg/quant"
)

func TestQuantizeDequantizeTrivialParams(t *testing.T) {
	// scale=1, zp=0: every value within the integer range must round-trip to
	// within half a quantization step.
	w := FromData([]float32{0, 1.4, -2.6, 100.499, -127.5}, 5)
	got, err := QuantizeDequantize(w, quant.PerTensor(quant.DTypeQInt8, 1, 0))
	if err != nil {
		t.Fatalf("QuantizeDequantize: %v", err)
	}
	for i, v := range w.Data {
		if math.Abs(float64(got.Data[i]-v)) > 0.5 {
			t.Fatalf("value %v round-tripped to %v, off by more than one step", v, got.Data[i])
		}
	}
}

func TestQuantizeDequantizeNoneReturnsSameTensor(t *testing.T) {
	w := FromData([]float32{1, 2}, 2)
	got, err := QuantizeDequantize(w, quant.None())
	if err != nil {
		t.Fatalf("QuantizeDequantize: %v", err)
	}
	if got != w {
		t.Fatal("SchemeNone must return the input tensor untouched")
	}
}

func TestQuantizeDequantizeClamps(t *testing.T) {
	w := FromData([]float32{1000, -1000}, 2)
	got, err := QuantizeDequantize(w, quant.PerTensor(quant.DTypeQInt8, 1, 0))
	if err != nil {
		t.Fatalf("QuantizeDequantize: %v", err)
	}
	assertCloseSlice(t, got.Data, []float32{127, -128}, 0)
}

func TestQuantizeDequantizePerChannel(t *testing.T) {
	// Two output channels with wildly different magnitudes: per-channel scales
	// must keep both accurate.
	w := FromData([]float32{
		0.01, -0.02, 0.03,
		10, -20, 30,
	}, 2, 3)
	p, err := WeightQParams(w, quant.SchemePerChannelAffine, quant.DTypeQInt8, 0)
	if err != nil {
		t.Fatalf("WeightQParams: %v", err)
	}
	if len(p.Scale) != 2 {
		t.Fatalf("expected 2 channel scales, got %d", len(p.Scale))
	}
	got, err := QuantizeDequantize(w, p)
	if err != nil {
		t.Fatalf("QuantizeDequantize: %v", err)
	}
	for i, v := range w.Data {
		c := i / 3
		step := p.Scale[c]
		if math.Abs(float64(got.Data[i]-v)) > float64(step) {
			t.Fatalf("channel %d value %v round-tripped to %v, step %v", c, v, got.Data[i], step)
		}
	}
}

func TestWeightQParamsRejectsBadAxis(t *testing.T) {
	w := New(2, 3)
	if _, err := WeightQParams(w, quant.SchemePerChannelAffine, quant.DTypeQInt8, 5); err == nil {
		t.Fatal("expected error for out-of-range axis")
	}
}

func TestWeightQParamsRejectsUnknownScheme(t *testing.T) {
	w := New(2)
	if _, err := WeightQParams(w, quant.QScheme(7), quant.DTypeQInt8, 0); err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
}
