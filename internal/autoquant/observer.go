package autoquant

import (
	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// MinMaxObserver accumulates the value range of one traced tensor across
// calibration passes. Observers are attached per tensor id during the
// recording pass and fed during verifying passes; like the ledger they are
// unsynchronized and rely on one thread driving the model.
type MinMaxObserver struct {
	min  float32
	max  float32
	seen bool
}

func (o *MinMaxObserver) Observe(t *tensor.Tensor) {
	if t.Len() == 0 {
		return
	}
	lo, hi := t.MinMax()
	if !o.seen {
		o.min, o.max = lo, hi
		o.seen = true
		return
	}
	if lo < o.min {
		o.min = lo
	}
	if hi > o.max {
		o.max = hi
	}
}

// Range returns the observed bounds; ok is false until the first observation.
func (o *MinMaxObserver) Range() (minVal, maxVal float32, ok bool) {
	return o.min, o.max, o.seen
}

// QParams derives per-tensor activation parameters from the observed range.
func (o *MinMaxObserver) QParams(dtype quant.DType) (quant.QParams, error) {
	if !o.seen {
		return quant.QParams{}, &quant.ConfigurationError{Reason: "observer has no calibration data"}
	}
	scale, zp, err := quant.FromMinMax(quant.DomainActivations, dtype, o.min, o.max)
	if err != nil {
		return quant.QParams{}, err
	}
	return quant.PerTensor(dtype, scale, zp), nil
}
