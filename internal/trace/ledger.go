// Package trace records the sequence of arithmetic operations a model
// executes and verifies that later passes replay the exact same sequence.
// A divergence means the model's control flow is not static, and quantizing
// such a model would silently corrupt its numerics, so divergence is fatal.
//
// A Ledger and its passes are single-threaded by design: one logical thread
// of execution drives each instrumented model. Callers needing concurrency
// must serialize whole forward passes externally.
package trace

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/strato-ml/quantrace/internal/tensor"
	"github.com/strato-ml/quantrace/pkg/quant"
)

// TensorID is a dense identifier assigned to each distinct tensor observed
// during the recording pass, in order of first sight.
type TensorID int

// QTensorInfo describes one observed tensor: its id and the numeric
// representation it carries at inference time. Never mutated after creation.
type QTensorInfo struct {
	ID       TensorID    `json:"id"`
	InfDType quant.DType `json:"inf_dtype"`
}

// SeenOp is one record of the trace: the operation's position, kind, and the
// ids of the tensors flowing in and out. Immutable once recorded.
type SeenOp struct {
	Idx             int        `json:"idx"`
	Kind            OpKind     `json:"kind"`
	InputTensorIDs  []TensorID `json:"input_tensor_ids"`
	OutputTensorIDs []TensorID `json:"output_tensor_ids"`
}

func (op SeenOp) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "(kind): %s\n", op.Kind)
	fmt.Fprintf(&b, "     (input_tensor_ids): %v\n", op.InputTensorIDs)
	fmt.Fprintf(&b, "     (output_tensor_ids): %v", op.OutputTensorIDs)
	return b.String()
}

// Ledger is the ordered record of one model's forward trace, together with
// the identity map assigning TensorIDs to tensor allocation tags and the
// QTensorInfo table. It is populated by exactly one recording pass and
// read-only afterwards.
type Ledger struct {
	ops     []SeenOp
	ids     map[uuid.UUID]TensorID
	tensors []QTensorInfo
}

func NewLedger() *Ledger {
	return &Ledger{ids: make(map[uuid.UUID]TensorID)}
}

// Len returns the number of recorded operations.
func (l *Ledger) Len() int { return len(l.ops) }

// Op returns the recorded operation at position i.
func (l *Ledger) Op(i int) SeenOp { return l.ops[i] }

// Ops returns the recorded operations in trace order. The caller must not
// modify the returned slice.
func (l *Ledger) Ops() []SeenOp { return l.ops }

// TensorInfo returns the info record for an observed tensor id.
func (l *Ledger) TensorInfo(id TensorID) (QTensorInfo, bool) {
	if id < 0 || int(id) >= len(l.tensors) {
		return QTensorInfo{}, false
	}
	return l.tensors[id], true
}

// NumTensors returns the number of distinct tensors observed.
func (l *Ledger) NumTensors() int { return len(l.tensors) }

// tensorID returns the id for a tensor, assigning the next dense id on first
// sight. Only the recording pass calls this.
func (l *Ledger) tensorID(t *tensor.Tensor) TensorID {
	if id, ok := l.ids[t.Tag()]; ok {
		return id
	}
	id := TensorID(len(l.tensors))
	l.ids[t.Tag()] = id
	l.tensors = append(l.tensors, QTensorInfo{ID: id, InfDType: inferenceDType(t)})
	return id
}

func inferenceDType(t *tensor.Tensor) quant.DType {
	switch t.DType {
	case tensor.F16:
		return quant.DTypeF16
	default:
		return quant.DTypeF32
	}
}

// Pass is a cursor over one forward execution. A recording pass appends to
// the ledger; a verifying pass compares positionally against it. The cursor
// advances by exactly one per recognized operation in both modes.
type Pass struct {
	ledger    *Ledger
	next      int
	recording bool
}

// Record starts the recording pass. It may only run on an empty ledger:
// the ledger is the source of truth for the model's forward shape, and
// re-recording over a populated one would silently mask divergence.
func (l *Ledger) Record() (*Pass, error) {
	if len(l.ops) > 0 {
		return nil, fmt.Errorf("trace: ledger already holds %d operations; recording runs once per model", len(l.ops))
	}
	return &Pass{ledger: l, recording: true}, nil
}

// Verify starts a verifying pass over a populated ledger.
func (l *Ledger) Verify() *Pass {
	return &Pass{ledger: l}
}

// Step consumes one recognized operation.
//
// Recording: appends a SeenOp at the next index, assigning tensor ids on
// first sight. Verifying: compares kind positionally; a longer live trace
// yields *TraceExhaustedError, a kind mismatch yields *TraceMismatchError.
// In both modes the returned SeenOp is the ledger entry for this position.
func (p *Pass) Step(kind OpKind, inputs, outputs []*tensor.Tensor) (SeenOp, error) {
	if p.recording {
		op := SeenOp{
			Idx:             p.next,
			Kind:            kind,
			InputTensorIDs:  tensorIDs(p.ledger, inputs),
			OutputTensorIDs: tensorIDs(p.ledger, outputs),
		}
		p.ledger.ops = append(p.ledger.ops, op)
		p.next++
		return op, nil
	}

	if p.next >= len(p.ledger.ops) {
		return SeenOp{}, &TraceExhaustedError{Kind: kind, Recorded: len(p.ledger.ops)}
	}
	want := p.ledger.ops[p.next]
	if want.Kind != kind {
		return SeenOp{}, &TraceMismatchError{Idx: p.next, Got: kind, Want: want.Kind}
	}
	p.next++
	return want, nil
}

// Pos returns the index the next recognized operation will occupy.
func (p *Pass) Pos() int { return p.next }

func tensorIDs(l *Ledger, ts []*tensor.Tensor) []TensorID {
	if len(ts) == 0 {
		return nil
	}
	ids := make([]TensorID, len(ts))
	for i, t := range ts {
		ids[i] = l.tensorID(t)
	}
	return ids
}
