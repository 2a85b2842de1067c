package trace

import "fmt"

// TraceExhaustedError reports that a forward pass encountered more
// quantization-relevant operations than the recording pass did. The static
// trace assumption is violated, so quantization correctness cannot be
// guaranteed and the pass must fail.
type TraceExhaustedError struct {
	Kind     OpKind
	Recorded int
}

func (e *TraceExhaustedError) Error() string {
	return fmt.Sprintf(
		"trace: encountered arithmetic operation %s but only %d operations were recorded during calibration; "+
			"this likely indicates that the program contains dynamic control flow, "+
			"and quantization is not defined over dynamic control flow",
		e.Kind, e.Recorded)
}

// TraceMismatchError reports that the operation at a trace position differs
// in kind from the one recorded there. Like TraceExhaustedError it is fatal
// to the forward pass.
type TraceMismatchError struct {
	Idx  int
	Got  OpKind
	Want OpKind
}

func (e *TraceMismatchError) Error() string {
	return fmt.Sprintf(
		"trace: encountered arithmetic operation %s at position %d but previously recorded operation was %s; "+
			"this likely indicates that the program contains dynamic control flow, "+
			"and quantization is not defined over dynamic control flow",
		e.Got, e.Idx, e.Want)
}
