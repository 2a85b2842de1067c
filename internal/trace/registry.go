package trace

// OpKind is the stable identifier of an arithmetic operation in a trace:
// either the name of a tensor function ("tensor.add") or the kind a module
// reports for its forward computation ("nn.linear", "nn.conv2d").
type OpKind string

// Op is implemented by modules whose forward pass is a single traceable
// arithmetic operation. A reference quantized replacement reports the same
// kind as the float module it stands in for, so a ledger recorded before
// conversion still verifies afterwards.
type Op interface {
	OpKind() OpKind
}

// Registry is the closed table of operations the tracer instruments.
// Functions match exactly by kind; module instances match polymorphically
// through the Op interface. Lookups have no side effects.
type Registry struct {
	funcs   map[OpKind]bool
	modules map[OpKind]bool
}

func NewRegistry() *Registry {
	return &Registry{
		funcs:   make(map[OpKind]bool),
		modules: make(map[OpKind]bool),
	}
}

// RegisterFunc marks a tensor function kind as quantizable.
func (r *Registry) RegisterFunc(kind OpKind) {
	r.funcs[kind] = true
}

// RegisterModule marks a module op kind as quantizable.
func (r *Registry) RegisterModule(kind OpKind) {
	r.modules[kind] = true
}

// NeedsQuantization reports whether a candidate operation participates in
// quantization. A candidate is either an OpKind naming a tensor function, or
// a module instance implementing Op. Anything else is never instrumented.
func (r *Registry) NeedsQuantization(candidate any) bool {
	switch c := candidate.(type) {
	case OpKind:
		return r.funcs[c]
	case Op:
		return r.modules[c.OpKind()]
	default:
		return false
	}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry that layer packages populate at
// init time.
func Default() *Registry { return defaultRegistry }
