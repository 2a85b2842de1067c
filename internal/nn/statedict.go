package nn

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/strato-ml/quantrace/internal/tensor"
)

// EntryKind tags the value held by a state-dict entry.
type EntryKind string

const (
	KindTensor EntryKind = "tensor"
	KindString EntryKind = "string"
	KindI32s   EntryKind = "i32s"
	KindInt    EntryKind = "int"
)

// Entry is one state-dict value. Tensors are stored as f32 values or as an
// f16 raw payload when saved half-precision.
type Entry struct {
	Kind  EntryKind `json:"kind"`
	Shape []int     `json:"shape,omitempty"`
	DType string    `json:"dtype,omitempty"`
	F32   []float32 `json:"f32,omitempty"`
	Raw   []byte    `json:"raw,omitempty"`
	I32   []int32   `json:"i32,omitempty"`
	Str   string    `json:"str,omitempty"`
	Int   int       `json:"int"`
}

// StateDict maps dotted parameter paths to entries.
type StateDict map[string]Entry

func TensorEntry(t *tensor.Tensor) Entry {
	return Entry{Kind: KindTensor, Shape: append([]int(nil), t.Shape...), F32: append([]float32(nil), t.Float32s()...)}
}

// HalfTensorEntry stores the tensor as an f16 payload, halving the
// serialized size at the cost of precision.
func HalfTensorEntry(t *tensor.Tensor) Entry {
	return Entry{Kind: KindTensor, Shape: append([]int(nil), t.Shape...), DType: "f16", Raw: tensor.EncodeF16(t.Float32s())}
}

func StringEntry(s string) Entry  { return Entry{Kind: KindString, Str: s} }
func I32sEntry(v []int32) Entry   { return Entry{Kind: KindI32s, I32: append([]int32(nil), v...)} }
func IntEntry(v int) Entry        { return Entry{Kind: KindInt, Int: v} }
func F32sEntry(v []float32) Entry { return Entry{Kind: KindTensor, Shape: []int{len(v)}, F32: append([]float32(nil), v...)} }

// Tensor decodes a tensor entry, including f16 raw payloads.
func (e Entry) Tensor() (*tensor.Tensor, error) {
	if e.Kind != KindTensor {
		return nil, fmt.Errorf("nn: entry kind %s is not a tensor", e.Kind)
	}
	if e.DType == "f16" {
		t, err := tensor.FromRaw(e.Raw, tensor.F16, e.Shape...)
		if err != nil {
			return nil, err
		}
		return t.Clone(), nil
	}
	n := 1
	for _, d := range e.Shape {
		n *= d
	}
	if len(e.F32) != n {
		return nil, fmt.Errorf("nn: tensor entry has %d values for shape %v", len(e.F32), e.Shape)
	}
	return tensor.FromData(append([]float32(nil), e.F32...), e.Shape...), nil
}

// ParamCarrier exposes a module's learnable parameters by name.
type ParamCarrier interface {
	NamedParams() map[string]*tensor.Tensor
}

// ExtraStater saves and restores non-parameter state (the quantization
// parameter keys of reference layers). LoadExtraState must consume (delete)
// every key it recognizes before generic parameter loading runs, so those
// keys never surface in the unexpected-key list.
type ExtraStater interface {
	SaveExtraState(sd StateDict, prefix string)
	LoadExtraState(sd StateDict, prefix string) error
}

// Save collects the full state of a module tree.
func Save(m Module) StateDict {
	sd := make(StateDict)
	saveInto(sd, "", m)
	return sd
}

func saveInto(sd StateDict, prefix string, m Module) {
	if es, ok := m.(ExtraStater); ok {
		es.SaveExtraState(sd, prefix)
	}
	if pc, ok := m.(ParamCarrier); ok {
		for name, t := range pc.NamedParams() {
			sd[prefix+name] = TensorEntry(t)
		}
	}
	if ct, ok := m.(Container); ok {
		for _, c := range ct.NamedChildren() {
			saveInto(sd, prefix+c.Name+".", c.Module)
		}
	}
}

// LoadResult reports the keys a load could not reconcile.
type LoadResult struct {
	MissingKeys    []string
	UnexpectedKeys []string
}

// Load restores module state from a state dict. Extra state is consumed
// before parameters, mirroring how reference layers strip their quantization
// keys ahead of the generic path. With strict set, any missing or unexpected
// key is an error.
func Load(m Module, sd StateDict, strict bool) (*LoadResult, error) {
	rem := make(StateDict, len(sd))
	for k, v := range sd {
		rem[k] = v
	}
	res := &LoadResult{}
	if err := loadInto(rem, "", m, res); err != nil {
		return nil, err
	}
	for k := range rem {
		res.UnexpectedKeys = append(res.UnexpectedKeys, k)
	}
	sort.Strings(res.MissingKeys)
	sort.Strings(res.UnexpectedKeys)
	if strict && (len(res.MissingKeys) > 0 || len(res.UnexpectedKeys) > 0) {
		return res, fmt.Errorf("nn: state dict mismatch: missing %v, unexpected %v", res.MissingKeys, res.UnexpectedKeys)
	}
	return res, nil
}

func loadInto(rem StateDict, prefix string, m Module, res *LoadResult) error {
	if es, ok := m.(ExtraStater); ok {
		if err := es.LoadExtraState(rem, prefix); err != nil {
			return err
		}
	}
	if pc, ok := m.(ParamCarrier); ok {
		params := pc.NamedParams()
		names := make([]string, 0, len(params))
		for name := range params {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			key := prefix + name
			e, ok := rem[key]
			if !ok {
				res.MissingKeys = append(res.MissingKeys, key)
				continue
			}
			src, err := e.Tensor()
			if err != nil {
				return fmt.Errorf("nn: load %s: %w", key, err)
			}
			dst := params[name]
			if !dst.SameShape(src) {
				return fmt.Errorf("nn: load %s: shape %v does not match parameter shape %v", key, src.Shape, dst.Shape)
			}
			copy(dst.Data, src.Float32s())
			delete(rem, key)
		}
	}
	if ct, ok := m.(Container); ok {
		for _, c := range ct.NamedChildren() {
			if err := loadInto(rem, prefix+c.Name+".", c.Module, res); err != nil {
				return err
			}
		}
	}
	return nil
}

// SaveFile writes a state dict as JSON.
func SaveFile(path string, sd StateDict) error {
	data, err := json.MarshalIndent(sd, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadFile reads a state dict written by SaveFile.
func LoadFile(path string) (StateDict, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sd StateDict
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("nn: parse state dict %s: %w", path, err)
	}
	return sd, nil
}
