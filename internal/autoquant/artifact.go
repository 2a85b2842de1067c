package autoquant

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/strato-ml/quantrace/internal/trace"
)

// TensorStat is the exported calibration record for one traced tensor.
type TensorStat struct {
	ID         trace.TensorID `json:"id"`
	InfDType   string         `json:"inf_dtype"`
	Calibrated bool           `json:"calibrated"`
	Min        float32        `json:"min"`
	Max        float32        `json:"max"`
	Scale      float32        `json:"scale"`
	ZeroPoint  int32          `json:"zero_point"`
}

// Artifact is the serializable outcome of a calibration run: the recorded
// trace plus per-tensor statistics and derived activation parameters. It is
// what the inspect command and the API server read.
type Artifact struct {
	// ActivationDType is the representation calibrated activations quantize
	// to; scale and zero point in TensorStat are derived for it.
	ActivationDType string         `json:"activation_dtype"`
	Ops             []trace.SeenOp `json:"ops"`
	Tensors         []TensorStat   `json:"tensors"`
}

// Artifact exports the observed trace and calibration state.
func (o *Observed) Artifact() (*Artifact, error) {
	actDType := o.opts.activationDType()
	a := &Artifact{ActivationDType: actDType.String(), Ops: o.ledger.Ops()}
	for id := 0; id < o.ledger.NumTensors(); id++ {
		tid := trace.TensorID(id)
		info, _ := o.ledger.TensorInfo(tid)
		stat := TensorStat{ID: tid, InfDType: info.InfDType.String()}
		if obs, ok := o.observers[tid]; ok {
			if lo, hi, seen := obs.Range(); seen {
				qp, err := obs.QParams(actDType)
				if err != nil {
					return nil, err
				}
				stat.Calibrated = true
				stat.Min, stat.Max = lo, hi
				stat.Scale = qp.Scale[0]
				stat.ZeroPoint = qp.ZeroPoint[0]
			}
		}
		a.Tensors = append(a.Tensors, stat)
	}
	return a, nil
}

// SaveArtifact writes the artifact as JSON.
func SaveArtifact(path string, a *Artifact) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadArtifact reads an artifact written by SaveArtifact.
func LoadArtifact(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("autoquant: parse artifact %s: %w", path, err)
	}
	return &a, nil
}

// Summary renders a one-line description for logs and the inspect command.
func (a *Artifact) Summary() string {
	calibrated := 0
	for _, t := range a.Tensors {
		if t.Calibrated {
			calibrated++
		}
	}
	return fmt.Sprintf("%d ops, %d tensors (%d calibrated)", len(a.Ops), len(a.Tensors), calibrated)
}
