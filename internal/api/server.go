// Package api serves a calibration artifact over HTTP for inspection: the
// recorded operation trace, per-tensor statistics and the derived activation
// quantization parameters.
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v5"

	"github.com/strato-ml/quantrace/internal/autoquant"
	"github.com/strato-ml/quantrace/internal/logger"
	"github.com/strato-ml/quantrace/internal/trace"
)

type Server struct {
	store *ArtifactStore
	log   logger.Logger
}

func NewServer(store *ArtifactStore, log logger.Logger) *Server {
	if store == nil {
		store = NewArtifactStore("", nil)
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{store: store, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/artifact", s.handleArtifact)
	e.GET("/v1/ledger", s.handleLedger)
	e.GET("/v1/ledger/:idx", s.handleLedgerOp)
	e.GET("/v1/tensors", s.handleTensors)
	e.GET("/v1/tensors/:id", s.handleTensor)
	e.GET("/v1/qparams", s.handleQParams)
	e.POST("/v1/reload", s.handleReload)
}

// ArtifactView is the /v1/artifact summary payload.
type ArtifactView struct {
	ActivationDType string `json:"activation_dtype"`
	Ops             int    `json:"ops"`
	Tensors         int    `json:"tensors"`
	Calibrated      int    `json:"calibrated"`
	Summary         string `json:"summary"`
}

// OpView renders one recorded operation.
type OpView struct {
	Idx      int              `json:"idx"`
	Kind     trace.OpKind     `json:"kind"`
	Inputs   []trace.TensorID `json:"inputs"`
	Outputs  []trace.TensorID `json:"outputs"`
	Rendered string           `json:"rendered"`
}

// QParamsView is the derived activation quantization of one calibrated
// tensor.
type QParamsView struct {
	ID        trace.TensorID `json:"id"`
	Scheme    string         `json:"scheme"`
	DType     string         `json:"dtype"`
	Scale     float32        `json:"scale"`
	ZeroPoint int32          `json:"zero_point"`
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArtifact(c *echo.Context) error {
	a, ok := s.artifact()
	if !ok {
		return writeUnavailable(c)
	}
	calibrated := 0
	for _, t := range a.Tensors {
		if t.Calibrated {
			calibrated++
		}
	}
	return c.JSON(http.StatusOK, ArtifactView{
		ActivationDType: a.ActivationDType,
		Ops:             len(a.Ops),
		Tensors:         len(a.Tensors),
		Calibrated:      calibrated,
		Summary:         a.Summary(),
	})
}

func (s *Server) handleLedger(c *echo.Context) error {
	a, ok := s.artifact()
	if !ok {
		return writeUnavailable(c)
	}
	ops := make([]OpView, len(a.Ops))
	for i, op := range a.Ops {
		ops[i] = opView(op)
	}
	return c.JSON(http.StatusOK, map[string]any{"ops": ops})
}

func (s *Server) handleLedgerOp(c *echo.Context) error {
	a, ok := s.artifact()
	if !ok {
		return writeUnavailable(c)
	}
	idx, err := strconv.Atoi(c.Param("idx"))
	if err != nil {
		return writeBadRequest(c, "idx must be an integer")
	}
	if idx < 0 || idx >= len(a.Ops) {
		return writeNotFound(c, "no operation at that trace position")
	}
	return c.JSON(http.StatusOK, opView(a.Ops[idx]))
}

func (s *Server) handleTensors(c *echo.Context) error {
	a, ok := s.artifact()
	if !ok {
		return writeUnavailable(c)
	}
	return c.JSON(http.StatusOK, map[string]any{"tensors": a.Tensors})
}

func (s *Server) handleTensor(c *echo.Context) error {
	a, ok := s.artifact()
	if !ok {
		return writeUnavailable(c)
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		return writeBadRequest(c, "id must be an integer")
	}
	for _, t := range a.Tensors {
		if t.ID == trace.TensorID(id) {
			return c.JSON(http.StatusOK, t)
		}
	}
	return writeNotFound(c, "no tensor with that id")
}

func (s *Server) handleQParams(c *echo.Context) error {
	a, ok := s.artifact()
	if !ok {
		return writeUnavailable(c)
	}
	params := make([]QParamsView, 0, len(a.Tensors))
	for _, t := range a.Tensors {
		if !t.Calibrated {
			continue
		}
		params = append(params, QParamsView{
			ID:        t.ID,
			Scheme:    "per_tensor_affine",
			DType:     a.ActivationDType,
			Scale:     t.Scale,
			ZeroPoint: t.ZeroPoint,
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"qparams": params})
}

func (s *Server) handleReload(c *echo.Context) error {
	if err := s.store.Reload(); err != nil {
		s.log.Error("artifact reload failed", "error", err)
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	a := s.store.Artifact()
	s.log.Info("artifact reloaded", "summary", a.Summary())
	return c.JSON(http.StatusOK, map[string]string{"status": "reloaded", "summary": a.Summary()})
}

func (s *Server) artifact() (*autoquant.Artifact, bool) {
	a := s.store.Artifact()
	return a, a != nil
}

func opView(op trace.SeenOp) OpView {
	return OpView{
		Idx:      op.Idx,
		Kind:     op.Kind,
		Inputs:   op.InputTensorIDs,
		Outputs:  op.OutputTensorIDs,
		Rendered: op.String(),
	}
}
