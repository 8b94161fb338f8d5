package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chazu/scadcsg/pkg/config"
	"github.com/chazu/scadcsg/pkg/convert"
	"github.com/chazu/scadcsg/pkg/diag"
	"github.com/chazu/scadcsg/pkg/engine"
	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/chazu/scadcsg/pkg/kernel/backend"
	"github.com/chazu/scadcsg/pkg/logging"
	"github.com/chazu/scadcsg/pkg/registry"
	"github.com/chazu/scadcsg/pkg/tessellate"
)

// colorPalette is a default palette used to assign distinct colors to parts.
var colorPalette = []string{
	"#4A90D9", "#E67E22", "#2ECC71", "#9B59B6",
	"#E74C3C", "#1ABC9C", "#F39C12", "#3498DB",
}

// App evaluates designs. The kernel adapter is shared by every evaluation,
// so the backend loads once; each evaluation gets a fresh module registry.
type App struct {
	cfg     config.Config
	log     *slog.Logger
	engine  *engine.Engine
	adapter *kernel.Adapter
}

// MeshData is the JSON-serializable mesh format printed with -json.
type MeshData struct {
	Vertices      []float32     `json:"vertices"`
	Normals       []float32     `json:"normals"`
	Indices       []uint32      `json:"indices"`
	PartName      string        `json:"partName"`
	Color         string        `json:"color"`
	VertexCount   int           `json:"vertexCount"`
	TriangleCount int           `json:"triangleCount"`
	Bounds        [2][3]float64 `json:"bounds"`
	Transform     [16]float64   `json:"transform"`
}

// EvalErrorData is a JSON-serializable eval error.
type EvalErrorData struct {
	Line    int    `json:"line"`
	Col     int    `json:"col"`
	Message string `json:"message"`
}

// EvalResult is the full result of one evaluation.
type EvalResult struct {
	Meshes   []MeshData      `json:"meshes"`
	Errors   []EvalErrorData `json:"errors"`
	Warnings []EvalErrorData `json:"warnings"`
	Empty    int             `json:"empty"`
}

// NewApp creates an App for cfg. A nil logger discards.
func NewApp(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	adapter, err := backend.NewAdapter(cfg.Backend, logger)
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:     cfg,
		log:     logger,
		engine:  engine.NewEngine(engine.WithTimeout(cfg.EvalTimeout)),
		adapter: adapter,
	}, nil
}

// Close releases the backend.
func (a *App) Close() {
	a.adapter.Close()
}

// Evaluate takes design source and returns mesh data + errors.
func (a *App) Evaluate(source string) EvalResult {
	result := EvalResult{
		Meshes:   []MeshData{},
		Errors:   []EvalErrorData{},
		Warnings: []EvalErrorData{},
	}

	// Step 1: Evaluate the source into top-level statements.
	prog, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		// Fatal error (panic, timeout, etc.)
		a.log.Error("evaluate failed", "err", err)
		result.Errors = append(result.Errors, EvalErrorData{Message: err.Error()})
		return result
	}
	if len(evalErrs) > 0 {
		for _, e := range evalErrs {
			result.Errors = append(result.Errors, EvalErrorData{
				Line:    e.Line,
				Col:     e.Col,
				Message: e.Message,
			})
		}
		return result
	}
	for _, w := range prog.Warnings {
		result.Warnings = append(result.Warnings, EvalErrorData{Line: w.Line, Col: w.Col, Message: w.Message})
	}

	// Step 2: Convert every statement into meshes.
	conv := convert.New(a.adapter, registry.New(),
		convert.WithConfig(a.cfg),
		convert.WithLogger(a.log))
	out, err := tessellate.Tessellate(context.Background(), conv, prog.Nodes, tessellate.WithLogger(a.log))
	if err != nil {
		a.log.Error("tessellate failed", "err", err)
		result.Errors = append(result.Errors, EvalErrorData{
			Message: "conversion failed: " + err.Error(),
		})
		return result
	}
	for _, w := range out.Warnings {
		result.Warnings = append(result.Warnings, EvalErrorData{Message: w.Error()})
	}
	result.Empty = out.Empty

	// Step 3: Convert neutral meshes to the output format.
	for i, p := range out.Parts {
		m := p.Mesh
		result.Meshes = append(result.Meshes, MeshData{
			Vertices:      m.Positions,
			Normals:       m.Normals,
			Indices:       m.Indices,
			PartName:      p.Name,
			Color:         colorPalette[i%len(colorPalette)],
			VertexCount:   m.VertexCount,
			TriangleCount: m.TriangleCount,
			Bounds: [2][3]float64{
				{m.Bounds.Min.X, m.Bounds.Min.Y, m.Bounds.Min.Z},
				{m.Bounds.Max.X, m.Bounds.Max.Y, m.Bounds.Max.Z},
			},
			Transform: m.Transform,
		})
	}

	return result
}

// CrossCheck evaluates source and compares its scale operands with the
// scale calls in the OpenSCAD text scad.
func (a *App) CrossCheck(scad, source string) ([]diag.Mismatch, error) {
	prog, evalErrs, err := a.engine.Evaluate(source)
	if err != nil {
		return nil, err
	}
	if len(evalErrs) > 0 {
		return nil, fmt.Errorf("evaluate: %w", evalErrs[0])
	}
	return diag.CrossCheck(scad, prog.Nodes), nil
}
