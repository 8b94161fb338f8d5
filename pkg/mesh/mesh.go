// Package mesh converts backend meshes into the renderer-neutral form handed
// to callers outside the pipeline. Conversion is pure: it copies the
// backend arrays, computes bounds, and rejects meshes that fail minimal
// sanity checks. It never repairs topology.
package mesh

import (
	"math"

	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Mesh is a triangle mesh with flat arrays: 3 floats per position, 3 floats
// per normal, 3 indices per triangle. Positions are already in world space;
// Transform records the placement composed since the last boolean and is
// informational, so renderers must not apply it again.
type Mesh struct {
	Positions     []float32   `json:"positions"`
	Indices       []uint32    `json:"indices"`
	Normals       []float32   `json:"normals,omitempty"`
	VertexCount   int         `json:"vertexCount"`
	TriangleCount int         `json:"triangleCount"`
	Bounds        sdf.Box3    `json:"bounds"`
	Transform     [16]float64 `json:"transform"`
}

// Identity is the row-major 4x4 identity matrix.
var Identity = kernel.MatrixValues(sdf.Identity3d())

// FromKernel converts a backend mesh. xform is the transform recorded on
// the result. Normals are optional, but when present there must be one per
// vertex.
func FromKernel(native *kernel.Mesh, xform sdf.M44) (*Mesh, error) {
	if native == nil {
		return nil, csgerr.New(csgerr.ValidationFailed, "no mesh")
	}
	if len(native.Vertices)%3 != 0 {
		return nil, csgerr.New(csgerr.ValidationFailed, "position array length %d is not a multiple of 3", len(native.Vertices))
	}
	if len(native.Indices)%3 != 0 {
		return nil, csgerr.New(csgerr.ValidationFailed, "index array length %d is not a multiple of 3", len(native.Indices))
	}

	m := &Mesh{
		Positions:     append([]float32(nil), native.Vertices...),
		Indices:       append([]uint32(nil), native.Indices...),
		VertexCount:   native.VertexCount(),
		TriangleCount: native.TriangleCount(),
		Transform:     kernel.MatrixValues(xform),
	}
	if len(native.Normals) > 0 {
		if len(native.Normals) != len(native.Vertices) {
			return nil, csgerr.New(csgerr.ValidationFailed, "%d normals for %d vertices", len(native.Normals)/3, m.VertexCount)
		}
		m.Normals = append([]float32(nil), native.Normals...)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.Bounds = bounds(m.Positions)
	return m, nil
}

// Validate checks that m has at least one triangle and three vertices,
// that every index refers to a vertex, and that positions are finite.
func (m *Mesh) Validate() error {
	if m.TriangleCount < 1 {
		return csgerr.New(csgerr.ValidationFailed, "mesh has no triangles")
	}
	if m.VertexCount < 3 {
		return csgerr.New(csgerr.ValidationFailed, "mesh has %d vertices, need at least 3", m.VertexCount)
	}
	for i, idx := range m.Indices {
		if int(idx) >= m.VertexCount {
			return csgerr.New(csgerr.ValidationFailed, "index %d at position %d is out of bounds (%d vertices)", idx, i, m.VertexCount)
		}
	}
	for i, p := range m.Positions {
		f := float64(p)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return csgerr.New(csgerr.ValidationFailed, "vertex %d has a non-finite coordinate", i/3)
		}
	}
	return nil
}

func bounds(positions []float32) sdf.Box3 {
	at := func(i int) v3.Vec {
		return v3.Vec{X: float64(positions[i]), Y: float64(positions[i+1]), Z: float64(positions[i+2])}
	}
	bb := sdf.Box3{Min: at(0), Max: at(0)}
	for i := 3; i+2 < len(positions); i += 3 {
		p := at(i)
		bb.Min = bb.Min.Min(p)
		bb.Max = bb.Max.Max(p)
	}
	return bb
}

// Size returns the extent of the bounding box along each axis.
func (m *Mesh) Size() v3.Vec {
	return m.Bounds.Max.Sub(m.Bounds.Min)
}
