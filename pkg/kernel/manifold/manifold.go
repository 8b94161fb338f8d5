//go:build manifold

// Package manifold provides a CGo-based geometry kernel binding to the
// Manifold library (https://github.com/elalish/manifold). Manifold
// guarantees manifold output from every boolean operation.
//
// This package requires the Manifold C library (manifoldc) to be installed.
// Build with: go build -tags=manifold
package manifold

/*
#cgo CFLAGS: -I/usr/local/include
#cgo LDFLAGS: -L/usr/local/lib -lmanifoldc

#include <stdlib.h>
#include <manifold/manifoldc.h>
*/
import "C"

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"unsafe"

	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
)

// Compile-time interface checks.
var _ kernel.Kernel = (*ManifoldKernel)(nil)
var _ kernel.Solid = (*manifoldSolid)(nil)

// manifoldSolid wraps a C ManifoldManifold pointer and implements kernel.Solid.
type manifoldSolid struct {
	ptr *C.ManifoldManifold
}

// BoundingBox returns the axis-aligned bounding box of the solid.
func (s *manifoldSolid) BoundingBox() (min, max [3]float64) {
	alloc := C.manifold_alloc_box()
	bbox := C.manifold_bounding_box(alloc, s.ptr)
	defer C.manifold_delete_box(bbox)

	min[0] = float64(C.manifold_box_min_x(bbox))
	min[1] = float64(C.manifold_box_min_y(bbox))
	min[2] = float64(C.manifold_box_min_z(bbox))
	max[0] = float64(C.manifold_box_max_x(bbox))
	max[1] = float64(C.manifold_box_max_y(bbox))
	max[2] = float64(C.manifold_box_max_z(bbox))
	return min, max
}

// free deletes the native manifold once.
func (s *manifoldSolid) free() {
	if s.ptr != nil {
		C.manifold_delete_manifold(s.ptr)
		s.ptr = nil
	}
}

// newSolid wraps a C ManifoldManifold pointer. The finalizer covers solids
// that are dropped without an explicit Release.
func newSolid(ptr *C.ManifoldManifold) *manifoldSolid {
	s := &manifoldSolid{ptr: ptr}
	runtime.SetFinalizer(s, (*manifoldSolid).free)
	return s
}

func unwrap(s kernel.Solid) *manifoldSolid {
	return s.(*manifoldSolid)
}

// ManifoldKernel implements kernel.Kernel using the Manifold C library.
type ManifoldKernel struct{}

// New creates a new ManifoldKernel.
func New() (*ManifoldKernel, error) {
	return &ManifoldKernel{}, nil
}

// Load is a kernel.Loader for the Manifold backend.
func Load(context.Context) (kernel.Kernel, error) {
	return New()
}

// Box creates a box with its minimum corner at the origin.
func (k *ManifoldKernel) Box(x, y, z float64) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_cube(alloc,
		C.double(x), C.double(y), C.double(z),
		C.int(0), // center=false
	)
	return newSolid(ptr)
}

// Sphere creates a sphere centred on the origin.
func (k *ManifoldKernel) Sphere(radius float64, segments int) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_sphere(alloc, C.double(radius), C.int(segments))
	return newSolid(ptr)
}

// Cylinder creates a frustum standing on the XY plane along +Z.
func (k *ManifoldKernel) Cylinder(height, r1, r2 float64, segments int) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_cylinder(alloc,
		C.double(height),
		C.double(r1), // radius_low
		C.double(r2), // radius_high
		C.int(segments),
		C.int(0), // center=false
	)
	return newSolid(ptr)
}

// Union returns the boolean union of two solids.
func (k *ManifoldKernel) Union(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_union(alloc, unwrap(a).ptr, unwrap(b).ptr)
	return newSolid(ptr)
}

// Difference returns the boolean difference (a minus b).
func (k *ManifoldKernel) Difference(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_difference(alloc, unwrap(a).ptr, unwrap(b).ptr)
	return newSolid(ptr)
}

// Intersection returns the boolean intersection of two solids.
func (k *ManifoldKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_intersection(alloc, unwrap(a).ptr, unwrap(b).ptr)
	return newSolid(ptr)
}

// Transform applies m. manifold_transform takes the 4x3 affine part in
// column-major order.
func (k *ManifoldKernel) Transform(s kernel.Solid, m sdf.M44) kernel.Solid {
	v := kernel.MatrixValues(m)
	alloc := C.manifold_alloc_manifold()
	ptr := C.manifold_transform(alloc, unwrap(s).ptr,
		C.double(v[0]), C.double(v[4]), C.double(v[8]),
		C.double(v[1]), C.double(v[5]), C.double(v[9]),
		C.double(v[2]), C.double(v[6]), C.double(v[10]),
		C.double(v[3]), C.double(v[7]), C.double(v[11]),
	)
	return newSolid(ptr)
}

// Check reports the status Manifold recorded when the solid was built.
func (k *ManifoldKernel) Check(s kernel.Solid) error {
	ms := unwrap(s)
	if ms.ptr == nil {
		return fmt.Errorf("manifold: solid was released")
	}
	if status := C.manifold_status(ms.ptr); status != C.MANIFOLD_NO_ERROR {
		return fmt.Errorf("manifold: status %d", int(status))
	}
	min, max := ms.BoundingBox()
	for i := 0; i < 3; i++ {
		if math.IsNaN(min[i]) || math.IsNaN(max[i]) {
			return fmt.Errorf("manifold: non-finite bounds")
		}
	}
	return nil
}

// Release frees the native manifold now instead of waiting for the
// finalizer.
func (k *ManifoldKernel) Release(s kernel.Solid) {
	ms := unwrap(s)
	runtime.SetFinalizer(ms, nil)
	ms.free()
}

// ToMesh extracts a triangle mesh from the solid using Manifold's MeshGL
// format. Vertex positions and normals are interleaved in MeshGL; this
// method separates them into the kernel.Mesh flat-array layout.
func (k *ManifoldKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	ms := unwrap(s)
	if ms.ptr == nil {
		return nil, fmt.Errorf("manifold: solid was released")
	}

	meshAlloc := C.manifold_alloc_meshgl()
	meshGL := C.manifold_get_meshgl(meshAlloc, ms.ptr)
	defer C.manifold_delete_meshgl(meshGL)

	numVert := int(C.manifold_meshgl_num_vert(meshGL))
	numTri := int(C.manifold_meshgl_num_tri(meshGL))

	if numVert == 0 || numTri == 0 {
		return &kernel.Mesh{}, nil
	}

	// The first 3 properties are position; normals follow at 3..5 if present.
	numProp := int(C.manifold_meshgl_num_prop(meshGL))

	propData := make([]float32, numVert*numProp)
	C.manifold_meshgl_vert_properties(
		(*C.float)(unsafe.Pointer(&propData[0])),
		meshGL,
	)

	indices := make([]uint32, numTri*3)
	C.manifold_meshgl_tri_verts(
		(*C.uint32_t)(unsafe.Pointer(&indices[0])),
		meshGL,
	)

	vertices := make([]float32, numVert*3)
	var normals []float32
	hasNormals := numProp >= 6
	if hasNormals {
		normals = make([]float32, numVert*3)
	}

	for i := 0; i < numVert; i++ {
		base := i * numProp
		copy(vertices[i*3:i*3+3], propData[base:base+3])
		if hasNormals {
			copy(normals[i*3:i*3+3], propData[base+3:base+6])
		}
	}

	if !hasNormals {
		normals = computeVertexNormals(vertices, indices)
	}

	mesh := &kernel.Mesh{
		Vertices: vertices,
		Normals:  normals,
		Indices:  indices,
	}
	if mesh.VertexCount() != numVert {
		return nil, fmt.Errorf("manifold: vertex count mismatch: got %d, expected %d",
			mesh.VertexCount(), numVert)
	}
	return mesh, nil
}

// computeVertexNormals averages the face normals of the triangles incident
// on each vertex, weighted by area.
func computeVertexNormals(vertices []float32, indices []uint32) []float32 {
	normals := make([]float64, len(vertices))
	for t := 0; t+2 < len(indices); t += 3 {
		i0, i1, i2 := indices[t], indices[t+1], indices[t+2]
		ax, ay, az := float64(vertices[i0*3]), float64(vertices[i0*3+1]), float64(vertices[i0*3+2])
		e1x, e1y, e1z := float64(vertices[i1*3])-ax, float64(vertices[i1*3+1])-ay, float64(vertices[i1*3+2])-az
		e2x, e2y, e2z := float64(vertices[i2*3])-ax, float64(vertices[i2*3+1])-ay, float64(vertices[i2*3+2])-az

		nx := e1y*e2z - e1z*e2y
		ny := e1z*e2x - e1x*e2z
		nz := e1x*e2y - e1y*e2x
		for _, idx := range []uint32{i0, i1, i2} {
			normals[idx*3+0] += nx
			normals[idx*3+1] += ny
			normals[idx*3+2] += nz
		}
	}

	out := make([]float32, len(normals))
	for i := 0; i+2 < len(normals); i += 3 {
		l := math.Sqrt(normals[i]*normals[i] + normals[i+1]*normals[i+1] + normals[i+2]*normals[i+2])
		if l > 1e-12 {
			out[i] = float32(normals[i] / l)
			out[i+1] = float32(normals[i+1] / l)
			out[i+2] = float32(normals[i+2] / l)
		}
	}
	return out
}
