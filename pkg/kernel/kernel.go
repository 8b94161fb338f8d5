// Package kernel defines the abstract geometry kernel interface and the
// Adapter that owns the single kernel instance. Implementations (bsp, sdfx,
// manifold) provide solid modeling and boolean operations behind the
// interface; the Adapter adds lazy loading, handle ownership and the
// manifold precondition on boolean inputs.
package kernel

import (
	"context"

	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Solid is a backend's native solid. Implementations wrap their internal
// representation.
type Solid interface {
	// BoundingBox returns the axis-aligned bounding box.
	BoundingBox() (min, max [3]float64)
}

// Kernel is the backend interface. Boolean operations and Transform return
// a fresh solid and leave their inputs intact; the Adapter decides when an
// input is released.
type Kernel interface {
	// Primitives. Box has its minimum corner at the origin; Sphere is
	// centred on the origin; Cylinder stands on the XY plane along +Z.
	Box(x, y, z float64) Solid
	Sphere(radius float64, segments int) Solid
	Cylinder(height, r1, r2 float64, segments int) Solid

	// Boolean operations
	Union(a, b Solid) Solid
	Difference(a, b Solid) Solid
	Intersection(a, b Solid) Solid

	// Transform applies an affine 4x4 matrix.
	Transform(s Solid, m sdf.M44) Solid

	// Check reports whether s satisfies the backend's manifold precondition
	// for boolean inputs.
	Check(s Solid) error

	// Mesh output
	ToMesh(s Solid) (*Mesh, error)

	// Release frees native memory held by s.
	Release(s Solid)
}

// Loader instantiates a backend. It is the only step that may block on I/O.
type Loader func(ctx context.Context) (Kernel, error)

// MatrixValues flattens the affine matrix m into row-major order.
func MatrixValues(m sdf.M44) [16]float64 {
	o := m.MulPosition(v3.Vec{})
	x := m.MulPosition(v3.Vec{X: 1}).Sub(o)
	y := m.MulPosition(v3.Vec{Y: 1}).Sub(o)
	z := m.MulPosition(v3.Vec{Z: 1}).Sub(o)
	return [16]float64{
		x.X, y.X, z.X, o.X,
		x.Y, y.Y, z.Y, o.Y,
		x.Z, y.Z, z.Z, o.Z,
		0, 0, 0, 1,
	}
}

// Determinant returns the determinant of the linear part of m. A negative
// value means m mirrors geometry and face winding must be flipped.
func Determinant(m sdf.M44) float64 {
	v := MatrixValues(m)
	return v[0]*(v[5]*v[10]-v[6]*v[9]) -
		v[1]*(v[4]*v[10]-v[6]*v[8]) +
		v[2]*(v[4]*v[9]-v[5]*v[8])
}
