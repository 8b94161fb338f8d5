// Package bsp implements the kernel.Kernel interface with polygon meshes and
// binary space partitioning trees. Booleans clip the polygons of one solid
// against the tree of the other, so flat faces stay flat and a box meshes
// to exactly 8 vertices and 12 triangles. It needs no native library and is
// the default backend.
package bsp

import (
	"context"
	"fmt"
	"math"

	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// Compile-time interface checks.
var _ kernel.Kernel = (*BSPKernel)(nil)
var _ kernel.Solid = (*bspSolid)(nil)

// minVolume is the smallest enclosed volume a non-empty boolean input may
// have.
const minVolume = 1e-12

// bspSolid is a closed polygon soup. An empty polygon list is the empty set.
type bspSolid struct {
	polys []*polygon
}

// BoundingBox returns the axis-aligned bounding box.
func (s *bspSolid) BoundingBox() (min, max [3]float64) {
	if len(s.polys) == 0 {
		return min, max
	}
	lo := s.polys[0].verts[0]
	hi := lo
	for _, p := range s.polys {
		for _, v := range p.verts {
			lo = lo.Min(v)
			hi = hi.Max(v)
		}
	}
	return [3]float64{lo.X, lo.Y, lo.Z}, [3]float64{hi.X, hi.Y, hi.Z}
}

// BSPKernel implements kernel.Kernel with BSP-tree polygon booleans.
type BSPKernel struct{}

// New returns a new BSPKernel.
func New() *BSPKernel {
	return &BSPKernel{}
}

// Load is a kernel.Loader for the BSP backend.
func Load(context.Context) (kernel.Kernel, error) {
	return New(), nil
}

func unwrap(s kernel.Solid) *bspSolid {
	return s.(*bspSolid)
}

func wrap(polys []*polygon) kernel.Solid {
	return &bspSolid{polys: polys}
}

// Box creates a box with its minimum corner at the origin.
func (k *BSPKernel) Box(x, y, z float64) kernel.Solid {
	corner := func(i int) v3.Vec {
		var c v3.Vec
		if i&1 != 0 {
			c.X = x
		}
		if i&2 != 0 {
			c.Y = y
		}
		if i&4 != 0 {
			c.Z = z
		}
		return c
	}
	faces := [6][4]int{
		{0, 4, 6, 2}, // -x
		{1, 3, 7, 5}, // +x
		{0, 1, 5, 4}, // -y
		{2, 6, 7, 3}, // +y
		{0, 2, 3, 1}, // -z
		{4, 5, 7, 6}, // +z
	}
	polys := make([]*polygon, 0, len(faces))
	for _, f := range faces {
		verts := []v3.Vec{corner(f[0]), corner(f[1]), corner(f[2]), corner(f[3])}
		if p := newPolygon(verts); p != nil {
			polys = append(polys, p)
		}
	}
	return wrap(polys)
}

func ring(radius, z float64, segments int) []v3.Vec {
	pts := make([]v3.Vec, segments)
	for j := range pts {
		theta := 2 * math.Pi * float64(j) / float64(segments)
		pts[j] = v3.Vec{X: radius * math.Cos(theta), Y: radius * math.Sin(theta), Z: z}
	}
	return pts
}

func reversed(pts []v3.Vec) []v3.Vec {
	out := make([]v3.Vec, len(pts))
	for i, p := range pts {
		out[len(pts)-1-i] = p
	}
	return out
}

// Sphere creates a sphere centred on the origin from (segments+1)/2 rings
// of segments points each. No vertex sits on a pole.
func (k *BSPKernel) Sphere(radius float64, segments int) kernel.Solid {
	rings := (segments + 1) / 2
	if rings < 2 {
		rings = 2
	}
	layers := make([][]v3.Vec, rings)
	for i := range layers {
		phi := math.Pi * (float64(i) + 0.5) / float64(rings)
		layers[i] = ring(radius*math.Sin(phi), radius*math.Cos(phi), segments)
	}

	var polys []*polygon
	add := func(verts []v3.Vec) {
		if p := newPolygon(verts); p != nil {
			polys = append(polys, p)
		}
	}
	add(layers[0])
	for i := 0; i+1 < rings; i++ {
		upper, lower := layers[i], layers[i+1]
		for j := 0; j < segments; j++ {
			n := (j + 1) % segments
			add([]v3.Vec{upper[j], lower[j], lower[n], upper[n]})
		}
	}
	add(reversed(layers[rings-1]))
	return wrap(polys)
}

// Cylinder creates a frustum standing on the XY plane along +Z. Either
// radius may be zero, giving a cone.
func (k *BSPKernel) Cylinder(height, r1, r2 float64, segments int) kernel.Solid {
	bottom := ring(r1, 0, segments)
	top := ring(r2, height, segments)

	var polys []*polygon
	add := func(verts []v3.Vec) {
		if p := newPolygon(verts); p != nil {
			polys = append(polys, p)
		}
	}
	if r1 > 0 {
		add(reversed(bottom))
	}
	if r2 > 0 {
		add(top)
	}
	for j := 0; j < segments; j++ {
		n := (j + 1) % segments
		switch {
		case r1 > 0 && r2 > 0:
			add([]v3.Vec{bottom[j], bottom[n], top[n], top[j]})
		case r2 == 0:
			add([]v3.Vec{bottom[j], bottom[n], {Z: height}})
		default:
			add([]v3.Vec{{}, top[n], top[j]})
		}
	}
	return wrap(polys)
}

// Union returns the boolean union of two solids.
func (k *BSPKernel) Union(a, b kernel.Solid) kernel.Solid {
	pa, pb := unwrap(a).polys, unwrap(b).polys
	switch {
	case len(pa) == 0:
		return wrap(clonePolygons(pb))
	case len(pb) == 0:
		return wrap(clonePolygons(pa))
	}
	return wrap(union(pa, pb))
}

// Difference returns the boolean difference (a minus b).
func (k *BSPKernel) Difference(a, b kernel.Solid) kernel.Solid {
	pa, pb := unwrap(a).polys, unwrap(b).polys
	switch {
	case len(pa) == 0:
		return wrap(nil)
	case len(pb) == 0:
		return wrap(clonePolygons(pa))
	}
	return wrap(subtract(pa, pb))
}

// Intersection returns the boolean intersection of two solids.
func (k *BSPKernel) Intersection(a, b kernel.Solid) kernel.Solid {
	pa, pb := unwrap(a).polys, unwrap(b).polys
	if len(pa) == 0 || len(pb) == 0 {
		return wrap(nil)
	}
	return wrap(intersect(pa, pb))
}

// Transform maps every vertex through m. A mirroring matrix reverses the
// winding so faces keep pointing outward.
func (k *BSPKernel) Transform(s kernel.Solid, m sdf.M44) kernel.Solid {
	mirror := kernel.Determinant(m) < 0
	src := unwrap(s).polys
	polys := make([]*polygon, 0, len(src))
	for _, p := range src {
		verts := make([]v3.Vec, len(p.verts))
		for i, v := range p.verts {
			verts[i] = m.MulPosition(v)
		}
		if mirror {
			verts = reversed(verts)
		}
		if np := newPolygon(verts); np != nil {
			polys = append(polys, np)
		}
	}
	return wrap(polys)
}

// Check verifies that s is usable as a boolean input: finite coordinates,
// and a non-empty surface must enclose positive volume. Open or inside-out
// surfaces fail.
func (k *BSPKernel) Check(s kernel.Solid) error {
	polys := unwrap(s).polys
	if len(polys) == 0 {
		return nil
	}
	var volume float64
	for i, p := range polys {
		if len(p.verts) < 3 {
			return fmt.Errorf("bsp: polygon %d has %d vertices", i, len(p.verts))
		}
		for _, v := range p.verts {
			if !finite(v) {
				return fmt.Errorf("bsp: polygon %d has a non-finite vertex %v", i, v)
			}
		}
		for j := 2; j < len(p.verts); j++ {
			volume += p.verts[0].Dot(p.verts[j-1].Cross(p.verts[j])) / 6
		}
	}
	if volume <= minVolume {
		return fmt.Errorf("bsp: surface encloses no volume (%g); it is open or inside out", volume)
	}
	return nil
}

func finite(v v3.Vec) bool {
	for _, c := range []float64{v.X, v.Y, v.Z} {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// Release is a no-op: BSP solids live on the Go heap.
func (k *BSPKernel) Release(kernel.Solid) {}

// weldKey quantizes a position so coincident vertices share an index.
type weldKey struct{ x, y, z int64 }

const weldScale = 1e6

func keyOf(v v3.Vec) weldKey {
	return weldKey{
		x: int64(math.Round(v.X * weldScale)),
		y: int64(math.Round(v.Y * weldScale)),
		z: int64(math.Round(v.Z * weldScale)),
	}
}

// ToMesh fan-triangulates every polygon and welds coincident vertices.
// Normals are the area-weighted average of the incident face normals.
func (k *BSPKernel) ToMesh(s kernel.Solid) (*kernel.Mesh, error) {
	polys := unwrap(s).polys
	if len(polys) == 0 {
		return &kernel.Mesh{}, nil
	}

	index := make(map[weldKey]uint32)
	var positions []v3.Vec
	var normals []v3.Vec
	var indices []uint32

	vertexIndex := func(v v3.Vec) uint32 {
		key := keyOf(v)
		if i, ok := index[key]; ok {
			return i
		}
		i := uint32(len(positions))
		index[key] = i
		positions = append(positions, v)
		normals = append(normals, v3.Vec{})
		return i
	}

	for _, p := range polys {
		i0 := vertexIndex(p.verts[0])
		for j := 2; j < len(p.verts); j++ {
			i1 := vertexIndex(p.verts[j-1])
			i2 := vertexIndex(p.verts[j])
			if i0 == i1 || i1 == i2 || i0 == i2 {
				continue
			}
			a, b, c := positions[i0], positions[i1], positions[i2]
			n := b.Sub(a).Cross(c.Sub(a))
			for _, idx := range []uint32{i0, i1, i2} {
				normals[idx] = normals[idx].Add(n)
			}
			indices = append(indices, i0, i1, i2)
		}
	}

	mesh := &kernel.Mesh{
		Vertices: make([]float32, 0, len(positions)*3),
		Normals:  make([]float32, 0, len(normals)*3),
		Indices:  indices,
	}
	for i, v := range positions {
		mesh.Vertices = append(mesh.Vertices, float32(v.X), float32(v.Y), float32(v.Z))
		n := normals[i]
		if l := n.Length(); l > 1e-12 {
			n = n.MulScalar(1 / l)
		}
		mesh.Normals = append(mesh.Normals, float32(n.X), float32(n.Y), float32(n.Z))
	}
	return mesh, nil
}
