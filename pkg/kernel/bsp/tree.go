package bsp

import (
	v3 "github.com/deadsy/sdfx/vec/v3"
)

// epsilon is the plane thickness used to classify points as coplanar.
const epsilon = 1e-5

const (
	coplanar = 0
	front    = 1
	back     = 2
	spanning = 3
)

type plane struct {
	normal v3.Vec
	w      float64
}

// planeFromPoints returns the plane through a, b, c with counter-clockwise
// winding facing outward. ok is false for degenerate triangles.
func planeFromPoints(a, b, c v3.Vec) (plane, bool) {
	n := b.Sub(a).Cross(c.Sub(a))
	l := n.Length()
	if l < 1e-12 {
		return plane{}, false
	}
	n = n.MulScalar(1 / l)
	return plane{normal: n, w: n.Dot(a)}, true
}

func (p plane) flipped() plane {
	return plane{normal: p.normal.MulScalar(-1), w: -p.w}
}

// polygon is a convex planar polygon.
type polygon struct {
	verts []v3.Vec
	plane plane
}

// newPolygon builds a polygon from convex, counter-clockwise vertices.
// It returns nil when the vertices do not span a plane.
func newPolygon(verts []v3.Vec) *polygon {
	if len(verts) < 3 {
		return nil
	}
	for i := 2; i < len(verts); i++ {
		if p, ok := planeFromPoints(verts[0], verts[i-1], verts[i]); ok {
			return &polygon{verts: verts, plane: p}
		}
	}
	return nil
}

func (p *polygon) clone() *polygon {
	verts := make([]v3.Vec, len(p.verts))
	copy(verts, p.verts)
	return &polygon{verts: verts, plane: p.plane}
}

func (p *polygon) flip() {
	for i, j := 0, len(p.verts)-1; i < j; i, j = i+1, j-1 {
		p.verts[i], p.verts[j] = p.verts[j], p.verts[i]
	}
	p.plane = p.plane.flipped()
}

// split sorts poly into the four buckets relative to pl, cutting it in two
// when it spans the plane.
func (pl plane) split(poly *polygon, coplanarFront, coplanarBack, fronts, backs *[]*polygon) {
	polyType := 0
	types := make([]int, len(poly.verts))
	for i, v := range poly.verts {
		t := pl.normal.Dot(v) - pl.w
		typ := coplanar
		if t < -epsilon {
			typ = back
		} else if t > epsilon {
			typ = front
		}
		polyType |= typ
		types[i] = typ
	}

	switch polyType {
	case coplanar:
		if pl.normal.Dot(poly.plane.normal) > 0 {
			*coplanarFront = append(*coplanarFront, poly)
		} else {
			*coplanarBack = append(*coplanarBack, poly)
		}
	case front:
		*fronts = append(*fronts, poly)
	case back:
		*backs = append(*backs, poly)
	case spanning:
		var f, b []v3.Vec
		n := len(poly.verts)
		for i := 0; i < n; i++ {
			j := (i + 1) % n
			ti, tj := types[i], types[j]
			vi, vj := poly.verts[i], poly.verts[j]
			if ti != back {
				f = append(f, vi)
			}
			if ti != front {
				b = append(b, vi)
			}
			if (ti | tj) == spanning {
				d := vj.Sub(vi)
				t := (pl.w - pl.normal.Dot(vi)) / pl.normal.Dot(d)
				v := vi.Add(d.MulScalar(t))
				f = append(f, v)
				b = append(b, v)
			}
		}
		if len(f) >= 3 {
			*fronts = append(*fronts, &polygon{verts: f, plane: poly.plane})
		}
		if len(b) >= 3 {
			*backs = append(*backs, &polygon{verts: b, plane: poly.plane})
		}
	}
}

// node is a BSP tree node. Polygons coplanar with the node's plane are
// stored on the node itself.
type node struct {
	plane    *plane
	front    *node
	back     *node
	polygons []*polygon
}

func newNode(polys []*polygon) *node {
	n := &node{}
	if len(polys) > 0 {
		n.build(polys)
	}
	return n
}

func (n *node) invert() {
	for _, p := range n.polygons {
		p.flip()
	}
	if n.plane != nil {
		f := n.plane.flipped()
		n.plane = &f
	}
	if n.front != nil {
		n.front.invert()
	}
	if n.back != nil {
		n.back.invert()
	}
	n.front, n.back = n.back, n.front
}

// clipPolygons removes the parts of polys that lie inside this tree.
func (n *node) clipPolygons(polys []*polygon) []*polygon {
	if n.plane == nil {
		out := make([]*polygon, len(polys))
		copy(out, polys)
		return out
	}
	var fronts, backs []*polygon
	for _, p := range polys {
		n.plane.split(p, &fronts, &backs, &fronts, &backs)
	}
	if n.front != nil {
		fronts = n.front.clipPolygons(fronts)
	}
	if n.back != nil {
		backs = n.back.clipPolygons(backs)
	} else {
		backs = nil
	}
	return append(fronts, backs...)
}

// clipTo removes every polygon in this tree that lies inside other.
func (n *node) clipTo(other *node) {
	n.polygons = other.clipPolygons(n.polygons)
	if n.front != nil {
		n.front.clipTo(other)
	}
	if n.back != nil {
		n.back.clipTo(other)
	}
}

func (n *node) allPolygons() []*polygon {
	out := make([]*polygon, 0, len(n.polygons))
	out = append(out, n.polygons...)
	if n.front != nil {
		out = append(out, n.front.allPolygons()...)
	}
	if n.back != nil {
		out = append(out, n.back.allPolygons()...)
	}
	return out
}

func (n *node) build(polys []*polygon) {
	if len(polys) == 0 {
		return
	}
	if n.plane == nil {
		p := polys[0].plane
		n.plane = &p
	}
	var fronts, backs []*polygon
	for _, p := range polys {
		n.plane.split(p, &n.polygons, &n.polygons, &fronts, &backs)
	}
	if len(fronts) > 0 {
		if n.front == nil {
			n.front = &node{}
		}
		n.front.build(fronts)
	}
	if len(backs) > 0 {
		if n.back == nil {
			n.back = &node{}
		}
		n.back.build(backs)
	}
}

func clonePolygons(polys []*polygon) []*polygon {
	out := make([]*polygon, len(polys))
	for i, p := range polys {
		out[i] = p.clone()
	}
	return out
}

func union(a, b []*polygon) []*polygon {
	na, nb := newNode(clonePolygons(a)), newNode(clonePolygons(b))
	na.clipTo(nb)
	nb.clipTo(na)
	nb.invert()
	nb.clipTo(na)
	nb.invert()
	na.build(nb.allPolygons())
	return na.allPolygons()
}

func subtract(a, b []*polygon) []*polygon {
	na, nb := newNode(clonePolygons(a)), newNode(clonePolygons(b))
	na.invert()
	na.clipTo(nb)
	nb.clipTo(na)
	nb.invert()
	nb.clipTo(na)
	nb.invert()
	na.build(nb.allPolygons())
	na.invert()
	return na.allPolygons()
}

func intersect(a, b []*polygon) []*polygon {
	na, nb := newNode(clonePolygons(a)), newNode(clonePolygons(b))
	na.invert()
	nb.clipTo(na)
	nb.invert()
	na.clipTo(nb)
	nb.clipTo(na)
	na.build(nb.allPolygons())
	na.invert()
	return na.allPolygons()
}
