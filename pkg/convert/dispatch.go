package convert

import (
	"math"

	"github.com/chazu/scadcsg/pkg/ast"
	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/chazu/scadcsg/pkg/registry"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

const degToRad = math.Pi / 180

// node converts n in scope. A nil solid with a nil error means n produced
// no geometry. depth counts enclosing module instantiations.
func (s *session) node(scope *registry.Registry, n ast.Node, depth int) (*solid, error) {
	if err := s.ctx.Err(); err != nil {
		return nil, err
	}
	s.c.log.Debug("convert node", "kind", n.Kind(), "depth", depth)

	switch v := n.(type) {
	case *ast.Cube:
		return s.cube(v)
	case *ast.Sphere:
		return s.sphere(v)
	case *ast.Cylinder:
		return s.cylinder(v)

	case *ast.Translate:
		m, err := translation(v.V)
		if err != nil {
			return nil, err
		}
		return s.affine(scope, v.Kind(), v.Child, m, depth)
	case *ast.Rotate:
		m, err := rotation(v.A)
		if err != nil {
			return nil, err
		}
		return s.affine(scope, v.Kind(), v.Child, m, depth)
	case *ast.Scale:
		m, err := scaling(v.V, s.c.cfg.ScaleEpsilon)
		if err != nil {
			return nil, err
		}
		return s.affine(scope, v.Kind(), v.Child, m, depth)

	case *ast.Union:
		return s.boolean(scope, kernel.OpUnion, v.Children, depth)
	case *ast.Difference:
		return s.boolean(scope, kernel.OpDifference, v.Children, depth)
	case *ast.Intersection:
		return s.boolean(scope, kernel.OpIntersection, v.Children, depth)

	case *ast.ModuleDef:
		if err := scope.RegisterNode(v); err != nil {
			return nil, err
		}
		return nil, nil
	case *ast.ModuleCall:
		return s.call(scope, v, depth)

	case *ast.For, *ast.If, *ast.Import, *ast.Assign:
		return nil, nil
	}
	return nil, csgerr.New(csgerr.InvalidParameters, "unsupported node %T", n)
}

func (s *session) cube(n *ast.Cube) (*solid, error) {
	size := [3]float64{1, 1, 1}
	if n.Size != nil {
		var err error
		if size, err = scalarOrVector("cube size", n.Size, 3, 0); err != nil {
			return nil, err
		}
	}
	for i, axis := range []string{"x", "y", "z"} {
		if err := positive("cube size "+axis, size[i]); err != nil {
			return nil, err
		}
	}
	center, err := flag("cube center", n.Center)
	if err != nil {
		return nil, err
	}

	sol, err := s.primitive(kernel.PrimBox, kernel.PrimitiveParams{Size: size})
	if err != nil || !center {
		return sol, err
	}
	return s.offset(sol, v3.Vec{X: -size[0] / 2, Y: -size[1] / 2, Z: -size[2] / 2})
}

func (s *session) sphere(n *ast.Sphere) (*solid, error) {
	r, err := number("sphere r", n.R, 1)
	if err != nil {
		return nil, err
	}
	if d, ok, err := optionalNumber("sphere d", n.D); err != nil {
		return nil, err
	} else if ok {
		r = d / 2
	}
	if err := positive("sphere radius", r); err != nil {
		return nil, err
	}
	fn, err := fragments(n.Fragments)
	if err != nil {
		return nil, err
	}
	return s.primitive(kernel.PrimSphere, kernel.PrimitiveParams{
		Radius:   r,
		Segments: s.c.cfg.Fragments(r, fn),
	})
}

func (s *session) cylinder(n *ast.Cylinder) (*solid, error) {
	h, err := number("cylinder h", n.H, 1)
	if err != nil {
		return nil, err
	}
	if err := positive("cylinder h", h); err != nil {
		return nil, err
	}
	r, err := number("cylinder r", n.R, 1)
	if err != nil {
		return nil, err
	}
	r1, r2 := r, r
	if v, ok, err := optionalNumber("cylinder r1", n.R1); err != nil {
		return nil, err
	} else if ok {
		r1 = v
	}
	if v, ok, err := optionalNumber("cylinder r2", n.R2); err != nil {
		return nil, err
	} else if ok {
		r2 = v
	}
	if r1 < 0 || r2 < 0 {
		return nil, csgerr.New(csgerr.InvalidParameters, "cylinder radii must not be negative, got %g and %g", r1, r2)
	}
	if r1 == 0 && r2 == 0 {
		return nil, csgerr.New(csgerr.InvalidParameters, "cylinder needs a positive radius")
	}
	center, err := flag("cylinder center", n.Center)
	if err != nil {
		return nil, err
	}
	fn, err := fragments(n.Fragments)
	if err != nil {
		return nil, err
	}

	sol, err := s.primitive(kernel.PrimCylinder, kernel.PrimitiveParams{
		Height:   h,
		R1:       r1,
		R2:       r2,
		Segments: s.c.cfg.Fragments(math.Max(r1, r2), fn),
	})
	if err != nil || !center {
		return sol, err
	}
	return s.offset(sol, v3.Vec{Z: -h / 2})
}

// offset moves a freshly built primitive for centering. The move is part of
// constructing the primitive, so it is not recorded in the transform.
func (s *session) offset(sol *solid, d v3.Vec) (*solid, error) {
	h, err := s.c.adapter.Transform(sol.h, sdf.Translate3d(d))
	if err != nil {
		return nil, err
	}
	return &solid{h: s.track(h), xform: sol.xform}, nil
}

// affine converts child and applies m to it.
func (s *session) affine(scope *registry.Registry, kind ast.Kind, child ast.Node, m sdf.M44, depth int) (*solid, error) {
	if child == nil {
		return nil, csgerr.New(csgerr.InvalidParameters, "%s has no child", kind)
	}
	in, err := s.node(scope, child, depth)
	if err != nil || in == nil {
		return nil, err
	}
	return s.transform(in, m)
}

func translation(v ast.Value) (sdf.M44, error) {
	if v == nil {
		return sdf.Identity3d(), nil
	}
	d, err := vector("translate vector", v, 2, 0)
	if err != nil {
		return sdf.M44{}, err
	}
	return sdf.Translate3d(v3.Vec{X: d[0], Y: d[1], Z: d[2]}), nil
}

// rotation builds Rz * Ry * Rx from degrees, so X is applied first. A bare
// number rotates about Z.
func rotation(v ast.Value) (sdf.M44, error) {
	if v == nil {
		return sdf.Identity3d(), nil
	}
	var a [3]float64
	if n, ok := v.(ast.Number); ok {
		z, err := number("rotate angle", n, 0)
		if err != nil {
			return sdf.M44{}, err
		}
		a[2] = z
	} else {
		var err error
		if a, err = vector("rotate angles", v, 1, 0); err != nil {
			return sdf.M44{}, err
		}
	}
	return sdf.RotateZ(a[2] * degToRad).
		Mul(sdf.RotateY(a[1] * degToRad)).
		Mul(sdf.RotateX(a[0] * degToRad)), nil
}

// scaling builds a diagonal matrix. A component within eps of zero would
// flatten the solid and is rejected.
func scaling(v ast.Value, eps float64) (sdf.M44, error) {
	if v == nil {
		return sdf.Identity3d(), nil
	}
	f, err := scalarOrVector("scale vector", v, 2, 1)
	if err != nil {
		return sdf.M44{}, err
	}
	for i, axis := range []string{"x", "y", "z"} {
		if math.Abs(f[i]) <= eps {
			return sdf.M44{}, csgerr.New(csgerr.InvalidScaleFactor, "scale %s factor %g collapses the solid", axis, f[i])
		}
	}
	return sdf.Scale3d(v3.Vec{X: f[0], Y: f[1], Z: f[2]}), nil
}

func (s *session) boolean(scope *registry.Registry, op kernel.Op, children []ast.Node, depth int) (*solid, error) {
	results, err := s.list(scope, children, depth)
	if err != nil {
		return nil, err
	}
	if op == kernel.OpDifference && (len(results) == 0 || results[0] == nil) {
		s.release(results)
		return nil, nil
	}
	return s.fold(op, results)
}

// fold drops empty results and combines the rest.
func (s *session) fold(op kernel.Op, results []*solid) (*solid, error) {
	solids := results[:0:0]
	for _, r := range results {
		if r != nil {
			solids = append(solids, r)
		}
	}
	if len(solids) == 0 {
		return nil, nil
	}
	return s.combine(op, solids)
}

// list converts a statement list in order. Module definitions in the list
// are registered first in a new child scope, so calls may precede them,
// and they contribute no entry to the result. Empty outcomes are nil
// entries. On failure the solids already built are released.
func (s *session) list(scope *registry.Registry, nodes []ast.Node, depth int) ([]*solid, error) {
	scope, err := hoist(scope, nodes)
	if err != nil {
		return nil, err
	}
	out := make([]*solid, 0, len(nodes))
	for _, n := range nodes {
		if n == nil {
			s.release(out)
			return nil, csgerr.New(csgerr.InvalidParameters, "nil node in statement list")
		}
		if n.Kind() == ast.KindModuleDef {
			continue
		}
		sol, err := s.node(scope, n, depth)
		if err != nil {
			s.release(out)
			return nil, err
		}
		out = append(out, sol)
	}
	return out, nil
}

// hoist registers the module definitions among nodes in a child of scope.
// Without definitions scope is returned as is.
func hoist(scope *registry.Registry, nodes []ast.Node) (*registry.Registry, error) {
	var inner *registry.Registry
	for _, n := range nodes {
		def, ok := n.(*ast.ModuleDef)
		if !ok {
			continue
		}
		if inner == nil {
			inner = scope.Child()
		}
		if err := inner.RegisterNode(def); err != nil {
			return nil, err
		}
	}
	if inner == nil {
		return scope, nil
	}
	return inner, nil
}

// call instantiates a module and converts its body, unioning the body's
// solids. The body runs in a child of the scope that defines the module.
func (s *session) call(scope *registry.Registry, n *ast.ModuleCall, depth int) (*solid, error) {
	if depth >= s.c.cfg.MaxDepth {
		return nil, csgerr.New(csgerr.RecursionLimit, "module %q nested deeper than %d", n.Name, s.c.cfg.MaxDepth)
	}
	_, owner, ok := scope.Resolve(n.Name)
	if !ok {
		return nil, csgerr.New(csgerr.ModuleNotDefined, "module %q is not defined", n.Name)
	}
	inst, err := owner.Instantiate(n.Name, n.Args)
	if err != nil {
		return nil, err
	}
	results, err := s.list(owner, inst.Body(), depth+1)
	if err != nil {
		return nil, err
	}
	return s.fold(kernel.OpUnion, results)
}
