package convert

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/chazu/scadcsg/pkg/ast"
	"github.com/chazu/scadcsg/pkg/config"
	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/chazu/scadcsg/pkg/kernel/bsp"
	"github.com/chazu/scadcsg/pkg/mesh"
)

func newConverter(t *testing.T, opts ...Option) *Converter {
	t.Helper()
	return New(kernel.NewAdapter("bsp", bsp.Load), nil, opts...)
}

// convert runs n and checks that no solid outlived the call.
func convert(t *testing.T, c *Converter, n ast.Node) (*Result, error) {
	t.Helper()
	res, err := c.Convert(context.Background(), n)
	if live := c.Adapter().Live(); live != 0 {
		t.Errorf("%d solids still live after converting %s", live, n.Kind())
	}
	if err != nil && res != nil {
		t.Errorf("Convert() returned a result alongside error %v", err)
	}
	return res, err
}

func mustMesh(t *testing.T, c *Converter, n ast.Node) *Result {
	t.Helper()
	res, err := convert(t, c, n)
	if err != nil {
		t.Fatalf("Convert(%s) error = %v", n.Kind(), err)
	}
	if res.Empty || res.Mesh == nil {
		t.Fatalf("Convert(%s) produced no geometry", n.Kind())
	}
	return res
}

func assertBounds(t *testing.T, m *mesh.Mesh, wantMin, wantMax [3]float64) {
	t.Helper()
	got := [2][3]float64{
		{m.Bounds.Min.X, m.Bounds.Min.Y, m.Bounds.Min.Z},
		{m.Bounds.Max.X, m.Bounds.Max.Y, m.Bounds.Max.Z},
	}
	want := [2][3]float64{wantMin, wantMax}
	for i := range got {
		for j := range got[i] {
			if math.Abs(got[i][j]-want[i][j]) > 1e-5 {
				t.Fatalf("bounds = %v, want %v", got, want)
			}
		}
	}
}

func num(f float64) ast.Number { return ast.Number(f) }

func cube(x, y, z float64) *ast.Cube { return &ast.Cube{Size: ast.Vec3(x, y, z)} }

func TestPrimitivesProduceMeshes(t *testing.T) {
	c := newConverter(t)
	tests := []struct {
		name string
		node ast.Node
	}{
		{"cube default", &ast.Cube{}},
		{"cube scalar", &ast.Cube{Size: num(2)}},
		{"cube vector", cube(1, 2, 3)},
		{"cube centered", &ast.Cube{Size: num(2), Center: ast.Bool(true)}},
		{"sphere default", &ast.Sphere{}},
		{"sphere r", &ast.Sphere{R: num(3)}},
		{"sphere d", &ast.Sphere{D: num(4)}},
		{"sphere fn", &ast.Sphere{R: num(1), Fragments: num(6)}},
		{"cylinder", &ast.Cylinder{H: num(2), R: num(1)}},
		{"cone", &ast.Cylinder{H: num(2), R1: num(1), R2: num(0)}},
		{"frustum centered", &ast.Cylinder{H: num(2), R1: num(2), R2: num(1), Center: ast.Bool(true)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := mustMesh(t, c, tt.node)
			if res.Mesh.TriangleCount < 1 || res.Mesh.VertexCount < 3 {
				t.Errorf("mesh has %d triangles and %d vertices", res.Mesh.TriangleCount, res.Mesh.VertexCount)
			}
			if res.ChildCount != 0 {
				t.Errorf("ChildCount = %d, want 0", res.ChildCount)
			}
		})
	}
}

func TestCubeScenario(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, cube(2, 3, 4))
	if res.Mesh.VertexCount != 8 {
		t.Errorf("VertexCount = %d, want 8", res.Mesh.VertexCount)
	}
	if res.Mesh.TriangleCount != 12 {
		t.Errorf("TriangleCount = %d, want 12", res.Mesh.TriangleCount)
	}
	assertBounds(t, res.Mesh, [3]float64{0, 0, 0}, [3]float64{2, 3, 4})
	if res.Mesh.Transform != mesh.Identity {
		t.Errorf("Transform = %v, want identity", res.Mesh.Transform)
	}
}

func TestCenteredPrimitives(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, &ast.Cube{Size: ast.Vec3(2, 3, 4), Center: ast.Bool(true)})
	assertBounds(t, res.Mesh, [3]float64{-1, -1.5, -2}, [3]float64{1, 1.5, 2})

	res = mustMesh(t, c, &ast.Cylinder{H: num(4), R: num(1), Center: ast.Bool(true)})
	if res.Mesh.Bounds.Min.Z != -2 || res.Mesh.Bounds.Max.Z != 2 {
		t.Errorf("centered cylinder z = [%g, %g], want [-2, 2]", res.Mesh.Bounds.Min.Z, res.Mesh.Bounds.Max.Z)
	}
}

func TestInvalidPrimitives(t *testing.T) {
	c := newConverter(t)
	tests := []struct {
		name string
		node ast.Node
	}{
		{"cube zero", cube(1, 0, 1)},
		{"cube negative", &ast.Cube{Size: num(-1)}},
		{"cube short vector", &ast.Cube{Size: ast.Vector{num(1), num(2)}}},
		{"cube undef size", &ast.Cube{Size: ast.Undef{}}},
		{"cube string size", &ast.Cube{Size: ast.String("big")}},
		{"cube numeric center", &ast.Cube{Center: num(1)}},
		{"cube nan", &ast.Cube{Size: num(math.NaN())}},
		{"sphere negative", &ast.Sphere{R: num(-1)}},
		{"sphere unresolved", &ast.Sphere{R: ast.Ref("radius")}},
		{"sphere negative fn", &ast.Sphere{R: num(1), Fragments: num(-3)}},
		{"sphere huge fn", &ast.Sphere{R: num(1), Fragments: num(1e30)}},
		{"cylinder huge fn", &ast.Cylinder{H: num(1), R: num(1), Fragments: num(config.MaxFragments + 1)}},
		{"cylinder zero height", &ast.Cylinder{H: num(0), R: num(1)}},
		{"cylinder no radius", &ast.Cylinder{H: num(1), R1: num(0), R2: num(0)}},
		{"cylinder negative radius", &ast.Cylinder{H: num(1), R1: num(-1), R2: num(1)}},
		{"translate number", &ast.Translate{V: num(5), Child: cube(1, 1, 1)}},
		{"translate four", &ast.Translate{V: ast.Vector{num(1), num(2), num(3), num(4)}, Child: cube(1, 1, 1)}},
		{"transform without child", &ast.Rotate{A: num(10)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := convert(t, c, tt.node)
			if !errors.Is(err, csgerr.InvalidParameters) {
				t.Fatalf("Convert() error = %v, want InvalidParameters", err)
			}
		})
	}
}

func TestScaleNearZeroRejected(t *testing.T) {
	c := newConverter(t)
	tests := []struct {
		name string
		v    ast.Value
	}{
		{"x zero", ast.Vec3(0, 1, 1)},
		{"y tiny", ast.Vec3(1, 1e-12, 1)},
		{"z negative tiny", ast.Vec3(1, 1, -1e-10)},
		{"uniform zero", num(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := convert(t, c, &ast.Scale{V: tt.v, Child: &ast.Sphere{R: num(1)}})
			if !errors.Is(err, csgerr.InvalidScaleFactor) {
				t.Fatalf("Convert() error = %v, want InvalidScaleFactor", err)
			}
			if res != nil {
				t.Error("Convert() produced a result for a degenerate scale")
			}
		})
	}
}

func TestScaleComposition(t *testing.T) {
	c := newConverter(t)
	nested := mustMesh(t, c, &ast.Scale{V: num(2), Child: &ast.Scale{V: num(3), Child: &ast.Cube{Size: num(1)}}})
	direct := mustMesh(t, c, &ast.Scale{V: num(6), Child: &ast.Cube{Size: num(1)}})
	if nested.Mesh.Transform != direct.Mesh.Transform {
		t.Errorf("scale(2) scale(3) transform = %v, scale(6) transform = %v", nested.Mesh.Transform, direct.Mesh.Transform)
	}
	assertBounds(t, nested.Mesh, [3]float64{0, 0, 0}, [3]float64{6, 6, 6})
	assertBounds(t, direct.Mesh, [3]float64{0, 0, 0}, [3]float64{6, 6, 6})
}

func TestTranslate(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, &ast.Translate{V: ast.Vec3(1, 2, 3), Child: &ast.Cube{}})
	assertBounds(t, res.Mesh, [3]float64{1, 2, 3}, [3]float64{2, 3, 4})
	tr := res.Mesh.Transform
	if tr[3] != 1 || tr[7] != 2 || tr[11] != 3 {
		t.Errorf("Transform = %v, want translation (1, 2, 3)", tr)
	}
	if res.ChildCount != 1 {
		t.Errorf("ChildCount = %d, want 1", res.ChildCount)
	}

	res = mustMesh(t, c, &ast.Translate{V: ast.Vector{num(5), num(1)}, Child: &ast.Cube{}})
	assertBounds(t, res.Mesh, [3]float64{5, 1, 0}, [3]float64{6, 2, 1})
}

func TestRotateAppliesXBeforeZ(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, &ast.Rotate{A: ast.Vec3(90, 0, 90), Child: cube(2, 1, 1)})
	assertBounds(t, res.Mesh, [3]float64{0, 0, 0}, [3]float64{1, 2, 1})
}

func TestRotateScalarIsAboutZ(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, &ast.Rotate{A: num(90), Child: cube(2, 1, 1)})
	assertBounds(t, res.Mesh, [3]float64{-1, 0, 0}, [3]float64{0, 2, 1})
}

func TestMirrorScale(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, &ast.Scale{V: ast.Vec3(-1, 1, 1), Child: &ast.Cube{}})
	assertBounds(t, res.Mesh, [3]float64{-1, 0, 0}, [3]float64{0, 1, 1})
	if res.Mesh.TriangleCount != 12 {
		t.Errorf("TriangleCount = %d, want 12", res.Mesh.TriangleCount)
	}
}

func TestUnionChildCount(t *testing.T) {
	c := newConverter(t)
	res := mustMesh(t, c, &ast.Union{Children: []ast.Node{
		&ast.Cube{},
		&ast.Translate{V: ast.Vec3(3, 0, 0), Child: &ast.Sphere{}},
		&ast.Translate{V: ast.Vec3(0, 3, 0), Child: &ast.Cylinder{}},
	}})
	if res.ChildCount != 3 {
		t.Errorf("ChildCount = %d, want 3", res.ChildCount)
	}
	if res.Mesh.Transform != mesh.Identity {
		t.Errorf("Transform after a boolean = %v, want identity", res.Mesh.Transform)
	}
}

func TestUnionCubeAndSphere(t *testing.T) {
	c := newConverter(t)
	cubeRes := mustMesh(t, c, &ast.Cube{Size: num(5)})
	sphereRes := mustMesh(t, c, &ast.Sphere{R: num(3)})
	res := mustMesh(t, c, &ast.Union{Children: []ast.Node{&ast.Cube{Size: num(5)}, &ast.Sphere{R: num(3)}}})

	if res.ChildCount != 2 {
		t.Errorf("ChildCount = %d, want 2", res.ChildCount)
	}
	if res.Mesh.TriangleCount <= cubeRes.Mesh.TriangleCount || res.Mesh.TriangleCount <= sphereRes.Mesh.TriangleCount {
		t.Errorf("union has %d triangles, cube %d, sphere %d", res.Mesh.TriangleCount,
			cubeRes.Mesh.TriangleCount, sphereRes.Mesh.TriangleCount)
	}
}

func TestDifferenceAndIntersection(t *testing.T) {
	c := newConverter(t)
	diff := mustMesh(t, c, &ast.Difference{Children: []ast.Node{
		&ast.Cube{Size: num(10)},
		&ast.Translate{V: ast.Vec3(5, 5, -1), Child: &ast.Cylinder{H: num(12), R: num(2)}},
		&ast.Translate{V: ast.Vec3(2, 2, -1), Child: &ast.Cylinder{H: num(12), R: num(1)}},
	}})
	assertBounds(t, diff.Mesh, [3]float64{0, 0, 0}, [3]float64{10, 10, 10})
	if diff.ChildCount != 3 || diff.Mesh.TriangleCount <= 12 {
		t.Errorf("difference: ChildCount = %d, triangles = %d", diff.ChildCount, diff.Mesh.TriangleCount)
	}

	inter := mustMesh(t, c, &ast.Intersection{Children: []ast.Node{
		&ast.Cube{Size: num(2)},
		&ast.Translate{V: ast.Vec3(1, 1, 1), Child: &ast.Cube{Size: num(2)}},
	}})
	assertBounds(t, inter.Mesh, [3]float64{1, 1, 1}, [3]float64{2, 2, 2})
}

func TestBooleanChildFailureAborts(t *testing.T) {
	c := newConverter(t)
	res, err := convert(t, c, &ast.Union{Children: []ast.Node{
		&ast.Cube{},
		&ast.Sphere{},
		&ast.Cube{Size: num(-1)},
	}})
	if !errors.Is(err, csgerr.InvalidParameters) {
		t.Fatalf("Convert() error = %v, want InvalidParameters", err)
	}
	if res != nil {
		t.Error("partial union returned a result")
	}
}

func TestEmptyChildren(t *testing.T) {
	c := newConverter(t)
	loop := &ast.For{Var: "i", Range: ast.Vector{num(0), num(1)}, Body: []ast.Node{&ast.Cube{}}}

	res := mustMesh(t, c, &ast.Union{Children: []ast.Node{loop, &ast.Cube{}}})
	if res.ChildCount != 1 {
		t.Errorf("ChildCount = %d, want 1", res.ChildCount)
	}

	tests := []struct {
		name string
		node ast.Node
	}{
		{"union of control flow", &ast.Union{Children: []ast.Node{loop}}},
		{"difference with empty base", &ast.Difference{Children: []ast.Node{loop, &ast.Cube{}}}},
		{"translate of control flow", &ast.Translate{V: ast.Vec3(1, 0, 0), Child: loop}},
		{"empty union", &ast.Union{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := convert(t, c, tt.node)
			if err != nil {
				t.Fatalf("Convert() error = %v", err)
			}
			if !res.Empty || res.Mesh != nil {
				t.Errorf("Convert() = %+v, want empty", res)
			}
		})
	}
}

func TestControlFlowIsEmptyNotError(t *testing.T) {
	c := newConverter(t)
	tests := []struct {
		name string
		node ast.Node
	}{
		{"for", &ast.For{Var: "i", Range: ast.Vector{num(0), num(3)}, Body: []ast.Node{&ast.Cube{}}}},
		{"if", &ast.If{Cond: ast.Bool(true), Then: []ast.Node{&ast.Cube{}}}},
		{"import", &ast.Import{Path: "part.stl"}},
		{"assign", &ast.Assign{Name: "x", Value: num(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := convert(t, c, tt.node)
			if err != nil {
				t.Fatalf("Convert() error = %v, want nil", err)
			}
			if !res.Empty || res.Mesh != nil || res.Kind != tt.node.Kind() {
				t.Errorf("Convert() = %+v, want empty %s result", res, tt.node.Kind())
			}
		})
	}
}

func define(t *testing.T, c *Converter, def *ast.ModuleDef) {
	t.Helper()
	res, err := convert(t, c, def)
	if err != nil {
		t.Fatalf("defining %q: %v", def.Name, err)
	}
	if !res.Empty {
		t.Fatalf("module definition %q produced geometry", def.Name)
	}
}

func TestModuleCall(t *testing.T) {
	c := newConverter(t)
	define(t, c, &ast.ModuleDef{
		Name:   "slab",
		Params: []ast.Param{{Name: "w"}, {Name: "d"}},
		Body:   []ast.Node{&ast.Cube{Size: ast.Vector{ast.Ref("w"), ast.Ref("d"), num(1)}}},
	})
	res := mustMesh(t, c, &ast.ModuleCall{Name: "slab", Args: []ast.Value{num(3), num(2), num(99)}})
	assertBounds(t, res.Mesh, [3]float64{0, 0, 0}, [3]float64{3, 2, 1})
}

func TestModuleUnboundParameterIsUndefined(t *testing.T) {
	c := newConverter(t)
	define(t, c, &ast.ModuleDef{
		Name:   "box",
		Params: []ast.Param{{Name: "s", Default: num(10)}},
		Body:   []ast.Node{&ast.Cube{Size: ast.Ref("s")}},
	})
	_, err := convert(t, c, &ast.ModuleCall{Name: "box"})
	if !errors.Is(err, csgerr.InvalidParameters) {
		t.Fatalf("Convert() error = %v, want InvalidParameters for the unset parameter", err)
	}
}

func TestUndefinedModule(t *testing.T) {
	c := newConverter(t)
	res, err := convert(t, c, &ast.ModuleCall{Name: "nonexistent", Args: []ast.Value{num(1), num(2), num(3)}})
	if !errors.Is(err, csgerr.ModuleNotDefined) {
		t.Fatalf("Convert() error = %v, want ModuleNotDefined", err)
	}
	if res != nil {
		t.Error("Convert() returned a result for an undefined module")
	}
}

func TestModuleBodyIsImplicitUnion(t *testing.T) {
	c := newConverter(t)
	define(t, c, &ast.ModuleDef{
		Name: "pair",
		Body: []ast.Node{
			&ast.Cube{},
			&ast.Translate{V: ast.Vec3(2, 0, 0), Child: &ast.Cube{}},
			&ast.Assign{Name: "unused", Value: num(1)},
		},
	})
	res := mustMesh(t, c, &ast.ModuleCall{Name: "pair"})
	if res.ChildCount != 2 {
		t.Errorf("ChildCount = %d, want 2", res.ChildCount)
	}
	if res.Mesh.TriangleCount != 24 {
		t.Errorf("TriangleCount = %d, want 24", res.Mesh.TriangleCount)
	}
}

func TestNestedModuleDefinitions(t *testing.T) {
	c := newConverter(t)
	define(t, c, &ast.ModuleDef{
		Name:   "outer",
		Params: []ast.Param{{Name: "n"}},
		Body: []ast.Node{
			// Called before its definition: definitions are hoisted.
			&ast.ModuleCall{Name: "inner"},
			&ast.ModuleDef{Name: "inner", Body: []ast.Node{&ast.Cube{Size: ast.Ref("n")}}},
		},
	})
	res := mustMesh(t, c, &ast.ModuleCall{Name: "outer", Args: []ast.Value{num(2)}})
	assertBounds(t, res.Mesh, [3]float64{0, 0, 0}, [3]float64{2, 2, 2})
	if c.Registry().Has("inner") {
		t.Error("nested module leaked into the top-level registry")
	}
}

func TestModulesResolveLexically(t *testing.T) {
	c := newConverter(t)
	define(t, c, &ast.ModuleDef{Name: "leaf", Body: []ast.Node{&ast.Cube{Size: num(1)}}})
	define(t, c, &ast.ModuleDef{Name: "branch", Body: []ast.Node{&ast.ModuleCall{Name: "leaf"}}})
	define(t, c, &ast.ModuleDef{Name: "tree", Body: []ast.Node{
		&ast.ModuleDef{Name: "leaf", Body: []ast.Node{&ast.Cube{Size: num(4)}}},
		&ast.ModuleCall{Name: "branch"},
	}})
	res := mustMesh(t, c, &ast.ModuleCall{Name: "tree"})
	assertBounds(t, res.Mesh, [3]float64{0, 0, 0}, [3]float64{1, 1, 1})
}

func TestRecursionLimit(t *testing.T) {
	cfg := config.Default()
	cfg.MaxDepth = 8
	c := newConverter(t, WithConfig(cfg))
	define(t, c, &ast.ModuleDef{Name: "forever", Body: []ast.Node{
		&ast.Cube{},
		&ast.ModuleCall{Name: "forever"},
	}})
	_, err := convert(t, c, &ast.ModuleCall{Name: "forever"})
	if !errors.Is(err, csgerr.RecursionLimit) {
		t.Fatalf("Convert() error = %v, want RecursionLimit", err)
	}
}

func TestDuplicateModuleDefinition(t *testing.T) {
	c := newConverter(t)
	def := &ast.ModuleDef{Name: "m", Body: []ast.Node{&ast.Cube{}}}
	define(t, c, def)
	if _, err := convert(t, c, def); !errors.Is(err, csgerr.DuplicateModule) {
		t.Fatalf("second definition error = %v, want DuplicateModule", err)
	}
	if c.Registry().Count() != 1 {
		t.Errorf("Count() = %d, want 1", c.Registry().Count())
	}

	_, err := convert(t, c, &ast.Union{Children: []ast.Node{
		&ast.ModuleDef{Name: "twin"},
		&ast.ModuleDef{Name: "twin"},
	}})
	if !errors.Is(err, csgerr.DuplicateModule) {
		t.Fatalf("duplicate in one block error = %v, want DuplicateModule", err)
	}
}

func TestKernelLoadFailure(t *testing.T) {
	boom := errors.New("no native module")
	c := New(kernel.NewAdapter("broken", func(context.Context) (kernel.Kernel, error) {
		return nil, boom
	}), nil)
	_, err := c.Convert(context.Background(), &ast.Cube{})
	if !errors.Is(err, csgerr.KernelLoadFailed) || !errors.Is(err, boom) {
		t.Fatalf("Convert() error = %v, want KernelLoadFailed wrapping the loader error", err)
	}
}

func TestFailedLoadIsNotRetried(t *testing.T) {
	fail := true
	a := kernel.NewAdapter("flaky", func(ctx context.Context) (kernel.Kernel, error) {
		if fail {
			return nil, errors.New("not yet")
		}
		return bsp.Load(ctx)
	})
	c := New(a, nil)

	for i := 0; i < 3; i++ {
		if _, err := c.Convert(context.Background(), &ast.Cube{}); !errors.Is(err, csgerr.KernelLoadFailed) {
			t.Fatalf("Convert() #%d error = %v, want KernelLoadFailed", i, err)
		}
	}
	if a.Loads() != 1 {
		t.Fatalf("Loads() = %d, want 1: Convert must not reload a failed backend", a.Loads())
	}

	fail = false
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("explicit retry failed: %v", err)
	}
	mustMesh(t, c, &ast.Cube{})
	if a.Loads() != 2 {
		t.Errorf("Loads() = %d, want 2", a.Loads())
	}
}

func TestCancelledContext(t *testing.T) {
	c := newConverter(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Convert(ctx, &ast.Cube{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("Convert() error = %v, want context.Canceled", err)
	}
	if c.Adapter().Live() != 0 {
		t.Errorf("Live() = %d, want 0", c.Adapter().Live())
	}
}

func TestNilNode(t *testing.T) {
	c := newConverter(t)
	if _, err := c.Convert(context.Background(), nil); !errors.Is(err, csgerr.InvalidParameters) {
		t.Fatalf("Convert(nil) error = %v, want InvalidParameters", err)
	}
}
