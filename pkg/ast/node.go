// Package ast defines the syntax tree consumed by the CSG converter.
// A Node is a closed sum type: every variant lives in this package and
// the converter switches over them exhaustively.
package ast

// Kind enumerates the node variants.
type Kind int

const (
	KindCube Kind = iota
	KindSphere
	KindCylinder
	KindTranslate
	KindRotate
	KindScale
	KindUnion
	KindDifference
	KindIntersection
	KindModuleDef
	KindModuleCall
	KindFor
	KindIf
	KindImport
	KindAssign
)

func (k Kind) String() string {
	switch k {
	case KindCube:
		return "cube"
	case KindSphere:
		return "sphere"
	case KindCylinder:
		return "cylinder"
	case KindTranslate:
		return "translate"
	case KindRotate:
		return "rotate"
	case KindScale:
		return "scale"
	case KindUnion:
		return "union"
	case KindDifference:
		return "difference"
	case KindIntersection:
		return "intersection"
	case KindModuleDef:
		return "module"
	case KindModuleCall:
		return "call"
	case KindFor:
		return "for"
	case KindIf:
		return "if"
	case KindImport:
		return "import"
	case KindAssign:
		return "assign"
	default:
		return "unknown"
	}
}

// IsPrimitive reports whether the kind constructs a solid from scratch.
func (k Kind) IsPrimitive() bool {
	return k == KindCube || k == KindSphere || k == KindCylinder
}

// IsTransform reports whether the kind wraps a single child in an affine map.
func (k Kind) IsTransform() bool {
	return k == KindTranslate || k == KindRotate || k == KindScale
}

// IsBoolean reports whether the kind combines an ordered list of children.
func (k Kind) IsBoolean() bool {
	return k == KindUnion || k == KindDifference || k == KindIntersection
}

// IsControlFlow reports whether the kind is structural and never yields
// geometry by itself.
func (k Kind) IsControlFlow() bool {
	return k == KindFor || k == KindIf || k == KindImport || k == KindAssign
}

// Node is implemented by every variant in this package.
type Node interface {
	Kind() Kind
	node() // restricts implementations to this package
}

// Cube is an axis-aligned box. Size is a Number (all edges equal) or a
// 3-element Vector. The box sits in the positive octant unless Center is true.
type Cube struct {
	Size   Value
	Center Value
}

// Sphere is centred at the origin. Exactly one of R or D should be set.
type Sphere struct {
	R         Value
	D         Value
	Fragments Value // $fn
}

// Cylinder stands on the XY plane along +Z unless Center is true.
// R sets both radii; R1/R2 set the bottom and top radius separately.
type Cylinder struct {
	H         Value
	R         Value
	R1        Value
	R2        Value
	Center    Value
	Fragments Value // $fn
}

// Translate moves Child by V (2- or 3-vector).
type Translate struct {
	V     Value
	Child Node
}

// Rotate turns Child by A: a 3-vector of degrees about X, Y then Z, or a
// Number of degrees about Z.
type Rotate struct {
	A     Value
	Child Node
}

// Scale stretches Child by V: a Number (uniform) or a 3-vector.
type Scale struct {
	V     Value
	Child Node
}

// Union, Difference and Intersection combine Children in source order.
type Union struct{ Children []Node }
type Difference struct{ Children []Node }
type Intersection struct{ Children []Node }

// Param is one declared module parameter.
type Param struct {
	Name    string
	Default Value // recorded only; binding never applies it
}

// ModuleDef declares a reusable parametric subtree.
type ModuleDef struct {
	Name   string
	Params []Param
	Body   []Node
}

// ModuleCall instantiates a module with positional arguments.
type ModuleCall struct {
	Name string
	Args []Value
}

// For iterates Var over Range. Control flow only.
type For struct {
	Var   string
	Range Value
	Body  []Node
}

// If is a conditional. Control flow only.
type If struct {
	Cond Value
	Then []Node
	Else []Node
}

// Import references an external file. Control flow only.
type Import struct {
	Path string
}

// Assign binds a variable. Control flow only.
type Assign struct {
	Name  string
	Value Value
}

func (*Cube) Kind() Kind         { return KindCube }
func (*Sphere) Kind() Kind       { return KindSphere }
func (*Cylinder) Kind() Kind     { return KindCylinder }
func (*Translate) Kind() Kind    { return KindTranslate }
func (*Rotate) Kind() Kind       { return KindRotate }
func (*Scale) Kind() Kind        { return KindScale }
func (*Union) Kind() Kind        { return KindUnion }
func (*Difference) Kind() Kind   { return KindDifference }
func (*Intersection) Kind() Kind { return KindIntersection }
func (*ModuleDef) Kind() Kind    { return KindModuleDef }
func (*ModuleCall) Kind() Kind   { return KindModuleCall }
func (*For) Kind() Kind          { return KindFor }
func (*If) Kind() Kind           { return KindIf }
func (*Import) Kind() Kind       { return KindImport }
func (*Assign) Kind() Kind       { return KindAssign }

func (*Cube) node()         {}
func (*Sphere) node()       {}
func (*Cylinder) node()     {}
func (*Translate) node()    {}
func (*Rotate) node()       {}
func (*Scale) node()        {}
func (*Union) node()        {}
func (*Difference) node()   {}
func (*Intersection) node() {}
func (*ModuleDef) node()    {}
func (*ModuleCall) node()   {}
func (*For) node()          {}
func (*If) node()           {}
func (*Import) node()       {}
func (*Assign) node()       {}

// Children returns the direct geometry children of n: the wrapped child of
// a transform, the operands of a boolean, nil otherwise. Module and
// control-flow bodies are not children.
func Children(n Node) []Node {
	switch v := n.(type) {
	case *Translate:
		return optional(v.Child)
	case *Rotate:
		return optional(v.Child)
	case *Scale:
		return optional(v.Child)
	case *Union:
		return v.Children
	case *Difference:
		return v.Children
	case *Intersection:
		return v.Children
	}
	return nil
}

func optional(n Node) []Node {
	if n == nil {
		return nil
	}
	return []Node{n}
}
