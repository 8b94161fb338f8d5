package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chazu/scadcsg/pkg/ast"
	zygo "github.com/glycerine/zygomys/zygo"
)

// ---------------------------------------------------------------------------
// Custom Sexp types for passing Go values through the zygomys environment
// ---------------------------------------------------------------------------

// sexpNode wraps an ast.Node so it can be returned from one builtin and
// consumed by another.
type sexpNode struct {
	node ast.Node
}

func (n *sexpNode) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(%s)", n.node.Kind())
}
func (n *sexpNode) Type() *zygo.RegisteredType { return nil }

// sexpValue carries an operand zygomys has no literal for: a parameter
// reference or undef.
type sexpValue struct {
	val ast.Value
}

func (v *sexpValue) SexpString(ps *zygo.PrintState) string {
	return fmt.Sprintf("(value %s)", v.val)
}
func (v *sexpValue) Type() *zygo.RegisteredType { return nil }

// ---------------------------------------------------------------------------
// Keyword argument parsing
// ---------------------------------------------------------------------------

// kwPrefix is the marker prepended to keyword names by preprocessSource.
const kwPrefix = "__kw_"

// isKW checks if a Sexp is a preprocessed keyword string.
// Returns the keyword name (without prefix) and true if it is.
func isKW(s zygo.Sexp) (string, bool) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", false
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], true
	}
	return "", false
}

// kwArgs holds the result of parsing a mixed positional+keyword argument list.
type kwArgs struct {
	kw         map[string]zygo.Sexp
	positional []zygo.Sexp
}

// parseArgs separates args into keyword and positional arguments.
// Keywords are identified by the __kw_ prefix added during preprocessing.
func parseArgs(args []zygo.Sexp) kwArgs {
	result := kwArgs{kw: make(map[string]zygo.Sexp)}
	i := 0
	for i < len(args) {
		name, ok := isKW(args[i])
		if ok {
			if i+1 < len(args) {
				result.kw[name] = args[i+1]
				i += 2
			} else {
				// Keyword at end with no value: treat as flag with nil.
				result.kw[name] = zygo.SexpNull
				i++
			}
		} else {
			result.positional = append(result.positional, args[i])
			i++
		}
	}
	return result
}

// only rejects keywords outside allowed.
func (a kwArgs) only(allowed ...string) error {
	var unknown []string
	for name := range a.kw {
		found := false
		for _, ok := range allowed {
			if name == ok {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, ":"+name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("unknown keyword %s", strings.Join(unknown, " "))
	}
	return nil
}

// value returns the operand given as keyword name or, failing that, as
// positional argument pos. A negative pos means keyword only. Absent
// operands are nil so the converter applies its default.
func (a kwArgs) value(name string, pos int) (ast.Value, error) {
	if s, ok := a.kw[name]; ok {
		return toValue(s)
	}
	if pos >= 0 && pos < len(a.positional) {
		return toValue(a.positional[pos])
	}
	return nil, nil
}

// ---------------------------------------------------------------------------
// Value extraction helpers
// ---------------------------------------------------------------------------

// toString extracts a string from a Sexp.
func toString(s zygo.Sexp) (string, error) {
	if str, ok := s.(*zygo.SexpStr); ok {
		return str.S, nil
	}
	return "", fmt.Errorf("expected string, got %T (%s)", s, s.SexpString(nil))
}

// toKeywordString extracts a keyword name or plain string from a Sexp.
// Handles both preprocessed keywords (__kw_x) and plain strings ("x").
func toKeywordString(s zygo.Sexp) (string, error) {
	str, ok := s.(*zygo.SexpStr)
	if !ok {
		return "", fmt.Errorf("expected keyword or string, got %T (%s)", s, s.SexpString(nil))
	}
	if strings.HasPrefix(str.S, kwPrefix) {
		return str.S[len(kwPrefix):], nil
	}
	return str.S, nil
}

// toValue converts an evaluated argument into an operand. Arrays and lists
// become vectors; nil becomes undef.
func toValue(s zygo.Sexp) (ast.Value, error) {
	switch v := s.(type) {
	case *zygo.SexpInt:
		return ast.Number(float64(v.Val)), nil
	case *zygo.SexpFloat:
		return ast.Number(v.Val), nil
	case *zygo.SexpBool:
		return ast.Bool(v.Val), nil
	case *zygo.SexpStr:
		if name, ok := isKW(v); ok {
			return nil, fmt.Errorf("unexpected keyword :%s", name)
		}
		return ast.String(v.S), nil
	case *sexpValue:
		return v.val, nil
	case *sexpNode:
		return nil, fmt.Errorf("expected a value, got %s geometry", v.node.Kind())
	case *zygo.SexpArray, *zygo.SexpPair:
		items, err := sexpListToSlice(s)
		if err != nil {
			return nil, err
		}
		vec := make(ast.Vector, len(items))
		for i, item := range items {
			if vec[i], err = toValue(item); err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
		}
		return vec, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return ast.Undef{}, nil
		}
	}
	return nil, fmt.Errorf("expected number, bool, string or vector, got %T (%s)", s, s.SexpString(nil))
}

// sexpListToSlice converts a SexpPair (Lisp list) or SexpArray to a Go slice.
func sexpListToSlice(s zygo.Sexp) ([]zygo.Sexp, error) {
	switch v := s.(type) {
	case *zygo.SexpPair:
		return zygo.ListToArray(v)
	case *zygo.SexpArray:
		return v.Val, nil
	case *zygo.SexpSentinel:
		if v == zygo.SexpNull {
			return nil, nil
		}
	}
	return nil, fmt.Errorf("expected list or array, got %T", s)
}

// ---------------------------------------------------------------------------
// Node tracking
// ---------------------------------------------------------------------------

// builder records every node the builtins create. A node passed to another
// builtin as a child or body statement is consumed; the rest are the
// program's top-level statements, in creation order.
type builder struct {
	created  []ast.Node
	consumed map[ast.Node]bool
	warnings []EvalWarning
}

func newBuilder() *builder {
	return &builder{consumed: make(map[ast.Node]bool)}
}

func (b *builder) add(n ast.Node) zygo.Sexp {
	b.created = append(b.created, n)
	return &sexpNode{node: n}
}

func (b *builder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, EvalWarning{Message: fmt.Sprintf(format, args...)})
}

// take consumes the nodes in args. Lists and arrays are flattened so that
// generated children, e.g. from map, can be passed directly. An empty list
// contributes nothing.
func (b *builder) take(args []zygo.Sexp) ([]ast.Node, error) {
	var out []ast.Node
	for i, a := range args {
		switch v := a.(type) {
		case *sexpNode:
			b.consumed[v.node] = true
			out = append(out, v.node)
		case *zygo.SexpArray, *zygo.SexpPair, *zygo.SexpSentinel:
			items, err := sexpListToSlice(a)
			if err != nil {
				return nil, fmt.Errorf("child %d: %w", i, err)
			}
			nested, err := b.take(items)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		default:
			return nil, fmt.Errorf("child %d: expected geometry, got %T (%s)", i, a, a.SexpString(nil))
		}
	}
	return out, nil
}

func (b *builder) roots() []ast.Node {
	var out []ast.Node
	for _, n := range b.created {
		if !b.consumed[n] {
			out = append(out, n)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Builtin registration
// ---------------------------------------------------------------------------

// registerBuiltins installs the geometry builtins into a zygomys environment.
// The builtins record the nodes they create in b.
//
// Source code must be preprocessed with preprocessSource() before evaluation so
// that :keyword tokens are converted to recognizable string literals.
func registerBuiltins(env *zygo.Zlisp, b *builder) {

	// -----------------------------------------------------------------------
	// (cube 10) (cube [10 20 5] :center true)
	// -----------------------------------------------------------------------
	env.AddFunction("cube", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("size", "center"); err != nil {
			return zygo.SexpNull, fmt.Errorf("cube: %w", err)
		}
		n := &ast.Cube{}
		var err error
		if n.Size, err = pa.value("size", 0); err != nil {
			return zygo.SexpNull, fmt.Errorf("cube: size: %w", err)
		}
		if n.Center, err = pa.value("center", 1); err != nil {
			return zygo.SexpNull, fmt.Errorf("cube: center: %w", err)
		}
		return b.add(n), nil
	})

	// -----------------------------------------------------------------------
	// (sphere 5) (sphere :d 10 :fn 32)
	// -----------------------------------------------------------------------
	env.AddFunction("sphere", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("r", "d", "fn"); err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: %w", err)
		}
		n := &ast.Sphere{}
		var err error
		if n.R, err = pa.value("r", 0); err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: r: %w", err)
		}
		if n.D, err = pa.value("d", -1); err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: d: %w", err)
		}
		if n.Fragments, err = pa.value("fn", -1); err != nil {
			return zygo.SexpNull, fmt.Errorf("sphere: fn: %w", err)
		}
		return b.add(n), nil
	})

	// -----------------------------------------------------------------------
	// (cylinder :h 10 :r 2) (cylinder :h 10 :r1 4 :r2 0 :center true)
	// -----------------------------------------------------------------------
	env.AddFunction("cylinder", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		pa := parseArgs(args)
		if err := pa.only("h", "r", "r1", "r2", "center", "fn"); err != nil {
			return zygo.SexpNull, fmt.Errorf("cylinder: %w", err)
		}
		n := &ast.Cylinder{}
		fields := []struct {
			name string
			pos  int
			dst  *ast.Value
		}{
			{"h", 0, &n.H},
			{"r", 1, &n.R},
			{"r1", -1, &n.R1},
			{"r2", -1, &n.R2},
			{"center", -1, &n.Center},
			{"fn", -1, &n.Fragments},
		}
		for _, f := range fields {
			v, err := pa.value(f.name, f.pos)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("cylinder: %s: %w", f.name, err)
			}
			*f.dst = v
		}
		return b.add(n), nil
	})

	// -----------------------------------------------------------------------
	// (translate [x y z] child...) (rotate [ax ay az] child...) (scale 2 child...)
	// -----------------------------------------------------------------------
	transform := func(op string, wrap func(v ast.Value, child ast.Node) ast.Node) zygo.ZlispUserFunction {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			if len(args) < 2 {
				return zygo.SexpNull, fmt.Errorf("%s requires an operand and at least one child", op)
			}
			v, err := toValue(args[0])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			children, err := b.take(args[1:])
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			if len(children) == 0 {
				return zygo.SexpNull, fmt.Errorf("%s has no child", op)
			}
			child := children[0]
			if len(children) > 1 {
				// Several children are implicitly unioned.
				child = &ast.Union{Children: children}
			}
			return b.add(wrap(v, child)), nil
		}
	}
	env.AddFunction("translate", transform("translate", func(v ast.Value, c ast.Node) ast.Node {
		return &ast.Translate{V: v, Child: c}
	}))
	env.AddFunction("rotate", transform("rotate", func(v ast.Value, c ast.Node) ast.Node {
		return &ast.Rotate{A: v, Child: c}
	}))
	env.AddFunction("scale", transform("scale", func(v ast.Value, c ast.Node) ast.Node {
		return &ast.Scale{V: v, Child: c}
	}))

	// -----------------------------------------------------------------------
	// (union child...) (difference base cut...) (intersection child...)
	// -----------------------------------------------------------------------
	boolean := func(op string, wrap func(children []ast.Node) ast.Node) zygo.ZlispUserFunction {
		return func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
			children, err := b.take(args)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("%s: %w", op, err)
			}
			if len(children) == 0 {
				return zygo.SexpNull, fmt.Errorf("%s has no children", op)
			}
			return b.add(wrap(children)), nil
		}
	}
	env.AddFunction("union", boolean("union", func(c []ast.Node) ast.Node {
		return &ast.Union{Children: c}
	}))
	env.AddFunction("difference", boolean("difference", func(c []ast.Node) ast.Node {
		return &ast.Difference{Children: c}
	}))
	env.AddFunction("intersection", boolean("intersection", func(c []ast.Node) ast.Node {
		return &ast.Intersection{Children: c}
	}))

	// -----------------------------------------------------------------------
	// (defmodule "name" ["a" ["b" 2]] body...)
	// -----------------------------------------------------------------------
	env.AddFunction("defmodule", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 2 {
			return zygo.SexpNull, fmt.Errorf("defmodule requires a name and a parameter list")
		}
		modName, err := toKeywordString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defmodule: name: %w", err)
		}
		specs, err := sexpListToSlice(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defmodule %s: parameters: %w", modName, err)
		}
		params := make([]ast.Param, 0, len(specs))
		for i, spec := range specs {
			p, err := toParam(spec)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("defmodule %s: parameter %d: %w", modName, i, err)
			}
			if p.Default != nil {
				b.warn("module %s: default for %s is recorded but not applied", modName, p.Name)
			}
			params = append(params, p)
		}
		body, err := b.take(args[2:])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("defmodule %s: %w", modName, err)
		}
		return b.add(&ast.ModuleDef{Name: modName, Params: params, Body: body}), nil
	})

	// -----------------------------------------------------------------------
	// (instantiate "name" arg...)
	// -----------------------------------------------------------------------
	env.AddFunction("instantiate", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 1 {
			return zygo.SexpNull, fmt.Errorf("instantiate requires a module name")
		}
		modName, err := toKeywordString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("instantiate: name: %w", err)
		}
		call := &ast.ModuleCall{Name: modName}
		for i, a := range args[1:] {
			v, err := toValue(a)
			if err != nil {
				return zygo.SexpNull, fmt.Errorf("instantiate %s: argument %d: %w", modName, i, err)
			}
			call.Args = append(call.Args, v)
		}
		return b.add(call), nil
	})

	// -----------------------------------------------------------------------
	// (param "name") (undef)
	// -----------------------------------------------------------------------
	env.AddFunction("param", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("param requires exactly 1 argument, got %d", len(args))
		}
		pname, err := toKeywordString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("param: %w", err)
		}
		return &sexpValue{val: ast.Ref(pname)}, nil
	})
	env.AddFunction("undef", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		return &sexpValue{val: ast.Undef{}}, nil
	})

	// -----------------------------------------------------------------------
	// Control flow is recorded but never evaluated by the converter.
	// (scad-for "i" [0 1 2] body...) (scad-if cond then [else])
	// (scad-import "part.stl") (scad-assign "x" 5)
	// -----------------------------------------------------------------------
	env.AddFunction("scad_for", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 2 {
			return zygo.SexpNull, fmt.Errorf("scad-for requires a variable and a range")
		}
		v, err := toKeywordString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-for: variable: %w", err)
		}
		rng, err := toValue(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-for: range: %w", err)
		}
		body, err := b.take(args[2:])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-for: %w", err)
		}
		return b.add(&ast.For{Var: v, Range: rng, Body: body}), nil
	})

	env.AddFunction("scad_if", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) < 2 || len(args) > 3 {
			return zygo.SexpNull, fmt.Errorf("scad-if requires a condition, a then branch and an optional else branch")
		}
		cond, err := toValue(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-if: condition: %w", err)
		}
		n := &ast.If{Cond: cond}
		if n.Then, err = b.take(args[1:2]); err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-if: then: %w", err)
		}
		if len(args) == 3 {
			if n.Else, err = b.take(args[2:]); err != nil {
				return zygo.SexpNull, fmt.Errorf("scad-if: else: %w", err)
			}
		}
		return b.add(n), nil
	})

	env.AddFunction("scad_import", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 1 {
			return zygo.SexpNull, fmt.Errorf("scad-import requires exactly 1 argument, got %d", len(args))
		}
		path, err := toString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-import: %w", err)
		}
		return b.add(&ast.Import{Path: path}), nil
	})

	env.AddFunction("scad_assign", func(env *zygo.Zlisp, name string, args []zygo.Sexp) (zygo.Sexp, error) {
		if len(args) != 2 {
			return zygo.SexpNull, fmt.Errorf("scad-assign requires a name and a value")
		}
		vname, err := toKeywordString(args[0])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-assign: name: %w", err)
		}
		v, err := toValue(args[1])
		if err != nil {
			return zygo.SexpNull, fmt.Errorf("scad-assign: value: %w", err)
		}
		return b.add(&ast.Assign{Name: vname, Value: v}), nil
	})
}

// toParam reads a parameter spec: a name, or a [name default] pair.
func toParam(s zygo.Sexp) (ast.Param, error) {
	if _, ok := s.(*zygo.SexpStr); ok {
		name, err := toKeywordString(s)
		return ast.Param{Name: name}, err
	}
	items, err := sexpListToSlice(s)
	if err != nil {
		return ast.Param{}, fmt.Errorf("expected name or [name default], got %T", s)
	}
	if len(items) != 2 {
		return ast.Param{}, fmt.Errorf("expected [name default], got %d elements", len(items))
	}
	name, err := toKeywordString(items[0])
	if err != nil {
		return ast.Param{}, err
	}
	def, err := toValue(items[1])
	if err != nil {
		return ast.Param{}, fmt.Errorf("default for %s: %w", name, err)
	}
	return ast.Param{Name: name, Default: def}, nil
}
