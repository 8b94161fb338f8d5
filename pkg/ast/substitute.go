package ast

// Env resolves a reference name to a bound value.
type Env func(name string) (Value, bool)

// Substitute returns a deep copy of nodes with every Ref resolved through
// env. References env cannot resolve become Undef, never a default.
// Names shadowed by a nested module's parameters or a for loop variable are
// left as references for the inner scope to resolve later.
func Substitute(nodes []Node, env Env) []Node {
	s := substituter{env: env, shadowed: map[string]int{}}
	return s.nodes(nodes)
}

type substituter struct {
	env      Env
	shadowed map[string]int
}

func (s *substituter) shadow(names ...string) func() {
	for _, n := range names {
		s.shadowed[n]++
	}
	return func() {
		for _, n := range names {
			s.shadowed[n]--
		}
	}
}

func (s *substituter) value(v Value) Value {
	switch t := v.(type) {
	case nil:
		return nil
	case Ref:
		if s.shadowed[string(t)] > 0 {
			return t
		}
		if s.env != nil {
			if bound, ok := s.env(string(t)); ok {
				return bound
			}
		}
		return Undef{}
	case Vector:
		out := make(Vector, len(t))
		for i, e := range t {
			out[i] = s.value(e)
		}
		return out
	default:
		return v
	}
}

func (s *substituter) values(vs []Value) []Value {
	if vs == nil {
		return nil
	}
	out := make([]Value, len(vs))
	for i, v := range vs {
		out[i] = s.value(v)
	}
	return out
}

func (s *substituter) nodes(ns []Node) []Node {
	if ns == nil {
		return nil
	}
	out := make([]Node, len(ns))
	for i, n := range ns {
		out[i] = s.node(n)
	}
	return out
}

func (s *substituter) node(n Node) Node {
	switch v := n.(type) {
	case nil:
		return nil
	case *Cube:
		return &Cube{Size: s.value(v.Size), Center: s.value(v.Center)}
	case *Sphere:
		return &Sphere{R: s.value(v.R), D: s.value(v.D), Fragments: s.value(v.Fragments)}
	case *Cylinder:
		return &Cylinder{
			H:         s.value(v.H),
			R:         s.value(v.R),
			R1:        s.value(v.R1),
			R2:        s.value(v.R2),
			Center:    s.value(v.Center),
			Fragments: s.value(v.Fragments),
		}
	case *Translate:
		return &Translate{V: s.value(v.V), Child: s.node(v.Child)}
	case *Rotate:
		return &Rotate{A: s.value(v.A), Child: s.node(v.Child)}
	case *Scale:
		return &Scale{V: s.value(v.V), Child: s.node(v.Child)}
	case *Union:
		return &Union{Children: s.nodes(v.Children)}
	case *Difference:
		return &Difference{Children: s.nodes(v.Children)}
	case *Intersection:
		return &Intersection{Children: s.nodes(v.Children)}
	case *ModuleDef:
		names := make([]string, len(v.Params))
		params := make([]Param, len(v.Params))
		for i, p := range v.Params {
			names[i] = p.Name
			params[i] = Param{Name: p.Name, Default: s.value(p.Default)}
		}
		restore := s.shadow(names...)
		defer restore()
		return &ModuleDef{Name: v.Name, Params: params, Body: s.nodes(v.Body)}
	case *ModuleCall:
		return &ModuleCall{Name: v.Name, Args: s.values(v.Args)}
	case *For:
		rng := s.value(v.Range)
		restore := s.shadow(v.Var)
		defer restore()
		return &For{Var: v.Var, Range: rng, Body: s.nodes(v.Body)}
	case *If:
		return &If{Cond: s.value(v.Cond), Then: s.nodes(v.Then), Else: s.nodes(v.Else)}
	case *Import:
		return &Import{Path: v.Path}
	case *Assign:
		return &Assign{Name: v.Name, Value: s.value(v.Value)}
	}
	return n
}
