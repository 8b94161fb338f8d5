// Package registry stores user module definitions and materializes module
// instances by binding call-site arguments to parameter names.
//
// A Registry is a plain map with no locking. Conversions read it while they
// run, so callers must not Clear a registry while a conversion that
// instantiates one of its modules is in flight.
package registry

import (
	"github.com/chazu/scadcsg/pkg/ast"
	"github.com/chazu/scadcsg/pkg/csgerr"
)

// Definition is an immutable module definition.
type Definition struct {
	Name   string
	Params []ast.Param
	Body   []ast.Node
}

// NewDefinition validates def and freezes it into a Definition. Parameter
// names must be unique.
func NewDefinition(def *ast.ModuleDef) (*Definition, error) {
	if def == nil || def.Name == "" {
		return nil, csgerr.New(csgerr.InvalidParameters, "module definition has no name")
	}
	params := make([]ast.Param, len(def.Params))
	seen := make(map[string]bool, len(def.Params))
	for i, p := range def.Params {
		if p.Name == "" {
			return nil, csgerr.New(csgerr.InvalidParameters, "module %q: parameter %d has no name", def.Name, i)
		}
		if seen[p.Name] {
			return nil, csgerr.New(csgerr.InvalidParameters, "module %q declares parameter %q twice", def.Name, p.Name)
		}
		seen[p.Name] = true
		params[i] = p
	}
	body := make([]ast.Node, len(def.Body))
	copy(body, def.Body)
	return &Definition{Name: def.Name, Params: params, Body: body}, nil
}

// Instance is one instantiation of a Definition. It is built per call and
// not retained by the registry.
type Instance struct {
	Def      *Definition
	Bindings map[string]ast.Value
}

// Lookup returns the value bound to a parameter name. Parameters beyond the
// supplied arguments are unset: ok is false and no default is applied.
func (i *Instance) Lookup(name string) (ast.Value, bool) {
	v, ok := i.Bindings[name]
	return v, ok
}

// Body returns a copy of the definition body with parameter references
// replaced by their bound values. Unbound references become ast.Undef.
func (i *Instance) Body() []ast.Node {
	return ast.Substitute(i.Def.Body, i.Lookup)
}

// Registry maps module names to definitions. A registry created with Child
// resolves names it does not hold through its parent, giving nested module
// definitions lexical scope.
type Registry struct {
	defs   map[string]*Definition
	order  []string
	parent *Registry
}

// New returns an empty top-level registry.
func New() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Child returns an empty scope nested inside r.
func (r *Registry) Child() *Registry {
	c := New()
	c.parent = r
	return c
}

// Parent returns the enclosing scope, or nil for a top-level registry.
func (r *Registry) Parent() *Registry {
	return r.parent
}

// Register stores def. It fails with DuplicateModule when this scope already
// holds the name and leaves the registry unchanged. Shadowing a name from
// an enclosing scope is allowed.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return csgerr.New(csgerr.InvalidParameters, "cannot register an unnamed module")
	}
	if _, ok := r.defs[def.Name]; ok {
		return csgerr.New(csgerr.DuplicateModule, "module %q is already defined", def.Name)
	}
	r.defs[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

// RegisterNode freezes an ast.ModuleDef and registers it.
func (r *Registry) RegisterNode(def *ast.ModuleDef) error {
	d, err := NewDefinition(def)
	if err != nil {
		return err
	}
	return r.Register(d)
}

// Get returns the definition visible from this scope.
func (r *Registry) Get(name string) (*Definition, bool) {
	d, _, ok := r.Resolve(name)
	return d, ok
}

// Resolve returns the definition visible from this scope together with the
// scope that holds it. A module body is evaluated in a child of that scope,
// so it sees the names visible where it was defined, not where it is called.
func (r *Registry) Resolve(name string) (*Definition, *Registry, bool) {
	for s := r; s != nil; s = s.parent {
		if d, ok := s.defs[name]; ok {
			return d, s, true
		}
	}
	return nil, nil, false
}

// Has reports whether name is visible from this scope.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Names returns the names defined in this scope in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Count returns the number of definitions in this scope.
func (r *Registry) Count() int {
	return len(r.defs)
}

// Remove deletes name from this scope and reports whether it was there.
// Enclosing scopes are not touched.
func (r *Registry) Remove(name string) bool {
	if _, ok := r.defs[name]; !ok {
		return false
	}
	delete(r.defs, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Clear removes every definition from this scope.
func (r *Registry) Clear() {
	r.defs = make(map[string]*Definition)
	r.order = nil
}

// Instantiate binds args[i] to the i-th parameter for i below
// min(len(args), len(params)). Trailing parameters stay unset and extra
// arguments are ignored.
func (r *Registry) Instantiate(name string, args []ast.Value) (*Instance, error) {
	def, ok := r.Get(name)
	if !ok {
		return nil, csgerr.New(csgerr.ModuleNotDefined, "module %q is not defined", name)
	}
	n := min(len(args), len(def.Params))
	bindings := make(map[string]ast.Value, n)
	for i := 0; i < n; i++ {
		bindings[def.Params[i].Name] = args[i]
	}
	return &Instance{Def: def, Bindings: bindings}, nil
}
