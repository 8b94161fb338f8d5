package graph

import (
	"fmt"
	"sort"

	"github.com/chazu/scadcsg/pkg/ast"
)

// Module is one module definition in the call graph. Path qualifies nested
// definitions with their enclosing modules, e.g. "outer/inner".
// Calls are instantiated whenever the body is; Guarded calls sit inside an
// if or for body and only run when that branch does.
type Module struct {
	Path    string
	Name    string
	Calls   []string
	Guarded []string
}

// Reference is a call whose name no enclosing scope defines. Caller is the
// path of the calling module, or empty for top-level code.
type Reference struct {
	Caller string
	Name   string
}

// CallGraph is built once from a node list and not modified afterwards.
type CallGraph struct {
	Modules      map[string]*Module
	Order        []string // module paths in definition order
	Roots        []string // paths instantiated from top-level code
	GuardedRoots []string // paths called from top-level if and for bodies
	Undefined    []Reference
}

// Build walks nodes and records every module definition and call. Names
// resolve lexically: a call sees definitions in its own statement list, then
// in each enclosing list, the same way the converter resolves them.
func Build(nodes []ast.Node) *CallGraph {
	g := &CallGraph{Modules: make(map[string]*Module)}
	b := &builder{g: g}
	b.list(nil, "", nodes)
	return g
}

// Get returns the module at path, or nil.
func (g *CallGraph) Get(path string) *Module {
	return g.Modules[path]
}

// Callers returns the paths of the modules that call path, guarded or not,
// sorted.
func (g *CallGraph) Callers(path string) []string {
	var out []string
	for p, m := range g.Modules {
		if contains(m.Calls, path) || contains(m.Guarded, path) {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// scope maps visible names to module paths. Lookups fall back to parent.
type scope struct {
	names  map[string]string
	parent *scope
}

func (s *scope) resolve(name string) (string, bool) {
	for ; s != nil; s = s.parent {
		if p, ok := s.names[name]; ok {
			return p, true
		}
	}
	return "", false
}

type builder struct {
	g *CallGraph
	// guarded is set while walking an if or for body.
	guarded bool
}

// list hoists the definitions in nodes into a new scope and walks them.
// caller is the path of the module whose body is being walked.
func (b *builder) list(parent *scope, caller string, nodes []ast.Node) {
	sc := &scope{names: make(map[string]string), parent: parent}
	var defs []*ast.ModuleDef
	for _, n := range nodes {
		def, ok := n.(*ast.ModuleDef)
		if !ok || def.Name == "" {
			continue
		}
		if _, dup := sc.names[def.Name]; dup {
			// The registry rejects the second definition; keep the first.
			continue
		}
		path := b.unique(caller, def.Name)
		sc.names[def.Name] = path
		b.g.Modules[path] = &Module{Path: path, Name: def.Name}
		b.g.Order = append(b.g.Order, path)
		defs = append(defs, def)
	}
	for _, n := range nodes {
		b.node(sc, caller, n)
	}
	// A body's own calls are unguarded even when the definition sits in an
	// if or for body.
	prev := b.guarded
	b.guarded = false
	for _, def := range defs {
		path := sc.names[def.Name]
		b.list(sc, path, def.Body)
	}
	b.guarded = prev
}

// unique returns the path for a definition of name inside caller. Sibling
// scopes may define the same name; later ones get a numeric suffix.
func (b *builder) unique(caller, name string) string {
	base := name
	if caller != "" {
		base = caller + "/" + name
	}
	path := base
	for i := 2; b.g.Modules[path] != nil; i++ {
		path = fmt.Sprintf("%s#%d", base, i)
	}
	return path
}

func (b *builder) node(sc *scope, caller string, n ast.Node) {
	switch v := n.(type) {
	case nil, *ast.ModuleDef:
		return
	case *ast.ModuleCall:
		b.call(sc, caller, v.Name)
	case *ast.For:
		defer b.guard()()
		b.list(sc, caller, v.Body)
	case *ast.If:
		defer b.guard()()
		b.list(sc, caller, v.Then)
		b.list(sc, caller, v.Else)
	case *ast.Union, *ast.Difference, *ast.Intersection:
		b.list(sc, caller, ast.Children(n))
	default:
		for _, c := range ast.Children(n) {
			b.node(sc, caller, c)
		}
	}
}

func (b *builder) guard() func() {
	prev := b.guarded
	b.guarded = true
	return func() { b.guarded = prev }
}

func (b *builder) call(sc *scope, caller, name string) {
	path, ok := sc.resolve(name)
	if !ok {
		b.g.Undefined = append(b.g.Undefined, Reference{Caller: caller, Name: name})
		return
	}
	var edges *[]string
	switch {
	case caller == "" && b.guarded:
		edges = &b.g.GuardedRoots
	case caller == "":
		edges = &b.g.Roots
	case b.guarded:
		edges = &b.g.Modules[caller].Guarded
	default:
		edges = &b.g.Modules[caller].Calls
	}
	if !contains(*edges, path) {
		*edges = append(*edges, path)
	}
}
