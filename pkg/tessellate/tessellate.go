// Package tessellate runs a whole design through the converter and produces
// one mesh per top-level geometry node.
package tessellate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/chazu/scadcsg/pkg/ast"
	"github.com/chazu/scadcsg/pkg/convert"
	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/chazu/scadcsg/pkg/graph"
	"github.com/chazu/scadcsg/pkg/mesh"
	"github.com/chazu/scadcsg/pkg/registry"
)

// Part is the mesh of one top-level node. Name is the node kind and its
// position among the top-level statements, e.g. "union#2".
type Part struct {
	Name       string
	Kind       ast.Kind
	Mesh       *mesh.Mesh
	ChildCount int
}

// Output collects the parts of a design. Empty counts top-level nodes that
// produced no geometry.
type Output struct {
	Parts    []Part
	Empty    int
	Warnings []graph.ValidationError
}

// TriangleCount sums the triangles of every part.
func (o *Output) TriangleCount() int {
	n := 0
	for _, p := range o.Parts {
		n += p.Mesh.TriangleCount
	}
	return n
}

type options struct {
	log *slog.Logger
}

// Option configures Tessellate.
type Option func(*options)

// WithLogger sets the logger for call graph warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// Tessellate converts nodes in order. The module call graph is checked
// first and recursive instantiation is rejected without building any
// geometry or touching the registry. Top-level module definitions are then
// registered in conv's registry before anything is converted, so calls may
// precede the definitions they use. If any definition fails to register,
// the ones already registered are removed again. On success the registry
// keeps them; use a fresh converter per design. The first conversion
// failure aborts the run.
func Tessellate(ctx context.Context, conv *convert.Converter, nodes []ast.Node, opts ...Option) (*Output, error) {
	o := options{log: slog.New(slog.NewTextHandler(io.Discard, nil))}
	for _, opt := range opts {
		opt(&o)
	}

	for i, n := range nodes {
		if n == nil {
			return nil, csgerr.New(csgerr.InvalidParameters, "top-level statement %d is nil", i)
		}
	}

	res := graph.Validate(graph.Build(nodes))
	if !res.OK() {
		msgs := make([]string, len(res.Errors))
		for i, e := range res.Errors {
			msgs[i] = e.Error()
		}
		return nil, csgerr.New(csgerr.RecursionLimit, "%s", strings.Join(msgs, "; "))
	}
	for _, w := range res.Warnings {
		o.log.Warn("module graph", "module", w.Module, "finding", w.Message)
	}

	geometry, err := register(conv.Registry(), nodes)
	if err != nil {
		return nil, fmt.Errorf("tessellate: %w", err)
	}

	out := &Output{Warnings: res.Warnings}
	for i, n := range geometry {
		r, err := conv.Convert(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("tessellate: %s#%d: %w", n.Kind(), i, err)
		}
		if r.Empty {
			out.Empty++
			continue
		}
		out.Parts = append(out.Parts, Part{
			Name:       fmt.Sprintf("%s#%d", n.Kind(), i),
			Kind:       n.Kind(),
			Mesh:       r.Mesh,
			ChildCount: r.ChildCount,
		})
	}
	return out, nil
}

// register adds the top-level definitions in nodes to reg and returns the
// remaining statements. It registers all of them or none.
func register(reg *registry.Registry, nodes []ast.Node) ([]ast.Node, error) {
	var geometry []ast.Node
	var added []string
	for _, n := range nodes {
		def, ok := n.(*ast.ModuleDef)
		if !ok {
			geometry = append(geometry, n)
			continue
		}
		if err := reg.RegisterNode(def); err != nil {
			for _, name := range added {
				reg.Remove(name)
			}
			return nil, err
		}
		added = append(added, def.Name)
	}
	return geometry, nil
}
