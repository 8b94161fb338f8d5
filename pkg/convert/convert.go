// Package convert turns AST nodes into meshes. A Converter walks one node
// and its subtree, builds solids through a kernel.Adapter, resolves module
// calls through a registry.Registry and hands the final solid to the mesh
// package. Conversion of a node is all or nothing: on failure no mesh is
// returned and every solid created along the way is released.
package convert

import (
	"context"
	"io"
	"log/slog"

	"github.com/chazu/scadcsg/pkg/ast"
	"github.com/chazu/scadcsg/pkg/config"
	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/chazu/scadcsg/pkg/kernel"
	"github.com/chazu/scadcsg/pkg/mesh"
	"github.com/chazu/scadcsg/pkg/registry"
	"github.com/deadsy/sdfx/sdf"
)

// Result is the outcome of converting one node. Empty is set when the node
// produced no geometry, which is not an error: control flow, module
// definitions and booleans whose children are all empty end up here.
type Result struct {
	Kind  ast.Kind
	Mesh  *mesh.Mesh
	Empty bool

	// ChildCount is the number of child solids the root node consumed.
	ChildCount int
}

// Converter is the geometry dispatcher. It holds no state between calls
// besides the adapter and the registry it was given.
type Converter struct {
	adapter  *kernel.Adapter
	registry *registry.Registry
	cfg      config.Config
	log      *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithConfig overrides the default configuration.
func WithConfig(cfg config.Config) Option {
	return func(c *Converter) { c.cfg = cfg }
}

// WithLogger sets the converter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Converter) {
		if l != nil {
			c.log = l
		}
	}
}

// New returns a Converter over adapter and reg. A nil reg gets a fresh
// registry.
func New(adapter *kernel.Adapter, reg *registry.Registry, opts ...Option) *Converter {
	if reg == nil {
		reg = registry.New()
	}
	c := &Converter{
		adapter:  adapter,
		registry: reg,
		cfg:      config.Default(),
		log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the top-level module registry.
func (c *Converter) Registry() *registry.Registry { return c.registry }

// Adapter returns the kernel adapter.
func (c *Converter) Adapter() *kernel.Adapter { return c.adapter }

// Config returns the active configuration.
func (c *Converter) Config() config.Config { return c.cfg }

// Convert converts n. The adapter is initialized on first use. A failed
// load is returned as is and not retried; call the adapter's Initialize to
// retry. ctx is checked before each node, so cancellation stops the walk
// between nodes and never inside one.
func (c *Converter) Convert(ctx context.Context, n ast.Node) (*Result, error) {
	if n == nil {
		return nil, csgerr.New(csgerr.InvalidParameters, "no node to convert")
	}
	switch c.adapter.State() {
	case kernel.StateReady:
	case kernel.StateFailed:
		if err := c.adapter.LoadErr(); err != nil {
			return nil, err
		}
		// A concurrent retry succeeded in between.
	default:
		if err := c.adapter.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	s := &session{c: c, ctx: ctx}
	defer s.releaseAll()

	out, err := s.node(c.registry, n, 0)
	if err != nil {
		s.failed = true
		c.log.Debug("conversion failed", "kind", n.Kind(), "err", err)
		return nil, err
	}
	res := &Result{Kind: n.Kind()}
	if out == nil {
		res.Empty = true
		return res, nil
	}
	res.ChildCount = out.children

	native, err := c.adapter.ToMesh(out.h)
	if err != nil {
		s.failed = true
		return nil, err
	}
	m, err := mesh.FromKernel(native, out.xform)
	if err != nil {
		s.failed = true
		return nil, err
	}
	res.Mesh = m
	return res, nil
}

// solid is a live intermediate result. xform is the transform composed
// since the last boolean; the geometry behind h already has it applied.
type solid struct {
	h        kernel.Handle
	xform    sdf.M44
	children int
}

// session tracks every handle issued during one Convert call so that
// whatever is still live at the end gets released, on success and on
// failure alike.
type session struct {
	c      *Converter
	ctx    context.Context
	issued []kernel.Handle
	failed bool
}

func (s *session) track(h kernel.Handle) kernel.Handle {
	s.issued = append(s.issued, h)
	return h
}

func (s *session) releaseAll() {
	leaked := 0
	for _, h := range s.issued {
		if !s.c.adapter.IsLive(h) {
			continue
		}
		if err := s.c.adapter.Release(h); err == nil {
			leaked++
		}
	}
	if s.failed && leaked > 0 {
		s.c.log.Warn("released solids left over by a failed conversion", "count", leaked)
	}
}

// release drops the handles of solids that will not be used, such as the
// operands of a difference whose base is empty.
func (s *session) release(solids []*solid) {
	for _, sol := range solids {
		if sol != nil {
			_ = s.c.adapter.Release(sol.h)
		}
	}
}

func (s *session) primitive(kind kernel.PrimitiveKind, p kernel.PrimitiveParams) (*solid, error) {
	h, err := s.c.adapter.CreatePrimitive(kind, p)
	if err != nil {
		return nil, err
	}
	return &solid{h: s.track(h), xform: sdf.Identity3d()}, nil
}

// transform applies m to in's geometry and composes it onto in's recorded
// transform. in is consumed.
func (s *session) transform(in *solid, m sdf.M44) (*solid, error) {
	h, err := s.c.adapter.Transform(in.h, m)
	if err != nil {
		return nil, err
	}
	return &solid{h: s.track(h), xform: m.Mul(in.xform), children: 1}, nil
}

// combine folds solids with op. A single solid passes through untouched.
func (s *session) combine(op kernel.Op, solids []*solid) (*solid, error) {
	if len(solids) == 1 {
		only := *solids[0]
		only.children = 1
		return &only, nil
	}
	hs := make([]kernel.Handle, len(solids))
	for i, sol := range solids {
		hs[i] = sol.h
	}
	h, err := s.c.adapter.Combine(op, hs)
	if err != nil {
		return nil, err
	}
	return &solid{h: s.track(h), xform: sdf.Identity3d(), children: len(solids)}, nil
}
