package kernel

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"

	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/deadsy/sdfx/sdf"
	"golang.org/x/sync/singleflight"
)

// State is the adapter's load state.
type State int

const (
	StateUninitialized State = iota
	StateLoading
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Handle is an owned reference to a solid held by an Adapter. Transform and
// Combine consume their input handles; a consumed or released handle must
// not be used again.
type Handle struct {
	id uint64
}

// IsZero reports whether h was never issued.
func (h Handle) IsZero() bool { return h.id == 0 }

func (h Handle) String() string { return fmt.Sprintf("solid#%d", h.id) }

// PrimitiveKind selects the solid CreatePrimitive builds.
type PrimitiveKind int

const (
	PrimBox PrimitiveKind = iota
	PrimSphere
	PrimCylinder
)

func (k PrimitiveKind) String() string {
	switch k {
	case PrimBox:
		return "box"
	case PrimSphere:
		return "sphere"
	case PrimCylinder:
		return "cylinder"
	default:
		return fmt.Sprintf("PrimitiveKind(%d)", int(k))
	}
}

// PrimitiveParams holds the dimensions for CreatePrimitive. Only the fields
// of the requested kind are read.
type PrimitiveParams struct {
	Size     [3]float64 // box
	Radius   float64    // sphere
	Height   float64    // cylinder
	R1, R2   float64    // cylinder bottom and top radius
	Segments int        // sphere, cylinder
}

// Op is a boolean combinator.
type Op int

const (
	OpUnion Op = iota
	OpDifference
	OpIntersection
)

func (o Op) String() string {
	switch o {
	case OpUnion:
		return "union"
	case OpDifference:
		return "difference"
	case OpIntersection:
		return "intersection"
	default:
		return fmt.Sprintf("Op(%d)", int(o))
	}
}

// Adapter owns one backend instance and every solid created through it.
// The backend is loaded at most once per successful Initialize; concurrent
// callers share the in-flight load. A failed load is terminal until
// Initialize is called again.
type Adapter struct {
	name   string
	loader Loader
	log    *slog.Logger
	group  singleflight.Group

	mu      sync.Mutex
	state   State
	k       Kernel
	loadErr error
	loads   int
	next    uint64
	live    map[uint64]Solid
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the adapter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.log = l
		}
	}
}

// NewAdapter returns an uninitialized adapter for the named backend.
func NewAdapter(name string, loader Loader, opts ...Option) *Adapter {
	a := &Adapter{
		name:   name,
		loader: loader,
		log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		live:   make(map[uint64]Solid),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the backend name.
func (a *Adapter) Name() string { return a.name }

// State returns the current load state.
func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// LoadErr returns the error of the last load when the adapter is Failed,
// and nil otherwise.
func (a *Adapter) LoadErr() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateFailed {
		return nil
	}
	return a.loadErr
}

// Loads returns how many times the loader has run.
func (a *Adapter) Loads() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loads
}

// Initialize loads the backend if it is not ready. Only the first of any
// number of concurrent callers runs the loader; the rest wait for its
// outcome. Cancelling ctx stops the wait, not the load.
func (a *Adapter) Initialize(ctx context.Context) error {
	a.mu.Lock()
	ready := a.state == StateReady
	a.mu.Unlock()
	if ready {
		return nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := a.group.DoChan("load", func() (any, error) {
		return nil, a.load(loadCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) load(ctx context.Context) (err error) {
	a.mu.Lock()
	if a.state == StateReady {
		a.mu.Unlock()
		return nil
	}
	a.state = StateLoading
	a.mu.Unlock()

	a.log.Info("loading geometry kernel", "backend", a.name)

	var k Kernel
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic during load: %v", r)
			}
		}()
		if a.loader == nil {
			err = fmt.Errorf("no loader configured")
			return
		}
		k, err = a.loader(ctx)
	}()
	if err == nil && k == nil {
		err = fmt.Errorf("loader returned no kernel")
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.loads++
	if err != nil {
		a.state = StateFailed
		a.loadErr = csgerr.Wrap(csgerr.KernelLoadFailed, err, "backend %q", a.name)
		a.log.Error("geometry kernel failed to load", "backend", a.name, "err", err)
		return a.loadErr
	}
	a.k = k
	a.loadErr = nil
	a.state = StateReady
	a.log.Info("geometry kernel ready", "backend", a.name)
	return nil
}

// kernel returns the ready backend. The caller must hold a.mu.
func (a *Adapter) kernel() (Kernel, error) {
	switch a.state {
	case StateReady:
		return a.k, nil
	case StateFailed:
		return nil, a.loadErr
	default:
		return nil, csgerr.New(csgerr.KernelNotReady, "backend %q is %s", a.name, a.state)
	}
}

// register issues a handle for s. The caller must hold a.mu.
func (a *Adapter) register(s Solid) Handle {
	a.next++
	a.live[a.next] = s
	return Handle{id: a.next}
}

// lookup returns the live solid behind h. The caller must hold a.mu.
func (a *Adapter) lookup(h Handle) (Solid, error) {
	if h.id == 0 {
		return nil, csgerr.New(csgerr.InvalidHandle, "zero handle")
	}
	s, ok := a.live[h.id]
	if !ok {
		if h.id <= a.next {
			return nil, csgerr.New(csgerr.InvalidHandle, "%s was already consumed or released", h)
		}
		return nil, csgerr.New(csgerr.InvalidHandle, "%s was not issued by this adapter", h)
	}
	return s, nil
}

// CreatePrimitive builds a new solid. Dimensions must be positive and
// finite; a cylinder may have one zero radius.
func (a *Adapter) CreatePrimitive(kind PrimitiveKind, p PrimitiveParams) (h Handle, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k, err := a.kernel()
	if err != nil {
		return Handle{}, err
	}
	if err := validatePrimitive(kind, p); err != nil {
		return Handle{}, err
	}

	defer recoverAs(csgerr.InvalidParameters, kind.String(), &err)
	var s Solid
	switch kind {
	case PrimBox:
		s = k.Box(p.Size[0], p.Size[1], p.Size[2])
	case PrimSphere:
		s = k.Sphere(p.Radius, p.Segments)
	case PrimCylinder:
		s = k.Cylinder(p.Height, p.R1, p.R2, p.Segments)
	}
	return a.register(s), nil
}

func validatePrimitive(kind PrimitiveKind, p PrimitiveParams) error {
	positive := func(what string, v float64) error {
		if !(v > 0) || math.IsInf(v, 0) {
			return csgerr.New(csgerr.InvalidParameters, "%s %s must be positive, got %g", kind, what, v)
		}
		return nil
	}
	switch kind {
	case PrimBox:
		for i, axis := range []string{"x", "y", "z"} {
			if err := positive("size "+axis, p.Size[i]); err != nil {
				return err
			}
		}
	case PrimSphere:
		if err := positive("radius", p.Radius); err != nil {
			return err
		}
	case PrimCylinder:
		if err := positive("height", p.Height); err != nil {
			return err
		}
		if p.R1 < 0 || p.R2 < 0 || math.IsNaN(p.R1) || math.IsNaN(p.R2) ||
			math.IsInf(p.R1, 0) || math.IsInf(p.R2, 0) {
			return csgerr.New(csgerr.InvalidParameters, "cylinder radii must be finite and non-negative, got %g, %g", p.R1, p.R2)
		}
		if p.R1 == 0 && p.R2 == 0 {
			return csgerr.New(csgerr.InvalidParameters, "cylinder needs at least one positive radius")
		}
	default:
		return csgerr.New(csgerr.InvalidParameters, "unknown primitive %s", kind)
	}
	if kind != PrimBox && p.Segments < 3 {
		return csgerr.New(csgerr.InvalidParameters, "%s needs at least 3 segments, got %d", kind, p.Segments)
	}
	return nil
}

// Transform applies m to the solid behind h and returns a new handle.
// h is consumed whether or not the transform succeeds.
func (a *Adapter) Transform(h Handle, m sdf.M44) (out Handle, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k, err := a.kernel()
	if err != nil {
		return Handle{}, err
	}
	s, err := a.lookup(h)
	if err != nil {
		return Handle{}, err
	}
	delete(a.live, h.id)

	var t Solid
	defer func() {
		if t != s {
			k.Release(s)
		}
	}()
	defer recoverAs(csgerr.InvalidParameters, "transform", &err)
	t = k.Transform(s, m)
	return a.register(t), nil
}

// Combine folds the solids behind hs left to right with op. For difference
// the first solid is the base and every later solid is removed from it.
// Every input is checked against the backend's manifold precondition
// first. All inputs are consumed, also on failure, and every intermediate
// result is released as soon as the next fold step supersedes it.
func (a *Adapter) Combine(op Op, hs []Handle) (out Handle, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k, err := a.kernel()
	if err != nil {
		return Handle{}, err
	}
	if len(hs) == 0 {
		return Handle{}, csgerr.New(csgerr.InvalidParameters, "%s needs at least one solid", op)
	}

	solids := make([]Solid, len(hs))
	seen := make(map[uint64]bool, len(hs))
	for i, h := range hs {
		if seen[h.id] {
			return Handle{}, csgerr.New(csgerr.InvalidHandle, "%s passed to %s twice", h, op)
		}
		seen[h.id] = true
		s, err := a.lookup(h)
		if err != nil {
			return Handle{}, err
		}
		solids[i] = s
	}
	for _, h := range hs {
		delete(a.live, h.id)
	}

	var acc Solid
	defer func() {
		for _, s := range solids {
			if err == nil && s == acc {
				continue
			}
			k.Release(s)
		}
		if err != nil && acc != nil && !contains(solids, acc) {
			k.Release(acc)
		}
	}()
	defer recoverAs(csgerr.BooleanOperationFailed, op.String(), &err)

	for i, s := range solids {
		if cerr := k.Check(s); cerr != nil {
			return Handle{}, csgerr.Wrap(csgerr.BooleanOperationFailed,
				csgerr.Wrap(csgerr.NonManifoldInput, cerr, "input %d", i), "%s", op)
		}
	}

	acc = solids[0]
	for _, s := range solids[1:] {
		var next Solid
		switch op {
		case OpUnion:
			next = k.Union(acc, s)
		case OpDifference:
			next = k.Difference(acc, s)
		case OpIntersection:
			next = k.Intersection(acc, s)
		default:
			return Handle{}, csgerr.New(csgerr.InvalidParameters, "unknown boolean %s", op)
		}
		if next != acc && !contains(solids, acc) {
			k.Release(acc)
		}
		acc = next
	}
	return a.register(acc), nil
}

func contains(ss []Solid, s Solid) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

// recoverAs converts a backend panic into a classified error.
func recoverAs(kind csgerr.Kind, what string, err *error) {
	if r := recover(); r != nil {
		*err = csgerr.New(kind, "%s: backend panic: %v", what, r)
	}
}

// ToMesh extracts the triangle mesh of the solid behind h without
// consuming it.
func (a *Adapter) ToMesh(h Handle) (m *Mesh, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	k, err := a.kernel()
	if err != nil {
		return nil, err
	}
	s, err := a.lookup(h)
	if err != nil {
		return nil, err
	}
	defer recoverAs(csgerr.ValidationFailed, "mesh extraction", &err)
	return k.ToMesh(s)
}

// BoundingBox returns the bounds of the solid behind h.
func (a *Adapter) BoundingBox(h Handle) (min, max [3]float64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.lookup(h)
	if err != nil {
		return min, max, err
	}
	min, max = s.BoundingBox()
	return min, max, nil
}

// Release frees the solid behind h. Releasing a handle twice, or releasing
// a consumed handle, is reported as InvalidHandle.
func (a *Adapter) Release(h Handle) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, err := a.lookup(h)
	if err != nil {
		return err
	}
	delete(a.live, h.id)
	if a.k != nil {
		a.k.Release(s)
	}
	return nil
}

// IsLive reports whether h may still be used.
func (a *Adapter) IsLive(h Handle) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.live[h.id]
	return ok
}

// Live returns the number of solids currently owned through handles.
func (a *Adapter) Live() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.live)
}

// Close releases every live solid and drops the backend. The adapter can be
// initialized again afterwards.
func (a *Adapter) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id, s := range a.live {
		if a.k != nil {
			a.k.Release(s)
		}
		delete(a.live, id)
	}
	a.k = nil
	a.loadErr = nil
	a.state = StateUninitialized
}
