package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chazu/scadcsg/pkg/csgerr"
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
)

func stubLoader(k Kernel) Loader {
	return func(context.Context) (Kernel, error) { return k, nil }
}

func readyAdapter(t *testing.T) (*Adapter, *stubKernel) {
	t.Helper()
	k := newStubKernel()
	a := NewAdapter("stub", stubLoader(k))
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	return a, k
}

func box(t *testing.T, a *Adapter, x, y, z float64) Handle {
	t.Helper()
	h, err := a.CreatePrimitive(PrimBox, PrimitiveParams{Size: [3]float64{x, y, z}})
	if err != nil {
		t.Fatalf("CreatePrimitive(box) error = %v", err)
	}
	return h
}

func TestAdapterNotReady(t *testing.T) {
	a := NewAdapter("stub", stubLoader(newStubKernel()))
	if a.State() != StateUninitialized {
		t.Fatalf("State() = %s, want uninitialized", a.State())
	}
	_, err := a.CreatePrimitive(PrimBox, PrimitiveParams{Size: [3]float64{1, 1, 1}})
	if !errors.Is(err, csgerr.KernelNotReady) {
		t.Fatalf("CreatePrimitive before Initialize error = %v, want KernelNotReady", err)
	}
}

func TestConcurrentInitializeLoadsOnce(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})
	k := newStubKernel()
	a := NewAdapter("stub", func(context.Context) (Kernel, error) {
		calls.Add(1)
		<-gate
		return k, nil
	})

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = a.Initialize(context.Background())
		}(i)
	}
	// Let the first caller reach the loader before opening the gate.
	for calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	close(gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Initialize() error = %v", i, err)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("loader ran %d times, want 1", got)
	}
	if a.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", a.Loads())
	}
	if a.State() != StateReady {
		t.Errorf("State() = %s, want ready", a.State())
	}

	// A ready adapter does not load again.
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("loader ran %d times after re-initialize, want 1", got)
	}
}

func TestFailedLoadIsTerminalUntilRetry(t *testing.T) {
	boom := errors.New("wasm fetch failed")
	attempt := 0
	k := newStubKernel()
	a := NewAdapter("stub", func(context.Context) (Kernel, error) {
		attempt++
		if attempt == 1 {
			return nil, boom
		}
		return k, nil
	})

	err := a.Initialize(context.Background())
	if !errors.Is(err, csgerr.KernelLoadFailed) {
		t.Fatalf("Initialize() error = %v, want KernelLoadFailed", err)
	}
	if !errors.Is(err, boom) {
		t.Errorf("Initialize() error = %v, want it to wrap the loader error", err)
	}
	if a.State() != StateFailed {
		t.Fatalf("State() = %s, want failed", a.State())
	}
	if !errors.Is(a.LoadErr(), boom) {
		t.Errorf("LoadErr() = %v, want the loader error", a.LoadErr())
	}

	_, err = a.CreatePrimitive(PrimBox, PrimitiveParams{Size: [3]float64{1, 1, 1}})
	if !errors.Is(err, csgerr.KernelLoadFailed) {
		t.Errorf("CreatePrimitive on failed adapter error = %v, want KernelLoadFailed", err)
	}

	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("retry Initialize() error = %v", err)
	}
	if a.State() != StateReady || a.Loads() != 2 {
		t.Errorf("after retry State() = %s, Loads() = %d; want ready, 2", a.State(), a.Loads())
	}
	if a.LoadErr() != nil {
		t.Errorf("LoadErr() = %v after a successful retry", a.LoadErr())
	}
}

func TestLoaderPanicIsLoadFailure(t *testing.T) {
	a := NewAdapter("stub", func(context.Context) (Kernel, error) {
		panic("bad module")
	})
	if err := a.Initialize(context.Background()); !errors.Is(err, csgerr.KernelLoadFailed) {
		t.Fatalf("Initialize() error = %v, want KernelLoadFailed", err)
	}
}

func TestNilKernelIsLoadFailure(t *testing.T) {
	a := NewAdapter("stub", func(context.Context) (Kernel, error) { return nil, nil })
	if err := a.Initialize(context.Background()); !errors.Is(err, csgerr.KernelLoadFailed) {
		t.Fatalf("Initialize() error = %v, want KernelLoadFailed", err)
	}
}

func TestInitializeContextCancel(t *testing.T) {
	gate := make(chan struct{})
	entered := make(chan struct{})
	k := newStubKernel()
	a := NewAdapter("stub", func(context.Context) (Kernel, error) {
		close(entered)
		<-gate
		return k, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Initialize(ctx) }()
	<-entered
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Initialize() error = %v, want context.Canceled", err)
	}

	// The load keeps running and a later caller sees it finish.
	close(gate)
	if err := a.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() after cancel error = %v", err)
	}
	if a.Loads() != 1 {
		t.Errorf("Loads() = %d, want 1", a.Loads())
	}
}

func TestCreatePrimitiveValidation(t *testing.T) {
	a, _ := readyAdapter(t)
	tests := []struct {
		name string
		kind PrimitiveKind
		p    PrimitiveParams
		ok   bool
	}{
		{"box", PrimBox, PrimitiveParams{Size: [3]float64{1, 2, 3}}, true},
		{"box zero", PrimBox, PrimitiveParams{Size: [3]float64{1, 0, 3}}, false},
		{"box negative", PrimBox, PrimitiveParams{Size: [3]float64{-1, 2, 3}}, false},
		{"sphere", PrimSphere, PrimitiveParams{Radius: 1, Segments: 8}, true},
		{"sphere zero radius", PrimSphere, PrimitiveParams{Radius: 0, Segments: 8}, false},
		{"sphere two segments", PrimSphere, PrimitiveParams{Radius: 1, Segments: 2}, false},
		{"cylinder", PrimCylinder, PrimitiveParams{Height: 2, R1: 1, R2: 1, Segments: 8}, true},
		{"cone", PrimCylinder, PrimitiveParams{Height: 2, R1: 1, R2: 0, Segments: 8}, true},
		{"cylinder no radius", PrimCylinder, PrimitiveParams{Height: 2, Segments: 8}, false},
		{"cylinder negative radius", PrimCylinder, PrimitiveParams{Height: 2, R1: -1, R2: 1, Segments: 8}, false},
		{"cylinder zero height", PrimCylinder, PrimitiveParams{R1: 1, R2: 1, Segments: 8}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := a.CreatePrimitive(tt.kind, tt.p)
			if tt.ok {
				if err != nil {
					t.Fatalf("CreatePrimitive() error = %v", err)
				}
				if !a.IsLive(h) {
					t.Error("new handle is not live")
				}
				return
			}
			if !errors.Is(err, csgerr.InvalidParameters) {
				t.Fatalf("CreatePrimitive() error = %v, want InvalidParameters", err)
			}
		})
	}
}

func TestDoubleReleaseIsInvalidHandle(t *testing.T) {
	a, k := readyAdapter(t)
	h := box(t, a, 1, 1, 1)
	if err := a.Release(h); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if err := a.Release(h); !errors.Is(err, csgerr.InvalidHandle) {
		t.Fatalf("second Release() error = %v, want InvalidHandle", err)
	}
	if _, released, doubles := k.counts(); released != 1 || doubles != 0 {
		t.Errorf("backend released %d (doubles %d), want 1 (0)", released, doubles)
	}
}

func TestForeignHandleIsInvalid(t *testing.T) {
	a, _ := readyAdapter(t)
	if _, err := a.ToMesh(Handle{id: 99}); !errors.Is(err, csgerr.InvalidHandle) {
		t.Errorf("ToMesh(unissued) error = %v, want InvalidHandle", err)
	}
	if _, err := a.ToMesh(Handle{}); !errors.Is(err, csgerr.InvalidHandle) {
		t.Errorf("ToMesh(zero) error = %v, want InvalidHandle", err)
	}
}

func TestTransformConsumesInput(t *testing.T) {
	a, k := readyAdapter(t)
	h := box(t, a, 1, 1, 1)
	moved, err := a.Transform(h, sdf.Translate3d(v3.Vec{X: 10}))
	if err != nil {
		t.Fatalf("Transform() error = %v", err)
	}
	if a.IsLive(h) {
		t.Error("input handle still live after Transform")
	}
	if _, err := a.Transform(h, sdf.Identity3d()); !errors.Is(err, csgerr.InvalidHandle) {
		t.Errorf("Transform(consumed) error = %v, want InvalidHandle", err)
	}
	min, _, err := a.BoundingBox(moved)
	if err != nil {
		t.Fatal(err)
	}
	if min[0] != 10 {
		t.Errorf("moved min x = %f, want 10", min[0])
	}
	if _, released, _ := k.counts(); released != 1 {
		t.Errorf("backend released %d solids, want 1", released)
	}
	if a.Live() != 1 {
		t.Errorf("Live() = %d, want 1", a.Live())
	}
}

func TestCombineReleasesIntermediates(t *testing.T) {
	for _, op := range []Op{OpUnion, OpDifference, OpIntersection} {
		t.Run(op.String(), func(t *testing.T) {
			a, k := readyAdapter(t)
			var hs []Handle
			for i := 0; i < 4; i++ {
				h := box(t, a, 1, 1, 1)
				h, err := a.Transform(h, sdf.Translate3d(v3.Vec{X: float64(i)}))
				if err != nil {
					t.Fatal(err)
				}
				hs = append(hs, h)
			}
			_, releasedBefore, _ := k.counts()

			out, err := a.Combine(op, hs)
			if err != nil {
				t.Fatalf("Combine() error = %v", err)
			}
			for i, h := range hs {
				if a.IsLive(h) {
					t.Errorf("input %d still live after Combine", i)
				}
			}
			if a.Live() != 1 {
				t.Errorf("Live() = %d, want 1", a.Live())
			}
			// Four inputs and the two superseded partial results.
			_, released, doubles := k.counts()
			if got := released - releasedBefore; got != 6 {
				t.Errorf("Combine released %d solids, want 6", got)
			}
			if doubles != 0 {
				t.Errorf("backend saw %d double releases", doubles)
			}
			_, max, err := a.BoundingBox(out)
			if err != nil {
				t.Fatal(err)
			}
			if max[0] != 4 {
				t.Errorf("result max x = %f, want 4", max[0])
			}

			if err := a.Release(out); err != nil {
				t.Fatal(err)
			}
			created, released, _ := k.counts()
			if created != released {
				t.Errorf("created %d solids but released %d", created, released)
			}
		})
	}
}

func TestCombineSingleInputPassesThrough(t *testing.T) {
	a, k := readyAdapter(t)
	h := box(t, a, 2, 2, 2)
	out, err := a.Combine(OpUnion, []Handle{h})
	if err != nil {
		t.Fatalf("Combine() error = %v", err)
	}
	if a.IsLive(h) || !a.IsLive(out) {
		t.Errorf("IsLive(input) = %v, IsLive(output) = %v; want false, true", a.IsLive(h), a.IsLive(out))
	}
	if _, released, _ := k.counts(); released != 0 {
		t.Errorf("released %d solids, want 0", released)
	}
}

func TestCombineNonManifoldInput(t *testing.T) {
	a, k := readyAdapter(t)
	good := box(t, a, 1, 1, 1)
	bad := box(t, a, 1, 1, 1)
	a.mu.Lock()
	a.live[bad.id].(*stubSolid).bad = true
	a.mu.Unlock()

	_, err := a.Combine(OpUnion, []Handle{good, bad})
	if !errors.Is(err, csgerr.BooleanOperationFailed) {
		t.Fatalf("Combine() error = %v, want BooleanOperationFailed", err)
	}
	if !errors.Is(err, csgerr.NonManifoldInput) {
		t.Errorf("Combine() error = %v, want NonManifoldInput in the chain", err)
	}
	if a.Live() != 0 {
		t.Errorf("Live() = %d, want 0", a.Live())
	}
	created, released, _ := k.counts()
	if created != released {
		t.Errorf("created %d solids but released %d", created, released)
	}
}

func TestCombineBackendPanic(t *testing.T) {
	a, k := readyAdapter(t)
	hs := []Handle{box(t, a, 1, 1, 1), box(t, a, 1, 1, 1)}
	k.panicOnOp = true
	_, err := a.Combine(OpDifference, hs)
	if !errors.Is(err, csgerr.BooleanOperationFailed) {
		t.Fatalf("Combine() error = %v, want BooleanOperationFailed", err)
	}
	if a.Live() != 0 {
		t.Errorf("Live() = %d, want 0", a.Live())
	}
	if _, released, _ := k.counts(); released != 2 {
		t.Errorf("released %d solids, want 2", released)
	}
}

func TestCombineRejectsBadHandlesBeforeConsuming(t *testing.T) {
	a, _ := readyAdapter(t)
	h1 := box(t, a, 1, 1, 1)
	h2 := box(t, a, 1, 1, 1)

	tests := []struct {
		name string
		hs   []Handle
		kind csgerr.Kind
	}{
		{"empty", nil, csgerr.InvalidParameters},
		{"duplicate", []Handle{h1, h1}, csgerr.InvalidHandle},
		{"unissued", []Handle{h1, {id: 1000}}, csgerr.InvalidHandle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Combine(OpUnion, tt.hs); !errors.Is(err, tt.kind) {
				t.Fatalf("Combine() error = %v, want %s", err, tt.kind)
			}
			if !a.IsLive(h1) || !a.IsLive(h2) {
				t.Error("rejected Combine consumed its inputs")
			}
		})
	}
}

func TestToMeshDoesNotConsume(t *testing.T) {
	a, _ := readyAdapter(t)
	h := box(t, a, 1, 1, 1)
	m, err := a.ToMesh(h)
	if err != nil {
		t.Fatalf("ToMesh() error = %v", err)
	}
	if m.TriangleCount() != 1 {
		t.Errorf("TriangleCount() = %d, want 1", m.TriangleCount())
	}
	if !a.IsLive(h) {
		t.Error("ToMesh consumed its handle")
	}
}

func TestCloseReleasesEverything(t *testing.T) {
	a, k := readyAdapter(t)
	for i := 0; i < 3; i++ {
		box(t, a, 1, 1, 1)
	}
	a.Close()
	if a.Live() != 0 {
		t.Errorf("Live() = %d after Close, want 0", a.Live())
	}
	if _, released, _ := k.counts(); released != 3 {
		t.Errorf("released %d solids, want 3", released)
	}
	if a.State() != StateUninitialized {
		t.Errorf("State() = %s after Close, want uninitialized", a.State())
	}
}

func TestConcurrentPrimitives(t *testing.T) {
	a, _ := readyAdapter(t)
	var wg sync.WaitGroup
	const n = 32
	handles := make([]Handle, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := a.CreatePrimitive(PrimSphere, PrimitiveParams{Radius: float64(i + 1), Segments: 8})
			if err != nil {
				t.Errorf("CreatePrimitive() error = %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	seen := make(map[Handle]bool)
	for _, h := range handles {
		if seen[h] {
			t.Fatalf("handle %s issued twice", h)
		}
		seen[h] = true
	}
	if a.Live() != n {
		t.Errorf("Live() = %d, want %d", a.Live(), n)
	}
}

func TestStateAndHandleStrings(t *testing.T) {
	tests := []struct {
		got  fmt.Stringer
		want string
	}{
		{StateUninitialized, "uninitialized"},
		{StateLoading, "loading"},
		{StateReady, "ready"},
		{StateFailed, "failed"},
		{Handle{id: 7}, "solid#7"},
		{PrimCylinder, "cylinder"},
		{OpIntersection, "intersection"},
	}
	for _, tt := range tests {
		if got := tt.got.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
