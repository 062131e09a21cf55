package backend

import (
	"context"
	"errors"
	"image"
	"image/color"
	"testing"
)

func rgba(r, g, b, a uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: a}
}

// stubBackend is a registry test double; it never touches a real engine.
type stubBackend struct {
	name string
}

func (s *stubBackend) Name() string               { return s.name }
func (s *stubBackend) Capabilities() Capabilities { return Capabilities{} }
func (s *stubBackend) Load(ctx context.Context, b []byte) (Document, error) {
	return nil, &LoadError{Reason: "stub"}
}
func (s *stubBackend) Close() error { return nil }

func TestRegistryRegisterAndNew(t *testing.T) {
	Register("stub", func() (Backend, error) { return &stubBackend{name: "stub"}, nil })

	be, err := New("stub")
	if err != nil {
		t.Fatalf("New(stub) failed: %v", err)
	}
	if be.Name() != "stub" {
		t.Errorf("Expected backend name stub, got %s", be.Name())
	}

	found := false
	for _, name := range Available() {
		if name == "stub" {
			found = true
		}
	}
	if !found {
		t.Error("Registered backend missing from Available()")
	}
}

func TestRegistryUnknownBackend(t *testing.T) {
	_, err := New("no-such-engine")
	if err == nil {
		t.Fatal("Expected error for unknown backend, got nil")
	}
	var loadErr *LoadError
	if !errors.As(err, &loadErr) {
		t.Errorf("Expected *LoadError, got %T", err)
	}
}

func TestBuiltinBackendsRegistered(t *testing.T) {
	names := Available()
	for _, want := range []string{BackendFitz, BackendPDFium} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("Builtin backend %q not registered", want)
		}
	}
}

func TestIsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if !IsCancellation(ctx.Err()) {
		t.Error("context.Canceled should count as cancellation")
	}
	if IsCancellation(&RenderError{Page: 1, Err: errors.New("boom")}) {
		t.Error("RenderError should not count as cancellation")
	}
	if IsCancellation(nil) {
		t.Error("nil should not count as cancellation")
	}
}

func TestErrorTaxonomyUnwrap(t *testing.T) {
	inner := errors.New("native call failed")
	fme := &ForeignMemoryError{Op: "alloc", Err: inner}
	if !errors.Is(fme, inner) {
		t.Error("ForeignMemoryError should unwrap to the native error")
	}

	re := &RenderError{Page: 3, Err: inner}
	if !errors.Is(re, inner) {
		t.Error("RenderError should unwrap to the underlying error")
	}

	le := &LoadError{Reason: "corrupt header", Err: inner}
	if !errors.Is(le, inner) {
		t.Error("LoadError should unwrap to the underlying error")
	}
}

func TestReadbackTileOffset(t *testing.T) {
	// A 4x4 source with a distinctive pixel at (2,2); tiling at (2,2) should
	// land that pixel on the target origin.
	src := image.NewRGBA(image.Rect(0, 0, 4, 4))
	src.SetRGBA(2, 2, rgba(200, 10, 20, 255))

	target := image.NewRGBA(image.Rect(0, 0, 2, 2))
	tile := image.Rect(2, 2, 4, 4)
	readback(target, src, &tile)

	got := target.RGBAAt(0, 0)
	if got.R != 200 || got.G != 10 || got.B != 20 {
		t.Errorf("Tile readback misplaced pixel, got %+v", got)
	}
}

func TestReadbackFullPage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 3, 3))
	src.SetRGBA(1, 1, rgba(1, 2, 3, 255))

	target := image.NewRGBA(image.Rect(0, 0, 3, 3))
	readback(target, src, nil)

	got := target.RGBAAt(1, 1)
	if got.R != 1 || got.G != 2 || got.B != 3 {
		t.Errorf("Full-page readback corrupted pixel, got %+v", got)
	}
}
