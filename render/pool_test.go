package render

import "testing"

func TestPoolAcquireRelease(t *testing.T) {
	pool := NewCanvasPool()

	a := pool.Acquire()
	b := pool.Acquire()
	if a.State() != TargetInUse || b.State() != TargetInUse {
		t.Fatal("Acquired targets should be InUse")
	}
	if pool.InUseCount() != 2 {
		t.Errorf("Expected 2 targets in use, got %d", pool.InUseCount())
	}

	pool.Release(a)
	if a.State() != TargetFree {
		t.Error("Released target should be Free")
	}
	if pool.InUseCount() != 1 {
		t.Errorf("Expected 1 target in use after release, got %d", pool.InUseCount())
	}
}

func TestPoolReleaseClearsSurface(t *testing.T) {
	pool := NewCanvasPool()
	target := pool.Acquire()
	target.SetSize(100, 200)
	if target.Image() == nil {
		t.Fatal("SetSize should allocate a raster")
	}

	pool.Release(target)
	if target.Width() != 0 || target.Height() != 0 {
		t.Errorf("Released target should have zero dimensions, got %dx%d", target.Width(), target.Height())
	}
	if target.Image() != nil {
		t.Error("Released target should hold no pixel buffer")
	}
}

func TestPoolReleaseIdempotent(t *testing.T) {
	pool := NewCanvasPool()
	target := pool.Acquire()
	pool.Release(target)
	pool.Release(target) // second release is a no-op
	pool.Release(&Target{})

	// The double-released target must only be pooled once.
	first := pool.Acquire()
	second := pool.Acquire()
	if first == second {
		t.Error("Double release put the same target in the pool twice")
	}
}

func TestPoolRecyclesTargets(t *testing.T) {
	pool := NewCanvasPool()
	target := pool.Acquire()
	pool.Release(target)
	if got := pool.Acquire(); got != target {
		t.Error("Expected the pooled target to be reused")
	}
}

func TestPoolEstimateMemory(t *testing.T) {
	pool := NewCanvasPool()
	a := pool.Acquire()
	a.SetSize(100, 100)
	b := pool.Acquire()
	b.SetSize(50, 10)

	want := int64(100*100*4 + 50*10*4)
	if got := pool.EstimateMemory(); got != want {
		t.Errorf("EstimateMemory = %d, want %d", got, want)
	}

	pool.Release(a)
	want = int64(50 * 10 * 4)
	if got := pool.EstimateMemory(); got != want {
		t.Errorf("EstimateMemory after release = %d, want %d", got, want)
	}
}

func TestPoolDispose(t *testing.T) {
	pool := NewCanvasPool()
	a := pool.Acquire()
	a.SetSize(10, 10)
	b := pool.Acquire()
	pool.Release(b)

	pool.Dispose()
	if a.Image() != nil {
		t.Error("Dispose should clear in-use targets too")
	}
	if pool.InUseCount() != 0 {
		t.Error("Dispose should drop all tracked targets")
	}
	if pool.EstimateMemory() != 0 {
		t.Error("Disposed pool should report zero memory")
	}
}

func TestPoolInUseNeverExceedsUnmatchedAcquires(t *testing.T) {
	pool := NewCanvasPool()
	var held []*Target
	unmatched := 0
	for i := 0; i < 50; i++ {
		if i%3 == 2 && len(held) > 0 {
			pool.Release(held[len(held)-1])
			held = held[:len(held)-1]
			unmatched--
		} else {
			held = append(held, pool.Acquire())
			unmatched++
		}
		if pool.InUseCount() > unmatched {
			t.Fatalf("InUse count %d exceeds unmatched acquires %d", pool.InUseCount(), unmatched)
		}
	}
}
