package render

import "sync"

// CanvasPool recycles raster surfaces so scrolling does not churn through
// large pixel allocations. The pool is the sole owner of every Target it
// ever created; Acquire lends one out and Release reclaims it.
type CanvasPool struct {
	mu       sync.Mutex
	free     []*Target
	inUse    map[*Target]struct{}
	disposed bool
}

// NewCanvasPool creates an empty pool. Targets are allocated lazily on first
// acquire.
func NewCanvasPool() *CanvasPool {
	return &CanvasPool{inUse: make(map[*Target]struct{})}
}

// Acquire returns a pooled target if one is free, otherwise allocates a new
// one. The target is marked InUse. Acquire always succeeds; the memory bound
// is enforced by eviction, not by refusing surfaces.
func (p *CanvasPool) Acquire() *Target {
	p.mu.Lock()
	defer p.mu.Unlock()
	var t *Target
	if n := len(p.free); n > 0 {
		t = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		t = &Target{}
	}
	t.state = TargetInUse
	p.inUse[t] = struct{}{}
	return t
}

// Release reclaims a target: pixel contents are cleared and the surface
// shrinks to zero dimensions before pooling. Releasing a target that is not
// currently InUse is a no-op, so double releases on page unload are safe.
func (p *CanvasPool) Release(t *Target) {
	if t == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.disposed {
		return
	}
	if _, ok := p.inUse[t]; !ok {
		return
	}
	delete(p.inUse, t)
	t.clear()
	t.state = TargetFree
	p.free = append(p.free, t)
}

// EstimateMemory approximates the bytes held by on-loan surfaces as
// width×height×4 (RGBA) per target. Pooled surfaces hold no pixels so they
// do not count. This is an estimate, not an exact accounting.
func (p *CanvasPool) EstimateMemory() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	var total int64
	for t := range p.inUse {
		total += int64(t.Width()) * int64(t.Height()) * 4
	}
	return total
}

// InUseCount returns how many targets are currently on loan.
func (p *CanvasPool) InUseCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// Dispose clears and drops every tracked target, pooled and in-use alike.
// The pool must not be used afterwards.
func (p *CanvasPool) Dispose() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for t := range p.inUse {
		t.clear()
		t.state = TargetFree
	}
	for _, t := range p.free {
		t.clear()
	}
	p.inUse = make(map[*Target]struct{})
	p.free = nil
	p.disposed = true
}
