package render

import (
	"sort"
	"sync"
	"time"
)

// PageRenderInfo records one rendered page for eviction accounting.
type PageRenderInfo struct {
	Page      int
	Target    *Target
	Scale     Scale
	Timestamp time.Time
	Rendered  bool
}

// renderedRecord adds a monotonic sequence so LRU ordering stays stable even
// when wall-clock timestamps collide.
type renderedRecord struct {
	info PageRenderInfo
	seq  uint64
}

// Virtualizer tracks which page placeholders intersect the viewport and
// enforces a bounded pages-alive budget via LRU eviction. Platform
// intersection observers are abstracted away: placeholders are registered by
// page index against a layout and visibility is recomputed from scroll
// offsets.
type Virtualizer struct {
	// OnVisible is fired once per page whose visibility flipped, after each
	// SetViewport. Called without internal locks held.
	OnVisible func(page int, visible bool)

	// OnEvict receives eviction candidates whenever the pages-alive budget
	// is exceeded. The receiver decides what releasing a page means.
	OnEvict func(pages []int)

	mu            sync.Mutex
	layout        *PageLayout
	rootMargin    float64
	observed      map[int]bool
	visible       map[int]bool
	rendered      map[int]*renderedRecord
	maxPagesAlive int
	seq           uint64
	disposed      bool
}

// NewVirtualizer begins observing placeholders laid out by layout.
// rootMargin extends the trigger region beyond the viewport so rendering
// starts slightly before a page scrolls into view.
func NewVirtualizer(layout *PageLayout, rootMargin float64, maxPagesAlive int) *Virtualizer {
	return &Virtualizer{
		layout:        layout,
		rootMargin:    rootMargin,
		observed:      make(map[int]bool),
		visible:       make(map[int]bool),
		rendered:      make(map[int]*renderedRecord),
		maxPagesAlive: maxPagesAlive,
	}
}

// Observe registers the placeholder for page. Only observed pages take part
// in visibility tracking.
func (v *Virtualizer) Observe(page int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.disposed || page < 0 || page >= v.layout.PageCount() {
		return
	}
	v.observed[page] = true
}

// Unobserve detaches the placeholder for page and forgets its visibility.
func (v *Virtualizer) Unobserve(page int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.observed, page)
	delete(v.visible, page)
}

// SetViewport recomputes visibility against the scroll position and fires
// OnVisible for every page whose state flipped.
func (v *Virtualizer) SetViewport(scrollTop, height float64) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	top := scrollTop - v.rootMargin
	bottom := scrollTop + height + v.rootMargin

	next := make(map[int]bool)
	for _, page := range v.layout.pagesIntersecting(top, bottom) {
		if v.observed[page] {
			next[page] = true
		}
	}

	type change struct {
		page    int
		visible bool
	}
	var changes []change
	for page := range next {
		if !v.visible[page] {
			changes = append(changes, change{page, true})
		}
	}
	for page := range v.visible {
		if !next[page] {
			changes = append(changes, change{page, false})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].page < changes[j].page })
	v.visible = next
	onVisible := v.OnVisible
	v.mu.Unlock()

	if onVisible != nil {
		for _, c := range changes {
			onVisible(c.page, c.visible)
		}
	}
}

// GetVisiblePages returns the pages currently intersecting the viewport,
// ascending.
func (v *Virtualizer) GetVisiblePages() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visiblePagesLocked()
}

func (v *Virtualizer) visiblePagesLocked() []int {
	pages := make([]int, 0, len(v.visible))
	for page := range v.visible {
		pages = append(pages, page)
	}
	sort.Ints(pages)
	return pages
}

// GetPrefetchPages returns the visible pages plus buffer pages immediately
// beyond the visible min and max, clamped to the document bounds.
func (v *Virtualizer) GetPrefetchPages(buffer int) []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	visible := v.visiblePagesLocked()
	if len(visible) == 0 {
		return nil
	}
	min, max := visible[0], visible[len(visible)-1]
	lo := min - buffer
	if lo < 0 {
		lo = 0
	}
	hi := max + buffer
	if last := v.layout.PageCount() - 1; hi > last {
		hi = last
	}
	pages := make([]int, 0, hi-lo+1)
	for page := lo; page <= hi; page++ {
		pages = append(pages, page)
	}
	return pages
}

// TrackRendered records a page as rendered and enforces the pages-alive
// budget.
func (v *Virtualizer) TrackRendered(info PageRenderInfo) {
	v.mu.Lock()
	if v.disposed {
		v.mu.Unlock()
		return
	}
	v.seq++
	v.rendered[info.Page] = &renderedRecord{info: info, seq: v.seq}
	v.mu.Unlock()
	v.enforce()
}

// UntrackRendered removes a rendered record without side effects, for
// externally-triggered unloads.
func (v *Virtualizer) UntrackRendered(page int) {
	v.mu.Lock()
	delete(v.rendered, page)
	v.mu.Unlock()
}

// RenderedInfo returns the tracked record for page, if any.
func (v *Virtualizer) RenderedInfo(page int) (PageRenderInfo, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.rendered[page]
	if !ok {
		return PageRenderInfo{}, false
	}
	return rec.info, true
}

// RenderedCount returns how many pages are tracked as rendered.
func (v *Virtualizer) RenderedCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.rendered)
}

// GetEvictionCandidates returns the least-recently-rendered pages beyond the
// budget that are not currently visible, oldest first. Visible pages are
// never candidates, so the live set may transiently exceed the budget while
// many pages are visible at once.
func (v *Virtualizer) GetEvictionCandidates() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.evictionCandidatesLocked()
}

func (v *Virtualizer) evictionCandidatesLocked() []int {
	excess := len(v.rendered) - v.maxPagesAlive
	if excess <= 0 {
		return nil
	}
	records := make([]*renderedRecord, 0, len(v.rendered))
	for page, rec := range v.rendered {
		if v.visible[page] {
			continue
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].seq < records[j].seq })
	if len(records) > excess {
		records = records[:excess]
	}
	pages := make([]int, len(records))
	for i, rec := range records {
		pages[i] = rec.info.Page
	}
	return pages
}

// SetMaxPagesAlive updates the budget and re-enforces it immediately.
func (v *Virtualizer) SetMaxPagesAlive(n int) {
	v.mu.Lock()
	v.maxPagesAlive = n
	v.mu.Unlock()
	v.enforce()
}

func (v *Virtualizer) enforce() {
	v.mu.Lock()
	candidates := v.evictionCandidatesLocked()
	onEvict := v.OnEvict
	v.mu.Unlock()
	if len(candidates) > 0 && onEvict != nil {
		onEvict(candidates)
	}
}

// Dispose stops observing and clears all tracked state.
func (v *Virtualizer) Dispose() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.observed = make(map[int]bool)
	v.visible = make(map[int]bool)
	v.rendered = make(map[int]*renderedRecord)
	v.disposed = true
}
