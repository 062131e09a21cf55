package render

import (
	"context"
	"errors"
	"image"
	"math"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/drummonds/goview/render/backend"
)

// Config tunes one Viewer instance.
type Config struct {
	MaxConcurrency   int     // simultaneous backend renders (default 2)
	MaxPagesAlive    int     // rendered pages kept before eviction (default 10)
	PrefetchBuffer   int     // pages rendered beyond the viewport (default 2)
	RootMargin       float64 // px the visibility trigger region extends (default 200)
	DevicePixelRatio float64 // host display density (default 1)
	PageGap          float64 // px between page placeholders (default 16)
	ThumbnailWidth   int     // px width of generated thumbnails (default 160)
	ZoomDelta        float64 // zoom movement needed to re-rasterize (default 0.4)
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 2
	}
	if c.MaxPagesAlive <= 0 {
		c.MaxPagesAlive = 10
	}
	if c.PrefetchBuffer < 0 {
		c.PrefetchBuffer = 2
	}
	if c.RootMargin <= 0 {
		c.RootMargin = 200
	}
	if c.DevicePixelRatio <= 0 {
		c.DevicePixelRatio = 1
	}
	if c.PageGap <= 0 {
		c.PageGap = 16
	}
	if c.ThumbnailWidth <= 0 {
		c.ThumbnailWidth = 160
	}
	return c
}

// ViewerStats is a snapshot of a viewer's resource usage.
type ViewerStats struct {
	Queued     int   `json:"queued"`
	Running    int   `json:"running"`
	PagesAlive int   `json:"pagesAlive"`
	PoolBytes  int64 `json:"poolBytes"`
	Visible    []int `json:"visible"`
}

// ErrNoDocument is returned by operations that need a loaded document.
var ErrNoDocument = errors.New("no document loaded")

// Viewer is the orchestrator: it wires viewport visibility to the canvas
// pool and render queue, zoom changes to re-rasterization, and eviction back
// to the pool. One Viewer owns one backend handle and at most one open
// document.
type Viewer struct {
	// OnPageRendered, when set, is invoked after each successful page
	// render. Useful for pushing repaint notifications to a UI.
	OnPageRendered func(PageRenderInfo)

	mu           sync.Mutex
	cfg          Config
	be           backend.Backend
	doc          backend.Document
	sizes        []backend.PageSize
	layout       *PageLayout
	pool         *CanvasPool
	queue        *Queue
	virt         *Virtualizer
	zoom         *ZoomManager
	targets      map[int]*Target
	thumbWaiters map[int][]chan error
	disposed     bool
}

// NewViewer creates a viewer that renders through be. The viewer takes
// ownership of the backend handle and closes it on Dispose.
func NewViewer(be backend.Backend, cfg Config) *Viewer {
	return &Viewer{
		cfg:          cfg.withDefaults(),
		be:           be,
		pool:         NewCanvasPool(),
		targets:      make(map[int]*Target),
		thumbWaiters: make(map[int][]chan error),
	}
}

// Load parses documentBytes and prepares the page layout. Page sizes are
// fetched once here and are stable for the document's lifetime. Loading a
// new document closes the previous one first.
func (v *Viewer) Load(ctx context.Context, documentBytes []byte) error {
	v.closeDocument()

	doc, err := v.be.Load(ctx, documentBytes)
	if err != nil {
		return err
	}

	count := doc.PageCount()
	sizes := make([]backend.PageSize, count)
	for i := 0; i < count; i++ {
		sizes[i], err = doc.PageSize(i)
		if err != nil {
			doc.Close()
			return &backend.LoadError{Reason: "unable to size pages", Err: err}
		}
	}

	v.mu.Lock()
	v.doc = doc
	v.sizes = sizes
	v.layout = NewPageLayout(sizes, v.cfg.PageGap)

	virt := NewVirtualizer(v.layout, v.cfg.RootMargin, v.cfg.MaxPagesAlive)
	virt.OnVisible = v.handleVisibility
	virt.OnEvict = v.handleEviction
	v.virt = virt

	queue := NewQueue(v.renderTask, v.cfg.MaxConcurrency)
	queue.OnSettled = v.handleSettled
	v.queue = queue

	v.zoom = NewZoomManager(v.cfg.DevicePixelRatio, v.handleZoomChange)
	if v.cfg.ZoomDelta > 0 {
		v.zoom.SetZoomDelta(v.cfg.ZoomDelta)
	}
	v.mu.Unlock()

	for i := 0; i < count; i++ {
		virt.Observe(i)
	}

	Logger.Info("Document loaded", "backend", v.be.Name(), "pages", count)
	return nil
}

// PageCount returns the loaded document's page count, or zero.
func (v *Viewer) PageCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.sizes)
}

// PageSize returns the size of page i in points.
func (v *Viewer) PageSize(i int) (backend.PageSize, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if i < 0 || i >= len(v.sizes) {
		return backend.PageSize{}, ErrNoDocument
	}
	return v.sizes[i], nil
}

// Layout returns the page layout, or nil before a document loads.
func (v *Viewer) Layout() *PageLayout {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.layout
}

// SetViewport feeds a scroll position (CSS pixels) into the virtualizer.
// Newly visible pages get surfaces and Visible-priority renders; pages that
// scrolled away release their surfaces and become eviction candidates. A
// jump with no overlap against the previous visible set sheds stale
// queued prefetch work.
func (v *Viewer) SetViewport(scrollTop, height float64) {
	v.mu.Lock()
	virt, queue, zoom := v.virt, v.queue, v.zoom
	v.mu.Unlock()
	if virt == nil {
		return
	}

	// Placeholders are laid out at zoom 1.0; undo the transient transform.
	cssZoom := zoom.Zoom()
	prev := virt.GetVisiblePages()
	virt.SetViewport(scrollTop/cssZoom, height/cssZoom)
	curr := virt.GetVisiblePages()

	if len(prev) > 0 && len(curr) > 0 && !overlaps(prev, curr) {
		Logger.Debug("Viewport jump, shedding queued prefetch work", "from", prev, "to", curr)
		queue.CancelLowPriority(PriorityVisible)
	}

	v.enqueuePrefetch()
}

// VisiblePages returns the pages currently in the viewport.
func (v *Viewer) VisiblePages() []int {
	v.mu.Lock()
	virt := v.virt
	v.mu.Unlock()
	if virt == nil {
		return nil
	}
	return virt.GetVisiblePages()
}

// PrefetchPages returns the visible pages plus the configured buffer.
func (v *Viewer) PrefetchPages() []int {
	v.mu.Lock()
	virt := v.virt
	buffer := v.cfg.PrefetchBuffer
	v.mu.Unlock()
	if virt == nil {
		return nil
	}
	return virt.GetPrefetchPages(buffer)
}

// Zoom returns the current transient cssZoom.
func (v *Viewer) Zoom() float64 {
	if z := v.zoomManager(); z != nil {
		return z.Zoom()
	}
	return 1.0
}

// Scale returns the full current render scale.
func (v *Viewer) Scale() Scale {
	if z := v.zoomManager(); z != nil {
		return z.Scale()
	}
	return Scale{CSSZoom: 1, DevicePixelRatio: 1, BaseRasterScale: 1}
}

// SetZoom applies a transient zoom; re-rasterization follows once the
// gesture settles.
func (v *Viewer) SetZoom(zoom float64) {
	if z := v.zoomManager(); z != nil {
		z.SetZoom(zoom)
	}
}

// RestoreScale reinstates a persisted base raster scale, so a reopened
// document rasterizes at the sharpness it was closed at.
func (v *Viewer) RestoreScale(baseRasterScale float64) {
	if z := v.zoomManager(); z != nil {
		z.RestoreScale(baseRasterScale)
	}
}

// ZoomIn zooms in one step.
func (v *Viewer) ZoomIn() {
	if z := v.zoomManager(); z != nil {
		z.ZoomIn()
	}
}

// ZoomOut zooms out one step.
func (v *Viewer) ZoomOut() {
	if z := v.zoomManager(); z != nil {
		z.ZoomOut()
	}
}

// FitToWidth fits the first visible page (or page 0) to containerWidth.
func (v *Viewer) FitToWidth(containerWidth float64) {
	z := v.zoomManager()
	if z == nil {
		return
	}
	page := 0
	if visible := v.VisiblePages(); len(visible) > 0 {
		page = visible[0]
	}
	size, err := v.PageSize(page)
	if err != nil {
		return
	}
	z.ResetToFit(size.WidthPt, containerWidth)
}

// ForceReraster folds any transient zoom immediately.
func (v *Viewer) ForceReraster() {
	if z := v.zoomManager(); z != nil {
		z.ForceReraster()
	}
}

func (v *Viewer) zoomManager() *ZoomManager {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.zoom
}

// RenderedPage returns the live raster for page, or false while the page is
// unrendered, superseded or evicted.
func (v *Viewer) RenderedPage(page int) (*image.RGBA, bool) {
	v.mu.Lock()
	virt := v.virt
	target := v.targets[page]
	v.mu.Unlock()
	if virt == nil || target == nil {
		return nil, false
	}
	info, ok := virt.RenderedInfo(page)
	if !ok || !info.Rendered {
		return nil, false
	}
	img := target.Image()
	if img == nil {
		return nil, false
	}
	return img, true
}

// TextRuns extracts the positioned text for page, for the selection layer.
func (v *Viewer) TextRuns(ctx context.Context, page int) ([]backend.TextRun, error) {
	v.mu.Lock()
	doc := v.doc
	v.mu.Unlock()
	if doc == nil {
		return nil, ErrNoDocument
	}
	if !v.be.Capabilities().TextRuns {
		return nil, nil
	}
	return doc.TextRuns(ctx, page)
}

// Thumbnail renders a small preview of page. Visible pages are downscaled
// from their live raster; others get a one-off Thumbnail-priority render on
// a borrowed surface that is returned to the pool before this call returns.
func (v *Viewer) Thumbnail(ctx context.Context, page int) (image.Image, error) {
	v.mu.Lock()
	doc, queue, pool := v.doc, v.queue, v.pool
	var width float64
	if page >= 0 && page < len(v.sizes) {
		width = v.sizes[page].WidthPt
	}
	thumbWidth := v.cfg.ThumbnailWidth
	v.mu.Unlock()
	if doc == nil {
		return nil, ErrNoDocument
	}
	if width <= 0 {
		return nil, &backend.RenderError{Page: page, Err: ErrNoDocument}
	}

	if img, ok := v.RenderedPage(page); ok {
		return thumbnailOf(img, thumbWidth), nil
	}

	target := pool.Acquire()
	defer pool.Release(target)

	done := make(chan error, 1)
	v.mu.Lock()
	v.thumbWaiters[page] = append(v.thumbWaiters[page], done)
	v.mu.Unlock()

	scale := Scale{CSSZoom: 1, DevicePixelRatio: 1, BaseRasterScale: float64(thumbWidth) / width}
	cancel := queue.Enqueue(page, scale, target, PriorityThumbnail, nil)

	select {
	case err := <-done:
		if err != nil {
			// Superseded by a full render of the same page; use the live
			// raster when it already landed.
			if live, ok := v.RenderedPage(page); ok {
				return thumbnailOf(live, thumbWidth), nil
			}
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	img := target.Image()
	if img == nil {
		return nil, &backend.RenderError{Page: page, Err: errors.New("thumbnail render produced no raster")}
	}
	return thumbnailOf(img, thumbWidth), nil
}

// RenderOnce renders page at the current scale and returns a detached copy
// of the raster. Live rasters are copied directly; other pages get a one-off
// background render on a borrowed surface, like Thumbnail but full size.
func (v *Viewer) RenderOnce(ctx context.Context, page int) (image.Image, error) {
	v.mu.Lock()
	doc, queue, pool, zoom := v.doc, v.queue, v.pool, v.zoom
	v.mu.Unlock()
	if doc == nil {
		return nil, ErrNoDocument
	}

	if img, ok := v.RenderedPage(page); ok {
		return imaging.Clone(img), nil
	}

	target := pool.Acquire()
	defer pool.Release(target)

	done := make(chan error, 1)
	v.mu.Lock()
	v.thumbWaiters[page] = append(v.thumbWaiters[page], done)
	v.mu.Unlock()

	cancel := queue.Enqueue(page, zoom.Scale(), target, PriorityThumbnail, nil)

	select {
	case err := <-done:
		if err != nil {
			if live, ok := v.RenderedPage(page); ok {
				return imaging.Clone(live), nil
			}
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}

	img := target.Image()
	if img == nil {
		return nil, &backend.RenderError{Page: page, Err: errors.New("render produced no raster")}
	}
	return imaging.Clone(img), nil
}

// thumbnailOf downscales a page raster to the thumbnail width and sharpens
// it slightly so shrunken text stays legible.
func thumbnailOf(img image.Image, width int) image.Image {
	return imaging.Sharpen(imaging.Resize(img, width, 0, imaging.Lanczos), 0.5)
}

// Stats returns a snapshot of queue occupancy and memory usage.
func (v *Viewer) Stats() ViewerStats {
	v.mu.Lock()
	queue, virt, pool := v.queue, v.virt, v.pool
	v.mu.Unlock()
	stats := ViewerStats{}
	if pool != nil {
		stats.PoolBytes = pool.EstimateMemory()
	}
	if queue != nil {
		qs := queue.Stats()
		stats.Queued, stats.Running = qs.Queued, qs.Running
	}
	if virt != nil {
		stats.PagesAlive = virt.RenderedCount()
		stats.Visible = virt.GetVisiblePages()
	}
	return stats
}

// SetMaxConcurrency adjusts the render budget at runtime.
func (v *Viewer) SetMaxConcurrency(n int) {
	v.mu.Lock()
	queue := v.queue
	v.mu.Unlock()
	if queue != nil {
		queue.SetMaxConcurrency(n)
	}
}

// SetMaxPagesAlive adjusts the eviction budget at runtime.
func (v *Viewer) SetMaxPagesAlive(n int) {
	v.mu.Lock()
	virt := v.virt
	v.mu.Unlock()
	if virt != nil {
		virt.SetMaxPagesAlive(n)
	}
}

// Dispose tears the viewer down: pending work is cancelled, every surface is
// dropped, and the document and backend handle are closed. The viewer must
// not be used afterwards.
func (v *Viewer) Dispose() {
	v.closeDocument()
	v.mu.Lock()
	pool := v.pool
	v.disposed = true
	v.mu.Unlock()
	pool.Dispose()
	if err := v.be.Close(); err != nil {
		Logger.Error("Backend close failed", "backend", v.be.Name(), "error", err)
	}
}

func (v *Viewer) closeDocument() {
	v.mu.Lock()
	doc, queue, virt := v.doc, v.queue, v.virt
	targets := v.targets
	v.doc, v.queue, v.virt, v.zoom = nil, nil, nil, nil
	v.sizes, v.layout = nil, nil
	v.targets = make(map[int]*Target)
	pool := v.pool
	v.mu.Unlock()

	if queue != nil {
		queue.Clear()
	}
	if virt != nil {
		virt.Dispose()
	}
	for _, t := range targets {
		pool.Release(t)
	}
	if doc != nil {
		if err := doc.Close(); err != nil {
			Logger.Error("Document close failed", "error", err)
		}
	}
}

// renderTask is the queue's RenderFunc: it sizes the task's surface for the
// task scale and delegates to the backend.
func (v *Viewer) renderTask(ctx context.Context, task *Task) error {
	v.mu.Lock()
	doc := v.doc
	var size backend.PageSize
	if task.Page >= 0 && task.Page < len(v.sizes) {
		size = v.sizes[task.Page]
	}
	v.mu.Unlock()
	if doc == nil {
		return ErrNoDocument
	}

	effective := task.Scale.Effective()
	if task.Tile != nil {
		task.Target.SetSize(task.Tile.Dx(), task.Tile.Dy())
	} else {
		w := int(math.Ceil(size.WidthPt * effective))
		h := int(math.Ceil(size.HeightPt * effective))
		task.Target.SetSize(w, h)
	}

	return doc.RenderPage(ctx, backend.RenderRequest{
		Page:   task.Page,
		Scale:  effective,
		Tile:   task.Tile,
		Target: task.Target.Image(),
	})
}

// handleVisibility reacts to one page entering or leaving the viewport.
func (v *Viewer) handleVisibility(page int, visible bool) {
	v.mu.Lock()
	queue, pool, zoom := v.queue, v.pool, v.zoom
	if queue == nil {
		v.mu.Unlock()
		return
	}
	if visible {
		target := v.targets[page]
		if target == nil {
			target = pool.Acquire()
			v.targets[page] = target
		}
		scale := zoom.Scale()
		v.mu.Unlock()
		queue.Enqueue(page, scale, target, PriorityVisible, nil)
		return
	}

	// Hidden: stop any in-flight work and give the surface back. The
	// rendered record stays so the page keeps its place in the LRU until
	// eviction catches up with it.
	target := v.targets[page]
	delete(v.targets, page)
	v.mu.Unlock()
	queue.CancelTask(page)
	if target != nil {
		pool.Release(target)
	}
}

// enqueuePrefetch schedules the buffer pages around the viewport at
// Prefetch priority. Pages already rendered or already queued at a higher
// priority are left alone.
func (v *Viewer) enqueuePrefetch() {
	v.mu.Lock()
	virt, queue, pool, zoom := v.virt, v.queue, v.pool, v.zoom
	buffer := v.cfg.PrefetchBuffer
	v.mu.Unlock()
	if virt == nil {
		return
	}

	visible := make(map[int]bool)
	for _, page := range virt.GetVisiblePages() {
		visible[page] = true
	}
	for _, page := range virt.GetPrefetchPages(buffer) {
		if visible[page] {
			continue
		}
		if _, rendered := virt.RenderedInfo(page); rendered {
			continue
		}
		v.mu.Lock()
		if _, busy := v.targets[page]; busy {
			v.mu.Unlock()
			continue
		}
		target := pool.Acquire()
		v.targets[page] = target
		v.mu.Unlock()
		queue.Enqueue(page, zoom.Scale(), target, PriorityPrefetch, nil)
	}
}

// handleSettled runs after every task finishes, including tasks dropped from
// the queue before running. Successful page renders are tracked for eviction
// accounting; thumbnail waiters are woken in enqueue order, one per settled
// thumbnail task, so a superseded one-off render still unblocks its caller.
func (v *Viewer) handleSettled(task *Task, err error) {
	v.mu.Lock()
	virt := v.virt
	var waiter chan error
	if task.Priority == PriorityThumbnail {
		if ws := v.thumbWaiters[task.Page]; len(ws) > 0 {
			waiter = ws[0]
			if len(ws) == 1 {
				delete(v.thumbWaiters, task.Page)
			} else {
				v.thumbWaiters[task.Page] = ws[1:]
			}
		}
	}
	onRendered := v.OnPageRendered
	v.mu.Unlock()

	if waiter != nil {
		waiter <- err
		return
	}
	// One-off renders land on borrowed surfaces; they never count as the
	// page's live raster.
	if task.Priority == PriorityThumbnail {
		return
	}
	if err != nil || virt == nil {
		return
	}

	info := PageRenderInfo{
		Page:      task.Page,
		Target:    task.Target,
		Scale:     task.Scale,
		Timestamp: time.Now(),
		Rendered:  true,
	}
	virt.TrackRendered(info)
	if onRendered != nil {
		onRendered(info)
	}
}

// handleEviction releases the least-recently-rendered pages once the budget
// is exceeded.
func (v *Viewer) handleEviction(pages []int) {
	v.mu.Lock()
	queue, pool, virt := v.queue, v.pool, v.virt
	v.mu.Unlock()
	if virt == nil {
		return
	}
	for _, page := range pages {
		Logger.Debug("Evicting page", "page", page)
		if queue != nil {
			queue.CancelTask(page)
		}
		v.mu.Lock()
		target := v.targets[page]
		delete(v.targets, page)
		v.mu.Unlock()
		if target != nil {
			pool.Release(target)
		}
		virt.UntrackRendered(page)
	}
}

// handleZoomChange re-enqueues every visible page at the freshly folded
// scale so the rasters sharpen up to match the transform.
func (v *Viewer) handleZoomChange(scale Scale) {
	v.mu.Lock()
	virt, queue := v.virt, v.queue
	v.mu.Unlock()
	if virt == nil || queue == nil {
		return
	}
	for _, page := range virt.GetVisiblePages() {
		v.mu.Lock()
		target := v.targets[page]
		v.mu.Unlock()
		if target == nil {
			continue
		}
		queue.Enqueue(page, scale, target, PriorityVisible, nil)
	}
}

// overlaps reports whether two sorted page sets share any page.
func overlaps(a, b []int) bool {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return false
}
