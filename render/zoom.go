package render

import (
	"sync"
	"time"
)

const (
	// DefaultZoomDelta is how far cssZoom must stray from 1.0 before a
	// re-rasterization is worth scheduling.
	DefaultZoomDelta = 0.4

	// DefaultZoomDebounce is how long zoom input must stay quiet before the
	// pending re-rasterization fires.
	DefaultZoomDebounce = 150 * time.Millisecond

	// DefaultZoomStep is the multiplicative step for ZoomIn and ZoomOut.
	DefaultZoomStep = 1.2

	// fitPadding keeps a small margin when fitting a page to the container
	// width.
	fitPadding = 32.0
)

// ZoomManager implements two-phase zoom: cssZoom changes apply immediately
// as a cheap visual transform, and once the zoom gesture settles the
// magnitude is folded into baseRasterScale exactly once and the caller is
// told to re-rasterize. cssZoom is 1.0 exactly when nothing is pending.
type ZoomManager struct {
	mu               sync.Mutex
	cssZoom          float64
	devicePixelRatio float64
	baseRasterScale  float64
	zoomDelta        float64
	debounce         time.Duration
	timer            *time.Timer
	onZoomChange     func(Scale)
}

// NewZoomManager creates a manager with baseRasterScale initialized to the
// device pixel ratio clamped to [1,3]. onZoomChange receives the new scale
// whenever a re-rasterization fires; the caller re-enqueues visible pages.
func NewZoomManager(devicePixelRatio float64, onZoomChange func(Scale)) *ZoomManager {
	return &ZoomManager{
		cssZoom:          1.0,
		devicePixelRatio: devicePixelRatio,
		baseRasterScale:  clampRasterScale(devicePixelRatio),
		zoomDelta:        DefaultZoomDelta,
		debounce:         DefaultZoomDebounce,
		onZoomChange:     onZoomChange,
	}
}

func clampRasterScale(dpr float64) float64 {
	if dpr < 1 {
		return 1
	}
	if dpr > 3 {
		return 3
	}
	return dpr
}

// SetDebounce overrides the re-rasterization quiet period.
func (z *ZoomManager) SetDebounce(d time.Duration) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.debounce = d
}

// SetZoomDelta overrides how far zoom must move before re-rasterizing.
func (z *ZoomManager) SetZoomDelta(delta float64) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.zoomDelta = delta
}

// Zoom returns the current transient cssZoom.
func (z *ZoomManager) Zoom() float64 {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.cssZoom
}

// Scale returns the full current render scale.
func (z *ZoomManager) Scale() Scale {
	z.mu.Lock()
	defer z.mu.Unlock()
	return z.scaleLocked()
}

func (z *ZoomManager) scaleLocked() Scale {
	return Scale{
		CSSZoom:          z.cssZoom,
		DevicePixelRatio: z.devicePixelRatio,
		BaseRasterScale:  z.baseRasterScale,
	}
}

// SetZoom updates cssZoom immediately; the caller applies it as a visual
// transform. A re-rasterization is scheduled only once the magnitude
// exceeds zoomDelta, and it fires only after the debounce window passes
// with no further zoom input.
func (z *ZoomManager) SetZoom(zoom float64) {
	if zoom <= 0 {
		return
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	z.cssZoom = zoom
	if z.timer != nil {
		z.timer.Stop()
		z.timer = nil
	}
	if abs(z.cssZoom-1.0) <= z.zoomDelta {
		return
	}
	z.timer = time.AfterFunc(z.debounce, z.fire)
}

// ZoomIn zooms in by the default step.
func (z *ZoomManager) ZoomIn() {
	z.SetZoom(z.Zoom() * DefaultZoomStep)
}

// ZoomOut zooms out by the default step.
func (z *ZoomManager) ZoomOut() {
	z.SetZoom(z.Zoom() / DefaultZoomStep)
}

// RestoreScale reinstates a previously persisted baseRasterScale, for
// reopening a document at the sharpness it was closed at. Call before any
// rendering happens; non-positive values are ignored.
func (z *ZoomManager) RestoreScale(baseRasterScale float64) {
	if baseRasterScale <= 0 {
		return
	}
	z.mu.Lock()
	defer z.mu.Unlock()
	z.baseRasterScale = baseRasterScale
}

// ForceReraster cancels any pending debounce and folds the zoom immediately
// if cssZoom has moved at all.
func (z *ZoomManager) ForceReraster() {
	z.mu.Lock()
	if z.timer != nil {
		z.timer.Stop()
		z.timer = nil
	}
	if z.cssZoom == 1.0 {
		z.mu.Unlock()
		return
	}
	z.mu.Unlock()
	z.fire()
}

// ResetToFit computes a fit-to-width zoom for the given page and container
// widths. baseRasterScale is reset to the device-pixel-ratio baseline first
// so repeated fit actions never compound earlier zoom folds.
func (z *ZoomManager) ResetToFit(pageWidthPt, containerWidth float64) {
	if pageWidthPt <= 0 || containerWidth <= 0 {
		return
	}
	z.mu.Lock()
	z.baseRasterScale = clampRasterScale(z.devicePixelRatio)
	z.cssZoom = 1.0
	z.mu.Unlock()

	fit := (containerWidth - fitPadding) / pageWidthPt
	if fit <= 0 {
		fit = 0.1
	}
	z.SetZoom(fit)
}

// fire folds cssZoom into baseRasterScale and notifies the caller. The fold
// happens exactly once per settled gesture; afterwards cssZoom is 1.0 again.
func (z *ZoomManager) fire() {
	z.mu.Lock()
	z.timer = nil
	if z.cssZoom == 1.0 {
		z.mu.Unlock()
		return
	}
	z.baseRasterScale *= z.cssZoom
	z.cssZoom = 1.0
	scale := z.scaleLocked()
	onZoomChange := z.onZoomChange
	z.mu.Unlock()

	Logger.Debug("Zoom folded into raster scale", "baseRasterScale", scale.BaseRasterScale)
	if onZoomChange != nil {
		onZoomChange(scale)
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
