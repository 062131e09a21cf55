package render

import "image"

// TargetState tracks pool ownership of a raster surface.
type TargetState int

const (
	// TargetFree means the surface is pooled and holds no pixels.
	TargetFree TargetState = iota
	// TargetInUse means the surface is on loan to exactly one page.
	TargetInUse
)

// Target is a reusable raster surface. Targets are owned exclusively by a
// CanvasPool; everything else holds them on loan while they are InUse and
// must not retain them past a page's unload.
type Target struct {
	img   *image.RGBA
	state TargetState
}

// State returns the current pool state.
func (t *Target) State() TargetState { return t.state }

// SetSize resizes the surface to w×h pixels, reallocating only when the
// backing buffer does not match. Contents after a resize are undefined.
func (t *Target) SetSize(w, h int) {
	if w < 0 {
		w = 0
	}
	if h < 0 {
		h = 0
	}
	if t.img != nil && t.img.Rect.Dx() == w && t.img.Rect.Dy() == h {
		return
	}
	if w == 0 || h == 0 {
		t.img = nil
		return
	}
	t.img = image.NewRGBA(image.Rect(0, 0, w, h))
}

// Image returns the backing raster, or nil while the surface has zero size.
func (t *Target) Image() *image.RGBA { return t.img }

// Width returns the surface width in pixels.
func (t *Target) Width() int {
	if t.img == nil {
		return 0
	}
	return t.img.Rect.Dx()
}

// Height returns the surface height in pixels.
func (t *Target) Height() int {
	if t.img == nil {
		return 0
	}
	return t.img.Rect.Dy()
}

// clear drops the pixel buffer and shrinks the surface to zero dimensions so
// idle surfaces retain no stale pixels and no backing memory.
func (t *Target) clear() {
	t.img = nil
}
