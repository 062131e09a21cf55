// Package render is the viewport-driven page rendering core: it decides
// which pages to rasterize, at what resolution, in what order, under bounded
// concurrency and bounded memory, and reconciles that work with live
// scrolling and zoom changes. Rasterization itself is delegated to a
// pluggable backend engine.
package render

import "log/slog"

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// Priority orders render work. Higher values start first.
type Priority int

const (
	// PriorityThumbnail renders small previews for browsing grids.
	PriorityThumbnail Priority = iota
	// PriorityTextLayer renders the selectable text overlay.
	PriorityTextLayer
	// PriorityPrefetch renders pages adjacent to the viewport.
	PriorityPrefetch
	// PriorityVisible renders pages currently in the viewport.
	PriorityVisible
)

func (p Priority) String() string {
	switch p {
	case PriorityVisible:
		return "visible"
	case PriorityPrefetch:
		return "prefetch"
	case PriorityTextLayer:
		return "textlayer"
	case PriorityThumbnail:
		return "thumbnail"
	default:
		return "unknown"
	}
}

// Scale describes how document points map to raster pixels.
//
// CSSZoom is the transient zoom the viewer applies as a cheap visual
// transform; BaseRasterScale starts at the clamped device pixel ratio and
// absorbs zoom once it settles.
type Scale struct {
	CSSZoom          float64 `json:"cssZoom"`
	DevicePixelRatio float64 `json:"devicePixelRatio"`
	BaseRasterScale  float64 `json:"baseRasterScale"`
}

// Effective returns the raster scale: cssZoom times baseRasterScale.
// DevicePixelRatio is informational only, since the base scale already
// starts from the clamped ratio and would double-count it here.
func (s Scale) Effective() float64 {
	return s.CSSZoom * s.BaseRasterScale
}
