package render

import "github.com/drummonds/goview/render/backend"

// PageLayout is the vertical arrangement of page placeholders in the scroll
// container, in CSS pixels at zoom 1.0. One point maps to one CSS pixel,
// which is how the placeholders are laid out before any raster exists.
type PageLayout struct {
	tops    []float64
	heights []float64
	gap     float64
}

// NewPageLayout stacks pages vertically with gap pixels between them.
func NewPageLayout(sizes []backend.PageSize, gap float64) *PageLayout {
	l := &PageLayout{
		tops:    make([]float64, len(sizes)),
		heights: make([]float64, len(sizes)),
		gap:     gap,
	}
	y := 0.0
	for i, size := range sizes {
		l.tops[i] = y
		l.heights[i] = size.HeightPt
		y += size.HeightPt + gap
	}
	return l
}

// PageCount returns the number of laid-out pages.
func (l *PageLayout) PageCount() int { return len(l.tops) }

// Top returns the y offset of page i.
func (l *PageLayout) Top(i int) float64 { return l.tops[i] }

// Height returns the height of page i.
func (l *PageLayout) Height(i int) float64 { return l.heights[i] }

// TotalHeight returns the full scrollable height.
func (l *PageLayout) TotalHeight() float64 {
	n := len(l.tops)
	if n == 0 {
		return 0
	}
	return l.tops[n-1] + l.heights[n-1]
}

// pagesIntersecting returns the pages whose extent overlaps [top, bottom).
func (l *PageLayout) pagesIntersecting(top, bottom float64) []int {
	var pages []int
	for i := range l.tops {
		pageTop := l.tops[i]
		pageBottom := pageTop + l.heights[i]
		if pageBottom > top && pageTop < bottom {
			pages = append(pages, i)
		}
	}
	return pages
}
