package backend

import (
	"context"
	"image"
	"image/draw"
	"sync"

	"github.com/gen2brain/go-fitz"
)

// BackendFitz identifies the MuPDF engine.
const BackendFitz = "fitz"

func init() {
	Register(BackendFitz, func() (Backend, error) { return NewFitzBackend() })
}

// FitzBackend renders pages with go-fitz (MuPDF). The library keeps its own
// native context per document, so the backend handle itself holds no state.
type FitzBackend struct{}

// NewFitzBackend creates a new MuPDF-based backend.
func NewFitzBackend() (*FitzBackend, error) {
	return &FitzBackend{}, nil
}

// Name returns the backend identifier.
func (b *FitzBackend) Name() string { return BackendFitz }

// Capabilities reports what the MuPDF engine supports.
func (b *FitzBackend) Capabilities() Capabilities {
	return Capabilities{TextRuns: true, Tiles: true}
}

// Load opens the document from memory.
func (b *FitzBackend) Load(ctx context.Context, documentBytes []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	doc, err := fitz.NewFromMemory(documentBytes)
	if err != nil {
		return nil, &LoadError{Reason: "unable to open document", Err: err}
	}
	return &fitzDocument{doc: doc, raw: documentBytes, pageCount: doc.NumPage()}, nil
}

// Close cleans up resources (no-op, documents own the native contexts).
func (b *FitzBackend) Close() error { return nil }

type fitzDocument struct {
	mu        sync.Mutex // MuPDF contexts are not safe for concurrent use
	doc       *fitz.Document
	raw       []byte
	pageCount int
	closed    bool
}

func (d *fitzDocument) PageCount() int { return d.pageCount }

func (d *fitzDocument) PageSize(i int) (PageSize, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	bound, err := d.doc.Bound(i)
	if err != nil {
		return PageSize{}, &RenderError{Page: i, Err: err}
	}
	// Bound is reported at 72 DPI, so pixels equal points here.
	return PageSize{WidthPt: float64(bound.Dx()), HeightPt: float64(bound.Dy())}, nil
}

func (d *fitzDocument) RenderPage(ctx context.Context, req RenderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	img, err := d.doc.ImageDPI(req.Page, 72.0*req.Scale)
	d.mu.Unlock()
	if err != nil {
		return &RenderError{Page: req.Page, Err: err}
	}
	// The raster may have been abandoned while MuPDF was busy.
	if err := ctx.Err(); err != nil {
		return err
	}
	readback(req.Target, img, req.Tile)
	return nil
}

func (d *fitzDocument) TextRuns(ctx context.Context, page int) ([]TextRun, error) {
	runs, err := extractTextRuns(ctx, d.raw, page)
	if err == nil {
		return runs, nil
	}
	// Positioned extraction can fail on exotic encodings; fall back to the
	// plain page text as a single unpositioned run.
	d.mu.Lock()
	text, ferr := d.doc.Text(page)
	d.mu.Unlock()
	if ferr != nil {
		return nil, &RenderError{Page: page, Err: err}
	}
	if text == "" {
		return nil, nil
	}
	return []TextRun{{Text: text}}, nil
}

func (d *fitzDocument) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.doc.Close()
}

// readback copies a freshly rendered page raster into the caller's target,
// converting from the engine's native pixel format to the target's canonical
// RGBA order. Tile, when non-nil, selects the sub-rectangle of src that maps
// to the target origin.
func readback(target *image.RGBA, src image.Image, tile *image.Rectangle) {
	origin := src.Bounds().Min
	if tile != nil {
		origin = tile.Min
	}
	draw.Draw(target, target.Bounds(), src, origin, draw.Src)
}
