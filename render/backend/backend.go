package backend

import (
	"context"
	"image"
	"log/slog"
	"sync"
)

// Logger is global since we will need it everywhere
var Logger = slog.Default()

// PageSize is the document-space size of a page in points.
// It is immutable for the lifetime of a loaded document.
type PageSize struct {
	WidthPt  float64 `json:"widthPt"`
	HeightPt float64 `json:"heightPt"`
}

// TextRun is a positioned run of text on a page, in document space.
type TextRun struct {
	Text     string  `json:"text"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	W        float64 `json:"w"`
	FontSize float64 `json:"fontSize"`
	Font     string  `json:"font,omitempty"`
}

// RenderRequest asks a document to rasterize one page into Target.
// Scale is the effective raster scale (1.0 renders at 72 DPI). Tile, when
// non-nil, restricts output to that sub-rectangle of the full page raster.
type RenderRequest struct {
	Page   int
	Scale  float64
	Tile   *image.Rectangle
	Target *image.RGBA
}

// Capabilities is the fixed set of optional operations a backend supports.
// It is resolved once when the backend is constructed, never probed at
// render time.
type Capabilities struct {
	TextRuns bool
	Tiles    bool
}

// Document is a loaded document handle. Page sizes are fetched once at load
// by callers and are stable afterwards.
type Document interface {
	// PageCount returns the number of pages in the document.
	PageCount() int

	// PageSize returns the size of page i in points.
	PageSize(i int) (PageSize, error)

	// RenderPage rasterizes one page into the request target. Cancellation
	// via ctx must be honoured promptly; after cancellation the target's
	// content is undefined and must be re-rendered or cleared before reuse.
	RenderPage(ctx context.Context, req RenderRequest) error

	// TextRuns extracts positioned text for page i. Only valid when the
	// owning backend reports Capabilities().TextRuns.
	TextRuns(ctx context.Context, page int) ([]TextRun, error)

	// Close releases all resources held for this document. It must release
	// any foreign memory on every exit path, including after load or render
	// failures.
	Close() error
}

// Backend is the capability interface over a concrete rendering engine.
// Each handle is owned by exactly one orchestrator; there is no process-wide
// singleton instance.
type Backend interface {
	// Name returns the backend identifier (e.g. "fitz", "pdfium").
	Name() string

	// Capabilities returns the operations this backend supports, resolved
	// at construction.
	Capabilities() Capabilities

	// Load parses documentBytes and returns a Document handle. A failed
	// load must not leak any backend resources.
	Load(ctx context.Context, documentBytes []byte) (Document, error)

	// Close releases the engine itself. Open documents must be closed first.
	Close() error
}

// Factory creates a new backend instance.
type Factory func() (Backend, error)

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)

	// Priority order for backend selection (first available wins).
	// PDFium runs anywhere via WebAssembly; MuPDF needs the native library.
	backendPriority = []string{BackendPDFium, BackendFitz}
)

// Register registers a backend factory with the given name. Typically called
// from init() in the backend implementation files. Re-registering a name
// replaces the previous factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Available returns the registered backend names.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// New returns a new backend instance by name.
func New(name string) (Backend, error) {
	registryMu.RLock()
	factory, ok := backends[name]
	registryMu.RUnlock()
	if !ok {
		return nil, &LoadError{Reason: "unknown backend: " + name}
	}
	return factory()
}

// Default returns the best available backend in priority order.
func Default() (Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	var lastErr error
	for _, name := range backendPriority {
		factory, ok := backends[name]
		if !ok {
			continue
		}
		be, err := factory()
		if err != nil {
			Logger.Warn("Backend unavailable, trying next", "backend", name, "error", err)
			lastErr = err
			continue
		}
		return be, nil
	}
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, &LoadError{Reason: "no render backends registered"}
}
