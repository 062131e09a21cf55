package backend

import (
	"context"
	"sync"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// BackendPDFium identifies the PDFium-in-WebAssembly engine.
const BackendPDFium = "pdfium"

func init() {
	Register(BackendPDFium, func() (Backend, error) { return NewPDFiumBackend() })
}

// PDFiumBackend renders pages with go-pdfium running PDFium inside a wazero
// WebAssembly runtime. Document bytes live in the runtime's linear memory
// while a document is open; that buffer is owned by the document handle and
// is freed on every exit path of Close, including load failures. Each
// backend instance owns its own worker pool so independent documents can
// coexist with independent lifetimes.
type PDFiumBackend struct {
	mu       sync.Mutex // single worker, serialize native calls
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumBackend creates a new PDFium-based backend using WebAssembly.
func NewPDFiumBackend() (*PDFiumBackend, error) {
	// Single worker keeps the foreign-memory accounting simple; the render
	// queue bounds concurrency above this layer anyway.
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return nil, &ForeignMemoryError{Op: "webassembly init", Err: err}
	}
	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, &ForeignMemoryError{Op: "get instance", Err: err}
	}
	return &PDFiumBackend{pool: pool, instance: instance}, nil
}

// Name returns the backend identifier.
func (b *PDFiumBackend) Name() string { return BackendPDFium }

// Capabilities reports what the PDFium engine supports. Text runs come from
// the shared extractor, not a native call, so they are always available.
func (b *PDFiumBackend) Capabilities() Capabilities {
	return Capabilities{TextRuns: true, Tiles: true}
}

// Load copies documentBytes into the WebAssembly linear memory and opens the
// document. If anything after the open fails, the document is closed again
// before returning so the foreign buffer never outlives a failed load.
func (b *PDFiumBackend) Load(ctx context.Context, documentBytes []byte) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	doc, err := b.instance.OpenDocument(&requests.OpenDocument{
		File: &documentBytes,
	})
	if err != nil {
		return nil, &LoadError{Reason: "unable to open document", Err: err}
	}

	pageCountResp, err := b.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		// Free the foreign buffer before surfacing the load failure.
		b.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
			Document: doc.Document,
		})
		return nil, &LoadError{Reason: "unable to get page count", Err: err}
	}

	return &pdfiumDocument{
		backend:   b,
		doc:       doc.Document,
		raw:       documentBytes,
		pageCount: pageCountResp.PageCount,
	}, nil
}

// Close shuts down the worker pool and the WebAssembly runtime.
func (b *PDFiumBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.pool != nil {
		b.pool.Close()
		b.pool = nil
	}
	b.instance = nil
	return nil
}

type pdfiumDocument struct {
	backend   *PDFiumBackend
	doc       references.FPDF_DOCUMENT
	raw       []byte
	pageCount int
	closed    bool
}

func (d *pdfiumDocument) PageCount() int { return d.pageCount }

func (d *pdfiumDocument) PageSize(i int) (PageSize, error) {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	resp, err := d.backend.instance.GetPageSize(&requests.GetPageSize{
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{Document: d.doc, Index: i},
		},
	})
	if err != nil {
		return PageSize{}, &ForeignMemoryError{Op: "get page size", Err: err}
	}
	return PageSize{WidthPt: resp.Width, HeightPt: resp.Height}, nil
}

func (d *pdfiumDocument) RenderPage(ctx context.Context, req RenderRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.backend.mu.Lock()
	pageRender, err := d.backend.instance.RenderPageInDPI(&requests.RenderPageInDPI{
		DPI: int(72.0 * req.Scale),
		Page: requests.Page{
			ByIndex: &requests.PageByIndex{Document: d.doc, Index: req.Page},
		},
	})
	d.backend.mu.Unlock()
	if err != nil {
		return &RenderError{Page: req.Page, Err: err}
	}
	// Readback converts from PDFium's native channel order into the target
	// before the WebAssembly-side bitmap is released.
	if cerr := ctx.Err(); cerr != nil {
		pageRender.Cleanup()
		return cerr
	}
	readback(req.Target, pageRender.Result.Image, req.Tile)
	pageRender.Cleanup()
	return nil
}

func (d *pdfiumDocument) TextRuns(ctx context.Context, page int) ([]TextRun, error) {
	return extractTextRuns(ctx, d.raw, page)
}

// Close frees the document's buffer in the WebAssembly linear memory. It is
// idempotent; the buffer must be released exactly once however the document
// lifecycle ends.
func (d *pdfiumDocument) Close() error {
	d.backend.mu.Lock()
	defer d.backend.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	_, err := d.backend.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: d.doc,
	})
	if err != nil {
		return &ForeignMemoryError{Op: "close document", Err: err}
	}
	return nil
}
