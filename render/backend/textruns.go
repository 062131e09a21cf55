package backend

import (
	"bytes"

	"context"

	"github.com/ledongthuc/pdf"
)

// extractTextRuns pulls positioned text for one page straight out of the
// document bytes. Both engines share this path so the text layer behaves the
// same whichever one rasterizes the page. Page is zero-based here;
// the parser counts from one.
func extractTextRuns(ctx context.Context, documentBytes []byte, page int) ([]TextRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	reader, err := pdf.NewReader(bytes.NewReader(documentBytes), int64(len(documentBytes)))
	if err != nil {
		return nil, &LoadError{Reason: "unable to parse document for text", Err: err}
	}
	if page < 0 || page >= reader.NumPage() {
		return nil, &RenderError{Page: page, Err: errPageOutOfRange}
	}
	p := reader.Page(page + 1)
	if p.V.IsNull() {
		return nil, nil
	}
	content := p.Content()
	runs := make([]TextRun, 0, len(content.Text))
	for _, t := range content.Text {
		if t.S == "" {
			continue
		}
		runs = append(runs, TextRun{
			Text:     t.S,
			X:        t.X,
			Y:        t.Y,
			W:        t.W,
			FontSize: t.FontSize,
			Font:     t.Font,
		})
	}
	return runs, nil
}
