package render

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/Lllllllleong/docmergeflow/internal/docx"
)

// InProcess lays out the document's text with fpdf. It keeps paragraph and
// table-row order but drops styling, so it is a fallback for hosts without
// an office suite.
type InProcess struct {
	PageSize string
	FontSize float64
}

// NewInProcess returns an A4, 11pt renderer.
func NewInProcess() *InProcess {
	return &InProcess{PageSize: "A4", FontSize: 11}
}

func (r *InProcess) Name() string      { return KindInProcess }
func (r *InProcess) Extension() string { return PDFExtension }

func (r *InProcess) Render(ctx context.Context, base string, primary []byte) ([]byte, error) {
	doc, err := docx.Parse(primary)
	if err != nil {
		return nil, fmt.Errorf("failed to read document: %w", err)
	}

	pdf := fpdf.New("P", "mm", r.PageSize, "")
	pdf.SetTitle(base, true)
	pdf.SetCreator("docmergeflow", true)
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", r.FontSize)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	lineHeight := r.FontSize * 0.5
	for _, line := range doc.Lines("    ") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if strings.TrimSpace(line) == "" {
			pdf.Ln(lineHeight)
			continue
		}
		pdf.MultiCell(0, lineHeight, tr(line), "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return Normalize(buf.Bytes())
}
