package render

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFExtension is the extension of every secondary output.
const PDFExtension = ".pdf"

var disableConfigDir sync.Once

// pdfConfig returns a relaxed pdfcpu configuration that never touches the
// user's config directory.
func pdfConfig() *model.Configuration {
	disableConfigDir.Do(func() {
		model.ConfigPath = "disable"
	})
	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	return cfg
}

// Normalize validates a PDF and rewrites it optimized.
func Normalize(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(data), &out, pdfConfig()); err != nil {
		return nil, fmt.Errorf("failed to validate/optimize PDF: %w", err)
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), pdfConfig())
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

// MergePDFs concatenates PDFs in order into one document.
func MergePDFs(docs [][]byte) ([]byte, error) {
	if len(docs) == 0 {
		return nil, errors.New("no PDFs to merge")
	}
	readers := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		readers[i] = bytes.NewReader(d)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, pdfConfig()); err != nil {
		return nil, fmt.Errorf("failed to merge PDFs: %w", err)
	}
	return out.Bytes(), nil
}
