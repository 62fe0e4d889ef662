package docx

import (
	"path/filepath"
	"strings"

	"github.com/Lllllllleong/docmergeflow/internal/models"
)

// Extension is the default primary output extension.
const Extension = ".docx"

var templateExtensions = map[string]bool{
	".docx": true,
	".docm": true,
	".dotx": true,
	".dotm": true,
}

// Template is an immutable word template. Every call to Open parses a fresh
// Document, so substitutions for one record never leak into the next.
type Template struct {
	name string
	data []byte
}

// NewTemplate copies data and checks that it parses. A name with an
// extension other than a word document is rejected up front.
func NewTemplate(name string, data []byte) (*Template, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != "" && !templateExtensions[ext] {
		return nil, &models.UnsupportedFormatError{Name: name, Reason: "expected a .docx template"}
	}

	t := &Template{name: name, data: append([]byte(nil), data...)}
	if _, err := t.Open(); err != nil {
		return nil, err
	}
	return t, nil
}

// Name returns the template's file name.
func (t *Template) Name() string {
	return t.name
}

// OutputExtension is the extension merged documents are saved under.
// Macro-enabled templates keep their macros; everything else becomes .docx.
func (t *Template) OutputExtension() string {
	switch strings.ToLower(filepath.Ext(t.name)) {
	case ".docm", ".dotm":
		return ".docm"
	}
	return Extension
}

// Open parses a new Document from the template bytes.
func (t *Template) Open() (*Document, error) {
	doc, err := Parse(t.data)
	if err != nil {
		return nil, &models.TemplateParseError{Name: t.name, Err: err}
	}
	return doc, nil
}
