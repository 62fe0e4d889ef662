package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
)

const (
	wordNS       = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	documentPart = "word/document.xml"
)

var (
	ErrNotPackage  = errors.New("not a zip package")
	ErrNoDocument  = errors.New("package has no " + documentPart)
	ErrNotDocument = errors.New(documentPart + " root is not w:document")
	ErrNoBody      = errors.New(documentPart + " has no w:body")
)

type kind int

const (
	kindOther kind = iota
	kindDocument
	kindBody
	kindParagraph
	kindHyperlink
	kindRun
	kindText
	kindTable
	kindRow
	kindCell
)

// children lists the WordprocessingML elements that are modelled under each
// parent kind. Everything else, including tables nested in cells, is skipped.
var children = map[kind]map[string]kind{
	kindDocument:  {"body": kindBody},
	kindBody:      {"p": kindParagraph, "tbl": kindTable},
	kindTable:     {"tr": kindRow},
	kindRow:       {"tc": kindCell},
	kindCell:      {"p": kindParagraph},
	kindParagraph: {"r": kindRun, "hyperlink": kindHyperlink},
	kindHyperlink: {"r": kindRun},
	kindRun:       {"t": kindText},
}

type frame struct {
	kind  kind
	para  *Paragraph
	table *Table
	row   *Row
	cell  *Cell
	run   *Run
	node  *textNode
}

// Parse reads a word package. The document keeps a reference to data, which
// must not be modified while the document is in use.
func Parse(data []byte) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPackage, err)
	}

	var part *zip.File
	for _, f := range zr.File {
		if f.Name == documentPart {
			part = f
			break
		}
	}
	if part == nil {
		return nil, ErrNoDocument
	}

	rc, err := part.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", documentPart, err)
	}
	content, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", documentPart, err)
	}

	doc := &Document{pkg: data, xml: content}
	if err := doc.index(); err != nil {
		return nil, err
	}
	return doc, nil
}

// index walks document.xml once, building the paragraph/table model and
// recording the byte span of every modelled w:t element.
func (d *Document) index() error {
	dec := xml.NewDecoder(bytes.NewReader(d.xml))
	var stack []frame
	sawBody := false

	for {
		before := dec.InputOffset()
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("malformed %s: %w", documentPart, err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if len(stack) == 0 {
				if t.Name.Space != wordNS || t.Name.Local != "document" {
					return ErrNotDocument
				}
				stack = append(stack, frame{kind: kindDocument})
				continue
			}
			parent := stack[len(stack)-1]
			f := frame{kind: kindOther}
			if t.Name.Space == wordNS {
				if k, ok := children[parent.kind][t.Name.Local]; ok {
					f.kind = k
				}
			}
			d.open(&f, parent, t, before, dec.InputOffset())
			if f.kind == kindBody {
				sawBody = true
			}
			stack = append(stack, f)

		case xml.CharData:
			if n := len(stack); n > 0 && stack[n-1].kind == kindText {
				node := stack[n-1].node
				node.orig += string(t)
			}

		case xml.EndElement:
			if len(stack) == 0 {
				continue
			}
			if top := stack[len(stack)-1]; top.kind == kindText {
				top.node.end = int(before)
				top.node.text = top.node.orig
			}
			stack = stack[:len(stack)-1]
		}
	}

	if !sawBody {
		return ErrNoBody
	}
	return nil
}

func (d *Document) open(f *frame, parent frame, start xml.StartElement, before, after int64) {
	switch f.kind {
	case kindParagraph:
		f.para = &Paragraph{}
		if parent.kind == kindCell {
			parent.cell.Paragraphs = append(parent.cell.Paragraphs, f.para)
		} else {
			d.Paragraphs = append(d.Paragraphs, f.para)
			d.blocks = append(d.blocks, f.para)
		}
	case kindHyperlink:
		f.para = parent.para
	case kindRun:
		f.run = &Run{}
		parent.para.Runs = append(parent.para.Runs, f.run)
	case kindText:
		tag := d.xml[before:after]
		f.node = &textNode{
			tagStart:    int(before),
			tagEnd:      int(after),
			end:         int(after),
			selfClosing: bytes.HasSuffix(tag, []byte("/>")),
			preserve:    hasPreserve(start.Attr),
		}
		parent.run.nodes = append(parent.run.nodes, f.node)
		d.nodes = append(d.nodes, f.node)
	case kindTable:
		f.table = &Table{}
		d.Tables = append(d.Tables, f.table)
		d.blocks = append(d.blocks, f.table)
	case kindRow:
		f.row = &Row{}
		parent.table.Rows = append(parent.table.Rows, f.row)
	case kindCell:
		f.cell = &Cell{}
		parent.row.Cells = append(parent.row.Cells, f.cell)
	}
}

func hasPreserve(attrs []xml.Attr) bool {
	for _, a := range attrs {
		if a.Name.Local == "space" && a.Value == "preserve" {
			return true
		}
	}
	return false
}
