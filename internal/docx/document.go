// Package docx reads a WordprocessingML package, exposes its paragraphs,
// tables and text runs, and writes it back with rewritten run text.
//
// Only word/document.xml is interpreted. Every other package part is copied
// through untouched, and within document.xml only the character data of
// rewritten w:t elements changes, so formatting and layout survive a round
// trip byte for byte.
package docx

import "strings"

// Block is a top-level body element: a *Paragraph or a *Table.
type Block interface {
	block()
}

// Document is one parsed word package.
type Document struct {
	// Paragraphs are the body-level paragraphs in document order.
	Paragraphs []*Paragraph
	// Tables are the body-level tables in document order.
	Tables []*Table

	blocks []Block
	nodes  []*textNode
	pkg    []byte
	xml    []byte
}

// Blocks returns paragraphs and tables interleaved in document order.
func (d *Document) Blocks() []Block {
	return d.blocks
}

// Table is a body-level table.
type Table struct {
	Rows []*Row
}

// Row is one table row.
type Row struct {
	Cells []*Cell
}

// Cell holds the paragraphs of one table cell. Tables nested inside a cell
// are not modelled.
type Cell struct {
	Paragraphs []*Paragraph
}

// Text joins the cell's paragraphs with a space.
func (c *Cell) Text() string {
	parts := make([]string, len(c.Paragraphs))
	for i, p := range c.Paragraphs {
		parts[i] = p.Text()
	}
	return strings.Join(parts, " ")
}

// Paragraph is a sequence of runs.
type Paragraph struct {
	Runs []*Run
}

// Text concatenates the text of every run.
func (p *Paragraph) Text() string {
	var b strings.Builder
	for _, r := range p.Runs {
		b.WriteString(r.Text())
	}
	return b.String()
}

// Run is a contiguous span of identically formatted text. A run may carry
// several w:t nodes separated by tabs or breaks.
type Run struct {
	nodes []*textNode
}

// Text returns the run's current text.
func (r *Run) Text() string {
	if len(r.nodes) == 1 {
		return r.nodes[0].text
	}
	var b strings.Builder
	for _, n := range r.nodes {
		b.WriteString(n.text)
	}
	return b.String()
}

// SetText replaces the run's text. The whole value goes into the first text
// node and any following nodes are emptied.
func (r *Run) SetText(text string) {
	if len(r.nodes) == 0 {
		return
	}
	r.nodes[0].text = text
	for _, n := range r.nodes[1:] {
		n.text = ""
	}
}

func (*Paragraph) block() {}
func (*Table) block()     {}

// textNode locates one w:t element inside document.xml.
type textNode struct {
	tagStart, tagEnd int // start tag
	end              int // start of the end tag
	selfClosing      bool
	preserve         bool
	orig             string
	text             string
}

func (n *textNode) changed() bool {
	return n.text != n.orig
}
