package docx

import (
	"regexp"
	"sort"
	"strings"
)

// NewReplacer builds a literal, case-sensitive replacer for the given
// token-to-value pairs. Keys are ordered so that overlapping tokens resolve
// the same way on every call. Empty tokens are ignored.
func NewReplacer(values map[string]string) *strings.Replacer {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, k, values[k])
	}
	return strings.NewReplacer(pairs...)
}

// ReplaceText replaces every occurrence of every token in text.
func ReplaceText(text string, values map[string]string) string {
	return NewReplacer(values).Replace(text)
}

// Substitute rewrites every visited run, replacing all occurrences of each
// token with its value. Tokens without a value are left as they are, and a
// token split across two runs is not matched. It returns the number of text
// nodes that changed.
func (d *Document) Substitute(values map[string]string) int {
	r := NewReplacer(values)
	changed := 0
	d.EachParagraph(func(p *Paragraph) {
		for _, run := range p.Runs {
			for _, n := range run.nodes {
				if n.text == "" {
					continue
				}
				if out := r.Replace(n.text); out != n.text {
					n.text = out
					changed++
				}
			}
		}
	})
	return changed
}

// EachParagraph visits body paragraphs, then every paragraph of every cell
// of every body table.
func (d *Document) EachParagraph(fn func(*Paragraph)) {
	for _, p := range d.Paragraphs {
		fn(p)
	}
	for _, t := range d.Tables {
		for _, row := range t.Rows {
			for _, cell := range row.Cells {
				for _, p := range cell.Paragraphs {
					fn(p)
				}
			}
		}
	}
}

var tokenPattern = regexp.MustCompile(`<[^<>]+>`)

// Placeholders lists the distinct <Field> tokens present in single text
// nodes, in order of first appearance.
func (d *Document) Placeholders() []string {
	seen := make(map[string]bool)
	var tokens []string
	d.EachParagraph(func(p *Paragraph) {
		for _, run := range p.Runs {
			for _, n := range run.nodes {
				for _, tok := range tokenPattern.FindAllString(n.text, -1) {
					if !seen[tok] {
						seen[tok] = true
						tokens = append(tokens, tok)
					}
				}
			}
		}
	})
	return tokens
}
