package docx

import "strings"

// Lines flattens the body into plain text lines in document order. Each
// table row becomes one line with cells separated by sep.
func (d *Document) Lines(sep string) []string {
	var lines []string
	for _, b := range d.Blocks() {
		switch b := b.(type) {
		case *Paragraph:
			lines = append(lines, b.Text())
		case *Table:
			for _, row := range b.Rows {
				cells := make([]string, len(row.Cells))
				for i, c := range row.Cells {
					cells[i] = c.Text()
				}
				lines = append(lines, strings.Join(cells, sep))
			}
		}
	}
	return lines
}
