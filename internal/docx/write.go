package docx

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"
)

// Bytes serializes the document back into a word package. Parts other than
// document.xml are copied without recompression.
func (d *Document) Bytes() ([]byte, error) {
	content, err := d.render()
	if err != nil {
		return nil, err
	}

	zr, err := zip.NewReader(bytes.NewReader(d.pkg), int64(len(d.pkg)))
	if err != nil {
		return nil, fmt.Errorf("failed to reopen package: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range zr.File {
		if f.Name != documentPart {
			if err := zw.Copy(f); err != nil {
				return nil, fmt.Errorf("failed to copy %s: %w", f.Name, err)
			}
			continue
		}
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     f.Name,
			Method:   zip.Deflate,
			Modified: f.Modified,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", documentPart, err)
		}
		if _, err := w.Write(content); err != nil {
			return nil, fmt.Errorf("failed to write %s: %w", documentPart, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize package: %w", err)
	}
	return buf.Bytes(), nil
}

// render splices the text of every changed node into the original
// document.xml bytes.
func (d *Document) render() ([]byte, error) {
	var out bytes.Buffer
	out.Grow(len(d.xml))
	last := 0

	for _, n := range d.nodes {
		if !n.changed() {
			continue
		}
		out.Write(d.xml[last:n.tagStart])

		tag := d.xml[n.tagStart:n.tagEnd]
		if n.selfClosing {
			tag = bytes.TrimRight(tag[:len(tag)-2], " \t\r\n")
		} else {
			tag = tag[:len(tag)-1]
		}
		out.Write(tag)
		if !n.preserve && needsPreserve(n.text) {
			out.WriteString(` xml:space="preserve"`)
		}
		out.WriteByte('>')

		if err := xml.EscapeText(&out, []byte(n.text)); err != nil {
			return nil, fmt.Errorf("failed to escape run text: %w", err)
		}

		if n.selfClosing {
			out.WriteString("</")
			out.WriteString(tagName(tag))
			out.WriteByte('>')
			last = n.tagEnd
		} else {
			last = n.end
		}
	}
	out.Write(d.xml[last:])
	return out.Bytes(), nil
}

// tagName returns the qualified element name of a raw start tag.
func tagName(tag []byte) string {
	name := strings.TrimPrefix(string(tag), "<")
	if i := strings.IndexAny(name, " \t\r\n/>"); i >= 0 {
		name = name[:i]
	}
	return name
}

func needsPreserve(text string) bool {
	if text == "" {
		return false
	}
	return strings.TrimSpace(text) != text
}
