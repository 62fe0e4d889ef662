// Package testsupport builds in-memory word packages, workbooks and CSV
// rosters for tests.
package testsupport

import (
	"archive/zip"
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// StylesXML is the body of the word/styles.xml part in every DOCX built here.
const StylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"/>`

// DOCX creates a minimal word package in memory around the given body
// markup.
func DOCX(body string) []byte {
	buf := new(bytes.Buffer)
	w := zip.NewWriter(buf)

	contentTypes, _ := w.Create("[Content_Types].xml")
	contentTypes.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="xml" ContentType="application/xml"/>
</Types>`))

	doc, _ := w.Create("word/document.xml")
	doc.Write([]byte(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main" xmlns:r="http://schemas.openxmlformats.org/officeDocument/2006/relationships"><w:body>` + body + `</w:body></w:document>`))

	styles, _ := w.Create("word/styles.xml")
	styles.Write([]byte(StylesXML))

	w.Close()
	return buf.Bytes()
}

// Paragraph returns a w:p with one bold run per argument. Arguments are
// inserted as raw XML, so tokens must be written as &lt;Field&gt;.
func Paragraph(runs ...string) string {
	var b strings.Builder
	b.WriteString("<w:p>")
	for _, r := range runs {
		b.WriteString(`<w:r><w:rPr><w:b/></w:rPr><w:t xml:space="preserve">` + r + `</w:t></w:r>`)
	}
	b.WriteString("</w:p>")
	return b.String()
}

// Table returns a w:tbl with one single-paragraph cell per value.
func Table(rows ...[]string) string {
	var b strings.Builder
	b.WriteString("<w:tbl><w:tblPr/>")
	for _, row := range rows {
		b.WriteString("<w:tr>")
		for _, cell := range row {
			b.WriteString("<w:tc><w:tcPr/>" + Paragraph(cell) + "</w:tc>")
		}
		b.WriteString("</w:tr>")
	}
	b.WriteString("</w:tbl>")
	return b.String()
}

// Token escapes a placeholder field name for use inside Paragraph or Table.
func Token(field string) string {
	return "&lt;" + field + "&gt;"
}

// LetterTemplate is the welcome-letter template used across pipeline tests.
func LetterTemplate() []byte {
	return DOCX(
		Paragraph("Dear "+Token("Student Name")+", welcome to "+Token("College Name")+".") +
			Table([]string{"Student", "College"}, []string{Token("Student Name"), Token("College Name")}),
	)
}

// CSV renders rows as comma-separated text.
func CSV(t *testing.T, rows ...[]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.WriteAll(rows); err != nil {
		t.Fatalf("testsupport: write csv: %v", err)
	}
	return buf.Bytes()
}

// Workbook renders rows into the first sheet of a new xlsx workbook.
func Workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for i, row := range rows {
		cell := fmt.Sprintf("A%d", i+1)
		r := row
		if err := f.SetSheetRow(sheet, cell, &r); err != nil {
			t.Fatalf("testsupport: set row %d: %v", i+1, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("testsupport: write workbook: %v", err)
	}
	return buf.Bytes()
}
