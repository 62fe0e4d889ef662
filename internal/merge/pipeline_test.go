package merge

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/docmergeflow/internal/config"
	"github.com/Lllllllleong/docmergeflow/internal/docx"
	"github.com/Lllllllleong/docmergeflow/internal/models"
	"github.com/Lllllllleong/docmergeflow/internal/render"
	"github.com/Lllllllleong/docmergeflow/internal/roster"
	ts "github.com/Lllllllleong/docmergeflow/internal/testsupport"
)

// fakeRenderer returns a marker payload and fails for the listed bases.
type fakeRenderer struct {
	failFor map[string]bool
	calls   int
}

func (f *fakeRenderer) Name() string      { return "fake" }
func (f *fakeRenderer) Extension() string { return ".pdf" }

func (f *fakeRenderer) Render(_ context.Context, base string, _ []byte) ([]byte, error) {
	f.calls++
	if f.failFor[base] {
		return nil, errors.New("converter crashed")
	}
	return []byte("%PDF-fake " + base), nil
}

func loadRecords(t *testing.T, rows ...[]string) []roster.Record {
	t.Helper()
	data := ts.CSV(t, append([][]string{{"Student Name", "College Name"}}, rows...)...)
	records, err := roster.Load("roster.csv", data, roster.DefaultOptions())
	require.NoError(t, err)
	return records
}

func entries(t *testing.T, data []byte) ([]string, map[string][]byte) {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	var names []string
	contents := make(map[string][]byte)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		names = append(names, f.Name)
		contents[f.Name] = b
	}
	return names, contents
}

func firstParagraph(t *testing.T, data []byte) string {
	t.Helper()
	doc, err := docx.Parse(data)
	require.NoError(t, err)
	require.NotEmpty(t, doc.Paragraphs)
	return doc.Paragraphs[0].Text()
}

func TestRun_SingleRecord(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"})

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{TemplateName: "letter.docx"})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx"}, names)
	assert.Equal(t, "Dear Jane Doe, welcome to Acme U.", firstParagraph(t, contents["Jane_Doe.docx"]))

	doc, err := docx.Parse(contents["Jane_Doe.docx"])
	require.NoError(t, err)
	require.Len(t, doc.Tables, 1)
	assert.Equal(t, "Jane Doe Acme U", doc.Tables[0].Rows[1].Cells[0].Text()+" "+doc.Tables[0].Rows[1].Cells[1].Text())

	assert.Equal(t, 1, res.Report.Records)
	assert.Equal(t, 1, res.Report.Primary)
	assert.Zero(t, res.Report.Secondary)
	assert.Empty(t, res.Report.Failures)
	assert.Empty(t, res.Report.UnmappedTokens)
}

func TestRun_EmptyKeyRowDropped(t *testing.T) {
	records := loadRecords(t,
		[]string{"Jane Doe", "Acme U"},
		[]string{"", "Ghost College"},
		[]string{"John Roe", "Acme U"},
	)
	require.Len(t, records, 2)

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx", "John_Roe.docx"}, names)
}

func TestRun_OneEntryPerRecord(t *testing.T) {
	records := loadRecords(t,
		[]string{"A", "X"},
		[]string{"B", "X"},
		[]string{"C", "X"},
		[]string{"D", "X"},
	)

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{"A.docx", "B.docx", "C.docx", "D.docx"}, names)
	assert.Equal(t, "Dear C, welcome to X.", firstParagraph(t, contents["C.docx"]))
	assert.Equal(t, 4, res.Report.Primary)
}

func TestRun_ConversionFailureIsolated(t *testing.T) {
	records := loadRecords(t,
		[]string{"A", "X"},
		[]string{"B", "X"},
		[]string{"C", "X"},
		[]string{"D", "X"},
		[]string{"E", "X"},
	)
	r := &fakeRenderer{failFor: map[string]bool{"C": true}}

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{Renderer: r})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{
		"A.docx", "A.pdf",
		"B.docx", "B.pdf",
		"C.docx",
		"D.docx", "D.pdf",
		"E.docx", "E.pdf",
	}, names)
	assert.Equal(t, []byte("%PDF-fake D"), contents["D.pdf"])
	assert.Equal(t, 5, r.calls)

	assert.Equal(t, 5, res.Report.Primary)
	assert.Equal(t, 4, res.Report.Secondary)
	require.Len(t, res.Report.Failures, 1)
	assert.Equal(t, []string{"C"}, res.Report.FailedRecords())
	assert.Equal(t, "fake", res.Report.Failures[0].Renderer)
	assert.Equal(t, []models.RecordFailure{{Record: "C", Error: "converter crashed"}}, res.Report.RecordFailures())
}

func TestRun_NestedLayout(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"})

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{
		Renderer:     &fakeRenderer{},
		NestByRecord: true,
	})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe/Jane_Doe.docx", "Jane_Doe/Jane_Doe.pdf"}, names)
}

func TestRun_NestedWithoutRendererIsFlat(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"})

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{NestByRecord: true})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx"}, names)
}

func TestRun_CollisionOverwrite(t *testing.T) {
	records := loadRecords(t,
		[]string{"Jane Doe", "First College"},
		[]string{"Jane Doe", "Second College"},
	)

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx"}, names)
	assert.Equal(t, "Dear Jane Doe, welcome to Second College.", firstParagraph(t, contents["Jane_Doe.docx"]))
	assert.Equal(t, []string{"Jane_Doe"}, res.Report.Collisions)
	assert.Equal(t, 2, res.Report.Records)
	assert.Equal(t, 1, res.Report.Primary)
}

func TestRun_CollisionOverwriteDropsStaleSecondary(t *testing.T) {
	// Both records map to Jane_Doe; the fake fails for every render after
	// the first, so the second record has no secondary output.
	records := loadRecords(t,
		[]string{"Jane Doe", "First College"},
		[]string{"Jane Doe", "Second College"},
	)
	r := &failAfter{n: 1}

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{Renderer: r})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx"}, names)
	assert.Equal(t, 0, res.Report.Secondary)
	assert.Len(t, res.Report.Failures, 1)
}

type failAfter struct {
	n     int
	calls int
}

func (f *failAfter) Name() string      { return "fail-after" }
func (f *failAfter) Extension() string { return ".pdf" }

func (f *failAfter) Render(_ context.Context, base string, _ []byte) ([]byte, error) {
	f.calls++
	if f.calls > f.n {
		return nil, errors.New("out of licenses")
	}
	return []byte("%PDF-fake " + base), nil
}

func TestRun_CollisionSuffix(t *testing.T) {
	records := loadRecords(t,
		[]string{"Jane Doe", "First College"},
		[]string{"Jane Doe", "Second College"},
		[]string{"Jane Doe", "Third College"},
	)

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{Collisions: CollisionSuffix})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx", "Jane_Doe_2.docx", "Jane_Doe_3.docx"}, names)
	assert.Equal(t, "Dear Jane Doe, welcome to Third College.", firstParagraph(t, contents["Jane_Doe_3.docx"]))
	assert.Empty(t, res.Report.Collisions)
}

func TestRun_CollisionFail(t *testing.T) {
	records := loadRecords(t,
		[]string{"Jane Doe", "First College"},
		[]string{"Jane  Doe", "Second College"},
		[]string{"Jane_Doe", "Third College"},
	)

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{Collisions: CollisionFail})
	require.Error(t, err)
	assert.Nil(t, res)

	var dup *models.DuplicateKeyError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "Jane_Doe", dup.Name)
	assert.True(t, models.IsInputError(err))
}

func TestRun_TemplateParseErrorIsFatal(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"})
	r := &fakeRenderer{}

	res, err := Run(context.Background(), records, []byte("plain text, not a package"), Options{
		TemplateName: "letter.docx",
		Renderer:     r,
	})
	require.Error(t, err)
	assert.Nil(t, res)

	var parseErr *models.TemplateParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "letter.docx", parseErr.Name)
	assert.Zero(t, r.calls)
}

func TestRun_UnsupportedTemplateName(t *testing.T) {
	_, err := Run(context.Background(), nil, ts.LetterTemplate(), Options{TemplateName: "letter.pdf"})
	var unsupported *models.UnsupportedFormatError
	assert.ErrorAs(t, err, &unsupported)
}

func TestRun_CanceledContext(t *testing.T) {
	records := loadRecords(t, []string{"A", "X"}, []string{"B", "X"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := Run(ctx, records, ts.LetterTemplate(), Options{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestRun_NoRecords(t *testing.T) {
	res, err := Run(context.Background(), nil, ts.LetterTemplate(), Options{})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Empty(t, names)
	assert.Zero(t, res.Report.Records)
}

func TestRun_UnmappedTokensReported(t *testing.T) {
	template := ts.DOCX(ts.Paragraph("Hi " + ts.Token("Student Name") + ", your course is " + ts.Token("Course") + "."))
	records := loadRecords(t, []string{"Jane Doe", "Acme U"})

	res, err := Run(context.Background(), records, template, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"<Course>"}, res.Report.UnmappedTokens)
	_, contents := entries(t, res.Archive)
	assert.Equal(t, "Hi Jane Doe, your course is <Course>.", firstParagraph(t, contents["Jane_Doe.docx"]))
}

func TestRun_CustomFields(t *testing.T) {
	template := ts.DOCX(ts.Paragraph("Hello {{name}} from {{school}}"))
	fields, err := config.ParseFieldSet([]byte(`
key_field: Student Name
fields:
  - column: Student Name
    placeholder: "{{name}}"
  - column: College Name
    placeholder: "{{school}}"
`))
	require.NoError(t, err)

	records := loadRecords(t, []string{"Jane Doe", "Acme U"})
	res, err := Run(context.Background(), records, template, Options{Fields: fields})
	require.NoError(t, err)

	_, contents := entries(t, res.Archive)
	assert.Equal(t, "Hello Jane Doe from Acme U", firstParagraph(t, contents["Jane_Doe.docx"]))
}

func TestRun_Progress(t *testing.T) {
	records := loadRecords(t, []string{"A", "X"}, []string{"B", "X"}, []string{"C", "X"})

	var seen [][2]int
	_, err := Run(context.Background(), records, ts.LetterTemplate(), Options{
		Progress: func(done, total int) { seen = append(seen, [2]int{done, total}) },
	})
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{1, 3}, {2, 3}, {3, 3}}, seen)
}

func TestRun_CombinedPDF(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"}, []string{"John Roe", "Acme U"})

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{
		Renderer:    render.NewInProcess(),
		CombinedPDF: "All_Documents.pdf",
	})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx", "Jane_Doe.pdf", "John_Roe.docx", "John_Roe.pdf", "All_Documents.pdf"}, names)
	assert.Equal(t, 2, res.Report.Secondary)
	assert.Equal(t, "All_Documents.pdf", res.Report.Combined)

	pages, err := render.PageCount(contents["All_Documents.pdf"])
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestRun_CombinedPDFNameTakenByRecord(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"}, []string{"All Documents", "Acme U"})

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{
		Renderer:    render.NewInProcess(),
		CombinedPDF: "All_Documents.pdf",
	})
	require.NoError(t, err)

	names, contents := entries(t, res.Archive)
	assert.Equal(t, []string{
		"Jane_Doe.docx", "Jane_Doe.pdf",
		"All_Documents.docx", "All_Documents.pdf",
		"All_Documents_2.pdf",
	}, names)
	assert.Equal(t, "All_Documents_2.pdf", res.Report.Combined)
	assert.Equal(t, 2, res.Report.Primary)
	assert.Equal(t, 2, res.Report.Secondary)

	pages, err := render.PageCount(contents["All_Documents.pdf"])
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
	pages, err = render.PageCount(contents["All_Documents_2.pdf"])
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
}

func TestRun_CombinedPDFFailureKeepsCounts(t *testing.T) {
	records := loadRecords(t, []string{"Jane Doe", "Acme U"}, []string{"All Documents", "Acme U"})

	// The fake payloads are not real PDFs, so joining them fails.
	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{
		Renderer:    &fakeRenderer{},
		CombinedPDF: "All_Documents.pdf",
	})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Equal(t, []string{"Jane_Doe.docx", "Jane_Doe.pdf", "All_Documents.docx", "All_Documents.pdf"}, names)
	assert.Empty(t, res.Report.Combined)
	assert.Equal(t, 2, res.Report.Primary)
	assert.Equal(t, 2, res.Report.Secondary)
}

func TestRun_DotKeysStayInsideArchive(t *testing.T) {
	records := loadRecords(t, []string{"..", "Acme U"}, []string{"Jane Doe", "Acme U"})

	res, err := Run(context.Background(), records, ts.LetterTemplate(), Options{
		Renderer:     &fakeRenderer{},
		NestByRecord: true,
	})
	require.NoError(t, err)

	names, _ := entries(t, res.Archive)
	assert.Equal(t, []string{"__/__.docx", "__/__.pdf", "Jane_Doe/Jane_Doe.docx", "Jane_Doe/Jane_Doe.pdf"}, names)
	for _, name := range names {
		assert.NotContains(t, name, "..")
	}
}

func TestParseCollisionPolicy(t *testing.T) {
	tests := []struct {
		in      string
		want    CollisionPolicy
		wantErr bool
	}{
		{"", CollisionOverwrite, false},
		{"overwrite", CollisionOverwrite, false},
		{" Suffix ", CollisionSuffix, false},
		{"FAIL", CollisionFail, false},
		{"merge", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCollisionPolicy(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBaseName(t *testing.T) {
	assert.Equal(t, "Jane_Doe", BaseName("Jane Doe"))
	assert.Equal(t, "Jane_Doe_", BaseName("Jane\tDoe "))
	assert.Equal(t, "a_b_c", BaseName("a/b\\c"))
	assert.Equal(t, "Zoë_Ng", BaseName("Zoë Ng"))
	assert.Equal(t, "_", BaseName("."))
	assert.Equal(t, "__", BaseName(".."))
	assert.Equal(t, "_hidden", BaseName(".hidden"))
	assert.Equal(t, "___x", BaseName("../x"))
	assert.Equal(t, "_", BaseName(""))
}

func TestBuildPlaceholders(t *testing.T) {
	rec := roster.Record{Values: map[string]string{"Student Name": "Jane Doe"}}
	got := BuildPlaceholders(config.DefaultFieldSet(), rec)
	assert.Equal(t, PlaceholderMap{"<Student Name>": "Jane Doe", "<College Name>": ""}, got)
}
