package render

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ts "github.com/Lllllllleong/docmergeflow/internal/testsupport"
)

func letter() []byte {
	return ts.DOCX(
		ts.Paragraph("Dear Jane Doe, welcome to Acme U.") +
			ts.Paragraph("") +
			ts.Table([]string{"Student", "College"}, []string{"Jane Doe", "Acme U"}) +
			ts.Paragraph("Café crème"),
	)
}

func renderFixture(t *testing.T) []byte {
	t.Helper()
	pdf, err := NewInProcess().Render(context.Background(), "Jane_Doe", letter())
	require.NoError(t, err)
	return pdf
}

// fakeConverter writes a shell script that behaves like soffice: body runs
// after the arguments are parsed into $outdir and $in.
func fakeConverter(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake converter needs a POSIX shell")
	}
	script := `#!/bin/sh
outdir=""
in=""
while [ $# -gt 0 ]; do
  case "$1" in
    --outdir) outdir="$2"; shift 2 ;;
    --convert-to) shift 2 ;;
    -*) shift ;;
    *) in="$1"; shift ;;
  esac
done
` + body + "\n"
	path := filepath.Join(t.TempDir(), "soffice")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestInProcess_Render(t *testing.T) {
	pdf := renderFixture(t)
	assert.True(t, bytes.HasPrefix(pdf, []byte("%PDF")))

	pages, err := PageCount(pdf)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestInProcess_RejectsNonDocument(t *testing.T) {
	_, err := NewInProcess().Render(context.Background(), "x", []byte("nope"))
	assert.Error(t, err)
}

func TestCommand_Render(t *testing.T) {
	fixture := filepath.Join(t.TempDir(), "fixture.pdf")
	require.NoError(t, os.WriteFile(fixture, renderFixture(t), 0o600))

	bin := fakeConverter(t, `cp "`+fixture+`" "$outdir/$(basename "$in" .docx).pdf"`)
	cmd := NewCommand(bin, 10*time.Second)
	assert.Equal(t, "soffice", cmd.Name())
	assert.Equal(t, ".pdf", cmd.Extension())

	pdf, err := cmd.Render(context.Background(), "Jane_Doe", letter())
	require.NoError(t, err)
	pages, err := PageCount(pdf)
	require.NoError(t, err)
	assert.Equal(t, 1, pages)
}

func TestCommand_Failures(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		timeout time.Duration
		wantErr string
	}{
		{"non-zero exit", `echo "boom" >&2; exit 3`, 10 * time.Second, "boom"},
		{"no output file", `exit 0`, 10 * time.Second, ErrNoOutput.Error()},
		{"not a pdf", `echo "garbage" > "$outdir/document.pdf"`, 10 * time.Second, "failed to validate/optimize PDF"},
		{"timeout", `exec sleep 5`, 200 * time.Millisecond, "timed out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCommand(fakeConverter(t, tt.body), tt.timeout)
			_, err := cmd.Render(context.Background(), "Jane_Doe", letter())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMergePDFs(t *testing.T) {
	one := renderFixture(t)
	merged, err := MergePDFs([][]byte{one, one, one})
	require.NoError(t, err)

	pages, err := PageCount(merged)
	require.NoError(t, err)
	assert.Equal(t, 3, pages)

	_, err = MergePDFs(nil)
	assert.Error(t, err)
}

func TestFromName(t *testing.T) {
	r, err := FromName("none", Options{})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = FromName("", Options{})
	require.NoError(t, err)
	assert.Nil(t, r)

	r, err = FromName("InProcess", Options{})
	require.NoError(t, err)
	assert.IsType(t, &InProcess{}, r)

	r, err = FromName("command", Options{Binary: "/opt/lo/soffice"})
	require.NoError(t, err)
	require.IsType(t, &Command{}, r)
	assert.Equal(t, DefaultTimeout, r.(*Command).Timeout)

	r, err = FromName("auto", Options{Binary: filepath.Join(t.TempDir(), "missing-soffice")})
	require.NoError(t, err)
	assert.IsType(t, &InProcess{}, r)

	_, err = FromName("wkhtmltopdf", Options{})
	assert.Error(t, err)
}
