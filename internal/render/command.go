package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const (
	// DefaultBinary is the LibreOffice entry point.
	DefaultBinary = "soffice"
	// DefaultTimeout bounds a single conversion.
	DefaultTimeout = 2 * time.Minute

	stagedName = "document"
)

// ErrNoOutput is returned when the converter exits cleanly without writing
// the expected file.
var ErrNoOutput = errors.New("converter produced no output file")

// Command converts through an external, LibreOffice-compatible executable:
//
//	<binary> --headless --convert-to pdf --outdir <dir> <dir>/document.docx
//
// Each call stages its input in a fresh temp directory, which also holds
// the converter's user profile so concurrent processes never share one.
type Command struct {
	Binary  string
	Timeout time.Duration
}

// NewCommand returns a Command, applying defaults for empty values.
func NewCommand(binary string, timeout time.Duration) *Command {
	if binary == "" {
		binary = DefaultBinary
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Command{Binary: binary, Timeout: timeout}
}

func (c *Command) Name() string      { return filepath.Base(c.Binary) }
func (c *Command) Extension() string { return PDFExtension }

// Render runs the converter once. A non-zero exit, a timeout or a missing
// output file is an error.
func (c *Command) Render(ctx context.Context, base string, primary []byte) ([]byte, error) {
	dir, err := os.MkdirTemp("", "mail-merge-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, stagedName+".docx")
	if err := os.WriteFile(input, primary, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage %s: %w", base, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.Binary,
		"-env:UserInstallation=file://"+filepath.ToSlash(filepath.Join(dir, "profile")),
		"--headless",
		"--convert-to", "pdf",
		"--outdir", dir,
		input,
	)
	cmd.WaitDelay = 5 * time.Second
	out, err := cmd.CombinedOutput()
	if runCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("converter timed out after %s", c.Timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("converter failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	pdf, err := os.ReadFile(filepath.Join(dir, stagedName+PDFExtension))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoOutput
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read converter output: %w", err)
	}
	return Normalize(pdf)
}
