// Package render produces the fixed-layout secondary format of a merged
// document. Backends are pluggable: an external converter process or an
// in-process layout engine. Every backend's output is validated and
// optimized with pdfcpu before it leaves the package.
package render

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Renderer converts a primary-format document into a secondary format.
type Renderer interface {
	// Name identifies the backend in logs and failure reports.
	Name() string
	// Extension is the output file extension, including the dot.
	Extension() string
	// Render converts primary. base is the record's output base name.
	Render(ctx context.Context, base string, primary []byte) ([]byte, error)
}

// Backend names accepted by FromName.
const (
	KindNone      = "none"
	KindCommand   = "command"
	KindInProcess = "inprocess"
	KindAuto      = "auto"
)

// Options configures the backends built by FromName.
type Options struct {
	Binary  string
	Timeout time.Duration
}

// FromName builds the backend named by kind. KindNone (or "") returns a nil
// Renderer, meaning primary-format output only. KindAuto prefers the
// external converter and falls back to the in-process renderer when the
// binary is not on PATH.
func FromName(kind string, opts Options) (Renderer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindNone:
		return nil, nil
	case KindCommand:
		return NewCommand(opts.Binary, opts.Timeout), nil
	case KindInProcess:
		return NewInProcess(), nil
	case KindAuto:
		cmd := NewCommand(opts.Binary, opts.Timeout)
		if _, err := exec.LookPath(cmd.Binary); err == nil {
			return cmd, nil
		}
		return NewInProcess(), nil
	default:
		return nil, fmt.Errorf("unknown renderer %q (want none, command, inprocess or auto)", kind)
	}
}
