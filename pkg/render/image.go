package render

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strings"

	"github.com/logflow/dfgflow/pkg/errors"
)

// Format is an output format of the Graphviz dot binary.
type Format string

const (
	FormatDOT Format = "dot"
	FormatSVG Format = "svg"
	FormatPNG Format = "png"
	FormatPDF Format = "pdf"
)

// ParseFormat maps a name or file extension to a Format.
func ParseFormat(s string) (Format, bool) {
	switch f := Format(strings.TrimPrefix(strings.ToLower(s), ".")); f {
	case FormatDOT, FormatSVG, FormatPNG, FormatPDF:
		return f, true
	case "gv":
		return FormatDOT, true
	default:
		return "", false
	}
}

// ContentType returns the MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatSVG:
		return "image/svg+xml"
	case FormatPNG:
		return "image/png"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/vnd.graphviz"
	}
}

// Renderer turns DOT into images with an external Graphviz binary.
type Renderer struct {
	// Binary is the dot executable; "dot" is looked up in PATH.
	Binary string
}

// Image writes dot rendered as format to w. FormatDOT is written verbatim
// without invoking Graphviz.
func (r Renderer) Image(ctx context.Context, dot []byte, format Format, w io.Writer) error {
	if format == FormatDOT {
		if _, err := w.Write(dot); err != nil {
			return errors.Wrap(err, errors.CodeWriteFailed, "failed to write dot")
		}
		return nil
	}

	bin := r.Binary
	if bin == "" {
		bin = "dot"
	}
	path, err := exec.LookPath(bin)
	if err != nil {
		return errors.Wrap(err, errors.CodeRenderFailed, "graphviz not found").WithContext("binary", bin)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, "-T"+string(format))
	cmd.Stdin = bytes.NewReader(dot)
	cmd.Stdout = w
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errors.ContextCanceled("render")
		}
		return errors.Wrap(err, errors.CodeRenderFailed, "graphviz failed").
			WithContext("format", string(format)).
			WithContext("stderr", strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Image renders with the default Renderer.
func Image(ctx context.Context, dot []byte, format Format, w io.Writer) error {
	return Renderer{}.Image(ctx, dot, format, w)
}
