package pipeline

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/export"
	"github.com/logflow/dfgflow/pkg/render"
	"github.com/logflow/dfgflow/pkg/storage"
)

// Artifact is an output encoding.
type Artifact string

const (
	ArtifactDOT     Artifact = "dot"
	ArtifactSVG     Artifact = "svg"
	ArtifactPNG     Artifact = "png"
	ArtifactPDF     Artifact = "pdf"
	ArtifactJSON    Artifact = "json"
	ArtifactParquet Artifact = "parquet"
)

// ParseArtifact maps a format name onto an Artifact.
func ParseArtifact(s string) (Artifact, error) {
	s = strings.ToLower(strings.TrimPrefix(s, "."))
	switch s {
	case "json", "parquet":
		return Artifact(s), nil
	}
	if f, ok := render.ParseFormat(s); ok {
		return Artifact(f), nil
	}
	return "", errors.Newf(errors.CodeUnsupportedFormat, "unsupported output format %q", s)
}

// ArtifactFor picks the artifact from an explicit format or, failing
// that, from the extension of uri. fallback applies when neither names one.
func ArtifactFor(uri, explicit string, fallback Artifact) (Artifact, error) {
	if explicit != "" {
		return ParseArtifact(explicit)
	}
	if ext := filepath.Ext(uri); ext != "" {
		return ParseArtifact(ext)
	}
	return fallback, nil
}

// ContentType returns the MIME type of a.
func (a Artifact) ContentType() string {
	switch a {
	case ArtifactJSON:
		return "application/json"
	case ArtifactParquet:
		return "application/vnd.apache.parquet"
	default:
		return render.Format(a).ContentType()
	}
}

// WriteOptions control artifact encoding.
type WriteOptions struct {
	// MaxEdges caps rendered graphs; see render.Options.
	MaxEdges int

	// Compression is the Parquet codec name.
	Compression string

	Renderer render.Renderer
}

// Write encodes out as a to w.
func Write(ctx context.Context, w io.Writer, a Artifact, out *Output, opts WriteOptions) error {
	switch a {
	case ArtifactJSON:
		return export.WriteJSON(w, out.Result, out.Performance)
	case ArtifactParquet:
		codec, err := export.ParseCompression(opts.Compression)
		if err != nil {
			return err
		}
		return export.WriteParquet(w, out.Result, codec)
	default:
		dot := render.DOT(out.Result, render.Options{MaxEdges: opts.MaxEdges, Performance: out.Performance})
		return opts.Renderer.Image(ctx, dot, render.Format(a), w)
	}
}

// WriteTo encodes out to a local path or an s3:// URI.
func WriteTo(ctx context.Context, opener storage.Opener, uri string, a Artifact, out *Output, opts WriteOptions) error {
	w, err := opener.Open(ctx, uri, a.ContentType())
	if err != nil {
		return err
	}
	if err := Write(ctx, w, a, out, opts); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to finish output").WithContext("uri", uri)
	}
	return nil
}
