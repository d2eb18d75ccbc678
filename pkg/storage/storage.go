// Package storage opens event logs and artifacts on local disk or S3.
package storage

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/logflow/dfgflow/pkg/errors"
)

// Location is a parsed storage URI.
type Location struct {
	Scheme string // "file" or "s3"
	Bucket string
	Key    string // object key, or local path for "file"
}

// Name returns the file name part, used for format detection.
func (l Location) Name() string {
	return filepath.Base(l.Key)
}

// String renders the location back as a URI or path.
func (l Location) String() string {
	if l.Scheme == "s3" {
		return "s3://" + l.Bucket + "/" + l.Key
	}
	return l.Key
}

// Parse splits uri into a Location. Anything without a scheme (or with a
// single-letter Windows drive "scheme") is a local path.
func Parse(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || len(u.Scheme) == 1 {
		return Location{Scheme: "file", Key: uri}, nil
	}

	switch u.Scheme {
	case "file":
		return Location{Scheme: "file", Key: u.Path}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Location{}, errors.New(errors.CodeInvalidFormat, "s3 uri needs a bucket and a key").
				WithContext("uri", uri)
		}
		return Location{Scheme: "s3", Bucket: u.Host, Key: key}, nil
	default:
		return Location{}, errors.New(errors.CodeUnsupportedFormat, "unsupported storage scheme").
			WithContext("scheme", u.Scheme)
	}
}

// Opener opens readers and writers for Locations.
type Opener struct {
	S3 S3Config
}

// Reader opens loc for reading. For local files the returned reader is an
// *os.File so random-access parsers can use it directly.
func (o Opener) Reader(ctx context.Context, loc Location) (io.ReadCloser, int64, error) {
	if loc.Scheme == "s3" {
		c, err := NewS3Client(ctx, o.S3)
		if err != nil {
			return nil, 0, err
		}
		return c.Reader(ctx, loc.Bucket, loc.Key)
	}

	f, err := os.Open(loc.Key)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, errors.FileNotFound(loc.Key)
		}
		return nil, 0, errors.Wrap(err, errors.CodeParseFailed, "failed to open input").WithContext("path", loc.Key)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, errors.Wrap(err, errors.CodeParseFailed, "failed to stat input").WithContext("path", loc.Key)
	}
	return f, info.Size(), nil
}

// Writer opens loc for writing. Local parent directories are created.
// The artifact is complete only after Close returns nil.
func (o Opener) Writer(ctx context.Context, loc Location, contentType string) (io.WriteCloser, error) {
	if loc.Scheme == "s3" {
		c, err := NewS3Client(ctx, o.S3)
		if err != nil {
			return nil, err
		}
		return c.Writer(loc.Bucket, loc.Key, contentType), nil
	}

	if dir := filepath.Dir(loc.Key); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to create output directory").WithContext("dir", dir)
		}
	}
	f, err := os.Create(loc.Key)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeWriteFailed, "failed to create output").WithContext("path", loc.Key)
	}
	return f, nil
}

// Open parses uri and opens it for writing.
func (o Opener) Open(ctx context.Context, uri, contentType string) (io.WriteCloser, error) {
	loc, err := Parse(uri)
	if err != nil {
		return nil, err
	}
	return o.Writer(ctx, loc, contentType)
}
