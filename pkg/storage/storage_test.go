package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/logflow/dfgflow/pkg/errors"
)

func TestParse(t *testing.T) {
	tests := []struct {
		uri  string
		want Location
	}{
		{"out/graph.svg", Location{Scheme: "file", Key: "out/graph.svg"}},
		{"file:///tmp/graph.svg", Location{Scheme: "file", Key: "/tmp/graph.svg"}},
		{"C:/logs/a.csv", Location{Scheme: "file", Key: "C:/logs/a.csv"}},
		{"s3://bucket/path/to/log.xes", Location{Scheme: "s3", Bucket: "bucket", Key: "path/to/log.xes"}},
	}

	for _, tt := range tests {
		got, err := Parse(tt.uri)
		if err != nil {
			t.Errorf("Parse(%q) failed: %v", tt.uri, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q): expected %+v, got %+v", tt.uri, tt.want, got)
		}
	}
}

func TestParse_Errors(t *testing.T) {
	if _, err := Parse("s3://bucket-only"); !errors.IsCode(err, errors.CodeInvalidFormat) {
		t.Errorf("Expected %s, got %v", errors.CodeInvalidFormat, err)
	}
	if _, err := Parse("gs://bucket/key"); !errors.IsCode(err, errors.CodeUnsupportedFormat) {
		t.Errorf("Expected %s, got %v", errors.CodeUnsupportedFormat, err)
	}
}

func TestLocation_NameAndString(t *testing.T) {
	loc := Location{Scheme: "s3", Bucket: "b", Key: "logs/x.csv.gz"}
	if loc.Name() != "x.csv.gz" {
		t.Errorf("Expected name x.csv.gz, got %s", loc.Name())
	}
	if loc.String() != "s3://b/logs/x.csv.gz" {
		t.Errorf("Expected s3 uri, got %s", loc.String())
	}
}

func TestOpener_LocalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.dot")
	ctx := context.Background()
	var o Opener

	w, err := o.Open(ctx, path, "text/vnd.graphviz")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, err := io.WriteString(w, "digraph {}"); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	r, size, err := o.Reader(ctx, Location{Scheme: "file", Key: path})
	if err != nil {
		t.Fatalf("Reader failed: %v", err)
	}
	defer r.Close()
	if size != int64(len("digraph {}")) {
		t.Errorf("Expected size %d, got %d", len("digraph {}"), size)
	}
	if _, ok := r.(*os.File); !ok {
		t.Error("Expected local reader to be an *os.File")
	}
}

func TestOpener_MissingFile(t *testing.T) {
	_, _, err := Opener{}.Reader(context.Background(), Location{Scheme: "file", Key: filepath.Join(t.TempDir(), "nope")})
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected %s, got %v", errors.CodeFileNotFound, err)
	}
}

func TestS3Config_Defaults(t *testing.T) {
	cfg := S3Config{PartSize: 1024}.withDefaults()
	if cfg.PartSize != 5*1024*1024 {
		t.Errorf("Expected minimum part size, got %d", cfg.PartSize)
	}
	if cfg.Timeout == 0 {
		t.Error("Expected default timeout")
	}
}
