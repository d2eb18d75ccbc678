package export

import (
	"io"
	"strings"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"

	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Row kinds in the Parquet export.
const (
	KindEdge  = "edge"
	KindStart = "start"
	KindEnd   = "end"
)

// edgeSchema has one row per edge; start and end rows leave the other
// endpoint null.
func edgeSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "kind", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "source", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "target", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "count", Type: arrow.PrimitiveTypes.Int64, Nullable: false},
	}, nil)
}

// ParseCompression maps a codec name to a parquet compression. Empty means
// snappy; "none" and "uncompressed" disable compression.
func ParseCompression(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "snappy", "":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "lz4":
		return compress.Codecs.Lz4, nil
	case "none", "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, errors.Newf(errors.CodeUnsupportedFormat,
			"unknown parquet compression %q (none, snappy, gzip, zstd, lz4)", name)
	}
}

// WriteParquet writes res as a single record batch: edges first (heaviest
// first), then start rows, then end rows, each group sorted.
func WriteParquet(w io.Writer, res *dfg.Result, codec compress.Compression) error {
	alloc := memory.NewGoAllocator()
	schema := edgeSchema()

	kind := array.NewStringBuilder(alloc)
	source := array.NewStringBuilder(alloc)
	target := array.NewStringBuilder(alloc)
	count := array.NewInt64Builder(alloc)
	defer kind.Release()
	defer source.Release()
	defer target.Release()
	defer count.Release()

	for _, e := range res.Edges() {
		kind.Append(KindEdge)
		source.Append(e.Source)
		target.Append(e.Target)
		count.Append(e.Count)
	}
	for _, a := range sortedKeys(res.StartActivities) {
		kind.Append(KindStart)
		source.AppendNull()
		target.Append(a)
		count.Append(res.StartActivities[a])
	}
	for _, a := range sortedKeys(res.EndActivities) {
		kind.Append(KindEnd)
		source.Append(a)
		target.AppendNull()
		count.Append(res.EndActivities[a])
	}

	cols := []arrow.Array{kind.NewArray(), source.NewArray(), target.NewArray(), count.NewArray()}
	for _, c := range cols {
		defer c.Release()
	}
	rec := array.NewRecord(schema, cols, int64(cols[0].Len()))
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithDictionaryDefault(true),
	)
	fw, err := pqarrow.NewFileWriter(schema, w, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to create parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write record batch")
	}
	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to close parquet writer")
	}
	return nil
}
