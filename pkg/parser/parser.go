// Package parser reads event logs (CSV, XES, XLSX, JSONL) into model events.
// Parsers own all row-level error handling; the discoverer only sees events.
package parser

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Parser defines the interface for parsing process mining data.
// Parse must not close out; the caller owns the channel.
type Parser interface {
	// Parse reads from r and sends parsed events to out.
	// It respects context cancellation.
	Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error

	// Skipped returns the number of rows dropped under ErrorPolicySkip.
	Skipped() int64
}

// Format represents a supported input format.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatTSV
	FormatXES
	FormatXLSX
	FormatJSONL
)

// String returns the format name.
func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatTSV:
		return "tsv"
	case FormatXES:
		return "xes"
	case FormatXLSX:
		return "xlsx"
	case FormatJSONL:
		return "jsonl"
	default:
		return "unknown"
	}
}

// ParseFormat parses a format name.
func ParseFormat(s string) Format {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV
	case "tsv", "tab":
		return FormatTSV
	case "xes":
		return FormatXES
	case "xlsx", "excel":
		return FormatXLSX
	case "jsonl", "ndjson", "json":
		return FormatJSONL
	default:
		return FormatUnknown
	}
}

// DetectFormat picks a format from the file extension unless explicit is set.
func DetectFormat(path, explicit string) Format {
	if explicit != "" {
		return ParseFormat(explicit)
	}
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "gz" {
		ext = strings.TrimPrefix(filepath.Ext(strings.TrimSuffix(path, ".gz")), ".")
	}
	return ParseFormat(ext)
}

// Config holds common parser configuration.
type Config struct {
	// BufferSize is the size of the read buffer in bytes.
	BufferSize int

	// CaseIDColumn is the name of the case ID column.
	CaseIDColumn string

	// ActivityColumn is the name of the activity column.
	ActivityColumn string

	// TimestampColumn is the name of the timestamp column.
	TimestampColumn string

	// ResourceColumn is the name of the resource column (optional).
	ResourceColumn string

	// TimestampFormat is tried before auto-detection (Go time layout).
	TimestampFormat string

	// Delimiter is the field delimiter for CSV (default: comma).
	Delimiter byte

	// ErrorPolicy decides between failing and dropping bad rows.
	ErrorPolicy ErrorPolicy
}

// DefaultConfig returns a Config using the XES standard column names.
func DefaultConfig() Config {
	return Config{
		BufferSize:      64 * 1024,
		CaseIDColumn:    "case:concept:name",
		ActivityColumn:  "concept:name",
		TimestampColumn: "time:timestamp",
		ResourceColumn:  "org:resource",
		Delimiter:       ',',
		ErrorPolicy:     ErrorPolicyStrict,
	}
}

// NewParser creates a parser for the given format.
func NewParser(format Format, cfg Config) (Parser, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 64 * 1024
	}
	switch format {
	case FormatCSV:
		return NewCSVParser(cfg), nil
	case FormatTSV:
		cfg.Delimiter = '\t'
		return NewCSVParser(cfg), nil
	case FormatXES:
		return NewXESParser(cfg), nil
	case FormatXLSX:
		return NewXLSXParser(cfg), nil
	case FormatJSONL:
		return NewJSONLParser(cfg), nil
	default:
		return nil, errors.New(errors.CodeUnsupportedFormat, "unsupported input format").
			WithContext("format", format.String())
	}
}

// emit sends an event unless the context is done.
func emit(ctx context.Context, out chan<- *model.Event, ev *model.Event) error {
	select {
	case out <- ev:
		return nil
	case <-ctx.Done():
		return errors.ContextCanceled("parse")
	}
}
