package parser

import (
	"bufio"
	"context"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/timeparse"
	"github.com/logflow/dfgflow/pkg/errors"
)

// CSVParser reads delimited event logs line by line.
// Quoted fields may contain delimiters but not line breaks.
type CSVParser struct {
	cfg     Config
	scanner *fieldScanner
	rowErrors
}

// NewCSVParser creates a new CSV parser.
func NewCSVParser(cfg Config) *CSVParser {
	return &CSVParser{
		cfg:       cfg,
		scanner:   newFieldScanner(cfg.Delimiter),
		rowErrors: rowErrors{policy: cfg.ErrorPolicy},
	}
}

// columns holds resolved header positions; resource is -1 when absent.
type columns struct {
	caseID, activity, timestamp, resource int
}

// Parse implements the Parser interface.
func (p *CSVParser) Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error {
	reader := bufio.NewReaderSize(r, p.cfg.BufferSize)

	headerLine, err := reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return errors.Wrap(err, errors.CodeParseFailed, "reading header")
	}
	headerLine = trimLineEnding(stripBOM(headerLine))
	if len(headerLine) == 0 {
		return errors.New(errors.CodeInvalidFormat, "empty CSV input")
	}

	header := p.scanner.Scan(headerLine, nil)
	cols, err := p.resolveColumns(header)
	if err != nil {
		return err
	}
	required := max(cols.caseID, cols.activity, cols.timestamp)

	layout := p.cfg.TimestampFormat
	if layout == "" {
		layout = p.sniffLayout(reader, cols.timestamp)
	}

	var fields []string
	row := 1
	for {
		select {
		case <-ctx.Done():
			return errors.ContextCanceled("parse")
		default:
		}

		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return errors.Wrap(readErr, errors.CodeParseFailed, "reading row").WithContext("row", row+1)
		}
		if len(line) == 0 && readErr == io.EOF {
			break
		}
		row++

		line = trimLineEnding(line)
		if len(line) == 0 {
			if readErr == io.EOF {
				break
			}
			continue
		}
		if !utf8.Valid(line) {
			if err := p.handle(errors.New(errors.CodeEncodingError, "invalid UTF-8").WithContext("row", row)); err != nil {
				return err
			}
			continue
		}

		fields = p.scanner.Scan(line, fields)
		if len(fields) <= required {
			malformed := errors.New(errors.CodeInvalidFormat, "row has too few fields").
				WithContext("row", row).
				WithContext("fields", len(fields)).
				WithContext("expected", len(header))
			if err := p.handle(malformed); err != nil {
				return err
			}
			continue
		}

		raw := strings.TrimSpace(fields[cols.timestamp])
		ts, tsErr := timeparse.ParseLayout([]byte(raw), layout)
		if tsErr != nil {
			if err := p.handle(errors.InvalidTimestamp(raw, row)); err != nil {
				return err
			}
			continue
		}

		ev := &model.Event{
			CaseID:    fields[cols.caseID],
			Activity:  fields[cols.activity],
			Timestamp: ts,
		}
		if cols.resource >= 0 && cols.resource < len(fields) {
			ev.Resource = fields[cols.resource]
		}

		if err := emit(ctx, out, ev); err != nil {
			return err
		}

		if readErr == io.EOF {
			break
		}
	}

	return nil
}

// resolveColumns maps the configured column names onto header positions.
func (p *CSVParser) resolveColumns(header []string) (columns, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(name)] = i
	}

	lookup := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return -1, errors.MissingColumn(name, header)
		}
		return i, nil
	}

	var cols columns
	var err error
	if cols.caseID, err = lookup(p.cfg.CaseIDColumn); err != nil {
		return cols, err
	}
	if cols.activity, err = lookup(p.cfg.ActivityColumn); err != nil {
		return cols, err
	}
	if cols.timestamp, err = lookup(p.cfg.TimestampColumn); err != nil {
		return cols, err
	}

	cols.resource = -1
	if i, ok := index[p.cfg.ResourceColumn]; ok && p.cfg.ResourceColumn != "" {
		cols.resource = i
	}
	return cols, nil
}

// sniffSamples bounds the rows inspected by sniffLayout.
const sniffSamples = 500

// sniffLayout peeks at the buffered rows to settle DD/MM vs MM/DD dates.
// It returns "" when the sample gives no evidence either way.
func (p *CSVParser) sniffLayout(reader *bufio.Reader, column int) string {
	buf, _ := reader.Peek(reader.Size())
	if i := strings.LastIndexByte(string(buf), '\n'); i >= 0 {
		buf = buf[:i]
	} else {
		return ""
	}

	detector := timeparse.NewDateOrderDetector(sniffSamples)
	scanner := newFieldScanner(p.cfg.Delimiter)
	var fields []string
	for n, line := range strings.Split(string(buf), "\n") {
		if n >= sniffSamples {
			break
		}
		fields = scanner.Scan(trimLineEnding([]byte(line)), fields)
		if column < len(fields) {
			detector.AddSample([]byte(strings.TrimSpace(fields[column])))
		}
	}

	switch order := detector.Detect(); order {
	case timeparse.OrderDMY, timeparse.OrderMDY:
		return order.Layout()
	default:
		return ""
	}
}
