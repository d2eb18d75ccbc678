package parser

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/timeparse"
	"github.com/logflow/dfgflow/pkg/errors"
)

// JSONLParser reads newline-delimited JSON. Each line is one event object
// keyed by the configured column names.
type JSONLParser struct {
	cfg Config
	rowErrors
}

// NewJSONLParser creates a new JSONL parser.
func NewJSONLParser(cfg Config) *JSONLParser {
	return &JSONLParser{
		cfg:       cfg,
		rowErrors: rowErrors{policy: cfg.ErrorPolicy},
	}
}

// Parse implements the Parser interface for JSONL format.
func (p *JSONLParser) Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error {
	reader := bufio.NewReaderSize(r, p.cfg.BufferSize)

	row := 0
	for {
		select {
		case <-ctx.Done():
			return errors.ContextCanceled("parse")
		default:
		}

		line, readErr := reader.ReadBytes('\n')
		if readErr != nil && readErr != io.EOF {
			return errors.Wrap(readErr, errors.CodeParseFailed, "reading line").WithContext("row", row+1)
		}
		if len(line) == 0 && readErr == io.EOF {
			break
		}
		row++

		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			ev, err := p.decode(line, row)
			if err != nil {
				if err := p.handle(err); err != nil {
					return err
				}
			} else if err := emit(ctx, out, ev); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			break
		}
	}

	return nil
}

func (p *JSONLParser) decode(line []byte, row int) (*model.Event, *errors.Error) {
	var obj map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&obj); err != nil {
		return nil, errors.ParseError("jsonl", row, err)
	}

	ev := &model.Event{
		CaseID:   scalarString(obj[p.cfg.CaseIDColumn]),
		Activity: scalarString(obj[p.cfg.ActivityColumn]),
		Resource: scalarString(obj[p.cfg.ResourceColumn]),
	}

	switch v := obj[p.cfg.TimestampColumn].(type) {
	case string:
		ts, err := timeparse.ParseLayout([]byte(v), p.cfg.TimestampFormat)
		if err != nil {
			return nil, errors.InvalidTimestamp(v, row)
		}
		ev.Timestamp = ts
	case json.Number:
		// Numeric timestamps are Unix seconds.
		secs, err := v.Float64()
		if err != nil {
			return nil, errors.InvalidTimestamp(v.String(), row)
		}
		whole, frac := math.Modf(secs)
		ev.Timestamp = time.Unix(int64(whole), int64(frac*1e9)).UTC()
	default:
		return nil, errors.InvalidTimestamp(scalarString(v), row)
	}

	return ev, nil
}

// scalarString renders a JSON scalar as a string; objects and arrays are "".
func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}
