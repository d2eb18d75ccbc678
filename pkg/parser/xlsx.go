package parser

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/timeparse"
	"github.com/logflow/dfgflow/pkg/errors"
)

// XLSXParser reads the first sheet of an Excel workbook.
// The first row is the header; date cells are read as raw serial numbers.
type XLSXParser struct {
	cfg Config
	rowErrors
}

// NewXLSXParser creates a new XLSX parser.
func NewXLSXParser(cfg Config) *XLSXParser {
	return &XLSXParser{
		cfg:       cfg,
		rowErrors: rowErrors{policy: cfg.ErrorPolicy},
	}
}

// Parse implements the Parser interface. Workbooks need random access, so a
// non-file reader is buffered in memory by excelize.
func (p *XLSXParser) Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error {
	var xl *excelize.File
	var err error
	if f, ok := r.(*os.File); ok {
		xl, err = excelize.OpenFile(f.Name())
	} else {
		xl, err = excelize.OpenReader(r)
	}
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidFormat, "failed to open xlsx")
	}
	defer xl.Close()

	sheet := xl.GetSheetName(0)
	if sheet == "" {
		sheets := xl.GetSheetList()
		if len(sheets) == 0 {
			return errors.New(errors.CodeInvalidFormat, "no sheets found in xlsx file")
		}
		sheet = sheets[0]
	}

	rows, err := xl.Rows(sheet)
	if err != nil {
		return errors.Wrap(err, errors.CodeParseFailed, "failed to read rows").WithContext("sheet", sheet)
	}
	defer rows.Close()

	if !rows.Next() {
		return errors.New(errors.CodeInvalidFormat, "xlsx file is empty")
	}
	header, err := rows.Columns()
	if err != nil {
		return errors.Wrap(err, errors.CodeParseFailed, "failed to read header")
	}

	colIdx := make(map[string]int, len(header))
	for i, col := range header {
		colIdx[strings.TrimSpace(col)] = i
	}

	caseIdx, ok := findColumnIndex(colIdx, p.cfg.CaseIDColumn, "case:concept:name", "case_id", "Case ID", "CaseID")
	if !ok {
		return errors.MissingColumn(p.cfg.CaseIDColumn, header)
	}
	activityIdx, ok := findColumnIndex(colIdx, p.cfg.ActivityColumn, "concept:name", "activity", "Activity")
	if !ok {
		return errors.MissingColumn(p.cfg.ActivityColumn, header)
	}
	timestampIdx, ok := findColumnIndex(colIdx, p.cfg.TimestampColumn, "time:timestamp", "timestamp", "Timestamp")
	if !ok {
		return errors.MissingColumn(p.cfg.TimestampColumn, header)
	}
	resourceIdx, _ := findColumnIndex(colIdx, p.cfg.ResourceColumn, "org:resource", "resource", "Resource")

	row := 1
	for rows.Next() {
		select {
		case <-ctx.Done():
			return errors.ContextCanceled("parse")
		default:
		}
		row++

		cols, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			if err := p.handle(errors.ParseError("xlsx", row, err)); err != nil {
				return err
			}
			continue
		}
		if len(cols) == 0 {
			continue
		}

		raw := cell(cols, timestampIdx)
		ts, tsErr := timeparse.ParseLayout([]byte(raw), p.cfg.TimestampFormat)
		if tsErr != nil {
			if err := p.handle(errors.InvalidTimestamp(raw, row)); err != nil {
				return err
			}
			continue
		}

		ev := &model.Event{
			CaseID:    cell(cols, caseIdx),
			Activity:  cell(cols, activityIdx),
			Timestamp: ts,
			Resource:  cell(cols, resourceIdx),
		}
		if err := emit(ctx, out, ev); err != nil {
			return err
		}
	}

	return nil
}

// findColumnIndex tries multiple column names and returns the first match.
func findColumnIndex(colIdx map[string]int, names ...string) (int, bool) {
	for _, name := range names {
		if name == "" {
			continue
		}
		if idx, ok := colIdx[name]; ok {
			return idx, true
		}
	}
	return -1, false
}

// cell returns cols[i] trimmed, or "" when the row is short.
func cell(cols []string, i int) string {
	if i < 0 || i >= len(cols) {
		return ""
	}
	return strings.TrimSpace(cols[i])
}
