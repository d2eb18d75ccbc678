// Package store runs discovery inside DuckDB.
//
// Events live in a single table and the graph is computed with window
// functions, which lets logs larger than memory be processed straight from
// CSV. Results agree with dfg.Discover on every valid log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Store holds an event table in DuckDB.
type Store struct {
	db   *sql.DB
	path string
}

// Config configures the store.
type Config struct {
	// Path is the database file path ("" or ":memory:" for in-memory)
	Path string

	// Threads limits DuckDB worker threads (0 = DuckDB default)
	Threads int
}

// New opens an in-memory store.
func New() (*Store, error) {
	return NewWithConfig(Config{})
}

// NewWithConfig opens a store with custom configuration.
func NewWithConfig(cfg Config) (*Store, error) {
	dsn := cfg.Path
	if dsn == ":memory:" {
		dsn = ""
	}
	if cfg.Threads > 0 {
		dsn += fmt.Sprintf("?threads=%d", cfg.Threads)
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBInit, "failed to open DuckDB")
	}

	s := &Store{db: db, path: cfg.Path}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.CodeDuckDBInit, "failed to initialize schema")
	}
	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS event (
			case_id  VARCHAR,
			activity VARCHAR,
			ts       TIMESTAMP,
			seq      BIGINT
		)
	`)
	return err
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load replaces the event table with log. The log is validated first, so an
// invalid log leaves the table untouched and returns the error Discover would.
func (s *Store) Load(ctx context.Context, log *model.EventLog) error {
	if err := dfg.Validate(log); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to begin load")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM event"); err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to clear events")
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO event (case_id, activity, ts, seq) VALUES (?, ?, ?, ?)")
	if err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to prepare insert")
	}
	defer stmt.Close()

	if log != nil {
		for i := range log.Traces {
			tr := &log.Traces[i]
			// seq is the position inside the trace so ties on ts keep trace order.
			for j := range tr.Events {
				e := &tr.Events[j]
				if _, err := stmt.ExecContext(ctx, tr.CaseID, e.Activity, e.Timestamp.UTC(), int64(j)); err != nil {
					return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to insert event").
						WithContext("case", tr.CaseID)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to commit events")
	}
	return nil
}

// CSVColumns names the source columns read by LoadCSV.
type CSVColumns struct {
	CaseID    string
	Activity  string
	Timestamp string
	Delimiter byte

	// TimestampFormat is a strptime format; empty casts ISO timestamps.
	// See StrptimeFormat.
	TimestampFormat string
}

// LoadCSV replaces the event table with the rows of a CSV file read by
// DuckDB's own reader. The first row in file order whose timestamp does
// not parse fails with InvalidTimestamp; otherwise the first empty
// activity fails with InvalidInput.
func (s *Store) LoadCSV(ctx context.Context, path string, cols CSVColumns) error {
	delim := ","
	if cols.Delimiter != 0 {
		delim = string(cols.Delimiter)
	}

	ts := fmt.Sprintf("TRY_CAST(src.%s AS TIMESTAMP)", quoteIdent(cols.Timestamp))
	if cols.TimestampFormat != "" {
		ts = fmt.Sprintf("TRY_STRPTIME(TRIM(src.%s), '%s')", quoteIdent(cols.Timestamp), escapeSQLString(cols.TimestampFormat))
	}

	query := fmt.Sprintf(`
		CREATE OR REPLACE TABLE event AS
		SELECT
			CAST(src.%s AS VARCHAR) AS case_id,
			CAST(src.%s AS VARCHAR) AS activity,
			%s AS ts,
			ROW_NUMBER() OVER () AS seq,
			CAST(src.%s AS VARCHAR) AS raw_ts
		FROM read_csv_auto('%s', header = true, delim = '%s', all_varchar = true) src
	`, quoteIdent(cols.CaseID), quoteIdent(cols.Activity), ts, quoteIdent(cols.Timestamp),
		escapeSQLString(path), escapeSQLString(delim))

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		if strings.Contains(err.Error(), "No files found") || strings.Contains(err.Error(), "No such file") {
			return errors.FileNotFound(path)
		}
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to read csv").WithContext("path", path)
	}

	if err := s.validateTimestamps(ctx, cols.TimestampFormat); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "ALTER TABLE event DROP COLUMN raw_ts"); err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to read csv").WithContext("path", path)
	}
	return s.validate(ctx)
}

// validateTimestamps reports the first row whose raw timestamp cell did not
// parse. With a strptime format the parsed value must also print back to
// the cell, since strptime accepts unpadded fields. Rows are numbered like
// the CSV parser does, header included.
func (s *Store) validateTimestamps(ctx context.Context, format string) error {
	cond := "ts IS NULL"
	if format != "" {
		cond += fmt.Sprintf(" OR strftime(ts, '%s') <> TRIM(raw_ts)", escapeSQLString(format))
	}
	row := s.db.QueryRowContext(ctx, "SELECT seq, raw_ts FROM event WHERE "+cond+" ORDER BY seq LIMIT 1")

	var seq int64
	var raw sql.NullString
	switch err := row.Scan(&seq, &raw); err {
	case sql.ErrNoRows:
		return nil
	case nil:
	default:
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to validate timestamps")
	}
	return errors.InvalidTimestamp(raw.String, int(seq)+1)
}

// validate reports the first row lacking an activity or a timestamp.
func (s *Store) validate(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `
		SELECT case_id, activity IS NULL OR activity = '' AS no_activity
		FROM event
		WHERE activity IS NULL OR activity = '' OR ts IS NULL
		ORDER BY seq
		LIMIT 1
	`)

	var caseID sql.NullString
	var noActivity bool
	switch err := row.Scan(&caseID, &noActivity); err {
	case sql.ErrNoRows:
		return nil
	case nil:
	default:
		return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to validate events")
	}

	reason := "missing timestamp"
	if noActivity {
		reason = "missing activity"
	}
	return errors.InvalidInput(reason).WithContext("case", caseID.String)
}

// strptimeDirectives maps Go layout elements to DuckDB strptime specifiers.
// Longer elements come first so "2006" is not read as "2" and "006".
var strptimeDirectives = []struct{ layout, format string }{
	{"2006", "%Y"},
	{"January", "%B"},
	{"Monday", "%A"},
	{".000000000", ".%n"},
	{".000000", ".%f"},
	{".000", ".%g"},
	{"Jan", "%b"},
	{"Mon", "%a"},
	{"01", "%m"},
	{"02", "%d"},
	{"15", "%H"},
	{"03", "%I"},
	{"04", "%M"},
	{"05", "%S"},
	{"06", "%y"},
	{"PM", "%p"},
}

// StrptimeFormat translates a Go time layout into a DuckDB strptime format.
// It reports false for layouts holding elements with no strptime
// equivalent: zones, unpadded fields and variable-width fractions.
func StrptimeFormat(layout string) (string, bool) {
	if layout == "" {
		return "", false
	}

	var b strings.Builder
	for i := 0; i < len(layout); {
		matched := false
		for _, d := range strptimeDirectives {
			if strings.HasPrefix(layout[i:], d.layout) {
				b.WriteString(d.format)
				i += len(d.layout)
				matched = true
				break
			}
		}
		if matched {
			continue
		}

		c := layout[i]
		if c >= '0' && c <= '9' || c == '%' || c == '_' || hasAnyPrefix(layout[i:], "MST", "Z0", "pm") {
			return "", false
		}
		b.WriteByte(c)
		i++
	}
	return b.String(), true
}

// Count returns the number of stored events.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM event").Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.CodeDuckDBQuery, "failed to count events")
	}
	return n, nil
}

const orderedEvents = `
	WITH ordered AS (
		SELECT
			activity,
			LEAD(activity) OVER w AS next_activity,
			ROW_NUMBER() OVER w AS pos
		FROM event
		WINDOW w AS (PARTITION BY case_id ORDER BY ts, seq)
	)
`

// Discover computes the graph of the stored events.
func (s *Store) Discover(ctx context.Context) (*dfg.Result, error) {
	res := dfg.NewResult()

	edges := orderedEvents + `
		SELECT activity, next_activity, COUNT(*)
		FROM ordered
		WHERE next_activity IS NOT NULL
		GROUP BY activity, next_activity
	`
	rows, err := s.db.QueryContext(ctx, edges)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "edge discovery failed")
	}
	defer rows.Close()

	for rows.Next() {
		var source, target string
		var count int64
		if err := rows.Scan(&source, &target, &count); err != nil {
			return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "failed to scan edge")
		}
		res.DFG[model.Pair{Source: source, Target: target}] = count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeDuckDBQuery, "edge discovery failed")
	}

	if err := s.countInto(ctx, orderedEvents+`
		SELECT activity, COUNT(*) FROM ordered WHERE pos = 1 GROUP BY activity
	`, res.StartActivities); err != nil {
		return nil, err
	}
	if err := s.countInto(ctx, orderedEvents+`
		SELECT activity, COUNT(*) FROM ordered WHERE next_activity IS NULL GROUP BY activity
	`, res.EndActivities); err != nil {
		return nil, err
	}

	return res, nil
}

func (s *Store) countInto(ctx context.Context, query string, dst map[string]int64) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "activity count failed")
	}
	defer rows.Close()

	for rows.Next() {
		var activity string
		var count int64
		if err := rows.Scan(&activity, &count); err != nil {
			return errors.Wrap(err, errors.CodeDuckDBQuery, "failed to scan activity count")
		}
		dst[activity] = count
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.CodeDuckDBQuery, "activity count failed")
	}
	return nil
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
