package eventlog

import (
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/parser"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func ev(caseID, activity string, minute int) model.Event {
	return model.Event{CaseID: caseID, Activity: activity, Timestamp: t0.Add(time.Duration(minute) * time.Minute)}
}

func activities(tr model.Trace) string {
	names := make([]string, len(tr.Events))
	for i, e := range tr.Events {
		names[i] = e.Activity
	}
	return strings.Join(names, ",")
}

func TestBuilder_GroupsInFirstAppearanceOrder(t *testing.T) {
	log := FromEvents([]model.Event{
		ev("b", "X", 0),
		ev("a", "Y", 1),
		ev("b", "Z", 2),
	})

	if len(log.Traces) != 2 {
		t.Fatalf("Expected 2 traces, got %d", len(log.Traces))
	}
	if log.Traces[0].CaseID != "b" || log.Traces[1].CaseID != "a" {
		t.Errorf("Expected case order [b a], got [%s %s]", log.Traces[0].CaseID, log.Traces[1].CaseID)
	}
	if got := activities(log.Traces[0]); got != "X,Z" {
		t.Errorf("Expected X,Z, got %s", got)
	}
}

func TestBuilder_SortsByTimestampThenSeq(t *testing.T) {
	log := FromEvents([]model.Event{
		ev("1", "C", 5),
		ev("1", "A", 1),
		ev("1", "B1", 3),
		ev("1", "B2", 3),
	})

	if got := activities(log.Traces[0]); got != "A,B1,B2,C" {
		t.Errorf("Expected A,B1,B2,C, got %s", got)
	}

	// Seq reflects ingestion order, not sorted position.
	if log.Traces[0].Events[0].Seq != 1 {
		t.Errorf("Expected Seq 1 for A, got %d", log.Traces[0].Events[0].Seq)
	}
}

func TestBuilder_AllEqualTimestampsKeepInputOrder(t *testing.T) {
	log := FromEvents([]model.Event{
		ev("1", "A", 0),
		ev("1", "B", 0),
		ev("1", "A", 0),
	})
	if got := activities(log.Traces[0]); got != "A,B,A" {
		t.Errorf("Expected A,B,A, got %s", got)
	}
}

func TestBuilder_Empty(t *testing.T) {
	log := NewBuilder().Build()
	if len(log.Traces) != 0 {
		t.Errorf("Expected no traces, got %d", len(log.Traces))
	}
}

func TestCollect(t *testing.T) {
	in := make(chan *model.Event, 3)
	a, b := ev("1", "A", 0), ev("1", "B", 1)
	in <- &a
	in <- &b
	close(in)

	log, err := Collect(context.Background(), in)
	if err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if log.NumEvents() != 2 {
		t.Errorf("Expected 2 events, got %d", log.NumEvents())
	}
}

func TestLoad(t *testing.T) {
	input := "case:concept:name,concept:name,time:timestamp\n" +
		"1,B,2024-01-01T10:05:00Z\n" +
		"2,A,2024-01-01T09:00:00Z\n" +
		"1,A,2024-01-01T10:00:00Z\n"

	var reports int
	res, err := Load(context.Background(), parser.NewCSVParser(parser.DefaultConfig()), strings.NewReader(input), Options{
		Progress: func(ProgressStats) { reports++ },
	})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if res.Events != 3 {
		t.Errorf("Expected 3 events, got %d", res.Events)
	}
	if reports == 0 {
		t.Error("Expected at least one progress report")
	}
	if got := activities(res.Log.Traces[0]); got != "A,B" {
		t.Errorf("Expected A,B for case 1, got %s", got)
	}
}

func TestLoad_ParserError(t *testing.T) {
	input := "case:concept:name,concept:name,time:timestamp\n1,A,yesterday\n"

	_, err := Load(context.Background(), parser.NewCSVParser(parser.DefaultConfig()), strings.NewReader(input), Options{})
	if !errors.IsCode(err, errors.CodeInvalidTimestamp) {
		t.Errorf("Expected %s, got %v", errors.CodeInvalidTimestamp, err)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	content := "case:concept:name,concept:name,time:timestamp\n1,A,2024-01-01T10:00:00Z\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := LoadFile(context.Background(), path, "", parser.DefaultConfig(), Options{})
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if len(res.Log.Traces) != 1 {
		t.Errorf("Expected 1 trace, got %d", len(res.Log.Traces))
	}

	_, err = LoadFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"), "", parser.DefaultConfig(), Options{})
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected %s, got %v", errors.CodeFileNotFound, err)
	}
}

func TestLoadReader_Gzip(t *testing.T) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte("case:concept:name,concept:name,time:timestamp\n1,A,2024-01-01T10:00:00Z\n1,B,2024-01-01T10:01:00Z\n"))
	gz.Close()

	res, err := LoadReader(context.Background(), "log.csv.gz", &buf, "", parser.DefaultConfig(), Options{})
	if err != nil {
		t.Fatalf("LoadReader failed: %v", err)
	}
	if res.Events != 2 {
		t.Errorf("Expected 2 events, got %d", res.Events)
	}
}
