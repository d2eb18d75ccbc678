package parser

import (
	"testing"
	"time"

	"github.com/logflow/dfgflow/pkg/errors"
)

func TestJSONLParser_Basic(t *testing.T) {
	input := `{"case:concept:name": 7, "concept:name": "A", "time:timestamp": "2024-01-01T10:00:00Z", "org:resource": "bob"}

{"case:concept:name": "7", "concept:name": "B", "time:timestamp": 1704106800}
`
	events, err := parseAll(t, NewJSONLParser(DefaultConfig()), input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].CaseID != "7" || events[0].Resource != "bob" {
		t.Errorf("Unexpected first event: %+v", events[0])
	}
	want := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	if !events[1].Timestamp.Equal(want) {
		t.Errorf("Expected %v, got %v", want, events[1].Timestamp)
	}
}

func TestJSONLParser_BadLines(t *testing.T) {
	input := `{"case:concept:name": "1", "concept:name": "A", "time:timestamp": "2024-01-01T10:00:00Z"}
not json
{"case:concept:name": "1", "concept:name": "B"}
`
	_, err := parseAll(t, NewJSONLParser(DefaultConfig()), input)
	if !errors.IsCode(err, errors.CodeParseFailed) {
		t.Errorf("Expected %s, got %v", errors.CodeParseFailed, err)
	}

	cfg := DefaultConfig()
	cfg.ErrorPolicy = ErrorPolicySkip
	p := NewJSONLParser(cfg)
	events, err := parseAll(t, p, input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(events) != 1 {
		t.Errorf("Expected 1 event, got %d", len(events))
	}
	if p.Skipped() != 2 {
		t.Errorf("Expected 2 skipped, got %d", p.Skipped())
	}
}
