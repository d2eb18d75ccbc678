package parser

import (
	"testing"
	"time"

	"github.com/logflow/dfgflow/pkg/errors"
)

const sampleXES = `<?xml version="1.0" encoding="UTF-8"?>
<log xes.version="1.0">
  <string key="concept:name" value="sample log"/>
  <trace>
    <string key="concept:name" value="case-1"/>
    <event>
      <string key="concept:name" value="Register &amp; Check"/>
      <date key="time:timestamp" value="2024-01-01T10:00:00.000+00:00"/>
      <string key="org:resource" value="alice"/>
    </event>
    <event>
      <string key="concept:name" value="Approve"/>
      <date key="time:timestamp" value="2024-01-01T11:30:00.000+00:00"/>
      <list key="tags">
        <string key="concept:name" value="nested"/>
      </list>
    </event>
  </trace>
  <trace>
    <event>
      <string key="concept:name" value="Register &amp; Check"/>
      <date key="time:timestamp" value="2024-01-02T09:00:00Z"/>
    </event>
    <string key="concept:name" value="case-2"/>
  </trace>
</log>
`

func TestXESParser_Basic(t *testing.T) {
	events, err := parseAll(t, NewXESParser(DefaultConfig()), sampleXES)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}

	tests := []struct {
		caseID   string
		activity string
		resource string
		ts       time.Time
	}{
		{"case-1", "Register & Check", "alice", time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)},
		{"case-1", "Approve", "", time.Date(2024, 1, 1, 11, 30, 0, 0, time.UTC)},
		{"case-2", "Register & Check", "", time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)},
	}
	for i, tt := range tests {
		ev := events[i]
		if ev.CaseID != tt.caseID {
			t.Errorf("Event %d: expected case %q, got %q", i, tt.caseID, ev.CaseID)
		}
		if ev.Activity != tt.activity {
			t.Errorf("Event %d: expected activity %q, got %q", i, tt.activity, ev.Activity)
		}
		if ev.Resource != tt.resource {
			t.Errorf("Event %d: expected resource %q, got %q", i, tt.resource, ev.Resource)
		}
		if !ev.Timestamp.Equal(tt.ts) {
			t.Errorf("Event %d: expected timestamp %v, got %v", i, tt.ts, ev.Timestamp)
		}
	}
}

func TestXESParser_MissingTimestamp(t *testing.T) {
	input := `<log><trace><string key="concept:name" value="c"/>
<event><string key="concept:name" value="A"/></event>
<event><string key="concept:name" value="B"/><date key="time:timestamp" value="2024-01-01T10:00:00Z"/></event>
</trace></log>`

	_, err := parseAll(t, NewXESParser(DefaultConfig()), input)
	if !errors.IsCode(err, errors.CodeInvalidTimestamp) {
		t.Errorf("Expected %s, got %v", errors.CodeInvalidTimestamp, err)
	}

	cfg := DefaultConfig()
	cfg.ErrorPolicy = ErrorPolicySkip
	p := NewXESParser(cfg)
	events, err := parseAll(t, p, input)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(events) != 1 || events[0].Activity != "B" {
		t.Errorf("Expected only event B, got %+v", events)
	}
	if p.Skipped() != 1 {
		t.Errorf("Expected 1 skipped, got %d", p.Skipped())
	}
}

func TestExtractAttrValue(t *testing.T) {
	tag := []byte(`<string key="concept:name" value='x "y"'/>`)
	key, value := extractAttribute(tag)
	if string(key) != "concept:name" {
		t.Errorf("Expected key concept:name, got %q", key)
	}
	if string(value) != `x "y"` {
		t.Errorf("Expected value %q, got %q", `x "y"`, value)
	}
}
