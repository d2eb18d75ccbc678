package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/dfg"
)

func sampleResult() *dfg.Result {
	res := dfg.NewResult()
	res.DFG[model.Pair{Source: "A", Target: "B"}] = 3
	res.DFG[model.Pair{Source: "B", Target: "B"}] = 1
	res.DFG[model.Pair{Source: "B", Target: "C"}] = 2
	res.StartActivities["A"] = 3
	res.EndActivities["C"] = 2
	res.EndActivities["B"] = 1
	return res
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	PrintSummary(&buf, Summary{
		Input:   "orders.csv",
		Cases:   3,
		Events:  9,
		Skipped: 2,
		Result:  sampleResult(),
		TopN:    2,
	})
	out := buf.String()

	for _, want := range []string{"orders.csv", "TOP EDGES", "START ACTIVITIES", "END ACTIVITIES", "1 self-loops", "2 rows"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q\n%s", want, out)
		}
	}
	// TopN keeps the two heaviest edges.
	if strings.Contains(out, "B → B") {
		t.Errorf("Expected B → B to be cut by TopN\n%s", out)
	}
	if strings.Index(out, "A → B") > strings.Index(out, "B → C") {
		t.Errorf("Expected heaviest edge first\n%s", out)
	}
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, Report{Output: "out.svg", Events: 5000, Edges: 4, Duration: 2 * time.Second})
	out := buf.String()
	if !strings.Contains(out, "out.svg") || !strings.Contains(out, "5K") {
		t.Errorf("Unexpected report:\n%s", out)
	}

	buf.Reset()
	PrintReport(&buf, Report{Edges: 4, Cached: true})
	if !strings.Contains(buf.String(), "cache") {
		t.Errorf("Expected cached marker:\n%s", buf.String())
	}
}

func TestPrintError(t *testing.T) {
	var buf bytes.Buffer
	PrintError(&buf, errors.New("boom"))
	if !strings.Contains(buf.String(), "boom") {
		t.Errorf("Expected error text, got %q", buf.String())
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1K"},
		{1500, "1.5K"},
		{2000000, "2M"},
		{2500000, "2.5M"},
	}
	for _, tt := range tests {
		if got := formatNumber(tt.input); got != tt.expected {
			t.Errorf("formatNumber(%d): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		input    int64
		expected string
	}{
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.input); got != tt.expected {
			t.Errorf("FormatBytes(%d): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		input    time.Duration
		expected string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{125 * time.Second, "2m5s"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.input); got != tt.expected {
			t.Errorf("formatDuration(%v): expected %s, got %s", tt.input, tt.expected, got)
		}
	}
}
