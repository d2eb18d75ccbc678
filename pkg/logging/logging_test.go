package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"

	"github.com/logflow/dfgflow/pkg/errors"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
		wantErr  bool
	}{
		{"", zapcore.InfoLevel, false},
		{"debug", zapcore.DebugLevel, false},
		{"WARN", zapcore.WarnLevel, false},
		{"error", zapcore.ErrorLevel, false},
		{"loud", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				if !errors.IsCode(err, errors.CodeInvalidFormat) {
					t.Errorf("Expected %s, got %v", errors.CodeInvalidFormat, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		logger, err := New("debug", format)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", format, err)
		}
		if !logger.Core().Enabled(zapcore.DebugLevel) {
			t.Errorf("Expected debug enabled for format %q", format)
		}
	}

	if _, err := New("info", "xml"); err == nil {
		t.Error("Expected error for unknown format")
	}
}
