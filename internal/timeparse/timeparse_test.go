package timeparse

import (
	"testing"
	"time"
)

func TestParse_Formats(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Time
	}{
		{"2024-01-15", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"2024-02-29", time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00Z", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00.250Z", time.Date(2024, 1, 15, 10, 30, 0, 250000000, time.UTC)},
		{"2024-01-15T10:30:00+02:00", time.Date(2024, 1, 15, 8, 30, 0, 0, time.UTC)},
		{"2024-01-15T10:30:00-0130", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
		{"  2024-01-15 10:30:00\r", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"15-01-2024 10:30:00", time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)},
		{"45306", time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)},
		{"45306.5", time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got, err := ParseString(tt.input)
		if err != nil {
			t.Errorf("ParseString(%q) error: %v", tt.input, err)
			continue
		}
		if !got.Equal(tt.expected) {
			t.Errorf("ParseString(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not a date",
		"2024-13-01",
		"2024-02-31",
		"2023-02-29 10:00:00",
		"2024-04-31T10:00:00Z",
		"2024-01-15X10:30:00",
		"2024-01-15T25:30:00",
		"2024-01-15T10:30",
		"abcd-ef-gh",
	}

	for _, in := range inputs {
		if _, err := ParseString(in); err != ErrInvalidTimestamp {
			t.Errorf("ParseString(%q) error = %v, want ErrInvalidTimestamp", in, err)
		}
	}
}

func TestParseLayout_PrefersCallerLayout(t *testing.T) {
	got, err := ParseLayout([]byte("03/04/2024 08:00:00"), "02/01/2006 15:04:05")
	if err != nil {
		t.Fatalf("ParseLayout error: %v", err)
	}
	want := time.Date(2024, 4, 3, 8, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}

	// Layout mismatch falls back to auto-detection.
	got, err = ParseLayout([]byte("2024-04-03T08:00:00Z"), "02/01/2006 15:04:05")
	if err != nil {
		t.Fatalf("ParseLayout fallback error: %v", err)
	}
	if !got.Equal(want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestDateOrderDetector(t *testing.T) {
	tests := []struct {
		name     string
		samples  []string
		expected DateOrder
	}{
		{"day first", []string{"25/01/2024 10:00:00", "03/02/2024"}, OrderDMY},
		{"month first", []string{"01/25/2024 10:00:00", "02/03/2024"}, OrderMDY},
		{"ambiguous", []string{"01/02/2024", "03/04/2024"}, OrderYMD},
		{"iso", []string{"2024-01-25"}, OrderYMD},
		{"empty", nil, OrderYMD},
	}

	for _, tt := range tests {
		d := NewDateOrderDetector(10)
		for _, s := range tt.samples {
			d.AddSample([]byte(s))
		}
		if got := d.Detect(); got != tt.expected {
			t.Errorf("%s: Detect() = %s, want %s", tt.name, got, tt.expected)
		}
	}
}

func TestDateOrder_Layout(t *testing.T) {
	if OrderDMY.Layout() != "02/01/2006 15:04:05" {
		t.Errorf("unexpected DMY layout %q", OrderDMY.Layout())
	}
	if OrderMDY.Layout() != "01/02/2006 15:04:05" {
		t.Errorf("unexpected MDY layout %q", OrderMDY.Layout())
	}
}
