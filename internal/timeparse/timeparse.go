// Package timeparse coerces timestamp cells from event logs into time.Time.
// The ISO 8601 path uses direct byte arithmetic to avoid allocations on large logs.
package timeparse

import (
	"errors"
	"strconv"
	"time"
	"unsafe"
)

// ErrInvalidTimestamp indicates the value matched no known timestamp format.
var ErrInvalidTimestamp = errors.New("timeparse: invalid timestamp format")

// Layouts tried after the ISO fast path and the Excel serial check, in order.
var fallbackLayouts = []string{
	"2006-01-02 15:04:05.000",
	"2006-01-02 15:04:05",
	"02/01/2006 15:04:05",
	"01/02/2006 15:04:05",
	"2006/01/02 15:04:05",
	"02-01-2006 15:04:05",
	"01/02/2006",
	"02-01-2006",
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
}

// excelEpoch is day zero of Excel serial dates.
var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

// Parse converts b into a time. Empty input is an error.
func Parse(b []byte) (time.Time, error) {
	b = trimSpaces(b)
	if len(b) == 0 {
		return time.Time{}, ErrInvalidTimestamp
	}

	if len(b) >= 10 && b[4] == '-' && b[7] == '-' {
		return parseISO8601(b)
	}

	if isNumeric(b) {
		return parseExcelSerial(b)
	}

	s := bytesToString(b)
	for _, layout := range fallbackLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, ErrInvalidTimestamp
}

// ParseLayout tries the caller's layout first, then falls back to Parse.
func ParseLayout(b []byte, layout string) (time.Time, error) {
	if layout != "" {
		if t, err := time.Parse(layout, string(trimSpaces(b))); err == nil {
			return t, nil
		}
	}
	return Parse(b)
}

// ParseString is Parse for string input.
func ParseString(s string) (time.Time, error) {
	return Parse([]byte(s))
}

// parseISO8601 handles YYYY-MM-DD[(T| )hh:mm:ss[.frac][Z|±hh[:]mm]].
func parseISO8601(b []byte) (time.Time, error) {
	year := parseInt4(b[0:4])
	month := parseInt2(b[5:7])
	day := parseInt2(b[8:10])

	if year < 0 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, ErrInvalidTimestamp
	}
	// time.Date normalizes Feb 31 into March.
	if time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC).Day() != day {
		return time.Time{}, ErrInvalidTimestamp
	}

	var hour, minute, second, nsec int
	loc := time.UTC

	if len(b) > 10 {
		if b[10] != 'T' && b[10] != ' ' {
			return time.Time{}, ErrInvalidTimestamp
		}
		if len(b) < 19 || b[13] != ':' || b[16] != ':' {
			return time.Time{}, ErrInvalidTimestamp
		}
		hour = parseInt2(b[11:13])
		minute = parseInt2(b[14:16])
		second = parseInt2(b[17:19])
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 || second < 0 || second > 60 {
			return time.Time{}, ErrInvalidTimestamp
		}

		i := 19
		if i < len(b) && b[i] == '.' {
			end := i + 1
			for end < len(b) && b[end] >= '0' && b[end] <= '9' {
				end++
			}
			nsec = parseFraction(b[i+1 : end])
			i = end
		}

		if i < len(b) {
			switch b[i] {
			case 'Z':
				loc = time.UTC
			case '+', '-':
				offset, ok := parseOffset(b[i+1:])
				if !ok {
					return time.Time{}, ErrInvalidTimestamp
				}
				if b[i] == '-' {
					offset = -offset
				}
				loc = time.FixedZone("", offset)
			default:
				return time.Time{}, ErrInvalidTimestamp
			}
		}
	}

	return time.Date(year, time.Month(month), day, hour, minute, second, nsec, loc), nil
}

// parseOffset parses "hh:mm", "hhmm" or "hh" into seconds east of UTC.
func parseOffset(b []byte) (int, bool) {
	if len(b) < 2 {
		return 0, false
	}
	hours := parseInt2(b[0:2])
	if hours < 0 {
		return 0, false
	}
	mins := 0
	switch {
	case len(b) >= 5 && b[2] == ':':
		mins = parseInt2(b[3:5])
	case len(b) >= 4:
		mins = parseInt2(b[2:4])
	}
	if mins < 0 {
		return 0, false
	}
	return hours*3600 + mins*60, true
}

// parseExcelSerial parses days since 1899-12-30 with an optional fractional day.
func parseExcelSerial(b []byte) (time.Time, error) {
	val, err := strconv.ParseFloat(bytesToString(b), 64)
	if err != nil || val < 0 {
		return time.Time{}, ErrInvalidTimestamp
	}

	days := int64(val)
	t := excelEpoch.AddDate(0, 0, int(days))
	if frac := val - float64(days); frac > 0 {
		t = t.Add(time.Duration(frac * 24 * float64(time.Hour)))
	}
	return t, nil
}

func parseInt4(b []byte) int {
	if len(b) != 4 || !allDigits(b) {
		return -1
	}
	return int(b[0]-'0')*1000 + int(b[1]-'0')*100 + int(b[2]-'0')*10 + int(b[3]-'0')
}

func parseInt2(b []byte) int {
	if len(b) != 2 || !allDigits(b) {
		return -1
	}
	return int(b[0]-'0')*10 + int(b[1]-'0')
}

// parseFraction converts fractional-second digits to nanoseconds, truncating past 9 digits.
func parseFraction(b []byte) int {
	result := 0
	multiplier := 100000000
	for i := 0; i < len(b) && i < 9; i++ {
		result += int(b[i]-'0') * multiplier
		multiplier /= 10
	}
	return result
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func isNumeric(b []byte) bool {
	dots := 0
	for _, c := range b {
		if c >= '0' && c <= '9' {
			continue
		}
		if c == '.' && dots == 0 {
			dots++
			continue
		}
		return false
	}
	return true
}

func trimSpaces(b []byte) []byte {
	start, end := 0, len(b)
	for start < end && isSpace(b[start]) {
		start++
	}
	for end > start && isSpace(b[end-1]) {
		end--
	}
	return b[start:end]
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// bytesToString shares memory with b; callers must not retain the result.
func bytesToString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return unsafe.String(&b[0], len(b))
}
