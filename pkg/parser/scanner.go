package parser

// scanState is the state of the field scanner.
type scanState uint8

const (
	scanFieldStart scanState = iota
	scanUnquoted
	scanQuoted
	scanQuoteInQuoted
)

// fieldScanner splits one CSV record into fields with a small state machine.
// It handles embedded delimiters, doubled quotes and stray characters after
// a closing quote (kept, not rejected).
type fieldScanner struct {
	delimiter byte
	buf       []byte
}

func newFieldScanner(delimiter byte) *fieldScanner {
	if delimiter == 0 {
		delimiter = ','
	}
	return &fieldScanner{delimiter: delimiter}
}

// Scan appends the fields of line to dst[:0] and returns it.
// Returned strings are copies and safe to retain.
func (s *fieldScanner) Scan(line []byte, dst []string) []string {
	dst = dst[:0]
	if len(line) == 0 {
		return dst
	}

	state := scanFieldStart
	s.buf = s.buf[:0]

	for i := 0; i < len(line); i++ {
		c := line[i]

		switch state {
		case scanFieldStart:
			switch c {
			case '"':
				state = scanQuoted
			case s.delimiter:
				dst = append(dst, "")
			default:
				s.buf = append(s.buf, c)
				state = scanUnquoted
			}

		case scanUnquoted:
			if c == s.delimiter {
				dst = append(dst, string(s.buf))
				s.buf = s.buf[:0]
				state = scanFieldStart
			} else {
				s.buf = append(s.buf, c)
			}

		case scanQuoted:
			if c == '"' {
				state = scanQuoteInQuoted
			} else {
				s.buf = append(s.buf, c)
			}

		case scanQuoteInQuoted:
			switch c {
			case '"':
				s.buf = append(s.buf, '"')
				state = scanQuoted
			case s.delimiter:
				dst = append(dst, string(s.buf))
				s.buf = s.buf[:0]
				state = scanFieldStart
			default:
				s.buf = append(s.buf, c)
				state = scanUnquoted
			}
		}
	}

	// Final field, including the empty one after a trailing delimiter.
	dst = append(dst, string(s.buf))
	return dst
}

// trimLineEnding removes trailing \n and \r characters.
func trimLineEnding(line []byte) []byte {
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line
}

// stripBOM removes a leading UTF-8 byte order mark.
func stripBOM(line []byte) []byte {
	if len(line) >= 3 && line[0] == 0xEF && line[1] == 0xBB && line[2] == 0xBF {
		return line[3:]
	}
	return line
}
