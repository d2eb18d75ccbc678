package parser

import (
	"bufio"
	"bytes"
	"context"
	"html"
	"io"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/internal/timeparse"
	"github.com/logflow/dfgflow/pkg/errors"
)

// XES attribute keys
var (
	xesConceptName = []byte("concept:name")
	xesTimeStamp   = []byte("time:timestamp")
	xesOrgResource = []byte("org:resource")
)

// XML element names
var (
	xmlTrace  = []byte("trace")
	xmlEvent  = []byte("event")
	xmlString = []byte("string")
	xmlDate   = []byte("date")
	xmlInt    = []byte("int")
	xmlFloat  = []byte("float")
	xmlBool   = []byte("boolean")
	xmlID     = []byte("id")
)

type xesState uint8

const (
	xesInLog xesState = iota
	xesInTrace
	xesInEvent
)

// XESParser streams XES documents tag by tag without building a DOM.
// Only trace and event attributes at the first nesting level are read.
type XESParser struct {
	cfg Config
	rowErrors
}

// NewXESParser creates a new XES parser.
func NewXESParser(cfg Config) *XESParser {
	return &XESParser{
		cfg:       cfg,
		rowErrors: rowErrors{policy: cfg.ErrorPolicy},
	}
}

// xesEvent accumulates one <event> element.
type xesEvent struct {
	activity  string
	timestamp []byte
	resource  string
}

// Parse implements the Parser interface.
func (p *XESParser) Parse(ctx context.Context, r io.Reader, out chan<- *model.Event) error {
	reader := bufio.NewReaderSize(r, p.cfg.BufferSize)

	state := xesInLog
	var caseID string
	var pending []xesEvent
	var current xesEvent
	depth := 0 // nesting below trace/event, e.g. <list> or nested attributes
	eventNum := 0

	for {
		select {
		case <-ctx.Done():
			return errors.ContextCanceled("parse")
		default:
		}

		tag, err := reader.ReadBytes('>')
		if err != nil && err != io.EOF {
			return errors.Wrap(err, errors.CodeParseFailed, "reading XES")
		}
		if len(tag) == 0 && err == io.EOF {
			break
		}

		// Drop text content preceding the tag.
		if i := bytes.IndexByte(tag, '<'); i >= 0 {
			tag = tag[i:]
		} else {
			if err == io.EOF {
				break
			}
			continue
		}

		switch {
		case isOpenTag(tag, xmlTrace):
			state = xesInTrace
			caseID = ""
			pending = pending[:0]
			depth = 0

		case isCloseTag(tag, xmlTrace):
			// Events are flushed at trace end because the case id attribute
			// may follow the events in the document.
			for i := range pending {
				eventNum++
				if err := p.flushEvent(ctx, out, caseID, &pending[i], eventNum); err != nil {
					return err
				}
			}
			pending = pending[:0]
			state = xesInLog

		case isOpenTag(tag, xmlEvent):
			if isSelfClosing(tag) {
				if state == xesInTrace {
					pending = append(pending, xesEvent{})
				}
				break
			}
			state = xesInEvent
			current = xesEvent{}
			depth = 0

		case isCloseTag(tag, xmlEvent):
			if state == xesInEvent {
				pending = append(pending, current)
				state = xesInTrace
			}

		case isAttributeTag(tag):
			selfClosing := isSelfClosing(tag)
			if depth == 0 {
				key, value := extractAttribute(tag)
				switch state {
				case xesInTrace:
					if bytes.Equal(key, xesConceptName) {
						caseID = unescape(value)
					}
				case xesInEvent:
					applyEventAttribute(&current, key, value)
				}
			}
			if !selfClosing {
				depth++
			}

		case isClosingAttributeTag(tag):
			if depth > 0 {
				depth--
			}

		case bytes.HasPrefix(tag, []byte("<list")) || bytes.HasPrefix(tag, []byte("<container")):
			if !isSelfClosing(tag) {
				depth++
			}

		case bytes.HasPrefix(tag, []byte("</list")) || bytes.HasPrefix(tag, []byte("</container")):
			if depth > 0 {
				depth--
			}
		}

		if err == io.EOF {
			break
		}
	}

	return nil
}

// flushEvent validates the timestamp and emits one event.
func (p *XESParser) flushEvent(ctx context.Context, out chan<- *model.Event, caseID string, xe *xesEvent, n int) error {
	ts, err := timeparse.ParseLayout(xe.timestamp, p.cfg.TimestampFormat)
	if err != nil {
		if err := p.handle(errors.InvalidTimestamp(string(xe.timestamp), n)); err != nil {
			return err
		}
		return nil
	}

	return emit(ctx, out, &model.Event{
		CaseID:    caseID,
		Activity:  xe.activity,
		Timestamp: ts,
		Resource:  xe.resource,
	})
}

func applyEventAttribute(ev *xesEvent, key, value []byte) {
	switch {
	case bytes.Equal(key, xesConceptName):
		ev.activity = unescape(value)
	case bytes.Equal(key, xesTimeStamp):
		ev.timestamp = append(ev.timestamp[:0], value...)
	case bytes.Equal(key, xesOrgResource):
		ev.resource = unescape(value)
	}
}

// isOpenTag checks if tag opens the given element.
func isOpenTag(tag, element []byte) bool {
	if len(tag) < len(element)+2 || tag[0] != '<' {
		return false
	}
	if !bytes.HasPrefix(tag[1:], element) {
		return false
	}
	next := 1 + len(element)
	if next >= len(tag) {
		return true
	}
	c := tag[next]
	return c == '>' || c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/'
}

// isCloseTag checks if tag is </element>.
func isCloseTag(tag, element []byte) bool {
	if len(tag) < len(element)+3 || tag[0] != '<' || tag[1] != '/' {
		return false
	}
	return bytes.HasPrefix(tag[2:], element) && (tag[2+len(element)] == '>' || tag[2+len(element)] == ' ')
}

func isSelfClosing(tag []byte) bool {
	return len(tag) >= 2 && tag[len(tag)-2] == '/' && tag[len(tag)-1] == '>'
}

// isAttributeTag checks if tag opens an XES attribute element.
func isAttributeTag(tag []byte) bool {
	if len(tag) < 3 || tag[0] != '<' {
		return false
	}
	for _, el := range [][]byte{xmlString, xmlDate, xmlInt, xmlFloat, xmlBool, xmlID} {
		if isOpenTag(tag, el) {
			return true
		}
	}
	return false
}

func isClosingAttributeTag(tag []byte) bool {
	for _, el := range [][]byte{xmlString, xmlDate, xmlInt, xmlFloat, xmlBool, xmlID} {
		if isCloseTag(tag, el) {
			return true
		}
	}
	return false
}

// extractAttribute extracts key and value from an XES attribute element.
func extractAttribute(tag []byte) (key, value []byte) {
	return extractAttrValue(tag, []byte("key=")), extractAttrValue(tag, []byte("value="))
}

// extractAttrValue extracts an XML attribute value quoted with ' or ".
func extractAttrValue(tag, prefix []byte) []byte {
	idx := bytes.Index(tag, prefix)
	for idx > 0 && !isXMLSpace(tag[idx-1]) {
		next := bytes.Index(tag[idx+len(prefix):], prefix)
		if next < 0 {
			return nil
		}
		idx += len(prefix) + next
	}
	if idx < 0 {
		return nil
	}
	start := idx + len(prefix)
	if start >= len(tag) {
		return nil
	}
	quote := tag[start]
	if quote != '"' && quote != '\'' {
		return nil
	}
	start++
	end := bytes.IndexByte(tag[start:], quote)
	if end < 0 {
		return nil
	}
	return tag[start : start+end]
}

func isXMLSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func unescape(b []byte) string {
	if bytes.IndexByte(b, '&') < 0 {
		return string(b)
	}
	return html.UnescapeString(string(b))
}
