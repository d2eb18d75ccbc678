package parser

import (
	"sync/atomic"

	"github.com/logflow/dfgflow/pkg/errors"
)

// ErrorPolicy determines how row-level errors are handled.
type ErrorPolicy int

const (
	// ErrorPolicyStrict aborts on the first bad row.
	ErrorPolicyStrict ErrorPolicy = iota
	// ErrorPolicySkip drops bad rows and keeps going.
	ErrorPolicySkip
)

func (p ErrorPolicy) String() string {
	switch p {
	case ErrorPolicyStrict:
		return "strict"
	case ErrorPolicySkip:
		return "skip"
	default:
		return "unknown"
	}
}

// ParseErrorPolicy parses a policy name, defaulting to strict.
func ParseErrorPolicy(s string) ErrorPolicy {
	switch s {
	case "skip":
		return ErrorPolicySkip
	default:
		return ErrorPolicyStrict
	}
}

// rowErrors applies an ErrorPolicy and counts dropped rows.
type rowErrors struct {
	policy  ErrorPolicy
	skipped atomic.Int64
}

// handle returns err under strict policy, or nil after counting a skip.
func (h *rowErrors) handle(err *errors.Error) error {
	if h.policy == ErrorPolicySkip {
		h.skipped.Add(1)
		return nil
	}
	return err
}

// Skipped returns the number of dropped rows.
func (h *rowErrors) Skipped() int64 {
	return h.skipped.Load()
}
