// Package dfg discovers Directly-Follows Graphs from event logs.
//
// Discovery is a pure function of the log: it never reads files, logs,
// renders or measures itself. A single kind of error is returned, coded
// errors.CodeInvalidInput, when an event lacks an activity or a timestamp.
package dfg

import (
	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Result holds the three frequency maps of a discovered graph.
// All maps are non-nil and hold only positive counts.
type Result struct {
	DFG             map[model.Pair]int64
	StartActivities map[string]int64
	EndActivities   map[string]int64
}

// NewResult returns a Result with empty maps.
func NewResult() *Result {
	return &Result{
		DFG:             make(map[model.Pair]int64),
		StartActivities: make(map[string]int64),
		EndActivities:   make(map[string]int64),
	}
}

// Discover counts directly-follows pairs and start/end activities.
// Empty traces are ignored; a single-event trace contributes a start and an
// end only. The first invalid event in trace order aborts discovery.
func Discover(log *model.EventLog) (*Result, error) {
	res := NewResult()
	if log == nil {
		return res, nil
	}
	for i := range log.Traces {
		if err := res.addTrace(&log.Traces[i], i); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// addTrace validates tr and adds its counts. traceIdx is for error context.
func (r *Result) addTrace(tr *model.Trace, traceIdx int) error {
	if len(tr.Events) == 0 {
		return nil
	}
	if err := validateTrace(tr, traceIdx); err != nil {
		return err
	}

	r.StartActivities[tr.First().Activity]++
	r.EndActivities[tr.Last().Activity]++
	for j := 0; j+1 < len(tr.Events); j++ {
		r.DFG[model.Pair{Source: tr.Events[j].Activity, Target: tr.Events[j+1].Activity}]++
	}
	return nil
}

// validateTrace checks every event before anything is counted.
func validateTrace(tr *model.Trace, traceIdx int) error {
	for j := range tr.Events {
		e := &tr.Events[j]
		var reason string
		switch {
		case e.Activity == "":
			reason = "missing activity"
		case !e.HasTimestamp():
			reason = "missing timestamp"
		default:
			continue
		}
		return errors.InvalidInput(reason).
			WithContext("case", tr.CaseID).
			WithContext("trace", traceIdx).
			WithContext("index", j)
	}
	return nil
}

// Validate reports the first invalid event in trace order, the same error
// Discover would return, without counting anything.
func Validate(log *model.EventLog) error {
	if log == nil {
		return nil
	}
	for i := range log.Traces {
		if err := validateTrace(&log.Traces[i], i); err != nil {
			return err
		}
	}
	return nil
}
