// Package model defines core data structures for dfgflow.
package model

import "time"

// Event represents a single process mining event.
// A zero Timestamp or an empty Activity marks the field as missing;
// the discoverer rejects such events.
type Event struct {
	// CaseID identifies the process instance (trace).
	CaseID string

	// Activity is the event name/activity label.
	Activity string

	// Timestamp orders events within a case.
	Timestamp time.Time

	// Resource is the actor/resource performing the activity (optional).
	Resource string

	// Seq is the 0-based ingestion order, used to break timestamp ties.
	Seq int64
}

// HasTimestamp reports whether the event carries a timestamp.
func (e *Event) HasTimestamp() bool {
	return !e.Timestamp.IsZero()
}

// Trace is the ordered sequence of events of one case.
// Events are sorted by Timestamp ascending, ties broken by Seq.
type Trace struct {
	CaseID string
	Events []Event
}

// Len returns the number of events in the trace.
func (t *Trace) Len() int {
	return len(t.Events)
}

// First returns the first event. The trace must not be empty.
func (t *Trace) First() *Event {
	return &t.Events[0]
}

// Last returns the last event. The trace must not be empty.
func (t *Trace) Last() *Event {
	return &t.Events[len(t.Events)-1]
}

// EventLog holds one trace per distinct case id, in order of first appearance.
type EventLog struct {
	Traces []Trace
}

// NumEvents returns the total number of events across all traces.
func (l *EventLog) NumEvents() int {
	n := 0
	for i := range l.Traces {
		n += len(l.Traces[i].Events)
	}
	return n
}

// Pair is a directly-follows relation: Target immediately followed Source.
type Pair struct {
	Source string
	Target string
}

// IsSelfLoop reports whether the pair connects an activity to itself.
func (p Pair) IsSelfLoop() bool {
	return p.Source == p.Target
}

// String renders the pair as "Source -> Target".
func (p Pair) String() string {
	return p.Source + " -> " + p.Target
}
