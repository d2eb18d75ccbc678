// Package eventlog groups parsed events into traces.
package eventlog

import (
	"context"
	"sort"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Builder accumulates events and groups them by case id.
// Cases keep the order in which their id was first seen.
type Builder struct {
	index  map[string]int
	traces []model.Trace
	seq    int64
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{index: make(map[string]int)}
}

// Add appends ev to its case. Seq is overwritten with the ingestion index.
func (b *Builder) Add(ev model.Event) {
	ev.Seq = b.seq
	b.seq++

	i, ok := b.index[ev.CaseID]
	if !ok {
		i = len(b.traces)
		b.index[ev.CaseID] = i
		b.traces = append(b.traces, model.Trace{CaseID: ev.CaseID})
	}
	b.traces[i].Events = append(b.traces[i].Events, ev)
}

// Len returns the number of events added so far.
func (b *Builder) Len() int64 {
	return b.seq
}

// Build sorts every trace by timestamp (ties keep ingestion order) and
// returns the log. Empty traces are dropped. The Builder must not be reused.
func (b *Builder) Build() *model.EventLog {
	log := &model.EventLog{Traces: make([]model.Trace, 0, len(b.traces))}
	for _, tr := range b.traces {
		if len(tr.Events) == 0 {
			continue
		}
		events := tr.Events
		sort.SliceStable(events, func(i, j int) bool {
			if events[i].Timestamp.Equal(events[j].Timestamp) {
				return events[i].Seq < events[j].Seq
			}
			return events[i].Timestamp.Before(events[j].Timestamp)
		})
		log.Traces = append(log.Traces, tr)
	}
	b.traces = nil
	b.index = nil
	return log
}

// FromEvents builds a log from events in ingestion order.
func FromEvents(events []model.Event) *model.EventLog {
	b := NewBuilder()
	for _, ev := range events {
		b.Add(ev)
	}
	return b.Build()
}

// Collect drains in until it is closed or ctx is done.
func Collect(ctx context.Context, in <-chan *model.Event) (*model.EventLog, error) {
	b := NewBuilder()
	for {
		select {
		case <-ctx.Done():
			return nil, errors.ContextCanceled("collect")
		case ev, ok := <-in:
			if !ok {
				return b.Build(), nil
			}
			b.Add(*ev)
		}
	}
}
