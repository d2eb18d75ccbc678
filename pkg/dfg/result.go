package dfg

import (
	"maps"
	"sort"

	"github.com/logflow/dfgflow/internal/model"
)

// Edge is one weighted directly-follows relation.
type Edge struct {
	Source string `json:"source" msgpack:"s"`
	Target string `json:"target" msgpack:"t"`
	Count  int64  `json:"count" msgpack:"c"`
}

// Stats summarises a Result.
type Stats struct {
	Activities       int   `json:"activities"`
	Edges            int   `json:"edges"`
	SelfLoops        int   `json:"self_loops"`
	Traces           int64 `json:"traces"`
	TotalTransitions int64 `json:"total_transitions"`
}

// Merge adds the counts of other into r.
func (r *Result) Merge(other *Result) {
	for p, c := range other.DFG {
		r.DFG[p] += c
	}
	for a, c := range other.StartActivities {
		r.StartActivities[a] += c
	}
	for a, c := range other.EndActivities {
		r.EndActivities[a] += c
	}
}

// Clone returns a deep copy.
func (r *Result) Clone() *Result {
	return &Result{
		DFG:             maps.Clone(r.DFG),
		StartActivities: maps.Clone(r.StartActivities),
		EndActivities:   maps.Clone(r.EndActivities),
	}
}

// ActivityCounts returns how often each activity occurred. Every event is
// either the first of its trace or the target of exactly one pair, so the
// count is the start count plus the incoming edge counts.
func (r *Result) ActivityCounts() map[string]int64 {
	counts := make(map[string]int64, len(r.StartActivities))
	for a, c := range r.StartActivities {
		counts[a] += c
	}
	for p, c := range r.DFG {
		counts[p.Target] += c
	}
	for a := range r.EndActivities {
		if _, ok := counts[a]; !ok {
			counts[a] = 0
		}
	}
	return counts
}

// Activities returns all activity names, sorted.
func (r *Result) Activities() []string {
	counts := r.ActivityCounts()
	names := make([]string, 0, len(counts))
	for a := range counts {
		names = append(names, a)
	}
	sort.Strings(names)
	return names
}

// Edges returns the graph's edges sorted by count descending, then by
// source and target.
func (r *Result) Edges() []Edge {
	edges := make([]Edge, 0, len(r.DFG))
	for p, c := range r.DFG {
		edges = append(edges, Edge{Source: p.Source, Target: p.Target, Count: c})
	}
	sortEdges(edges)
	return edges
}

func sortEdges(edges []Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Count != edges[j].Count {
			return edges[i].Count > edges[j].Count
		}
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
}

// TopEdges returns a new Result keeping only the n heaviest edges.
// n <= 0 keeps everything.
func (r *Result) TopEdges(n int) *Result {
	out := r.Clone()
	if n <= 0 || n >= len(r.DFG) {
		return out
	}
	out.DFG = make(map[model.Pair]int64, n)
	for _, e := range r.Edges()[:n] {
		out.DFG[model.Pair{Source: e.Source, Target: e.Target}] = e.Count
	}
	return out
}

// FilterByFrequency returns a new Result with edges below minCount removed.
func (r *Result) FilterByFrequency(minCount int64) *Result {
	out := r.Clone()
	maps.DeleteFunc(out.DFG, func(_ model.Pair, c int64) bool {
		return c < minCount
	})
	return out
}

// Stats returns summary statistics.
func (r *Result) Stats() Stats {
	s := Stats{
		Activities: len(r.ActivityCounts()),
		Edges:      len(r.DFG),
	}
	for p, c := range r.DFG {
		if p.IsSelfLoop() {
			s.SelfLoops++
		}
		s.TotalTransitions += c
	}
	for _, c := range r.StartActivities {
		s.Traces += c
	}
	return s
}
