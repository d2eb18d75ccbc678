// Package export writes discovered graphs as JSON or Parquet.
package export

import (
	"encoding/json"
	"io"
	"sort"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Document is the JSON representation of a Result.
type Document struct {
	Edges           []DocumentEdge   `json:"edges"`
	StartActivities map[string]int64 `json:"start_activities"`
	EndActivities   map[string]int64 `json:"end_activities"`
	Activities      map[string]int64 `json:"activities"`
	Stats           dfg.Stats        `json:"stats"`
}

// DocumentEdge is an edge with optional performance figures in seconds.
type DocumentEdge struct {
	Source        string   `json:"source"`
	Target        string   `json:"target"`
	Count         int64    `json:"count"`
	MedianSeconds *float64 `json:"median_seconds,omitempty"`
	MeanSeconds   *float64 `json:"mean_seconds,omitempty"`
}

// NewDocument builds the JSON document; perf may be nil.
func NewDocument(res *dfg.Result, perf map[model.Pair]dfg.Durations) Document {
	edges := res.Edges()
	doc := Document{
		Edges:           make([]DocumentEdge, len(edges)),
		StartActivities: res.StartActivities,
		EndActivities:   res.EndActivities,
		Activities:      res.ActivityCounts(),
		Stats:           res.Stats(),
	}
	for i, e := range edges {
		de := DocumentEdge{Source: e.Source, Target: e.Target, Count: e.Count}
		if d, ok := perf[model.Pair{Source: e.Source, Target: e.Target}]; ok {
			median, mean := seconds(d.Median), seconds(d.Mean)
			de.MedianSeconds = &median
			de.MeanSeconds = &mean
		}
		doc.Edges[i] = de
	}
	return doc
}

// WriteJSON writes res as an indented JSON document. Edges are ordered by
// count descending; map keys are sorted by encoding/json.
func WriteJSON(w io.Writer, res *dfg.Result, perf map[model.Pair]dfg.Durations) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(NewDocument(res, perf)); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write json")
	}
	return nil
}

func seconds(d time.Duration) float64 {
	return d.Seconds()
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
