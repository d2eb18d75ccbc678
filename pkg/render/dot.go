// Package render draws discovered graphs as Graphviz DOT and images.
package render

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/dfg"
)

// DefaultMaxEdges is the number of edges kept when Options.MaxEdges is zero.
const DefaultMaxEdges = 30

const (
	startNode = `"@@startnode"`
	endNode   = `"@@endnode"`

	minPenwidth = 1.0
	maxPenwidth = 2.6
)

// Options control DOT output.
type Options struct {
	// MaxEdges keeps the heaviest edges only. Zero means DefaultMaxEdges,
	// negative means no limit.
	MaxEdges int

	// Performance, when set, labels and weighs edges by median duration
	// instead of frequency.
	Performance map[model.Pair]dfg.Durations
}

// DOT renders res as a Graphviz digraph. Output is deterministic: nodes are
// ordered by activity name and edges by (source, target).
func DOT(res *dfg.Result, opts Options) []byte {
	limit := opts.MaxEdges
	if limit == 0 {
		limit = DefaultMaxEdges
	}
	counts := res.ActivityCounts()
	shown := res.TopEdges(limit)

	edges := make([]dfg.Edge, 0, len(shown.DFG))
	for p, c := range shown.DFG {
		edges = append(edges, dfg.Edge{Source: p.Source, Target: p.Target, Count: c})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})

	// Nodes: everything touched by a kept edge plus start and end activities.
	nodeSet := make(map[string]struct{})
	for _, e := range edges {
		nodeSet[e.Source] = struct{}{}
		nodeSet[e.Target] = struct{}{}
	}
	for a := range res.StartActivities {
		nodeSet[a] = struct{}{}
	}
	for a := range res.EndActivities {
		nodeSet[a] = struct{}{}
	}
	nodes := make([]string, 0, len(nodeSet))
	for a := range nodeSet {
		nodes = append(nodes, a)
	}
	sort.Strings(nodes)

	weights := make(map[model.Pair]int64, len(edges))
	for _, e := range edges {
		p := model.Pair{Source: e.Source, Target: e.Target}
		if opts.Performance != nil {
			weights[p] = int64(opts.Performance[p].Median / time.Second)
		} else {
			weights[p] = e.Count
		}
	}
	widths := penwidths(weights)
	colors := activityColors(counts)

	var b bytes.Buffer
	b.WriteString("digraph {\n")
	b.WriteString("    graph [bgcolor=transparent]\n")
	b.WriteString("    node [shape=box]\n")

	for _, a := range nodes {
		fmt.Fprintf(&b, "    %s [label=%s style=filled fillcolor=%q fontsize=12]\n",
			nodeID(a), quote(fmt.Sprintf("%s (%d)", a, counts[a])), colors[a])
	}

	for _, e := range edges {
		p := model.Pair{Source: e.Source, Target: e.Target}
		label := strconv.FormatInt(e.Count, 10)
		if opts.Performance != nil {
			label = quote(HumanDuration(opts.Performance[p].Median))
		}
		fmt.Fprintf(&b, "    %s -> %s [label=%s penwidth=%s fontsize=12]\n",
			nodeID(e.Source), nodeID(e.Target), label, widths[p])
	}

	if len(res.StartActivities) > 0 {
		fmt.Fprintf(&b, "    %s [label=<&#9679;> shape=circle fontsize=34]\n", startNode)
		for _, a := range sortedKeys(res.StartActivities) {
			fmt.Fprintf(&b, "    %s -> %s [label=%d fontsize=12]\n", startNode, nodeID(a), res.StartActivities[a])
		}
	}
	if len(res.EndActivities) > 0 {
		fmt.Fprintf(&b, "    %s [label=<&#9632;> shape=doublecircle fontsize=32]\n", endNode)
		for _, a := range sortedKeys(res.EndActivities) {
			fmt.Fprintf(&b, "    %s -> %s [label=%d fontsize=12]\n", nodeID(a), endNode, res.EndActivities[a])
		}
	}

	b.WriteString("    overlap=false\n")
	b.WriteString("}\n")
	return b.Bytes()
}

// nodeID is a stable identifier derived from the activity name.
func nodeID(activity string) string {
	h := fnv.New64a()
	h.Write([]byte(activity))
	return `"` + strconv.FormatUint(h.Sum64(), 10) + `"`
}

// penwidths scales weights linearly onto [minPenwidth, maxPenwidth].
func penwidths(weights map[model.Pair]int64) map[model.Pair]string {
	lo, hi := bounds(weights)
	out := make(map[model.Pair]string, len(weights))
	for p, w := range weights {
		v := minPenwidth + (maxPenwidth-minPenwidth)*float64(w-lo)/(float64(hi-lo)+0.00001)
		out[p] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return out
}

// activityColors shades frequent activities darker blue: #XXXXFF with
// XX = 255 - 100*(count-min)/(max-min).
func activityColors(counts map[string]int64) map[string]string {
	lo, hi := bounds(counts)
	out := make(map[string]string, len(counts))
	for a, c := range counts {
		v := int64(255.0 - 100.0*float64(c-lo)/(float64(hi-lo)+0.00001))
		out[a] = fmt.Sprintf("#%02X%02XFF", v, v)
	}
	return out
}

func bounds[K comparable](m map[K]int64) (lo, hi int64) {
	first := true
	for _, v := range m {
		if first || v < lo {
			lo = v
		}
		if first || v > hi {
			hi = v
		}
		first = false
	}
	return lo, hi
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// quote renders s as a DOT double-quoted string.
func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// HumanDuration formats d with the largest fitting unit, e.g. "2.5h".
func HumanDuration(d time.Duration) string {
	secs := d.Seconds()
	switch {
	case secs >= 365*86400:
		return trimFloat(secs/(365*86400)) + "Y"
	case secs >= 30*86400:
		return trimFloat(secs/(30*86400)) + "MO"
	case secs >= 86400:
		return trimFloat(secs/86400) + "D"
	case secs >= 3600:
		return trimFloat(secs/3600) + "h"
	case secs >= 60:
		return trimFloat(secs/60) + "m"
	default:
		return trimFloat(secs) + "s"
	}
}

// trimFloat keeps at most two decimals and drops trailing zeros.
func trimFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
