// Package tui prints styled command output: graph summaries, discovery
// reports and read progress. No interactive screens, just clean lines.
package tui

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/schollz/progressbar/v3"

	"github.com/logflow/dfgflow/pkg/dfg"
)

// Colors (Swiss minimal)
var (
	accent  = lipgloss.Color("#FF0000")
	muted   = lipgloss.Color("#666666")
	success = lipgloss.Color("#00CC66")
	white   = lipgloss.Color("#FFFFFF")
)

// Styles
var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(white)
	accentStyle  = lipgloss.NewStyle().Foreground(accent).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	successStyle = lipgloss.NewStyle().Foreground(success).Bold(true)
	countStyle   = lipgloss.NewStyle().Foreground(white).Width(10).Align(lipgloss.Right)
)

const rule = "  ─────────────────────────────────────"

// Summary describes a discovered graph for the stats command.
type Summary struct {
	Input    string
	Cases    int
	Events   int
	Skipped  int64
	Result   *dfg.Result
	TopN     int
	Duration time.Duration
}

// PrintSummary writes a styled overview of s to w.
func PrintSummary(w io.Writer, s Summary) {
	stats := s.Result.Stats()

	fmt.Fprintln(w)
	fmt.Fprintln(w, titleStyle.Render("  "+s.Input))
	fmt.Fprintln(w, mutedStyle.Render(rule))
	field(w, "Cases", formatNumber(int64(s.Cases)))
	field(w, "Events", formatNumber(int64(s.Events)))
	if s.Skipped > 0 {
		field(w, "Skipped", accentStyle.Render(formatNumber(s.Skipped)+" rows"))
	}
	field(w, "Activities", fmt.Sprintf("%d", stats.Activities))
	field(w, "Edges", fmt.Sprintf("%d (%d self-loops)", stats.Edges, stats.SelfLoops))
	field(w, "Transitions", formatNumber(stats.TotalTransitions))
	if s.Duration > 0 {
		field(w, "Time", formatDuration(s.Duration))
	}

	topN := s.TopN
	if topN <= 0 {
		topN = 10
	}
	edges := s.Result.Edges()
	if len(edges) > topN {
		edges = edges[:topN]
	}
	if len(edges) > 0 {
		section(w, "TOP EDGES")
		for _, e := range edges {
			fmt.Fprintf(w, "  %s  %s %s %s\n",
				countStyle.Render(formatNumber(e.Count)), e.Source, mutedStyle.Render("→"), e.Target)
		}
	}

	if len(s.Result.StartActivities) > 0 {
		section(w, "START ACTIVITIES")
		printCounts(w, s.Result.StartActivities)
	}
	if len(s.Result.EndActivities) > 0 {
		section(w, "END ACTIVITIES")
		printCounts(w, s.Result.EndActivities)
	}
	fmt.Fprintln(w)
}

// Report summarizes a discover run.
type Report struct {
	Output   string
	Events   int
	Edges    int
	Cached   bool
	Duration time.Duration
}

// PrintReport writes the completion line of a discover run.
func PrintReport(w io.Writer, r Report) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, successStyle.Render("  ✓ DISCOVERY COMPLETE"))
	fmt.Fprintln(w)
	if r.Cached {
		field(w, "Source", mutedStyle.Render("cache"))
	} else {
		field(w, "Events", formatNumber(int64(r.Events)))
	}
	field(w, "Edges", fmt.Sprintf("%d", r.Edges))
	if r.Output != "" {
		field(w, "Output", r.Output)
	}
	if r.Duration > 0 {
		extra := ""
		if !r.Cached && r.Duration >= time.Millisecond {
			rate := float64(r.Events) / r.Duration.Seconds()
			extra = " " + mutedStyle.Render(fmt.Sprintf("(%s events/sec)", formatNumber(int64(rate))))
		}
		field(w, "Time", formatDuration(r.Duration)+extra)
	}
	fmt.Fprintln(w)
}

// PrintError writes a one-line failure message.
func PrintError(w io.Writer, err error) {
	fmt.Fprintln(w, accentStyle.Render("  ✗ "+err.Error()))
}

func field(w io.Writer, label, value string) {
	fmt.Fprintf(w, "  %s %s\n", mutedStyle.Render(fmt.Sprintf("%-12s", label+":")), titleStyle.Render(value))
}

func section(w io.Writer, name string) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, accentStyle.Render("▸ "+name))
}

// printCounts lists activities by count descending, then name.
func printCounts(w io.Writer, counts map[string]int64) {
	names := make([]string, 0, len(counts))
	for a := range counts {
		names = append(names, a)
	}
	sort.Slice(names, func(i, j int) bool {
		if counts[names[i]] != counts[names[j]] {
			return counts[names[i]] > counts[names[j]]
		}
		return names[i] < names[j]
	})
	for _, a := range names {
		fmt.Fprintf(w, "  %s  %s\n", countStyle.Render(formatNumber(counts[a])), a)
	}
}

// ByteProgress returns a progress bar over total bytes drawn on stderr.
// total <= 0 gives a spinner.
func ByteProgress(total int64, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions64(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
}

func formatNumber(n int64) string {
	if n < 1000 {
		return fmt.Sprintf("%d", n)
	}
	if n < 1000000 {
		return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/1000), ".0") + "K"
	}
	return strings.TrimSuffix(fmt.Sprintf("%.1f", float64(n)/1000000), ".0") + "M"
}

// FormatBytes renders a byte count with a binary unit.
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
