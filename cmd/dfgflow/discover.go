package main

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/tui"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Discover the Directly-Follows Graph of an event log",
	Long: `Discover the Directly-Follows Graph of an event log and write it as a
graph image, DOT, JSON or Parquet.

Examples:
  dfgflow discover -i events.csv -o graph.svg
  dfgflow discover -i trace.xes.gz -o graph.json --performance
  dfgflow discover -i events.csv -o graph.parquet --engine duckdb
  dfgflow discover -i s3://logs/2024/events.csv -o s3://graphs/events.pdf
  cat events.jsonl | dfgflow discover -i - --format jsonl > graph.dot`,
	RunE: runDiscover,
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the graph of an event log",
	Long:  `Discover the graph of an event log and print cases, events, top edges and start/end activities.`,
	RunE:  runStats,
}

func init() {
	addInputFlags(discoverCmd)
	addOutputFlags(discoverCmd)

	addInputFlags(statsCmd)
	statsCmd.Flags().IntVar(&topN, "top", 10, "Edges listed")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	toStdout := outputFile == "" || outputFile == "-"
	fallback := pipeline.Artifact(a.cfg.Render.Format)
	if toStdout {
		fallback = pipeline.ArtifactDOT
	}
	artifact, err := pipeline.ArtifactFor(outputFile, outputFormat, fallback)
	if err != nil {
		return err
	}

	out, err := a.discover(ctx)
	if err != nil {
		return err
	}

	start := time.Now()
	if toStdout {
		if err := pipeline.Write(ctx, os.Stdout, artifact, out, a.writeOptions()); err != nil {
			return err
		}
	} else if err := pipeline.WriteTo(ctx, a.opener, outputFile, artifact, out, a.writeOptions()); err != nil {
		return err
	}

	if !toStdout {
		tui.PrintReport(os.Stderr, tui.Report{
			Output:   outputFile,
			Events:   int(out.Events),
			Edges:    len(out.Result.DFG),
			Cached:   out.Cached,
			Duration: out.Elapsed + time.Since(start),
		})
	}
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.discover(ctx)
	if err != nil {
		return err
	}

	tui.PrintSummary(os.Stdout, tui.Summary{
		Input:    inputFile,
		Cases:    out.Cases,
		Events:   int(out.Events),
		Skipped:  out.Skipped,
		Result:   out.Result,
		TopN:     topN,
		Duration: out.Elapsed,
	})
	return nil
}

// discover runs the pipeline on the input flag and applies edge filters.
func (a *app) discover(ctx context.Context) (*pipeline.Output, error) {
	src, err := a.source(ctx, inputFile)
	if err != nil {
		return nil, err
	}
	r, err := a.runner()
	if err != nil {
		return nil, err
	}
	out, err := r.Run(ctx, src)
	if err != nil {
		return nil, err
	}
	a.filter(out)
	return out, nil
}

func (a *app) filter(out *pipeline.Output) {
	if minCount > 0 {
		out.Result = out.Result.FilterByFrequency(minCount)
	}
	if n := a.cfg.Discovery.MaxEdges; n > 0 {
		out.Result = out.Result.TopEdges(n)
	}
}
