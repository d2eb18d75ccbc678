package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/storage"
	"github.com/logflow/dfgflow/pkg/tui"
	"github.com/logflow/dfgflow/pkg/watch"
)

var watchDebounce time.Duration

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-discover the graph whenever the event log changes",
	Long: `Watch a local event log and rewrite the output graph each time the file
changes. Bursts of writes are debounced into one run.

Examples:
  dfgflow watch -i events.csv -o graph.svg
  dfgflow watch -i events.csv -o s3://graphs/live.json --debounce 2s`,
	RunE: runWatch,
}

func init() {
	addInputFlags(watchCmd)
	addOutputFlags(watchCmd)
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", watch.DefaultDebounce, "Quiet period before re-running")
	watchCmd.MarkFlagRequired("output")
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	loc, err := storage.Parse(inputFile)
	if err != nil {
		return err
	}
	if loc.Scheme != "file" || inputFile == "-" {
		return errors.New(errors.CodeUnsupportedFormat, "watch needs a local input file")
	}

	// The bar would redraw on every run.
	noProgress = true

	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	artifact, err := pipeline.ArtifactFor(outputFile, outputFormat, pipeline.Artifact(a.cfg.Render.Format))
	if err != nil {
		return err
	}
	r, err := a.runner()
	if err != nil {
		return err
	}

	rebuild := func(ctx context.Context, path string) error {
		out, err := r.Run(ctx, pipeline.Source{Path: path})
		if err != nil {
			tui.PrintError(os.Stderr, err)
			return err
		}
		a.filter(out)
		if err := pipeline.WriteTo(ctx, a.opener, outputFile, artifact, out, a.writeOptions()); err != nil {
			tui.PrintError(os.Stderr, err)
			return err
		}
		tui.PrintReport(os.Stderr, tui.Report{
			Output:   outputFile,
			Events:   int(out.Events),
			Edges:    len(out.Result.DFG),
			Cached:   out.Cached,
			Duration: out.Elapsed,
		})
		return nil
	}

	w, err := watch.New(rebuild, watch.WithDebounce(watchDebounce), watch.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(loc.Key); err != nil {
		return err
	}

	// A failing first run is reported; the next change retries.
	rebuild(ctx, loc.Key)

	fmt.Fprintf(os.Stderr, "Watching %s (Ctrl+C to stop)\n", loc.Key)
	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	a.logger.Info("watch stopped", zap.String("input", loc.Key))
	return nil
}
