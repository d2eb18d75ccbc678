// dfgflow discovers Directly-Follows Graphs from process event logs.
// Reads CSV, TSV, XES, XLSX and JSONL from disk or S3 and writes DOT,
// SVG, PNG, PDF, JSON or Parquet.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/logflow/dfgflow/pkg/server"
	"github.com/logflow/dfgflow/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
)

// Input flags, shared by every command that reads a log
var (
	inputFile   string
	formatFlag  string
	noProgress  bool
	errorPolicy string

	caseIDColumn    string
	activityColumn  string
	timestampColumn string
	resourceColumn  string
	timestampFormat string
	delimiter       string
)

// Discovery and output flags
var (
	outputFile      string
	outputFormat    string
	engineFlag      string
	workers         int
	performance     bool
	maxEdges        int
	minCount        int64
	topN            int
	cacheURI        string
	compressionFlag string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "dfgflow",
	Short: "dfgflow - Directly-Follows Graph discovery",
	Long: `dfgflow discovers the Directly-Follows Graph of a process event log:
how often each activity is directly followed by another within a case,
plus the activities that start and end cases.

Configuration is layered: /etc/dfgflow/config.yaml, ~/.dfgflow/config.yaml,
./.dfgflow.yaml, DFGFLOW_* environment variables, then flags.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	server.Version = version

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: layered lookup)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	pf.StringVar(&logFormat, "log-format", "", "Log format (console, json)")

	pf.StringVar(&caseIDColumn, "case-id", "", "Case ID column name")
	pf.StringVar(&activityColumn, "activity", "", "Activity column name")
	pf.StringVar(&timestampColumn, "timestamp", "", "Timestamp column name")
	pf.StringVar(&resourceColumn, "resource", "", "Resource column name")
	pf.StringVar(&timestampFormat, "timestamp-format", "", "Timestamp format (Go time layout, empty = auto)")
	pf.StringVar(&delimiter, "delimiter", "", "CSV field delimiter")
	pf.StringVar(&errorPolicy, "error-policy", "", "Bad row handling (strict, skip)")
	pf.StringVar(&engineFlag, "engine", "", "Discovery engine (memory, duckdb)")
	pf.IntVar(&workers, "workers", 0, "Discovery workers (0 = NumCPU)")
	pf.StringVar(&cacheURI, "cache", "", "Result cache (memory://, redis://host:port/db, none)")

	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(configCmd)
}

// addInputFlags registers the flags of commands that read one log.
func addInputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "Input event log: path, s3://bucket/key or '-' for stdin (required)")
	cmd.Flags().StringVarP(&formatFlag, "format", "f", "", "Input format (csv, tsv, xes, xlsx, jsonl) - auto-detected if not specified")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Hide the progress bar")
	cmd.MarkFlagRequired("input")
}

// addOutputFlags registers the flags of commands that write a graph.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output path or s3:// URI (default: DOT on stdout)")
	cmd.Flags().StringVar(&outputFormat, "output-format", "", "Output format (dot, svg, png, pdf, json, parquet) - from the output extension if not specified")
	cmd.Flags().BoolVar(&performance, "performance", false, "Annotate edges with transition durations")
	cmd.Flags().IntVar(&maxEdges, "max-edges", 0, "Edges kept when rendering (heaviest first)")
	cmd.Flags().Int64Var(&minCount, "min-count", 0, "Drop edges observed fewer times")
	cmd.Flags().StringVar(&compressionFlag, "compression", "snappy", "Parquet compression (none, snappy, gzip, zstd, lz4)")
}
