package main

import (
	"bytes"
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/pkg/cache"
	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/export"
	"github.com/logflow/dfgflow/pkg/logging"
	"github.com/logflow/dfgflow/pkg/parser"
	"github.com/logflow/dfgflow/pkg/pipeline"
	"github.com/logflow/dfgflow/pkg/render"
	"github.com/logflow/dfgflow/pkg/storage"
	"github.com/logflow/dfgflow/pkg/telemetry"
	"github.com/logflow/dfgflow/pkg/tui"
)

// app holds what every command needs once configuration is resolved.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	cache    cache.Cache
	opener   storage.Opener
	shutdown func(context.Context) error
}

// setup loads layered configuration, applies flags and starts logging,
// tracing and the cache.
func setup(ctx context.Context, cmd *cobra.Command) (*app, error) {
	m := config.NewManager()
	if err := m.Load(configFile); err != nil {
		return nil, err
	}
	cfg := m.Get()
	applyFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	// Fail before discovery rather than at write time.
	if _, err := export.ParseCompression(compressionFlag); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	logger.Debug("configuration loaded", zap.Strings("files", m.GetPaths()))

	otlp := telemetry.DefaultOTLPConfig(cfg.Telemetry.ServiceName)
	otlp.Endpoint = cfg.Telemetry.Endpoint
	otlp.InsecureTLS = cfg.Telemetry.Insecure
	otlp.SamplingRatio = cfg.Telemetry.SampleRatio
	otlp.ServiceVersion = version
	shutdown, err := telemetry.NewOTLPExporter(otlp).Init(ctx)
	if err != nil {
		return nil, err
	}

	c, err := cache.Open(cfg.Cache.URI, cfg.Cache.TTL, logger)
	if err != nil {
		shutdown(ctx)
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  telemetry.NewMetrics(),
		cache:    c,
		shutdown: shutdown,
		opener: storage.Opener{S3: storage.S3Config{
			Region:       cfg.Storage.Region,
			Endpoint:     cfg.Storage.Endpoint,
			UsePathStyle: cfg.Storage.PathStyle,
		}},
	}, nil
}

// applyFlags overrides configuration with explicitly set flags.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	set := func(name string, dst *string, value string) {
		if changed(name) {
			*dst = value
		}
	}

	set("log-level", &cfg.Log.Level, logLevel)
	set("log-format", &cfg.Log.Format, logFormat)
	set("case-id", &cfg.Columns.CaseID, caseIDColumn)
	set("activity", &cfg.Columns.Activity, activityColumn)
	set("timestamp", &cfg.Columns.Timestamp, timestampColumn)
	set("resource", &cfg.Columns.Resource, resourceColumn)
	set("timestamp-format", &cfg.Columns.TimestampFormat, timestampFormat)
	set("delimiter", &cfg.Columns.Delimiter, delimiter)
	set("error-policy", &cfg.Columns.ErrorPolicy, errorPolicy)
	set("engine", &cfg.Discovery.Engine, engineFlag)
	set("cache", &cfg.Cache.URI, cacheURI)

	if changed("workers") {
		cfg.Discovery.Workers = workers
	}
	if cmd.Flags().Lookup("performance") != nil && changed("performance") {
		cfg.Discovery.Performance = performance
	}
	if cmd.Flags().Lookup("max-edges") != nil && changed("max-edges") {
		cfg.Render.MaxEdges = maxEdges
	}
}

func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("cache close failed", zap.Error(err))
	}
	if err := a.shutdown(context.Background()); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	a.logger.Sync()
}

// pipelineConfig maps the resolved configuration onto a run.
func (a *app) pipelineConfig() (pipeline.Config, error) {
	engine, err := pipeline.ParseEngine(a.cfg.Discovery.Engine)
	if err != nil {
		return pipeline.Config{}, err
	}

	cols := a.cfg.Columns
	p := parser.DefaultConfig()
	p.CaseIDColumn = cols.CaseID
	p.ActivityColumn = cols.Activity
	p.TimestampColumn = cols.Timestamp
	p.ResourceColumn = cols.Resource
	p.TimestampFormat = cols.TimestampFormat
	p.ErrorPolicy = parser.ParseErrorPolicy(cols.ErrorPolicy)
	if cols.Delimiter != "" {
		p.Delimiter = cols.Delimiter[0]
	}

	return pipeline.Config{
		Parser:      p,
		Format:      formatFlag,
		Engine:      engine,
		Workers:     a.cfg.Discovery.Workers,
		Performance: a.cfg.Discovery.Performance,
	}, nil
}

// runner builds a pipeline.Runner. Local files get a progress bar unless
// disabled or logging as JSON.
func (a *app) runner() (*pipeline.Runner, error) {
	cfg, err := a.pipelineConfig()
	if err != nil {
		return nil, err
	}

	opts := []pipeline.Option{
		pipeline.WithCache(a.cache),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.logger),
	}
	if !noProgress && a.cfg.Log.Format != "json" {
		opts = append(opts, pipeline.WithReaderHook(func(r io.Reader, size int64) io.Reader {
			return io.TeeReader(r, tui.ByteProgress(size, "reading"))
		}))
	}
	return pipeline.New(cfg, opts...), nil
}

func (a *app) writeOptions() pipeline.WriteOptions {
	return pipeline.WriteOptions{
		MaxEdges:    a.cfg.Render.MaxEdges,
		Compression: compressionFlag,
		Renderer:    render.Renderer{Binary: a.cfg.Render.Graphviz},
	}
}

// source resolves the input flag. S3 objects and stdin are read into
// memory; local files are streamed by the runner.
func (a *app) source(ctx context.Context, input string) (pipeline.Source, error) {
	if input == "-" {
		if formatFlag == "" {
			return pipeline.Source{}, errors.New(errors.CodeUnsupportedFormat,
				"format must be specified when reading from stdin (--format csv/xes/jsonl)")
		}
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return pipeline.Source{}, errors.Wrap(err, errors.CodeParseFailed, "failed to read stdin")
		}
		return pipeline.Source{Name: "stdin." + formatFlag, Data: data}, nil
	}

	loc, err := storage.Parse(input)
	if err != nil {
		return pipeline.Source{}, err
	}
	if loc.Scheme == "file" {
		return pipeline.Source{Path: loc.Key}, nil
	}

	rc, _, err := a.opener.Reader(ctx, loc)
	if err != nil {
		return pipeline.Source{}, err
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return pipeline.Source{}, errors.Wrap(err, errors.CodeParseFailed, "failed to download input").
			WithContext("uri", input)
	}
	return pipeline.Source{Name: loc.Name(), Data: buf.Bytes()}, nil
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
