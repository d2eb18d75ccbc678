// Package pipeline connects ingestion, caching, discovery and output into
// the single run shared by the CLI, the watcher and the HTTP server.
//
// Data flows: Source -> parser -> event log -> cache/engine -> Output.
// All measurement happens here, around the pure discovery calls.
package pipeline

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/cache"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/eventlog"
	"github.com/logflow/dfgflow/pkg/parser"
	"github.com/logflow/dfgflow/pkg/store"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

// Engine selects where discovery runs.
type Engine string

const (
	EngineMemory Engine = "memory"
	EngineDuckDB Engine = "duckdb"
)

// ParseEngine validates an engine name. Empty means memory.
func ParseEngine(s string) (Engine, error) {
	switch Engine(strings.ToLower(s)) {
	case "", EngineMemory:
		return EngineMemory, nil
	case EngineDuckDB:
		return EngineDuckDB, nil
	default:
		return "", errors.Newf(errors.CodeInvalidFormat, "unknown engine %q", s)
	}
}

// Config holds the settings of a run.
type Config struct {
	Parser      parser.Config
	Format      string // explicit input format; empty detects from the name
	Engine      Engine
	Workers     int // memory engine shards, 0 = NumCPU
	Performance bool
}

// DefaultConfig returns the defaults used by the CLI.
func DefaultConfig() Config {
	return Config{
		Parser: parser.DefaultConfig(),
		Engine: EngineMemory,
	}
}

// Source is an event log to discover. Exactly one of Path and Data is used.
type Source struct {
	// Name drives format detection; defaults to Path.
	Name string
	Path string
	Data []byte
}

func (s Source) name() string {
	if s.Name != "" {
		return s.Name
	}
	return s.Path
}

// Output is the outcome of a run.
type Output struct {
	Result      *dfg.Result
	Performance map[model.Pair]dfg.Durations // nil unless requested
	Cases       int
	Events      int64
	Skipped     int64
	Cached      bool
	Elapsed     time.Duration
}

// Runner executes runs with a shared cache, metrics and logger.
type Runner struct {
	cfg     Config
	cache   cache.Cache
	metrics *telemetry.Metrics
	logger  *zap.Logger
	wrap    func(r io.Reader, size int64) io.Reader
}

// Option configures a Runner.
type Option func(*Runner)

// WithCache enables result caching.
func WithCache(c cache.Cache) Option {
	return func(r *Runner) { r.cache = c }
}

// WithMetrics records runs on m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithReaderHook wraps every input reader, e.g. with a progress bar.
// size is -1 when unknown.
func WithReaderHook(fn func(r io.Reader, size int64) io.Reader) Option {
	return func(r *Runner) { r.wrap = fn }
}

// New creates a Runner.
func New(cfg Config, opts ...Option) *Runner {
	if cfg.Engine == "" {
		cfg.Engine = EngineMemory
	}
	r := &Runner{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the run settings.
func (r *Runner) Config() Config {
	return r.cfg
}

// Run discovers the graph of src.
func (r *Runner) Run(ctx context.Context, src Source) (*Output, error) {
	ctx, span := telemetry.StartSpan(ctx, "dfgflow.run",
		attribute.String("input", src.name()),
		attribute.String("engine", string(r.cfg.Engine)),
	)
	start := time.Now()

	out, err := r.run(ctx, src)
	elapsed := time.Since(start)
	telemetry.EndSpan(span, err)

	if err != nil {
		r.logger.Debug("discovery failed", zap.String("input", src.name()), zap.Error(err))
		if r.metrics != nil {
			r.metrics.ObserveDiscovery(string(r.cfg.Engine), elapsed, err)
		}
		return nil, err
	}

	out.Elapsed = elapsed
	if r.metrics != nil {
		if out.Cached {
			r.metrics.Discoveries.WithLabelValues(string(r.cfg.Engine), "cached").Inc()
		} else {
			r.metrics.ObserveDiscovery(string(r.cfg.Engine), elapsed, nil)
			r.metrics.EventsIngested.Add(float64(out.Events))
			r.metrics.RowsSkipped.Add(float64(out.Skipped))
		}
	}
	r.logger.Info("discovery complete",
		zap.String("input", src.name()),
		zap.Int("edges", len(out.Result.DFG)),
		zap.Int64("events", out.Events),
		zap.Bool("cached", out.Cached),
		zap.Duration("elapsed", elapsed),
	)
	return out, nil
}

func (r *Runner) run(ctx context.Context, src Source) (*Output, error) {
	// Performance needs the event log, which the cache does not hold.
	if r.cache == nil || r.cfg.Performance {
		return r.discover(ctx, src)
	}

	key, err := r.cacheKey(src)
	if err != nil {
		return nil, err
	}
	res, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.logger.Warn("cache lookup failed", zap.Error(err))
	}
	if r.metrics != nil && err == nil {
		r.metrics.ObserveCache(ok)
	}
	if ok {
		return &Output{Result: res, Cached: true}, nil
	}

	out, err := r.discover(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Put(ctx, key, out.Result); err != nil {
		r.logger.Warn("cache store failed", zap.Error(err))
	}
	return out, nil
}

// cacheKey hashes the input with every setting that changes the result.
func (r *Runner) cacheKey(src Source) (string, error) {
	p := r.cfg.Parser
	settings := []string{
		parser.DetectFormat(src.name(), r.cfg.Format).String(),
		p.CaseIDColumn,
		p.ActivityColumn,
		p.TimestampColumn,
		p.TimestampFormat,
		string(p.Delimiter),
		p.ErrorPolicy.String(),
		string(r.cfg.Engine),
	}

	if src.Data != nil || src.Path == "" {
		return cache.Key(bytes.NewReader(src.Data), settings...)
	}
	f, err := os.Open(src.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errors.FileNotFound(src.Path)
		}
		return "", errors.Wrap(err, errors.CodeParseFailed, "failed to open input").WithContext("path", src.Path)
	}
	defer f.Close()
	return cache.Key(f, settings...)
}

func (r *Runner) discover(ctx context.Context, src Source) (*Output, error) {
	if format, ok := r.csvInDuckDB(src); ok {
		out, err := r.discoverCSVInDuckDB(ctx, src.Path, format)
		if !errors.IsCode(err, errors.CodeInvalidTimestamp) {
			return out, err
		}
		// The Go parser falls back to other layouts before giving up.
		r.logger.Debug("duckdb rejected a timestamp, reparsing", zap.String("input", src.Path), zap.Error(err))
	}

	loaded, err := r.load(ctx, src)
	if err != nil {
		return nil, err
	}

	var res *dfg.Result
	switch r.cfg.Engine {
	case EngineDuckDB:
		res, err = discoverInDuckDB(ctx, loaded.Log)
	default:
		res, err = dfg.DiscoverParallel(ctx, loaded.Log, r.cfg.Workers)
	}
	if err != nil {
		return nil, err
	}

	out := &Output{
		Result:  res,
		Cases:   len(loaded.Log.Traces),
		Events:  loaded.Events,
		Skipped: loaded.Skipped,
	}
	if r.cfg.Performance {
		if out.Performance, err = dfg.DiscoverPerformance(loaded.Log); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// csvInDuckDB reports whether DuckDB can read src itself, skipping the
// Go parser, and returns the strptime format to read timestamps with.
// Only plain CSV files qualify, only under the strict policy since DuckDB
// rejects rather than skips bad rows, and only with an explicit timestamp
// layout: automatic detection (day-first dates, Excel serials) is the Go
// parser's job.
func (r *Runner) csvInDuckDB(src Source) (string, bool) {
	if r.cfg.Engine != EngineDuckDB ||
		r.cfg.Performance ||
		src.Path == "" || src.Data != nil ||
		r.cfg.Parser.ErrorPolicy != parser.ErrorPolicyStrict ||
		parser.DetectFormat(src.name(), r.cfg.Format) != parser.FormatCSV ||
		strings.HasSuffix(src.Path, ".gz") {
		return "", false
	}
	return store.StrptimeFormat(r.cfg.Parser.TimestampFormat)
}

func (r *Runner) load(ctx context.Context, src Source) (*eventlog.Result, error) {
	name := src.name()
	if src.Data != nil || src.Path == "" {
		var in io.Reader = bytes.NewReader(src.Data)
		if r.wrap != nil {
			in = r.wrap(in, int64(len(src.Data)))
		}
		return eventlog.LoadReader(ctx, name, in, r.cfg.Format, r.cfg.Parser, r.loadOptions(name))
	}

	f, err := os.Open(src.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(src.Path)
		}
		return nil, errors.Wrap(err, errors.CodeParseFailed, "failed to open input").WithContext("path", src.Path)
	}
	defer f.Close()

	var in io.Reader = f
	// XLSX needs the *os.File for random access.
	if r.wrap != nil && parser.DetectFormat(name, r.cfg.Format) != parser.FormatXLSX {
		size := int64(-1)
		if st, err := f.Stat(); err == nil {
			size = st.Size()
		}
		in = r.wrap(f, size)
	}
	return eventlog.LoadReader(ctx, name, in, r.cfg.Format, r.cfg.Parser, r.loadOptions(name))
}

func (r *Runner) loadOptions(name string) eventlog.Options {
	return eventlog.Options{
		Progress: func(p eventlog.ProgressStats) {
			r.logger.Debug("loading",
				zap.String("input", name),
				zap.Int64("events", p.EventsProcessed),
				zap.Float64("events_per_sec", p.EventsPerSecond),
			)
		},
	}
}

func discoverInDuckDB(ctx context.Context, log *model.EventLog) (*dfg.Result, error) {
	s, err := store.New()
	if err != nil {
		return nil, err
	}
	defer s.Close()

	if err := s.Load(ctx, log); err != nil {
		return nil, err
	}
	return s.Discover(ctx)
}

func (r *Runner) discoverCSVInDuckDB(ctx context.Context, path, format string) (*Output, error) {
	s, err := store.NewWithConfig(store.Config{Threads: r.cfg.Workers})
	if err != nil {
		return nil, err
	}
	defer s.Close()

	p := r.cfg.Parser
	if err := s.LoadCSV(ctx, path, store.CSVColumns{
		CaseID:    p.CaseIDColumn,
		Activity:  p.ActivityColumn,
		Timestamp: p.TimestampColumn,
		Delimiter: p.Delimiter,

		TimestampFormat: format,
	}); err != nil {
		return nil, err
	}

	res, err := s.Discover(ctx)
	if err != nil {
		return nil, err
	}
	events, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}

	var cases int64
	for _, c := range res.StartActivities {
		cases += c
	}
	return &Output{Result: res, Cases: int(cases), Events: events}, nil
}
