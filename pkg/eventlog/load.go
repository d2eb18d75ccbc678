package eventlog

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/parser"
)

// ProgressStats reports loading progress.
type ProgressStats struct {
	EventsProcessed int64
	EventsPerSecond float64
	ElapsedTime     time.Duration
}

// Options control Load.
type Options struct {
	// EventBufferSize is the channel buffer between parser and builder.
	EventBufferSize int

	// Progress, when set, is called at most every 100ms and once at the end.
	Progress func(ProgressStats)
}

// Result is a loaded log plus ingestion counters.
type Result struct {
	Log     *model.EventLog
	Events  int64
	Skipped int64
}

// Load runs p over r in one goroutine and groups its events in another.
// Any error cancels both.
func Load(ctx context.Context, p parser.Parser, r io.Reader, opts Options) (*Result, error) {
	if opts.EventBufferSize <= 0 {
		opts.EventBufferSize = 4096
	}

	events := make(chan *model.Event, opts.EventBufferSize)
	g, ctx := errgroup.WithContext(ctx)
	start := time.Now()

	g.Go(func() error {
		defer close(events)
		return p.Parse(ctx, r, events)
	})

	b := NewBuilder()
	g.Go(func() error {
		lastReport := time.Now()
		for {
			select {
			case <-ctx.Done():
				return errors.ContextCanceled("load")
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				b.Add(*ev)

				if opts.Progress != nil && time.Since(lastReport) > 100*time.Millisecond {
					opts.Progress(progress(b.Len(), start))
					lastReport = time.Now()
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if opts.Progress != nil {
		opts.Progress(progress(b.Len(), start))
	}

	return &Result{
		Log:     b.Build(),
		Events:  b.Len(),
		Skipped: p.Skipped(),
	}, nil
}

// LoadFile opens path and loads it with LoadReader.
func LoadFile(ctx context.Context, path, format string, cfg parser.Config, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileNotFound(path)
		}
		return nil, errors.Wrap(err, errors.CodeParseFailed, "failed to open input").WithContext("path", path)
	}
	defer f.Close()

	return LoadReader(ctx, path, f, format, cfg, opts)
}

// LoadReader loads r with a parser chosen from the explicit format or the
// extension of name. A name ending in .gz is gunzipped transparently.
func LoadReader(ctx context.Context, name string, r io.Reader, format string, cfg parser.Config, opts Options) (*Result, error) {
	p, err := parser.NewParser(parser.DetectFormat(name, format), cfg)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(name, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeEncodingError, "invalid gzip stream").WithContext("name", name)
		}
		defer gz.Close()
		r = gz
	}

	return Load(ctx, p, r, opts)
}

func progress(n int64, start time.Time) ProgressStats {
	elapsed := time.Since(start)
	var rate float64
	if s := elapsed.Seconds(); s > 0 {
		rate = float64(n) / s
	}
	return ProgressStats{
		EventsProcessed: n,
		EventsPerSecond: rate,
		ElapsedTime:     elapsed,
	}
}
