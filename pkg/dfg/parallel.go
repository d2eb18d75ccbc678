package dfg

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/errors"
)

// DiscoverParallel shards traces over workers goroutines and merges the
// partial results. The output equals Discover's. On invalid input the error
// for the lowest trace index is returned, matching Discover.
// workers <= 0 means runtime.NumCPU().
func DiscoverParallel(ctx context.Context, log *model.EventLog, workers int) (*Result, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if log == nil || len(log.Traces) == 0 {
		return NewResult(), nil
	}
	if workers > len(log.Traces) {
		workers = len(log.Traces)
	}
	if workers == 1 {
		return Discover(log)
	}

	partials := make([]*Result, workers)
	failures := make([]error, workers)
	chunk := (len(log.Traces) + workers - 1) / workers

	// Shards do not cancel each other on invalid input: each stops at its
	// own first bad trace so the lowest failing shard holds the global first.
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		lo := w * chunk
		hi := min(lo+chunk, len(log.Traces))
		if lo >= hi {
			continue
		}
		g.Go(func() error {
			part := NewResult()
			for i := lo; i < hi; i++ {
				if (i-lo)%1024 == 0 {
					if ctx.Err() != nil {
						return errors.ContextCanceled("discover")
					}
				}
				if err := part.addTrace(&log.Traces[i], i); err != nil {
					failures[w] = err
					return nil
				}
			}
			partials[w] = part
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	for _, f := range failures {
		if f != nil {
			return nil, f
		}
	}

	res := NewResult()
	for _, part := range partials {
		if part != nil {
			res.Merge(part)
		}
	}
	return res, nil
}
