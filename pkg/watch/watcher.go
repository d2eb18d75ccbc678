// Package watch re-runs a callback when watched event logs change on disk.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/pkg/errors"
)

// DefaultDebounce is the quiet period after the last write before OnChange fires.
const DefaultDebounce = 500 * time.Millisecond

// ChangeFunc handles a changed file.
type ChangeFunc func(ctx context.Context, path string) error

// Watcher monitors files and calls OnChange once per burst of writes.
type Watcher struct {
	watcher  *fsnotify.Watcher
	logger   *zap.Logger
	debounce time.Duration

	mu    sync.Mutex
	files map[string]*fileState

	OnChange ChangeFunc
}

type fileState struct {
	modTime    time.Time
	size       int64
	timer      *time.Timer
	processing bool
	pending    bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// WithLogger sets the logger; the default discards output.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// New creates a watcher calling onChange for changed files.
func New(onChange ChangeFunc, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeUnknown, "failed to create watcher")
	}

	w := &Watcher{
		watcher:  fsw,
		logger:   zap.NewNop(),
		debounce: DefaultDebounce,
		files:    make(map[string]*fileState),
		OnChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Add starts watching path. The parent directory is watched so editors that
// replace files by rename are still seen.
func (w *Watcher) Add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeFileNotFound, "failed to resolve path").WithContext("path", path)
	}
	stat, err := os.Stat(abs)
	if err != nil {
		return errors.FileNotFound(path)
	}

	w.mu.Lock()
	w.files[abs] = &fileState{modTime: stat.ModTime(), size: stat.Size()}
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(abs)); err != nil {
		return errors.Wrap(err, errors.CodeUnknown, "failed to watch directory").WithContext("path", path)
	}
	return nil
}

// Run dispatches events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil {
				continue
			}
			w.schedule(ctx, abs)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state, ok := w.files[path]
	if !ok {
		return
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx, path, state) })
}

// fire runs OnChange unless the file is unchanged. A change arriving while
// OnChange runs is queued and handled once it returns.
func (w *Watcher) fire(ctx context.Context, path string, state *fileState) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if state.processing {
		state.pending = true
		w.mu.Unlock()
		return
	}
	stat, err := os.Stat(path)
	if err != nil {
		w.mu.Unlock()
		w.logger.Debug("watched file unavailable", zap.String("path", path), zap.Error(err))
		return
	}
	if stat.ModTime().Equal(state.modTime) && stat.Size() == state.size {
		w.mu.Unlock()
		return
	}
	state.modTime = stat.ModTime()
	state.size = stat.Size()
	state.processing = true
	w.mu.Unlock()

	w.logger.Info("change detected", zap.String("path", path), zap.Int64("size", stat.Size()))
	if w.OnChange != nil {
		if err := w.OnChange(ctx, path); err != nil {
			w.logger.Error("update failed", zap.String("path", path), zap.Error(err))
		}
	}

	w.mu.Lock()
	state.processing = false
	again := state.pending
	state.pending = false
	w.mu.Unlock()

	if again {
		w.fire(ctx, path, state)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.files {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
