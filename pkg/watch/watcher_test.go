package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/logflow/dfgflow/pkg/errors"
)

func TestWatcher_DebouncesWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.csv")
	if err := os.WriteFile(path, []byte("a\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls atomic.Int32
	changed := make(chan string, 4)
	w, err := New(func(_ context.Context, p string) error {
		calls.Add(1)
		changed <- p
		return nil
	}, WithDebounce(100*time.Millisecond), WithLogger(zaptest.NewLogger(t)))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer w.Close()

	if err := w.Add(path); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	// Several quick appends collapse into one callback.
	for i := 0; i < 3; i++ {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			t.Fatal(err)
		}
		f.WriteString("b\n")
		f.Close()
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-changed:
		abs, _ := filepath.Abs(path)
		if got != abs {
			t.Errorf("Expected %s, got %s", abs, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for change")
	}

	time.Sleep(300 * time.Millisecond)
	if n := calls.Load(); n != 1 {
		t.Errorf("Expected 1 callback, got %d", n)
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	watched := filepath.Join(dir, "log.csv")
	os.WriteFile(watched, []byte("a\n"), 0o644)

	var calls atomic.Int32
	w, err := New(func(context.Context, string) error {
		calls.Add(1)
		return nil
	}, WithDebounce(20*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	if err := w.Add(watched); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	os.WriteFile(filepath.Join(dir, "other.csv"), []byte("x\n"), 0o644)
	time.Sleep(200 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("Expected no callbacks, got %d", n)
	}
}

func TestWatcher_AddMissing(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	err = w.Add(filepath.Join(t.TempDir(), "missing.csv"))
	if !errors.IsCode(err, errors.CodeFileNotFound) {
		t.Errorf("Expected %s, got %v", errors.CodeFileNotFound, err)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	w, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
}
