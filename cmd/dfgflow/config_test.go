package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/logflow/dfgflow/pkg/config"
	"github.com/logflow/dfgflow/pkg/errors"
)

func TestConfigInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	path := filepath.Join(dir, "conf", "dfgflow.yaml")
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	t.Cleanup(func() { rootCmd.SetOut(nil); rootCmd.SetArgs(nil) })

	rootCmd.SetArgs([]string{"config", "init", path, "--workers", "6", "--engine", "duckdb"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(out.String(), path) {
		t.Errorf("Expected %s in output, got %q", path, out.String())
	}

	m := config.NewManager()
	if err := m.Load(path); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if m.Get().Discovery.Workers != 6 {
		t.Errorf("Expected 6 workers, got %d", m.Get().Discovery.Workers)
	}
	if m.Get().Discovery.Engine != "duckdb" {
		t.Errorf("Expected duckdb engine, got %s", m.Get().Discovery.Engine)
	}

	rootCmd.SetArgs([]string{"config", "init", path})
	if err := rootCmd.Execute(); !errors.IsCode(err, errors.CodeWriteFailed) {
		t.Errorf("Expected %s for an existing file, got %v", errors.CodeWriteFailed, err)
	}

	rootCmd.SetArgs([]string{"config", "init", path, "--force"})
	if err := rootCmd.Execute(); err != nil {
		t.Errorf("config init --force failed: %v", err)
	}
}
