package telemetry

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/logflow/dfgflow/pkg/errors"
)

func TestOTLPExporter_NoEndpoint(t *testing.T) {
	e := NewOTLPExporter(DefaultOTLPConfig("test"))
	shutdown, err := e.Init(context.Background())
	if err != nil {
		t.Fatalf("Init failed: %v", err)
	}
	if !e.IsInitialized() {
		t.Error("Expected exporter to be initialized")
	}

	_, span := e.Tracer().Start(context.Background(), "noop")
	span.End()

	if err := shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
	if e.IsInitialized() {
		t.Error("Expected exporter to be shut down")
	}
}

func TestStartSpan(t *testing.T) {
	ctx, span := StartSpan(context.Background(), "discover")
	if ctx == nil {
		t.Fatal("Expected context")
	}
	EndSpan(span, errors.InvalidInput("missing activity"))
}

func TestSampler(t *testing.T) {
	tests := []struct {
		ratio    float64
		expected string
	}{
		{1, "AlwaysOnSampler"},
		{2, "AlwaysOnSampler"},
		{0, "AlwaysOffSampler"},
		{0.5, "ParentBased"},
	}
	for _, tt := range tests {
		if got := sampler(tt.ratio).Description(); !strings.HasPrefix(got, tt.expected) {
			t.Errorf("ratio %v: expected %s, got %s", tt.ratio, tt.expected, got)
		}
	}
}

func TestMetrics_ObserveDiscovery(t *testing.T) {
	m := NewMetrics()

	m.ObserveDiscovery("memory", 20*time.Millisecond, nil)
	m.ObserveDiscovery("memory", 0, errors.InvalidInput("missing timestamp"))
	m.ObserveDiscovery("duckdb", 0, errors.New(errors.CodeDuckDBQuery, "boom"))

	if got := testutil.ToFloat64(m.Discoveries.WithLabelValues("memory", "ok")); got != 1 {
		t.Errorf("Expected 1 ok run, got %v", got)
	}
	if got := testutil.ToFloat64(m.Discoveries.WithLabelValues("memory", "invalid_input")); got != 1 {
		t.Errorf("Expected 1 invalid_input run, got %v", got)
	}
	if got := testutil.ToFloat64(m.Discoveries.WithLabelValues("duckdb", "error")); got != 1 {
		t.Errorf("Expected 1 error run, got %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.ObserveCache(true)
	m.ObserveCache(false)
	m.ObserveCache(false)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	for _, want := range []string{"dfgflow_cache_hits_total 1", "dfgflow_cache_misses_total 2"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics output to contain %q", want)
		}
	}
}
