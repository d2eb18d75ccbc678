package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/cache"
	"github.com/logflow/dfgflow/pkg/errors"
	"github.com/logflow/dfgflow/pkg/parser"
	"github.com/logflow/dfgflow/pkg/storage"
	"github.com/logflow/dfgflow/pkg/telemetry"
)

const sampleCSV = "case:concept:name,concept:name,time:timestamp\n" +
	"1,A,2024-01-01 10:00:00\n" +
	"1,B,2024-01-01 10:05:00\n" +
	"2,A,2024-01-01 11:00:00\n" +
	"1,C,2024-01-01 10:09:00\n" +
	"2,C,2024-01-01 11:30:00\n"

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "log.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleCSV), 0o644))
	return path
}

func pair(a, b string) model.Pair {
	return model.Pair{Source: a, Target: b}
}

func TestParseEngine(t *testing.T) {
	e, err := ParseEngine("")
	require.NoError(t, err)
	assert.Equal(t, EngineMemory, e)

	e, err = ParseEngine("DuckDB")
	require.NoError(t, err)
	assert.Equal(t, EngineDuckDB, e)

	_, err = ParseEngine("spark")
	assert.True(t, errors.IsCode(err, errors.CodeInvalidFormat))
}

func TestRunner_File(t *testing.T) {
	r := New(DefaultConfig(), WithLogger(zaptest.NewLogger(t)))

	out, err := r.Run(context.Background(), Source{Path: writeSample(t)})
	require.NoError(t, err)

	assert.Equal(t, map[model.Pair]int64{
		pair("A", "B"): 1,
		pair("B", "C"): 1,
		pair("A", "C"): 1,
	}, out.Result.DFG)
	assert.Equal(t, map[string]int64{"A": 2}, out.Result.StartActivities)
	assert.Equal(t, map[string]int64{"C": 2}, out.Result.EndActivities)
	assert.Equal(t, 2, out.Cases)
	assert.Equal(t, int64(5), out.Events)
	assert.False(t, out.Cached)
	assert.Nil(t, out.Performance)
}

func TestRunner_EnginesAgree(t *testing.T) {
	path := writeSample(t)
	ctx := context.Background()

	memory, err := New(DefaultConfig()).Run(ctx, Source{Path: path})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Engine = EngineDuckDB
	viaCSV, err := New(cfg).Run(ctx, Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, memory.Result, viaCSV.Result)
	assert.Equal(t, int64(5), viaCSV.Events)
	assert.Equal(t, 2, viaCSV.Cases)

	// In-memory bytes go through the Go parser, then DuckDB.
	viaLog, err := New(cfg).Run(ctx, Source{Name: "log.csv", Data: []byte(sampleCSV)})
	require.NoError(t, err)
	assert.Equal(t, memory.Result, viaLog.Result)

	// An explicit layout lets DuckDB read the file itself.
	cfg.Parser.TimestampFormat = "2006-01-02 15:04:05"
	_, native := New(cfg).csvInDuckDB(Source{Path: path})
	require.True(t, native)
	viaNative, err := New(cfg).Run(ctx, Source{Path: path})
	require.NoError(t, err)
	assert.Equal(t, memory.Result, viaNative.Result)
	assert.Equal(t, int64(5), viaNative.Events)
}

func TestRunner_EnginesAgreeOnTimestamps(t *testing.T) {
	const header = "case:concept:name,concept:name,time:timestamp\n"

	tests := []struct {
		name    string
		rows    string
		layout  string
		want    map[model.Pair]int64
		wantErr errors.Code
	}{
		{
			name: "day first",
			rows: "1,A,25/12/2024 10:00:00\n1,B,26/12/2024 09:00:00\n" +
				"2,B,24/12/2024 10:00:00\n2,A,31/12/2024 10:00:00\n",
			want: map[model.Pair]int64{pair("A", "B"): 1, pair("B", "A"): 1},
		},
		{
			name:   "day first with layout",
			rows:   "1,A,25/12/2024 10:00:00\n1,B,02/12/2024 09:00:00\n",
			layout: "02/01/2006 15:04:05",
			want:   map[model.Pair]int64{pair("B", "A"): 1},
		},
		{
			name: "excel serial",
			rows: "1,A,45306.5\n1,B,45306.25\n1,C,45307\n",
			want: map[model.Pair]int64{pair("B", "A"): 1, pair("A", "C"): 1},
		},
		{
			name:   "layout mismatch falls back",
			rows:   "1,A,2024-01-01 10:00:00\n1,B,2024-01-01 09:00:00\n",
			layout: "02/01/2006 15:04:05",
			want:   map[model.Pair]int64{pair("B", "A"): 1},
		},
		{
			name:    "garbage timestamp",
			rows:    "1,A,2024-01-01 10:00:00\n1,B,soon\n",
			wantErr: errors.CodeInvalidTimestamp,
		},
		{
			name:    "garbage timestamp with layout",
			rows:    "1,A,2024-01-01 10:00:00\n1,B,soon\n",
			layout:  "2006-01-02 15:04:05",
			wantErr: errors.CodeInvalidTimestamp,
		},
		{
			name:    "missing activity",
			rows:    "1,A,2024-01-01 10:00:00\n1,,2024-01-01 11:00:00\n",
			layout:  "2006-01-02 15:04:05",
			wantErr: errors.CodeInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "log.csv")
			require.NoError(t, os.WriteFile(path, []byte(header+tt.rows), 0o644))

			for _, engine := range []Engine{EngineMemory, EngineDuckDB} {
				cfg := DefaultConfig()
				cfg.Engine = engine
				cfg.Parser.TimestampFormat = tt.layout

				out, err := New(cfg, WithLogger(zaptest.NewLogger(t))).Run(context.Background(), Source{Path: path})
				if tt.wantErr != "" {
					assert.True(t, errors.IsCode(err, tt.wantErr), "%s: expected %s, got %v", engine, tt.wantErr, err)
					continue
				}
				require.NoError(t, err, engine)
				assert.Equal(t, tt.want, out.Result.DFG, engine)
			}
		})
	}
}

func TestRunner_Cache(t *testing.T) {
	metrics := telemetry.NewMetrics()
	c := cache.NewMemory(time.Hour)
	r := New(DefaultConfig(), WithCache(c), WithMetrics(metrics))
	src := Source{Name: "log.csv", Data: []byte(sampleCSV)}

	first, err := r.Run(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, first.Cached)

	second, err := r.Run(context.Background(), src)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Result, second.Result)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHits))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMisses))
	assert.Equal(t, 5.0, testutil.ToFloat64(metrics.EventsIngested))

	// So is another engine.
	cfg := DefaultConfig()
	cfg.Engine = EngineDuckDB
	other, err := New(cfg, WithCache(c)).Run(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, other.Cached)

	// A different column mapping is a different key.
	cfg = DefaultConfig()
	cfg.Parser.ResourceColumn = "who"
	cfg.Parser.TimestampFormat = "2006-01-02 15:04:05"
	third, err := New(cfg, WithCache(c)).Run(context.Background(), src)
	require.NoError(t, err)
	assert.False(t, third.Cached)
}

func TestRunner_Performance(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Performance = true
	out, err := New(cfg).Run(context.Background(), Source{Path: writeSample(t)})
	require.NoError(t, err)

	require.NotNil(t, out.Performance)
	assert.Equal(t, 5*time.Minute, out.Performance[pair("A", "B")].Median)
	assert.Equal(t, 30*time.Minute, out.Performance[pair("A", "C")].Max)
}

func TestRunner_Errors(t *testing.T) {
	ctx := context.Background()

	_, err := New(DefaultConfig()).Run(ctx, Source{Path: filepath.Join(t.TempDir(), "nope.csv")})
	assert.True(t, errors.IsCode(err, errors.CodeFileNotFound))

	bad := "case:concept:name,concept:name,time:timestamp\n1,A,2024-01-01 10:00:00\n1,B,later\n"
	_, err = New(DefaultConfig()).Run(ctx, Source{Name: "log.csv", Data: []byte(bad)})
	assert.True(t, errors.IsCode(err, errors.CodeInvalidTimestamp))

	cfg := DefaultConfig()
	cfg.Parser.ErrorPolicy = parser.ErrorPolicySkip
	out, err := New(cfg).Run(ctx, Source{Name: "log.csv", Data: []byte(bad)})
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Skipped)
	assert.Empty(t, out.Result.DFG)
}

func TestRunner_ReaderHook(t *testing.T) {
	var sizes []int64
	r := New(DefaultConfig(), WithReaderHook(func(in io.Reader, size int64) io.Reader {
		sizes = append(sizes, size)
		return in
	}))

	_, err := r.Run(context.Background(), Source{Path: writeSample(t)})
	require.NoError(t, err)
	assert.Equal(t, []int64{int64(len(sampleCSV))}, sizes)
}

func TestArtifactFor(t *testing.T) {
	tests := []struct {
		uri      string
		explicit string
		expected Artifact
		wantErr  bool
	}{
		{"out.svg", "", ArtifactSVG, false},
		{"out.gv", "", ArtifactDOT, false},
		{"s3://bucket/graphs/out.parquet", "", ArtifactParquet, false},
		{"out.svg", "json", ArtifactJSON, false},
		{"-", "", ArtifactDOT, false},
		{"out.txt", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri+tt.explicit, func(t *testing.T) {
			got, err := ArtifactFor(tt.uri, tt.explicit, ArtifactDOT)
			if tt.wantErr {
				assert.True(t, errors.IsCode(err, errors.CodeUnsupportedFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestWrite(t *testing.T) {
	out, err := New(DefaultConfig()).Run(context.Background(), Source{Name: "log.csv", Data: []byte(sampleCSV)})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(context.Background(), &buf, ArtifactDOT, out, WriteOptions{}))
	assert.True(t, strings.HasPrefix(buf.String(), "digraph"))

	buf.Reset()
	require.NoError(t, Write(context.Background(), &buf, ArtifactJSON, out, WriteOptions{}))
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc["edges"], 3)

	buf.Reset()
	require.NoError(t, Write(context.Background(), &buf, ArtifactParquet, out, WriteOptions{Compression: "zstd"}))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("PAR1")))

	buf.Reset()
	err = Write(context.Background(), &buf, ArtifactParquet, out, WriteOptions{Compression: "brotli"})
	assert.True(t, errors.IsCode(err, errors.CodeUnsupportedFormat))
	assert.Zero(t, buf.Len())
}

func TestWriteTo_Local(t *testing.T) {
	out, err := New(DefaultConfig()).Run(context.Background(), Source{Name: "log.csv", Data: []byte(sampleCSV)})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "graph.json")
	require.NoError(t, WriteTo(context.Background(), storage.Opener{}, path, ArtifactJSON, out, WriteOptions{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"start_activities"`)
}
