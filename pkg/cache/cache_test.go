package cache

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
)

func sample() *dfg.Result {
	res := dfg.NewResult()
	res.DFG[model.Pair{Source: "A", Target: "B"}] = 2
	res.DFG[model.Pair{Source: "B", Target: "B"}] = 1
	res.StartActivities["A"] = 2
	res.EndActivities["B"] = 2
	return res
}

func TestEncodeDecode(t *testing.T) {
	data, err := encode(sample())
	require.NoError(t, err)

	got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, sample(), got)
}

func TestDecode_Garbage(t *testing.T) {
	_, err := decode([]byte{0xc1})
	assert.True(t, errors.IsCode(err, errors.CodeCacheFailed))
}

func TestKey(t *testing.T) {
	k1, err := Key(strings.NewReader("data"), "case", "activity")
	require.NoError(t, err)
	k2, err := Key(strings.NewReader("data"), "case", "activity")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 64)

	// Settings are separated, so moving a byte between them changes the key.
	k3, err := Key(strings.NewReader("data"), "casea", "ctivity")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)

	k4, err := Key(strings.NewReader("other"), "case", "activity")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k4)
}

func TestMemory(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Put(ctx, "k", sample()))
	got, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample(), got)

	// Mutating the returned result does not touch the cache.
	got.DFG[model.Pair{Source: "X", Target: "Y"}] = 9
	again, _, _ := m.Get(ctx, "k")
	assert.Len(t, again.DFG, 2)
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(time.Minute)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Put(ctx, "k", sample()))
	now = now.Add(2 * time.Minute)

	_, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestOpen(t *testing.T) {
	logger := zaptest.NewLogger(t)

	c, err := Open("", time.Hour, logger)
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, c)

	c, err = Open("none", time.Hour, logger)
	require.NoError(t, err)
	assert.IsType(t, Nop{}, c)

	_, err = Open("memcached://x", time.Hour, logger)
	assert.True(t, errors.IsCode(err, errors.CodeCacheFailed))
}

func TestParseRedisURL(t *testing.T) {
	cfg, err := ParseRedisURL("redis://:secret@cache.local:6380/3")
	require.NoError(t, err)
	assert.Equal(t, "cache.local:6380", cfg.Address)
	assert.Equal(t, "secret", cfg.Password)
	assert.Equal(t, 3, cfg.Database)
	assert.Equal(t, "dfgflow:dfg:", cfg.Prefix)
	assert.Nil(t, cfg.TLSConfig)
}

func TestParseRedisURL_TLS(t *testing.T) {
	cfg, err := ParseRedisURL("rediss://u:p@h:6380/2")
	require.NoError(t, err)
	assert.Equal(t, "h:6380", cfg.Address)
	assert.Equal(t, "u", cfg.Username)
	assert.Equal(t, "p", cfg.Password)
	assert.Equal(t, 2, cfg.Database)
	require.NotNil(t, cfg.TLSConfig)
	assert.Equal(t, "h", cfg.TLSConfig.ServerName)

	opts := cfg.options()
	assert.Equal(t, "u", opts.Username)
	assert.Equal(t, "p", opts.Password)
	assert.Equal(t, 2, opts.DB)
	assert.Same(t, cfg.TLSConfig, opts.TLSConfig)
}

func TestRedis(t *testing.T) {
	uri := os.Getenv("DFGFLOW_TEST_REDIS")
	if uri == "" {
		t.Skip("DFGFLOW_TEST_REDIS not set")
	}
	ctx := context.Background()

	cfg, err := ParseRedisURL(uri)
	require.NoError(t, err)
	cfg.Prefix = "dfgflow:test:"
	cfg.TTL = time.Minute
	r, err := NewRedis(cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	defer r.Close()

	key := "roundtrip-" + time.Now().Format("150405.000000")
	require.NoError(t, r.Put(ctx, key, sample()))

	got, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sample(), got)

	_, ok, err = r.Get(ctx, "missing-"+key)
	require.NoError(t, err)
	assert.False(t, ok)
}
