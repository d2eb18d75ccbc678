// Package cache stores discovered graphs keyed by a hash of their input.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/internal/model"
	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
)

// Cache stores discovery results.
type Cache interface {
	// Get returns the cached result; ok is false on a miss.
	Get(ctx context.Context, key string) (res *dfg.Result, ok bool, err error)

	// Put stores res under key.
	Put(ctx context.Context, key string, res *dfg.Result) error

	// Close releases connections.
	Close() error
}

// Open returns a cache for uri: "" or "memory://" for in-process,
// "redis://[:password@]host:port/db" for Redis, "none" to disable caching.
func Open(uri string, ttl time.Duration, logger *zap.Logger) (Cache, error) {
	switch {
	case uri == "none":
		return Nop{}, nil
	case uri == "" || uri == "memory://":
		return NewMemory(ttl), nil
	case strings.HasPrefix(uri, "redis://"), strings.HasPrefix(uri, "rediss://"):
		cfg, err := ParseRedisURL(uri)
		if err != nil {
			return nil, err
		}
		cfg.TTL = ttl
		return NewRedis(cfg, logger)
	default:
		return nil, errors.New(errors.CodeCacheFailed, "unsupported cache uri").WithContext("uri", uri)
	}
}

// Key hashes the input bytes together with the settings that affect
// discovery, such as the column mapping.
func Key(r io.Reader, settings ...string) (string, error) {
	h := sha256.New()
	for _, s := range settings {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", errors.Wrap(err, errors.CodeCacheFailed, "failed to hash input")
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// entry is the serialized form of a Result.
type entry struct {
	Edges []dfg.Edge       `msgpack:"e"`
	Start map[string]int64 `msgpack:"s"`
	End   map[string]int64 `msgpack:"n"`
}

func encode(res *dfg.Result) ([]byte, error) {
	e := entry{Edges: res.Edges(), Start: res.StartActivities, End: res.EndActivities}
	data, err := msgpack.Marshal(&e)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheFailed, "failed to encode result")
	}
	return data, nil
}

func decode(data []byte) (*dfg.Result, error) {
	var e entry
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, errors.CodeCacheFailed, "failed to decode result")
	}
	res := dfg.NewResult()
	for _, edge := range e.Edges {
		res.DFG[model.Pair{Source: edge.Source, Target: edge.Target}] = edge.Count
	}
	for a, c := range e.Start {
		res.StartActivities[a] = c
	}
	for a, c := range e.End {
		res.EndActivities[a] = c
	}
	return res, nil
}

// Nop never stores anything.
type Nop struct{}

func (Nop) Get(context.Context, string) (*dfg.Result, bool, error) { return nil, false, nil }
func (Nop) Put(context.Context, string, *dfg.Result) error         { return nil }
func (Nop) Close() error                                            { return nil }
