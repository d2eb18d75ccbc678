package cache

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/logflow/dfgflow/pkg/dfg"
	"github.com/logflow/dfgflow/pkg/errors"
)

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	// Address is the Redis server address (e.g., "localhost:6379")
	Address string

	// Username and Password for Redis ACL authentication (optional)
	Username string
	Password string

	// TLSConfig enables TLS when set; rediss:// URLs set it
	TLSConfig *tls.Config

	// Database number to use (default: 0)
	Database int

	// Prefix is prepended to all keys
	Prefix string

	// TTL is the time-to-live for entries (0 = no expiration)
	TTL time.Duration

	// Timeout for Redis operations
	Timeout time.Duration

	// PoolSize is the maximum number of connections
	PoolSize int
}

// DefaultRedisConfig returns sensible defaults.
func DefaultRedisConfig(address string) RedisConfig {
	return RedisConfig{
		Address:  address,
		Prefix:   "dfgflow:dfg:",
		TTL:      24 * time.Hour,
		Timeout:  5 * time.Second,
		PoolSize: 10,
	}
}

// ParseRedisURL builds a config from a redis:// or rediss:// URL.
func ParseRedisURL(uri string) (RedisConfig, error) {
	opts, err := redis.ParseURL(uri)
	if err != nil {
		return RedisConfig{}, errors.Wrap(err, errors.CodeCacheFailed, "invalid redis url")
	}
	cfg := DefaultRedisConfig(opts.Addr)
	cfg.Username = opts.Username
	cfg.Password = opts.Password
	cfg.Database = opts.DB
	cfg.TLSConfig = opts.TLSConfig
	return cfg, nil
}

func (cfg RedisConfig) options() *redis.Options {
	return &redis.Options{
		Addr:         cfg.Address,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.Database,
		PoolSize:     cfg.PoolSize,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
		TLSConfig:    cfg.TLSConfig,
	}
}

// Redis stores msgpack-encoded results in Redis.
type Redis struct {
	cfg    RedisConfig
	client *redis.Client
	logger *zap.Logger
}

// NewRedis connects and pings the server.
func NewRedis(cfg RedisConfig, logger *zap.Logger) (*Redis, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "dfgflow:dfg:"
	}

	client := redis.NewClient(cfg.options())

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, errors.CodeCacheFailed, "failed to connect to redis").
			WithContext("addr", cfg.Address)
	}

	return &Redis{cfg: cfg, client: client, logger: logger}, nil
}

func (r *Redis) key(k string) string {
	return r.cfg.Prefix + k
}

// Get implements Cache. Undecodable entries are deleted and reported as a miss.
func (r *Redis) Get(ctx context.Context, key string) (*dfg.Result, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	data, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, errors.CodeCacheFailed, "redis get failed").WithContext("key", key)
	}

	res, err := decode(data)
	if err != nil {
		r.logger.Warn("dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		r.client.Del(ctx, r.key(key))
		return nil, false, nil
	}
	return res, true, nil
}

// Put implements Cache.
func (r *Redis) Put(ctx context.Context, key string, res *dfg.Result) error {
	data, err := encode(res)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	if err := r.client.Set(ctx, r.key(key), data, r.cfg.TTL).Err(); err != nil {
		return errors.Wrap(err, errors.CodeCacheFailed, "redis set failed").WithContext("key", key)
	}
	return nil
}

// Close implements Cache.
func (r *Redis) Close() error {
	return r.client.Close()
}
