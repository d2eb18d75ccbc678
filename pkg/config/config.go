// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/logflow/dfgflow/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "DFGFLOW_"

// Config holds all dfgflow configuration.
type Config struct {
	Version int `yaml:"version"`

	Columns   ColumnsConfig   `yaml:"columns" envPrefix:"COLUMNS_"`
	Discovery DiscoveryConfig `yaml:"discovery" envPrefix:"DISCOVERY_"`
	Render    RenderConfig    `yaml:"render" envPrefix:"RENDER_"`
	Cache     CacheConfig     `yaml:"cache" envPrefix:"CACHE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Telemetry TelemetryConfig `yaml:"telemetry" envPrefix:"TELEMETRY_"`
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
}

// ColumnsConfig maps source columns onto event fields.
type ColumnsConfig struct {
	CaseID          string `yaml:"case_id" env:"CASE_ID"`
	Activity        string `yaml:"activity" env:"ACTIVITY"`
	Timestamp       string `yaml:"timestamp" env:"TIMESTAMP"`
	Resource        string `yaml:"resource" env:"RESOURCE"`
	TimestampFormat string `yaml:"timestamp_format" env:"TIMESTAMP_FORMAT"` // Go layout, empty = auto
	Delimiter       string `yaml:"delimiter" env:"DELIMITER"`
	ErrorPolicy     string `yaml:"error_policy" env:"ERROR_POLICY"` // strict | skip
}

// DiscoveryConfig controls the discovery engine.
type DiscoveryConfig struct {
	Engine      string `yaml:"engine" env:"ENGINE"`   // memory | duckdb
	Workers     int    `yaml:"workers" env:"WORKERS"` // 0 = NumCPU
	Performance bool   `yaml:"performance" env:"PERFORMANCE"`
	MaxEdges    int    `yaml:"max_edges" env:"MAX_EDGES"` // 0 = keep all
}

// RenderConfig controls graph rendering.
type RenderConfig struct {
	Format   string `yaml:"format" env:"FORMAT"` // svg | png | pdf | dot
	MaxEdges int    `yaml:"max_edges" env:"MAX_EDGES"`
	Graphviz string `yaml:"graphviz" env:"GRAPHVIZ"` // path to the dot binary
}

// CacheConfig selects the result cache.
type CacheConfig struct {
	URI string        `yaml:"uri" env:"URI"` // "", memory://, redis://host:port/db, none
	TTL time.Duration `yaml:"ttl" env:"TTL"`
}

// StorageConfig configures S3 access for s3:// inputs and outputs.
type StorageConfig struct {
	Region    string `yaml:"region" env:"S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"S3_ENDPOINT"`
	PathStyle bool   `yaml:"path_style" env:"S3_PATH_STYLE"`
}

// ServerConfig for the HTTP server.
type ServerConfig struct {
	Addr          string  `yaml:"addr" env:"ADDR"`
	RateLimit     float64 `yaml:"rate_limit" env:"RATE_LIMIT"` // requests per second, 0 = unlimited
	Burst         int     `yaml:"burst" env:"BURST"`
	MaxUploadSize string  `yaml:"max_upload_size" env:"MAX_UPLOAD_SIZE"`
}

// TelemetryConfig for tracing and metrics.
type TelemetryConfig struct {
	Endpoint    string  `yaml:"endpoint" env:"ENDPOINT"` // OTLP gRPC, empty = tracing off
	ServiceName string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRatio float64 `yaml:"sample_ratio" env:"SAMPLE_RATIO"`
	Insecure    bool    `yaml:"insecure" env:"INSECURE"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug | info | warn | error
	Format string `yaml:"format" env:"FORMAT"` // console | json
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Version: 1,
		Columns: ColumnsConfig{
			CaseID:      "case:concept:name",
			Activity:    "concept:name",
			Timestamp:   "time:timestamp",
			Resource:    "org:resource",
			Delimiter:   ",",
			ErrorPolicy: "strict",
		},
		Discovery: DiscoveryConfig{
			Engine:  "memory",
			Workers: 0,
		},
		Render: RenderConfig{
			Format:   "svg",
			MaxEdges: 30,
			Graphviz: "dot",
		},
		Cache: CacheConfig{
			URI: "",
			TTL: 24 * time.Hour,
		},
		Storage: StorageConfig{
			Region: "us-east-1",
		},
		Server: ServerConfig{
			Addr:          ":8080",
			RateLimit:     10,
			Burst:         20,
			MaxUploadSize: "256MB",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "dfgflow",
			SampleRatio: 1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Validate checks enumerated values and ranges.
func (c *Config) Validate() error {
	var errs errors.MultiError
	check := func(ok bool, field, value string) {
		if !ok {
			errs.Add(errors.Newf(errors.CodeInvalidFormat, "invalid %s: %q", field, value))
		}
	}

	check(c.Discovery.Engine == "memory" || c.Discovery.Engine == "duckdb", "discovery.engine", c.Discovery.Engine)
	check(c.Discovery.Workers >= 0, "discovery.workers", strconv.Itoa(c.Discovery.Workers))
	check(c.Columns.ErrorPolicy == "strict" || c.Columns.ErrorPolicy == "skip", "columns.error_policy", c.Columns.ErrorPolicy)
	check(len(c.Columns.Delimiter) <= 1, "columns.delimiter", c.Columns.Delimiter)
	check(c.Log.Format == "console" || c.Log.Format == "json", "log.format", c.Log.Format)
	check(c.Telemetry.SampleRatio >= 0 && c.Telemetry.SampleRatio <= 1, "telemetry.sample_ratio",
		strconv.FormatFloat(c.Telemetry.SampleRatio, 'g', -1, 64))
	if _, err := ParseSize(c.Server.MaxUploadSize); err != nil {
		check(false, "server.max_upload_size", c.Server.MaxUploadSize)
	}

	return errs.Combined()
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order. An explicit
// path, when given, is read after the standard locations and must exist.
func (m *Manager) Load(explicit string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.getConfigPaths() {
		if err := m.loadFile(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	if explicit != "" {
		if err := m.loadFile(explicit); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return errors.FileNotFound(explicit)
			}
			return err
		}
		m.paths = append(m.paths, explicit)
	}

	return m.loadEnv()
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/dfgflow/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".dfgflow", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".dfgflow.yaml"))
	}

	return paths
}

// loadFile decodes a YAML file over the current config; keys absent from
// the file keep their previous values.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, errors.CodeFileNotFound, "failed to read config").WithContext("path", path)
	}
	if err := yaml.Unmarshal(data, m.config); err != nil {
		return errors.Wrap(err, errors.CodeInvalidFormat, "invalid config file").WithContext("path", path)
	}
	return nil
}

// loadEnv applies DFGFLOW_* variables, reading .env first when present.
func (m *Manager) loadEnv() error {
	_ = godotenv.Load()

	if err := env.ParseWithOptions(m.config, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.Wrap(err, errors.CodeInvalidFormat, "invalid environment configuration")
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Write serializes the current config as YAML to path.
func (m *Manager) Write(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to create config dir")
	}
	data, err := yaml.Marshal(m.config)
	if err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to encode config")
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to write config")
	}
	return nil
}

// ParseSize parses sizes like "512", "64KB", "256MB" or "1GB" into bytes.
func ParseSize(s string) (int64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	mult := int64(1)
	for _, u := range []struct {
		suffix string
		mult   int64
	}{
		{"GB", 1 << 30},
		{"MB", 1 << 20},
		{"KB", 1 << 10},
		{"B", 1},
	} {
		if strings.HasSuffix(s, u.suffix) {
			mult = u.mult
			s = strings.TrimSpace(strings.TrimSuffix(s, u.suffix))
			break
		}
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}
	return n * mult, nil
}
