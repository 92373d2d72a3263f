package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/engine"
	"github.com/INLOpen/bitcask/logfile"
	"gopkg.in/yaml.v3"
)

// EngineConfig holds the store options.
type EngineConfig struct {
	DataDir               string `yaml:"data_dir"`
	ReadWrite             bool   `yaml:"read_write"`
	MaxFileSizeBytes      int64  `yaml:"max_file_size_bytes"`
	ExpirySecs            uint32 `yaml:"expiry_secs"` // 0 disables expiry
	OpenTimeout           string `yaml:"open_timeout"`
	LockTimeout           string `yaml:"lock_timeout"`
	SyncMode              string `yaml:"sync_mode"` // "none" or "always"
	ReadFileCacheCapacity int    `yaml:"read_file_cache_capacity"`
	ScanConcurrency       int    `yaml:"scan_concurrency"` // 0 means GOMAXPROCS
	DebugFiles            bool   `yaml:"debug_files"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "stderr", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// SnapshotConfig controls export streams.
type SnapshotConfig struct {
	Compression    string `yaml:"compression"` // none, snappy, lz4, zstd
	ChunkSizeBytes int    `yaml:"chunk_size_bytes"`
}

// KeyPolicyConfig mirrors listeners.KeyPolicyRule.
type KeyPolicyConfig struct {
	Prefix       string `yaml:"prefix"`
	MaxValueSize int    `yaml:"max_value_size"`
	Deny         bool   `yaml:"deny"`
}

// ListenersConfig enables the built-in hook listeners.
type ListenersConfig struct {
	RotationMetrics          bool              `yaml:"rotation_metrics"`
	LargeValueThresholdBytes int               `yaml:"large_value_threshold_bytes"` // 0 disables the alerter
	KeyPolicies              []KeyPolicyConfig `yaml:"key_policies"`
}

// Config is the top-level configuration struct.
type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Listeners ListenersConfig `yaml:"listeners"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Load reads configuration from an io.Reader.
// This is the core logic, separated for testability.
func Load(r io.Reader) (*Config, error) {
	// Set default values
	cfg := &Config{
		Engine: EngineConfig{
			DataDir:               "./data",
			ReadWrite:             false,
			MaxFileSizeBytes:      engine.DefaultMaxFileSize,
			OpenTimeout:           "20s",
			LockTimeout:           "10s",
			SyncMode:              string(logfile.SyncNone),
			ReadFileCacheCapacity: engine.DefaultReadFileCacheCapacity,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stderr",
			File:   "bitcask.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Snapshot: SnapshotConfig{
			Compression:    "zstd",
			ChunkSizeBytes: 1 << 20,
		},
		Listeners: ListenersConfig{
			RotationMetrics: true,
		},
	}

	// If the reader is nil, it's like an empty file, return defaults.
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// If file doesn't exist, return default config by calling Load with a nil reader.
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}

// Validate rejects values that have no sensible fallback.
func (c *Config) Validate() error {
	switch logfile.SyncMode(c.Engine.SyncMode) {
	case "", logfile.SyncNone, logfile.SyncAlways:
	default:
		return fmt.Errorf("invalid engine.sync_mode %q (want none or always)", c.Engine.SyncMode)
	}
	if _, ok := core.ParseCompressionType(c.Snapshot.Compression); !ok {
		return fmt.Errorf("invalid snapshot.compression %q", c.Snapshot.Compression)
	}
	if c.Engine.MaxFileSizeBytes < 0 {
		return fmt.Errorf("invalid engine.max_file_size_bytes %d", c.Engine.MaxFileSizeBytes)
	}
	switch c.Tracing.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("invalid tracing.protocol %q (want grpc or http)", c.Tracing.Protocol)
	}
	return nil
}

// EngineOptions maps the engine section onto engine.Options. Fields the
// file cannot express (hooks, tracer, metrics) are left for the caller.
func (c *Config) EngineOptions(logger *slog.Logger) engine.Options {
	e := c.Engine
	return engine.Options{
		ReadWrite:             e.ReadWrite,
		MaxFileSize:           e.MaxFileSizeBytes,
		ExpirySecs:            e.ExpirySecs,
		OpenTimeout:           ParseDuration(e.OpenTimeout, engine.DefaultOpenTimeout, logger),
		LockTimeout:           ParseDuration(e.LockTimeout, engine.DefaultLockTimeout, logger),
		SyncMode:              logfile.SyncMode(e.SyncMode),
		ReadFileCacheCapacity: e.ReadFileCacheCapacity,
		ScanConcurrency:       e.ScanConcurrency,
		Logger:                logger,
	}
}
