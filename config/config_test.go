package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/bitcask/engine"
	"github.com/INLOpen/bitcask/logfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
engine:
  data_dir: "/tmp/test_data"
  read_write: true
  max_file_size_bytes: 4096
  expiry_secs: 3600
  sync_mode: always
snapshot:
  compression: lz4
listeners:
  large_value_threshold_bytes: 65536
  key_policies:
    - prefix: "tmp/"
      deny: true
    - prefix: "blob/"
      max_value_size: 1024
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Check overridden values
	assert.Equal(t, "/tmp/test_data", cfg.Engine.DataDir)
	assert.True(t, cfg.Engine.ReadWrite)
	assert.Equal(t, int64(4096), cfg.Engine.MaxFileSizeBytes)
	assert.Equal(t, uint32(3600), cfg.Engine.ExpirySecs)
	assert.Equal(t, "always", cfg.Engine.SyncMode)
	assert.Equal(t, "lz4", cfg.Snapshot.Compression)
	assert.Equal(t, 65536, cfg.Listeners.LargeValueThresholdBytes)
	require.Len(t, cfg.Listeners.KeyPolicies, 2)
	assert.True(t, cfg.Listeners.KeyPolicies[0].Deny)
	assert.Equal(t, 1024, cfg.Listeners.KeyPolicies[1].MaxValueSize)

	// Check a default value that was not overridden
	assert.Equal(t, "20s", cfg.Engine.OpenTimeout)
	assert.True(t, cfg.Listeners.RotationMetrics)
}

func TestLoad_PartialConfig(t *testing.T) {
	yamlContent := `
logging:
  level: debug
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	// Check default values are still there
	assert.Equal(t, "stderr", cfg.Logging.Output)
	assert.Equal(t, "./data", cfg.Engine.DataDir)
	assert.Equal(t, engine.DefaultMaxFileSize, cfg.Engine.MaxFileSizeBytes)
	assert.Equal(t, "zstd", cfg.Snapshot.Compression)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "./data", cfg.Engine.DataDir)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "./data", cfg.Engine.DataDir)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
engine:
  data_dir: "/tmp/test_data"
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoad_InvalidValues(t *testing.T) {
	testCases := map[string]string{
		"SyncMode":    "engine:\n  sync_mode: sometimes\n",
		"Compression": "snapshot:\n  compression: brotli\n",
		"MaxFileSize": "engine:\n  max_file_size_bytes: -1\n",
		"Protocol":    "tracing:\n  protocol: udp\n",
	}
	for name, content := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(content))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  data_dir: /srv/kv\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, "/srv/kv", cfg.Engine.DataDir)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "./data", cfg.Engine.DataDir)
	})
}

func TestConfig_EngineOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := Load(strings.NewReader(`
engine:
  read_write: true
  max_file_size_bytes: 2048
  expiry_secs: 60
  open_timeout: 3s
  lock_timeout: bogus
  sync_mode: always
  read_file_cache_capacity: 8
  scan_concurrency: 2
`))
	require.NoError(t, err)

	opts := cfg.EngineOptions(logger)
	assert.True(t, opts.ReadWrite)
	assert.Equal(t, int64(2048), opts.MaxFileSize)
	assert.Equal(t, uint32(60), opts.ExpirySecs)
	assert.Equal(t, 3*time.Second, opts.OpenTimeout)
	assert.Equal(t, engine.DefaultLockTimeout, opts.LockTimeout)
	assert.Equal(t, logfile.SyncAlways, opts.SyncMode)
	assert.Equal(t, 8, opts.ReadFileCacheCapacity)
	assert.Equal(t, 2, opts.ScanConcurrency)
	assert.Same(t, logger, opts.Logger)
}

func TestParseDuration(t *testing.T) {
	// Use a logger that discards output for this test
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration}, // Should not panic with nil logger
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			result := ParseDuration(tc.input, defaultDuration, testLogger)
			assert.Equal(t, tc.expected, result)
		})
	}
}
