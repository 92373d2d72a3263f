package engine

import (
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/INLOpen/bitcask/core"
	"github.com/INLOpen/bitcask/hooks"
	"github.com/INLOpen/bitcask/keydir"
	"github.com/INLOpen/bitcask/logfile"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultMaxFileSize           int64 = 1 << 20
	DefaultOpenTimeout                 = 20 * time.Second
	DefaultLockTimeout                 = 10 * time.Second
	DefaultReadFileCacheCapacity       = 256
)

// Options configures a Store. The zero value opens a read-only store with
// the defaults above.
type Options struct {
	ReadWrite bool
	// MaxFileSize is the size at which the write file is sealed and a new
	// one started.
	MaxFileSize int64
	// ExpirySecs hides entries older than this many seconds. Zero disables expiry.
	ExpirySecs uint32
	// OpenTimeout bounds the wait for another handle's warm-up scan.
	OpenTimeout time.Duration
	// LockTimeout bounds write lock acquisition on the first put.
	LockTimeout time.Duration

	SyncMode              logfile.SyncMode
	ReadFileCacheCapacity int
	// ScanConcurrency limits the files folded in parallel during warm-up.
	ScanConcurrency int

	Clock          core.Clock
	Registry       *keydir.Registry
	Logger         *slog.Logger
	HookManager    hooks.HookManager
	TracerProvider trace.TracerProvider
	Metrics        *EngineMetrics
}

func (o Options) withDefaults() Options {
	if o.MaxFileSize <= 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = DefaultOpenTimeout
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.SyncMode == "" {
		o.SyncMode = logfile.SyncNone
	}
	if o.ReadFileCacheCapacity <= 0 {
		o.ReadFileCacheCapacity = DefaultReadFileCacheCapacity
	}
	if o.ScanConcurrency <= 0 {
		o.ScanConcurrency = runtime.GOMAXPROCS(0)
	}
	if o.Clock == nil {
		o.Clock = core.SystemClock
	}
	if o.Registry == nil {
		o.Registry = keydir.DefaultRegistry()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	if o.TracerProvider == nil {
		o.TracerProvider = noop.NewTracerProvider()
	}
	if o.Metrics == nil {
		o.Metrics = NewEngineMetrics(false, "")
	}
	return o
}
