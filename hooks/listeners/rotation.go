package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/bitcask/hooks"
)

// RotationListener tracks how often write files are sealed and how large
// they were when sealed.
var (
	rotationMetricsOnce sync.Once
	sealedBytesTotal    *expvar.Int
	rotationEvents      *expvar.Int
)

func initRotationMetrics() {
	rotationMetricsOnce.Do(func() {
		sealedBytesTotal = expvar.NewInt("bitcask_sealed_bytes_total")
		rotationEvents = expvar.NewInt("bitcask_rotations_total")
		expvar.Publish("bitcask_sealed_file_avg_bytes", expvar.Func(func() interface{} {
			n := rotationEvents.Value()
			if n == 0 {
				return 0.0
			}
			return float64(sealedBytesTotal.Value()) / float64(n)
		}))
	})
}

type RotationListener struct {
	logger *slog.Logger

	sealedBytesTotal *expvar.Int
	rotationEvents   *expvar.Int
}

// NewRotationListener creates a new listener. The expvars it publishes are
// process-wide, so several listeners share the same counters.
func NewRotationListener(logger *slog.Logger) *RotationListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initRotationMetrics()
	return &RotationListener{
		logger:           logger.With("component", "RotationListener"),
		sealedBytesTotal: sealedBytesTotal,
		rotationEvents:   rotationEvents,
	}
}

// OnEvent is called when a PostLogFileRotate event is triggered.
func (l *RotationListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	payload, ok := event.Payload().(hooks.LogFileRotatePayload)
	if !ok {
		return nil
	}

	l.sealedBytesTotal.Add(int64(payload.OldSize))
	l.rotationEvents.Add(1)

	l.logger.Info("Write file sealed",
		"old_file_id", payload.OldFileID,
		"old_size", payload.OldSize,
		"new_file_id", payload.NewFileID,
		"new_path", payload.NewPath,
	)
	return nil
}

// Priority defines the execution order. Lower numbers run first.
func (l *RotationListener) Priority() int {
	return 100
}

func (l *RotationListener) IsAsync() bool {
	return true
}
