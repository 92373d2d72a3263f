package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/INLOpen/bitcask/hooks"
)

// LargeValueAlerterListener logs a warning when a stored value exceeds a
// threshold. Large values inflate file sizes and rotation frequency.
type LargeValueAlerterListener struct {
	logger    *slog.Logger
	threshold int
}

// NewLargeValueAlerterListener creates a listener that warns on values of
// threshold bytes or more.
func NewLargeValueAlerterListener(logger *slog.Logger, threshold int) *LargeValueAlerterListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LargeValueAlerterListener{
		logger:    logger.With("component", "LargeValueAlerterListener"),
		threshold: threshold,
	}
}

// OnEvent handles the PostPut event.
func (l *LargeValueAlerterListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPostPut {
		return nil
	}

	payload, ok := event.Payload().(hooks.PostPutPayload)
	if !ok {
		l.logger.Error("Received PostPut event with incorrect payload type", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}
	if payload.Error != nil || payload.ValueSize < l.threshold {
		return nil
	}

	l.logger.Warn("Large value written",
		"key_hex", fmt.Sprintf("%x", payload.Key),
		"value_size", payload.ValueSize,
		"file_id", payload.Entry.FileID,
		"offset", payload.Entry.Offset,
	)
	return nil
}

func (l *LargeValueAlerterListener) Priority() int { return 100 }

// IsAsync indicates this listener can run in the background.
func (l *LargeValueAlerterListener) IsAsync() bool { return true }
