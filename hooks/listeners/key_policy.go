package listeners

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/INLOpen/bitcask/hooks"
)

// ErrPolicyViolation is returned from OnEvent when a put breaks a rule.
var ErrPolicyViolation = errors.New("key policy violation")

// KeyPolicyRule limits the values stored under keys with a given prefix.
type KeyPolicyRule struct {
	Prefix       string
	MaxValueSize int
	// Deny rejects every put under Prefix.
	Deny bool
}

// KeyPolicyListener checks puts against prefix rules before anything is
// written. Because it runs on a Pre* event, a violation cancels the put.
type KeyPolicyListener struct {
	logger *slog.Logger
	rules  []KeyPolicyRule // longest prefix first
}

// NewKeyPolicyListener creates a listener enforcing rules. When several
// prefixes match a key, the longest wins.
func NewKeyPolicyListener(logger *slog.Logger, rules []KeyPolicyRule) *KeyPolicyListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	sorted := append([]KeyPolicyRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	return &KeyPolicyListener{
		logger: logger.With("component", "KeyPolicyListener"),
		rules:  sorted,
	}
}

func (l *KeyPolicyListener) match(key []byte) (KeyPolicyRule, bool) {
	for _, r := range l.rules {
		if bytes.HasPrefix(key, []byte(r.Prefix)) {
			return r, true
		}
	}
	return KeyPolicyRule{}, false
}

// OnEvent handles PrePut events.
func (l *KeyPolicyListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	if event.Type() != hooks.EventPrePut {
		return nil
	}

	payload, ok := event.Payload().(hooks.PrePutPayload)
	if !ok || payload.Key == nil {
		l.logger.Error("Received PrePut event with incorrect payload", "payload_type", fmt.Sprintf("%T", event.Payload()))
		return nil
	}

	rule, ok := l.match(*payload.Key)
	if !ok {
		return nil
	}
	if rule.Deny {
		l.logger.Warn("Put rejected by deny rule", "prefix", rule.Prefix, "key_hex", fmt.Sprintf("%x", *payload.Key))
		return fmt.Errorf("%w: prefix %q is read-only", ErrPolicyViolation, rule.Prefix)
	}
	if rule.MaxValueSize > 0 && payload.Value != nil && len(*payload.Value) > rule.MaxValueSize {
		l.logger.Warn("Put rejected by size rule",
			"prefix", rule.Prefix,
			"value_size", len(*payload.Value),
			"max_value_size", rule.MaxValueSize,
		)
		return fmt.Errorf("%w: value of %d bytes exceeds %d for prefix %q",
			ErrPolicyViolation, len(*payload.Value), rule.MaxValueSize, rule.Prefix)
	}
	return nil
}

// Priority runs policy checks ahead of listeners that rewrite payloads.
func (l *KeyPolicyListener) Priority() int { return 10 }

// IsAsync is always false; pre-hooks must finish before the write.
func (l *KeyPolicyListener) IsAsync() bool { return false }
