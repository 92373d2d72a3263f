package listeners

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/INLOpen/bitcask/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prePut(key, value string) hooks.HookEvent {
	k, v := []byte(key), []byte(value)
	return hooks.NewPrePutEvent(hooks.PrePutPayload{Key: &k, Value: &v})
}

func TestKeyPolicyListener_OnEvent(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logBuf, nil))

	rules := []KeyPolicyRule{
		{Prefix: "cfg/", MaxValueSize: 8},
		{Prefix: "cfg/frozen/", Deny: true},
		{Prefix: "tmp/", MaxValueSize: 0},
	}
	listener := NewKeyPolicyListener(logger, rules)
	ctx := context.Background()

	testCases := []struct {
		name    string
		key     string
		value   string
		wantErr bool
	}{
		{"no matching rule", "user:1", "anything at all", false},
		{"within size limit", "cfg/a", "12345678", false},
		{"over size limit", "cfg/a", "123456789", true},
		{"longest prefix wins", "cfg/frozen/x", "1", true},
		{"zero limit means unlimited", "tmp/x", "a long value that is fine", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logBuf.Reset()
			err := listener.OnEvent(ctx, prePut(tc.key, tc.value))
			if tc.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrPolicyViolation)
				assert.Contains(t, logBuf.String(), "Put rejected")
			} else {
				require.NoError(t, err)
				assert.Empty(t, logBuf.String())
			}
		})
	}
}

func TestKeyPolicyListener_CancelsPutThroughManager(t *testing.T) {
	manager := hooks.NewHookManager(nil)
	manager.Register(hooks.EventPrePut, NewKeyPolicyListener(nil, []KeyPolicyRule{{Prefix: "ro/", Deny: true}}))

	err := manager.Trigger(context.Background(), prePut("ro/key", "v"))
	assert.ErrorIs(t, err, ErrPolicyViolation)

	require.NoError(t, manager.Trigger(context.Background(), prePut("rw/key", "v")))
	assert.False(t, NewKeyPolicyListener(nil, nil).IsAsync())
}

func TestKeyPolicyListener_IgnoresOtherEvents(t *testing.T) {
	listener := NewKeyPolicyListener(nil, []KeyPolicyRule{{Prefix: "", Deny: true}})
	k := []byte("k")
	require.NoError(t, listener.OnEvent(context.Background(), hooks.NewPreDeleteEvent(hooks.PreDeletePayload{Key: &k})))
}
