package hooks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/INLOpen/bitcask/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder is a listener that appends its name to a shared log.
type recorder struct {
	name     string
	priority int
	async    bool
	err      error
	log      *callLog
	onEvent  func(HookEvent)
}

type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (c *callLog) add(s string) {
	c.mu.Lock()
	c.calls = append(c.calls, s)
	c.mu.Unlock()
}

func (c *callLog) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (r *recorder) OnEvent(_ context.Context, e HookEvent) error {
	if r.log != nil {
		r.log.add(r.name)
	}
	if r.onEvent != nil {
		r.onEvent(e)
	}
	return r.err
}
func (r *recorder) Priority() int { return r.priority }
func (r *recorder) IsAsync() bool { return r.async }

func quietManager() *DefaultHookManager {
	return NewHookManager(slog.New(slog.NewTextHandler(io.Discard, nil))).(*DefaultHookManager)
}

func TestNewHookManager_NilLogger(t *testing.T) {
	hm := NewHookManager(nil)
	require.NotNil(t, hm)
	assert.NoError(t, hm.Trigger(context.Background(), NewPostGetEvent(PostGetPayload{Key: []byte("k")})))
}

func TestHookManager_PriorityOrder(t *testing.T) {
	hm := quietManager()
	log := &callLog{}
	hm.Register(EventPostPut, &recorder{name: "late", priority: 50, log: log})
	hm.Register(EventPostPut, &recorder{name: "early", priority: 1, log: log})
	hm.Register(EventPostPut, &recorder{name: "middle-a", priority: 10, log: log})
	hm.Register(EventPostPut, &recorder{name: "middle-b", priority: 10, log: log})

	require.NoError(t, hm.Trigger(context.Background(), NewPostPutEvent(PostPutPayload{Key: []byte("k")})))
	assert.Equal(t, []string{"early", "middle-a", "middle-b", "late"}, log.snapshot())
}

func TestHookManager_ListenersAreScopedToEventType(t *testing.T) {
	hm := quietManager()
	log := &callLog{}
	hm.Register(EventPostDelete, &recorder{name: "delete", log: log})

	require.NoError(t, hm.Trigger(context.Background(), NewPostPutEvent(PostPutPayload{})))
	assert.Empty(t, log.snapshot())
	require.NoError(t, hm.Trigger(context.Background(), NewPostDeleteEvent(PostDeletePayload{})))
	assert.Equal(t, []string{"delete"}, log.snapshot())
}

func TestHookManager_PreHookErrorCancels(t *testing.T) {
	hm := quietManager()
	log := &callLog{}
	veto := errors.New("key is reserved")
	hm.Register(EventPrePut, &recorder{name: "first", priority: 1, log: log})
	hm.Register(EventPrePut, &recorder{name: "veto", priority: 2, err: veto, log: log})
	hm.Register(EventPrePut, &recorder{name: "never", priority: 3, log: log})

	key, value := []byte("k"), []byte("v")
	err := hm.Trigger(context.Background(), NewPrePutEvent(PrePutPayload{Key: &key, Value: &value}))
	require.ErrorIs(t, err, veto)
	assert.Contains(t, err.Error(), string(EventPrePut))
	assert.Equal(t, []string{"first", "veto"}, log.snapshot())
}

func TestHookManager_PostHookErrorIsLoggedOnly(t *testing.T) {
	hm := quietManager()
	log := &callLog{}
	hm.Register(EventPostCloseStore, &recorder{name: "failing", priority: 1, err: errors.New("boom"), log: log})
	hm.Register(EventPostCloseStore, &recorder{name: "after", priority: 2, log: log})

	err := hm.Trigger(context.Background(), NewPostCloseStoreEvent(PostCloseStorePayload{Dir: "/tmp/x"}))
	assert.NoError(t, err)
	assert.Equal(t, []string{"failing", "after"}, log.snapshot())
}

func TestHookManager_PreHookCanRewritePayload(t *testing.T) {
	hm := quietManager()
	hm.Register(EventPrePut, &recorder{onEvent: func(e HookEvent) {
		p := e.Payload().(PrePutPayload)
		*p.Key = append([]byte("tenant-1/"), *p.Key...)
		*p.Value = nil
	}})
	hm.Register(EventPreDelete, &recorder{onEvent: func(e HookEvent) {
		p := e.Payload().(PreDeletePayload)
		*p.Key = []byte("other")
	}})

	key, value := []byte("k"), []byte("v")
	require.NoError(t, hm.Trigger(context.Background(), NewPrePutEvent(PrePutPayload{Key: &key, Value: &value})))
	assert.Equal(t, []byte("tenant-1/k"), key)
	assert.Nil(t, value)

	dkey := []byte("k")
	require.NoError(t, hm.Trigger(context.Background(), NewPreDeleteEvent(PreDeletePayload{Key: &dkey})))
	assert.Equal(t, []byte("other"), dkey)
}

func TestHookManager_AsyncPreHookRunsSynchronously(t *testing.T) {
	hm := quietManager()
	var ran atomic.Bool
	hm.Register(EventPreOpenStore, &recorder{async: true, onEvent: func(HookEvent) {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
	}})
	require.NoError(t, hm.Trigger(context.Background(), NewPreOpenStoreEvent(PreOpenStorePayload{Dir: "d"})))
	assert.True(t, ran.Load(), "pre-hooks must finish before Trigger returns")
}

func TestHookManager_AsyncPostHooksAndStop(t *testing.T) {
	hm := quietManager()
	release := make(chan struct{})
	var done atomic.Int32
	for i := 0; i < 3; i++ {
		hm.Register(EventPostLogFileRotate, &recorder{async: true, onEvent: func(e HookEvent) {
			<-release
			p := e.Payload().(LogFileRotatePayload)
			if p.OldFileID == 7 && p.NewFileID == 8 {
				done.Add(1)
			}
		}})
	}

	require.NoError(t, hm.Trigger(context.Background(), NewPostLogFileRotateEvent(LogFileRotatePayload{
		OldFileID: 7, OldPath: "7.bitcask.data", OldSize: 1024, NewFileID: 8, NewPath: "8.bitcask.data",
	})))
	assert.Equal(t, int32(0), done.Load(), "async listeners must not block Trigger")

	stopped := make(chan struct{})
	go func() {
		hm.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
		t.Fatal("Stop returned while listeners were still running")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after listeners finished")
	}
	assert.Equal(t, int32(3), done.Load())
}

func TestHookManager_ConcurrentRegisterAndTrigger(t *testing.T) {
	hm := quietManager()
	var calls atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(p int) {
			defer wg.Done()
			hm.Register(EventPostGet, &recorder{priority: p, onEvent: func(HookEvent) { calls.Add(1) }})
		}(i)
		go func() {
			defer wg.Done()
			_ = hm.Trigger(context.Background(), NewPostGetEvent(PostGetPayload{Key: []byte("k"), Found: true}))
		}()
	}
	wg.Wait()
	hm.Stop()

	calls.Store(0)
	require.NoError(t, hm.Trigger(context.Background(), NewPostGetEvent(PostGetPayload{})))
	assert.Equal(t, int64(8), calls.Load())
}

func TestEventConstructors(t *testing.T) {
	entry := core.IndexEntry{FileID: 3, Offset: 42, TotalSize: 20, Timestamp: 99}
	testCases := []struct {
		event HookEvent
		want  EventType
	}{
		{NewPreOpenStoreEvent(PreOpenStorePayload{}), EventPreOpenStore},
		{NewPostOpenStoreEvent(PostOpenStorePayload{}), EventPostOpenStore},
		{NewPostKeyDirReadyEvent(KeyDirReadyPayload{}), EventPostKeyDirReady},
		{NewPrePutEvent(PrePutPayload{}), EventPrePut},
		{NewPostPutEvent(PostPutPayload{Entry: entry}), EventPostPut},
		{NewPreDeleteEvent(PreDeletePayload{}), EventPreDelete},
		{NewPostDeleteEvent(PostDeletePayload{}), EventPostDelete},
		{NewPostGetEvent(PostGetPayload{}), EventPostGet},
		{NewPostLogFileRotateEvent(LogFileRotatePayload{}), EventPostLogFileRotate},
		{NewPreCloseStoreEvent(PreCloseStorePayload{}), EventPreCloseStore},
		{NewPostCloseStoreEvent(PostCloseStorePayload{}), EventPostCloseStore},
	}
	for _, tc := range testCases {
		t.Run(string(tc.want), func(t *testing.T) {
			assert.Equal(t, tc.want, tc.event.Type())
			assert.NotNil(t, tc.event.Payload())
		})
	}
	assert.Equal(t, entry, NewPostPutEvent(PostPutPayload{Entry: entry}).Payload().(PostPutPayload).Entry)
}

func BenchmarkTrigger_PostHook_10_Listeners(b *testing.B) {
	hm := quietManager()
	for i := 0; i < 10; i++ {
		hm.Register(EventPostPut, &recorder{priority: i})
	}
	ev := NewPostPutEvent(PostPutPayload{Key: []byte("k"), ValueSize: 1})
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = hm.Trigger(ctx, ev)
	}
}
