package keydir

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/bitcask/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyDir_PutKeepsNewest(t *testing.T) {
	kd := New("/tmp/x")
	key := []byte("k")

	assert.True(t, kd.Put(key, core.IndexEntry{FileID: 1, Timestamp: 10, Offset: 0}))
	assert.False(t, kd.Put(key, core.IndexEntry{FileID: 9, Timestamp: 9, Offset: 0}), "older timestamp loses")
	assert.True(t, kd.Put(key, core.IndexEntry{FileID: 2, Timestamp: 10, Offset: 0}), "same ts, higher file wins")
	assert.False(t, kd.Put(key, core.IndexEntry{FileID: 2, Timestamp: 10, Offset: 0}), "identical loses")
	assert.True(t, kd.Put(key, core.IndexEntry{FileID: 2, Timestamp: 10, Offset: 30}), "same ts and file, higher offset wins")

	e, ok := kd.Get(key)
	require.True(t, ok)
	assert.Equal(t, core.IndexEntry{FileID: 2, Timestamp: 10, Offset: 30}, e)

	_, ok = kd.Get([]byte("missing"))
	assert.False(t, ok)
	assert.Equal(t, 1, kd.Len())
}

func TestKeyDir_PutOrderIndependent(t *testing.T) {
	entries := []core.IndexEntry{
		{FileID: 3, Timestamp: 5, Offset: 10},
		{FileID: 1, Timestamp: 7, Offset: 0},
		{FileID: 2, Timestamp: 7, Offset: 100},
		{FileID: 2, Timestamp: 7, Offset: 50},
	}
	want := core.IndexEntry{FileID: 2, Timestamp: 7, Offset: 100}

	for shift := 0; shift < len(entries); shift++ {
		kd := New("d")
		for i := range entries {
			kd.Put([]byte("k"), entries[(i+shift)%len(entries)])
		}
		got, _ := kd.Get([]byte("k"))
		assert.Equal(t, want, got, "shift %d", shift)
	}
}

func TestKeyDir_ConcurrentPut(t *testing.T) {
	kd := New("d")
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				kd.Put([]byte(fmt.Sprintf("k%d", i)), core.IndexEntry{FileID: uint32(g), Timestamp: uint32(i)})
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 100, kd.Len())
	for i := 0; i < 100; i++ {
		e, _ := kd.Get([]byte(fmt.Sprintf("k%d", i)))
		assert.Equal(t, uint32(7), e.FileID)
	}
}

func TestKeyDir_Range(t *testing.T) {
	kd := New("d")
	for i := 0; i < 10; i++ {
		kd.Put([]byte(fmt.Sprintf("k%d", i)), core.IndexEntry{Timestamp: 1})
	}
	seen := map[string]bool{}
	kd.Range(func(key []byte, e core.IndexEntry) bool {
		seen[string(key)] = true
		// Calling back into the KeyDir must not deadlock.
		kd.Put([]byte("extra"), core.IndexEntry{Timestamp: 2})
		return true
	})
	assert.Len(t, seen, 10)

	n := 0
	kd.Range(func([]byte, core.IndexEntry) bool {
		n++
		return n < 3
	})
	assert.Equal(t, 3, n)
}

func TestKeyDir_WaitReady(t *testing.T) {
	kd := New("d")
	assert.False(t, kd.IsReady())

	err := kd.WaitReady(context.Background(), 10*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrKeyDirWarmupTimeout)

	go func() {
		time.Sleep(10 * time.Millisecond)
		kd.MarkReady()
	}()
	require.NoError(t, kd.WaitReady(context.Background(), time.Second))
	assert.True(t, kd.IsReady())
	kd.MarkReady()
	require.NoError(t, kd.WaitReady(context.Background(), 0))
}

func TestRegistry_SharesOneKeyDir(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()

	kd1, err := r.Acquire(context.Background(), dir, time.Second)
	require.NoError(t, err)
	assert.False(t, kd1.IsReady())
	abs, _ := filepath.Abs(dir)
	assert.Equal(t, abs, kd1.Dir())

	type result struct {
		kd  *KeyDir
		err error
	}
	done := make(chan result, 1)
	go func() {
		// A relative-looking variant of the same path resolves to the same KeyDir.
		kd, err := r.Acquire(context.Background(), filepath.Join(dir, "."), time.Second)
		done <- result{kd, err}
	}()

	select {
	case <-done:
		t.Fatal("second Acquire must wait for warm-up")
	case <-time.After(20 * time.Millisecond):
	}

	kd1.Put([]byte("k"), core.IndexEntry{Timestamp: 1})
	kd1.MarkReady()

	res := <-done
	require.NoError(t, res.err)
	assert.Same(t, kd1, res.kd)
	assert.Equal(t, 1, res.kd.Len())

	r.Release(kd1)
	assert.Equal(t, 1, r.Len())
	r.Release(res.kd)
	assert.Equal(t, 0, r.Len(), "directory is forgotten when the last reference goes")

	kd3, err := r.Acquire(context.Background(), dir, time.Second)
	require.NoError(t, err)
	assert.NotSame(t, kd1, kd3)
	assert.False(t, kd3.IsReady())
}

func TestRegistry_WarmupTimeout(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	kd, err := r.Acquire(context.Background(), dir, time.Second)
	require.NoError(t, err)
	defer r.Release(kd)

	_, err = r.Acquire(context.Background(), dir, 20*time.Millisecond)
	assert.ErrorIs(t, err, core.ErrKeyDirWarmupTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Acquire(ctx, dir, time.Minute)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRegistry_Abort(t *testing.T) {
	r := NewRegistry()
	dir := t.TempDir()
	kd, err := r.Acquire(context.Background(), dir, time.Second)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), dir, 5*time.Second)
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)

	scanErr := errors.New("scan failed")
	r.Abort(kd, scanErr)

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, scanErr)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter was not woken by Abort")
	}
	assert.Equal(t, 0, r.Len())

	kd2, err := r.Acquire(context.Background(), dir, time.Second)
	require.NoError(t, err)
	assert.NotSame(t, kd, kd2)
}

func TestDefaultRegistry(t *testing.T) {
	assert.Same(t, DefaultRegistry(), DefaultRegistry())
}
