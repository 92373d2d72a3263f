package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool is a mutex-protected free list of buffers. Unlike sync.Pool its
// contents survive GC, which suits the large chunk buffers used by snapshot
// export and import. Retention is capped at maxItems.
type bufferPool struct {
	mu       sync.Mutex
	items    []*bytes.Buffer
	capacity int
	maxItems int

	hits    atomic.Uint64
	misses  atomic.Uint64
	created atomic.Uint64
}

// DefaultChunkBufferSize is the initial capacity of pooled buffers.
const DefaultChunkBufferSize = 64 * 1024

const defaultMaxPooledBuffers = 64

var BufferPool = NewBufferPool(DefaultChunkBufferSize)

// NewBufferPool creates a buffer pool whose new buffers have the given
// initial capacity.
func NewBufferPool(initialCapacity int) *bufferPool {
	if initialCapacity < 0 {
		initialCapacity = 0
	}
	return &bufferPool{
		items:    make([]*bytes.Buffer, 0, defaultMaxPooledBuffers),
		capacity: initialCapacity,
		maxItems: defaultMaxPooledBuffers,
	}
}

// Get retrieves a buffer from the pool. If the pool is empty, it creates a new one.
func (bp *bufferPool) Get() *bytes.Buffer {
	bp.mu.Lock()
	if len(bp.items) == 0 {
		bp.mu.Unlock()
		bp.misses.Add(1)
		bp.created.Add(1)
		return bytes.NewBuffer(make([]byte, 0, bp.capacity))
	}
	bp.hits.Add(1)
	item := bp.items[len(bp.items)-1]
	bp.items = bp.items[:len(bp.items)-1]
	bp.mu.Unlock()
	return item
}

// Put resets buf and returns it to the pool, dropping it if the pool is full.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	buf.Reset()
	bp.mu.Lock()
	if len(bp.items) < bp.maxItems {
		bp.items = append(bp.items, buf)
	}
	bp.mu.Unlock()
}

// GetMetrics returns the current metrics for the pool.
func (bp *bufferPool) GetMetrics() (hits, misses, created uint64, currentSize int) {
	bp.mu.Lock()
	size := len(bp.items)
	bp.mu.Unlock()
	return bp.hits.Load(), bp.misses.Load(), bp.created.Load(), size
}
