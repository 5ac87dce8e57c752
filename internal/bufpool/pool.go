// Package bufpool recycles chunk assembly buffers.
//
// A secure channel negotiates one chunk size and every chunk it builds is
// exactly that large, so buffers are pooled per exact size rather than per
// size class. Buffers are zeroed on release so plaintext from one message never
// shows up in the next.
package bufpool

import (
	"sync"
	"sync/atomic"
)

// DefaultMaxPooled bounds the buffers kept by the default pool. Larger chunks
// are allocated and released to the garbage collector.
const DefaultMaxPooled = 1 << 24

// Stats is a snapshot of pool activity.
type Stats struct {
	Gets    int64 // buffers handed out
	Allocs  int64 // Gets that had to allocate
	Dropped int64 // Puts not retained (unpooled size)
}

// Reused is the number of Gets served from a released buffer.
func (s Stats) Reused() int64 { return s.Gets - s.Allocs }

// Pool hands out byte slices of an exact length, one sync.Pool per length.
type Pool struct {
	maxPooled int

	mu     sync.RWMutex
	bySize map[int]*sync.Pool

	gets, allocs, dropped atomic.Int64
}

var defaultPool = New(DefaultMaxPooled)

// Get takes a buffer from the default pool.
func Get(size int) []byte { return defaultPool.Get(size) }

// Put releases a buffer to the default pool.
func Put(buf []byte) { defaultPool.Put(buf) }

// DefaultStats reports activity of the default pool.
func DefaultStats() Stats { return defaultPool.Stats() }

// New returns a pool that retains buffers up to maxPooled bytes.
func New(maxPooled int) *Pool {
	return &Pool{maxPooled: maxPooled, bySize: make(map[int]*sync.Pool)}
}

func (p *Pool) sizePool(size int) *sync.Pool {
	p.mu.RLock()
	sp := p.bySize[size]
	p.mu.RUnlock()
	if sp != nil {
		return sp
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if sp = p.bySize[size]; sp == nil {
		sp = &sync.Pool{New: func() any {
			p.allocs.Add(1)
			b := make([]byte, size)
			return &b
		}}
		p.bySize[size] = sp
	}
	return sp
}

// Get returns a zeroed slice with len and cap equal to size. A nil pool or a
// non-positive size yields nil.
func (p *Pool) Get(size int) []byte {
	if p == nil || size <= 0 {
		return nil
	}
	p.gets.Add(1)
	if size > p.maxPooled {
		p.allocs.Add(1)
		return make([]byte, size)
	}
	return *p.sizePool(size).Get().(*[]byte)
}

// Put clears buf and keeps it for the next Get of the same size. The size is
// taken from cap(buf), so reslicing before Put is fine.
func (p *Pool) Put(buf []byte) {
	if p == nil || cap(buf) == 0 {
		return
	}
	size := cap(buf)
	if size > p.maxPooled {
		p.dropped.Add(1)
		return
	}
	buf = buf[:size]
	clear(buf)
	p.sizePool(size).Put(&buf)
}

// Stats returns a snapshot of the counters.
func (p *Pool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Allocs: p.allocs.Load(), Dropped: p.dropped.Load()}
}
