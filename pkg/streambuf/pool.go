package streambuf

import "sync"

// arenaThreshold is the capacity above which a released buffer's backing
// array is worth pooling instead of leaving to the garbage collector.
// Short command buffers live on the stack-ish inline array and never
// reach here; only buffers that grew to hold a large device response do.
const arenaThreshold = 4096

// Pool recycles large backing arrays across Buffer instances, the same
// idea as an arena of fixed-capacity slabs keyed by aligned size: a
// session that repeatedly reads multi-kilobyte responses from the same
// instrument avoids re-allocating on every read.
type Pool struct {
	mu    sync.Mutex
	slabs map[int][][]byte
}

// NewPool returns an empty arena.
func NewPool() *Pool {
	return &Pool{slabs: make(map[int][][]byte)}
}

// Get returns a Buffer whose backing array has at least capacity cap,
// reused from the arena when available.
func (p *Pool) Get(ceiling, minCap int) *Buffer {
	if minCap < arenaThreshold {
		return NewWithCeiling(ceiling)
	}
	aligned := alignCap(minCap)
	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.slabs[aligned]
	if n := len(bucket); n > 0 {
		data := bucket[n-1]
		p.slabs[aligned] = bucket[:n-1]
		b := &Buffer{data: data[:0], ceiling: ceiling}
		return b
	}
	b := &Buffer{ceiling: ceiling}
	b.data = make([]byte, 0, aligned)
	return b
}

// Release returns b's backing array to the arena if it is large enough
// to be worth keeping. b must not be used afterwards.
func (p *Pool) Release(b *Buffer) {
	c := cap(b.data)
	if c < arenaThreshold {
		return
	}
	aligned := alignCap(c)
	for i := range b.data[:c] {
		b.data[:c][i] = 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slabs[aligned] = append(p.slabs[aligned], b.data[:0:aligned])
}

// alignCap rounds up to the next 4 KiB boundary, the same page-sized
// bucketing used to keep the arena's bucket count small.
func alignCap(n int) int {
	const page = 4096
	if n <= 0 {
		return page
	}
	return (n + page - 1) / page * page
}
