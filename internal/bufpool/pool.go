// Package bufpool implements scoped reuse of fixed-size byte buffers
// (spec.md §4.11, C11), the same sync.Pool vocabulary the teacher's
// internal/pack/hyperpack.go used for its chunk/encoder/decoder pools,
// redirected here onto the two buffer classes the resolver and entry
// readers actually need.
package bufpool

import "sync"

// Default buffer sizes. Small covers ordinary decode/copy scratch space;
// Large is sized for the memoization primitive's in-memory threshold.
const (
	Small = 64 * 1024
	Large = 1 << 20
)

// Pool hands out byte slices of at least a requested size, drawn from one
// of a small number of size classes so unrelated call sites don't thrash a
// single sync.Pool with wildly different allocation sizes.
type Pool struct {
	small sync.Pool
	large sync.Pool
}

// New creates a Pool whose two size classes are Small and Large.
func New() *Pool {
	return &Pool{
		small: sync.Pool{New: func() any { return make([]byte, Small) }},
		large: sync.Pool{New: func() any { return make([]byte, Large) }},
	}
}

// Take returns the smallest pooled buffer whose capacity is >= n.
func (p *Pool) Take(n int) []byte {
	if n <= Small {
		buf := p.small.Get().([]byte)
		return buf[:n]
	}
	if n <= Large {
		buf := p.large.Get().([]byte)
		return buf[:n]
	}
	// Larger than any pooled class: allocate directly: release is then a
	// no-op for this buffer (see Release).
	return make([]byte, n)
}

// Release returns buf to the pool it most likely came from, based on
// capacity. Buffers larger than Large are dropped (see Take).
func (p *Pool) Release(buf []byte) {
	switch c := cap(buf); {
	case c == Small:
		p.small.Put(buf[:Small])
	case c == Large:
		p.large.Put(buf[:Large])
	}
}

// Scope acquires a buffer of at least n bytes and returns it along with a
// release function; callers typically defer the release immediately:
//
//	buf, release := pool.Scope(4096)
//	defer release()
func (p *Pool) Scope(n int) (buf []byte, release func()) {
	buf = p.Take(n)
	return buf, func() { p.Release(buf) }
}

// Detach acquires a buffer of at least n bytes for a long-lived owner (for
// example a Preload stream, spec.md §4.3) rather than a defer-scoped caller.
// The returned release closure puts the buffer back when the owner is
// itself dropped/closed, instead of at the end of the acquiring call.
func (p *Pool) Detach(n int) (buf []byte, release func()) {
	buf = p.Take(n)
	return buf, func() { p.Release(buf) }
}
