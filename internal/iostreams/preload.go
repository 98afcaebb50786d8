package iostreams

import (
	"context"
	"io"
)

// Preload owns a detached buffer of bytes already read from somewhere and
// replays it; forward-only (spec.md §4.3). It is how a memoized stream's
// backing store, or a small pack-entry header lookahead, gets handed back
// to a caller as an ordinary Stream.
type Preload struct {
	data []byte
	pos  int
	done func() // released when Close is called, e.g. a bufpool.Pool.Release
}

// NewPreload wraps data for replay. If release is non-nil it is called
// exactly once, from Close, to return a pooled buffer (internal/bufpool).
func NewPreload(data []byte, release func()) *Preload {
	return &Preload{data: data, done: release}
}

func (p *Preload) Read(ctx context.Context, buf []byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	n := copy(buf, p.data[p.pos:])
	p.pos += n
	return n, nil
}

func (p *Preload) Close() error {
	if p.done != nil {
		p.done()
		p.done = nil
	}
	return nil
}
