package iostreams

import (
	"context"
	"io"
)

// Concat owns an ordered list of child streams. Reads drain child 0 fully
// (until it signals EOF), then child 1, and so on; each child is closed
// the moment it signals EOF. Concat is forward-only and non-seekable
// (spec.md §4.3).
type Concat struct {
	children []Stream
	idx      int
	closed   bool
}

// NewConcat returns a Stream that reads each child in order.
func NewConcat(children ...Stream) *Concat {
	return &Concat{children: children}
}

func (c *Concat) Read(ctx context.Context, p []byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	for c.idx < len(c.children) {
		n, err := c.children[c.idx].Read(ctx, p)
		if err == io.EOF {
			c.children[c.idx].Close()
			c.idx++
			if n > 0 {
				return n, nil
			}
			continue
		}
		if err != nil {
			return n, err
		}
		if n > 0 {
			return n, nil
		}
	}
	return 0, io.EOF
}

func (c *Concat) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	var firstErr error
	for ; c.idx < len(c.children); c.idx++ {
		if err := c.children[c.idx].Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
