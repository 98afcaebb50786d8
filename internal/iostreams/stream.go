// Package iostreams implements the composable byte-stream primitives
// spec.md §4.3 (C3) describes: concatenation, range limiting, preloading,
// a wrapped-shared adapter over one seekable parent, zlib/deflate
// decompression, and a memoized random-access wrapper. Every primitive
// shares one contract (Stream below); cancellation is cooperative and
// checked at each read/seek boundary via context.Context, matching
// spec.md §5's suspension-point model without requiring an async runtime.
package iostreams

import (
	"context"
	"io"

	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// Stream is the common contract every primitive in this package satisfies:
// a context-aware, forward-only-by-default byte reader that returns
// (0, io.EOF) at end of data, plus Close to release any owned resources.
type Stream interface {
	// Read reads into p, returning (0, io.EOF) at end of stream. It checks
	// ctx before performing I/O and returns vcserr.ErrCancelled if ctx is
	// already done.
	Read(ctx context.Context, p []byte) (int, error)
	Close() error
}

// Seekable is a Stream that also supports random access within [0, length).
type Seekable interface {
	Stream
	// Seek repositions the stream the way io.Seeker does, but is
	// context-aware for the same cancellation reasons as Read.
	Seek(ctx context.Context, offset int64, whence int) (int64, error)
}

// checkCancelled returns vcserr.ErrCancelled if ctx has already been
// cancelled, nil otherwise. Every primitive calls this once per Read/Seek
// before touching its underlying source, satisfying spec.md §5's
// "cancellation... returns cancelled before its next I/O call".
func checkCancelled(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return vcserr.ErrCancelled
	default:
		return nil
	}
}

// ReadFull reads exactly len(p) bytes from s, the Stream analogue of
// io.ReadFull, used by the delta resolver and entry readers when a precise
// byte count is already known.
func ReadFull(ctx context.Context, s Stream, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := s.Read(ctx, p[n:])
		n += m
		if err != nil {
			if err == io.EOF && n == len(p) {
				return n, nil
			}
			if err == io.EOF {
				return n, io.ErrUnexpectedEOF
			}
			return n, err
		}
	}
	return n, nil
}

// ReadAll drains s to completion, for callers (typically tests) that want
// the whole reconstructed object in memory.
func ReadAll(ctx context.Context, s Stream) ([]byte, error) {
	var out []byte
	buf := make([]byte, 32*1024)
	for {
		n, err := s.Read(ctx, buf)
		if n > 0 {
			out = append(out, buf[:n]...)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
	}
}
