package iostreams

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"

	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// zlibCMF is the only Compression Method/Flags byte this core accepts: CM=8
// (deflate), CINFO=7 (32K window) — 0x78, the byte every git pack/loose
// object stream in practice uses.
const zlibCMF = 0x78

// validFlagBytes are the FLG bytes compatible with CMF 0x78 and no preset
// dictionary, covering the compression-level hints zlib writers emit
// (spec.md §4.3: "second in {0x01, 0x5E, 0x9C, 0xDA}").
var validFlagBytes = map[byte]bool{0x01: true, 0x5E: true, 0x9C: true, 0xDA: true}

// Deflate decompresses a zlib-wrapped deflate stream. It validates the
// 2-byte zlib header by hand and hands the remaining bytes to a raw flate
// reader, deliberately never checking the trailing Adler-32 checksum
// (spec.md §4.3, §9: "no checksum verification" is the reference
// behavior) — which is why this uses klauspost/compress/flate directly
// instead of compress/zlib (whose Reader enforces the checksum on EOF).
type Deflate struct {
	parent    Stream
	flateR    io.ReadCloser
	headerErr error
	started   bool
}

// NewDeflate wraps parent, whose first two bytes must be a zlib header.
func NewDeflate(parent Stream) *Deflate {
	return &Deflate{parent: parent}
}

// ctxReader adapts a context-aware Stream into an io.Reader for the one
// call site (flate.NewReader) that needs the stdlib io.Reader shape; ctx
// is fixed for the lifetime of one Read call into the flate reader, which
// is acceptable since flate.Reader.Read never blocks indefinitely waiting
// on data logically "owned" by a different caller.
type ctxReader struct {
	ctx context.Context
	s   Stream
}

func (c ctxReader) Read(p []byte) (int, error) { return c.s.Read(c.ctx, p) }

func (d *Deflate) ensureStarted(ctx context.Context) error {
	if d.started {
		return d.headerErr
	}
	d.started = true
	var hdr [2]byte
	if _, err := ReadFull(ctx, d.parent, hdr[:]); err != nil {
		d.headerErr = fmt.Errorf("iostreams: reading zlib header: %w", err)
		return d.headerErr
	}
	if hdr[0] != zlibCMF || !validFlagBytes[hdr[1]] {
		d.headerErr = fmt.Errorf("iostreams: rejected zlib header %#02x %#02x: %w", hdr[0], hdr[1], vcserr.ErrInvalidData)
		return d.headerErr
	}
	d.flateR = flate.NewReader(ctxReader{ctx: ctx, s: d.parent})
	return nil
}

func (d *Deflate) Read(ctx context.Context, p []byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	if err := d.ensureStarted(ctx); err != nil {
		return 0, err
	}
	n, err := d.flateR.Read(p)
	if err != nil && err != io.EOF {
		return n, fmt.Errorf("iostreams: inflating: %v: %w", err, vcserr.ErrInvalidData)
	}
	return n, err
}

func (d *Deflate) Close() error {
	if d.flateR != nil {
		d.flateR.Close()
	}
	return d.parent.Close()
}
