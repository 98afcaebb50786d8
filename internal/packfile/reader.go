package packfile

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fenilsonani/vcscore/internal/handlecache"
	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// signature is the 4-byte magic every pack file starts with (spec.md §6.3).
var signature = [4]byte{'P', 'A', 'C', 'K'}

// FileHeader is the pack file's own 12-byte header.
type FileHeader struct {
	Version    uint32 // 2 or 3
	EntryCount uint32
}

// ReadFileHeader validates and decodes a pack file's 12-byte header from s,
// which must be positioned at byte 0.
func ReadFileHeader(ctx context.Context, s iostreams.Stream) (FileHeader, error) {
	var raw [12]byte
	if _, err := iostreams.ReadFull(ctx, s, raw[:]); err != nil {
		return FileHeader{}, fmt.Errorf("packfile: reading file header: %w", err)
	}
	if [4]byte{raw[0], raw[1], raw[2], raw[3]} != signature {
		return FileHeader{}, fmt.Errorf("packfile: bad signature: %w", vcserr.ErrInvalidData)
	}
	version := binary.BigEndian.Uint32(raw[4:8])
	if version != 2 && version != 3 {
		return FileHeader{}, fmt.Errorf("packfile: unsupported version %d: %w", version, vcserr.ErrInvalidData)
	}
	count := binary.BigEndian.Uint32(raw[8:12])
	return FileHeader{Version: version, EntryCount: count}, nil
}

// Reader opens pack entries by (pack path, offset), pulling the underlying
// OS handle from a shared handlecache.Cache so hot packs don't get reopened
// on every lookup (spec.md §4.6's "shared view of the pack file").
type Reader struct {
	handles *handlecache.Cache
}

// NewReader builds a Reader over the given handle cache.
func NewReader(handles *handlecache.Cache) *Reader {
	return &Reader{handles: handles}
}

// Entry is one decoded pack entry: its header plus a lazy, inflating stream
// over its payload (the object bytes for plain types, the delta instruction
// bytes for delta types). Closing Payload releases the borrowed pack handle
// back to the cache when no other logical reader over the same pack is
// still open.
type Entry struct {
	Header  Header
	Payload iostreams.Stream
}

// OpenEntry decodes the entry header at offset within the pack at path and
// returns it alongside a lazily-inflating stream of its payload. For delta
// entries (OFS_DELTA/REF_DELTA) the payload stream yields the raw delta
// instruction bytes; internal/delta is responsible for interpreting them.
func (r *Reader) OpenEntry(ctx context.Context, packPath string, offset int64) (Entry, error) {
	h, err := r.handles.Acquire(packPath)
	if err != nil {
		return Entry{}, fmt.Errorf("packfile: %w", err)
	}

	group := iostreams.NewSharedGroup(h.File(), func() { h.Close() })
	view := group.Logical(offset, -1)

	hdr, err := ReadHeader(ctx, view, offset)
	if err != nil {
		view.Close()
		return Entry{}, err
	}

	return Entry{Header: hdr, Payload: iostreams.NewDeflate(view)}, nil
}
