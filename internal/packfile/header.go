// Package packfile implements the pack entry reader spec.md §4.6/§6.3 (C6):
// decoding a pack entry's header at a given byte offset and constructing a
// lazy stream for its payload, grounded on
// remyoudompheng-gigot/objects/pack.go's extractAt for the header byte
// layout and offset-varint handling.
package packfile

import (
	"context"
	"fmt"

	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/oid"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// EntryType is the pack entry's type tag (spec.md §3's ObjectType plus the
// two transient delta types that never surface past the resolver, C7).
type EntryType uint8

const (
	TypeCommit   EntryType = 1
	TypeTree     EntryType = 2
	TypeBlob     EntryType = 3
	TypeTag      EntryType = 4
	TypeOfsDelta EntryType = 6
	TypeRefDelta EntryType = 7
)

func (t EntryType) String() string {
	switch t {
	case TypeCommit:
		return "commit"
	case TypeTree:
		return "tree"
	case TypeBlob:
		return "blob"
	case TypeTag:
		return "tag"
	case TypeOfsDelta:
		return "ofs-delta"
	case TypeRefDelta:
		return "ref-delta"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// IsDelta reports whether t is one of the two delta entry types.
func (t EntryType) IsDelta() bool { return t == TypeOfsDelta || t == TypeRefDelta }

// Header is the decoded form of a pack entry's header, spec.md §4.6.
type Header struct {
	Type EntryType
	Size int64 // uncompressed payload size

	// BaseOffset is set for TypeOfsDelta: the base entry's byte offset
	// within the same pack file.
	BaseOffset int64

	// BaseOid is set for TypeRefDelta: the base object's OID, which may
	// live in any pack or loose.
	BaseOid oid.Oid
}

// readByte pulls exactly one byte from s, respecting ctx cancellation.
func readByte(ctx context.Context, s iostreams.Stream) (byte, error) {
	var buf [1]byte
	if _, err := iostreams.ReadFull(ctx, s, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadHeader decodes a pack entry header from s, which must be positioned
// exactly at the entry's first byte within entryOffset's pack file. After a
// successful call, s's position is exactly at the start of the entry's
// compressed payload.
func ReadHeader(ctx context.Context, s iostreams.Stream, entryOffset int64) (Header, error) {
	b0, err := readByte(ctx, s)
	if err != nil {
		return Header{}, fmt.Errorf("packfile: reading entry header at %d: %w", entryOffset, err)
	}

	typ := EntryType((b0 >> 4) & 0x7)
	size := uint64(b0 & 0x0f)
	shift := uint(4)
	more := b0&0x80 != 0
	for more {
		b, err := readByte(ctx, s)
		if err != nil {
			return Header{}, fmt.Errorf("packfile: reading size byte at %d: %w", entryOffset, err)
		}
		if shift >= 64 {
			return Header{}, fmt.Errorf("packfile: entry at %d: size varint too long: %w", entryOffset, vcserr.ErrInvalidData)
		}
		size |= uint64(b&0x7f) << shift
		shift += 7
		more = b&0x80 != 0
	}

	hdr := Header{Type: typ, Size: int64(size)}

	switch typ {
	case TypeCommit, TypeTree, TypeBlob, TypeTag:
		// no further header bytes
	case TypeOfsDelta:
		d, err := oid.ReadOffsetVarint(func() (byte, error) { return readByte(ctx, s) })
		if err != nil {
			return Header{}, fmt.Errorf("packfile: entry at %d: %w", entryOffset, err)
		}
		if d == 0 {
			return Header{}, fmt.Errorf("packfile: entry at %d: zero OFS_DELTA offset: %w", entryOffset, vcserr.ErrInvalidData)
		}
		base := entryOffset - int64(d)
		if base < 0 {
			return Header{}, fmt.Errorf("packfile: entry at %d: OFS_DELTA base before start of pack: %w", entryOffset, vcserr.ErrInvalidData)
		}
		hdr.BaseOffset = base
	case TypeRefDelta:
		var raw [oid.Size]byte
		if _, err := iostreams.ReadFull(ctx, s, raw[:]); err != nil {
			return Header{}, fmt.Errorf("packfile: entry at %d: reading REF_DELTA base OID: %w", entryOffset, err)
		}
		o, err := oid.FromBytes(raw[:])
		if err != nil {
			return Header{}, fmt.Errorf("packfile: entry at %d: %w", entryOffset, err)
		}
		hdr.BaseOid = o
	default:
		return Header{}, fmt.Errorf("packfile: entry at %d: unsupported type %d: %w", entryOffset, typ, vcserr.ErrInvalidData)
	}

	return hdr, nil
}
