package oid

import (
	"fmt"

	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// ReadSizeVarint decodes the 7-bit little-endian-group "size" varint used
// for uncompressed object sizes and the variable tail of a pack entry
// header (spec.md §4.1). It reads one byte at a time from next and stops at
// the first byte whose top bit is clear, failing with invalid-data if the
// value would shift past 64 bits.
func ReadSizeVarint(next func() (byte, error)) (value uint64, shift uint, err error) {
	for {
		b, err := next()
		if err != nil {
			return 0, 0, err
		}
		if shift >= 64 {
			return 0, 0, fmt.Errorf("oid: size varint overflow: %w", vcserr.ErrInvalidData)
		}
		value |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			return value, shift, nil
		}
	}
}

// ReadOffsetVarint decodes the OFS_DELTA back-offset varint (spec.md §4.1):
// value = (value << 7) | (byte & 0x7f), and while the continuation bit is
// set, value is incremented by one before folding in the next byte. This is
// the "add one per continuation" form that must be replicated exactly; it
// is not the same encoding as ReadSizeVarint.
func ReadOffsetVarint(next func() (byte, error)) (value uint64, err error) {
	b, err := next()
	if err != nil {
		return 0, err
	}
	value = uint64(b & 0x7f)
	for b&0x80 != 0 {
		value++
		b, err = next()
		if err != nil {
			return 0, err
		}
		value = (value << 7) | uint64(b&0x7f)
	}
	return value, nil
}
