// Package oid implements the 20-byte content-addressed object identifier
// and the two varint encodings the pack format builds on.
package oid

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
)

// Size is the fixed length of an Oid in bytes.
const Size = 20

// Oid is a 20-byte object identifier. It is a value type: equality is
// byte-equality, ordering is lexicographic on the raw bytes, and values are
// freely copied (spec.md §3).
type Oid [Size]byte

// String returns the 40-character lowercase hex form.
func (id Oid) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 7 hex characters, the common abbreviated form
// used in log output.
func (id Oid) Short() string { return id.String()[:7] }

// IsZero reports whether every byte of id is zero.
func (id Oid) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// Compare returns -1, 0, or 1 as id is lexicographically less than, equal
// to, or greater than other. It implements the ordering spec.md §3 requires
// for pack-index binary search and fanout-table invariants.
func (id Oid) Compare(other Oid) int {
	for i := range id {
		if id[i] != other[i] {
			if id[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Less reports whether id sorts before other.
func (id Oid) Less(other Oid) bool { return id.Compare(other) < 0 }

// ParseHex parses a 40-character hex string into an Oid. Abbreviated
// (prefix) forms are rejected here; resolving abbreviations is an upper
// layer's job per spec.md §3.
func ParseHex(s string) (Oid, error) {
	var id Oid
	if len(s) != Size*2 {
		return id, fmt.Errorf("oid: invalid hex length: expected %d, got %d", Size*2, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("oid: invalid hex string: %w", err)
	}
	copy(id[:], b)
	return id, nil
}

// FromBytes copies a 20-byte slice into an Oid, failing if the length is wrong.
func FromBytes(b []byte) (Oid, error) {
	var id Oid
	if len(b) != Size {
		return id, fmt.Errorf("oid: invalid byte length: expected %d, got %d", Size, len(b))
	}
	copy(id[:], b)
	return id, nil
}

// Compute hashes data with the canonical "<type> <size>\0<payload>" prefix
// (spec.md §3's OID definition: "output of a cryptographic digest over"
// that exact framing). typeName is the object type's wire name
// ("blob", "tree", "commit", "tag").
func Compute(typeName string, data []byte) Oid {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", typeName, len(data))
	h.Write(data)
	var id Oid
	copy(id[:], h.Sum(nil))
	return id
}

// ComputeReader is Compute for a streamed payload of known size, avoiding
// buffering the whole object just to hash it.
func ComputeReader(typeName string, size int64, r io.Reader) (Oid, error) {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", typeName, size)
	if _, err := io.Copy(h, r); err != nil {
		return Oid{}, fmt.Errorf("oid: hashing reader: %w", err)
	}
	var id Oid
	copy(id[:], h.Sum(nil))
	return id, nil
}
