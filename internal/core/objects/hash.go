package objects

import (
	"fmt"
	"io"
	"strings"

	"github.com/fenilsonani/vcscore/internal/oid"
)

// ObjectID is the object identifier this package works with. It is an
// alias for internal/oid.Oid so that the pack/delta/loose layers (which
// only know about oid.Oid) and this package share one identifier type with
// no conversion at the boundary.
type ObjectID = oid.Oid

// NewObjectID parses a 40-character hex string into an ObjectID.
func NewObjectID(hexStr string) (ObjectID, error) {
	return oid.ParseHex(hexStr)
}

// ComputeHash hashes data with the canonical "<type> <size>\0<payload>" framing.
func ComputeHash(objectType ObjectType, data []byte) ObjectID {
	return oid.Compute(string(objectType), data)
}

// HashReader is ComputeHash for a streamed payload of known size.
func HashReader(objectType ObjectType, size int64, r io.Reader) (ObjectID, error) {
	return oid.ComputeReader(string(objectType), size, r)
}

// ParseObjectID parses a full 40-character hex object ID. Abbreviated forms
// need access to an object database to resolve and are not handled here.
func ParseObjectID(input string) (ObjectID, error) {
	input = strings.TrimSpace(input)
	if len(input) == 40 {
		return NewObjectID(input)
	}
	return ObjectID{}, fmt.Errorf("objects: abbreviated object IDs not yet supported: %s", input)
}
