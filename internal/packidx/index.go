// Package packidx implements the pack index reader spec.md §4.5/§6.2 (C5):
// parsing both the legacy v1 and extended v2 on-disk index formats into an
// in-memory structure that supports lock-free concurrent OID lookups via a
// fanout-accelerated binary search, grounded on
// remyoudompheng-gigot/objects/pack.go's checkIdxMagic/findObject pair (the
// only pack-format-conformant reference in the retrieval pack).
package packidx

import (
	"encoding/binary"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/oid"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// Format distinguishes the two index encodings spec.md §4.5 names.
type Format int

const (
	V1 Format = 1
	V2 Format = 2
)

var v2Signature = [4]byte{0xFF, 0x74, 0x4F, 0x63} // "\377tOc"

const (
	fanoutEntries = 256
	trailerSize   = oid.Size * 2 // pack checksum + index checksum
)

// Index is an immutable, fully loaded pack index. Once Load returns, an
// Index's fields are never mutated, so concurrent Lookup calls need no
// locking (spec.md §5's "Pack indexes: read-only after load").
type Index struct {
	format       Format
	path         string
	fanout       [fanoutEntries]uint32
	oids         []oid.Oid
	crc          []uint32 // nil for v1
	offsets32    []uint32
	offsets64    []uint64
	packChecksum oid.Oid
	idxChecksum  oid.Oid
}

// Path returns the .idx file path this index was loaded from.
func (idx *Index) Path() string { return idx.path }

// PackPath returns the companion .pack file path, sharing idx's stem.
func (idx *Index) PackPath() string {
	return PackPathForIndex(idx.path)
}

// PackPathForIndex derives a pack file path from its index path, both
// sharing the "pack-<40hex>" stem spec.md §6.1 describes.
func PackPathForIndex(idxPath string) string {
	if strings.HasSuffix(idxPath, ".idx") {
		return strings.TrimSuffix(idxPath, ".idx") + ".pack"
	}
	return idxPath + ".pack"
}

// Format reports whether idx was parsed as v1 or v2.
func (idx *Index) Format() Format { return idx.format }

// Len returns the number of objects this index describes.
func (idx *Index) Len() int { return len(idx.oids) }

// PackChecksum returns the SHA-1 of the pack file this index was built for.
func (idx *Index) PackChecksum() oid.Oid { return idx.packChecksum }

// Lookup performs the fanout-accelerated binary search spec.md §4.5
// describes, returning the in-pack byte offset of o if present.
func (idx *Index) Lookup(o oid.Oid) (offset int64, ok bool) {
	bucket := o[0]
	lo := uint32(0)
	if bucket > 0 {
		lo = idx.fanout[bucket-1]
	}
	hi := idx.fanout[bucket]
	if lo >= hi {
		return 0, false
	}
	candidates := idx.oids[lo:hi]
	i := sort.Search(len(candidates), func(i int) bool {
		return candidates[i].Compare(o) >= 0
	})
	if i >= len(candidates) || candidates[i] != o {
		return 0, false
	}
	pos := int(lo) + i
	return idx.offsetAt(pos), true
}

func (idx *Index) offsetAt(pos int) int64 {
	o32 := idx.offsets32[pos]
	if idx.format == V1 || o32&0x80000000 == 0 {
		return int64(o32)
	}
	return int64(idx.offsets64[o32&0x7fffffff])
}

// Load reads and parses the pack index file at path.
func Load(fsys fsutil.FS, path string) (*Index, error) {
	f, err := fsutil.OpenRetrying(fsys, path, false)
	if err != nil {
		return nil, fmt.Errorf("packidx: opening %s: %w", path, err)
	}
	defer f.Close()

	data, err := readAllSync(f)
	if err != nil {
		return nil, fmt.Errorf("packidx: reading %s: %w", path, err)
	}
	return parse(path, data)
}

func parse(path string, data []byte) (*Index, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("packidx: %s: too short: %w", path, vcserr.ErrInvalidData)
	}

	idx := &Index{path: path}
	var rest []byte

	if [4]byte{data[0], data[1], data[2], data[3]} == v2Signature {
		if len(data) < 8 {
			return nil, fmt.Errorf("packidx: %s: truncated header: %w", path, vcserr.ErrInvalidData)
		}
		version := binary.BigEndian.Uint32(data[4:8])
		if version != 2 {
			return nil, fmt.Errorf("packidx: %s: unsupported index version %d: %w", path, version, vcserr.ErrInvalidData)
		}
		idx.format = V2
		rest = data[8:]
	} else {
		idx.format = V1
		rest = data
	}

	if len(rest) < fanoutEntries*4 {
		return nil, fmt.Errorf("packidx: %s: truncated fanout table: %w", path, vcserr.ErrInvalidData)
	}
	var prev uint32
	for i := 0; i < fanoutEntries; i++ {
		v := binary.BigEndian.Uint32(rest[i*4 : i*4+4])
		if v < prev {
			return nil, fmt.Errorf("packidx: %s: fanout table not monotonic: %w", path, vcserr.ErrInvalidData)
		}
		idx.fanout[i] = v
		prev = v
	}
	rest = rest[fanoutEntries*4:]
	n := int(idx.fanout[fanoutEntries-1])

	if idx.format == V2 {
		if err := parseV2(idx, rest, n); err != nil {
			return nil, err
		}
	} else {
		if err := parseV1(idx, rest, n); err != nil {
			return nil, err
		}
	}

	for i := 1; i < len(idx.oids); i++ {
		if idx.oids[i-1].Compare(idx.oids[i]) >= 0 {
			return nil, fmt.Errorf("packidx: %s: OID table not strictly ascending: %w", path, vcserr.ErrInvalidData)
		}
	}
	return idx, nil
}

func parseV1(idx *Index, rest []byte, n int) error {
	const recordSize = 4 + oid.Size
	need := n*recordSize + trailerSize
	if len(rest) < need {
		return fmt.Errorf("packidx: %s: truncated v1 body: %w", idx.path, vcserr.ErrInvalidData)
	}
	idx.oids = make([]oid.Oid, n)
	idx.offsets32 = make([]uint32, n)
	for i := 0; i < n; i++ {
		rec := rest[i*recordSize : (i+1)*recordSize]
		idx.offsets32[i] = binary.BigEndian.Uint32(rec[:4])
		o, err := oid.FromBytes(rec[4:])
		if err != nil {
			return fmt.Errorf("packidx: %s: %w", idx.path, err)
		}
		idx.oids[i] = o
	}
	trailer := rest[n*recordSize:]
	return parseTrailer(idx, trailer)
}

func parseV2(idx *Index, rest []byte, n int) error {
	oidTableSize := n * oid.Size
	crcTableSize := n * 4
	off32TableSize := n * 4
	need := oidTableSize + crcTableSize + off32TableSize + trailerSize
	if len(rest) < need {
		return fmt.Errorf("packidx: %s: truncated v2 body: %w", idx.path, vcserr.ErrInvalidData)
	}

	idx.oids = make([]oid.Oid, n)
	for i := 0; i < n; i++ {
		o, err := oid.FromBytes(rest[i*oid.Size : (i+1)*oid.Size])
		if err != nil {
			return fmt.Errorf("packidx: %s: %w", idx.path, err)
		}
		idx.oids[i] = o
	}
	rest = rest[oidTableSize:]

	idx.crc = make([]uint32, n)
	for i := 0; i < n; i++ {
		idx.crc[i] = binary.BigEndian.Uint32(rest[i*4 : i*4+4])
	}
	rest = rest[crcTableSize:]

	idx.offsets32 = make([]uint32, n)
	maxLarge := uint32(0)
	for i := 0; i < n; i++ {
		v := binary.BigEndian.Uint32(rest[i*4 : i*4+4])
		idx.offsets32[i] = v
		if v&0x80000000 != 0 {
			if idxVal := v &^ 0x80000000; idxVal+1 > maxLarge {
				maxLarge = idxVal + 1
			}
		}
	}
	rest = rest[off32TableSize:]

	if maxLarge > 0 {
		need64 := int(maxLarge) * 8
		if len(rest) < need64+trailerSize {
			return fmt.Errorf("packidx: %s: truncated 64-bit offset table: %w", idx.path, vcserr.ErrInvalidData)
		}
		idx.offsets64 = make([]uint64, maxLarge)
		for i := 0; i < int(maxLarge); i++ {
			idx.offsets64[i] = binary.BigEndian.Uint64(rest[i*8 : i*8+8])
		}
		rest = rest[need64:]
	}

	return parseTrailer(idx, rest)
}

func parseTrailer(idx *Index, trailer []byte) error {
	if len(trailer) < trailerSize {
		return fmt.Errorf("packidx: %s: truncated trailer: %w", idx.path, vcserr.ErrInvalidData)
	}
	packSum, err := oid.FromBytes(trailer[:oid.Size])
	if err != nil {
		return fmt.Errorf("packidx: %s: %w", idx.path, err)
	}
	idxSum, err := oid.FromBytes(trailer[oid.Size : oid.Size*2])
	if err != nil {
		return fmt.Errorf("packidx: %s: %w", idx.path, err)
	}
	idx.packChecksum = packSum
	idx.idxChecksum = idxSum
	return nil
}

func readAllSync(f fsutil.File) ([]byte, error) {
	var buf []byte
	chunk := make([]byte, 64*1024)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				return buf, nil
			}
			return buf, err
		}
	}
}
