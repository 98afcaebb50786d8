package vcscore

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/fenilsonani/vcscore/internal/core/objects"
	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/oid"
)

func zlibCompress(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func encodeEntryHeader(typ byte, size uint64) []byte {
	b0 := typ<<4 | byte(size&0x0f)
	size >>= 4
	if size > 0 {
		b0 |= 0x80
	}
	out := []byte{b0}
	for size > 0 {
		b := byte(size & 0x7f)
		size >>= 7
		if size > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}

// encodeOffsetVarint is the inverse of internal/oid.ReadOffsetVarint's
// "add one per continuation" encoding.
func encodeOffsetVarint(off uint64) []byte {
	buf := []byte{byte(off & 0x7f)}
	for off >>= 7; off > 0; off >>= 7 {
		off--
		buf = append(buf, byte(0x80|(off&0x7f)))
	}
	for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf
}

func encodeSizeVarint(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		out = append(out, b)
		if v == 0 {
			break
		}
	}
	return out
}

// buildOneLevelDelta builds a delta stream that reproduces literal+base
// from an insert followed by a single whole-base copy.
func buildOneLevelDelta(base, literal []byte) []byte {
	var d []byte
	d = append(d, encodeSizeVarint(uint64(len(base)))...)
	d = append(d, encodeSizeVarint(uint64(len(base)+len(literal)))...)
	d = append(d, byte(len(literal)))
	d = append(d, literal...)

	size := uint32(len(base))
	opcode := byte(0x80)
	var sizeBytes []byte
	for i := uint(0); i < 3 && size > 0; i++ {
		opcode |= 1 << (4 + i)
		sizeBytes = append(sizeBytes, byte(size&0xff))
		size >>= 8
	}
	d = append(d, opcode)
	d = append(d, sizeBytes...)
	return d
}

func buildFanout(oids []oid.Oid) [256]uint32 {
	var fanout [256]uint32
	for _, o := range oids {
		for b := int(o[0]); b < 256; b++ {
			fanout[b]++
		}
	}
	return fanout
}

// buildV2Index writes a v2 pack index over the given (oid, offset) pairs,
// sorted ascending by oid as spec.md §3/§4.5 require.
func buildV2Index(t *testing.T, entries map[oid.Oid]int64) []byte {
	t.Helper()
	oids := make([]oid.Oid, 0, len(entries))
	for o := range entries {
		oids = append(oids, o)
	}
	for i := 1; i < len(oids); i++ {
		for j := i; j > 0 && oids[j-1].Compare(oids[j]) > 0; j-- {
			oids[j-1], oids[j] = oids[j], oids[j-1]
		}
	}

	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0x74, 0x4F, 0x63})
	binary.Write(&buf, binary.BigEndian, uint32(2))
	fanout := buildFanout(oids)
	for _, v := range fanout {
		binary.Write(&buf, binary.BigEndian, v)
	}
	for _, o := range oids {
		buf.Write(o[:])
	}
	for range oids {
		binary.Write(&buf, binary.BigEndian, uint32(0)) // CRC, unverified
	}
	for _, o := range oids {
		binary.Write(&buf, binary.BigEndian, uint32(entries[o]))
	}
	buf.Write(make([]byte, 20)) // pack checksum
	buf.Write(make([]byte, 20)) // idx checksum
	return buf.Bytes()
}

// packEntry is one not-yet-placed entry to write into a pack fixture.
type packEntry struct {
	typ     byte // 2 = tree, 3 = blob, 7 = ref-delta
	data    []byte
	baseOid oid.Oid // for ref-delta

	offset int64 // filled in by buildPack
}

// buildPack lays out entries sequentially into a pack file and returns its
// path. Entry offsets are recorded back onto each *packEntry as they're
// placed. OFS_DELTA entries need a two-pass layout (the backward offset
// depends on where the base itself landed) and are built by
// buildOfsDeltaPack instead.
func buildPack(t *testing.T, dir, name string, entries []*packEntry) string {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("PACK")
	binary.Write(&buf, binary.BigEndian, uint32(2))
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))

	for _, e := range entries {
		e.offset = int64(buf.Len())
		buf.Write(encodeEntryHeader(e.typ, uint64(len(e.data))))
		if e.typ == 7 {
			buf.Write(e.baseOid[:])
		}
		buf.Write(zlibCompress(t, e.data))
	}
	buf.Write(make([]byte, 20))

	path := filepath.Join(dir, name+".pack")
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeLoose(t *testing.T, adminDir string, id oid.Oid, typ objects.ObjectType, data []byte) {
	t.Helper()
	raw := append([]byte(fmt.Sprintf("%s %d\x00", typ, len(data))), data...)
	hex := id.String()
	dir := filepath.Join(adminDir, "objects", hex[:2])
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, hex[2:])
	if err := os.WriteFile(path, zlibCompress(t, raw), 0o644); err != nil {
		t.Fatal(err)
	}
}

func readAllFromOpen(t *testing.T, s iostreams.Stream) []byte {
	t.Helper()
	got, err := iostreams.ReadAll(context.Background(), s)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return got
}

func TestAccessorOpensLooseObject(t *testing.T) {
	adminDir := t.TempDir()
	data := []byte("hello world")
	id := oid.Compute("blob", data)
	writeLoose(t, adminDir, id, objects.TypeBlob, data)

	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	defer a.Close()

	typ, size, stream, found, err := a.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	if !found {
		t.Fatal("expected object to be found")
	}
	if typ != objects.TypeBlob {
		t.Fatalf("got type %v, want blob", typ)
	}
	if size != int64(len(data)) {
		t.Fatalf("got size %d, want %d", size, len(data))
	}
	if got := readAllFromOpen(t, stream); string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestAccessorOpensPackedPlainObject(t *testing.T) {
	adminDir := t.TempDir()
	packDir := filepath.Join(adminDir, "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
	}

	data := []byte("packed tree payload")
	id := oid.Compute("tree", data)
	entries := []*packEntry{{typ: 2, data: data}}
	buildPack(t, packDir, "pack-plain", entries)
	idxData := buildV2Index(t, map[oid.Oid]int64{id: entries[0].offset})
	if err := os.WriteFile(filepath.Join(packDir, "pack-plain.idx"), idxData, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	defer a.Close()

	if got := a.PackCount(); got != 1 {
		t.Fatalf("got %d packs, want 1", got)
	}

	typ, size, stream, found, err := a.Open(ctx, id)
	if err != nil {
		t.Fatalf("Open(%s): %v", id, err)
	}
	if !found {
		t.Fatal("expected object to be found")
	}
	if typ != objects.TypeTree {
		t.Fatalf("got type %v, want tree", typ)
	}
	if size != int64(len(data)) {
		t.Fatalf("got size %d, want %d", size, len(data))
	}
	if got := readAllFromOpen(t, stream); string(got) != string(data) {
		t.Fatalf("got %q, want %q", got, data)
	}
}

func TestAccessorResolvesOfsDeltaInPack(t *testing.T) {
	adminDir := t.TempDir()
	packDir := filepath.Join(adminDir, "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
	}

	base := bytes.Repeat([]byte{'b'}, 200)
	literal := []byte("HEAD-ish")
	final := append(append([]byte{}, literal...), base...)
	baseOid := oid.Compute("blob", base)
	finalOid := oid.Compute("blob", final)

	deltaBytes := buildOneLevelDelta(base, literal)
	baseEntry := &packEntry{typ: 3, data: base}
	deltaEntry := &packEntry{typ: 6, data: deltaBytes}

	// Lay out base first, then ofs-delta, so the backward offset can be
	// computed once the base's position is known (buildOfsDeltaPack).
	entries := []*packEntry{baseEntry, deltaEntry}
	path := filepath.Join(packDir, "pack-delta.pack")
	buildOfsDeltaPack(t, path, entries)

	idxData := buildV2Index(t, map[oid.Oid]int64{
		baseOid:  baseEntry.offset,
		finalOid: deltaEntry.offset,
	})
	if err := os.WriteFile(filepath.Join(packDir, "pack-delta.idx"), idxData, 0o644); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	defer a.Close()

	typ, size, stream, found, err := a.Open(ctx, finalOid)
	if err != nil {
		t.Fatalf("Open(%s): %v", finalOid, err)
	}
	if !found {
		t.Fatal("expected delta object to be found")
	}
	if typ != objects.TypeBlob {
		t.Fatalf("got type %v, want blob", typ)
	}
	if size != int64(len(final)) {
		t.Fatalf("got size %d, want %d", size, len(final))
	}
	if got := readAllFromOpen(t, stream); string(got) != string(final) {
		t.Fatalf("got %q, want %q", got, final)
	}
}

// buildOfsDeltaPack is buildPack specialized for a [base, ofs-delta] pair,
// filling in the second entry's backward-offset delta once the first
// entry's position is known.
func buildOfsDeltaPack(t *testing.T, path string, entries []*packEntry) {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("PACK")
	binary.Write(&buf, binary.BigEndian, uint32(2))
	binary.Write(&buf, binary.BigEndian, uint32(len(entries)))

	base, delta := entries[0], entries[1]
	base.offset = int64(buf.Len())
	buf.Write(encodeEntryHeader(3, uint64(len(base.data))))
	buf.Write(zlibCompress(t, base.data))

	delta.offset = int64(buf.Len())
	buf.Write(encodeEntryHeader(6, uint64(len(delta.data))))
	buf.Write(encodeOffsetVarint(uint64(delta.offset - base.offset)))
	buf.Write(zlibCompress(t, delta.data))

	buf.Write(make([]byte, 20))
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAccessorResolvesRefDeltaAcrossPacks(t *testing.T) {
	adminDir := t.TempDir()
	packDir := filepath.Join(adminDir, "objects", "pack")
	if err := os.MkdirAll(packDir, 0o755); err != nil {
		t.Fatal(err)
	}

	base := bytes.Repeat([]byte{'z'}, 80)
	literal := []byte("xyz")
	final := append(append([]byte{}, literal...), base...)
	baseOid := oid.Compute("blob", base)
	finalOid := oid.Compute("blob", final)

	baseEntries := []*packEntry{{typ: 3, data: base}}
	buildPack(t, packDir, "pack-a", baseEntries)
	aIdx := buildV2Index(t, map[oid.Oid]int64{baseOid: baseEntries[0].offset})
	os.WriteFile(filepath.Join(packDir, "pack-a.idx"), aIdx, 0o644)

	deltaBytes := buildOneLevelDelta(base, literal)
	deltaEntries := []*packEntry{{typ: 7, data: deltaBytes, baseOid: baseOid}}
	buildPack(t, packDir, "pack-b", deltaEntries)
	bIdx := buildV2Index(t, map[oid.Oid]int64{finalOid: deltaEntries[0].offset})
	os.WriteFile(filepath.Join(packDir, "pack-b.idx"), bIdx, 0o644)

	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	defer a.Close()

	if got := a.PackCount(); got != 2 {
		t.Fatalf("got %d packs, want 2", got)
	}

	typ, _, stream, found, err := a.Open(ctx, finalOid)
	if err != nil {
		t.Fatalf("Open(%s): %v", finalOid, err)
	}
	if !found {
		t.Fatal("expected ref-delta object to be found")
	}
	if typ != objects.TypeBlob {
		t.Fatalf("got type %v, want blob", typ)
	}
	if got := readAllFromOpen(t, stream); string(got) != string(final) {
		t.Fatalf("got %q, want %q", got, final)
	}
}

func TestAccessorOpenReturnsNotFound(t *testing.T) {
	adminDir := t.TempDir()
	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	defer a.Close()

	var missing oid.Oid
	missing[0] = 0xAB
	_, _, _, found, err := a.Open(ctx, missing)
	if err != nil {
		t.Fatalf("Open: unexpected error %v", err)
	}
	if found {
		t.Fatal("expected not-found, got a hit")
	}
}

func TestAccessorConcurrentOpenSameOid(t *testing.T) {
	adminDir := t.TempDir()
	data := bytes.Repeat([]byte("concurrent-read "), 64)
	id := oid.Compute("blob", data)
	writeLoose(t, adminDir, id, objects.TypeBlob, data)

	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	defer a.Close()

	const workers = 32
	var wg sync.WaitGroup
	results := make([][]byte, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, stream, found, err := a.Open(ctx, id)
			if err != nil {
				errs[i] = err
				return
			}
			if !found {
				errs[i] = fmt.Errorf("not found")
				return
			}
			got, rerr := iostreams.ReadAll(ctx, stream)
			stream.Close()
			if rerr != nil {
				errs[i] = rerr
				return
			}
			results[i] = got
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("worker %d: %v", i, err)
		}
		if string(results[i]) != string(data) {
			t.Fatalf("worker %d: got %q, want %q", i, results[i], data)
		}
	}
}

func TestAccessorUseAfterCloseFails(t *testing.T) {
	adminDir := t.TempDir()
	ctx := context.Background()
	a, err := Open(ctx, adminDir, fsutil.NewOS())
	if err != nil {
		t.Fatalf("Open accessor: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	var id oid.Oid
	_, _, _, _, err = a.Open(ctx, id)
	if err == nil {
		t.Fatal("expected error using accessor after Close")
	}
}
