package delta

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fenilsonani/vcscore/internal/core/objects"
	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/oid"
	"github.com/fenilsonani/vcscore/internal/packfile"
)

type fakeOpener struct {
	entries map[int64]func() packfile.Entry
}

func (f *fakeOpener) OpenEntry(_ context.Context, _ string, offset int64) (packfile.Entry, error) {
	build, ok := f.entries[offset]
	if !ok {
		return packfile.Entry{}, errors.New("delta_test: no entry at offset")
	}
	return build(), nil
}

type fakeBaseLookup struct {
	oid     oid.Oid
	typ     objects.ObjectType
	size    int64
	payload []byte
	found   bool
}

func (f *fakeBaseLookup) Open(_ context.Context, id oid.Oid) (objects.ObjectType, int64, iostreams.Stream, bool, error) {
	if id != f.oid {
		return "", 0, nil, false, nil
	}
	return f.typ, f.size, iostreams.NewPreload(f.payload, nil), f.found, nil
}

func buildOneLevelDelta(t *testing.T, base []byte, literal []byte) []byte {
	t.Helper()
	var d []byte
	d = append(d, encodeSizeVarint(uint64(len(base)))...)
	d = append(d, encodeSizeVarint(uint64(len(base)+len(literal)))...)
	// insert(literal) then copy(0, len(base))
	d = append(d, byte(len(literal)))
	d = append(d, literal...)
	// copy opcode with only size present if it fits in one byte and offset 0.
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

func TestResolverOfsDeltaChain(t *testing.T) {
	ctx := context.Background()
	base := makeBase(100)
	literal := []byte("HEAD")
	deltaBytes := buildOneLevelDelta(t, base, literal)

	opener := &fakeOpener{entries: map[int64]func() packfile.Entry{
		100: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeBlob, Size: int64(len(base))},
				Payload: iostreams.NewPreload(base, nil),
			}
		},
		4000: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeOfsDelta, Size: int64(len(deltaBytes)), BaseOffset: 100},
				Payload: iostreams.NewPreload(deltaBytes, nil),
			}
		},
	}}

	r := NewResolver(opener, &fakeBaseLookup{}, fsutil.NewOS(), t.TempDir(), 0, nil)
	typ, size, out, err := r.Resolve(ctx, "fake.pack", 4000)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, objects.TypeBlob, typ)
	assert.EqualValues(t, len(literal)+len(base), size)
	got, err := iostreams.ReadAll(ctx, out)
	require.NoError(t, err)
	want := append(append([]byte{}, literal...), base...)
	assert.Equal(t, want, got)
}

func TestResolverRefDeltaCrossPack(t *testing.T) {
	ctx := context.Background()
	base := makeBase(50)
	literal := []byte("xyz")
	deltaBytes := buildOneLevelDelta(t, base, literal)
	baseOid := oid.Compute("blob", base)

	opener := &fakeOpener{entries: map[int64]func() packfile.Entry{
		500: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeRefDelta, Size: int64(len(deltaBytes)), BaseOid: baseOid},
				Payload: iostreams.NewPreload(deltaBytes, nil),
			}
		},
	}}
	lookup := &fakeBaseLookup{oid: baseOid, typ: objects.TypeBlob, size: int64(len(base)), payload: base, found: true}

	r := NewResolver(opener, lookup, fsutil.NewOS(), t.TempDir(), 0, nil)
	typ, _, out, err := r.Resolve(ctx, "fake.pack", 500)
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, objects.TypeBlob, typ)
	got, err := iostreams.ReadAll(ctx, out)
	require.NoError(t, err)
	want := append(append([]byte{}, literal...), base...)
	assert.Equal(t, want, got)
}

// TestResolverDeepChain exercises a chain of 50 OFS_DELTA entries, each
// prepending one literal byte to the previous level's result, grounded on
// spec.md §8 scenario 5 ("Deep chain"): a chain of 50 deltas each adding
// one byte to a 1 KiB base produces a 1050-byte object.
func TestResolverDeepChain(t *testing.T) {
	ctx := context.Background()
	const depth = 50
	base := makeBase(1000)

	entries := map[int64]func() packfile.Entry{
		0: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeBlob, Size: int64(len(base))},
				Payload: iostreams.NewPreload(base, nil),
			}
		},
	}
	prevSize := len(base)
	for i := 1; i <= depth; i++ {
		literal := []byte{byte('a' + i%26)}
		deltaBytes := buildOneLevelDelta(t, make([]byte, prevSize), literal)
		offset := int64(i * 100)
		baseOffset := int64((i - 1) * 100)
		entries[offset] = func() packfile.Entry {
			return packfile.Entry{
				Header: packfile.Header{
					Type:       packfile.TypeOfsDelta,
					Size:       int64(len(deltaBytes)),
					BaseOffset: baseOffset,
				},
				Payload: iostreams.NewPreload(deltaBytes, nil),
			}
		}
		prevSize++
	}

	opener := &fakeOpener{entries: entries}
	r := NewResolver(opener, &fakeBaseLookup{}, fsutil.NewOS(), t.TempDir(), 0, nil)
	typ, size, out, err := r.Resolve(ctx, "fake.pack", int64(depth*100))
	require.NoError(t, err)
	defer out.Close()
	assert.Equal(t, objects.TypeBlob, typ)
	assert.EqualValues(t, len(base)+depth, size)

	got, err := iostreams.ReadAll(ctx, out)
	require.NoError(t, err)
	assert.Len(t, got, len(base)+depth)
}

// TestResolverRejectsChainDeeperThanMaxDepth exercises spec.md §4.7's
// configurable chain-depth limit: a chain longer than maxDepth fails with
// invalid-data instead of resolving or looping.
func TestResolverRejectsChainDeeperThanMaxDepth(t *testing.T) {
	ctx := context.Background()
	const depth = 10
	base := makeBase(10)

	entries := map[int64]func() packfile.Entry{
		0: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeBlob, Size: int64(len(base))},
				Payload: iostreams.NewPreload(base, nil),
			}
		},
	}
	prevSize := len(base)
	for i := 1; i <= depth; i++ {
		deltaBytes := buildOneLevelDelta(t, make([]byte, prevSize), []byte{'x'})
		offset := int64(i * 100)
		baseOffset := int64((i - 1) * 100)
		entries[offset] = func() packfile.Entry {
			return packfile.Entry{
				Header: packfile.Header{
					Type:       packfile.TypeOfsDelta,
					Size:       int64(len(deltaBytes)),
					BaseOffset: baseOffset,
				},
				Payload: iostreams.NewPreload(deltaBytes, nil),
			}
		}
		prevSize++
	}

	opener := &fakeOpener{entries: entries}
	// maxDepth smaller than the chain's actual depth forces the limit to trip.
	r := NewResolver(opener, &fakeBaseLookup{}, fsutil.NewOS(), t.TempDir(), depth-2, nil)
	_, _, _, err := r.Resolve(ctx, "fake.pack", int64(depth*100))
	assert.Error(t, err, "expected chain-depth-exceeded error")
}

func TestResolverDetectsCycle(t *testing.T) {
	ctx := context.Background()
	opener := &fakeOpener{entries: map[int64]func() packfile.Entry{
		100: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeOfsDelta, Size: 4, BaseOffset: 200},
				Payload: iostreams.NewPreload([]byte{0, 0, 0, 0}, nil),
			}
		},
		200: func() packfile.Entry {
			return packfile.Entry{
				Header:  packfile.Header{Type: packfile.TypeOfsDelta, Size: 4, BaseOffset: 100},
				Payload: iostreams.NewPreload([]byte{0, 0, 0, 0}, nil),
			}
		},
	}}

	r := NewResolver(opener, &fakeBaseLookup{}, fsutil.NewOS(), t.TempDir(), 0, nil)
	_, _, _, err := r.Resolve(ctx, "fake.pack", 100)
	assert.Error(t, err, "expected error for cyclic delta reference")
}
