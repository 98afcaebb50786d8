package iostreams

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fenilsonani/vcscore/internal/bufpool"
	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// MemoThreshold is the backing-store cutover point: lengths at or below it
// are memoized in memory, longer ones spill to a temp file (spec.md §4.3:
// "threshold ≈ 1 MiB").
const MemoThreshold = 1 << 20

// Memo wraps a forward-only parent stream of known length and makes it
// randomly seekable by lazily filling a backing store the first time each
// region is read, then serving repeat/backward reads from that store
// instead of re-decoding the parent. This is the primitive the delta
// resolver depends on: applying a copy opcode against an earlier region of
// the base object would otherwise require re-inflating the base from
// scratch (spec.md §4.3, §4.7).
//
// Per spec.md §9's open question, a parent of unknown length (-1) is
// rejected outright rather than buffered unboundedly — every caller in
// this core already knows the uncompressed size from a pack/loose entry
// header before constructing a Memo.
type Memo struct {
	parent Stream
	length int64

	filled int64 // bytes already pulled from parent into the backing store
	eof    bool

	mem  []byte // in-memory backing store, used when length <= MemoThreshold
	file fsutil.TempFile
	fsys fsutil.FS
	tmp  string
	pool *bufpool.Pool

	pos int64
}

// NewMemo wraps parent (whose total output is exactly length bytes) for
// random access. fsys and tmpDir are only used if length exceeds
// MemoThreshold, to create the spill file. pool supplies fill's scratch
// buffer (C11, spec.md §4.11); a nil pool falls back to a one-off
// allocation.
func NewMemo(fsys fsutil.FS, tmpDir string, parent Stream, length int64, pool *bufpool.Pool) (*Memo, error) {
	if length < 0 {
		return nil, fmt.Errorf("iostreams: memo of unknown-length stream: %w", vcserr.ErrInvalidData)
	}
	m := &Memo{parent: parent, length: length, fsys: fsys, pool: pool}
	if length <= MemoThreshold {
		m.mem = make([]byte, 0, length)
		return m, nil
	}
	path, f, err := fsys.CreateTemp(tmpDir, "vcscore-memo-*")
	if err != nil {
		return nil, fmt.Errorf("iostreams: creating memo spill file: %w", err)
	}
	m.file = f
	m.tmp = path
	return m, nil
}

// fill pulls bytes from the parent until at least upTo bytes have been
// produced (or the parent is exhausted), appending them to the backing
// store.
func (m *Memo) fill(ctx context.Context, upTo int64) error {
	if upTo > m.length {
		upTo = m.length
	}
	var buf []byte
	if m.pool != nil {
		var release func()
		buf, release = m.pool.Scope(32 * 1024)
		defer release()
	} else {
		buf = make([]byte, 32*1024)
	}
	for m.filled < upTo && !m.eof {
		if err := checkCancelled(ctx); err != nil {
			return err
		}
		want := upTo - m.filled
		if int64(len(buf)) > want {
			buf = buf[:want]
		} else {
			buf = buf[:cap(buf)]
		}
		n, err := m.parent.Read(ctx, buf)
		if n > 0 {
			if err2 := m.store(buf[:n]); err2 != nil {
				return err2
			}
			m.filled += int64(n)
		}
		if err == io.EOF {
			m.eof = true
			if m.filled < m.length {
				return fmt.Errorf("iostreams: memo parent ended early at %d of %d bytes: %w", m.filled, m.length, vcserr.ErrInvalidData)
			}
			break
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Memo) store(data []byte) error {
	if m.mem != nil {
		m.mem = append(m.mem, data...)
		return nil
	}
	if _, err := m.file.Seek(m.filled, io.SeekStart); err != nil {
		return err
	}
	_, err := m.file.Write(data)
	return err
}

func (m *Memo) readAt(off int64, p []byte) (int, error) {
	if m.mem != nil {
		if off >= int64(len(m.mem)) {
			return 0, io.EOF
		}
		n := copy(p, m.mem[off:])
		return n, nil
	}
	return m.file.ReadAt(p, off)
}

func (m *Memo) Read(ctx context.Context, p []byte) (int, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	if m.pos >= m.length {
		return 0, io.EOF
	}
	want := m.pos + int64(len(p))
	if want > m.length {
		want = m.length
	}
	if err := m.fill(ctx, want); err != nil {
		return 0, err
	}
	n := int(want - m.pos)
	got, err := m.readAt(m.pos, p[:n])
	m.pos += int64(got)
	if err != nil && err != io.EOF {
		return got, err
	}
	return got, nil
}

// Seek repositions within [0, length]; it never reads ahead on its own —
// the next Read fills whatever region is newly needed.
func (m *Memo) Seek(ctx context.Context, offset int64, whence int) (int64, error) {
	if err := checkCancelled(ctx); err != nil {
		return 0, err
	}
	var newPos int64
	switch whence {
	case io.SeekStart:
		newPos = offset
	case io.SeekCurrent:
		newPos = m.pos + offset
	case io.SeekEnd:
		newPos = m.length + offset
	}
	if newPos < 0 || newPos > m.length {
		return m.pos, fmt.Errorf("iostreams: seek out of range [0,%d]: %w", m.length, vcserr.ErrInvalidData)
	}
	m.pos = newPos
	return m.pos, nil
}

func (m *Memo) Close() error {
	var err error
	if m.file != nil {
		err = m.file.Close()
		if m.fsys != nil && m.tmp != "" {
			os.Remove(m.tmp)
		}
	}
	if pErr := m.parent.Close(); pErr != nil && err == nil {
		err = pErr
	}
	return err
}
