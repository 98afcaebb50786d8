package delta

import (
	"context"
	"fmt"
	"io"

	"github.com/fenilsonani/vcscore/internal/bufpool"
	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/oid"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

func readByte(ctx context.Context, s iostreams.Stream) (byte, error) {
	var buf [1]byte
	if _, err := iostreams.ReadFull(ctx, s, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// decode reads the two leading size varints off deltaPayload and returns
// the result length plus a lazily-decoding Stream over the reconstructed
// bytes. base must support random access (spec.md §4.7: "the base stream
// itself must be random-access (memoized); otherwise the first backward
// copy would require re-inflating it").
func decode(ctx context.Context, deltaPayload iostreams.Stream, base iostreams.Seekable, baseSize int64, pool *bufpool.Pool) (int64, iostreams.Stream, error) {
	next := func() (byte, error) { return readByte(ctx, deltaPayload) }

	gotBaseSize, _, err := oid.ReadSizeVarint(next)
	if err != nil {
		return 0, nil, fmt.Errorf("delta: reading base_size varint: %w", err)
	}
	if int64(gotBaseSize) != baseSize {
		return 0, nil, fmt.Errorf("delta: base_size %d does not match base object size %d: %w", gotBaseSize, baseSize, vcserr.ErrInvalidData)
	}

	resultSize, _, err := oid.ReadSizeVarint(next)
	if err != nil {
		return 0, nil, fmt.Errorf("delta: reading result_size varint: %w", err)
	}

	return int64(resultSize), &stream{delta: deltaPayload, base: base, resultSize: int64(resultSize), pool: pool}, nil
}

// stream lazily interprets copy/insert opcodes, producing output bytes on
// demand so that deep delta chains stay bounded in memory (spec.md §4.7's
// "pull stream" requirement).
type stream struct {
	delta      iostreams.Stream
	base       iostreams.Seekable
	resultSize int64
	produced   int64
	pool       *bufpool.Pool

	pending         []byte
	trailingChecked bool
}

func (s *stream) Read(ctx context.Context, p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(s.pending) == 0 {
		if s.produced >= s.resultSize {
			if err := s.checkNoTrailingData(ctx); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		if err := s.step(ctx); err != nil {
			return 0, err
		}
	}
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *stream) checkNoTrailingData(ctx context.Context) error {
	if s.trailingChecked {
		return nil
	}
	s.trailingChecked = true
	if _, err := readByte(ctx, s.delta); err == nil {
		return fmt.Errorf("delta: trailing data after result_size bytes: %w", vcserr.ErrInvalidData)
	} else if err != io.EOF {
		return err
	}
	return nil
}

// step decodes exactly one opcode, appending its produced bytes to pending.
func (s *stream) step(ctx context.Context) error {
	opcode, err := readByte(ctx, s.delta)
	if err != nil {
		return fmt.Errorf("delta: reading opcode: %w", err)
	}

	switch {
	case opcode&0x80 != 0:
		return s.stepCopy(ctx, opcode)
	case opcode != 0:
		return s.stepInsert(ctx, opcode)
	default:
		return fmt.Errorf("delta: reserved opcode 0x00: %w", vcserr.ErrInvalidData)
	}
}

func (s *stream) stepCopy(ctx context.Context, opcode byte) error {
	var offset, size uint32
	for i := uint(0); i < 4; i++ {
		if opcode&(1<<i) != 0 {
			b, err := readByte(ctx, s.delta)
			if err != nil {
				return fmt.Errorf("delta: reading copy offset byte: %w", err)
			}
			offset |= uint32(b) << (8 * i)
		}
	}
	for i := uint(0); i < 3; i++ {
		if opcode&(1<<(4+i)) != 0 {
			b, err := readByte(ctx, s.delta)
			if err != nil {
				return fmt.Errorf("delta: reading copy size byte: %w", err)
			}
			size |= uint32(b) << (8 * i)
		}
	}
	if size == 0 {
		size = 0x10000
	}

	remaining := s.resultSize - s.produced
	if int64(size) > remaining {
		return fmt.Errorf("delta: copy of %d bytes exceeds remaining result_size %d: %w", size, remaining, vcserr.ErrInvalidData)
	}

	if _, err := s.base.Seek(ctx, int64(offset), io.SeekStart); err != nil {
		return fmt.Errorf("delta: seeking base to %d: %w", offset, err)
	}
	buf, release := s.scratch(int(size))
	defer release()
	if _, err := iostreams.ReadFull(ctx, s.base, buf); err != nil {
		return fmt.Errorf("delta: copying %d bytes from base at %d: %w", size, offset, err)
	}
	s.pending = append(s.pending, buf...)
	s.produced += int64(size)
	return nil
}

// scratch borrows a temporary buffer of exactly n bytes from the shared
// pool (C11, spec.md §4.11), falling back to a direct allocation when no
// pool was supplied (e.g. in unit tests that exercise decode in isolation).
func (s *stream) scratch(n int) ([]byte, func()) {
	if s.pool == nil {
		return make([]byte, n), func() {}
	}
	return s.pool.Scope(n)
}

func (s *stream) stepInsert(ctx context.Context, opcode byte) error {
	count := int(opcode & 0x7f)
	remaining := s.resultSize - s.produced
	if int64(count) > remaining {
		return fmt.Errorf("delta: insert of %d bytes exceeds remaining result_size %d: %w", count, remaining, vcserr.ErrInvalidData)
	}
	buf, release := s.scratch(count)
	defer release()
	if _, err := iostreams.ReadFull(ctx, s.delta, buf); err != nil {
		return fmt.Errorf("delta: reading %d insert bytes: %w", count, err)
	}
	s.pending = append(s.pending, buf...)
	s.produced += int64(count)
	return nil
}

func (s *stream) Close() error { return nil }
