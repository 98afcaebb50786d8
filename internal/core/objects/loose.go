package objects

import (
	"context"
	"fmt"
	"io"

	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/oid"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// LooseReader reads loose objects (objects/<aa>/<bb...> under the admin
// directory) directly off disk. It never writes, and it holds no cache:
// every Open is a fresh file open, matching the reference lifecycle where
// loose reads are a per-lookup fallback behind the pack indexes.
type LooseReader struct {
	fsys     fsutil.FS
	adminDir string
}

// NewLooseReader returns a reader rooted at adminDir (the ".git"-equivalent
// admin directory); loose object paths are derived as
// objects/<oid[0:2]>/<oid[2:40]> beneath it.
func NewLooseReader(fsys fsutil.FS, adminDir string) *LooseReader {
	return &LooseReader{fsys: fsys, adminDir: adminDir}
}

func (l *LooseReader) path(id oid.Oid) string {
	hex := id.String()
	return l.fsys.Combine(l.adminDir, "objects", hex[:2], hex[2:])
}

// Has reports whether a loose object file exists for id.
func (l *LooseReader) Has(id oid.Oid) bool {
	return l.fsys.IsFile(l.path(id))
}

// fileStream adapts a plain fsutil.File (no seek, no shared positioning —
// loose reads never need either) into iostreams.Stream.
type fileStream struct {
	f fsutil.File
}

func (s fileStream) Read(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, vcserr.ErrCancelled
	}
	return s.f.Read(p)
}

func (s fileStream) Close() error { return s.f.Close() }

// Open looks up id as a loose object. The bool result reports whether the
// object exists; a false result with a nil error is a plain miss, not a
// failure (spec.md's not-found convention — see internal/vcserr).
func (l *LooseReader) Open(ctx context.Context, id oid.Oid) (ObjectType, int64, iostreams.Stream, bool, error) {
	path := l.path(id)
	if !l.fsys.IsFile(path) {
		return "", 0, nil, false, nil
	}

	f, err := fsutil.OpenRetrying(l.fsys, path, false)
	if err != nil {
		return "", 0, nil, false, fmt.Errorf("objects: opening loose object %s: %w", id.Short(), err)
	}

	inflated := iostreams.NewDeflate(fileStream{f: f})

	typ, size, err := readLooseHeader(ctx, inflated)
	if err != nil {
		inflated.Close()
		return "", 0, nil, false, err
	}
	return typ, size, inflated, true, nil
}

// readLooseHeader consumes the "<type> <decimal-size>\0" ASCII header from
// an inflated loose object stream, byte by byte, leaving inflated positioned
// at the start of the payload so the caller can hand it back as-is rather
// than buffering the whole object just to re-wrap it.
func readLooseHeader(ctx context.Context, s iostreams.Stream) (ObjectType, int64, error) {
	var header []byte
	buf := make([]byte, 1)
	for {
		n, err := s.Read(ctx, buf)
		if n == 1 {
			if buf[0] == 0 {
				break
			}
			header = append(header, buf[0])
			if len(header) > 64 {
				return "", 0, fmt.Errorf("objects: loose object header too long: %w", vcserr.ErrInvalidData)
			}
			continue
		}
		if err == io.EOF {
			return "", 0, fmt.Errorf("objects: loose object truncated before header terminator: %w", vcserr.ErrInvalidData)
		}
		if err != nil {
			return "", 0, fmt.Errorf("objects: reading loose object header: %w", err)
		}
	}

	var typeName string
	var size int64
	if _, err := fmt.Sscanf(string(header), "%s %d", &typeName, &size); err != nil {
		return "", 0, fmt.Errorf("objects: malformed loose object header %q: %w", header, vcserr.ErrInvalidData)
	}
	typ := ObjectType(typeName)
	if !typ.IsValid() {
		return "", 0, fmt.Errorf("objects: unknown loose object type %q: %w", typeName, vcserr.ErrInvalidData)
	}
	return typ, size, nil
}
