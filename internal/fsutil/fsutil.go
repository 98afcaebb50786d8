// Package fsutil is the minimal filesystem capability set the rest of the
// object-access core calls into (spec.md §4.2, C2): path combine,
// directory-of, existence, listing, and open-for-read, kept narrow enough
// that tests can substitute an in-memory or fault-injecting implementation
// instead of touching real disk — the same one-capability-per-interface
// idiom hanwen-go-fuse/fs/api.go uses for its Node* interfaces.
package fsutil

import (
	"io"
	"os"
	"path/filepath"
)

// File is a read-only handle returned by FS.Open. Seekable files additionally
// implement io.Seeker; not every stream the core deals with needs to.
type File interface {
	io.Reader
	io.Closer
}

// SeekableFile is a File that also supports random access, required for
// pack files (the handle cache, C4, only ever hands out seekable files).
type SeekableFile interface {
	File
	io.Seeker
	io.ReaderAt
}

// TempFile is a SeekableFile that is also writable, the shape CreateTemp
// returns for the memoization primitive's spill-to-disk backing store.
type TempFile interface {
	SeekableFile
	io.Writer
}

// FS is the capability surface spec.md §6.6 names: combine, directory_of,
// is_file, open(path, seekable), list(pattern), create_temp.
type FS interface {
	// Combine joins path elements the way filepath.Join does, but routed
	// through the abstraction so callers never import path/filepath
	// directly outside this package.
	Combine(elem ...string) string

	// DirectoryOf returns the parent directory of path.
	DirectoryOf(path string) string

	// IsFile reports whether path exists and is a regular file.
	IsFile(path string) bool

	// IsDir reports whether path exists and is a directory.
	IsDir(path string) bool

	// List returns the paths matching a glob pattern, as filepath.Glob does.
	List(pattern string) ([]string, error)

	// Open opens path for reading. If seekable is true the returned File
	// is guaranteed to implement SeekableFile.
	Open(path string, seekable bool) (File, error)

	// CreateTemp creates a new temporary file and returns its path and an
	// open handle to it, for the memoization primitive's spill-to-disk path.
	CreateTemp(dir, pattern string) (path string, f TempFile, err error)
}

// OS is the real, disk-backed FS implementation.
type OS struct{}

// NewOS returns the OS-backed FS.
func NewOS() OS { return OS{} }

func (OS) Combine(elem ...string) string { return filepath.Join(elem...) }

func (OS) DirectoryOf(path string) string { return filepath.Dir(path) }

func (OS) IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func (OS) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func (OS) List(pattern string) ([]string, error) {
	return filepath.Glob(pattern)
}

func (OS) Open(path string, seekable bool) (File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	// *os.File already implements SeekableFile; seekable is part of the
	// interface contract callers rely on, not an extra wrapping step here.
	return f, nil
}

func (OS) CreateTemp(dir, pattern string) (string, TempFile, error) {
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return "", nil, err
	}
	return f.Name(), f, nil
}

// ToSlash converts a platform path to POSIX-slash form, needed when pack
// index paths or loose-object paths are built from OID hex digits on
// non-POSIX platforms.
func ToSlash(path string) string { return filepath.ToSlash(path) }
