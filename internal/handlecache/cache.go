// Package handlecache implements the bounded LRU of open read-only pack
// file handles spec.md §4.4 (C4) describes, keyed by absolute path, so that
// many independent lookups into the same few hot pack files don't each pay
// the cost of a fresh os.Open.
package handlecache

import (
	"fmt"
	"io"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// DefaultCapacityMultiplier is the factor applied to NumCPU for the default
// capacity (2×NumCPU, spec.md §4.4); callers pass the capacity explicitly
// via New rather than this package reading runtime.NumCPU() itself, so
// tests can pin a small capacity.
const DefaultCapacityMultiplier = 2

type entry struct {
	path       string
	file       fsutil.SeekableFile
	checkedOut bool
	evicted    bool // true if removed from the LRU while still checked out
}

// Cache is a bounded, path-keyed LRU of open SeekableFile handles.
//
// Pseudo-close semantics (spec.md §9): Handle.Close, below, only returns
// the handle to this cache — it does not close the OS file. Only an
// actual LRU eviction (this cache reaching capacity) closes the
// underlying handle for real.
type Cache struct {
	mu   sync.Mutex
	fsys fsutil.FS
	lru  *lru.Cache[string, *entry]
}

// New creates a Cache backed by fsys with the given capacity (total
// OS-open handles bound, spec.md's testable "Handle cache bound").
func New(fsys fsutil.FS, capacity int) (*Cache, error) {
	if capacity < 1 {
		capacity = 1
	}
	c := &Cache{fsys: fsys}
	onEvict := func(_ string, e *entry) {
		// Fires for automatic capacity eviction and for Purge, always from
		// inside a c.lru call made with c.mu already held, so it must not
		// lock c.mu again. If the entry is mid-borrow, defer the real close
		// to release instead of closing a handle a caller is still reading
		// from.
		e.evicted = true
		if !e.checkedOut {
			e.file.Close()
		}
	}
	l, err := lru.NewWithEvict[string, *entry](capacity, onEvict)
	if err != nil {
		return nil, fmt.Errorf("handlecache: creating LRU: %w", err)
	}
	c.lru = l
	return c, nil
}

// Handle is a borrowed, seekable pack-file handle. Closing it releases it
// back to the cache; it does not close the OS file (spec.md §9). guard makes
// a double Close idempotent rather than releasing the entry back to the
// cache twice, the "explicit drop guard... not finalizers" discipline
// spec.md §9's pseudo-close note asks for.
type Handle struct {
	cache *Cache
	entry *entry
	guard *vcserr.DropGuard
}

// Read implements io.Reader by delegating to the underlying file.
func (h *Handle) Read(p []byte) (int, error) { return h.entry.file.Read(p) }

// Seek implements io.Seeker by delegating to the underlying file.
func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	return h.entry.file.Seek(offset, whence)
}

// ReadAt implements io.ReaderAt by delegating to the underlying file.
func (h *Handle) ReadAt(p []byte, off int64) (int, error) {
	return h.entry.file.ReadAt(p, off)
}

// File returns the underlying seekable file, for constructing a
// SharedGroup (internal/iostreams) over it.
func (h *Handle) File() fsutil.SeekableFile { return h.entry.file }

// Close releases the handle back to its cache (pseudo-close, spec.md §9).
// Calling it more than once only releases the entry the first time.
func (h *Handle) Close() error {
	h.guard.Close()
	return nil
}

// Acquire returns a handle on path: a cached free handle if one exists,
// otherwise a freshly opened one. Capacity eviction, if needed, happens as
// a side effect of adding the new handle to the LRU.
func (c *Cache) Acquire(path string) (*Handle, error) {
	c.mu.Lock()
	if e, ok := c.lru.Get(path); ok && !e.checkedOut {
		e.checkedOut = true
		c.mu.Unlock()
		return c.newHandle(e), nil
	}
	c.mu.Unlock()

	f, err := fsutil.OpenRetrying(c.fsys, path, true)
	if err != nil {
		return nil, fmt.Errorf("handlecache: opening %s: %w", path, err)
	}
	sf, ok := f.(fsutil.SeekableFile)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("handlecache: %s did not open seekable", path)
	}
	e := &entry{path: path, file: sf, checkedOut: true}

	c.mu.Lock()
	c.lru.Add(path, e)
	c.mu.Unlock()

	return c.newHandle(e), nil
}

// newHandle wraps e in a Handle whose Close is guarded against being run
// more than once for the same borrow.
func (c *Cache) newHandle(e *entry) *Handle {
	h := &Handle{cache: c, entry: e}
	h.guard = vcserr.NewDropGuard(func() { c.release(h.entry) })
	return h
}

// release returns e to the free list, or truly closes it if it was evicted
// from the cache while checked out.
func (c *Cache) release(e *entry) {
	c.mu.Lock()
	e.checkedOut = false
	wasEvicted := e.evicted
	if cur, ok := c.lru.Peek(e.path); !wasEvicted && ok && cur != e {
		// A concurrent borrow of the same path replaced e in the LRU;
		// e is no longer tracked, so close it rather than leak it.
		wasEvicted = true
	}
	if !wasEvicted {
		if _, err := e.file.Seek(0, io.SeekStart); err == nil {
			c.lru.Add(e.path, e) // bump recency; may itself trigger an eviction
		}
	}
	c.mu.Unlock()
	if wasEvicted {
		e.file.Close()
	}
}

// Len reports the number of paths currently tracked by the cache, each
// with one handle, free or checked out. While a path is borrowed more than
// once at a time, only its most recently opened handle is tracked.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close evicts and closes every handle the cache currently holds. Handles
// still checked out at the time of Close are closed once released.
func (c *Cache) Close() {
	c.mu.Lock()
	c.lru.Purge()
	c.mu.Unlock()
}
