package vcserr

import "sync"

// AsyncLock is a mutex used by the wrapped-shared stream primitive (internal/iostreams) to serialize
// seek+read tuples on one underlying file handle. It does not itself check
// cancellation; callers check ctx.Err() around Lock/Unlock at their own
// suspension points, per spec.md §5 ("Suspension points").
type AsyncLock struct {
	mu sync.Mutex
}

// Lock acquires the lock unconditionally. It exists as a named type rather
// than a bare sync.Mutex so call sites read as "the shared-parent lock",
// matching the handle cache's single-mutex-per-resource discipline.
func (l *AsyncLock) Lock() { l.mu.Lock() }

// Unlock releases the lock.
func (l *AsyncLock) Unlock() { l.mu.Unlock() }

// DropGuard runs release exactly once, even if Close is called more than
// once. It replaces the finalizer the teacher's pseudo-close note (spec.md
// §9) warns against relying on for correctness: the safety net here is a
// cheap idempotence guard, not a GC-triggered one.
type DropGuard struct {
	once    sync.Once
	release func()
}

// NewDropGuard wraps release so it only ever runs once.
func NewDropGuard(release func()) *DropGuard {
	return &DropGuard{release: release}
}

// Close runs the wrapped release function exactly once.
func (d *DropGuard) Close() {
	d.once.Do(func() {
		if d.release != nil {
			d.release()
		}
	})
}
