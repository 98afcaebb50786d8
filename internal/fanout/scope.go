// Package fanout implements the bounded, cooperative concurrency scope
// spec.md §4.10/§5 (C10): one method that runs a finite set of async tasks,
// returning once all complete or the first one raises, with "loose"
// re-entrant admission so a task that itself fans out through the same
// scope can never deadlock against an exhausted quota. Grounded on
// golang.org/x/sync/errgroup, the same dependency the teacher's
// internal/pack/hyperpack.go (WriteObjects) already reaches for to bound
// parallel work against a context.
package fanout

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultParallelism is 2×NumCPU, the target parallelism spec.md §4.10
// names for opening/scanning many packs and reading many independent
// objects.
func DefaultParallelism() int {
	if n := 2 * runtime.NumCPU(); n > 0 {
		return n
	}
	return 2
}

// Scope is a bounded parallel executor shared across many concurrent
// callers. Its "seats" (available task slots) are the slots of a buffered
// channel, taken before a task is admitted and given back on completion; a
// high-water "floor" counter is kept purely for diagnostics (spec.md
// §4.10's "State").
type Scope struct {
	sem      chan struct{}
	inFlight atomic.Int64
	floor    atomic.Int64
}

// New builds a Scope with the given seat count. Values below 1 are
// clamped to 1 so the scope always admits at least one task at a time.
func New(parallelism int) *Scope {
	if parallelism < 1 {
		parallelism = 1
	}
	return &Scope{sem: make(chan struct{}, parallelism)}
}

// Capacity returns the scope's configured seat count.
func (s *Scope) Capacity() int { return cap(s.sem) }

// Floor returns the high-water mark of concurrently in-flight tasks this
// scope has ever observed, for diagnostics only.
func (s *Scope) Floor() int64 { return s.floor.Load() }

// Run admits each of tasks for concurrent execution, bounded by the
// scope's seat count, and returns when all have completed or the first
// one returns an error — which cancels the context passed to every other
// task of this call, and so any nested Run made with it (spec.md §4.10: "the first
// raised error cancels siblings and is propagated; unlike strict fan-join,
// per-task failures need not be collected").
//
// Loose admission: the first task in any single Run call is always
// admitted immediately, without waiting for a free seat. This is what
// lets a task already running inside this scope call Run again (for
// example, the delta resolver fanning out over several REF_DELTA bases)
// without deadlocking when every seat happens to be held by outer calls
// — at least one nested task always makes progress. Every other task in
// the batch still waits for a real seat.
func (s *Scope) Run(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	if len(tasks) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, task := range tasks {
		task := task
		loose := i == 0
		var acquired bool
		if !loose {
			select {
			case s.sem <- struct{}{}:
				acquired = true
			case <-gctx.Done():
				if err := g.Wait(); err != nil {
					return err
				}
				return gctx.Err()
			}
		}
		release := s.track()
		g.Go(func() error {
			defer release()
			if acquired {
				defer func() { <-s.sem }()
			}
			return task(gctx)
		})
	}
	return g.Wait()
}

func (s *Scope) track() func() {
	n := s.inFlight.Add(1)
	for {
		cur := s.floor.Load()
		if n <= cur || s.floor.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { s.inFlight.Add(-1) }
}
