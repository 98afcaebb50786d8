// Package vcscore is the public object-access core (spec.md §1–§9): given a
// 20-byte object identifier it produces the fully reconstructed object's
// type, uncompressed length, and a lazy byte stream, whether the object is
// packed (plain or deltified, across any number of pack files) or loose.
// Accessor is the façade (C9, §4.9/§6.5) orchestrating the pack index
// reader, pack entry reader, delta resolver, loose reader, and handle
// cache underneath it.
package vcscore

import (
	"context"
	"fmt"
	"sort"

	"github.com/fenilsonani/vcscore/internal/bufpool"
	"github.com/fenilsonani/vcscore/internal/core/objects"
	"github.com/fenilsonani/vcscore/internal/delta"
	"github.com/fenilsonani/vcscore/internal/fanout"
	"github.com/fenilsonani/vcscore/internal/fsutil"
	"github.com/fenilsonani/vcscore/internal/handlecache"
	"github.com/fenilsonani/vcscore/internal/iostreams"
	"github.com/fenilsonani/vcscore/internal/oid"
	"github.com/fenilsonani/vcscore/internal/packfile"
	"github.com/fenilsonani/vcscore/internal/packidx"
	"github.com/fenilsonani/vcscore/internal/vcserr"
)

// config holds the Accessor constructor's tunables. There is no config
// loader here (spec.md §1 excludes one; SPEC_FULL's AMBIENT STACK notes
// the teacher takes these as explicit constructor parameters, not a
// config struct) — Option only adjusts fields of this unexported value.
type config struct {
	scope               *fanout.Scope
	parallelism         int
	handleCacheCapacity int
	maxChainDepth       int
	tmpDir              string
}

func defaultConfig() config {
	p := fanout.DefaultParallelism()
	return config{
		parallelism:         p,
		handleCacheCapacity: p,
		maxChainDepth:       delta.DefaultMaxChainDepth,
	}
}

// Option configures an Accessor at construction time.
type Option func(*config)

// WithScope supplies the C10 concurrency scope spec.md §6.5's
// open_accessor(admin_dir, fs, scope) takes explicitly, for callers that
// want to share one bounded scope across several Accessors. If omitted, a
// private scope of DefaultParallelism seats is created.
func WithScope(s *fanout.Scope) Option { return func(c *config) { c.scope = s } }

// WithParallelism overrides the seat count of a scope created by Open
// (ignored if WithScope was also given).
func WithParallelism(n int) Option { return func(c *config) { c.parallelism = n } }

// WithHandleCacheCapacity overrides the bounded LRU handle cache's
// capacity (spec.md §4.4's "at most 2×CPU_count").
func WithHandleCacheCapacity(n int) Option { return func(c *config) { c.handleCacheCapacity = n } }

// WithMaxChainDepth overrides the delta resolver's chain-depth limit
// (spec.md §4.7, default 1024).
func WithMaxChainDepth(n int) Option { return func(c *config) { c.maxChainDepth = n } }

// WithTempDir overrides where the memoization primitive spills
// large bases to disk (spec.md §4.3's "temp-file for large").
func WithTempDir(dir string) Option { return func(c *config) { c.tmpDir = dir } }

// Accessor is the public object-access façade (C9). It enumerates every
// objects/pack/*.idx under the admin directory at construction and holds
// them open for its lifetime (spec.md §6.5); Open is safe to call from
// many goroutines concurrently (spec.md §4.9's concurrency note).
type Accessor struct {
	fsys     fsutil.FS
	scope    *fanout.Scope
	handles  *handlecache.Cache
	entries  *packfile.Reader
	resolver *delta.Resolver
	loose    *objects.LooseReader
	indexes  []*packidx.Index
	closed   bool
}

// Open enumerates objects/pack/*.idx beneath adminDir, loads every pack
// index (in parallel via the concurrency scope, spec.md §4.10's "opening
// ... many packs"), and returns an Accessor ready to serve Open lookups.
func Open(ctx context.Context, adminDir string, fsys fsutil.FS, opts ...Option) (*Accessor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	scope := cfg.scope
	if scope == nil {
		scope = fanout.New(cfg.parallelism)
	}

	handles, err := handlecache.New(fsys, cfg.handleCacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("vcscore: creating handle cache: %w", err)
	}

	pattern := fsys.Combine(adminDir, "objects", "pack", "*.idx")
	paths, err := fsys.List(pattern)
	if err != nil {
		handles.Close()
		return nil, fmt.Errorf("vcscore: listing pack indexes under %s: %w", adminDir, err)
	}
	sort.Strings(paths) // spec.md §4.9: "any stable order"

	indexes := make([]*packidx.Index, len(paths))
	tasks := make([]func(context.Context) error, len(paths))
	for i, p := range paths {
		i, p := i, p
		tasks[i] = func(ctx context.Context) error {
			idx, err := packidx.Load(fsys, p)
			if err != nil {
				return err
			}
			indexes[i] = idx
			return nil
		}
	}
	if err := scope.Run(ctx, tasks...); err != nil {
		handles.Close()
		return nil, fmt.Errorf("vcscore: loading pack indexes: %w", err)
	}

	a := &Accessor{
		fsys:    fsys,
		scope:   scope,
		handles: handles,
		entries: packfile.NewReader(handles),
		loose:   objects.NewLooseReader(fsys, adminDir),
		indexes: indexes,
	}
	a.resolver = delta.NewResolver(a.entries, a, fsys, cfg.tmpDir, cfg.maxChainDepth, bufpool.New())
	return a, nil
}

// Scope returns the concurrency scope this Accessor reads through,
// letting a caller fan out many independent Open calls (spec.md §4.10's
// "reading many independent objects") through the same bounded quota.
func (a *Accessor) Scope() *fanout.Scope { return a.scope }

// Open resolves id to its fully reconstructed object, consulting every
// loaded pack index first (stopping at the first hit) and falling back to
// the loose object store (spec.md §4.9's algorithm). A false found result
// with a nil error means id is absent from both; this is a plain miss,
// not an error (spec.md §7: "not-found is not an error").
//
// Open also implements internal/delta.BaseLookup, so the resolver can
// call back into this same façade for REF_DELTA bases that live in a
// different pack or loose (spec.md scenario 4, "REF_DELTA across packs").
func (a *Accessor) Open(ctx context.Context, id oid.Oid) (objects.ObjectType, int64, iostreams.Stream, bool, error) {
	if a.closed {
		return "", 0, nil, false, fmt.Errorf("vcscore: accessor closed: %w", vcserr.ErrInvalidState)
	}
	if err := ctx.Err(); err != nil {
		return "", 0, nil, false, fmt.Errorf("vcscore: %w", vcserr.ErrCancelled)
	}

	for _, idx := range a.indexes {
		offset, ok := idx.Lookup(id)
		if !ok {
			continue
		}
		typ, size, stream, err := a.resolver.Resolve(ctx, idx.PackPath(), offset)
		if err != nil {
			return "", 0, nil, false, fmt.Errorf("vcscore: resolving %s: %w", id.Short(), err)
		}
		return typ, size, stream, true, nil
	}

	typ, size, stream, found, err := a.loose.Open(ctx, id)
	if err != nil {
		return "", 0, nil, false, err
	}
	return typ, size, stream, found, nil
}

// PackCount reports how many pack indexes this Accessor loaded.
func (a *Accessor) PackCount() int { return len(a.indexes) }

// Close releases the handle cache's OS resources. Open may not be called
// afterward.
func (a *Accessor) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.handles.Close()
	return nil
}
