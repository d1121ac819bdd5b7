package vos

// object_cache.go implements the object reference cache (C6): a bounded
// cache of open *vostree.ObjectTree instances keyed by (container, object),
// enforcing the at-most-one-open invariant with golang.org/x/sync/singleflight
// to dedup concurrent opens of the same object, and evicting cold entries
// with the refcount-aware CLOCK-Pro in internal/clockpro.

import (
    "encoding/binary"
    "sync"
    "sync/atomic"

    "go.uber.org/zap"
    "golang.org/x/sync/singleflight"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/clockpro"
    "github.com/distvos/vos/internal/pmem"
    "github.com/distvos/vos/internal/unsafehelpers"
    "github.com/distvos/vos/internal/vostree"
)

// cacheKey identifies one object within one container.
type cacheKey struct {
    contHi, contLo uint64
    objHi, objLo   uint64
}

// singleflightKey packs the four fields into 32 raw bytes and views them as
// a string without copying; singleflight.Group.Do only ever reads the key
// for the duration of the call, so the zero-copy view is safe even though
// the backing array is stack-local.
func (k cacheKey) singleflightKey() string {
    var buf [32]byte
    binary.BigEndian.PutUint64(buf[0:], k.contHi)
    binary.BigEndian.PutUint64(buf[8:], k.contLo)
    binary.BigEndian.PutUint64(buf[16:], k.objHi)
    binary.BigEndian.PutUint64(buf[24:], k.objLo)
    return unsafehelpers.BytesToString(buf[:])
}

// objEntry is the cached value: an open object tree plus a live-reference
// count. Entries with a nonzero refcount are never evicted by CLOCK-Pro.
type objEntry struct {
    tree *vostree.ObjectTree
    refs atomic.Int32
}

func (e *objEntry) RefCount() int32 { return e.refs.Load() }

// ObjectCache is the C6 facade: it hands out *vostree.ObjectTree handles,
// guaranteeing that concurrent callers opening the same object race into a
// single construction rather than each building (and leaking) their own.
type ObjectCache struct {
    mu      sync.Mutex
    clock   *clockpro.Clock[cacheKey, *objEntry]
    group   singleflight.Group
    metrics cacheMetrics
    arena   *pmem.Arena
    log     *zap.Logger

    // fetchObjIndexTree and persistObjIndexRoot let a closed object unwire
    // its own entry from its container's object-index tree without the
    // cache needing to know anything about containers itself; Engine
    // supplies both at construction, closing over its contTree.
    fetchObjIndexTree   func(contKey [16]byte) (*btree.Tree, error)
    persistObjIndexRoot func(contKey [16]byte, root pmem.Handle) error
}

// NewObjectCache constructs a cache bounded at capacity simultaneously open
// objects. fetchObjIndexTree/persistObjIndexRoot are used to finish a
// deferred zombie destroy when an entry is evicted or released to zero
// references (see ObjectTree.Close).
func NewObjectCache(
    arena *pmem.Arena,
    capacity int64,
    metrics cacheMetrics,
    log *zap.Logger,
    fetchObjIndexTree func(contKey [16]byte) (*btree.Tree, error),
    persistObjIndexRoot func(contKey [16]byte, root pmem.Handle) error,
) *ObjectCache {
    c := &ObjectCache{
        arena:               arena,
        metrics:             metrics,
        log:                 log,
        fetchObjIndexTree:   fetchObjIndexTree,
        persistObjIndexRoot: persistObjIndexRoot,
    }
    c.clock = clockpro.New[cacheKey, *objEntry](capacity, func(key cacheKey, e *objEntry) {
        if err := e.tree.Close(); err != nil {
            c.log.Error("vos: object close failed on eviction", zap.Error(err))
        }
        c.metrics.incEvict()
    })
    return c
}

// Acquire returns the open object tree for (contKey, objKey), opening it via
// objRec (the object's cell in the parent object-index tree) on first
// access. The caller must call Release exactly once when done.
func (c *ObjectCache) Acquire(contKey, objKey [16]byte, objRec pmem.Handle) (*vostree.ObjectTree, error) {
    key := toCacheKey(contKey, objKey)

    c.mu.Lock()
    if e, ok := c.clock.Get(key); ok {
        e.refs.Add(1)
        c.metrics.incHit()
        c.mu.Unlock()
        return e.tree, nil
    }
    c.mu.Unlock()
    c.metrics.incMiss()

    v, err, _ := c.group.Do(key.singleflightKey(), func() (any, error) {
        c.mu.Lock()
        if e, ok := c.clock.Get(key); ok {
            e.refs.Add(1)
            c.mu.Unlock()
            return e, nil
        }
        c.mu.Unlock()

        unwire := func(key []byte) error {
            tree, err := c.fetchObjIndexTree(contKey)
            if err != nil {
                return err
            }
            if err := tree.Delete(key); err != nil {
                return err
            }
            return c.persistObjIndexRoot(contKey, tree.Root())
        }
        tree, err := vostree.OpenObjectTree(c.arena, objKey[:], objRec, unwire)
        if err != nil {
            return nil, err
        }
        e := &objEntry{tree: tree}
        e.refs.Store(1)

        c.mu.Lock()
        c.clock.Insert(key, e, 1)
        c.metrics.setOpen(c.clock.Len())
        c.mu.Unlock()
        return e, nil
    })
    if err != nil {
        return nil, err
    }
    return v.(*objEntry).tree, nil
}

// Release drops one live reference to (contKey, objKey). Once every
// reference is released the entry becomes eligible for CLOCK-Pro eviction.
// Dropping the last reference also runs Close immediately: nothing else in
// the cache ever revisits an unreferenced-but-not-yet-evicted entry, so a
// zombie object's deferred destroy must be attempted here rather than
// waiting on CLOCK-Pro to eventually pick it for eviction. Close is a no-op
// for a non-zombie object, so this costs one extra record read per
// last-release in the common case.
func (c *ObjectCache) Release(contKey, objKey [16]byte) {
    key := toCacheKey(contKey, objKey)
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.clock.Get(key)
    if !ok {
        return
    }
    if e.refs.Add(-1) == 0 {
        if err := e.tree.Close(); err != nil {
            c.log.Error("vos: object close failed on release", zap.Error(err))
        }
    }
}

// IsOpen reports whether (contKey, objKey) currently has a live reference,
// used to decide between destroying an object immediately and marking it a
// zombie for later cleanup.
func (c *ObjectCache) IsOpen(contKey, objKey [16]byte) bool {
    key := toCacheKey(contKey, objKey)
    c.mu.Lock()
    defer c.mu.Unlock()
    e, ok := c.clock.Get(key)
    if !ok {
        return false
    }
    return e.RefCount() > 0
}

// Evict unconditionally removes (contKey, objKey) from the cache, used when
// the object is actually destroyed rather than merely cooling off.
func (c *ObjectCache) Evict(contKey, objKey [16]byte) {
    key := toCacheKey(contKey, objKey)
    c.mu.Lock()
    defer c.mu.Unlock()
    c.clock.Remove(key)
}

func toCacheKey(contKey, objKey [16]byte) cacheKey {
    return cacheKey{
        contHi: beUint64(contKey[0:8]),
        contLo: beUint64(contKey[8:16]),
        objHi:  beUint64(objKey[0:8]),
        objLo:  beUint64(objKey[8:16]),
    }
}

func beUint64(b []byte) uint64 {
    var v uint64
    for _, x := range b {
        v = v<<8 | uint64(x)
    }
    return v
}
