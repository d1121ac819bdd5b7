// Package vos is the public surface of the local storage engine: pool
// superblock, container registry, and the object read/write/iterate/destroy
// operations built on the internal allocator (C1), B-tree (C2), tree classes
// (C3/C4), object tree composer (C5), object reference cache (C6) and
// checksum service (C7).
package vos

import (
    "encoding/binary"
    "sync"

    "go.uber.org/zap"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/checksum"
    "github.com/distvos/vos/internal/pmem"
    "github.com/distvos/vos/internal/vostree"
)

// ContainerID and ObjectID are re-exported so callers never need to import
// the internal vostree package directly.
type ContainerID = vostree.ContainerID
type ObjectID = vostree.ObjectID
type IndexKey = vostree.IndexKey

// Engine owns one pool's on-disk state: the container-index tree rooted at
// the reserved superblock cell, the allocator arena beneath it, and the
// object reference cache guarding concurrent access.
//
// All structural mutations (container/object creation and destruction,
// B-tree inserts) are serialised by a single mutex. DAOS parallelises
// across pools and targets; this port keeps one mutex per Engine (one
// pool) and leaves sharding across pools to the caller running multiple
// Engines, which is sufficient for every operation scoped to a single pool.
type Engine struct {
    mu       sync.Mutex
    arena    *pmem.Arena
    contTree *btree.Tree
    objCache *ObjectCache
    checksum *checksum.Service
    log      *zap.Logger
}

// New constructs an Engine over a fresh or pre-existing pool directory.
func New(opts ...Option) (*Engine, error) {
    cfg := defaultConfig()
    for _, opt := range opts {
        opt(cfg)
    }

    arena, err := pmem.NewArena(
        pmem.WithMemClass(cfg.memClass),
        pmem.WithDataDir(cfg.dataDir),
        pmem.WithArenaMetrics(cfg.registry),
        pmem.WithArenaLogger(cfg.logger),
    )
    if err != nil {
        return nil, translateErr(err)
    }

    svc, err := checksum.NewService(cfg.checksumFamily)
    if err != nil {
        arena.Close()
        return nil, translateErr(err)
    }

    var contRoot pmem.Handle
    buf, err := arena.Deref(pmem.SuperblockHandle)
    switch {
    case err == pmem.ErrNotFound:
        if err := arena.Reserve(pmem.SuperblockHandle, make([]byte, 8)); err != nil {
            arena.Close()
            return nil, translateErr(err)
        }
        contRoot = pmem.NullHandle
    case err != nil:
        arena.Close()
        return nil, translateErr(err)
    default:
        contRoot = pmem.Handle(binary.BigEndian.Uint64(buf))
    }

    e := &Engine{
        arena:    arena,
        contTree: btree.OpenInplace(arena, vostree.ContIndexClass{}, contRoot),
        checksum: svc,
        log:      cfg.logger,
    }
    e.objCache = NewObjectCache(arena, cfg.objCacheCap, newCacheMetrics(cfg.registry), cfg.logger,
        e.objIndexTreeFor, e.persistObjIndexRoot)
    return e, nil
}

// objIndexTreeFor opens the current object-index tree for the container
// named by contKey16 (the container's Encode()'d ID). Used by the object
// cache to unwire a closed object's entry against the tree's up-to-date
// root rather than a snapshot taken when the object was first opened.
// Lock-free: callers always reach this from within a locked Engine method.
func (e *Engine) objIndexTreeFor(contKey16 [16]byte) (*btree.Tree, error) {
    cr, err := e.containerRecord(contKey16[:])
    if err != nil {
        return nil, err
    }
    return btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot), nil
}

// persistObjIndexRoot writes root back into the container record for
// contKey16 if it changed. Lock-free: see objIndexTreeFor.
func (e *Engine) persistObjIndexRoot(contKey16 [16]byte, root pmem.Handle) error {
    cr, err := e.containerRecord(contKey16[:])
    if err != nil {
        return err
    }
    if cr.ObjIndexRoot == root {
        return nil
    }
    cr.ObjIndexRoot = root
    return e.persistContainerRecord(contKey16[:], cr)
}

func (e *Engine) persistContRoot() error {
    buf := make([]byte, 8)
    binary.BigEndian.PutUint64(buf, uint64(e.contTree.Root()))
    return e.arena.Store(pmem.SuperblockHandle, buf)
}

// Close flushes the container-index root and releases the allocator.
func (e *Engine) Close() error {
    e.mu.Lock()
    defer e.mu.Unlock()
    if err := e.persistContRoot(); err != nil {
        return translateErr(err)
    }
    return e.arena.Close()
}

// ensureContainer creates the container record on first reference: opening
// a container implicitly creates it, there is no separate create operation.
func (e *Engine) ensureContainer(id ContainerID) error {
    e.mu.Lock()
    defer e.mu.Unlock()
    key := id.Encode()
    if _, err := e.contTree.Lookup(key); err == btree.ErrNotFound {
        if err := e.contTree.Insert(key, make([]byte, 8)); err != nil {
            return translateErr(err)
        }
        if err := e.persistContRoot(); err != nil {
            return translateErr(err)
        }
        return nil
    } else if err != nil {
        return translateErr(err)
    }
    return nil
}

func (e *Engine) containerRecord(key []byte) (vostree.ContainerRecord, error) {
    val, err := e.contTree.Lookup(key)
    if err != nil {
        return vostree.ContainerRecord{}, err
    }
    return vostree.GetContainerRecord(val)
}

func (e *Engine) persistContainerRecord(key []byte, cr vostree.ContainerRecord) error {
    if err := e.contTree.Insert(key, vostree.EncodeContainerRecord(cr)); err != nil {
        return err
    }
    return e.persistContRoot()
}

// contDestroy removes the container and everything beneath it. Fails with
// ErrNoPermission if any object in the container is still held open by a
// live caller.
func (e *Engine) contDestroy(id ContainerID) error {
    e.mu.Lock()
    defer e.mu.Unlock()
    key := id.Encode()
    cr, err := e.containerRecord(key)
    if err != nil {
        return translateErr(err)
    }
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)

    var objects []struct {
        key []byte
        rec vostree.ObjectRecord
    }
    if err := objTree.Iterate(func(k, v []byte) error {
        rec, err := vostree.GetObjectRecord(v)
        if err != nil {
            return err
        }
        objects = append(objects, struct {
            key []byte
            rec vostree.ObjectRecord
        }{append([]byte(nil), k...), rec})
        return nil
    }); err != nil {
        return translateErr(err)
    }

    var contKey16, objKey16 [16]byte
    copy(contKey16[:], key)
    for _, o := range objects {
        copy(objKey16[:], o.key)
        if e.objCache.IsOpen(contKey16, objKey16) {
            return ErrNoPermission
        }
    }

    for _, o := range objects {
        if err := vostree.DestroyKeyTree(e.arena, o.rec.KeyTreeRoot); err != nil {
            return translateErr(err)
        }
        copy(objKey16[:], o.key)
        e.objCache.Evict(contKey16, objKey16)
    }
    if err := objTree.Destroy(); err != nil {
        return translateErr(err)
    }
    if err := e.contTree.Delete(key); err != nil {
        return translateErr(err)
    }
    return translateErr(e.persistContRoot())
}

// objUpdate creates the object on first write and stores value at
// (dkey, index, epoch), checksummed by the configured family.
func (e *Engine) objUpdate(cont ContainerID, obj ObjectID, dkey []byte, idx IndexKey, value []byte) error {
    e.mu.Lock()
    defer e.mu.Unlock()

    contKey := cont.Encode()
    cr, err := e.containerRecord(contKey)
    if err != nil {
        return translateErr(err)
    }
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objKey := obj.Encode()

    if _, err := objTree.Lookup(objKey); err == btree.ErrNotFound {
        if err := objTree.Insert(objKey, nil); err != nil {
            return translateErr(err)
        }
    } else if err != nil {
        return translateErr(err)
    }
    if objTree.Root() != cr.ObjIndexRoot {
        cr.ObjIndexRoot = objTree.Root()
        if err := e.persistContainerRecord(contKey, cr); err != nil {
            return translateErr(err)
        }
    }

    objRec, err := objTree.LookupHandle(objKey)
    if err != nil {
        return translateErr(err)
    }

    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)
    tree, err := e.objCache.Acquire(contKey16, objKey16, objRec)
    if err != nil {
        return translateErr(err)
    }
    defer e.objCache.Release(contKey16, objKey16)

    digest := e.checksum.Compute(value)
    payload := checksum.EncodePayload(value, digest)
    if err := tree.Update(dkey, idx, payload); err != nil {
        return translateErr(err)
    }
    return nil
}

// objFetch returns the value stored at (dkey, index, epoch), verifying its
// checksum. ErrIOError wraps a checksum mismatch (corruption), distinct from
// ErrNotFound for an absent key.
func (e *Engine) objFetch(cont ContainerID, obj ObjectID, dkey []byte, idx IndexKey) ([]byte, error) {
    e.mu.Lock()
    defer e.mu.Unlock()

    contKey := cont.Encode()
    cr, err := e.containerRecord(contKey)
    if err != nil {
        return nil, translateErr(err)
    }
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objKey := obj.Encode()
    if _, err := objTree.Lookup(objKey); err != nil {
        return nil, translateErr(err)
    }
    objRec, err := objTree.LookupHandle(objKey)
    if err != nil {
        return nil, translateErr(err)
    }

    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)
    tree, err := e.objCache.Acquire(contKey16, objKey16, objRec)
    if err != nil {
        return nil, translateErr(err)
    }
    defer e.objCache.Release(contKey16, objKey16)

    payload, err := tree.Fetch(dkey, idx)
    if err != nil {
        return nil, translateErr(err)
    }
    value, digest, err := checksum.DecodePayload(payload)
    if err != nil {
        return nil, translateErr(err)
    }
    if !e.checksum.Verify(value, digest) {
        e.log.Error("vos: checksum mismatch on fetch")
        return nil, translateErr(checksum.ErrMismatch)
    }
    return value, nil
}

// objIterateDkeys visits every dkey present under obj.
func (e *Engine) objIterateDkeys(cont ContainerID, obj ObjectID, fn func(dkey []byte) error) error {
    e.mu.Lock()
    defer e.mu.Unlock()

    contKey := cont.Encode()
    cr, err := e.containerRecord(contKey)
    if err != nil {
        return translateErr(err)
    }
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objKey := obj.Encode()
    if _, err := objTree.Lookup(objKey); err != nil {
        return translateErr(err)
    }
    objRec, err := objTree.LookupHandle(objKey)
    if err != nil {
        return translateErr(err)
    }

    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)
    tree, err := e.objCache.Acquire(contKey16, objKey16, objRec)
    if err != nil {
        return translateErr(err)
    }
    defer e.objCache.Release(contKey16, objKey16)
    return translateErr(tree.IterateDkeys(fn))
}

// objIterateIndex visits every (index, epoch) -> value pair under dkey.
func (e *Engine) objIterateIndex(cont ContainerID, obj ObjectID, dkey []byte, fn func(idx IndexKey, value []byte) error) error {
    e.mu.Lock()
    defer e.mu.Unlock()

    contKey := cont.Encode()
    cr, err := e.containerRecord(contKey)
    if err != nil {
        return translateErr(err)
    }
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objKey := obj.Encode()
    if _, err := objTree.Lookup(objKey); err != nil {
        return translateErr(err)
    }
    objRec, err := objTree.LookupHandle(objKey)
    if err != nil {
        return translateErr(err)
    }

    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)
    tree, err := e.objCache.Acquire(contKey16, objKey16, objRec)
    if err != nil {
        return translateErr(err)
    }
    defer e.objCache.Release(contKey16, objKey16)

    return translateErr(tree.IterateIndex(dkey, func(ik vostree.IndexKey, payload []byte) error {
        value, digest, err := checksum.DecodePayload(payload)
        if err != nil {
            return err
        }
        if !e.checksum.Verify(value, digest) {
            return checksum.ErrMismatch
        }
        return fn(ik, value)
    }))
}

// objDestroy removes obj from cont. If the object is currently open in the
// reference cache it is flagged a zombie instead (mirroring
// vos_obj_tree_fini's zombie-vs-close branch) and torn down the next time
// it is found unreferenced.
func (e *Engine) objDestroy(cont ContainerID, obj ObjectID) error {
    e.mu.Lock()
    defer e.mu.Unlock()

    contKey := cont.Encode()
    cr, err := e.containerRecord(contKey)
    if err != nil {
        return translateErr(err)
    }
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objKey := obj.Encode()
    val, err := objTree.Lookup(objKey)
    if err != nil {
        return translateErr(err)
    }
    rec, err := vostree.GetObjectRecord(val)
    if err != nil {
        return translateErr(err)
    }
    objRec, err := objTree.LookupHandle(objKey)
    if err != nil {
        return translateErr(err)
    }

    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)
    if e.objCache.IsOpen(contKey16, objKey16) {
        return translateErr(vostree.MarkZombie(e.arena, objRec))
    }

    if err := vostree.DestroyKeyTree(e.arena, rec.KeyTreeRoot); err != nil {
        return translateErr(err)
    }
    e.objCache.Evict(contKey16, objKey16)
    if err := objTree.Delete(objKey); err != nil {
        return translateErr(err)
    }
    if objTree.Root() != cr.ObjIndexRoot {
        cr.ObjIndexRoot = objTree.Root()
        if err := e.persistContainerRecord(contKey, cr); err != nil {
            return translateErr(err)
        }
    }
    return nil
}

// Attrs reports current allocator statistics for the pool.
func (e *Engine) Attrs() pmem.Attrs {
    return e.arena.Attrs()
}

// Stats summarises a pool's container/object population, used by the
// inspection CLI and by tests asserting destroy cascades actually freed
// what they claim to.
type Stats struct {
    Containers int
    Objects    int
    Attrs      pmem.Attrs
}

// Stat walks the container and object-index trees to report current
// population counts. It takes the same engine-wide lock as every mutating
// operation, so a Stat call never observes a structurally half-written
// tree.
func (e *Engine) Stat() (Stats, error) {
    e.mu.Lock()
    defer e.mu.Unlock()

    var s Stats
    if err := e.contTree.Iterate(func(_, v []byte) error {
        s.Containers++
        cr, err := vostree.GetContainerRecord(v)
        if err != nil {
            return err
        }
        objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
        return objTree.Iterate(func(_, _ []byte) error {
            s.Objects++
            return nil
        })
    }); err != nil {
        return Stats{}, translateErr(err)
    }
    s.Attrs = e.arena.Attrs()
    return s, nil
}
