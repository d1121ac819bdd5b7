package vostree

import (
    "encoding/binary"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/pmem"
)

// ObjectTree is the object tree composer (C5): it wires one object's
// key-tree (dkeys) to, per dkey, a nested index/epoch-tree (record index +
// epoch), the same two-level nesting vos_obj_tree_init/vos_obj_tree_fini
// build and tear down for a single object.
type ObjectTree struct {
    arena   *pmem.Arena
    objKey  []byte      // this object's key within the parent object-index tree
    objRec  pmem.Handle // this object's cell in the parent object-index tree
    keyTree *btree.Tree

    // unwireParent removes objKey from the parent object-index tree and
    // persists the tree's new root, used by Close to finish a deferred
    // zombie destroy. It re-resolves the parent tree itself rather than
    // closing over a snapshot, since the parent may have been restructured
    // by unrelated objects' inserts/deletes in the time between this
    // object's last reference and its eviction. nil for an ObjectTree that
    // was never opened through a parent (Close then only ever no-ops).
    unwireParent func(objKey []byte) error
}

func readObjectRecord(arena *pmem.Arena, rec pmem.Handle) ([]byte, ObjectRecord, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return nil, ObjectRecord{}, err
    }
    if len(buf) != 16+9 {
        return nil, ObjectRecord{}, btree.ErrCorrupt
    }
    obj, err := decodeObjectRecord(buf[16:])
    if err != nil {
        return nil, ObjectRecord{}, err
    }
    return append([]byte(nil), buf[:16]...), obj, nil
}

func writeObjectRecord(arena *pmem.Arena, rec pmem.Handle, key []byte, obj ObjectRecord) error {
    return arena.Store(rec, append(append([]byte(nil), key...), encodeObjectRecord(obj)...))
}

// OpenObjectTree reattaches to an existing object's key-tree, identified by
// its cell (rec) and key (objKey) in the parent object-index tree. Opening
// a zombie object (one whose destroy was deferred because it was still
// referenced) fails with ErrZombie; the caller must wait for the last
// reference to drop. unwireParent is retained so a later Close can finish a
// deferred zombie destroy; pass nil if the caller never needs Close to do
// more than free the key-tree (e.g. tests that allocate a bare record).
func OpenObjectTree(arena *pmem.Arena, objKey []byte, rec pmem.Handle, unwireParent func([]byte) error) (*ObjectTree, error) {
    _, obj, err := readObjectRecord(arena, rec)
    if err != nil {
        return nil, err
    }
    if obj.Zombie {
        return nil, ErrZombie
    }
    return &ObjectTree{
        arena:        arena,
        objKey:       append([]byte(nil), objKey...),
        objRec:       rec,
        keyTree:      btree.OpenInplace(arena, KeyClass{}, obj.KeyTreeRoot),
        unwireParent: unwireParent,
    }, nil
}

func (ot *ObjectTree) persistKeyRoot() error {
    key, obj, err := readObjectRecord(ot.arena, ot.objRec)
    if err != nil {
        return err
    }
    obj.KeyTreeRoot = ot.keyTree.Root()
    return writeObjectRecord(ot.arena, ot.objRec, key, obj)
}

// Update inserts the value at (dkey, index, epoch), creating the dkey on
// first use; it never overwrites an existing value. Per C4's
// overwrite-forbidden invariant, re-using an (index, epoch) pair already
// present under dkey fails with btree.ErrNoPermission.
func (ot *ObjectTree) Update(dkey []byte, idx IndexKey, payload []byte) error {
    rootBytes, err := ot.keyTree.Lookup(dkey)
    isNewDkey := false
    var idxRoot pmem.Handle
    if err == btree.ErrNotFound {
        isNewDkey = true
        idxRoot = pmem.NullHandle
        if err := ot.keyTree.Insert(dkey, make([]byte, 8)); err != nil {
            return err
        }
    } else if err != nil {
        return err
    } else {
        idxRoot = pmem.Handle(binary.BigEndian.Uint64(rootBytes))
    }

    idxTree := btree.OpenInplace(ot.arena, IdxClass{}, idxRoot)
    if err := idxTree.Insert(idx.Encode(), payload); err != nil {
        return err
    }

    if idxTree.Root() != idxRoot || isNewDkey {
        newRoot := make([]byte, 8)
        binary.BigEndian.PutUint64(newRoot, uint64(idxTree.Root()))
        if err := ot.keyTree.Insert(dkey, newRoot); err != nil {
            return err
        }
    }
    return ot.persistKeyRoot()
}

// Fetch returns the payload stored at (dkey, index, epoch), or
// btree.ErrNotFound if absent.
func (ot *ObjectTree) Fetch(dkey []byte, idx IndexKey) ([]byte, error) {
    rootBytes, err := ot.keyTree.Lookup(dkey)
    if err != nil {
        return nil, err
    }
    idxRoot := pmem.Handle(binary.BigEndian.Uint64(rootBytes))
    idxTree := btree.OpenInplace(ot.arena, IdxClass{}, idxRoot)
    return idxTree.Lookup(idx.Encode())
}

// IterateDkeys visits every dkey present in the object, in hash order.
func (ot *ObjectTree) IterateDkeys(fn func(dkey []byte) error) error {
    return ot.keyTree.Iterate(func(key, _ []byte) error {
        return fn(key)
    })
}

// IterateIndex visits every (index, epoch) -> payload pair under dkey, in
// ascending (index, epoch) order.
func (ot *ObjectTree) IterateIndex(dkey []byte, fn func(idx IndexKey, payload []byte) error) error {
    rootBytes, err := ot.keyTree.Lookup(dkey)
    if err == btree.ErrNotFound {
        return nil
    }
    if err != nil {
        return err
    }
    idxRoot := pmem.Handle(binary.BigEndian.Uint64(rootBytes))
    idxTree := btree.OpenInplace(ot.arena, IdxClass{}, idxRoot)
    return idxTree.Iterate(func(key, value []byte) error {
        ik, err := DecodeIndexKey(key)
        if err != nil {
            return err
        }
        return fn(ik, value)
    })
}

// MarkZombie flags the object as pending destruction without touching its
// tree structure, used when Destroy is requested while the object reference
// cache (C6) still holds it open. This mirrors vos_obj_tree_fini's
// zombie-vs-close branch: a referenced object is marked, not torn down.
func MarkZombie(arena *pmem.Arena, rec pmem.Handle) error {
    key, obj, err := readObjectRecord(arena, rec)
    if err != nil {
        return err
    }
    obj.Zombie = true
    return writeObjectRecord(arena, rec, key, obj)
}

// Close releases ot once the object reference cache (C6) has no more live
// callers for it. If Destroy was requested while a caller still held ot
// open, MarkZombie recorded the deferred destroy instead of tearing down
// the tree immediately; Close is where that deferred destroy actually
// happens, cascading through the key-tree and then removing the object's
// own entry from the parent object-index tree via unwireParent. Closing a
// non-zombie object is a no-op: the cache may simply be letting a cold,
// still-live object fall out of residency, not destroying it. Mirrors
// vos_obj_tree_fini's zombie-vs-close branch, taken here at the close end
// rather than the destroy-request end.
func (ot *ObjectTree) Close() error {
    _, obj, err := readObjectRecord(ot.arena, ot.objRec)
    if err != nil {
        return err
    }
    if !obj.Zombie {
        return nil
    }
    if err := DestroyKeyTree(ot.arena, obj.KeyTreeRoot); err != nil {
        return err
    }
    if ot.unwireParent == nil {
        return nil
    }
    return ot.unwireParent(ot.objKey)
}

// Destroy tears down every dkey's nested index-tree and then the key-tree
// itself. Callers must only invoke this once the object is unreferenced
// (refcount zero in C6); the object-index record itself is freed separately
// by the caller's ObjIndexClass.FreeRecord / Tree.Delete.
func (ot *ObjectTree) Destroy() error {
    if err := DestroyKeyTree(ot.arena, ot.keyTree.Root()); err != nil {
        return err
    }
    ot.keyTree = btree.OpenInplace(ot.arena, KeyClass{}, pmem.NullHandle)
    return nil
}

// DestroyKeyTree tears down a key-tree (and every dkey's nested
// index/epoch-tree beneath it) given only its root handle, for callers
// cascading a destroy (container teardown) that never opened a full
// ObjectTree and so have no object-index record to persist back into.
func DestroyKeyTree(arena *pmem.Arena, keyTreeRoot pmem.Handle) error {
    kt := btree.OpenInplace(arena, KeyClass{}, keyTreeRoot)
    var dkeys [][]byte
    if err := kt.Iterate(func(key, _ []byte) error {
        dkeys = append(dkeys, append([]byte(nil), key...))
        return nil
    }); err != nil {
        return err
    }
    for _, dkey := range dkeys {
        rootBytes, err := kt.Lookup(dkey)
        if err != nil {
            return err
        }
        idxRoot := pmem.Handle(binary.BigEndian.Uint64(rootBytes))
        idxTree := btree.OpenInplace(arena, IdxClass{}, idxRoot)
        if err := idxTree.Destroy(); err != nil {
            return err
        }
    }
    return kt.Destroy()
}
