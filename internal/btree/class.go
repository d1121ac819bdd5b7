// Package btree implements the generic, nested B-tree engine (C2): a single
// node/split/search implementation parameterised by a pluggable Class, the
// same way the original engine's btree core is parameterised by a
// btr_class/btr_ops pair. Every concrete tree (key-tree, index/epoch-tree,
// object-index, container-index) is this same engine wired to a different
// Class.
package btree

import (
    "errors"

    "github.com/distvos/vos/internal/pmem"
)

// Order is the fan-out of every tree built by this package; key-tree and
// index-tree classes are both registered at order 16, and no class in this
// package needs a different order.
const Order = 16

var (
    // ErrNotFound is returned by Lookup/Delete when the key is absent.
    ErrNotFound = errors.New("btree: key not found")
    // ErrNoPermission is returned by Insert when the class forbids
    // overwriting an existing record (the index/epoch-tree's
    // overwrite-forbidden invariant).
    ErrNoPermission = errors.New("btree: overwrite not permitted")
    // ErrCorrupt is returned when a node cell fails to decode.
    ErrCorrupt = errors.New("btree: corrupt node")
)

// Class supplies the key hashing, comparison and record lifecycle hooks a
// tree needs; it has no knowledge of node layout or split/merge mechanics.
// This mirrors the original engine's struct btr_class (hkey_size + a
// btr_ops table of hkey_gen/hkey_cmp/key_cmp/rec_alloc/rec_free/rec_fetch/
// rec_update), expressed as a Go interface instead of function pointers.
type Class interface {
    // HKeySize is the fixed width, in bytes, of the hashed key every record
    // in this tree is ordered by.
    HKeySize() int
    // GenHKey derives the ordered hash key from a caller-supplied key.
    GenHKey(key []byte) []byte
    // CmpHKey orders two hashed keys, as bytes.Compare would.
    CmpHKey(a, b []byte) int
    // AllowUpdate reports whether Insert may overwrite an existing record
    // whose full key matches. The index/epoch-tree class returns false,
    // reproducing vos_tree.c's ibtr_rec_update which always denies updates.
    AllowUpdate() bool

    // AllocRecord persists a new record holding key/value and returns its
    // handle. The returned handle becomes a tree node's record pointer.
    AllocRecord(arena *pmem.Arena, key, value []byte) (pmem.Handle, error)
    // FreeRecord releases a record previously returned by AllocRecord.
    FreeRecord(arena *pmem.Arena, rec pmem.Handle) error
    // FetchRecord returns the full key and value stored at rec.
    FetchRecord(arena *pmem.Arena, rec pmem.Handle) (key, value []byte, err error)
    // KeyMatches reports whether rec's full key equals key exactly (used to
    // break ties between records sharing a hashed key).
    KeyMatches(arena *pmem.Arena, rec pmem.Handle, key []byte) (bool, error)
    // UpdateRecord overwrites rec's value in place.
    UpdateRecord(arena *pmem.Arena, rec pmem.Handle, value []byte) error
}
