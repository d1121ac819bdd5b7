// Package vostree wires the generic B-tree engine (internal/btree) to the
// concrete record classes the storage hierarchy needs: the key-tree class
// (dkeys only; akeys are not stored), the index/epoch-tree class (record index + epoch), and
// the object-index / container-index classes that compose pools, containers
// and objects into one nested structure. This mirrors vos_tree.c's
// vos_btr_attrs table of class/order/ops triples.
package vostree

import (
    "bytes"
    "encoding/binary"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/pmem"
    "github.com/spaolacci/murmur3"
)

// KeyHashSeed is the murmur64 seed vos_tree.c hard-codes as
// VOS_BTR_MUR_SEED for hashing dkeys and akeys.
const KeyHashSeed = 0x00c0ffee

// KeyRecord is a krec: the stored key bytes plus the root of the nested
// index/epoch-tree that holds this key's values.
type KeyRecord struct {
    Key       []byte
    IndexRoot pmem.Handle
}

func encodeKeyRecord(r KeyRecord) []byte {
    buf := make([]byte, 4+len(r.Key)+8)
    binary.BigEndian.PutUint32(buf, uint32(len(r.Key)))
    copy(buf[4:], r.Key)
    binary.BigEndian.PutUint64(buf[4+len(r.Key):], uint64(r.IndexRoot))
    return buf
}

func decodeKeyRecord(buf []byte) (KeyRecord, error) {
    if len(buf) < 4 {
        return KeyRecord{}, btree.ErrCorrupt
    }
    keyLen := int(binary.BigEndian.Uint32(buf))
    if len(buf) != 4+keyLen+8 {
        return KeyRecord{}, btree.ErrCorrupt
    }
    key := make([]byte, keyLen)
    copy(key, buf[4:4+keyLen])
    root := pmem.Handle(binary.BigEndian.Uint64(buf[4+keyLen:]))
    return KeyRecord{Key: key, IndexRoot: root}, nil
}

// KeyClass is the key-tree class (C3): keys are ordered by murmur64 hash
// under KeyHashSeed, and a record's "value" (as seen by the generic Tree)
// is the 8-byte handle of its embedded index/epoch-tree root rather than a
// caller value, matching vos_tree.c's kbtr_* ops over struct key_btr_hkey.
type KeyClass struct{}

func (KeyClass) HKeySize() int { return 8 }

func (KeyClass) GenHKey(key []byte) []byte {
    h := murmur3.Sum64WithSeed(key, KeyHashSeed)
    buf := make([]byte, 8)
    binary.BigEndian.PutUint64(buf, h)
    return buf
}

func (KeyClass) CmpHKey(a, b []byte) int {
    return bytes.Compare(a, b)
}

// AllowUpdate is true: the composer re-inserts an already-present dkey to
// record its nested index/epoch-tree's new root, which UpdateRecord writes
// into the krec in place, unlike the index/epoch-tree's overwrite-forbidden
// invariant.
func (KeyClass) AllowUpdate() bool { return true }

func (KeyClass) AllocRecord(arena *pmem.Arena, key, _ []byte) (pmem.Handle, error) {
    buf := encodeKeyRecord(KeyRecord{Key: key, IndexRoot: pmem.NullHandle})
    return arena.Alloc(buf)
}

func (KeyClass) FreeRecord(arena *pmem.Arena, rec pmem.Handle) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    return arena.Free(rec, len(buf))
}

// FetchRecord returns the stored key and the 8-byte big-endian encoding of
// its embedded index-tree root handle as the generic "value".
func (KeyClass) FetchRecord(arena *pmem.Arena, rec pmem.Handle) ([]byte, []byte, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return nil, nil, err
    }
    kr, err := decodeKeyRecord(buf)
    if err != nil {
        return nil, nil, err
    }
    value := make([]byte, 8)
    binary.BigEndian.PutUint64(value, uint64(kr.IndexRoot))
    return kr.Key, value, nil
}

func (KeyClass) KeyMatches(arena *pmem.Arena, rec pmem.Handle, key []byte) (bool, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return false, err
    }
    kr, err := decodeKeyRecord(buf)
    if err != nil {
        return false, err
    }
    return bytes.Equal(kr.Key, key), nil
}

func (KeyClass) UpdateRecord(arena *pmem.Arena, rec pmem.Handle, value []byte) error {
    root := pmem.Handle(binary.BigEndian.Uint64(value))
    return SetIndexRoot(arena, rec, root)
}

// GetKeyRecord decodes the krec stored at rec.
func GetKeyRecord(arena *pmem.Arena, rec pmem.Handle) (KeyRecord, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return KeyRecord{}, err
    }
    return decodeKeyRecord(buf)
}

// SetIndexRoot rewrites rec's embedded index-tree root handle in place; the
// composer calls this after any mutation changes that nested tree's root.
func SetIndexRoot(arena *pmem.Arena, rec pmem.Handle, newRoot pmem.Handle) error {
    kr, err := GetKeyRecord(arena, rec)
    if err != nil {
        return err
    }
    kr.IndexRoot = newRoot
    return arena.Store(rec, encodeKeyRecord(kr))
}
