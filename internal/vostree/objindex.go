package vostree

import (
    "bytes"
    "encoding/binary"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/pmem"
)

// ObjectID names an object within a container. No particular ID encoding
// is mandated, so a 128-bit identifier (hi/lo) is used, wide enough for a
// UUID or a generated sequence.
type ObjectID struct {
    Hi uint64
    Lo uint64
}

// Encode returns the 16-byte wire form of the ID.
func (o ObjectID) Encode() []byte {
    buf := make([]byte, 16)
    binary.BigEndian.PutUint64(buf[0:], o.Hi)
    binary.BigEndian.PutUint64(buf[8:], o.Lo)
    return buf
}

// DecodeObjectID parses the 16-byte wire form back into an ObjectID.
func DecodeObjectID(buf []byte) (ObjectID, error) {
    if len(buf) != 16 {
        return ObjectID{}, btree.ErrCorrupt
    }
    return ObjectID{Hi: binary.BigEndian.Uint64(buf[0:]), Lo: binary.BigEndian.Uint64(buf[8:])}, nil
}

// ObjectRecord is the value held by a container's object-index tree: the
// root of the object's own key-tree, plus a zombie flag so a destroyed
// object that is still pinned in the reference cache (C6) can be recorded
// as gone without disturbing the tree structure mid-iteration, mirroring
// vos_obj_tree_fini's zombie-vs-close branch.
type ObjectRecord struct {
    KeyTreeRoot pmem.Handle
    Zombie      bool
}

func encodeObjectRecord(r ObjectRecord) []byte {
    buf := make([]byte, 9)
    binary.BigEndian.PutUint64(buf, uint64(r.KeyTreeRoot))
    if r.Zombie {
        buf[8] = 1
    }
    return buf
}

func decodeObjectRecord(buf []byte) (ObjectRecord, error) {
    if len(buf) != 9 {
        return ObjectRecord{}, btree.ErrCorrupt
    }
    return ObjectRecord{
        KeyTreeRoot: pmem.Handle(binary.BigEndian.Uint64(buf)),
        Zombie:      buf[8] == 1,
    }, nil
}

// ObjIndexClass is the object-index class: objects are addressed by their
// exact 16-byte ID (no hashing — IDs are already uniformly distributed and
// range scans over them have no defined meaning), and each record embeds
// the root of that object's key-tree (the C5 composer's handiwork).
type ObjIndexClass struct{}

func (ObjIndexClass) HKeySize() int { return 16 }

func (ObjIndexClass) GenHKey(key []byte) []byte {
    cp := make([]byte, 16)
    copy(cp, key)
    return cp
}

func (ObjIndexClass) CmpHKey(a, b []byte) int { return bytes.Compare(a, b) }

func (ObjIndexClass) AllowUpdate() bool { return true }

func (ObjIndexClass) AllocRecord(arena *pmem.Arena, key, _ []byte) (pmem.Handle, error) {
    rec := ObjectRecord{KeyTreeRoot: pmem.NullHandle}
    return arena.Alloc(append(append([]byte(nil), key...), encodeObjectRecord(rec)...))
}

func (ObjIndexClass) FreeRecord(arena *pmem.Arena, rec pmem.Handle) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    return arena.Free(rec, len(buf))
}

func (ObjIndexClass) FetchRecord(arena *pmem.Arena, rec pmem.Handle) ([]byte, []byte, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return nil, nil, err
    }
    if len(buf) != 16+9 {
        return nil, nil, btree.ErrCorrupt
    }
    return append([]byte(nil), buf[:16]...), append([]byte(nil), buf[16:]...), nil
}

func (ObjIndexClass) KeyMatches(arena *pmem.Arena, rec pmem.Handle, key []byte) (bool, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return false, err
    }
    if len(buf) < 16 {
        return false, btree.ErrCorrupt
    }
    return bytes.Equal(buf[:16], key), nil
}

func (ObjIndexClass) UpdateRecord(arena *pmem.Arena, rec pmem.Handle, value []byte) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    if len(buf) != 16+len(value) {
        return btree.ErrCorrupt
    }
    newBuf := append(append([]byte(nil), buf[:16]...), value...)
    return arena.Store(rec, newBuf)
}

// GetObjectRecord decodes the ObjectRecord wire form returned as a Tree
// value by ObjIndexClass.FetchRecord.
func GetObjectRecord(value []byte) (ObjectRecord, error) {
    return decodeObjectRecord(value)
}

// EncodeObjectRecord is the inverse of GetObjectRecord. Nothing in this
// module calls it; MarkZombie and persistKeyRoot rewrite object records
// through writeObjectRecord instead.
func EncodeObjectRecord(r ObjectRecord) []byte {
    return encodeObjectRecord(r)
}
