package vostree

import (
    "bytes"
    "encoding/binary"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/pmem"
)

// IndexKey is an (index, epoch) pair: the hashed key of the index/epoch-tree
// (C4). Unlike the key-tree, ordering here is a literal comparison of the
// two integers rather than a murmur hash, because range queries need
// ascending (index, epoch) order, not hash order.
type IndexKey struct {
    Index uint64
    Epoch uint64
}

// Encode returns the 16-byte wire form consumed by Tree.Insert/Lookup/Delete.
func (k IndexKey) Encode() []byte {
    buf := make([]byte, 16)
    binary.BigEndian.PutUint64(buf[0:], k.Index)
    binary.BigEndian.PutUint64(buf[8:], k.Epoch)
    return buf
}

// DecodeIndexKey parses the 16-byte wire form back into an IndexKey.
func DecodeIndexKey(buf []byte) (IndexKey, error) {
    if len(buf) != 16 {
        return IndexKey{}, btree.ErrCorrupt
    }
    return IndexKey{
        Index: binary.BigEndian.Uint64(buf[0:]),
        Epoch: binary.BigEndian.Uint64(buf[8:]),
    }, nil
}

func encodeIdxRecord(key []byte, value []byte) []byte {
    buf := make([]byte, 16+4+len(value))
    copy(buf, key)
    binary.BigEndian.PutUint32(buf[16:], uint32(len(value)))
    copy(buf[20:], value)
    return buf
}

func decodeIdxRecord(buf []byte) (key, value []byte, err error) {
    if len(buf) < 20 {
        return nil, nil, btree.ErrCorrupt
    }
    key = append([]byte(nil), buf[:16]...)
    vlen := int(binary.BigEndian.Uint32(buf[16:]))
    if len(buf) != 20+vlen {
        return nil, nil, btree.ErrCorrupt
    }
    value = append([]byte(nil), buf[20:20+vlen]...)
    return key, value, nil
}

// IdxClass is the index/epoch-tree class (C4). Its records (irecs) are
// addressed by the literal (index, epoch) pair and, once inserted, can never
// be overwritten in place: vos_tree.c's ibtr_rec_update unconditionally
// returns -DER_NO_PERM, and this class reproduces that by always denying
// updates (AllowUpdate returns false). A new epoch's value is a new record,
// never a mutation of an existing one, preserving per-epoch history.
type IdxClass struct{}

func (IdxClass) HKeySize() int { return 16 }

func (IdxClass) GenHKey(key []byte) []byte {
    cp := make([]byte, 16)
    copy(cp, key)
    return cp
}

// CmpHKey orders ascending by (index, epoch). The original C implementation
// contains a bug here (a double less-than comparison that can misorder
// equal indices); this class implements the evidently-intended ordering
// instead of reproducing the bug.
func (IdxClass) CmpHKey(a, b []byte) int {
    ai, aE := binary.BigEndian.Uint64(a[0:]), binary.BigEndian.Uint64(a[8:])
    bi, bE := binary.BigEndian.Uint64(b[0:]), binary.BigEndian.Uint64(b[8:])
    switch {
    case ai < bi:
        return -1
    case ai > bi:
        return 1
    case aE < bE:
        return -1
    case aE > bE:
        return 1
    default:
        return 0
    }
}

func (IdxClass) AllowUpdate() bool { return false }

func (IdxClass) AllocRecord(arena *pmem.Arena, key, value []byte) (pmem.Handle, error) {
    return arena.Alloc(encodeIdxRecord(key, value))
}

func (IdxClass) FreeRecord(arena *pmem.Arena, rec pmem.Handle) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    return arena.Free(rec, len(buf))
}

func (IdxClass) FetchRecord(arena *pmem.Arena, rec pmem.Handle) ([]byte, []byte, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return nil, nil, err
    }
    return decodeIdxRecord(buf)
}

func (IdxClass) KeyMatches(arena *pmem.Arena, rec pmem.Handle, key []byte) (bool, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return false, err
    }
    if len(buf) < 16 {
        return false, btree.ErrCorrupt
    }
    return bytes.Equal(buf[:16], key), nil
}

// UpdateRecord is never reached: Tree only calls it when AllowUpdate is
// true. It is implemented defensively rather than left to panic.
func (IdxClass) UpdateRecord(*pmem.Arena, pmem.Handle, []byte) error {
    return btree.ErrNoPermission
}
