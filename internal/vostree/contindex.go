package vostree

import (
    "bytes"
    "encoding/binary"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/pmem"
)

// ContainerID is a container's identifier within a pool; a 128-bit value
// wide enough for a UUID.
type ContainerID struct {
    Hi uint64
    Lo uint64
}

// Encode returns the 16-byte wire form of the ID.
func (c ContainerID) Encode() []byte {
    buf := make([]byte, 16)
    binary.BigEndian.PutUint64(buf[0:], c.Hi)
    binary.BigEndian.PutUint64(buf[8:], c.Lo)
    return buf
}

// DecodeContainerID parses the 16-byte wire form back into a ContainerID.
func DecodeContainerID(buf []byte) (ContainerID, error) {
    if len(buf) != 16 {
        return ContainerID{}, btree.ErrCorrupt
    }
    return ContainerID{Hi: binary.BigEndian.Uint64(buf[0:]), Lo: binary.BigEndian.Uint64(buf[8:])}, nil
}

// ContainerRecord is the value held by a pool's container-index tree: the
// root of that container's object-index tree. This extends the same
// nested-root embedding used by the key-tree and index/epoch-tree one
// level further up the hierarchy: a container holds the root of its
// object-index tree.
type ContainerRecord struct {
    ObjIndexRoot pmem.Handle
}

func encodeContainerRecord(r ContainerRecord) []byte {
    buf := make([]byte, 8)
    binary.BigEndian.PutUint64(buf, uint64(r.ObjIndexRoot))
    return buf
}

func decodeContainerRecord(buf []byte) (ContainerRecord, error) {
    if len(buf) != 8 {
        return ContainerRecord{}, btree.ErrCorrupt
    }
    return ContainerRecord{ObjIndexRoot: pmem.Handle(binary.BigEndian.Uint64(buf))}, nil
}

// ContIndexClass is the container-index class: containers are addressed by
// their exact 16-byte ID, no hashing, same rationale as ObjIndexClass.
type ContIndexClass struct{}

func (ContIndexClass) HKeySize() int { return 16 }

func (ContIndexClass) GenHKey(key []byte) []byte {
    cp := make([]byte, 16)
    copy(cp, key)
    return cp
}

func (ContIndexClass) CmpHKey(a, b []byte) int { return bytes.Compare(a, b) }

func (ContIndexClass) AllowUpdate() bool { return true }

func (ContIndexClass) AllocRecord(arena *pmem.Arena, key, _ []byte) (pmem.Handle, error) {
    rec := ContainerRecord{ObjIndexRoot: pmem.NullHandle}
    return arena.Alloc(append(append([]byte(nil), key...), encodeContainerRecord(rec)...))
}

func (ContIndexClass) FreeRecord(arena *pmem.Arena, rec pmem.Handle) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    return arena.Free(rec, len(buf))
}

func (ContIndexClass) FetchRecord(arena *pmem.Arena, rec pmem.Handle) ([]byte, []byte, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return nil, nil, err
    }
    if len(buf) != 16+8 {
        return nil, nil, btree.ErrCorrupt
    }
    return append([]byte(nil), buf[:16]...), append([]byte(nil), buf[16:]...), nil
}

func (ContIndexClass) KeyMatches(arena *pmem.Arena, rec pmem.Handle, key []byte) (bool, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return false, err
    }
    if len(buf) < 16 {
        return false, btree.ErrCorrupt
    }
    return bytes.Equal(buf[:16], key), nil
}

func (ContIndexClass) UpdateRecord(arena *pmem.Arena, rec pmem.Handle, value []byte) error {
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

// GetContainerRecord decodes the ContainerRecord wire form returned as a
// Tree value by ContIndexClass.FetchRecord.
func GetContainerRecord(value []byte) (ContainerRecord, error) {
    return decodeContainerRecord(value)
}

// EncodeContainerRecord is the inverse of GetContainerRecord.
func EncodeContainerRecord(r ContainerRecord) []byte {
    return encodeContainerRecord(r)
}
