package btree

import (
    "encoding/binary"

    "github.com/distvos/vos/internal/pmem"
)

// node is one order-16 B-tree cell. Leaf nodes carry up to Order-1 records
// directly; internal nodes carry the same key/record slots as separators
// plus Order child pointers, in the classic (non-B+tree) arrangement the
// original engine's in-place btr_node follows.
type node struct {
    leaf     bool
    nkeys    int
    hkeys    [][]byte      // len nkeys, each hkeySize bytes
    recs     []pmem.Handle // len nkeys
    children []pmem.Handle // len nkeys+1, only meaningful when !leaf
}

func newLeafNode() *node {
    return &node{leaf: true}
}

func newInternalNode() *node {
    return &node{leaf: false, children: make([]pmem.Handle, 1)}
}

// cellSize is the fixed on-disk size of a node cell for a tree whose hashed
// keys are hkeySize bytes wide. Every node of a given tree serializes to
// exactly this many bytes, so Arena.Store's fixed-length contract holds.
func cellSize(hkeySize int) int {
    // leaf flag(1) + nkeys(4) + (Order-1) * (hkey + rec handle(8)) +
    // Order * child handle(8)
    return 1 + 4 + (Order-1)*(hkeySize+8) + Order*8
}

func encodeNode(n *node, hkeySize int) []byte {
    buf := make([]byte, cellSize(hkeySize))
    off := 0
    if n.leaf {
        buf[off] = 1
    }
    off++
    binary.BigEndian.PutUint32(buf[off:], uint32(n.nkeys))
    off += 4
    for i := 0; i < Order-1; i++ {
        if i < n.nkeys {
            copy(buf[off:off+hkeySize], n.hkeys[i])
        }
        off += hkeySize
        if i < n.nkeys {
            binary.BigEndian.PutUint64(buf[off:], uint64(n.recs[i]))
        }
        off += 8
    }
    if !n.leaf {
        for i := 0; i < Order; i++ {
            if i < len(n.children) {
                binary.BigEndian.PutUint64(buf[off:], uint64(n.children[i]))
            }
            off += 8
        }
    } else {
        off += Order * 8
    }
    return buf
}

func decodeNode(buf []byte, hkeySize int) (*node, error) {
    if len(buf) != cellSize(hkeySize) {
        return nil, ErrCorrupt
    }
    n := &node{}
    off := 0
    n.leaf = buf[off] == 1
    off++
    n.nkeys = int(binary.BigEndian.Uint32(buf[off:]))
    off += 4
    if n.nkeys > Order-1 {
        return nil, ErrCorrupt
    }
    n.hkeys = make([][]byte, n.nkeys)
    n.recs = make([]pmem.Handle, n.nkeys)
    for i := 0; i < Order-1; i++ {
        if i < n.nkeys {
            key := make([]byte, hkeySize)
            copy(key, buf[off:off+hkeySize])
            n.hkeys[i] = key
        }
        off += hkeySize
        if i < n.nkeys {
            n.recs[i] = pmem.Handle(binary.BigEndian.Uint64(buf[off:]))
        }
        off += 8
    }
    if !n.leaf {
        n.children = make([]pmem.Handle, n.nkeys+1)
        for i := 0; i < Order; i++ {
            if i < n.nkeys+1 {
                n.children[i] = pmem.Handle(binary.BigEndian.Uint64(buf[off:]))
            }
            off += 8
        }
    }
    return n, nil
}
