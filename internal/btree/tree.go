package btree

import (
    "bytes"

    "github.com/distvos/vos/internal/pmem"
)

// Tree is an in-place nested B-tree: its root handle is meant to live inside
// a caller-owned cell (a krec's embedded index-tree root, a container
// record's object-index root, ...), the same way the original engine
// embeds a child tree's root directly inside its parent's record rather
// than behind a separate top-level allocation. Callers are responsible for
// persisting Root() back into that parent cell after any mutating call.
type Tree struct {
    arena    *pmem.Arena
    class    Class
    hkeySize int
    root     pmem.Handle
}

// CreateInplace returns an empty tree bound to arena/class. The caller
// stores the returned Tree's Root() into its own embedded root slot.
func CreateInplace(arena *pmem.Arena, class Class) *Tree {
    return &Tree{arena: arena, class: class, hkeySize: class.HKeySize(), root: pmem.NullHandle}
}

// OpenInplace reconstructs a Tree from a previously persisted root handle.
func OpenInplace(arena *pmem.Arena, class Class, root pmem.Handle) *Tree {
    return &Tree{arena: arena, class: class, hkeySize: class.HKeySize(), root: root}
}

// Root returns the current root handle; NullHandle means the tree is empty.
func (t *Tree) Root() pmem.Handle { return t.root }

// IsEmpty reports whether the tree currently has no root node.
func (t *Tree) IsEmpty() bool { return t.root == pmem.NullHandle }

func (t *Tree) loadNode(h pmem.Handle) (*node, error) {
    buf, err := t.arena.Deref(h)
    if err != nil {
        return nil, err
    }
    return decodeNode(buf, t.hkeySize)
}

func (t *Tree) storeNode(h pmem.Handle, n *node) error {
    return t.arena.Store(h, encodeNode(n, t.hkeySize))
}

func (t *Tree) allocNode(n *node) (pmem.Handle, error) {
    return t.arena.Alloc(encodeNode(n, t.hkeySize))
}

func (t *Tree) freeNode(h pmem.Handle) error {
    return t.arena.Free(h, cellSize(t.hkeySize))
}

// search returns the index of the first key in n.hkeys that is >= hkey, and
// whether n.hkeys[idx] equals hkey exactly.
func (t *Tree) search(n *node, hkey []byte) (idx int, exact bool) {
    lo, hi := 0, n.nkeys
    for lo < hi {
        mid := (lo + hi) / 2
        if t.class.CmpHKey(n.hkeys[mid], hkey) < 0 {
            lo = mid + 1
        } else {
            hi = mid
        }
    }
    if lo < n.nkeys && t.class.CmpHKey(n.hkeys[lo], hkey) == 0 {
        return lo, true
    }
    return lo, false
}

// Insert places key/value into the tree. If a record with the same full key
// already exists, the class's AllowUpdate decides whether the value is
// overwritten (returning nil) or the call fails with ErrNoPermission.
func (t *Tree) Insert(key, value []byte) error {
    hkey := t.class.GenHKey(key)
    if t.root == pmem.NullHandle {
        rec, err := t.class.AllocRecord(t.arena, key, value)
        if err != nil {
            return err
        }
        leaf := newLeafNode()
        leaf.nkeys = 1
        leaf.hkeys = [][]byte{hkey}
        leaf.recs = []pmem.Handle{rec}
        h, err := t.allocNode(leaf)
        if err != nil {
            return err
        }
        t.root = h
        return nil
    }

    rootNode, err := t.loadNode(t.root)
    if err != nil {
        return err
    }
    if rootNode.nkeys == Order-1 {
        newRoot := newInternalNode()
        newRoot.nkeys = 0
        newRoot.children[0] = t.root
        newRootHandle, err := t.allocNode(newRoot)
        if err != nil {
            return err
        }
        if err := t.splitChild(newRootHandle, newRoot, 0, rootNode); err != nil {
            return err
        }
        t.root = newRootHandle
        rootNode, err = t.loadNode(t.root)
        if err != nil {
            return err
        }
    }
    return t.insertNonFull(t.root, rootNode, key, value, hkey)
}

// splitChild splits the full child at parent.children[idx] (already loaded
// as childNode), promoting its middle key into parent.
func (t *Tree) splitChild(parentHandle pmem.Handle, parent *node, idx int, childNode *node) error {
    mid := (Order - 1) / 2
    right := &node{leaf: childNode.leaf}
    right.nkeys = childNode.nkeys - mid - 1
    right.hkeys = append([][]byte(nil), childNode.hkeys[mid+1:]...)
    right.recs = append([]pmem.Handle(nil), childNode.recs[mid+1:]...)
    if !childNode.leaf {
        right.children = append([]pmem.Handle(nil), childNode.children[mid+1:]...)
    }

    midHKey := childNode.hkeys[mid]
    midRec := childNode.recs[mid]

    childNode.nkeys = mid
    childNode.hkeys = childNode.hkeys[:mid]
    childNode.recs = childNode.recs[:mid]
    if !childNode.leaf {
        childNode.children = childNode.children[:mid+1]
    }

    childHandle := parent.children[idx]
    if err := t.storeNode(childHandle, childNode); err != nil {
        return err
    }
    rightHandle, err := t.allocNode(right)
    if err != nil {
        return err
    }

    parent.hkeys = insertAt(parent.hkeys, idx, midHKey)
    parent.recs = insertHandleAt(parent.recs, idx, midRec)
    parent.children = insertHandleAt(parent.children, idx+1, rightHandle)
    parent.nkeys++
    return t.storeNode(parentHandle, parent)
}

func insertAt(s [][]byte, idx int, v []byte) [][]byte {
    s = append(s, nil)
    copy(s[idx+1:], s[idx:])
    s[idx] = v
    return s
}

func insertHandleAt(s []pmem.Handle, idx int, v pmem.Handle) []pmem.Handle {
    s = append(s, pmem.NullHandle)
    copy(s[idx+1:], s[idx:])
    s[idx] = v
    return s
}

func removeAt(s [][]byte, idx int) [][]byte {
    copy(s[idx:], s[idx+1:])
    return s[:len(s)-1]
}

func removeHandleAt(s []pmem.Handle, idx int) []pmem.Handle {
    copy(s[idx:], s[idx+1:])
    return s[:len(s)-1]
}

func (t *Tree) insertNonFull(nodeHandle pmem.Handle, n *node, key, value, hkey []byte) error {
    idx, exact := t.search(n, hkey)
    if exact {
        match, err := t.class.KeyMatches(t.arena, n.recs[idx], key)
        if err != nil {
            return err
        }
        if match {
            if !t.class.AllowUpdate() {
                return ErrNoPermission
            }
            return t.class.UpdateRecord(t.arena, n.recs[idx], value)
        }
    }

    if n.leaf {
        rec, err := t.class.AllocRecord(t.arena, key, value)
        if err != nil {
            return err
        }
        n.hkeys = insertAt(n.hkeys, idx, hkey)
        n.recs = insertHandleAt(n.recs, idx, rec)
        n.nkeys++
        return t.storeNode(nodeHandle, n)
    }

    childHandle := n.children[idx]
    childNode, err := t.loadNode(childHandle)
    if err != nil {
        return err
    }
    if childNode.nkeys == Order-1 {
        if err := t.splitChild(nodeHandle, n, idx, childNode); err != nil {
            return err
        }
        // Re-read n and re-search: the promoted key may now be the exact
        // match, or idx may need to advance past it.
        n, err = t.loadNode(nodeHandle)
        if err != nil {
            return err
        }
        idx, exact = t.search(n, hkey)
        if exact {
            match, err := t.class.KeyMatches(t.arena, n.recs[idx], key)
            if err != nil {
                return err
            }
            if match {
                if !t.class.AllowUpdate() {
                    return ErrNoPermission
                }
                return t.class.UpdateRecord(t.arena, n.recs[idx], value)
            }
        }
        childHandle = n.children[idx]
        childNode, err = t.loadNode(childHandle)
        if err != nil {
            return err
        }
    }
    return t.insertNonFull(childHandle, childNode, key, value, hkey)
}

// LookupHandle returns the record handle storing key, or ErrNotFound. It
// exists for callers (the object/container composers) that need to mutate
// fields embedded in a record beyond what Class's generic Update supports,
// such as a nested tree's root handle.
func (t *Tree) LookupHandle(key []byte) (pmem.Handle, error) {
    if t.root == pmem.NullHandle {
        return pmem.NullHandle, ErrNotFound
    }
    hkey := t.class.GenHKey(key)
    h := t.root
    for h != pmem.NullHandle {
        n, err := t.loadNode(h)
        if err != nil {
            return pmem.NullHandle, err
        }
        idx, exact := t.search(n, hkey)
        if exact {
            match, err := t.class.KeyMatches(t.arena, n.recs[idx], key)
            if err != nil {
                return pmem.NullHandle, err
            }
            if match {
                return n.recs[idx], nil
            }
        }
        if n.leaf {
            break
        }
        h = n.children[idx]
    }
    return pmem.NullHandle, ErrNotFound
}

// Lookup returns the value stored for key, or ErrNotFound.
func (t *Tree) Lookup(key []byte) ([]byte, error) {
    if t.root == pmem.NullHandle {
        return nil, ErrNotFound
    }
    hkey := t.class.GenHKey(key)
    h := t.root
    for h != pmem.NullHandle {
        n, err := t.loadNode(h)
        if err != nil {
            return nil, err
        }
        idx, exact := t.search(n, hkey)
        if exact {
            match, err := t.class.KeyMatches(t.arena, n.recs[idx], key)
            if err != nil {
                return nil, err
            }
            if match {
                _, value, err := t.class.FetchRecord(t.arena, n.recs[idx])
                return value, err
            }
        }
        if n.leaf {
            break
        }
        h = n.children[idx]
    }
    return nil, ErrNotFound
}

// Delete removes key from the tree. Nodes are not rebalanced after a
// deletion (no merge/borrow on underflow); the tree stays correct but may
// carry sparser-than-optimal nodes, which later inserts do not compact.
func (t *Tree) Delete(key []byte) error {
    if t.root == pmem.NullHandle {
        return ErrNotFound
    }
    hkey := t.class.GenHKey(key)
    return t.deleteFrom(t.root, key, hkey)
}

func (t *Tree) deleteFrom(h pmem.Handle, key, hkey []byte) error {
    n, err := t.loadNode(h)
    if err != nil {
        return err
    }
    idx, exact := t.search(n, hkey)
    if exact {
        match, err := t.class.KeyMatches(t.arena, n.recs[idx], key)
        if err != nil {
            return err
        }
        if match {
            if n.leaf {
                if err := t.class.FreeRecord(t.arena, n.recs[idx]); err != nil {
                    return err
                }
                n.hkeys = removeAt(n.hkeys, idx)
                n.recs = removeHandleAt(n.recs, idx)
                n.nkeys--
                return t.storeNode(h, n)
            }
            // Internal key: replace with in-order predecessor from the left
            // subtree, then delete the predecessor recursively.
            predHandle := n.children[idx]
            predKey, predHKey, err := t.maxKey(predHandle)
            if err != nil {
                return err
            }
            predValue, err := t.Lookup(predKey)
            if err != nil {
                return err
            }
            if err := t.deleteFrom(predHandle, predKey, predHKey); err != nil {
                return err
            }
            if err := t.class.FreeRecord(t.arena, n.recs[idx]); err != nil {
                return err
            }
            rec, err := t.class.AllocRecord(t.arena, predKey, predValue)
            if err != nil {
                return err
            }
            n.hkeys[idx] = predHKey
            n.recs[idx] = rec
            return t.storeNode(h, n)
        }
    }
    if n.leaf {
        return ErrNotFound
    }
    return t.deleteFrom(n.children[idx], key, hkey)
}

// maxKey returns the rightmost key/hkey reachable from h.
func (t *Tree) maxKey(h pmem.Handle) ([]byte, []byte, error) {
    n, err := t.loadNode(h)
    if err != nil {
        return nil, nil, err
    }
    if n.leaf {
        i := n.nkeys - 1
        key, _, err := t.class.FetchRecord(t.arena, n.recs[i])
        if err != nil {
            return nil, nil, err
        }
        return key, n.hkeys[i], nil
    }
    return t.maxKey(n.children[n.nkeys])
}

// Iterate walks every record in ascending hashed-key order, invoking fn with
// each record's full key and value. Iteration stops at the first error fn
// returns.
func (t *Tree) Iterate(fn func(key, value []byte) error) error {
    if t.root == pmem.NullHandle {
        return nil
    }
    return t.iterate(t.root, fn)
}

func (t *Tree) iterate(h pmem.Handle, fn func(key, value []byte) error) error {
    n, err := t.loadNode(h)
    if err != nil {
        return err
    }
    for i := 0; i < n.nkeys; i++ {
        if !n.leaf {
            if err := t.iterate(n.children[i], fn); err != nil {
                return err
            }
        }
        key, value, err := t.class.FetchRecord(t.arena, n.recs[i])
        if err != nil {
            return err
        }
        if err := fn(key, value); err != nil {
            return err
        }
    }
    if !n.leaf {
        if err := t.iterate(n.children[n.nkeys], fn); err != nil {
            return err
        }
    }
    return nil
}

// IterateHandles walks every record in ascending hashed-key order like
// Iterate, but passes the record handle instead of its decoded value, for
// callers that must recurse into structure embedded in the record (a
// nested object or index tree) before the record itself can be freed.
func (t *Tree) IterateHandles(fn func(key []byte, rec pmem.Handle) error) error {
    if t.root == pmem.NullHandle {
        return nil
    }
    return t.iterateHandles(t.root, fn)
}

func (t *Tree) iterateHandles(h pmem.Handle, fn func(key []byte, rec pmem.Handle) error) error {
    n, err := t.loadNode(h)
    if err != nil {
        return err
    }
    for i := 0; i < n.nkeys; i++ {
        if !n.leaf {
            if err := t.iterateHandles(n.children[i], fn); err != nil {
                return err
            }
        }
        key, _, err := t.class.FetchRecord(t.arena, n.recs[i])
        if err != nil {
            return err
        }
        if err := fn(key, n.recs[i]); err != nil {
            return err
        }
    }
    if !n.leaf {
        if err := t.iterateHandles(n.children[n.nkeys], fn); err != nil {
            return err
        }
    }
    return nil
}

// Destroy frees every node and record reachable from the tree's root.
func (t *Tree) Destroy() error {
    if t.root == pmem.NullHandle {
        return nil
    }
    if err := t.destroy(t.root); err != nil {
        return err
    }
    t.root = pmem.NullHandle
    return nil
}

func (t *Tree) destroy(h pmem.Handle) error {
    n, err := t.loadNode(h)
    if err != nil {
        return err
    }
    for i := 0; i < n.nkeys; i++ {
        if err := t.class.FreeRecord(t.arena, n.recs[i]); err != nil {
            return err
        }
    }
    if !n.leaf {
        for i := 0; i <= n.nkeys; i++ {
            if err := t.destroy(n.children[i]); err != nil {
                return err
            }
        }
    }
    return t.freeNode(h)
}

// equalBytes is used by classes whose KeyMatches is a plain byte comparison.
func equalBytes(a, b []byte) bool {
    return bytes.Equal(a, b)
}
