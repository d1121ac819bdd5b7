package btree

import (
    "bytes"
    "encoding/binary"
    "fmt"
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/distvos/vos/internal/pmem"
)

// identityClass is a minimal Class for exercising the generic tree engine
// in isolation, the same role a fixed byte-key class plays in the original
// engine's own btree unit tests: keys are used verbatim as hashed keys (no
// domain hashing), and every record is just its key/value concatenated.
type identityClass struct {
    allowUpdate bool
}

func (c identityClass) HKeySize() int                { return 8 }
func (c identityClass) GenHKey(key []byte) []byte {
    h := make([]byte, 8)
    copy(h, key)
    return h
}
func (c identityClass) CmpHKey(a, b []byte) int      { return bytes.Compare(a, b) }
func (c identityClass) AllowUpdate() bool            { return c.allowUpdate }

func (c identityClass) AllocRecord(arena *pmem.Arena, key, value []byte) (pmem.Handle, error) {
    buf := make([]byte, 4+len(key)+len(value))
    binary.BigEndian.PutUint32(buf, uint32(len(key)))
    copy(buf[4:], key)
    copy(buf[4+len(key):], value)
    return arena.Alloc(buf)
}

func (c identityClass) FreeRecord(arena *pmem.Arena, rec pmem.Handle) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    return arena.Free(rec, len(buf))
}

func (c identityClass) FetchRecord(arena *pmem.Arena, rec pmem.Handle) ([]byte, []byte, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return nil, nil, err
    }
    klen := int(binary.BigEndian.Uint32(buf))
    key := append([]byte(nil), buf[4:4+klen]...)
    value := append([]byte(nil), buf[4+klen:]...)
    return key, value, nil
}

func (c identityClass) KeyMatches(arena *pmem.Arena, rec pmem.Handle, key []byte) (bool, error) {
    buf, err := arena.Deref(rec)
    if err != nil {
        return false, err
    }
    klen := int(binary.BigEndian.Uint32(buf))
    return bytes.Equal(buf[4:4+klen], key), nil
}

func (c identityClass) UpdateRecord(arena *pmem.Arena, rec pmem.Handle, value []byte) error {
    buf, err := arena.Deref(rec)
    if err != nil {
        return err
    }
    klen := int(binary.BigEndian.Uint32(buf))
    newBuf := make([]byte, 4+klen+len(value))
    copy(newBuf, buf[:4+klen])
    copy(newBuf[4+klen:], value)
    return arena.Store(rec, newBuf)
}

func key8(n uint64) []byte {
    b := make([]byte, 8)
    binary.BigEndian.PutUint64(b, n)
    return b
}

func newTestArena(t *testing.T) *pmem.Arena {
    t.Helper()
    a, err := pmem.NewArena(pmem.WithMemClass(pmem.MemClassDRAM))
    require.NoError(t, err)
    t.Cleanup(func() { a.Close() })
    return a
}

func TestTreeInsertLookupManyKeys(t *testing.T) {
    arena := newTestArena(t)
    tr := CreateInplace(arena, identityClass{allowUpdate: true})

    const n = 500
    for i := uint64(0); i < n; i++ {
        require.NoError(t, tr.Insert(key8(i), []byte(fmt.Sprintf("v%d", i))))
    }
    for i := uint64(0); i < n; i++ {
        v, err := tr.Lookup(key8(i))
        require.NoError(t, err)
        require.Equal(t, fmt.Sprintf("v%d", i), string(v))
    }
    _, err := tr.Lookup(key8(n + 1))
    require.ErrorIs(t, err, ErrNotFound)
}

func TestTreeOverwriteForbidden(t *testing.T) {
    arena := newTestArena(t)
    tr := CreateInplace(arena, identityClass{allowUpdate: false})

    require.NoError(t, tr.Insert(key8(1), []byte("first")))
    err := tr.Insert(key8(1), []byte("second"))
    require.ErrorIs(t, err, ErrNoPermission)

    v, err := tr.Lookup(key8(1))
    require.NoError(t, err)
    require.Equal(t, "first", string(v))
}

func TestTreeUpdateOverwritesInPlace(t *testing.T) {
    arena := newTestArena(t)
    tr := CreateInplace(arena, identityClass{allowUpdate: true})

    require.NoError(t, tr.Insert(key8(1), []byte("first!!!")))
    require.NoError(t, tr.Insert(key8(1), []byte("second!!")))
    v, err := tr.Lookup(key8(1))
    require.NoError(t, err)
    require.Equal(t, "second!!", string(v))
}

func TestTreeDeleteRemovesKeyAndRebuildsLookup(t *testing.T) {
    arena := newTestArena(t)
    tr := CreateInplace(arena, identityClass{allowUpdate: true})

    const n = 200
    for i := uint64(0); i < n; i++ {
        require.NoError(t, tr.Insert(key8(i), key8(i)))
    }
    for i := uint64(0); i < n; i += 2 {
        require.NoError(t, tr.Delete(key8(i)))
    }
    for i := uint64(0); i < n; i++ {
        v, err := tr.Lookup(key8(i))
        if i%2 == 0 {
            require.ErrorIs(t, err, ErrNotFound)
        } else {
            require.NoError(t, err)
            require.Equal(t, key8(i), v)
        }
    }
}

func TestTreeIterateAscendingOrder(t *testing.T) {
    arena := newTestArena(t)
    tr := CreateInplace(arena, identityClass{allowUpdate: true})

    order := []uint64{9, 1, 5, 3, 7, 0, 8, 2, 6, 4}
    for _, k := range order {
        require.NoError(t, tr.Insert(key8(k), key8(k)))
    }

    var seen []uint64
    require.NoError(t, tr.Iterate(func(key, value []byte) error {
        seen = append(seen, binary.BigEndian.Uint64(key))
        return nil
    }))
    for i := 1; i < len(seen); i++ {
        require.Less(t, seen[i-1], seen[i])
    }
    require.Len(t, seen, len(order))
}

func TestTreeLookupHandleMatchesFetchRecord(t *testing.T) {
    arena := newTestArena(t)
    class := identityClass{allowUpdate: true}
    tr := CreateInplace(arena, class)
    require.NoError(t, tr.Insert(key8(42), []byte("payload")))

    rec, err := tr.LookupHandle(key8(42))
    require.NoError(t, err)
    key, value, err := class.FetchRecord(arena, rec)
    require.NoError(t, err)
    require.Equal(t, key8(42), key)
    require.Equal(t, "payload", string(value))
}

func TestTreeDestroyFreesEveryRecord(t *testing.T) {
    arena := newTestArena(t)
    tr := CreateInplace(arena, identityClass{allowUpdate: true})
    base := arena.Attrs().Used
    for i := uint64(0); i < 64; i++ {
        require.NoError(t, tr.Insert(key8(i), key8(i)))
    }
    require.NoError(t, tr.Destroy())
    require.True(t, tr.IsEmpty())

    // Every record and node cell went to the recycle ring; draining it must
    // return the arena to its pre-insert usage.
    require.NoError(t, arena.DrainRecycled())
    require.Equal(t, base, arena.Attrs().Used)
}
