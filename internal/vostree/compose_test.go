package vostree

import (
    "encoding/binary"
    "testing"

    "github.com/spaolacci/murmur3"
    "github.com/stretchr/testify/require"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/pmem"
)

func newTestArena(t *testing.T) *pmem.Arena {
    t.Helper()
    a, err := pmem.NewArena(pmem.WithMemClass(pmem.MemClassDRAM))
    require.NoError(t, err)
    t.Cleanup(func() { a.Close() })
    return a
}

func newObject(t *testing.T, arena *pmem.Arena) (pmem.Handle, *ObjectTree) {
    t.Helper()
    rec, err := ObjIndexClass{}.AllocRecord(arena, ObjectID{Lo: 1}.Encode(), nil)
    require.NoError(t, err)
    ot, err := OpenObjectTree(arena, ObjectID{Lo: 1}.Encode(), rec, nil)
    require.NoError(t, err)
    return rec, ot
}

func TestObjectTreeUpdateFetchRoundTrip(t *testing.T) {
    arena := newTestArena(t)
    _, ot := newObject(t, arena)

    idx := IndexKey{Index: 0, Epoch: 1}
    require.NoError(t, ot.Update([]byte("dkey-a"), idx, []byte("value-a")))

    got, err := ot.Fetch([]byte("dkey-a"), idx)
    require.NoError(t, err)
    require.Equal(t, "value-a", string(got))
}

func TestObjectTreeEpochsAreIndependent(t *testing.T) {
    arena := newTestArena(t)
    _, ot := newObject(t, arena)

    dkey := []byte("dkey")
    require.NoError(t, ot.Update(dkey, IndexKey{Index: 0, Epoch: 1}, []byte("v1")))
    require.NoError(t, ot.Update(dkey, IndexKey{Index: 0, Epoch: 2}, []byte("v2")))

    v1, err := ot.Fetch(dkey, IndexKey{Index: 0, Epoch: 1})
    require.NoError(t, err)
    require.Equal(t, "v1", string(v1))

    v2, err := ot.Fetch(dkey, IndexKey{Index: 0, Epoch: 2})
    require.NoError(t, err)
    require.Equal(t, "v2", string(v2))
}

func TestObjectTreeOverwriteSameEpochForbidden(t *testing.T) {
    arena := newTestArena(t)
    _, ot := newObject(t, arena)

    idx := IndexKey{Index: 0, Epoch: 1}
    require.NoError(t, ot.Update([]byte("dkey"), idx, []byte("first")))
    err := ot.Update([]byte("dkey"), idx, []byte("second"))
    require.ErrorIs(t, err, btree.ErrNoPermission)
}

func TestObjectTreeIterateDkeysAndIndex(t *testing.T) {
    arena := newTestArena(t)
    _, ot := newObject(t, arena)

    require.NoError(t, ot.Update([]byte("a"), IndexKey{Index: 0, Epoch: 1}, []byte("a1")))
    require.NoError(t, ot.Update([]byte("a"), IndexKey{Index: 1, Epoch: 1}, []byte("a2")))
    require.NoError(t, ot.Update([]byte("b"), IndexKey{Index: 0, Epoch: 1}, []byte("b1")))

    var dkeys []string
    require.NoError(t, ot.IterateDkeys(func(dkey []byte) error {
        dkeys = append(dkeys, string(dkey))
        return nil
    }))
    require.ElementsMatch(t, []string{"a", "b"}, dkeys)

    var idxSeen []IndexKey
    require.NoError(t, ot.IterateIndex([]byte("a"), func(idx IndexKey, payload []byte) error {
        idxSeen = append(idxSeen, idx)
        return nil
    }))
    require.Len(t, idxSeen, 2)
    require.Less(t, idxSeen[0].Index, idxSeen[1].Index)
}

func TestObjectTreeMarkZombieBlocksReopen(t *testing.T) {
    arena := newTestArena(t)
    rec, ot := newObject(t, arena)
    require.NoError(t, ot.Update([]byte("dkey"), IndexKey{Index: 0, Epoch: 1}, []byte("v")))

    require.NoError(t, MarkZombie(arena, rec))
    _, err := OpenObjectTree(arena, ObjectID{Lo: 1}.Encode(), rec, nil)
    require.ErrorIs(t, err, ErrZombie)
}

func TestObjectTreeCloseCascadesZombieDestroyAndUnwiresParent(t *testing.T) {
    arena := newTestArena(t)
    parent := btree.OpenInplace(arena, ObjIndexClass{}, pmem.NullHandle)
    objKey := ObjectID{Lo: 7}.Encode()
    require.NoError(t, parent.Insert(objKey, nil))
    rec, err := parent.LookupHandle(objKey)
    require.NoError(t, err)

    unwire := func(key []byte) error {
        return parent.Delete(key)
    }
    ot, err := OpenObjectTree(arena, objKey, rec, unwire)
    require.NoError(t, err)
    require.NoError(t, ot.Update([]byte("dkey"), IndexKey{Index: 0, Epoch: 1}, []byte("v")))

    require.NoError(t, MarkZombie(arena, rec))
    require.NoError(t, ot.Close())

    _, err = parent.Lookup(objKey)
    require.ErrorIs(t, err, btree.ErrNotFound)
}

func TestDestroyKeyTreeFreesNestedIndexTrees(t *testing.T) {
    arena := newTestArena(t)
    _, ot := newObject(t, arena)
    require.NoError(t, ot.Update([]byte("a"), IndexKey{Index: 0, Epoch: 1}, []byte("v1")))
    require.NoError(t, ot.Update([]byte("b"), IndexKey{Index: 0, Epoch: 1}, []byte("v2")))

    before := arena.Attrs().Used
    require.NoError(t, ot.Destroy())
    require.NoError(t, arena.DrainRecycled())
    after := arena.Attrs().Used
    require.Less(t, after, before)
}

func TestKeyClassHashesByMurmur(t *testing.T) {
    kc := KeyClass{}
    h1 := kc.GenHKey([]byte("foo"))
    h2 := kc.GenHKey([]byte("foo"))
    h3 := kc.GenHKey([]byte("bar"))
    require.Equal(t, h1, h2)
    require.NotEqual(t, h1, h3)
    require.Len(t, h1, 8)

    want := make([]byte, 8)
    binary.BigEndian.PutUint64(want, murmur3.Sum64WithSeed([]byte("foo"), KeyHashSeed))
    require.Equal(t, want, h1)
}

func TestIdxClassOrdersByIndexThenEpoch(t *testing.T) {
    ic := IdxClass{}
    a := IndexKey{Index: 1, Epoch: 5}.Encode()
    b := IndexKey{Index: 1, Epoch: 6}.Encode()
    c := IndexKey{Index: 2, Epoch: 0}.Encode()
    require.Negative(t, ic.CmpHKey(a, b))
    require.Negative(t, ic.CmpHKey(b, c))
    require.Zero(t, ic.CmpHKey(a, a))
}
