package vos

import (
    "testing"

    "github.com/stretchr/testify/require"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/vostree"
)

func newTestEngine(t *testing.T) *Engine {
    t.Helper()
    e, err := New(WithMemClass(MemClassDRAM))
    require.NoError(t, err)
    t.Cleanup(func() { e.Close() })
    return e
}

func TestContOpenCreatesContainerImplicitly(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()

    cont := ContainerID{Hi: 0, Lo: 1}
    h, err := ec.ContOpen(cont)
    require.NoError(t, err)
    require.NotZero(t, h)

    stats, err := e.Stat()
    require.NoError(t, err)
    require.Equal(t, 1, stats.Containers)
}

func TestObjUpdateFetchRoundTrip(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 42}
    idx := IndexKey{Index: 0, Epoch: 1}
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("dkey"), idx, []byte("hello")))

    got, err := ec.ObjFetch(h, obj, []byte("dkey"), idx)
    require.NoError(t, err)
    require.Equal(t, "hello", string(got))
}

func TestObjUpdateOverwriteSameEpochForbidden(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 1}
    idx := IndexKey{Index: 0, Epoch: 1}
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("dkey"), idx, []byte("first")))
    err = ec.ObjUpdate(h, obj, []byte("dkey"), idx, []byte("second"))
    require.ErrorIs(t, err, ErrNoPermission)
}

func TestObjUpdateEpochsAreIndependent(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 1}
    dkey := []byte("dkey")
    require.NoError(t, ec.ObjUpdate(h, obj, dkey, IndexKey{Index: 0, Epoch: 1}, []byte("v1")))
    require.NoError(t, ec.ObjUpdate(h, obj, dkey, IndexKey{Index: 0, Epoch: 2}, []byte("v2")))

    v1, err := ec.ObjFetch(h, obj, dkey, IndexKey{Index: 0, Epoch: 1})
    require.NoError(t, err)
    require.Equal(t, "v1", string(v1))

    v2, err := ec.ObjFetch(h, obj, dkey, IndexKey{Index: 0, Epoch: 2})
    require.NoError(t, err)
    require.Equal(t, "v2", string(v2))
}

func TestObjFetchMissingReturnsNotFound(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    _, err = ec.ObjFetch(h, ObjectID{Lo: 99}, []byte("dkey"), IndexKey{Index: 0, Epoch: 1})
    require.ErrorIs(t, err, ErrNotFound)
}

func TestObjIterateDkeysAndIndex(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 7}
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("a"), IndexKey{Index: 0, Epoch: 1}, []byte("a1")))
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("a"), IndexKey{Index: 1, Epoch: 1}, []byte("a2")))
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("b"), IndexKey{Index: 0, Epoch: 1}, []byte("b1")))

    var dkeys []string
    require.NoError(t, ec.ObjIterateDkeys(h, obj, func(dkey []byte) error {
        dkeys = append(dkeys, string(dkey))
        return nil
    }))
    require.ElementsMatch(t, []string{"a", "b"}, dkeys)

    var values []string
    require.NoError(t, ec.ObjIterateIndex(h, obj, []byte("a"), func(idx IndexKey, value []byte) error {
        values = append(values, string(value))
        return nil
    }))
    require.ElementsMatch(t, []string{"a1", "a2"}, values)
}

func TestObjDestroyRemovesObjectAndFreesStorage(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 5}
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("dkey"), IndexKey{Index: 0, Epoch: 1}, []byte("v")))

    stats, err := e.Stat()
    require.NoError(t, err)
    require.Equal(t, 1, stats.Objects)

    before := e.Attrs().Used
    require.NoError(t, ec.ObjDestroy(h, obj))

    stats, err = e.Stat()
    require.NoError(t, err)
    require.Equal(t, 0, stats.Objects)

    require.NoError(t, e.arena.DrainRecycled())
    require.Less(t, e.Attrs().Used, before)

    _, err = ec.ObjFetch(h, obj, []byte("dkey"), IndexKey{Index: 0, Epoch: 1})
    require.ErrorIs(t, err, ErrNotFound)
}

func TestObjDestroyMarksZombieWhileOpenInCache(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 9}
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("dkey"), IndexKey{Index: 0, Epoch: 1}, []byte("v")))

    contKey := ContainerID{Lo: 1}.Encode()
    objKey := obj.Encode()
    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)

    cr, err := e.containerRecord(contKey)
    require.NoError(t, err)
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objRec, err := objTree.LookupHandle(objKey)
    require.NoError(t, err)

    _, err = e.objCache.Acquire(contKey16, objKey16, objRec)
    require.NoError(t, err)
    defer e.objCache.Release(contKey16, objKey16)

    require.NoError(t, ec.ObjDestroy(h, obj))

    // Still present (zombie), not actually freed, while held open.
    stats, err := e.Stat()
    require.NoError(t, err)
    require.Equal(t, 1, stats.Objects)
}

func TestContDestroyFailsWhileObjectOpen(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    obj := ObjectID{Lo: 3}
    require.NoError(t, ec.ObjUpdate(h, obj, []byte("dkey"), IndexKey{Index: 0, Epoch: 1}, []byte("v")))

    contKey := ContainerID{Lo: 1}.Encode()
    objKey := obj.Encode()
    var contKey16, objKey16 [16]byte
    copy(contKey16[:], contKey)
    copy(objKey16[:], objKey)

    cr, err := e.containerRecord(contKey)
    require.NoError(t, err)
    objTree := btree.OpenInplace(e.arena, vostree.ObjIndexClass{}, cr.ObjIndexRoot)
    objRec, err := objTree.LookupHandle(objKey)
    require.NoError(t, err)

    _, err = e.objCache.Acquire(contKey16, objKey16, objRec)
    require.NoError(t, err)
    defer e.objCache.Release(contKey16, objKey16)

    err = ec.ContDestroy(h)
    require.ErrorIs(t, err, ErrNoPermission)
}

func TestContDestroyCascadesAndFreesStorage(t *testing.T) {
    e := newTestEngine(t)
    ec := e.NewExecContext()
    h, err := ec.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)

    require.NoError(t, ec.ObjUpdate(h, ObjectID{Lo: 1}, []byte("a"), IndexKey{Index: 0, Epoch: 1}, []byte("va")))
    require.NoError(t, ec.ObjUpdate(h, ObjectID{Lo: 2}, []byte("b"), IndexKey{Index: 0, Epoch: 1}, []byte("vb")))

    before := e.Attrs().Used
    require.NoError(t, ec.ContDestroy(h))

    stats, err := e.Stat()
    require.NoError(t, err)
    require.Equal(t, 0, stats.Containers)
    require.Equal(t, 0, stats.Objects)

    require.NoError(t, e.arena.DrainRecycled())
    require.Less(t, e.Attrs().Used, before)

    _, err = ec.ObjFetch(h, ObjectID{Lo: 1}, []byte("a"), IndexKey{Index: 0, Epoch: 1})
    require.ErrorIs(t, err, ErrInvalidArgument, "handle was invalidated by ContDestroy")
}

func TestDataSurvivesEngineCloseAndReopen(t *testing.T) {
    dir := t.TempDir()

    e1, err := New(WithMemClass(MemClassBadger), WithDataDir(dir))
    require.NoError(t, err)
    ec1 := e1.NewExecContext()
    h1, err := ec1.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)
    require.NoError(t, ec1.ObjUpdate(h1, ObjectID{Lo: 1}, []byte("dkey"), IndexKey{Index: 0, Epoch: 1}, []byte("persisted")))
    require.NoError(t, e1.Close())

    e2, err := New(WithMemClass(MemClassBadger), WithDataDir(dir))
    require.NoError(t, err)
    t.Cleanup(func() { e2.Close() })
    ec2 := e2.NewExecContext()
    h2, err := ec2.ContOpen(ContainerID{Lo: 1})
    require.NoError(t, err)
    got, err := ec2.ObjFetch(h2, ObjectID{Lo: 1}, []byte("dkey"), IndexKey{Index: 0, Epoch: 1})
    require.NoError(t, err)
    require.Equal(t, "persisted", string(got))
}
