// Package bench provides reproducible micro-benchmarks for the storage
// engine. Run via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// Benchmarks use the DRAM backend so results measure the B-tree/composer
// path rather than Badger's disk I/O, which has its own benchmark surface
// upstream.
package bench

import (
    "math/rand"
    "testing"

    "github.com/distvos/vos/pkg/vos"
)

const objectCount = 1 << 14

func newBenchEngine(b *testing.B) *vos.Engine {
    b.Helper()
    eng, err := vos.New(vos.WithMemClass(vos.MemClassDRAM))
    if err != nil {
        b.Fatal(err)
    }
    return eng
}

var dkeys = func() [][]byte {
    out := make([][]byte, objectCount)
    r := rand.New(rand.NewSource(42))
    for i := range out {
        out[i] = []byte{byte(r.Uint32()), byte(r.Uint32() >> 8), byte(i), byte(i >> 8)}
    }
    return out
}()

func BenchmarkObjUpdate(b *testing.B) {
    eng := newBenchEngine(b)
    defer eng.Close()
    ec := eng.NewExecContext()
    h, err := ec.ContOpen(vos.ContainerID{Lo: 1})
    if err != nil {
        b.Fatal(err)
    }
    obj := vos.ObjectID{Lo: 1}
    val := make([]byte, 64)

    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        dkey := dkeys[i&(objectCount-1)]
        idx := vos.IndexKey{Index: 0, Epoch: uint64(i) + 1}
        if err := ec.ObjUpdate(h, obj, dkey, idx, val); err != nil {
            b.Fatal(err)
        }
    }
}

func BenchmarkObjFetch(b *testing.B) {
    eng := newBenchEngine(b)
    defer eng.Close()
    ec := eng.NewExecContext()
    h, err := ec.ContOpen(vos.ContainerID{Lo: 1})
    if err != nil {
        b.Fatal(err)
    }
    obj := vos.ObjectID{Lo: 1}
    val := make([]byte, 64)
    idx := vos.IndexKey{Index: 0, Epoch: 1}
    for _, dkey := range dkeys {
        if err := ec.ObjUpdate(h, obj, dkey, idx, val); err != nil {
            b.Fatal(err)
        }
    }

    b.ReportAllocs()
    b.ResetTimer()
    for i := 0; i < b.N; i++ {
        dkey := dkeys[i&(objectCount-1)]
        if _, err := ec.ObjFetch(h, obj, dkey, idx); err != nil {
            b.Fatal(err)
        }
    }
}

func BenchmarkObjFetchParallel(b *testing.B) {
    eng := newBenchEngine(b)
    defer eng.Close()
    ec := eng.NewExecContext()
    h, err := ec.ContOpen(vos.ContainerID{Lo: 1})
    if err != nil {
        b.Fatal(err)
    }
    obj := vos.ObjectID{Lo: 1}
    val := make([]byte, 64)
    idx := vos.IndexKey{Index: 0, Epoch: 1}
    for _, dkey := range dkeys {
        if err := ec.ObjUpdate(h, obj, dkey, idx, val); err != nil {
            b.Fatal(err)
        }
    }

    b.ReportAllocs()
    b.ResetTimer()
    b.RunParallel(func(pb *testing.PB) {
        r := rand.New(rand.NewSource(1))
        for pb.Next() {
            dkey := dkeys[r.Intn(objectCount)]
            if _, err := ec.ObjFetch(h, obj, dkey, idx); err != nil {
                b.Fatal(err)
            }
        }
    })
}
