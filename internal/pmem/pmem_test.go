package pmem

import (
    "testing"

    "github.com/stretchr/testify/require"
)

func TestDRAMBackendAllocFreeDeref(t *testing.T) {
    b := newDRAMBackend()
    h, err := b.Alloc([]byte("hello"))
    require.NoError(t, err)

    got, err := b.Deref(h)
    require.NoError(t, err)
    require.Equal(t, []byte("hello"), got)

    require.NoError(t, b.Store(h, []byte("world")))
    got, err = b.Deref(h)
    require.NoError(t, err)
    require.Equal(t, []byte("world"), got)

    require.ErrorIs(t, b.Store(h, []byte("too long by one")), ErrInvalidArgument)

    require.NoError(t, b.Free(h))
    _, err = b.Deref(h)
    require.ErrorIs(t, err, ErrNotFound)
}

func TestDRAMBackendReserve(t *testing.T) {
    b := newDRAMBackend()
    require.NoError(t, b.Reserve(SuperblockHandle, make([]byte, 8)))
    got, err := b.Deref(SuperblockHandle)
    require.NoError(t, err)
    require.Len(t, got, 8)

    // Reserve is idempotent and may resize the cell in place.
    require.NoError(t, b.Reserve(SuperblockHandle, make([]byte, 4)))
    got, err = b.Deref(SuperblockHandle)
    require.NoError(t, err)
    require.Len(t, got, 4)
}

func TestArenaAllocRecyclesSameSizeHandles(t *testing.T) {
    a, err := NewArena(WithMemClass(MemClassDRAM))
    require.NoError(t, err)
    defer a.Close()

    h1, err := a.Alloc([]byte("12345678"))
    require.NoError(t, err)
    require.NoError(t, a.Free(h1, 8))

    h2, err := a.Alloc([]byte("abcdefgh"))
    require.NoError(t, err)
    require.Equal(t, h1, h2, "same-size alloc after free should recycle the freed handle")

    got, err := a.Deref(h2)
    require.NoError(t, err)
    require.Equal(t, []byte("abcdefgh"), got)
}

func TestArenaAttrsTracksUsedBytes(t *testing.T) {
    a, err := NewArena(WithMemClass(MemClassDRAM))
    require.NoError(t, err)
    defer a.Close()

    base := a.Attrs().Used
    h, err := a.Alloc(make([]byte, 100))
    require.NoError(t, err)
    require.Equal(t, base+100, a.Attrs().Used)

    require.NoError(t, a.Free(h, 100))
    require.NoError(t, a.DrainRecycled())
    require.Equal(t, base, a.Attrs().Used)
}
