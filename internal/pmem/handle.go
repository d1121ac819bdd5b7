// Package pmem implements the persistent allocator facade (C1): a thin,
// centralised wrapper around a byte-addressable backend that hands out
// arena-relative handles instead of raw pointers, so that every caller goes
// through one place for flush/durability ordering.
//
// Two backends are selected at construction time, mirroring the original
// engine's VOS_MEM_CLASS toggle: a Badger-backed durable arena (default) and
// an in-memory volatile arena (for benchmarking, all data non-durable).
package pmem

import "errors"

// Handle names a persistent cell. The zero value is the null handle and is
// never returned by a successful Alloc.
type Handle uint64

// NullHandle is the reserved handle value meaning "empty" or "unused".
const NullHandle Handle = 0

// Reserved handle for the pool superblock; never produced by Alloc/recycle.
const SuperblockHandle Handle = 1

var (
    // ErrNoMemory is returned when the backend cannot satisfy an Alloc.
    ErrNoMemory = errors.New("pmem: allocator exhausted")
    // ErrNotFound is returned when Deref/Free/Store target a handle that
    // does not exist (already freed, or never allocated).
    ErrNotFound = errors.New("pmem: handle not found")
    // ErrIOError wraps backend I/O failures (Badger transaction errors).
    ErrIOError = errors.New("pmem: backend io error")
    // ErrInvalidArgument is returned for malformed Store calls (size
    // mismatch with the original allocation).
    ErrInvalidArgument = errors.New("pmem: invalid argument")
)

// Attrs reports coarse allocator statistics, used by the engine to verify
// that a destroyed container/pool returns arena usage to baseline.
type Attrs struct {
    Backend  string
    Capacity int64 // 0 means unbounded (e.g. Badger growing on disk)
    Used     int64 // live bytes currently allocated
}

// Backend is the byte-addressable store beneath the allocator facade. Every
// implementation must make Alloc/Free/Deref/Store atomic with respect to its
// own durability barrier (a Badger txn commit, or nothing for DRAM).
type Backend interface {
    // Reserve persists size bytes under handle h, used only for the
    // reserved superblock handle which is never produced by Alloc.
    Reserve(h Handle, buf []byte) error
    // Alloc allocates a fresh handle and stores buf as its initial content.
    Alloc(buf []byte) (Handle, error)
    // Free deletes the cell addressed by h.
    Free(h Handle) error
    // Deref returns a copy of the bytes stored at h.
    Deref(h Handle) ([]byte, error)
    // Store overwrites the bytes at h in place; len(buf) must equal the
    // length most recently stored (Alloc/Store) at h.
    Store(h Handle, buf []byte) error
    // Attrs reports backend statistics.
    Attrs() Attrs
    // Close releases backend resources.
    Close() error
}
