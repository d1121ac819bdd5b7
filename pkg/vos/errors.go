package vos

import (
    "errors"

    "github.com/distvos/vos/internal/btree"
    "github.com/distvos/vos/internal/checksum"
    "github.com/distvos/vos/internal/pmem"
    "github.com/distvos/vos/internal/vostree"
)

// The engine surface collapses every internal failure into one of five
// taxonomy buckets, the same coarse grouping vos_common.c's callers check
// against (-DER_NOMEM, -DER_NO_PERM, -DER_NONEXIST, -DER_IO, -DER_INVAL).
var (
    ErrInvalidArgument = errors.New("vos: invalid argument")
    ErrNoMemory        = errors.New("vos: allocator exhausted")
    ErrNoPermission    = errors.New("vos: operation not permitted")
    ErrNotFound        = errors.New("vos: not found")
    ErrIOError         = errors.New("vos: io error")
)

// ErrNotInitialized is returned by any standalone operation attempted
// before InitStandalone, or after FiniStandalone.
var ErrNotInitialized = errors.New("vos: engine not initialized")

// translateErr folds an internal package error into the five-bucket public
// taxonomy while preserving the original error for errors.Is/As, so callers
// can check either vos.ErrNotFound or, say, btree.ErrNotFound.
func translateErr(err error) error {
    if err == nil {
        return nil
    }
    switch {
    case errors.Is(err, btree.ErrNotFound), errors.Is(err, pmem.ErrNotFound):
        return errors.Join(ErrNotFound, err)
    case errors.Is(err, btree.ErrNoPermission):
        return errors.Join(ErrNoPermission, err)
    case errors.Is(err, vostree.ErrZombie):
        return errors.Join(ErrNoPermission, err)
    case errors.Is(err, pmem.ErrNoMemory):
        return errors.Join(ErrNoMemory, err)
    case errors.Is(err, pmem.ErrInvalidArgument), errors.Is(err, btree.ErrCorrupt):
        return errors.Join(ErrInvalidArgument, err)
    case errors.Is(err, pmem.ErrIOError):
        return errors.Join(ErrIOError, err)
    case errors.Is(err, checksum.ErrMismatch), errors.Is(err, checksum.ErrCorruptPayload):
        return errors.Join(ErrIOError, err)
    default:
        return errors.Join(ErrIOError, err)
    }
}
