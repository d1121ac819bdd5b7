package pmem

import (
    "encoding/binary"
    "errors"
    "sync/atomic"

    badger "github.com/dgraph-io/badger/v4"
    "go.uber.org/zap"
)

// badgerBackend is the default, durable C1 backend. Every allocator cell is
// a Badger key/value pair; the handle is the key (an arena-relative,
// monotonically increasing integer), so handles survive process restart
// exactly the way a real persistent-memory arena would, without requiring
// mmap or PMDK. Badger's transaction commit is the durability barrier the
// allocator facade centralises.
type badgerBackend struct {
    db  *badger.DB
    log *zap.Logger

    nextID atomic.Uint64
    used   atomic.Int64
}

const (
    keyPrefixData byte = 0x01
    metaCounter        = "ctr"
    metaUsed           = "used"
)

func dataKey(h Handle) []byte {
    buf := make([]byte, 9)
    buf[0] = keyPrefixData
    binary.BigEndian.PutUint64(buf[1:], uint64(h))
    return buf
}

func metaKey(name string) []byte {
    return append([]byte{0x00}, []byte(name)...)
}

func openBadgerBackend(dir string, log *zap.Logger) (*badgerBackend, error) {
    if log == nil {
        log = zap.NewNop()
    }
    opts := badger.DefaultOptions(dir).WithLogger(nil)
    db, err := badger.Open(opts)
    if err != nil {
        return nil, errors.Join(ErrIOError, err)
    }
    b := &badgerBackend{db: db, log: log}
    b.nextID.Store(uint64(SuperblockHandle) + 1)

    err = db.View(func(txn *badger.Txn) error {
        if item, err := txn.Get(metaKey(metaCounter)); err == nil {
            return item.Value(func(v []byte) error {
                if len(v) == 8 {
                    b.nextID.Store(binary.BigEndian.Uint64(v))
                }
                return nil
            })
        } else if !errors.Is(err, badger.ErrKeyNotFound) {
            return err
        }
        return nil
    })
    if err != nil {
        db.Close()
        return nil, errors.Join(ErrIOError, err)
    }

    err = db.View(func(txn *badger.Txn) error {
        if item, err := txn.Get(metaKey(metaUsed)); err == nil {
            return item.Value(func(v []byte) error {
                if len(v) == 8 {
                    b.used.Store(int64(binary.BigEndian.Uint64(v)))
                }
                return nil
            })
        } else if !errors.Is(err, badger.ErrKeyNotFound) {
            return err
        }
        return nil
    })
    if err != nil {
        db.Close()
        return nil, errors.Join(ErrIOError, err)
    }
    return b, nil
}

func (b *badgerBackend) persistCounters(txn *badger.Txn, nextID uint64, used int64) error {
    buf := make([]byte, 8)
    binary.BigEndian.PutUint64(buf, nextID)
    if err := txn.Set(metaKey(metaCounter), buf); err != nil {
        return err
    }
    binary.BigEndian.PutUint64(buf, uint64(used))
    return txn.Set(metaKey(metaUsed), buf)
}

func (b *badgerBackend) Reserve(h Handle, buf []byte) error {
    prevLen := 0
    err := b.db.Update(func(txn *badger.Txn) error {
        existing, err := txn.Get(dataKey(h))
        if err == nil {
            v, verr := existing.ValueCopy(nil)
            if verr != nil {
                return verr
            }
            prevLen = len(v)
        } else if !errors.Is(err, badger.ErrKeyNotFound) {
            return err
        }
        if err := txn.Set(dataKey(h), append([]byte(nil), buf...)); err != nil {
            return err
        }
        return b.persistCounters(txn, b.nextID.Load(), b.used.Load()+int64(len(buf)-prevLen))
    })
    if err != nil {
        b.log.Error("pmem: reserve failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
        return errors.Join(ErrIOError, err)
    }
    b.used.Add(int64(len(buf) - prevLen))
    return nil
}

func (b *badgerBackend) Alloc(buf []byte) (Handle, error) {
    var id Handle
    err := b.db.Update(func(txn *badger.Txn) error {
        id = Handle(b.nextID.Load())
        if err := txn.Set(dataKey(id), append([]byte(nil), buf...)); err != nil {
            return err
        }
        return b.persistCounters(txn, uint64(id)+1, b.used.Load()+int64(len(buf)))
    })
    if err != nil {
        b.log.Error("pmem: alloc failed", zap.Error(err))
        return NullHandle, errors.Join(ErrIOError, err)
    }
    b.nextID.Store(uint64(id) + 1)
    b.used.Add(int64(len(buf)))
    return id, nil
}

func (b *badgerBackend) Free(h Handle) error {
    var freedLen int
    err := b.db.Update(func(txn *badger.Txn) error {
        item, err := txn.Get(dataKey(h))
        if errors.Is(err, badger.ErrKeyNotFound) {
            return ErrNotFound
        }
        if err != nil {
            return err
        }
        v, err := item.ValueCopy(nil)
        if err != nil {
            return err
        }
        freedLen = len(v)
        if err := txn.Delete(dataKey(h)); err != nil {
            return err
        }
        return b.persistCounters(txn, b.nextID.Load(), b.used.Load()-int64(freedLen))
    })
    if errors.Is(err, ErrNotFound) {
        return ErrNotFound
    }
    if err != nil {
        b.log.Error("pmem: free failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
        return errors.Join(ErrIOError, err)
    }
    b.used.Add(-int64(freedLen))
    return nil
}

func (b *badgerBackend) Deref(h Handle) ([]byte, error) {
    var out []byte
    err := b.db.View(func(txn *badger.Txn) error {
        item, err := txn.Get(dataKey(h))
        if errors.Is(err, badger.ErrKeyNotFound) {
            return ErrNotFound
        }
        if err != nil {
            return err
        }
        out, err = item.ValueCopy(nil)
        return err
    })
    if errors.Is(err, ErrNotFound) {
        return nil, ErrNotFound
    }
    if err != nil {
        return nil, errors.Join(ErrIOError, err)
    }
    return out, nil
}

func (b *badgerBackend) Store(h Handle, buf []byte) error {
    err := b.db.Update(func(txn *badger.Txn) error {
        item, err := txn.Get(dataKey(h))
        if errors.Is(err, badger.ErrKeyNotFound) {
            return ErrNotFound
        }
        if err != nil {
            return err
        }
        cur, err := item.ValueCopy(nil)
        if err != nil {
            return err
        }
        if len(cur) != len(buf) {
            return ErrInvalidArgument
        }
        return txn.Set(dataKey(h), append([]byte(nil), buf...))
    })
    if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) {
        return err
    }
    if err != nil {
        b.log.Error("pmem: store failed", zap.Uint64("handle", uint64(h)), zap.Error(err))
        return errors.Join(ErrIOError, err)
    }
    return nil
}

func (b *badgerBackend) Attrs() Attrs {
    return Attrs{Backend: "badger", Capacity: 0, Used: b.used.Load()}
}

func (b *badgerBackend) Close() error {
    return b.db.Close()
}
