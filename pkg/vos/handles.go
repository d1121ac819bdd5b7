package vos

// handles.go is the handle registry and lifecycle layer (C8): a standalone
// Engine singleton (InitStandalone/FiniStandalone, mirroring vos_init/
// vos_fini's idempotent process-wide init) plus per-caller ExecContext
// values that track which containers a given caller currently holds open,
// the same role vos_obj_hold's thread-local handle hash table plays in the
// original engine, made explicit instead of implicit.

import "sync"

var (
    standaloneMu  sync.Mutex
    standaloneEng *Engine
)

// InitStandalone constructs the process-wide Engine singleton, or is a
// no-op if one is already running. Mirrors vos_init's idempotent guard.
func InitStandalone(opts ...Option) error {
    standaloneMu.Lock()
    defer standaloneMu.Unlock()
    if standaloneEng != nil {
        return nil
    }
    e, err := New(opts...)
    if err != nil {
        return err
    }
    standaloneEng = e
    return nil
}

// FiniStandalone closes the process-wide Engine singleton, or is a no-op if
// none is running. Mirrors vos_fini.
func FiniStandalone() error {
    standaloneMu.Lock()
    defer standaloneMu.Unlock()
    if standaloneEng == nil {
        return nil
    }
    err := standaloneEng.Close()
    standaloneEng = nil
    return err
}

// StandaloneExecContext returns a fresh ExecContext over the standalone
// singleton, or ErrNotInitialized if InitStandalone has not been called.
func StandaloneExecContext() (*ExecContext, error) {
    standaloneMu.Lock()
    defer standaloneMu.Unlock()
    if standaloneEng == nil {
        return nil, ErrNotInitialized
    }
    return standaloneEng.NewExecContext(), nil
}

// ContainerHandle is an opaque reference to an open container, scoped to
// the ExecContext that produced it. It carries no meaning outside that
// ExecContext, the same way a vos_cont_handle_t is only valid within the
// pool handle it was opened under.
type ContainerHandle uint64

// ExecContext scopes a sequence of operations to the containers they have
// explicitly opened, the same role a DAOS execution stream's thread-local
// handle table plays, but as an ordinary Go value instead of TLS.
type ExecContext struct {
    engine *Engine

    mu   sync.Mutex
    next ContainerHandle
    open map[ContainerHandle]ContainerID
}

// NewExecContext returns a fresh, independent handle table over e.
func (e *Engine) NewExecContext() *ExecContext {
    return &ExecContext{engine: e, next: 1, open: make(map[ContainerHandle]ContainerID)}
}

// ContOpen opens (creating on first reference) the container named by id
// and returns a handle scoped to ec.
func (ec *ExecContext) ContOpen(id ContainerID) (ContainerHandle, error) {
    if err := ec.engine.ensureContainer(id); err != nil {
        return 0, err
    }
    ec.mu.Lock()
    defer ec.mu.Unlock()
    h := ec.next
    ec.next++
    ec.open[h] = id
    return h, nil
}

// ContClose releases h. Further operations against h fail with
// ErrInvalidArgument.
func (ec *ExecContext) ContClose(h ContainerHandle) error {
    ec.mu.Lock()
    defer ec.mu.Unlock()
    if _, ok := ec.open[h]; !ok {
        return ErrInvalidArgument
    }
    delete(ec.open, h)
    return nil
}

func (ec *ExecContext) resolve(h ContainerHandle) (ContainerID, error) {
    ec.mu.Lock()
    defer ec.mu.Unlock()
    id, ok := ec.open[h]
    if !ok {
        return ContainerID{}, ErrInvalidArgument
    }
    return id, nil
}

// ContDestroy destroys the container named by h. The handle need not be
// closed first, but a destroyed container can no longer be used through it.
func (ec *ExecContext) ContDestroy(h ContainerHandle) error {
    id, err := ec.resolve(h)
    if err != nil {
        return err
    }
    if err := ec.engine.contDestroy(id); err != nil {
        return err
    }
    ec.mu.Lock()
    delete(ec.open, h)
    ec.mu.Unlock()
    return nil
}

// ObjUpdate stores value at (obj, dkey, idx) within the container held
// open by h.
func (ec *ExecContext) ObjUpdate(h ContainerHandle, obj ObjectID, dkey []byte, idx IndexKey, value []byte) error {
    id, err := ec.resolve(h)
    if err != nil {
        return err
    }
    return ec.engine.objUpdate(id, obj, dkey, idx, value)
}

// ObjFetch returns the value stored at (obj, dkey, idx) within the
// container held open by h.
func (ec *ExecContext) ObjFetch(h ContainerHandle, obj ObjectID, dkey []byte, idx IndexKey) ([]byte, error) {
    id, err := ec.resolve(h)
    if err != nil {
        return nil, err
    }
    return ec.engine.objFetch(id, obj, dkey, idx)
}

// ObjIterateDkeys visits every dkey present under obj.
func (ec *ExecContext) ObjIterateDkeys(h ContainerHandle, obj ObjectID, fn func(dkey []byte) error) error {
    id, err := ec.resolve(h)
    if err != nil {
        return err
    }
    return ec.engine.objIterateDkeys(id, obj, fn)
}

// ObjIterateIndex visits every (index, epoch) -> value pair under dkey.
func (ec *ExecContext) ObjIterateIndex(h ContainerHandle, obj ObjectID, dkey []byte, fn func(idx IndexKey, value []byte) error) error {
    id, err := ec.resolve(h)
    if err != nil {
        return err
    }
    return ec.engine.objIterateIndex(id, obj, dkey, fn)
}

// ObjDestroy removes obj from the container held open by h.
func (ec *ExecContext) ObjDestroy(h ContainerHandle, obj ObjectID) error {
    id, err := ec.resolve(h)
    if err != nil {
        return err
    }
    return ec.engine.objDestroy(id, obj)
}
