package pmem

import (
    "strconv"

    "github.com/prometheus/client_golang/prometheus"
    "go.uber.org/zap"
)

// MemClass selects which Backend implementation an Arena wraps, mirroring
// the original engine's VOS_MEM_CLASS environment toggle.
type MemClass int

const (
    // MemClassBadger persists every cell through Badger (default).
    MemClassBadger MemClass = iota
    // MemClassDRAM keeps every cell in a plain Go map; nothing survives
    // process restart. Selected by VOS_MEM_CLASS=DRAM.
    MemClassDRAM
)

type arenaMetrics interface {
    incAlloc()
    incFree()
    incRecycleHit()
    setBytes(used int64)
}

type noopArenaMetrics struct{}

func (noopArenaMetrics) incAlloc()          {}
func (noopArenaMetrics) incFree()           {}
func (noopArenaMetrics) incRecycleHit()     {}
func (noopArenaMetrics) setBytes(int64)     {}

type promArenaMetrics struct {
    allocs      prometheus.Counter
    frees       prometheus.Counter
    recycleHits prometheus.Counter
    bytes       prometheus.Gauge
    label       string
}

func newPromArenaMetrics(reg *prometheus.Registry, label string) *promArenaMetrics {
    m := &promArenaMetrics{
        label: label,
        allocs: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace:   "vos",
            Subsystem:   "pmem",
            Name:        "allocs_total",
            Help:        "Number of allocator cells allocated.",
            ConstLabels: prometheus.Labels{"arena": label},
        }),
        frees: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace:   "vos",
            Subsystem:   "pmem",
            Name:        "frees_total",
            Help:        "Number of allocator cells freed.",
            ConstLabels: prometheus.Labels{"arena": label},
        }),
        recycleHits: prometheus.NewCounter(prometheus.CounterOpts{
            Namespace:   "vos",
            Subsystem:   "pmem",
            Name:        "recycle_hits_total",
            Help:        "Number of allocations satisfied from the recycle ring.",
            ConstLabels: prometheus.Labels{"arena": label},
        }),
        bytes: prometheus.NewGauge(prometheus.GaugeOpts{
            Namespace:   "vos",
            Subsystem:   "pmem",
            Name:        "bytes_used",
            Help:        "Live bytes held by the allocator backend.",
            ConstLabels: prometheus.Labels{"arena": label},
        }),
    }
    reg.MustRegister(m.allocs, m.frees, m.recycleHits, m.bytes)
    return m
}

func (m *promArenaMetrics) incAlloc()      { m.allocs.Inc() }
func (m *promArenaMetrics) incFree()       { m.frees.Inc() }
func (m *promArenaMetrics) incRecycleHit() { m.recycleHits.Inc() }
func (m *promArenaMetrics) setBytes(v int64) { m.bytes.Set(float64(v)) }

// Arena is the public C1 facade: every caller that needs durable, handle
// addressed storage goes through it, so flush/durability ordering and node
// recycling are centralised in one place instead of scattered across the
// B-tree and object-tree layers.
type Arena struct {
    backend Backend
    recycle *recycleRing
    metrics arenaMetrics
    log     *zap.Logger
}

// ArenaOption configures an Arena at construction time.
type ArenaOption func(*arenaOptions)

type arenaOptions struct {
    memClass MemClass
    dataDir  string
    registry *prometheus.Registry
    logger   *zap.Logger
    label    string
}

// WithMemClass selects the backend implementation.
func WithMemClass(c MemClass) ArenaOption {
    return func(o *arenaOptions) { o.memClass = c }
}

// WithDataDir sets the Badger data directory (ignored for MemClassDRAM).
func WithDataDir(dir string) ArenaOption {
    return func(o *arenaOptions) { o.dataDir = dir }
}

// WithArenaMetrics attaches a Prometheus registry; nil disables metrics.
func WithArenaMetrics(reg *prometheus.Registry) ArenaOption {
    return func(o *arenaOptions) { o.registry = reg }
}

// WithArenaLogger attaches a zap logger; nil defaults to a no-op logger.
func WithArenaLogger(l *zap.Logger) ArenaOption {
    return func(o *arenaOptions) { o.logger = l }
}

// WithArenaLabel sets the Prometheus const-label distinguishing this arena
// from others in the same process (e.g. one label per pool).
func WithArenaLabel(label string) ArenaOption {
    return func(o *arenaOptions) { o.label = label }
}

// NewArena constructs an Arena over the selected backend.
func NewArena(opts ...ArenaOption) (*Arena, error) {
    o := arenaOptions{memClass: MemClassBadger, dataDir: "vos-data", label: "default"}
    for _, opt := range opts {
        opt(&o)
    }
    if o.logger == nil {
        o.logger = zap.NewNop()
    }

    var backend Backend
    var err error
    switch o.memClass {
    case MemClassDRAM:
        backend = newDRAMBackend()
    default:
        backend, err = openBadgerBackend(o.dataDir, o.logger)
        if err != nil {
            return nil, err
        }
    }

    var metrics arenaMetrics = noopArenaMetrics{}
    if o.registry != nil {
        metrics = newPromArenaMetrics(o.registry, o.label)
    }

    a := &Arena{backend: backend, recycle: newRecycleRing(), metrics: metrics, log: o.logger}
    metrics.setBytes(backend.Attrs().Used)
    return a, nil
}

// Reserve writes buf to a well-known reserved handle (the pool superblock).
func (a *Arena) Reserve(h Handle, buf []byte) error {
    if err := a.backend.Reserve(h, buf); err != nil {
        return err
    }
    a.metrics.setBytes(a.backend.Attrs().Used)
    return nil
}

// Alloc hands out a handle for buf, preferring a recycled same-size handle
// over growing the backend, and returns the handle holding buf's bytes.
func (a *Arena) Alloc(buf []byte) (Handle, error) {
    if h, ok := a.recycle.Take(len(buf)); ok {
        if err := a.backend.Store(h, buf); err == nil {
            a.metrics.incRecycleHit()
            a.metrics.incAlloc()
            return h, nil
        }
        // Fall through to a fresh allocation; the stale recycled handle is
        // simply dropped (its backend cell may already be gone).
    }
    h, err := a.backend.Alloc(buf)
    if err != nil {
        a.log.Error("pmem: alloc failed", zap.Error(err))
        return NullHandle, err
    }
    a.metrics.incAlloc()
    a.metrics.setBytes(a.backend.Attrs().Used)
    return h, nil
}

// Free releases h. size must be the length most recently stored at h; it is
// used to bucket the handle for recycling before the backend cell is
// actually deleted.
func (a *Arena) Free(h Handle, size int) error {
    if a.recycle.Put(size, h) {
        a.metrics.incFree()
        return nil
    }
    if err := a.backend.Free(h); err != nil {
        return err
    }
    a.metrics.incFree()
    a.metrics.setBytes(a.backend.Attrs().Used)
    return nil
}

// Deref returns a copy of the bytes stored at h.
func (a *Arena) Deref(h Handle) ([]byte, error) {
    return a.backend.Deref(h)
}

// Store overwrites h in place; len(buf) must match the previous length.
func (a *Arena) Store(h Handle, buf []byte) error {
    return a.backend.Store(h, buf)
}

// Attrs reports current allocator statistics.
func (a *Arena) Attrs() Attrs {
    return a.backend.Attrs()
}

// DrainRecycled releases every handle currently held for reuse back to the
// backend, used when a pool is destroyed and its slack must genuinely be
// freed rather than kept warm for the next allocation of that size.
func (a *Arena) DrainRecycled() error {
    for _, h := range a.recycle.DrainAll() {
        if err := a.backend.Free(h); err != nil && err != ErrNotFound {
            return err
        }
    }
    a.metrics.setBytes(a.backend.Attrs().Used)
    return nil
}

// Close releases backend resources.
func (a *Arena) Close() error {
    return a.backend.Close()
}

func labelFor(poolID uint64) string {
    return "pool-" + strconv.FormatUint(poolID, 10)
}
