package vos

// config.go defines the engine's functional options: which allocator
// backend to use (mirroring the VOS_MEM_CLASS toggle), which checksum
// family protects stored values (VOS_CHECKSUM), the object reference
// cache's capacity, and the usual metrics/logger hooks.

import (
    "os"

    "github.com/prometheus/client_golang/prometheus"
    "go.uber.org/zap"

    "github.com/distvos/vos/internal/checksum"
    "github.com/distvos/vos/internal/pmem"
)

// MemClass selects the allocator backend; re-exported so callers never need
// to import internal/pmem directly.
type MemClass = pmem.MemClass

const (
    MemClassBadger = pmem.MemClassBadger
    MemClassDRAM   = pmem.MemClassDRAM
)

// Option configures an Engine at construction time.
type Option func(*config)

type config struct {
    memClass       pmem.MemClass
    dataDir        string
    checksumFamily checksum.Family
    objCacheCap    int64
    registry       *prometheus.Registry
    logger         *zap.Logger
}

func defaultConfig() *config {
    cfg := &config{
        memClass:       pmem.MemClassBadger,
        dataDir:        "vos-data",
        checksumFamily: checksum.DefaultFamily(),
        objCacheCap:    1024,
        logger:         zap.NewNop(),
    }
    if os.Getenv("VOS_MEM_CLASS") == "DRAM" {
        cfg.memClass = pmem.MemClassDRAM
    }
    return cfg
}

// WithMemClass selects the allocator backend. Overrides VOS_MEM_CLASS.
func WithMemClass(c pmem.MemClass) Option {
    return func(cfg *config) { cfg.memClass = c }
}

// WithDataDir sets the Badger data directory (ignored under MemClassDRAM).
func WithDataDir(dir string) Option {
    return func(cfg *config) {
        if dir != "" {
            cfg.dataDir = dir
        }
    }
}

// WithChecksum selects the checksum family. Overrides VOS_CHECKSUM.
func WithChecksum(family checksum.Family) Option {
    return func(cfg *config) { cfg.checksumFamily = family }
}

// WithObjectCacheCapacity bounds how many object trees the reference cache
// (C6) keeps resident at once.
func WithObjectCacheCapacity(n int64) Option {
    return func(cfg *config) {
        if n > 0 {
            cfg.objCacheCap = n
        }
    }
}

// WithMetrics enables Prometheus metrics collection. Passing nil disables
// metrics (default).
func WithMetrics(reg *prometheus.Registry) Option {
    return func(cfg *config) { cfg.registry = reg }
}

// WithLogger plugs an external zap.Logger. The engine never logs on the
// insert/lookup hot path; only allocator/backend failures, checksum
// mismatches on fetch and object-close failures are logged.
func WithLogger(l *zap.Logger) Option {
    return func(cfg *config) {
        if l != nil {
            cfg.logger = l
        }
    }
}
