// Ring buffers of freed handles, bucketed by cell size, so that repeated
// alloc/free cycles of same-sized node cells (the common case for B-tree
// nodes) reuse backend slots instead of growing the backend without bound.
//
// Instead of rotating whole arenas on a TTL, each bucket rotates a
// fixed-capacity slice of handles by size, and a recycled handle is reused
// verbatim in place of a fresh Alloc.
package pmem

import "sync"

const recycleRingCapacity = 256

// recycleRing holds, per exact cell size, a bounded ring of handles whose
// backend storage is still allocated at that size but logically free.
// Store() can reuse them without a Backend round trip to discover a fresh
// handle. Bucketing must stay exact-size: Backend.Store requires len(buf)
// to match the cell's previous length precisely, so a coarser (e.g.
// alignment-rounded) bucket would hand back a handle Store then rejects,
// leaking that cell since nothing frees it afterward.
type recycleRing struct {
    mu      sync.Mutex
    buckets map[int][]Handle
}

func newRecycleRing() *recycleRing {
    return &recycleRing{buckets: make(map[int][]Handle)}
}

// Put offers a freed handle back for reuse at the given size. If the bucket
// for that size is already at capacity, the handle is dropped (the caller
// must still Free it from the backend).
func (r *recycleRing) Put(size int, h Handle) bool {
    r.mu.Lock()
    defer r.mu.Unlock()
    bucket := r.buckets[size]
    if len(bucket) >= recycleRingCapacity {
        return false
    }
    r.buckets[size] = append(bucket, h)
    return true
}

// Take returns a previously recycled handle of the given size, if any.
func (r *recycleRing) Take(size int) (Handle, bool) {
    r.mu.Lock()
    defer r.mu.Unlock()
    bucket := r.buckets[size]
    if len(bucket) == 0 {
        return NullHandle, false
    }
    h := bucket[len(bucket)-1]
    r.buckets[size] = bucket[:len(bucket)-1]
    return h, true
}

// Drain removes and returns every recycled handle of the given size, used
// when a container/pool is destroyed and its slack must actually be freed
// from the backend rather than held for reuse.
func (r *recycleRing) Drain(size int) []Handle {
    r.mu.Lock()
    defer r.mu.Unlock()
    bucket := r.buckets[size]
    delete(r.buckets, size)
    return bucket
}

// DrainAll removes and returns every recycled handle across all buckets.
func (r *recycleRing) DrainAll() []Handle {
    r.mu.Lock()
    defer r.mu.Unlock()
    var all []Handle
    for size, bucket := range r.buckets {
        all = append(all, bucket...)
        delete(r.buckets, size)
    }
    return all
}
