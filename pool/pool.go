// File: pool/pool.go
// Author: momentics <momentics@gmail.com>
//
// Reusable buffer and object pools for hot paths that allocate once per
// I/O operation; cmd/fiberrtd uses BytePool for its per-connection echo
// buffer. Adapted from the teacher's pool/bytepool.go
// and pool/objpool.go, with the NUMA-aware backing pool dropped — nothing
// in this runtime pins workers to NUMA nodes, so it would sit unwired.
package pool

import (
	"sync"

	"github.com/coreflux/fiberrt/api"
)

var _ api.BytePool = (*BytePool)(nil)

// BytePool hands out fixed-size byte slices from a sync.Pool, implementing
// api.BytePool.
type BytePool struct {
	pool *sync.Pool
	size int
}

// NewBytePool creates a pool of buffers of the given size.
func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: &sync.Pool{
			New: func() any { return make([]byte, size) },
		},
	}
}

// Acquire returns a slice of at least n bytes, reusing a pooled one when
// it's large enough and minting a fresh one otherwise.
func (b *BytePool) Acquire(n int) []byte {
	buf := b.pool.Get().([]byte)
	if cap(buf) < n {
		return make([]byte, n)
	}
	return buf[:n]
}

// Release returns buf to the pool for reuse, provided it matches the
// pool's configured size class.
func (b *BytePool) Release(buf []byte) {
	if cap(buf) != b.size {
		return
	}
	b.pool.Put(buf[:b.size]) //nolint:staticcheck // slice reuse, not a leak
}

// ObjectPool wraps sync.Pool for typed reuse of transient allocations,
// implementing api.ObjectPool[T].
type ObjectPool[T any] struct {
	pool *sync.Pool
}

// NewObjectPool creates a generic pool backed by creator for misses.
func NewObjectPool[T any](creator func() T) *ObjectPool[T] {
	return &ObjectPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

// Get returns a pooled or freshly created instance.
func (p *ObjectPool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns obj for reuse.
func (p *ObjectPool[T]) Put(obj T) {
	p.pool.Put(obj)
}
