// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage.
type SyncPool[T any] struct {
	pool *sync.Pool
}

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	sp.pool.Put(obj)
}

// BytePool hands out zero-length byte slices with at least size capacity.
// Slices that grew beyond maxRetain are dropped on Put so one oversized
// message does not pin memory forever.
type BytePool struct {
	maxRetain int
	pool      *SyncPool[*[]byte]
}

var _ ObjectPool[*[]byte] = (*BytePool)(nil)

// NewBytePool creates a pool of buffers with initial capacity size.
// maxRetain <= 0 retains buffers of any capacity.
func NewBytePool(size, maxRetain int) *BytePool {
	if size <= 0 {
		size = 4096
	}
	return &BytePool{
		maxRetain: maxRetain,
		pool: NewSyncPool(func() *[]byte {
			b := make([]byte, 0, size)
			return &b
		}),
	}
}

// Get returns an empty buffer.
func (p *BytePool) Get() *[]byte {
	b := p.pool.Get()
	*b = (*b)[:0]
	return b
}

// Put returns b to the pool. nil is ignored.
func (p *BytePool) Put(b *[]byte) {
	if b == nil {
		return
	}
	if p.maxRetain > 0 && cap(*b) > p.maxRetain {
		return
	}
	*b = (*b)[:0]
	p.pool.Put(b)
}
