// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package pool

import "sync"

// ObjectPool is a generic object pool.
type ObjectPool[T any] interface {
	Get() T
	Put(T)
}

// SyncPool wraps sync.Pool for generic usage. Values returned by Get are
// either recycled or freshly made by the creator function.
type SyncPool[T any] struct {
	pool  *sync.Pool
	reset func(T) bool
}

var _ ObjectPool[[]byte] = (*SyncPool[[]byte])(nil)

// NewSyncPool creates a new SyncPool with a creator function.
func NewSyncPool[T any](creator func() T) *SyncPool[T] {
	return &SyncPool[T]{
		pool: &sync.Pool{New: func() any { return creator() }},
	}
}

// WithReset installs a hook run by Put. Returning false drops the value
// instead of keeping it, e.g. for oversized buffers.
func (sp *SyncPool[T]) WithReset(reset func(T) bool) *SyncPool[T] {
	sp.reset = reset
	return sp
}

func (sp *SyncPool[T]) Get() T {
	return sp.pool.Get().(T)
}

func (sp *SyncPool[T]) Put(obj T) {
	if sp.reset != nil && !sp.reset(obj) {
		return
	}
	sp.pool.Put(obj)
}
