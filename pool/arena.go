// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"cmp"
	"fmt"
	"slices"
)

// Handle addresses one slot of an Arena. The generation makes a handle to a
// removed value fail lookups even after its slot has been reused.
type Handle struct {
	index uint32
	gen   uint32
}

// Valid reports whether h was ever issued by an arena.
func (h Handle) Valid() bool {
	return h.gen != 0
}

func (h Handle) String() string {
	return fmt.Sprintf("%d#%d", h.index, h.gen)
}

// Index returns the slot index.
func (h Handle) Index() uint32 {
	return h.index
}

// Generation returns the slot generation at insertion time.
func (h Handle) Generation() uint32 {
	return h.gen
}

// MakeHandle rebuilds a handle from its parts, e.g. from epoll user data.
func MakeHandle(index, gen uint32) Handle {
	return Handle{index: index, gen: gen}
}

type slot[T any] struct {
	value T
	gen   uint32
	live  bool
	seq   uint64
}

// Arena is a growable slot container. Removal is O(1) and never moves other
// values. Not safe for concurrent use.
type Arena[T any] struct {
	slots []slot[T]
	free  []uint32
	count int
	seq   uint64
}

// NewArena allocates an arena with room for capacity values.
func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{slots: make([]slot[T], 0, capacity)}
}

// Insert stores v and returns its handle.
func (a *Arena[T]) Insert(v T) Handle {
	a.seq++
	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		a.slots = append(a.slots, slot[T]{})
		idx = uint32(len(a.slots) - 1)
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.value = v
	s.live = true
	s.seq = a.seq
	a.count++
	return Handle{index: idx, gen: s.gen}
}

// Get returns the value behind h.
func (a *Arena[T]) Get(h Handle) (T, bool) {
	var zero T
	if !a.owns(h) {
		return zero, false
	}
	return a.slots[h.index].value, true
}

// Remove drops the value behind h and returns it.
func (a *Arena[T]) Remove(h Handle) (T, bool) {
	var zero T
	if !a.owns(h) {
		return zero, false
	}
	s := &a.slots[h.index]
	v := s.value
	s.value = zero
	s.live = false
	a.free = append(a.free, h.index)
	a.count--
	return v, true
}

// Len returns the number of live values.
func (a *Arena[T]) Len() int {
	return a.count
}

// Each visits live values in insertion order until fn returns false.
// fn may remove the visited value.
func (a *Arena[T]) Each(fn func(Handle, T) bool) {
	for _, h := range a.Handles() {
		v, ok := a.Get(h)
		if !ok {
			continue
		}
		if !fn(h, v) {
			return
		}
	}
}

// Handles returns the handles of all live values in insertion order.
func (a *Arena[T]) Handles() []Handle {
	out := make([]Handle, 0, a.count)
	for i := range a.slots {
		if a.slots[i].live {
			out = append(out, Handle{index: uint32(i), gen: a.slots[i].gen})
		}
	}
	// Reused slots break index order.
	slices.SortFunc(out, func(x, y Handle) int {
		return cmp.Compare(a.slots[x.index].seq, a.slots[y.index].seq)
	})
	return out
}

func (a *Arena[T]) owns(h Handle) bool {
	if h.gen == 0 || int(h.index) >= len(a.slots) {
		return false
	}
	s := &a.slots[h.index]
	return s.live && s.gen == h.gen
}
