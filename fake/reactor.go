// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

package fake

import (
	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/pool"
)

// FakeReactor records handler registrations without polling anything.
// Tests drive the registered handlers by hand.
type FakeReactor struct {
	handlers    *pool.Arena[api.Handler]
	RegisterErr error
}

// NewFakeReactor returns an empty registrar.
func NewFakeReactor() *FakeReactor {
	return &FakeReactor{handlers: pool.NewArena[api.Handler](4)}
}

func (f *FakeReactor) Register(h api.Handler) (pool.Handle, error) {
	if f.RegisterErr != nil {
		return pool.Handle{}, f.RegisterErr
	}
	return f.handlers.Insert(h), nil
}

func (f *FakeReactor) Unregister(h pool.Handle) error {
	if _, ok := f.handlers.Remove(h); !ok {
		return api.ErrNotFound
	}
	return nil
}

// Handlers returns the registered handlers in registration order.
func (f *FakeReactor) Handlers() []api.Handler {
	var out []api.Handler
	f.handlers.Each(func(_ pool.Handle, h api.Handler) bool {
		out = append(out, h)
		return true
	})
	return out
}
