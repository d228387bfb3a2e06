// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral reactor: handler registry and iteration driver.

package reactor

import (
	"context"
	"fmt"
	"time"

	"github.com/momentics/hioload-wl/api"
	"github.com/momentics/hioload-wl/control"
	"github.com/momentics/hioload-wl/pool"
)

// Handle identifies a registration. Stale handles are rejected.
type Handle = pool.Handle

// Config holds reactor construction parameters.
type Config struct {
	MaxEvents int                      // Ready events collected per wait
	Timeout   time.Duration            // Wait timeout used by Run; negative blocks
	Metrics   *control.MetricsRegistry // Optional counters sink
}

// DefaultConfig returns a blocking reactor configuration.
func DefaultConfig() Config {
	return Config{
		MaxEvents: 32,
		Timeout:   -1,
	}
}

// readyEvent is one readiness notification reported by a poller backend.
type readyEvent struct {
	handle Handle
	mask   api.EventMask
	wake   bool
}

// poller is the OS readiness primitive behind a Reactor.
type poller interface {
	add(fd int, interest api.EventMask, h Handle) error
	del(fd int) error
	wait(out []readyEvent, timeout time.Duration) (int, error)
	wake() error
	drain() error
	close() error
}

type registration struct {
	handler api.Handler
	fd      int
}

// Reactor multiplexes readiness of registered descriptors.
type Reactor struct {
	poller   poller
	handlers *pool.Arena[registration]
	byFd     map[int]Handle
	ready    []readyEvent
	timeout  time.Duration
	metrics  *control.MetricsRegistry
	closed   bool
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Reactor)(nil)

// New creates a reactor backed by the platform poller.
func New(cfg Config) (*Reactor, error) {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = DefaultConfig().MaxEvents
	}
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	return newReactor(p, cfg), nil
}

func newReactor(p poller, cfg Config) *Reactor {
	return &Reactor{
		poller:   p,
		handlers: pool.NewArena[registration](8),
		byFd:     make(map[int]Handle),
		ready:    make([]readyEvent, cfg.MaxEvents),
		timeout:  cfg.Timeout,
		metrics:  cfg.Metrics,
	}
}

// Register adds h to the poller and the handler registry. Registering a
// descriptor twice fails with api.ErrAlreadyExists.
func (r *Reactor) Register(h api.Handler) (Handle, error) {
	if r.closed {
		return Handle{}, registrationError(h, api.ErrClosed)
	}
	fd := h.Fd()
	if fd < 0 {
		return Handle{}, registrationError(h, api.ErrInvalidArgument)
	}
	if _, dup := r.byFd[fd]; dup {
		return Handle{}, registrationError(h, api.ErrAlreadyExists)
	}

	handle := r.handlers.Insert(registration{handler: h, fd: fd})
	if err := r.poller.add(fd, h.Events(), handle); err != nil {
		r.handlers.Remove(handle)
		return Handle{}, registrationError(h, err)
	}
	r.byFd[fd] = handle
	r.metrics.Add("reactor.handlers", 1)
	return handle, nil
}

// Unregister removes the registration behind handle. The handler itself is
// not closed; it belongs to whoever registered it.
func (r *Reactor) Unregister(handle Handle) error {
	reg, ok := r.handlers.Remove(handle)
	if !ok {
		return api.ErrNotFound
	}
	delete(r.byFd, reg.fd)
	r.metrics.Add("reactor.handlers", -1)
	if r.closed {
		return nil
	}
	if err := r.poller.del(reg.fd); err != nil {
		return fmt.Errorf("reactor: unregister fd %d: %w", reg.fd, err)
	}
	return nil
}

// Len returns the number of registered handlers.
func (r *Reactor) Len() int {
	return r.handlers.Len()
}

// RunOnce performs one iteration: wait up to timeout (negative blocks until
// readiness or Wake), deliver OnEvent to ready handlers, then OnEach to all
// handlers. The first callback error aborts the iteration and is returned.
func (r *Reactor) RunOnce(timeout time.Duration) error {
	if r.closed {
		return api.ErrClosed
	}
	n, err := r.poller.wait(r.ready, timeout)
	if err != nil {
		return fmt.Errorf("reactor: wait: %w", err)
	}
	r.metrics.Add("reactor.iterations", 1)

	for i := 0; i < n; i++ {
		ev := r.ready[i]
		if ev.wake {
			if err := r.poller.drain(); err != nil {
				return fmt.Errorf("reactor: drain wakeup: %w", err)
			}
			continue
		}
		// An earlier callback may have unregistered this one.
		reg, ok := r.handlers.Get(ev.handle)
		if !ok {
			continue
		}
		r.metrics.Add("reactor.events", 1)
		if err := reg.handler.OnEvent(ev.mask); err != nil {
			return fmt.Errorf("reactor: fd %d event: %w", reg.fd, err)
		}
	}

	for _, handle := range r.handlers.Handles() {
		reg, ok := r.handlers.Get(handle)
		if !ok {
			continue
		}
		if err := reg.handler.OnEach(); err != nil {
			return fmt.Errorf("reactor: fd %d each: %w", reg.fd, err)
		}
	}
	return nil
}

// Run iterates until done reports true, ctx is cancelled, or a callback
// fails. done is checked at iteration boundaries only.
func (r *Reactor) Run(ctx context.Context, done func() bool) error {
	woke := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		defer close(woke)
		_ = r.Wake()
	})
	defer func() {
		if !stop() {
			<-woke
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if done != nil && done() {
			return nil
		}
		if err := r.RunOnce(r.timeout); err != nil {
			return err
		}
	}
}

// Wake interrupts a blocked wait. Safe to call from any goroutine.
func (r *Reactor) Wake() error {
	return r.poller.wake()
}

// Close releases the poller. Registered handlers are left untouched.
func (r *Reactor) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.poller.close()
}

// Shutdown implements api.GracefulShutdown.
func (r *Reactor) Shutdown() error {
	return r.Close()
}

func registrationError(h api.Handler, cause error) error {
	return api.NewError(api.ErrCodeRegistration, "reactor: failed to add fd to poller").
		WithContext("fd", h.Fd()).
		WithCause(cause)
}
