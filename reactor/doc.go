// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the single-threaded, fd-multiplexing event loop
// that protocol connections and other descriptors plug into.
//
// A Reactor owns one epoll instance and an arena of api.Handler
// registrations. Each iteration waits for readiness, calls OnEvent on every
// ready handler, then calls OnEach on every registered handler exactly once.
// Code that defers outgoing writes to OnEach therefore always observes the
// state produced by the iteration's incoming events.
//
// The reactor takes no locks: all callbacks run on the goroutine that calls
// RunOnce or Run. Wake is the only method safe to call from elsewhere.
package reactor
