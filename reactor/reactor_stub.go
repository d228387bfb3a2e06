//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import "github.com/momentics/hioload-wl/api"

// newPoller returns an error for unsupported platforms.
func newPoller() (poller, error) {
	return nil, api.NewError(api.ErrCodeInternal, "reactor: this platform is not supported").
		WithCause(api.ErrNotSupported)
}
