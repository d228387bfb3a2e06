// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components that own OS resources
// (epoll instances, protocol connections) and release them on teardown.
type GracefulShutdown interface {
	// Shutdown releases all resources held by the component. Calling it more
	// than once is safe.
	Shutdown() error
}
