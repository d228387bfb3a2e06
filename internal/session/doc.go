// Package session
// Author: momentics <momentics@gmail.com>
//
// Display session layer for a Wayland client.
// A Session connects to the compositor, binds the globals it needs, keeps
// per-output metadata current and registers its socket with the reactor as
// a single handler. Protocol errors raised while dispatching are returned
// as *api.Error values; the caller decides whether they terminate the
// process.

package session
