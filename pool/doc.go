// Package pool
// Author: momentics <momentics@gmail.com>
//
// Containers shared by the reactor, the session and the wire codec.
// Arena gives index-addressed storage with generation-checked handles;
// SyncPool recycles short-lived buffers.
package pool
